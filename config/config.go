/*
   Copyright 2025 The DIRPX Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package config

import (
	"time"

	"dirpx.dev/bindx/apis"
)

const (
	// DefaultBindingPolicy represents the default for BindingPolicy.
	DefaultBindingPolicy = apis.Dynamic
	// DefaultAggregate represents the default for Aggregate.
	DefaultAggregate = false
	// DefaultOptional represents the default for Optional.
	DefaultOptional = false
	// DefaultTrackInterceptors represents the default for TrackInterceptors.
	// When true, interceptors published in the registry are picked up.
	DefaultTrackInterceptors = true
	// DefaultFilterCacheTTL represents the default for FilterCacheTTL.
	DefaultFilterCacheTTL = 10 * time.Minute
)

// NewConfig constructs an apis.Config from the given options.
func NewConfig(opts ...Option) apis.Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	// Ensure FilterCacheTTL is valid.
	if cfg.FilterCacheTTL <= 0 {
		cfg.FilterCacheTTL = DefaultFilterCacheTTL
	}
	return cfg
}

// DefaultConfig is the default configuration used when none is provided.
func DefaultConfig() apis.Config {
	return apis.Config{
		BindingPolicy:     DefaultBindingPolicy,
		Aggregate:         DefaultAggregate,
		Optional:          DefaultOptional,
		TrackInterceptors: DefaultTrackInterceptors,
		FilterCacheTTL:    DefaultFilterCacheTTL,
	}
}

// Option is a functional option that mutates an apis.Config during construction.
type Option func(*apis.Config)

// WithBindingPolicy sets the BindingPolicy option.
func WithBindingPolicy(p apis.BindingPolicy) Option {
	return func(c *apis.Config) {
		c.BindingPolicy = p
	}
}

// WithAggregate sets the Aggregate option.
func WithAggregate(aggregate bool) Option {
	return func(c *apis.Config) {
		c.Aggregate = aggregate
	}
}

// WithOptional sets the Optional option.
func WithOptional(optional bool) Option {
	return func(c *apis.Config) {
		c.Optional = optional
	}
}

// WithFilter sets the Filter option.
func WithFilter(expr string) Option {
	return func(c *apis.Config) {
		c.Filter = expr
	}
}

// WithTrackInterceptors sets the TrackInterceptors option.
func WithTrackInterceptors(track bool) Option {
	return func(c *apis.Config) {
		c.TrackInterceptors = track
	}
}

// WithFilterCacheTTL sets the FilterCacheTTL option.
// A non-positive value resets to the default.
func WithFilterCacheTTL(ttl time.Duration) Option {
	return func(c *apis.Config) {
		if ttl <= 0 {
			c.FilterCacheTTL = DefaultFilterCacheTTL
			return
		}
		c.FilterCacheTTL = ttl
	}
}
