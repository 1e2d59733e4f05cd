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

// Package builder provides the default apis.Builder.
package builder

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/filter"
	"dirpx.dev/bindx/registry"
)

// Option configures the default builder.
type Option func(*builder)

// WithLogger sets the logger handed to the registries it builds.
func WithLogger(l *zap.Logger) Option {
	return func(b *builder) {
		if l != nil {
			b.log = l
		}
	}
}

// New creates and returns a new instance of an apis.Builder.
// Filters are compiled through a cache shared with the registries it builds.
func New(opts ...Option) apis.Builder {
	b := &builder{log: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type builder struct {
	log *zap.Logger

	mu    sync.Mutex
	cache *filter.Cache
}

// filters returns the filter cache, recreated when the configured TTL
// differs from the current one.
func (b *builder) filters(cfg apis.Config) *filter.Cache {
	ttl := cfg.FilterCacheTTL
	if ttl <= 0 {
		ttl = filter.DefaultCacheTTL
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cache == nil || b.cache.TTL() != ttl {
		b.cache = filter.NewCache(ttl)
	}
	return b.cache
}

// BuildRegistry builds a registry for cfg. When prev is not nil, its
// services and listeners are moved into the new registry with their
// identities, and prev forwards to it from then on. A prev not built by
// registry.New cannot be moved: its services are published again instead and
// its listeners stay behind.
func (b *builder) BuildRegistry(cfg apis.Config, prev apis.Registry) apis.Registry {
	nreg := registry.New(cfg, registry.WithLogger(b.log), registry.WithFilterCache(b.filters(cfg)))
	if prev == nil {
		return nreg
	}
	err := registry.Move(nreg, prev)
	if err == nil {
		return nreg
	}
	if !errors.Is(err, registry.ErrNotMovable) {
		b.log.Warn("cannot move registry, publishing services again", zap.Error(err))
	}
	b.republish(nreg, prev)
	return nreg
}

func (b *builder) republish(nreg, prev apis.Registry) {
	for _, ref := range prev.Entries() {
		svc, ok := prev.Service(ref)
		if !ok {
			continue
		}
		props := make(map[string]any, len(ref.PropertyKeys()))
		for _, k := range ref.PropertyKeys() {
			if v, ok := ref.Property(k); ok {
				props[k] = v
			}
		}
		if _, err := nreg.Register(ref.Specifications(), svc, props); err != nil {
			b.log.Warn("cannot migrate service", zap.Int64("service.id", ref.ID()), zap.Error(err))
		}
	}
}

// BuildFilter compiles expr. An empty expression yields a nil filter.
func (b *builder) BuildFilter(cfg apis.Config, expr string) (apis.Filter, error) {
	return b.filters(cfg).Compile(expr)
}
