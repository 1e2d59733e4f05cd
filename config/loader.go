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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"dirpx.dev/bindx/apis"
)

// EnvPrefix is the prefix of environment variables overriding file values.
const EnvPrefix = "BINDX_"

const maxConfigFileSize = 1024 * 1024

// Load reads a YAML configuration file, then applies BINDX_* environment
// overrides on top of DefaultConfig. A missing file is not an error.
//
//	binding_policy: dynamic-priority
//	aggregate: true
//	filter: (region=eu)
//	filter_cache_ttl: 5m
//
// BINDX_BINDING_POLICY=static overrides binding_policy, and so on.
func Load(path string) (apis.Config, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return apis.Config{}, fmt.Errorf("failed to stat config file: %w", err)
		case info.Size() > maxConfigFileSize:
			return apis.Config{}, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
		default:
			if content, err = os.ReadFile(path); err != nil {
				return apis.Config{}, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}
	return LoadBytes(content)
}

// LoadBytes is like Load for an in-memory YAML document.
func LoadBytes(content []byte) (apis.Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return apis.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// BINDX_FILTER_CACHE_TTL -> filter_cache_ttl
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return apis.Config{}, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if err := k.Unmarshal("", &cfg); err != nil {
		return apis.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.FilterCacheTTL <= 0 {
		cfg.FilterCacheTTL = DefaultFilterCacheTTL
	}
	return cfg, nil
}
