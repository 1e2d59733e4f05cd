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

package bindx

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/builder"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/dependency"
)

func init() {
	s := &state{cfg: config.DefaultConfig(), log: zap.NewNop()}
	s.bld = builder.New()
	s.reg = s.bld.BuildRegistry(s.cfg, nil)
	st.Store(s)
}

// ErrNilRegistry is returned when a builder returns a nil registry.
var ErrNilRegistry = errors.New("bindx: builder returned nil registry")

// Register publishes svc in the global registry.
func Register(specs []string, svc any, props map[string]any) (apis.Registration, error) {
	return st.Load().reg.Register(specs, svc, props)
}

// NewDependency creates a stopped dependency on spec bound to the global
// registry. The global configuration and logger apply first, so opts can
// override them. The configured filter expression is compiled by the
// global builder.
func NewDependency(spec string, opts ...dependency.Option) (*dependency.Dependency, error) {
	s := st.Load()
	f, err := s.bld.BuildFilter(s.cfg, s.cfg.Filter)
	if err != nil {
		return nil, err
	}
	base := []dependency.Option{
		dependency.WithConfig(s.cfg),
		dependency.WithFilter(f),
		dependency.WithLogger(s.log),
	}
	return dependency.New(s.reg, spec, append(base, opts...)...)
}

// SetAll replaces every global component at once. Nil arguments leave the
// corresponding component unchanged; a nil reg with a non-nil cfg or bld
// rebuilds the registry. A registry passed explicitly is pinned.
func SetAll(cfg *apis.Config, reg apis.Registry, bld apis.Builder, log *zap.Logger) {
	buildMu.Lock()
	defer buildMu.Unlock()

	old := st.Load()
	next := *old
	if cfg != nil {
		next.cfg = *cfg
	}
	if bld != nil {
		next.bld = bld
	}
	if log != nil {
		next.log = log
	}
	switch {
	case reg != nil:
		next.reg, next.preg = reg, true
	case cfg != nil || bld != nil:
		next.reg, next.preg = next.bld.BuildRegistry(next.cfg, old.reg), false
	}
	if next.reg == nil {
		panic(ErrNilRegistry)
	}
	st.Store(&next)
}

// Config returns the global configuration.
func Config() apis.Config {
	return st.Load().cfg
}

// SetConfig replaces the global configuration. Unless pinned, the registry
// is rebuilt and the published services migrate to it.
func SetConfig(cfg apis.Config) {
	update(func(s *state) {
		s.cfg = cfg
		if !s.preg {
			s.reg = s.bld.BuildRegistry(cfg, s.reg)
		}
	})
}

// Registry returns the global registry.
func Registry() apis.Registry {
	return st.Load().reg
}

// SetRegistry replaces and pins the global registry.
func SetRegistry(reg apis.Registry) {
	if reg == nil {
		return
	}
	update(func(s *state) { s.reg, s.preg = reg, true })
}

// Builder returns the global builder.
func Builder() apis.Builder {
	return st.Load().bld
}

// SetBuilder replaces the global builder and, unless pinned, rebuilds the
// registry with it.
func SetBuilder(b apis.Builder) {
	if b == nil {
		return
	}
	update(func(s *state) {
		s.bld = b
		if !s.preg {
			s.reg = b.BuildRegistry(s.cfg, s.reg)
		}
	})
}

// Logger returns the global logger.
func Logger() *zap.Logger {
	return st.Load().log
}

// SetLogger replaces the global logger used by new dependencies.
func SetLogger(l *zap.Logger) {
	if l == nil {
		return
	}
	update(func(s *state) { s.log = l })
}

// IsRegistryPinned reports whether the registry is kept across rebuilds.
func IsRegistryPinned() bool {
	return st.Load().preg
}

// PinRegistry keeps the current registry across rebuilds.
func PinRegistry() {
	update(func(s *state) { s.preg = true })
}

// UnpinRegistry lets SetConfig and SetBuilder rebuild the registry again.
func UnpinRegistry() {
	update(func(s *state) { s.preg = false })
}

// update copies the current snapshot, applies fn and publishes the result.
func update(fn func(s *state)) {
	buildMu.Lock()
	defer buildMu.Unlock()

	next := *st.Load()
	fn(&next)
	if next.reg == nil {
		panic(ErrNilRegistry)
	}
	st.Store(&next)
}

// buildMu serializes writers so a partially built snapshot is never
// published.
var buildMu sync.Mutex

// st is the global state.
var st atomic.Pointer[state]

// state is an immutable snapshot; writers publish a modified copy.
type state struct {
	cfg apis.Config
	reg apis.Registry
	bld apis.Builder
	log *zap.Logger
	// preg indicates whether the registry is pinned.
	preg bool
}
