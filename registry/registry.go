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

// Package registry provides an in-memory service registry: services are
// published under one or more specifications with case-insensitive
// properties, and listeners are told about every change.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/filter"
)

var (
	// ErrNilService is returned when a nil service object is registered.
	ErrNilService = errors.New("bindx(registry): nil service provided")
	// ErrNoSpecification is returned when a service is registered without a specification.
	ErrNoSpecification = errors.New("bindx(registry): no specification provided")
	// ErrDuplicateKey is returned when two property keys differ only in case.
	ErrDuplicateKey = errors.New("bindx(registry): duplicate property key")
	// ErrUnregistered is returned when a withdrawn registration is used.
	ErrUnregistered = errors.New("bindx(registry): service is unregistered")
	// ErrNotMovable is returned by Move for registries not built by New.
	ErrNotMovable = errors.New("bindx(registry): registry cannot be moved")
	// ErrIdentityConflict is returned by Move when both registries hold the same identity.
	ErrIdentityConflict = errors.New("bindx(registry): identity already published")
)

// Option configures a registry.
type Option func(*registry)

// WithLogger sets the logger used to report listener failures.
func WithLogger(l *zap.Logger) Option {
	return func(r *registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFilterCache sets the cache used to compile lookup filters.
func WithFilterCache(c *filter.Cache) Option {
	return func(r *registry) {
		if c != nil {
			r.filters = c
		}
	}
}

// New constructs an empty Registry. Only FilterCacheTTL is read from cfg.
func New(cfg apis.Config, opts ...Option) apis.Registry {
	r := &registry{
		services:  make(map[int64]*registration),
		listeners: make(map[string]*subscription),
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.filters == nil {
		r.filters = filter.NewCache(cfg.FilterCacheTTL)
	}
	return r
}

// registry is a mutex-guarded map of registrations. Once moved, a registry
// holds nothing and forwards every call to the registry it was moved into.
type registry struct {
	mu        sync.RWMutex
	nextID    int64
	services  map[int64]*registration
	listeners map[string]*subscription
	movedTo   *registry

	log     *zap.Logger
	filters *filter.Cache
}

// Register publishes svc under specs.
func (r *registry) Register(specs []string, svc any, props map[string]any) (apis.Registration, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	clean := make([]string, 0, len(specs))
	for _, s := range specs {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoSpecification
	}

	r = r.lock()
	r.nextID++
	ref, err := newServiceRef(r.nextID, clean, props)
	if err != nil {
		r.nextID--
		r.mu.Unlock()
		return nil, err
	}
	reg := &registration{owner: r, svc: svc, ref: ref}
	r.services[ref.id] = reg
	subs := r.publishLocked(apis.ServiceEvent{Type: apis.Registered, Reference: ref})
	r.mu.Unlock()

	drain(subs)
	return reg, nil
}

// References returns the services published under spec matching expr, best
// ranked first, lowest identity first among equal ranks.
func (r *registry) References(spec, expr string) ([]apis.Reference, error) {
	f, err := r.filters.Compile(expr)
	if err != nil {
		return nil, err
	}
	r = r.rlock()
	out := make([]apis.Reference, 0, len(r.services))
	for _, reg := range r.services {
		if spec != "" && !reg.ref.publishes(spec) {
			continue
		}
		if f != nil && !f.Match(reg.ref) {
			continue
		}
		out = append(out, reg.ref)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ranking() != out[j].Ranking() {
			return out[i].Ranking() > out[j].Ranking()
		}
		return out[i].ID() < out[j].ID()
	})
	return out, nil
}

// Service returns the object published behind ref.
func (r *registry) Service(ref apis.Reference) (any, bool) {
	if ref == nil {
		return nil, false
	}
	r = r.rlock()
	defer r.mu.RUnlock()
	reg, ok := r.services[ref.ID()]
	if !ok {
		return nil, false
	}
	return reg.svc, true
}

// AddListener subscribes l to the events of spec.
func (r *registry) AddListener(spec string, l apis.Listener) func() {
	s := &subscription{id: uuid.NewString(), spec: spec, l: l, log: r.log}
	live := r.lock()
	live.listeners[s.id] = s
	live.mu.Unlock()
	return func() {
		live := r.lock()
		delete(live.listeners, s.id)
		live.mu.Unlock()
		s.close()
	}
}

// Entries returns every published reference ordered by identity.
func (r *registry) Entries() []apis.Reference {
	r = r.rlock()
	out := make([]apis.Reference, 0, len(r.services))
	for _, reg := range r.services {
		out = append(out, reg.ref)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of published services.
func (r *registry) Count() int {
	r = r.rlock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Reset withdraws every service without firing events. Identities are not reused.
func (r *registry) Reset() {
	r = r.lock()
	defer r.mu.Unlock()
	for _, reg := range r.services {
		reg.gone = true
	}
	r.services = make(map[int64]*registration)
}

// lock write-locks the registry currently holding r's services and
// returns it.
func (r *registry) lock() *registry {
	for {
		r.mu.Lock()
		next := r.movedTo
		if next == nil {
			return r
		}
		r.mu.Unlock()
		r = next
	}
}

// rlock is lock for readers.
func (r *registry) rlock() *registry {
	for {
		r.mu.RLock()
		next := r.movedTo
		if next == nil {
			return r
		}
		r.mu.RUnlock()
		r = next
	}
}

// moveMu serializes moves, so the forwarding chains only change under it.
var moveMu sync.Mutex

// Move transfers every registration and listener of src into dst, keeping
// identities, then makes src forward to dst. Registrations handed out by src
// keep working against dst and listeners keep receiving events without any
// event being fired by the move. Both registries must come from New.
func Move(dst, src apis.Registry) error {
	d, ok := dst.(*registry)
	if !ok {
		return ErrNotMovable
	}
	s, ok := src.(*registry)
	if !ok {
		return ErrNotMovable
	}
	moveMu.Lock()
	defer moveMu.Unlock()
	s, d = s.target(), d.target()
	if s == d {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range s.services {
		if _, dup := d.services[id]; dup {
			return fmt.Errorf("%w: %d", ErrIdentityConflict, id)
		}
	}
	for id, reg := range s.services {
		d.services[id] = reg
	}
	for id, sub := range s.listeners {
		d.listeners[id] = sub
	}
	if s.nextID > d.nextID {
		d.nextID = s.nextID
	}
	s.services = make(map[int64]*registration)
	s.listeners = make(map[string]*subscription)
	s.movedTo = d
	return nil
}

// target returns the registry r currently forwards to.
func (r *registry) target() *registry {
	live := r.rlock()
	live.mu.RUnlock()
	return live
}

// publishLocked queues ev on every interested subscription and returns them.
// Queuing under r.mu keeps per-listener delivery in publication order.
func (r *registry) publishLocked(ev apis.ServiceEvent) []*subscription {
	var subs []*subscription
	for _, s := range r.listeners {
		if s.spec != "" && !ev.Reference.(*serviceRef).publishes(s.spec) {
			continue
		}
		s.enqueue(ev)
		subs = append(subs, s)
	}
	return subs
}

// registration is the publisher handle of one service. Its fields are
// guarded by the mutex of the registry currently holding it.
type registration struct {
	owner *registry
	svc   any
	ref   *serviceRef
	gone  bool
}

func (g *registration) Reference() apis.Reference {
	r := g.owner.rlock()
	defer r.mu.RUnlock()
	return g.ref
}

func (g *registration) SetProperties(props map[string]any) error {
	r := g.owner.lock()
	if g.gone {
		r.mu.Unlock()
		return ErrUnregistered
	}
	ref, err := newServiceRef(g.ref.id, g.ref.specs, props)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	g.ref = ref
	subs := r.publishLocked(apis.ServiceEvent{Type: apis.Modified, Reference: ref})
	r.mu.Unlock()

	drain(subs)
	return nil
}

func (g *registration) Unregister() error {
	r := g.owner.lock()
	if g.gone {
		r.mu.Unlock()
		return ErrUnregistered
	}
	g.gone = true
	delete(r.services, g.ref.id)
	subs := r.publishLocked(apis.ServiceEvent{Type: apis.Unregistering, Reference: g.ref})
	r.mu.Unlock()

	drain(subs)
	return nil
}

func (g *registration) String() string {
	return fmt.Sprintf("registration(id=%d)", g.ref.id)
}
