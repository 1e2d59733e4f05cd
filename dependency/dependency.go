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

// Package dependency implements a service dependency: it owns the lock and
// the service tracker, delegates selection to a manager.Manager and turns
// its change sets into bindings according to the binding policy.
package dependency

import (
	"errors"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/config"
	"dirpx.dev/bindx/manager"
	"dirpx.dev/bindx/metrics"
	"dirpx.dev/bindx/tracker"
)

var (
	// ErrStarted is returned by operations that are only allowed before Start.
	ErrStarted = errors.New("bindx(dependency): dependency already started")
	// ErrNoSpecification is returned when a dependency has no specification.
	ErrNoSpecification = errors.New("bindx(dependency): missing specification")
	// ErrNoRegistry is returned when a dependency has no registry.
	ErrNoRegistry = errors.New("bindx(dependency): missing registry")
)

// Handler receives binding callbacks. They run with the lock released.
type Handler interface {
	// OnServiceArrival is called when ref becomes bound.
	OnServiceArrival(ref apis.Reference)
	// OnServiceDeparture is called when ref is no longer bound.
	OnServiceDeparture(ref apis.Reference)
	// OnServiceModification is called when a bound service changed.
	OnServiceModification(ref apis.Reference)
	// OnReconfiguration is called after the filter changed.
	OnReconfiguration(departures, arrivals []apis.Reference)
}

// HandlerFuncs adapts functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Arrival         func(ref apis.Reference)
	Departure       func(ref apis.Reference)
	Modification    func(ref apis.Reference)
	Reconfiguration func(departures, arrivals []apis.Reference)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnServiceArrival(ref apis.Reference) {
	if h.Arrival != nil {
		h.Arrival(ref)
	}
}

func (h HandlerFuncs) OnServiceDeparture(ref apis.Reference) {
	if h.Departure != nil {
		h.Departure(ref)
	}
}

func (h HandlerFuncs) OnServiceModification(ref apis.Reference) {
	if h.Modification != nil {
		h.Modification(ref)
	}
}

func (h HandlerFuncs) OnReconfiguration(departures, arrivals []apis.Reference) {
	if h.Reconfiguration != nil {
		h.Reconfiguration(departures, arrivals)
	}
}

// StateListener is told about every resolution state transition.
type StateListener func(d *Dependency, from, to apis.State)

// EventListener receives the arrivals, departures and modifications of the
// matching set, whether or not the service is bound.
type EventListener func(ev apis.EventType, ref apis.Reference, svc any)

// Option configures a Dependency.
type Option func(*Dependency)

// WithConfig applies the policy, cardinality and optionality of cfg. The
// filter expression is not compiled here; use WithFilter.
func WithConfig(cfg apis.Config) Option {
	return func(d *Dependency) {
		d.cfg = cfg
	}
}

// WithID sets the dependency id. Defaults to the specification.
func WithID(id string) Option {
	return func(d *Dependency) { d.id = id }
}

// WithInstanceName sets the owning instance name. Defaults to a random UUID.
func WithInstanceName(name string) Option {
	return func(d *Dependency) { d.instance = name }
}

// WithProperties adds properties matched by interceptor targets.
func WithProperties(props map[string]any) Option {
	return func(d *Dependency) {
		maps.Copy(d.extra, props)
	}
}

// WithFilter sets the dependency filter.
func WithFilter(f apis.Filter) Option {
	return func(d *Dependency) { d.filter = f }
}

// WithComparator sets the ranking comparator.
func WithComparator(cmp apis.Comparator) Option {
	return func(d *Dependency) { d.cmp = cmp }
}

// WithMatch sets an acceptance predicate consulted after the filter.
func WithMatch(fn func(apis.Reference) bool) Option {
	return func(d *Dependency) { d.match = fn }
}

// WithHandler sets the binding callbacks.
func WithHandler(h Handler) Option {
	return func(d *Dependency) {
		if h != nil {
			d.handler = h
		}
	}
}

// WithStateListener adds a state listener.
func WithStateListener(l StateListener) Option {
	return func(d *Dependency) {
		if l != nil {
			d.states = append(d.states, l)
		}
	}
}

// WithEventListener adds an event listener.
func WithEventListener(l EventListener) Option {
	return func(d *Dependency) {
		if l != nil {
			d.events = append(d.events, l)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dependency) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the metrics recorder handed to the manager.
func WithMetrics(r metrics.Recorder) Option {
	return func(d *Dependency) { d.rec = r }
}

// WithTracer sets the tracer handed to the manager.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dependency) { d.tracer = t }
}

type usedService struct {
	ref apis.Reference
	svc any
}

// Dependency is the need of one component instance for services published
// under a specification.
type Dependency struct {
	reg      apis.Registry
	spec     string
	id       string
	instance string
	cfg      apis.Config
	filter   apis.Filter
	cmp      apis.Comparator
	match    func(apis.Reference) bool
	extra    map[string]any
	handler  Handler
	states   []StateListener
	events   []EventListener
	log      *zap.Logger
	rec      metrics.Recorder
	tracer   trace.Tracer
	m        *manager.Manager

	// Read by the manager while it holds mu, so none of these lock.
	mu        sync.RWMutex
	props     atomic.Pointer[map[string]any]
	trk       atomic.Pointer[tracker.Tracker]
	policy    atomic.Int32
	aggregate atomic.Bool
	optional  atomic.Bool
	state     atomic.Int32
	frozen    atomic.Bool
	started   atomic.Bool

	// Guarded by mu.
	bound []apis.Reference
	used  map[int64]usedService
}

var _ apis.Dependency = (*Dependency)(nil)

// New creates a stopped dependency on spec.
func New(reg apis.Registry, spec string, opts ...Option) (*Dependency, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, ErrNoSpecification
	}
	if reg == nil {
		return nil, ErrNoRegistry
	}
	d := &Dependency{
		reg:     reg,
		spec:    spec,
		cfg:     config.DefaultConfig(),
		extra:   make(map[string]any),
		handler: HandlerFuncs{},
		log:     zap.NewNop(),
		used:    make(map[int64]usedService),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.id == "" {
		d.id = spec
	}
	if d.instance == "" {
		d.instance = uuid.NewString()
	}
	d.log = d.log.With(zap.String("dependency", d.id), zap.String("instance", d.instance))
	d.policy.Store(int32(d.cfg.BindingPolicy))
	d.aggregate.Store(d.cfg.Aggregate)
	d.optional.Store(d.cfg.Optional)
	d.publishProperties(d.filter)

	mopts := []manager.Option{
		manager.WithLogger(d.log),
		manager.WithInterceptorTracking(d.cfg.TrackInterceptors),
	}
	if d.rec != nil {
		mopts = append(mopts, manager.WithMetrics(d.rec))
	}
	if d.tracer != nil {
		mopts = append(mopts, manager.WithTracer(d.tracer))
	}
	d.m = manager.New(d, d.filter, d.cmp, mopts...)
	return d, nil
}

func (d *Dependency) publishProperties(f apis.Filter) {
	props := maps.Clone(d.extra)
	props[apis.DependencyIDProperty] = d.id
	props[apis.DependencySpecificationProperty] = d.spec
	props[apis.InstanceNameProperty] = d.instance
	if f != nil {
		props[apis.DependencyFilterProperty] = f.String()
	}
	d.props.Store(&props)
}

func (d *Dependency) write(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

func (d *Dependency) read(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

// ID implements apis.DependencyContext.
func (d *Dependency) ID() string { return d.id }

// InstanceName returns the owning instance name.
func (d *Dependency) InstanceName() string { return d.instance }

// Specification implements apis.DependencyContext.
func (d *Dependency) Specification() string { return d.spec }

// Aggregate implements apis.DependencyContext.
func (d *Dependency) Aggregate() bool { return d.aggregate.Load() }

// Optional implements apis.DependencyContext.
func (d *Dependency) Optional() bool { return d.optional.Load() }

// Properties implements apis.DependencyContext.
func (d *Dependency) Properties() map[string]any { return maps.Clone(*d.props.Load()) }

// BindingPolicy returns the binding policy.
func (d *Dependency) BindingPolicy() apis.BindingPolicy { return apis.BindingPolicy(d.policy.Load()) }

// SetBindingPolicy changes the binding policy of a stopped dependency.
func (d *Dependency) SetBindingPolicy(p apis.BindingPolicy) error {
	if d.started.Load() {
		return ErrStarted
	}
	d.policy.Store(int32(p))
	return nil
}

// Locker implements apis.Dependency.
func (d *Dependency) Locker() apis.RWLocker { return &d.mu }

// Match implements apis.Dependency.
func (d *Dependency) Match(ref apis.Reference) bool {
	return d.match == nil || d.match(ref)
}

// Registry implements apis.Dependency.
func (d *Dependency) Registry() apis.Registry { return d.reg }

// Tracker implements apis.Dependency. It is nil while stopped.
func (d *Dependency) Tracker() apis.Tracker {
	if t := d.trk.Load(); t != nil {
		return t
	}
	return nil
}

// State implements apis.Dependency.
func (d *Dependency) State() apis.State { return apis.State(d.state.Load()) }

// IsFrozen implements apis.Dependency.
func (d *Dependency) IsFrozen() bool { return d.frozen.Load() }

// Freeze pins the current binding of a static dependency. It has no effect
// with other policies.
func (d *Dependency) Freeze() {
	if d.BindingPolicy() == apis.Static {
		d.frozen.Store(true)
	}
}

// Manager returns the reference manager.
func (d *Dependency) Manager() *manager.Manager { return d.m }

// Start opens the manager and the tracker, then computes the state.
func (d *Dependency) Start() error {
	if !d.started.CompareAndSwap(false, true) {
		return nil
	}
	d.state.Store(int32(apis.Unresolved))
	d.frozen.Store(false)
	t := tracker.New(d.reg, d.spec, d.m, tracker.WithLogger(d.log))
	d.trk.Store(t)
	if err := d.m.Open(); err != nil {
		d.trk.Store(nil)
		d.started.Store(false)
		return err
	}
	if err := t.Open(); err != nil {
		d.trk.Store(nil)
		d.m.Reset()
		d.started.Store(false)
		return err
	}
	d.log.Debug("dependency started")
	d.computeState()
	return nil
}

// Stop closes the tracker, resets the manager, releases every service
// object and leaves the dependency unresolved. State listeners are not
// called.
func (d *Dependency) Stop() {
	if !d.started.CompareAndSwap(true, false) {
		return
	}
	if t := d.trk.Swap(nil); t != nil {
		t.Close()
	}
	var used map[int64]usedService
	d.write(func() {
		d.bound = nil
		used = d.used
		d.used = make(map[int64]usedService)
	})
	for _, u := range used {
		d.m.UnweaveBinding(u.ref)
	}
	d.m.Reset()
	d.state.Store(int32(apis.Unresolved))
	d.frozen.Store(false)
	d.log.Debug("dependency stopped")
}

// IsStarted reports whether the dependency is started.
func (d *Dependency) IsStarted() bool { return d.started.Load() }

// NotifyListeners implements apis.Dependency.
func (d *Dependency) NotifyListeners(ev apis.EventType, ref apis.Reference, svc any) {
	for _, l := range d.events {
		l(ev, ref, svc)
	}
}

// computeState moves between resolved and unresolved. A broken dependency
// stays broken until restarted.
func (d *Dependency) computeState() {
	if !d.started.Load() {
		return
	}
	ok := d.optional.Load() || !d.m.IsEmpty()
	switch {
	case ok && d.state.CompareAndSwap(int32(apis.Unresolved), int32(apis.Resolved)):
		d.transition(apis.Unresolved, apis.Resolved)
	case !ok && d.state.CompareAndSwap(int32(apis.Resolved), int32(apis.Unresolved)):
		d.transition(apis.Resolved, apis.Unresolved)
	}
}

func (d *Dependency) transition(from, to apis.State) {
	d.log.Info("dependency state changed", zap.Stringer("from", from), zap.Stringer("to", to))
	for _, l := range d.states {
		l(d, from, to)
	}
}
