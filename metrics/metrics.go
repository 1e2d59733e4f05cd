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

// Package metrics records reference manager activity.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recomputation kinds.
const (
	KindArrival   = "arrival"
	KindDeparture = "departure"
	KindModified  = "modified"
	KindFull      = "full"
	KindRanking   = "ranking"
)

// Interceptor failure kinds.
const (
	FailureTracking = "tracking"
	FailureRanking  = "ranking"
	FailureBinding  = "binding"
	FailureLookup   = "lookup"
)

// Recorder receives manager events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// Recomputed counts one selection recomputation.
	Recomputed(dep, kind string, took time.Duration)
	// Rejected counts a candidate rejected by an interceptor.
	Rejected(dep, interceptor string)
	// InterceptorFailed counts a contained interceptor failure.
	InterceptorFailed(dep, kind string)
	// Selected reports the size of the current selection.
	Selected(dep string, n int)
}

// Nop discards everything.
var Nop Recorder = nop{}

type nop struct{}

func (nop) Recomputed(string, string, time.Duration) {}
func (nop) Rejected(string, string)                  {}
func (nop) InterceptorFailed(string, string)         {}
func (nop) Selected(string, int)                     {}

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	recomputations *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	rejections     *prometheus.CounterVec
	failures       *prometheus.CounterVec
	selected       *prometheus.GaugeVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates the collectors under namespace ("bindx" when empty)
// and registers them on reg. Collectors already registered by another
// Prometheus recorder are reused.
func NewPrometheus(reg prometheus.Registerer, namespace string) (*Prometheus, error) {
	if namespace == "" {
		namespace = "bindx"
	}
	p := &Prometheus{
		recomputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recomputations_total",
			Help:      "Number of selection recomputations by kind.",
		}, []string{"dependency", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recomputation_duration_seconds",
			Help:      "Time spent recomputing a selection under the dependency lock.",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}, []string{"dependency", "kind"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Number of candidates rejected by tracking interceptors.",
		}, []string{"dependency", "interceptor"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interceptor_failures_total",
			Help:      "Number of contained interceptor failures by kind.",
		}, []string{"dependency", "kind"}),
		selected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selected_services",
			Help:      "Size of the current selection.",
		}, []string{"dependency"}),
	}
	if reg == nil {
		return p, nil
	}
	var err error
	p.recomputations, err = register(reg, p.recomputations)
	if err != nil {
		return nil, err
	}
	if p.duration, err = register(reg, p.duration); err != nil {
		return nil, err
	}
	if p.rejections, err = register(reg, p.rejections); err != nil {
		return nil, err
	}
	if p.failures, err = register(reg, p.failures); err != nil {
		return nil, err
	}
	if p.selected, err = register(reg, p.selected); err != nil {
		return nil, err
	}
	return p, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Recomputed implements Recorder.
func (p *Prometheus) Recomputed(dep, kind string, took time.Duration) {
	p.recomputations.WithLabelValues(dep, kind).Inc()
	p.duration.WithLabelValues(dep, kind).Observe(took.Seconds())
}

// Rejected implements Recorder.
func (p *Prometheus) Rejected(dep, interceptor string) {
	p.rejections.WithLabelValues(dep, interceptor).Inc()
}

// InterceptorFailed implements Recorder.
func (p *Prometheus) InterceptorFailed(dep, kind string) {
	p.failures.WithLabelValues(dep, kind).Inc()
}

// Selected implements Recorder.
func (p *Prometheus) Selected(dep string, n int) {
	p.selected.WithLabelValues(dep).Set(float64(n))
}
