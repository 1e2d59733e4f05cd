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

package manager

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
	"dirpx.dev/bindx/interceptor"
	"dirpx.dev/bindx/metrics"
	"dirpx.dev/bindx/tracker"
)

// ErrInterceptorLookup is logged when a published interceptor cannot be
// retrieved or has the wrong type.
var ErrInterceptorLookup = errors.New("bindx(manager): interceptor lookup failed")

// discovery attaches interceptors of one kind published in the registry
// and targeting the dependency.
type discovery struct {
	m      *Manager
	t      *tracker.Tracker
	kind   string
	attach func(ref apis.Reference, svc any) error
	detach func(ref apis.Reference)

	mu       sync.Mutex
	attached map[int64]bool
}

var _ apis.Customizer = (*discovery)(nil)

func (d *discovery) AddingService(ref apis.Reference) bool {
	return interceptor.Targets(ref, d.m.dep)
}

func (d *discovery) AddedService(ref apis.Reference) {
	svc, ok := d.t.Service(ref)
	if !ok || svc == nil {
		d.failed(ref, ErrInterceptorLookup)
		return
	}
	if err := d.attach(ref, svc); err != nil {
		d.t.UngetService(ref)
		d.failed(ref, err)
		return
	}
	d.mark(ref.ID(), true)
	d.m.log.Debug("interceptor attached", zap.String("kind", d.kind), zap.Int64("service", ref.ID()))
}

// ModifiedService attaches or detaches the interceptor when its target
// starts or stops matching the dependency.
func (d *discovery) ModifiedService(ref apis.Reference, _ any) {
	targets := interceptor.Targets(ref, d.m.dep)
	switch attached := d.isAttached(ref.ID()); {
	case targets && !attached:
		d.AddedService(ref)
	case !targets && attached:
		d.RemovedService(ref, nil)
	}
}

func (d *discovery) RemovedService(ref apis.Reference, _ any) {
	if !d.isAttached(ref.ID()) {
		return
	}
	d.mark(ref.ID(), false)
	d.detach(ref)
	d.m.log.Debug("interceptor detached", zap.String("kind", d.kind), zap.Int64("service", ref.ID()))
}

func (d *discovery) failed(ref apis.Reference, err error) {
	name, _ := ref.Property(apis.InstanceNameProperty)
	d.m.log.Error("cannot retrieve interceptor",
		zap.String("kind", d.kind),
		zap.Int64("service", ref.ID()),
		zap.Any("instance", name),
		zap.Error(err))
	d.m.rec.InterceptorFailed(d.m.dep.ID(), metrics.FailureLookup)
}

func (d *discovery) mark(id int64, on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached == nil {
		d.attached = make(map[int64]bool)
	}
	if on {
		d.attached[id] = true
	} else {
		delete(d.attached, id)
	}
}

func (d *discovery) isAttached(id int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached[id]
}
