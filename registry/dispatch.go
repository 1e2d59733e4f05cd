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

package registry

import (
	"sync"

	"go.uber.org/zap"

	"dirpx.dev/bindx/apis"
)

// subscription owns the event queue of one listener. At most one goroutine
// drains a queue at a time, so a listener never runs concurrently with
// itself and a listener that publishes from its callback does not deadlock:
// the nested event is queued and delivered once the callback returns.
type subscription struct {
	id   string
	spec string
	l    apis.Listener
	log  *zap.Logger

	mu       sync.Mutex
	queue    []apis.ServiceEvent
	draining bool
	closed   bool
}

func (s *subscription) enqueue(ev apis.ServiceEvent) {
	s.mu.Lock()
	if !s.closed {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}

func (s *subscription) drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 && !s.closed {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.deliver(ev)
		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (s *subscription) deliver(ev apis.ServiceEvent) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("registry listener panicked",
				zap.String("listener", s.id),
				zap.Stringer("event", ev.Type),
				zap.Int64("service.id", ev.Reference.ID()),
				zap.Any("panic", p))
		}
	}()
	s.l.ServiceChanged(ev)
}

func drain(subs []*subscription) {
	for _, s := range subs {
		s.drain()
	}
}
