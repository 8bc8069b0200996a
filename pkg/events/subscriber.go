// Package events pumps backend events to the components of a debug session
// and turns process stops into the events the IDE is sent.
package events

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// PollInterval is how long the pump waits for an event before checking
// whether it was stopped.
const PollInterval = time.Second

// Handlers receive the events of a ListenerSubscriber. They are called on
// the pump goroutine, nil handlers are skipped.
type Handlers struct {
	BreakpointChanged func(ev *backend.Event)
	StateChanged      func(ev *backend.Event)
	FileUpdate        func(u FileUpdate)
	// Exception is called when the pump died because of a panic.
	Exception func(err error)
}

// ListenerSubscriber runs a goroutine waiting for events of a backend
// listener and dispatches them to the subscribed handlers.
type ListenerSubscriber struct {
	listener backend.Listener
	interval time.Duration

	mu       sync.Mutex
	handlers map[int]Handlers
	nextID   int
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewListenerSubscriber returns a stopped subscriber for l.
func NewListenerSubscriber(l backend.Listener) *ListenerSubscriber {
	return &ListenerSubscriber{
		listener: l,
		interval: PollInterval,
		handlers: make(map[int]Handlers),
	}
}

// Subscribe adds h to the handlers and returns a function removing it.
// Handlers are called in subscription order.
func (s *ListenerSubscriber) Subscribe(h Handlers) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.handlers[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// IsRunning returns true between Start and Stop.
func (s *ListenerSubscriber) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start starts the pump, it does nothing if the pump is running.
func (s *ListenerSubscriber) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop asks the pump to exit without waiting for it. Handlers may still be
// called with an event received before the pump noticed.
func (s *ListenerSubscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.cancel()
}

// Done returns a channel closed when the pump started by the last Start
// exits, nil if it was never started.
func (s *ListenerSubscriber) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *ListenerSubscriber) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("failed to receive event from listener: %v", r)
			logflags.EventsLogger().Errorf("Internal error: %v", err)
			for _, h := range s.snapshot() {
				if h.Exception != nil {
					h.Exception(err)
				}
			}
		}
	}()
	for ctx.Err() == nil {
		ev, ok := s.listener.WaitForEvent(s.interval)
		if !ok {
			continue
		}
		if ev == nil {
			logflags.EventsLogger().Debug("Listener was shut down")
			return
		}
		s.dispatch(ev)
	}
	logflags.EventsLogger().Debug("Listener was stopped")
}

func (s *ListenerSubscriber) dispatch(ev *backend.Event) {
	handlers := s.snapshot()
	switch {
	case ev.IsBreakpointEvent():
		for _, h := range handlers {
			if h.BreakpointChanged != nil {
				h.BreakpointChanged(ev)
			}
		}
	case ev.Type&backend.EventStateChanged != 0:
		for _, h := range handlers {
			if h.StateChanged != nil {
				h.StateChanged(ev)
			}
		}
	case ev.Type&backend.EventStructuredData != 0:
		u, ok := ParseFileUpdate(ev.Description)
		if !ok {
			return
		}
		for _, h := range handlers {
			if h.FileUpdate != nil {
				h.FileUpdate(u)
			}
		}
	}
}

func (s *ListenerSubscriber) snapshot() []Handlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	r := make([]Handlers, len(ids))
	for i, id := range ids {
		r[i] = s.handlers[id]
	}
	return r
}
