package engine

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// Dispatcher runs functions one at a time, in the order they were posted,
// on a goroutine it owns. Breakpoints and the engine state belong to that
// goroutine: the event pump and the IDE both post to it instead of
// touching them directly.
type Dispatcher struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
	// exited is closed when the dispatcher goroutine returns.
	exited chan struct{}
}

// NewDispatcher starts a dispatcher.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		queue:  make(chan func(), 128),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go d.run()
	return d
}

// Post queues fn. It is dropped if the dispatcher is closed.
func (d *Dispatcher) Post(fn func()) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.queue <- fn:
	case <-d.done:
	}
}

// Call runs fn on the dispatcher and waits for it to return. It returns
// false if the dispatcher was closed before fn ran. Call must not be used
// from the dispatcher goroutine.
func (d *Dispatcher) Call(fn func()) bool {
	ran := make(chan struct{})
	d.Post(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
		return true
	case <-d.done:
		return false
	}
}

// Close stops the dispatcher after the function it is running returns.
// Queued functions are dropped.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
	<-d.exited
}

func (d *Dispatcher) run() {
	defer close(d.exited)
	for {
		select {
		case fn := <-d.queue:
			d.exec(fn)
		case <-d.done:
			return
		}
	}
}

func (d *Dispatcher) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logflags.EngineLogger().Errorf("%v", fmt.Errorf("panic in dispatched function: %v\n%s", r, debug.Stack()))
		}
	}()
	fn()
}
