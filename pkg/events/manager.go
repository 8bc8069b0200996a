package events

import (
	"fmt"
	"strings"
	"sync"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/breakpoint"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// ExitReason is why a debug session ended.
type ExitReason int

const (
	ExitProcessExited ExitReason = iota
	ExitDebuggerTerminated
	ExitProcessDetached
	ExitDebuggerDetached
	ExitError
)

var exitReasonNames = [...]string{
	ExitProcessExited:      "ProcessExited",
	ExitDebuggerTerminated: "DebuggerTerminated",
	ExitProcessDetached:    "ProcessDetached",
	ExitDebuggerDetached:   "DebuggerDetached",
	ExitError:              "Error",
}

func (r ExitReason) String() string {
	if r < 0 || int(r) >= len(exitReasonNames) {
		return fmt.Sprintf("ExitReason(%d)", int(r))
	}
	return exitReasonNames[r]
}

// ExitInfo describes the end of a debug session, Err is set for ExitError.
type ExitInfo struct {
	Reason ExitReason
	Err    error
}

// StopKind is the kind of event sent to the IDE when the process stops.
type StopKind int

const (
	// StopBreak is a plain break, for stops nothing more specific is known
	// about.
	StopBreak StopKind = iota
	StopBreakpoint
	StopException
	StopStepComplete
)

// Signal is a signal the process stopped with.
type Signal struct {
	Name        string
	Number      uint64
	Description string
}

// StopEvent is sent to the IDE when the process stopped.
type StopEvent struct {
	Kind   StopKind
	Thread backend.Thread
	// Breakpoints and Watchpoints are the breakpoints hit, for
	// StopBreakpoint.
	Breakpoints []*breakpoint.BoundBreakpoint
	Watchpoints []*breakpoint.Watchpoint
	// Signal is set for StopException.
	Signal Signal
}

// Program tells whether the end of the session was requested by the
// debugger.
type Program interface {
	TerminationRequested() bool
	DetachRequested() bool
}

// Handler receives the events of a Manager.
type Handler interface {
	Stopped(ev StopEvent)
	Abort(info ExitInfo)
}

// Config holds the collaborators of a Manager.
type Config struct {
	Handler     Handler
	Breakpoints *breakpoint.Manager
	Program     Program
	Process     backend.Process
	Subscriber  *ListenerSubscriber
	// Post runs fn on the goroutine that owns the breakpoints. Stops are
	// resolved there so they can't race with breakpoint changes. If nil fn
	// runs on the pump goroutine.
	Post func(fn func())
}

// Manager turns the state changes of the process into IDE events.
type Manager struct {
	conf Config

	mu          sync.Mutex
	unsubscribe func()

	// shouldBreakOnExec is false until the first exec: the launcher shell
	// always execs the real binary and that stop is skipped. Only accessed
	// from Post.
	shouldBreakOnExec bool
}

// NewManager returns a manager for conf. It does not listen to events
// until StartListener is called.
func NewManager(conf Config) *Manager {
	if conf.Post == nil {
		conf.Post = func(fn func()) { fn() }
	}
	return &Manager{conf: conf}
}

// IsRunning reports whether the listener pump is running.
func (m *Manager) IsRunning() bool { return m.conf.Subscriber.IsRunning() }

// StartListener subscribes to the listener and starts it.
func (m *Manager) StartListener() {
	m.SubscribeToChanges()
	m.conf.Subscriber.Start()
}

// StopListener stops the listener and unsubscribes from it.
func (m *Manager) StopListener() {
	m.conf.Subscriber.Stop()
	m.UnsubscribeFromChanges()
}

// SubscribeToChanges subscribes to state changes and listener failures.
// Subscribing twice has no effect.
func (m *Manager) SubscribeToChanges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		return
	}
	m.unsubscribe = m.conf.Subscriber.Subscribe(Handlers{
		StateChanged: m.onStateChanged,
		Exception:    m.onException,
	})
}

func (m *Manager) UnsubscribeFromChanges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
}

func (m *Manager) onException(err error) {
	logflags.EventsLogger().Errorf("Exception in listener: %v", err)
	m.conf.Handler.Abort(ExitInfo{Reason: ExitError, Err: err})
}

func (m *Manager) onStateChanged(ev *backend.Event) {
	if ev == nil {
		return
	}
	logflags.EventsLogger().Debugf("Received event: %v", ev.State)
	switch ev.State {
	case backend.StateStopped:
		if ev.Restarted {
			return
		}
		thread, reason := m.selectThread()
		if thread == nil {
			logflags.EventsLogger().Error("Cannot handle event. No thread found.")
			return
		}
		logflags.EventsLogger().Info(stopMessage(thread, reason))
		m.conf.Post(func() { m.handleStop(thread, reason) })

	case backend.StateExited:
		reason := ExitProcessExited
		if m.conf.Program.TerminationRequested() {
			reason = ExitDebuggerTerminated
		}
		m.conf.Handler.Abort(ExitInfo{Reason: reason})

	case backend.StateDetached:
		reason := ExitProcessDetached
		if m.conf.Program.DetachRequested() {
			reason = ExitDebuggerDetached
		}
		m.conf.Handler.Abort(ExitInfo{Reason: reason})
	}
}

// selectThread returns the thread the stop should be reported on. If the
// selected thread has no stop reason the most relevant thread is selected
// instead: a thread that completed a plan, then the first thread that
// stopped for another reason, then the first thread.
func (m *Manager) selectThread() (backend.Thread, backend.StopReason) {
	p := m.conf.Process
	current := p.SelectedThread()
	if current != nil {
		if r := current.StopReason(); r != backend.StopReasonInvalid && r != backend.StopReasonNone {
			return current, r
		}
	}

	var planThread, otherThread backend.Thread
	for i := 0; i < p.NumThreads(); i++ {
		t := p.ThreadAtIndex(i)
		if t == nil {
			continue
		}
		switch t.StopReason() {
		case backend.StopReasonSignal:
			if otherThread == nil && t.StopReasonDataCount() > 0 && p.SignalShouldStop(int(t.StopReasonDataAtIndex(0))) {
				otherThread = t
			}
		case backend.StopReasonTrace, backend.StopReasonBreakpoint, backend.StopReasonWatchpoint,
			backend.StopReasonException, backend.StopReasonExec, backend.StopReasonThreadExiting,
			backend.StopReasonInstrumentation:
			if otherThread == nil {
				otherThread = t
			}
		case backend.StopReasonPlanComplete:
			if planThread == nil {
				planThread = t
			}
		}
	}
	switch {
	case planThread != nil:
		current = planThread
	case otherThread != nil:
		current = otherThread
	case current == nil:
		current = p.ThreadAtIndex(0)
	}
	if current == nil {
		return nil, backend.StopReasonInvalid
	}
	p.SetSelectedThreadByID(current.ID())
	return current, current.StopReason()
}

func stopMessage(t backend.Thread, reason backend.StopReason) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Received stop event.  Reason: %v", reason)
	if n := t.StopReasonDataCount(); n > 0 {
		buf.WriteString(" Data:")
		for i := 0; i < n; i++ {
			fmt.Fprintf(&buf, " %d", t.StopReasonDataAtIndex(i))
		}
	}
	return buf.String()
}

func (m *Manager) handleStop(thread backend.Thread, reason backend.StopReason) {
	var ev *StopEvent
	switch reason {
	case backend.StopReasonBreakpoint:
		ev = m.breakpointStop(thread)
	case backend.StopReasonWatchpoint:
		ev = m.watchpointStop(thread)
	case backend.StopReasonSignal:
		ev = signalStop(thread)
	case backend.StopReasonPlanComplete:
		ev = &StopEvent{Kind: StopStepComplete}
	case backend.StopReasonExec:
		if !m.shouldBreakOnExec {
			m.shouldBreakOnExec = true
			if err := m.conf.Process.Continue(); err != nil {
				logflags.EventsLogger().Warnf("Failed to continue after exec: %v", err)
			}
			return
		}
	}
	if ev == nil {
		ev = &StopEvent{Kind: StopBreak}
	}
	ev.Thread = thread
	m.conf.Handler.Stopped(*ev)
}

// breakpointStop decodes the (breakpoint id, location id) pairs of the
// stop reason data.
func (m *Manager) breakpointStop(thread backend.Thread) *StopEvent {
	var hit []*breakpoint.BoundBreakpoint
	n := thread.StopReasonDataCount()
	for i := 0; i+1 < n; i += 2 {
		pendingID := int(thread.StopReasonDataAtIndex(i))
		boundID := int(thread.StopReasonDataAtIndex(i + 1))
		p, ok := m.conf.Breakpoints.PendingBreakpoint(pendingID)
		if !ok {
			logflags.EventsLogger().Warnf("Missing pending breakpoint with ID %d", pendingID)
			continue
		}
		b, ok := p.BoundBreakpoint(boundID)
		if !ok {
			logflags.EventsLogger().Warnf("Missing bound breakpoint with ID %d.%d", pendingID, boundID)
			continue
		}
		b.OnHit()
		hit = append(hit, b)
	}
	if len(hit) == 0 {
		return nil
	}
	return &StopEvent{Kind: StopBreakpoint, Breakpoints: hit}
}

func (m *Manager) watchpointStop(thread backend.Thread) *StopEvent {
	if thread.StopReasonDataCount() == 0 {
		return nil
	}
	ws := m.conf.Breakpoints.Watchpoints(int(thread.StopReasonDataAtIndex(0)))
	if len(ws) == 0 {
		return nil
	}
	for _, w := range ws {
		w.OnHit()
	}
	return &StopEvent{Kind: StopBreakpoint, Watchpoints: ws}
}

func signalStop(thread backend.Thread) *StopEvent {
	if thread.StopReasonDataCount() == 0 {
		return nil
	}
	sig := SignalOf(thread.StopReasonDataAtIndex(0))
	// SIGSTOP is sent when the user pauses the process.
	if sig.Name == "SIGSTOP" {
		return nil
	}
	return &StopEvent{Kind: StopException, Signal: sig}
}

// SignalOf describes the signal with number signo.
func SignalOf(signo uint64) Signal {
	name, desc := signalInfo(signo)
	return Signal{Name: name, Number: signo, Description: desc}
}
