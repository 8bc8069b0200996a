package breakpoint

import (
	"sync"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// Handler is notified of breakpoint changes the IDE has to show. It is
// called on the goroutine that performed the operation.
type Handler interface {
	// BreakpointBound is called after p was bound, even if it has no
	// location.
	BreakpointBound(p Pending)
	// BoundBreakpointsAdded lists the locations p gained.
	BoundBreakpointsAdded(p *PendingBreakpoint, added []*BoundBreakpoint)
	BreakpointError(p Pending, err *BindError)
}

// Manager creates the breakpoints of a program and finds them by the ids
// the backend reports in stop events.
type Manager struct {
	target  backend.Target
	handler Handler

	mu          sync.Mutex
	pending     map[int]*PendingBreakpoint
	// watchpoints holds one entry per Bind of a watchpoint still in use,
	// by backend watch id.
	watchpoints map[int][]*Watchpoint
}

// NewManager returns a manager creating breakpoints in target. handler may
// be nil.
func NewManager(target backend.Target, handler Handler) *Manager {
	return &Manager{
		target:      target,
		handler:     handler,
		pending:     make(map[int]*PendingBreakpoint),
		watchpoints: make(map[int][]*Watchpoint),
	}
}

// CreatePendingBreakpoint returns an unbound breakpoint for req, a
// *Watchpoint for data locations and a *PendingBreakpoint otherwise.
func (m *Manager) CreatePendingBreakpoint(req Request) Pending {
	if req.Location.Kind == DataString {
		return newWatchpoint(m, m.target, req)
	}
	return newPendingBreakpoint(m, m.target, req)
}

func (m *Manager) registerPending(p *PendingBreakpoint) {
	if id := p.ID(); id != -1 {
		m.mu.Lock()
		m.pending[id] = p
		m.mu.Unlock()
	} else {
		logflags.BreakpointsLogger().Warn("Failed to register pending breakpoint: breakpoint does not have an ID.")
	}
	if m.handler != nil {
		m.handler.BreakpointBound(p)
	}
}

func (m *Manager) removePending(p *PendingBreakpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending[p.ID()] == p {
		delete(m.pending, p.ID())
	}
}

func (m *Manager) registerWatchpoint(w *Watchpoint) {
	if id := w.ID(); id != -1 {
		m.mu.Lock()
		m.watchpoints[id] = append(m.watchpoints[id], w)
		m.mu.Unlock()
	} else {
		logflags.BreakpointsLogger().Warn("Failed to register watchpoint: watchpoint does not have an ID.")
	}
	if m.handler != nil {
		m.handler.BreakpointBound(w)
	}
}

// unregisterWatchpoint drops a reference to the backend watch of w and
// returns the number of references left.
func (m *Manager) unregisterWatchpoint(w *Watchpoint) int {
	id := w.ID()
	if id == -1 {
		logflags.BreakpointsLogger().Warn("Failed to unregister watchpoint: watchpoint does not have an ID.")
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := m.watchpoints[id]
	for i := range refs {
		if refs[i] == w {
			refs = append(refs[:i:i], refs[i+1:]...)
			break
		}
	}
	if len(refs) == 0 {
		delete(m.watchpoints, id)
		return 0
	}
	m.watchpoints[id] = refs
	return len(refs)
}

// WatchpointRefCount returns the number of bound watchpoints using the
// backend watch with the given id.
func (m *Manager) WatchpointRefCount(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchpoints[id])
}

func (m *Manager) reportError(p Pending, err *BindError) {
	logflags.BreakpointsLogger().Debugf("breakpoint %d: %s", p.ID(), err.Message)
	if m.handler != nil {
		m.handler.BreakpointError(p, err)
	}
}

func (m *Manager) boundBreakpointsAdded(p *PendingBreakpoint, added []*BoundBreakpoint) {
	if m.handler != nil {
		m.handler.BoundBreakpointsAdded(p, added)
	}
}

// PendingBreakpoint returns the bound breakpoint with the given backend id.
func (m *Manager) PendingBreakpoint(id int) (*PendingBreakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[id]
	return p, ok
}

// PendingBreakpoints returns the bound breakpoints.
func (m *Manager) PendingBreakpoints() []*PendingBreakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := make([]*PendingBreakpoint, 0, len(m.pending))
	for _, p := range m.pending {
		r = append(r, p)
	}
	return r
}

// Watchpoints returns the watchpoints using the backend watch with the
// given id.
func (m *Manager) Watchpoints(id int) []*Watchpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Watchpoint(nil), m.watchpoints[id]...)
}

// NumPendingBreakpoints returns the number of bound code breakpoints.
func (m *Manager) NumPendingBreakpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// NumBoundBreakpoints returns the number of locations of all bound code
// breakpoints.
func (m *Manager) NumBoundBreakpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.pending {
		n += p.NumLocations()
	}
	return n
}
