package breakpoint

import (
	"errors"
	"sort"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/locspec"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// Pending is a breakpoint requested by the IDE, a *PendingBreakpoint or a
// *Watchpoint.
type Pending interface {
	// ID is the id of the backend object, -1 if not bound.
	ID() int
	CanBind() error
	// Bind creates the backend object. It returns false, with BindError
	// set, if there is nothing to stop at.
	Bind() (bool, error)
	Delete() error
	Enable(enabled bool) error
	SetCondition(cond Condition) error
	SetPassCount(pc PassCount) error
	State() State
	BindError() *BindError
	Request() Request
}

// PendingBreakpoint is a code breakpoint requested by the IDE.
//
// UpdateLocations is not synchronized with Bind and Delete, callers
// serialize the operations on a breakpoint.
type PendingBreakpoint struct {
	manager *Manager
	target  backend.Target
	request Request

	bp      backend.Breakpoint
	bound   map[int]*BoundBreakpoint
	bindErr *BindError
	enabled bool
	deleted bool
}

func newPendingBreakpoint(manager *Manager, target backend.Target, request Request) *PendingBreakpoint {
	return &PendingBreakpoint{
		manager: manager,
		target:  target,
		request: request,
		bound:   make(map[int]*BoundBreakpoint),
		enabled: true,
	}
}

func (p *PendingBreakpoint) ID() int {
	if p.bp == nil {
		return -1
	}
	return p.bp.ID()
}

func (p *PendingBreakpoint) Request() Request { return p.request }

func (p *PendingBreakpoint) State() State { return stateOf(p.enabled, p.deleted) }

// BindError returns the reason the breakpoint has no location, nil if it
// is bound.
func (p *PendingBreakpoint) BindError() *BindError { return p.bindErr }

// NumLocations returns the number of locations of the backend breakpoint.
func (p *PendingBreakpoint) NumLocations() int {
	if p.bp == nil {
		return 0
	}
	return p.bp.NumLocations()
}

func (p *PendingBreakpoint) setError(msg string) {
	p.bindErr = &BindError{Message: msg}
	p.manager.reportError(p, p.bindErr)
}

// CanBind returns a *BindError if the request can't be bound.
func (p *PendingBreakpoint) CanBind() error {
	if p.deleted {
		return ErrBreakpointDeleted
	}
	if p.request.Condition != nil && p.request.Condition.Style == CondWhenChanged {
		return &BindError{Message: msgNotSupported}
	}
	switch p.request.Location.Kind {
	case FileLine, FuncOffset, CodeContext, Address:
		return nil
	}
	return &BindError{Message: msgNotSupported}
}

func (p *PendingBreakpoint) Bind() (bool, error) {
	if p.deleted {
		return false, ErrBreakpointDeleted
	}
	bp, msg := p.create()
	if msg != "" {
		p.setError(msg)
		return false, nil
	}
	if bp == nil {
		p.setError(msgNotSet)
		return false, nil
	}
	p.bp = bp

	p.UpdateLocations()
	p.manager.registerPending(p)
	return len(p.bound) > 0, nil
}

// create creates the backend breakpoint. A non-empty message means the
// request could not be turned into a backend breakpoint.
func (p *PendingBreakpoint) create() (backend.Breakpoint, string) {
	loc := p.request.Location
	switch loc.Kind {
	case FileLine:
		if loc.File == "" {
			return nil, msgNoSourceFilename
		}
		if loc.Line == 0 {
			return nil, msgNoSourceLineNumber
		}
		return p.target.BreakpointCreateByLocation(loc.File, loc.Line), ""

	case FuncOffset:
		if loc.Function == "" {
			return nil, msgNoFunctionName
		}
		fn, _ := locspec.ParseFuncOffset(loc.Function)
		if fn.Offset == 0 {
			return p.target.BreakpointCreateByName(fn.Name), ""
		}
		bp, err := p.target.CreateFunctionOffsetBreakpoint(fn.Name, fn.Offset)
		if err != nil {
			logflags.BreakpointsLogger().Debugf("could not create breakpoint at %s: %v", fn, err)
			return nil, functionOffsetMessage(err)
		}
		return bp, ""

	case CodeContext:
		if !loc.HasCodeContext {
			return nil, msgNoCodeContext
		}
		return p.target.BreakpointCreateByAddress(loc.CodeAddress), ""

	case Address:
		if loc.AddressExpr == "" {
			return nil, msgNoCodeAddress
		}
		addr, err := locspec.ParseAddress(loc.AddressExpr)
		if err != nil {
			logflags.BreakpointsLogger().Debug(err)
			return nil, msgNoCodeAddress
		}
		return p.target.BreakpointCreateByAddress(addr), ""
	}
	return nil, msgNotSupported
}

func functionOffsetMessage(err error) string {
	var ferr *backend.FunctionOffsetError
	if !errors.As(err, &ferr) {
		return msgPositionNotAvailable
	}
	switch ferr.Kind {
	case backend.NoFunctionFound:
		return msgNoFunctionFound
	case backend.NoFunctionLocation:
		return msgLocationNotSet
	}
	return msgPositionNotAvailable
}

// UpdateLocations makes the bound breakpoints match the locations of the
// backend breakpoint. New bound breakpoints get the enabled state, the
// condition and the pass count of p, and are reported to the manager's
// handler.
func (p *PendingBreakpoint) UpdateLocations() {
	if p.bp == nil {
		return
	}
	live := make(map[int]backend.BreakpointLocation)
	var order []int
	for i := 0; i < p.bp.NumLocations(); i++ {
		loc := p.bp.LocationAtIndex(i)
		if loc == nil {
			logflags.BreakpointsLogger().Warnf("Failed to get location %d of breakpoint %d.", i, p.bp.ID())
			continue
		}
		if _, dup := live[loc.ID()]; !dup {
			order = append(order, loc.ID())
		}
		live[loc.ID()] = loc
	}

	for id, b := range p.bound {
		if _, ok := live[id]; !ok {
			b.Delete()
			delete(p.bound, id)
		}
	}

	var added []*BoundBreakpoint
	for _, id := range order {
		if _, ok := p.bound[id]; ok {
			continue
		}
		b := newBoundBreakpoint(p, live[id])
		b.Enable(p.enabled)
		if p.request.Condition != nil {
			b.SetCondition(*p.request.Condition)
		}
		if p.request.PassCount != nil {
			b.SetPassCount(*p.request.PassCount)
		}
		p.bound[id] = b
		added = append(added, b)
	}

	if len(p.bound) == 0 {
		p.setError(msgLocationNotSet)
	} else {
		p.bindErr = nil
	}
	if len(added) > 0 {
		p.manager.boundBreakpointsAdded(p, added)
	}
}

// BoundBreakpoint returns the bound breakpoint of the location with the
// given id.
func (p *PendingBreakpoint) BoundBreakpoint(id int) (*BoundBreakpoint, bool) {
	b, ok := p.bound[id]
	return b, ok
}

// BoundBreakpoints returns the bound breakpoints sorted by id.
func (p *PendingBreakpoint) BoundBreakpoints() ([]*BoundBreakpoint, error) {
	if p.deleted {
		return nil, ErrBreakpointDeleted
	}
	r := make([]*BoundBreakpoint, 0, len(p.bound))
	for _, b := range p.bound {
		r = append(r, b)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID() < r[j].ID() })
	return r, nil
}

// Delete deletes the bound breakpoints and the backend breakpoint.
func (p *PendingBreakpoint) Delete() error {
	if p.deleted {
		return ErrBreakpointDeleted
	}
	p.deleted = true
	if p.bp != nil {
		p.manager.removePending(p)
		p.target.BreakpointDelete(p.bp.ID())
		p.bp = nil
	}
	for _, b := range p.bound {
		b.Delete()
	}
	p.bound = make(map[int]*BoundBreakpoint)
	return nil
}

func (p *PendingBreakpoint) Enable(enabled bool) error {
	if p.deleted {
		return ErrBreakpointDeleted
	}
	p.enabled = enabled
	for _, b := range p.bound {
		b.Enable(enabled)
	}
	return nil
}

// SetCondition changes the condition of p and of its bound breakpoints.
func (p *PendingBreakpoint) SetCondition(cond Condition) error {
	if p.deleted {
		return ErrBreakpointDeleted
	}
	if cond.Style != CondNone && cond.Style != CondWhenTrue {
		return ErrNotImplemented
	}
	p.request.Condition = &cond
	for _, b := range p.bound {
		b.SetCondition(cond)
	}
	return nil
}

// SetPassCount changes the pass count of p and of its bound breakpoints.
func (p *PendingBreakpoint) SetPassCount(pc PassCount) error {
	if p.deleted {
		return ErrBreakpointDeleted
	}
	p.request.PassCount = &pc
	for _, b := range p.bound {
		b.SetPassCount(pc)
	}
	return nil
}
