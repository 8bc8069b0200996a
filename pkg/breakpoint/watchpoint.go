package breakpoint

import (
	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/locspec"
)

// Watchpoint is a data breakpoint requested by the IDE. It is its own only
// bound breakpoint.
type Watchpoint struct {
	manager *Manager
	target  backend.Target
	request Request

	wp      backend.Watchpoint
	bindErr *BindError
	enabled bool
	deleted bool
	pc      passCounter
}

func newWatchpoint(manager *Manager, target backend.Target, request Request) *Watchpoint {
	return &Watchpoint{manager: manager, target: target, request: request, enabled: true}
}

func (w *Watchpoint) ID() int {
	if w.wp == nil {
		return -1
	}
	return w.wp.ID()
}

func (w *Watchpoint) Request() Request { return w.request }

func (w *Watchpoint) State() State { return stateOf(w.enabled, w.deleted) }

func (w *Watchpoint) BindError() *BindError { return w.bindErr }

func (w *Watchpoint) setError(msg string) {
	w.bindErr = &BindError{Message: msg}
	w.manager.reportError(w, w.bindErr)
}

func (w *Watchpoint) CanBind() error {
	if w.deleted {
		return ErrBreakpointDeleted
	}
	if w.request.Location.Kind != DataString || (w.request.Condition != nil && w.request.Condition.Style == CondWhenChanged) {
		return &BindError{Message: msgNotSupported}
	}
	return nil
}

// Bind watches the address of the request for writes.
func (w *Watchpoint) Bind() (bool, error) {
	if w.deleted {
		return false, ErrBreakpointDeleted
	}
	loc := w.request.Location
	if loc.Kind != DataString {
		w.setError(msgNotSupported)
		return false, nil
	}
	addr, err := locspec.ParseAddress(loc.AddressExpr)
	if err != nil {
		w.setError(err.Error())
		return false, nil
	}
	wp, err := w.target.WatchAddress(addr, loc.DataSize, false, true)
	if err != nil {
		w.setError(err.Error())
		return false, nil
	}
	w.wp = wp
	w.bindErr = nil
	w.pc = passCounter{h: wp, kind: "watchpoint", enabled: w.enabled}
	wp.SetEnabled(w.enabled)
	if w.request.Condition != nil {
		w.SetCondition(*w.request.Condition)
	}
	if w.request.PassCount != nil {
		w.SetPassCount(*w.request.PassCount)
	}
	w.manager.registerWatchpoint(w)
	return true, nil
}

// Delete releases the backend watch, which is deleted once no other
// watchpoint uses it. Deleting twice is not an error.
func (w *Watchpoint) Delete() error {
	if w.deleted {
		return nil
	}
	w.deleted = true
	if w.wp == nil {
		return nil
	}
	if w.manager.unregisterWatchpoint(w) == 0 {
		w.target.DeleteWatchpoint(w.wp.ID())
	}
	return nil
}

func (w *Watchpoint) Enable(enabled bool) error {
	w.enabled = enabled
	if w.deleted {
		return ErrBreakpointDeleted
	}
	if w.wp != nil {
		w.pc.setEnabled(enabled)
	}
	return nil
}

func (w *Watchpoint) SetCondition(cond Condition) error {
	if w.deleted {
		return ErrBreakpointDeleted
	}
	if w.wp == nil {
		w.request.Condition = &cond
		return nil
	}
	switch cond.Style {
	case CondNone:
		w.wp.SetCondition("")
	case CondWhenTrue:
		w.wp.SetCondition(cond.Expr)
	default:
		return ErrNotImplemented
	}
	w.request.Condition = &cond
	return nil
}

func (w *Watchpoint) SetPassCount(pc PassCount) error {
	if w.deleted {
		return ErrBreakpointDeleted
	}
	w.request.PassCount = &pc
	if w.wp != nil {
		w.pc.setPassCount(pc)
	}
	return nil
}

// HitCount returns the number of hits since the last SetHitCount.
func (w *Watchpoint) HitCount() (uint32, error) {
	if w.deleted {
		return 0, ErrBreakpointDeleted
	}
	if w.wp == nil {
		return 0, nil
	}
	return w.pc.hitCount(), nil
}

func (w *Watchpoint) SetHitCount(n uint32) error {
	if w.deleted {
		return ErrBreakpointDeleted
	}
	if w.wp != nil {
		w.pc.setHitCount(n)
	}
	return nil
}

// OnHit must be called when the process stopped because of the watch.
func (w *Watchpoint) OnHit() {
	if w.wp != nil {
		w.pc.onHit()
	}
}
