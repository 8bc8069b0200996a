package breakpoint

import (
	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
)

// BoundBreakpoint is one location a PendingBreakpoint resolved to.
type BoundBreakpoint struct {
	pending *PendingBreakpoint
	loc     backend.BreakpointLocation
	deleted bool
	pc      passCounter
}

func newBoundBreakpoint(pending *PendingBreakpoint, loc backend.BreakpointLocation) *BoundBreakpoint {
	return &BoundBreakpoint{
		pending: pending,
		loc:     loc,
		pc:      passCounter{h: loc, kind: "breakpoint", enabled: true},
	}
}

// ID is the backend id of the location, unique within the pending
// breakpoint.
func (b *BoundBreakpoint) ID() int { return b.loc.ID() }

// PendingBreakpoint returns the breakpoint b belongs to.
func (b *BoundBreakpoint) PendingBreakpoint() *PendingBreakpoint { return b.pending }

// Address is the load address of the location.
func (b *BoundBreakpoint) Address() uint64 { return b.loc.LoadAddress() }

// LineEntry returns the source position of the location, if known.
func (b *BoundBreakpoint) LineEntry() (backend.LineEntry, bool) { return b.loc.LineEntry() }

// State returns the state shown to the IDE. A location disabled because
// its pass count was reached is still enabled.
func (b *BoundBreakpoint) State() State { return stateOf(b.pc.enabled, b.deleted) }

// Delete marks b deleted. The backend location goes away with the backend
// breakpoint.
func (b *BoundBreakpoint) Delete() error {
	if b.deleted {
		return ErrBreakpointDeleted
	}
	b.deleted = true
	return nil
}

func (b *BoundBreakpoint) Enable(enabled bool) error {
	if b.deleted {
		return ErrBreakpointDeleted
	}
	b.pc.setEnabled(enabled)
	return nil
}

func (b *BoundBreakpoint) SetCondition(cond Condition) error {
	if b.deleted {
		return ErrBreakpointDeleted
	}
	switch cond.Style {
	case CondNone:
		b.loc.SetCondition("")
	case CondWhenTrue:
		b.loc.SetCondition(cond.Expr)
	default:
		return ErrNotImplemented
	}
	return nil
}

func (b *BoundBreakpoint) SetPassCount(pc PassCount) error {
	if b.deleted {
		return ErrBreakpointDeleted
	}
	b.pc.setPassCount(pc)
	return nil
}

// HitCount returns the number of hits since the last SetHitCount.
func (b *BoundBreakpoint) HitCount() (uint32, error) {
	if b.deleted {
		return 0, ErrBreakpointDeleted
	}
	return b.pc.hitCount(), nil
}

// SetHitCount makes the hit count n without touching the backend counter.
func (b *BoundBreakpoint) SetHitCount(n uint32) error {
	if b.deleted {
		return ErrBreakpointDeleted
	}
	b.pc.setHitCount(n)
	return nil
}

// OnHit must be called when the process stopped at the location.
func (b *BoundBreakpoint) OnHit() {
	b.pc.onHit()
}
