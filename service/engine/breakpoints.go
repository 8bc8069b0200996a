package engine

import (
	"github.com/googlestadia/vsi-lldb-sub002/pkg/breakpoint"
	"github.com/googlestadia/vsi-lldb-sub002/service/launcher"
)

// SetBreakpoint creates the breakpoint described by req and binds it. The
// breakpoint is returned even if it has no location yet: the sink has
// been told why and it is rebound when the backend resolves it.
func (e *Engine) SetBreakpoint(req breakpoint.Request) (breakpoint.Pending, error) {
	var p breakpoint.Pending
	err := e.withSession(func(*launcher.AttachSession) error {
		p = e.breakpoints.CreatePendingBreakpoint(req)
		if err := p.CanBind(); err != nil {
			return err
		}
		bound, err := p.Bind()
		if err != nil {
			return err
		}
		if !bound {
			e.log.Debugf("breakpoint %v not bound: %v", req.Location.Kind, p.BindError())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ClearBreakpoint deletes p.
func (e *Engine) ClearBreakpoint(p breakpoint.Pending) error {
	return e.withSession(func(*launcher.AttachSession) error {
		return p.Delete()
	})
}

// EnableBreakpoint enables or disables p.
func (e *Engine) EnableBreakpoint(p breakpoint.Pending, enabled bool) error {
	return e.withSession(func(*launcher.AttachSession) error {
		return p.Enable(enabled)
	})
}

// SetBreakpointCondition replaces the condition of p.
func (e *Engine) SetBreakpointCondition(p breakpoint.Pending, cond breakpoint.Condition) error {
	return e.withSession(func(*launcher.AttachSession) error {
		return p.SetCondition(cond)
	})
}

// SetBreakpointPassCount replaces the pass count of p.
func (e *Engine) SetBreakpointPassCount(p breakpoint.Pending, pc breakpoint.PassCount) error {
	return e.withSession(func(*launcher.AttachSession) error {
		return p.SetPassCount(pc)
	})
}

// SetHitCount resets the hit count of the location b.
func (e *Engine) SetHitCount(b *breakpoint.BoundBreakpoint, n uint32) error {
	return e.withSession(func(*launcher.AttachSession) error {
		return b.SetHitCount(n)
	})
}

// Breakpoints returns the bound and pending counts of the session.
func (e *Engine) Breakpoints() (pending, bound int, err error) {
	err = e.withSession(func(*launcher.AttachSession) error {
		pending = e.breakpoints.NumPendingBreakpoints()
		bound = e.breakpoints.NumBoundBreakpoints()
		return nil
	})
	return pending, bound, err
}
