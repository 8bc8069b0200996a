// Package breakpoint keeps the breakpoints requested by the IDE in sync
// with the breakpoints of the backend.
//
// A PendingBreakpoint is what the user asked for, for example a source
// line. Binding it creates a backend breakpoint, which resolves to any
// number of locations; each location is tracked by a BoundBreakpoint. The
// set of locations changes as modules are loaded and unloaded, the owner of
// the Manager calls UpdateLocations when the backend reports such a change.
//
// Data breakpoints are Watchpoints. The backend shares one watch between
// all watchpoints set on the same address, the Manager counts references
// so the watch is deleted with the last watchpoint.
//
// Pass counts are emulated with the ignore count of the backend, and hit
// counts are reset by remembering an offset, the backend counters only
// increase.
package breakpoint

import (
	"fmt"
)

// LocationKind is the kind of location of a breakpoint request.
type LocationKind int

const (
	// FileLine is a source line.
	FileLine LocationKind = iota
	// FuncOffset is a function name, optionally in the "{name, ,}+offset"
	// form.
	FuncOffset
	// CodeContext is an address resolved by the IDE.
	CodeContext
	// Address is an address typed by the user, in hex.
	Address
	// DataString is the address of a data breakpoint, in hex.
	DataString
)

var locationKindNames = [...]string{"file-line", "function", "code-context", "address", "data"}

func (k LocationKind) String() string {
	if k < 0 || int(k) >= len(locationKindNames) {
		return fmt.Sprintf("LocationKind(%d)", int(k))
	}
	return locationKindNames[k]
}

// Location is where a breakpoint is requested. Only the fields of Kind are
// used.
type Location struct {
	Kind LocationKind

	File string
	// Line is 1-based, 0 if the IDE could not provide it.
	Line uint32

	Function string

	// HasCodeContext is false if the IDE could not resolve the code context.
	HasCodeContext bool
	CodeAddress    uint64

	// AddressExpr is used by Address and DataString.
	AddressExpr string
	// DataSize is the number of bytes watched by a DataString location.
	DataSize uint32
}

// ConditionStyle says when a conditional breakpoint stops.
type ConditionStyle int

const (
	CondNone ConditionStyle = iota
	CondWhenTrue
	// CondWhenChanged is not supported by the backend.
	CondWhenChanged
)

// Condition is the condition of a breakpoint.
type Condition struct {
	Style ConditionStyle
	Expr  string
}

// PassCountStyle says how the pass count of a breakpoint is compared with
// its hit count.
type PassCountStyle int

const (
	PassCountNone PassCountStyle = iota
	// PassCountEqual stops on the Count-th hit only.
	PassCountEqual
	// PassCountEqualOrGreater stops on every hit from the Count-th.
	PassCountEqualOrGreater
	// PassCountMod stops on every Count-th hit.
	PassCountMod
)

// PassCount is the pass count of a breakpoint.
type PassCount struct {
	Style PassCountStyle
	Count uint32
}

// Request is a breakpoint request from the IDE. Nil Condition and
// PassCount mean the request does not set them.
type Request struct {
	Location  Location
	Condition *Condition
	PassCount *PassCount
}

// State is the state of a breakpoint as shown to the IDE.
type State int

const (
	StateDisabled State = iota
	StateEnabled
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateDeleted:
		return "deleted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func stateOf(enabled, deleted bool) State {
	switch {
	case deleted:
		return StateDeleted
	case enabled:
		return StateEnabled
	}
	return StateDisabled
}
