package breakpoint

import (
	"errors"
)

var (
	// ErrBreakpointDeleted is returned by operations on deleted breakpoints.
	ErrBreakpointDeleted = errors.New("breakpoint deleted")
	// ErrNotImplemented is returned for conditions the backend can't
	// evaluate.
	ErrNotImplemented = errors.New("not implemented")
)

const (
	msgNotSupported         = "Breakpoint type is not supported."
	msgNotSet               = "Unable to bind breakpoint."
	msgLocationNotSet       = "Unable to find a valid address to bind breakpoint."
	msgNoSourceFilename     = "Unable to retrieve source code filename."
	msgNoSourceLineNumber   = "Unable to retrieve source code line number."
	msgNoFunctionName       = "Unable to find function name."
	msgNoCodeContext        = "Unable to retrieve code context."
	msgNoCodeAddress        = "Unable to retrieve code address."
	msgPositionNotAvailable = "Unable to set breakpoint for the specified position."
	msgNoFunctionFound      = "Unable to retrieve function information."
)

// BindError explains why a breakpoint has no location. It is a warning
// shown next to the breakpoint, not a failure of the operation that set
// it.
type BindError struct {
	Message string
}

func (err *BindError) Error() string {
	return err.Message
}
