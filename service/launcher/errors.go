package launcher

import (
	"errors"
	"fmt"
)

// ErrorCode is the result code reported to the IDE for a failed attach.
type ErrorCode int

const (
	// CodeAbort means the attach could not complete, the session is torn
	// down.
	CodeAbort ErrorCode = iota + 1
	// CodeFail means a backend object could not be created.
	CodeFail
)

func (c ErrorCode) String() string {
	switch c {
	case CodeAbort:
		return "E_ABORT"
	case CodeFail:
		return "E_FAIL"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// AttachError is returned when a debug session can't be established. Its
// message is shown to the user as is.
type AttachError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (err *AttachError) Error() string {
	return err.Message
}

func (err *AttachError) Unwrap() error {
	return err.Err
}

// ErrCoreAttachStopped is returned when the user declined to attach to a
// core file that looked inconsistent.
var ErrCoreAttachStopped = errors.New("attach to core file stopped by the user")

func abort(msg string, err error) *AttachError {
	return &AttachError{Code: CodeAbort, Message: msg, Err: err}
}

func fail(msg string) *AttachError {
	return &AttachError{Code: CodeFail, Message: msg}
}

const (
	msgFailedToCreatePlatform    = "Failed to create the debugger platform."
	msgFailedToCreateTarget      = "Failed to create the debug target."
	msgFailedToCreateListener    = "Failed to create the debug listener."
	msgFailedToRetrieveProcessID = "Failed to retrieve the process ID of the program to debug."
	msgFailedToAttachSelfTrace   = "Failed to attach to the process: the process is tracing itself. Make sure the program does not call ptrace(PTRACE_TRACEME)."
	msgInvalidExecutableName     = "Invalid executable name %q."
	msgFailedToConnectDebugger   = "Failed to connect to the debug server at %s."
	msgFailedToAttach            = "Failed to attach to the process: %s"
	msgFailedToAttachOtherTracer = "Failed to attach to the process: it is already traced by %s (pid %s). Detach the other debugger and try again."
	msgFailedToLoadCore          = "Failed to load the core file %s."
	msgInvalidLaunchOption       = "Invalid launch option %v."
	msgConnecting                = "Connecting to debugger"
	msgAttaching                 = "Debugger is attaching (this can take a while)"
	backendMsgAlreadyTraced      = "Operation not permitted"
	unknownTracerName            = "<unknown>"
)
