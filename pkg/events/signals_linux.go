package events

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// signalInfo returns the name and description of a Linux signal.
func signalInfo(signo uint64) (name, description string) {
	sig := unix.Signal(signo)
	name = unix.SignalName(sig)
	if name == "" {
		name = fmt.Sprintf("SIG%d", signo)
	}
	return name, sig.String()
}
