//go:build !linux

package events

import "fmt"

// signalInfo only knows signal numbers, the host's signal tables don't
// describe the Linux target.
func signalInfo(signo uint64) (name, description string) {
	if signo == 19 {
		return "SIGSTOP", "stopped (signal)"
	}
	return fmt.Sprintf("SIG%d", signo), fmt.Sprintf("signal %d", signo)
}
