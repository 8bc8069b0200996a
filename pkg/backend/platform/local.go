// Package platform implements backend.Platform for the machine the engine
// runs on.
package platform

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/cosiner/argv"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// Local runs platform shell commands on the local machine. It is used when
// the debug server runs on the same host as the engine and by the CLI.
//
// Commands are pipelines of simple commands; anything that needs shell
// syntax beyond quoting and '|' has to be wrapped in "sh -c".
type Local struct {
	// Env is the environment of the commands, nil means the engine's own.
	Env []string
}

// ConnectRemote is a no-op, the local platform is always connected.
func (p *Local) ConnectRemote(url string) error {
	logflags.LauncherLogger().Debugf("local platform, ignoring connect to %s", url)
	return nil
}

// Run runs command and returns what the last command of the pipeline wrote
// to stdout. A non-zero exit status is not an error, as with a remote
// platform shell the output is all the caller gets.
func (p *Local) Run(command string) (string, error) {
	sections, err := argv.Argv(command,
		func(s string) (string, error) {
			return "", fmt.Errorf("Backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return "", err
	}
	if len(sections) == 0 {
		return "", errors.New("empty command")
	}

	cmds := make([]*exec.Cmd, len(sections))
	for i, args := range sections {
		if len(args) == 0 {
			return "", fmt.Errorf("illegal command line '%s'", command)
		}
		cmds[i] = exec.Command(args[0], args[1:]...)
		cmds[i].Env = p.Env
	}

	var pipes []*os.File
	closePipes := func() {
		for _, f := range pipes {
			f.Close()
		}
		pipes = nil
	}
	defer closePipes()
	for i := 0; i < len(cmds)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			return "", err
		}
		pipes = append(pipes, r, w)
		cmds[i].Stdout = w
		cmds[i+1].Stdin = r
	}
	var out bytes.Buffer
	cmds[len(cmds)-1].Stdout = &out

	started := 0
	var startErr error
	for _, cmd := range cmds {
		if startErr = cmd.Start(); startErr != nil {
			break
		}
		started++
	}
	// The children hold their own copies of the pipe ends.
	closePipes()

	var runErr error
	for i := 0; i < started; i++ {
		if err := cmds[i].Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) && runErr == nil {
				runErr = err
			}
		}
	}
	if startErr != nil {
		return "", startErr
	}
	return out.String(), runErr
}
