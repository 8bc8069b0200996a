package main

import (
	"os"

	"github.com/googlestadia/vsi-lldb-sub002/cmd/dbgcore/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
