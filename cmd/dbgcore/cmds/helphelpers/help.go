package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its help function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// The symbol search flags live on the root command so that they can be
// given before or after the subcommand name, but only the commands that
// build a store chain use them.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "dbgcore", "help":
		hideAllFlags(cmd)
	case "buildid", "log", "pid", "version":
		hideFlag(cmd, "config")
		hideFlag(cmd, "search-paths")
		hideFlag(cmd, "debug-info-dirs")
	case "find", "search-paths", "config":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		flag.Hidden = true
		return
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
