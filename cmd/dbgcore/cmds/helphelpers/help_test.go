package helphelpers

import (
	"testing"

	"github.com/spf13/cobra"
)

func TestPrepare(t *testing.T) {
	root := &cobra.Command{Use: "dbgcore"}
	root.PersistentFlags().String("search-paths", "", "")
	root.PersistentFlags().Bool("log", false, "")
	version := &cobra.Command{Use: "version", Run: func(*cobra.Command, []string) {}}
	find := &cobra.Command{Use: "find", Run: func(*cobra.Command, []string) {}}
	root.AddCommand(version, find)

	Prepare(find)
	if root.PersistentFlags().Lookup("search-paths").Hidden {
		t.Fatal("search-paths hidden for find")
	}
	Prepare(version)
	if !root.PersistentFlags().Lookup("search-paths").Hidden {
		t.Fatal("search-paths shown for version")
	}
	if root.PersistentFlags().Lookup("log").Hidden {
		t.Fatal("log hidden for version")
	}
	Prepare(root)
	if !root.PersistentFlags().Lookup("log").Hidden {
		t.Fatal("log shown for the root command")
	}
}
