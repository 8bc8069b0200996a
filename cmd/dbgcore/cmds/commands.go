// Package cmds implements the dbgcore command line, which exposes the
// symbol search machinery of the engine for troubleshooting outside of a
// debug session.
package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/googlestadia/vsi-lldb-sub002/cmd/dbgcore/cmds/helphelpers"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend/platform"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/config"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfutil"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symbols"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/symstore"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/version"
	"github.com/googlestadia/vsi-lldb-sub002/service/engine"
	"github.com/googlestadia/vsi-lldb-sub002/service/launcher"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath overrides the location of the configuration file.
	configPath string
	// searchPaths overrides the symbol search paths of the configuration.
	searchPaths string
	// debugInfoDirs overrides the debug info directories of the
	// configuration, as a space separated list with single quotes.
	debugInfoDirs string

	// save makes the config command write the effective configuration back.
	save bool

	// debugInfo is whether find looks for a symbol file rather than a binary.
	debugInfo bool
	// force makes find retry stores that failed earlier.
	force bool

	conf *config.Config
)

const rootCommandLongDesc = `dbgcore inspects the symbol search configuration of the debug engine.

Symbol search paths use the _NT_SYMBOL_PATH syntax, for example:

` + "`dbgcore find --search-paths 'srv*/tmp/cache*https://symbols.example.com' libgame.so 8f3a...`"

// New returns an initialized command tree.
func New() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "dbgcore",
		Short: "dbgcore inspects the symbol search configuration of the debug engine.",
		Long:  rootCommandLongDesc,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			conf = loadConfig()
			if cmd.Flags().Changed("search-paths") {
				conf.SymbolSearchPaths = searchPaths
			}
			if cmd.Flags().Changed("debug-info-dirs") {
				conf.DebugInfoDirectories = config.SplitQuotedFields(debugInfoDirs, '\'')
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
		SilenceUsage: true,
	}

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.SetGlobalNormalizationFunc(normalizeFlagName)
	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable engine logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'dbgcore help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'dbgcore help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file, defaults to $HOME/.dbgcore/config.yml.")
	rootCommand.PersistentFlags().StringVar(&searchPaths, "search-paths", "", "Symbol search paths, overriding the configuration.")
	rootCommand.PersistentFlags().StringVar(&debugInfoDirs, "debug-info-dirs", "", "Space separated debug info directories, overriding the configuration. Use single quotes around paths with spaces.")

	findCommand := &cobra.Command{
		Use:   "find file build-id",
		Short: "Search the symbol stores for a file.",
		Long: `Search the configured symbol stores for a file with the given build ID.

The search log is written to standard output, followed by the path of the
file if it was found. An empty build ID matches any file with that name.`,
		Args: cobra.ExactArgs(2),
		RunE: findCmd,
	}
	findCommand.Flags().BoolVar(&debugInfo, "debug-info", false, "Look for a symbol file instead of a binary.")
	findCommand.Flags().BoolVar(&force, "force", false, "Retry stores that failed before.")
	rootCommand.AddCommand(findCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "buildid file",
		Short: "Print the build ID and symbol file location of a binary.",
		Args:  cobra.ExactArgs(1),
		RunE:  buildidCmd,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "search-paths",
		Short: "Print the symbol store chain built from the configuration.",
		Args:  cobra.NoArgs,
		Run:   searchPathsCmd,
	})

	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration.",
		Long: `Print the effective configuration, after the command line overrides.

With --save the result is also written back to the configuration file.`,
		Args: cobra.NoArgs,
		RunE: configCmd,
	}
	configCommand.Flags().BoolVar(&save, "save", false, "Write the effective configuration to the configuration file.")
	rootCommand.AddCommand(configCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "pid executable",
		Short: "Print the pid of the only local process running executable.",
		Long: `Print the pid of the only local process running executable.

This runs the same lookup the launcher uses to find the debuggee on the
target, against the local machine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := launcher.ProcessID(&platform.Local{}, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pid)
			return nil
		},
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:

	engine		Log session lifecycle and dispatcher activity (default)
	breakpoints	Log breakpoint binding and location changes
	symbols		Log symbol store searches and module file loading
	modules		Log the module cache
	events		Log the listener thread and process events
	launcher	Log connection, attach and retry attempts
	dap		Log all DAP messages

Additionally --log-dest can be used to specify where the logs should be
written. If the argument is a number it will be interpreted as a file
descriptor, otherwise as a file path.
`,
	})

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbgcore\n%s\n", version.EngineVersion)
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolP("verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

// normalizeFlagName accepts the underscore spelling of the configuration
// file keys, --search_paths is --search-paths.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

func loadConfig() *config.Config {
	if configPath != "" {
		return config.LoadConfigFile(configPath)
	}
	return config.LoadConfig()
}

func configCmd(cmd *cobra.Command, args []string) error {
	out, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(out); err != nil {
		return err
	}
	if !save {
		return nil
	}
	if configPath != "" {
		return config.SaveConfigFile(configPath, conf)
	}
	return config.SaveConfig(conf)
}

func newFinder() *symbols.FileFinder {
	f := symbols.NewFileFinder(engine.NewParser(conf))
	f.SetSearchPaths(conf.CombinedSearchPaths())
	return f
}

func findCmd(cmd *cobra.Command, args []string) error {
	id, err := buildid.Parse(args[1])
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	out := cmd.OutOrStdout()
	path, ok := newFinder().FindFile(ctx, args[0], id, debugInfo, out, force)
	if !ok {
		return fmt.Errorf("%s not found", args[0])
	}
	fmt.Fprintln(out, path)
	return nil
}

func buildidCmd(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	id, err := elfutil.ReadBuildID(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "build-id:\t%s\n", id)
	loc, err := elfutil.ReadSymbolFileLocation(args[0])
	if loc.Filename != "" {
		fmt.Fprintf(out, "debuglink:\t%s\n", loc.Filename)
	}
	if loc.Directory != "" {
		fmt.Fprintf(out, "debug-info-dir:\t%s\n", loc.Directory)
	}
	if err != nil && !errors.Is(err, elfutil.ErrNoDebugLink) && !errors.Is(err, elfutil.ErrNoDebugDir) {
		return err
	}
	return nil
}

func searchPathsCmd(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	store := newFinder().Store()
	fmt.Fprintf(out, "%s\n", store)
	if seq, ok := store.(*symstore.Sequence); ok {
		for i, s := range seq.Stores() {
			fmt.Fprintf(out, "  %d: %s\n", i, s)
		}
	}
	c := symstore.CountStores(store)
	fmt.Fprintf(out, "flat: %d, structured: %d, http: %d, debuginfod: %d\n", c.Flat, c.Structured, c.HTTP, c.Debuginfod)
}
