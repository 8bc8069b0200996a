package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var engine = false
var breakpoints = false
var symbols = false
var modules = false
var events = false
var launcher = false
var dap = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if flag {
		return makeLogger(logrus.DebugLevel, fields)
	}
	return makeLogger(logrus.ErrorLevel, fields)
}

// Engine returns true if the engine facade should log.
func Engine() bool {
	return engine
}

// EngineLogger returns a logger for the engine facade.
func EngineLogger() Logger {
	return makeFlaggableLogger(engine, Fields{"layer": "engine"})
}

// Breakpoints returns true if breakpoint binding and reconciliation
// should be logged.
func Breakpoints() bool {
	return breakpoints
}

// BreakpointsLogger returns a logger for the breakpoint package.
func BreakpointsLogger() Logger {
	return makeFlaggableLogger(breakpoints, Fields{"layer": "breakpoints"})
}

// Symbols returns true if symbol store searches and binary/symbol loading
// should be logged.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for symbol stores and module file loaders.
func SymbolsLogger() Logger {
	return makeFlaggableLogger(symbols, Fields{"layer": "symbols"})
}

// Modules returns true if the module cache should log.
func Modules() bool {
	return modules
}

// ModulesLogger returns a logger for the module cache.
func ModulesLogger() Logger {
	return makeFlaggableLogger(modules, Fields{"layer": "modules"})
}

// Events returns true if the backend event pump should log every event.
func Events() bool {
	return events
}

// EventsLogger returns a logger for the event pump and event manager.
func EventsLogger() Logger {
	return makeFlaggableLogger(events, Fields{"layer": "events"})
}

// Launcher returns true if attach/launch/core loading should be logged.
func Launcher() bool {
	return launcher
}

// LauncherLogger returns a logger for the session launcher.
func LauncherLogger() Logger {
	return makeFlaggableLogger(launcher, Fields{"layer": "launcher"})
}

// DAP returns true if the messages sent to the IDE should be logged.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the IDE event sink.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr string, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "dbgcore-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	} else if f := os.Stderr; isatty.IsTerminal(f.Fd()) {
		logOut = nopCloser{colorable.NewColorable(f)}
		textFormatterInstance.ForceColors = true
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "engine"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "help" command.
		switch logcmd {
		case "engine":
			engine = true
		case "breakpoints":
			breakpoints = true
		case "symbols":
			symbols = true
		case "modules":
			modules = true
		case "events":
			events = true
		case "launcher":
			launcher = true
		case "dap":
			dap = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'dbgcore help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
	ForceColors bool
}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}

	fmt.Fprintf(b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), f.level(entry.Level))
	for _, key := range sortedKeys(keys) {
		fmt.Fprintf(b, "%s=%v ", key, entry.Data[key])
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) level(lvl logrus.Level) string {
	s := strings.ToLower(lvl.String())
	if !f.ForceColors {
		return s
	}
	switch lvl {
	case logrus.WarnLevel:
		return "\x1b[33m" + s + "\x1b[0m"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "\x1b[31m" + s + "\x1b[0m"
	}
	return s
}

func sortedKeys(keys []string) []string {
	// "layer" goes first, the rest keep lexical order.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keyLess(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func keyLess(a, b string) bool {
	if a == "layer" {
		return b != "layer"
	}
	if b == "layer" {
		return false
	}
	return a < b
}
