package symstore

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

const (
	debuginfodFind       = "debuginfod-find"
	debuginfodMaxtimeEnv = "DEBUGINFOD_MAXTIME"
	debuginfodTimeoutEnv = "DEBUGINFOD_TIMEOUT"
	debuginfodURLsEnv    = "DEBUGINFOD_URLS"
)

// DebuginfodStore looks files up with the debuginfod client. The client
// downloads into its own cache, so files it returns are local.
type DebuginfodStore struct {
	// urls overrides DEBUGINFOD_URLS when not empty.
	urls string
	// find is the client executable, tests replace it.
	find string
}

// NewDebuginfodStore returns a store using the debuginfod servers listed
// in urls, or the ones in the environment if urls is empty.
func NewDebuginfodStore(urls string) *DebuginfodStore {
	return &DebuginfodStore{urls: urls, find: debuginfodFind}
}

func (s *DebuginfodStore) execFind(ctx context.Context, args ...string) (string, error) {
	if _, err := exec.LookPath(s.find); err != nil {
		return "", err
	}
	cmd := exec.CommandContext(ctx, s.find, args...)
	cmd.Env = os.Environ()
	if os.Getenv(debuginfodMaxtimeEnv) == "" || os.Getenv(debuginfodTimeoutEnv) == "" {
		cmd.Env = append(cmd.Env, debuginfodMaxtimeEnv+"=1", debuginfodTimeoutEnv+"=1")
	}
	if s.urls != "" {
		cmd.Env = append(cmd.Env, debuginfodURLsEnv+"="+s.urls)
	}
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *DebuginfodStore) FindFile(ctx context.Context, q Query, log io.Writer, forceLoad bool) FileReference {
	if q.BuildID.IsEmpty() {
		logLine(log, msgFailedToSearchDebuginfod(q.Filename, msgEmptyBuildID))
		return nil
	}
	kind := "executable"
	if q.IsDebugInfoFile {
		kind = "debuginfo"
	}
	p, err := s.execFind(ctx, kind, strings.ToLower(q.BuildID.HexString()))
	if err != nil {
		logLine(log, msgFailedToSearchDebuginfod(q.Filename, err.Error()))
		return nil
	}
	if p == "" {
		logLine(log, msgFileNotFound(q.BuildID.String()+"/"+q.Filename))
		return nil
	}
	logLine(log, msgFileFound(p))
	return NewFileReference(p)
}

func (s *DebuginfodStore) AddFile(ctx context.Context, source FileReference, filename string, id buildid.BuildID, log io.Writer) (FileReference, error) {
	return nil, &StoreError{Msg: msgCopyToDebuginfodNotSupported, Err: ErrNotSupported}
}

func (s *DebuginfodStore) IsCache() bool { return false }

func (s *DebuginfodStore) String() string {
	if s.urls == "" {
		return "debuginfod"
	}
	return "debuginfod(" + s.urls + ")"
}
