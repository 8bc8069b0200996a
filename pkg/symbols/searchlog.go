package symbols

import (
	"strings"
	"sync"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/backend"
)

// SearchLogHolder keeps the log of the last file search of every module,
// it is shown to the user when asking why symbols are missing.
//
// Logs are keyed by the path of the module on the target platform, so the
// log of a placeholder carries over to the module that replaced it.
type SearchLogHolder struct {
	mu   sync.Mutex
	logs map[string]string
}

// NewSearchLogHolder returns an empty holder.
func NewSearchLogHolder() *SearchLogHolder {
	return &SearchLogHolder{logs: map[string]string{}}
}

func searchLogKey(m backend.Module) string {
	return m.PlatformFileSpec().Path()
}

// Get returns the search log of m, "" if there is none.
func (h *SearchLogHolder) Get(m backend.Module) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logs[searchLogKey(m)]
}

// Append adds log to the search log of m. Blank logs are ignored.
func (h *SearchLogHolder) Append(m backend.Module, log string) {
	log = strings.TrimRight(log, "\r\n")
	if strings.TrimSpace(log) == "" {
		return
	}
	key := searchLogKey(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing := h.logs[key]; strings.TrimSpace(existing) != "" {
		h.logs[key] = existing + "\n" + log
		return
	}
	h.logs[key] = log
}

// Reset clears the search log of m.
func (h *SearchLogHolder) Reset(m backend.Module) {
	key := searchLogKey(m)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.logs[key]; ok {
		h.logs[key] = ""
	}
}
