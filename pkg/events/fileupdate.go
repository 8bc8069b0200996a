package events

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// FileProcessingState is the phase of a file transfer reported by the
// backend while it attaches.
type FileProcessingState int

const (
	FileRead FileProcessingState = iota
	FileClose
)

// FileUpdate is the payload of a file-update structured data event.
type FileUpdate struct {
	File   string              `json:"file"`
	Method FileProcessingState `json:"method"`
	Size   int64               `json:"size"`
	Offset int64               `json:"offset"`
}

// The backend renders structured data events as
//
//	<event>, type = 0x00000020 (file-update), data = {{<json object>}}
//
// with the json object braces doubled.
var fileUpdateRegex = regexp.MustCompile(`(?s), type = 0x00000020 \(file-update\), data = \{(\{.*\})\}\s*$`)

// ParseFileUpdate extracts the file update from an event description. It
// returns false if the description is not a well formed file update.
func ParseFileUpdate(description string) (FileUpdate, bool) {
	m := fileUpdateRegex.FindStringSubmatch(description)
	if m == nil {
		return FileUpdate{}, false
	}
	var u FileUpdate
	if err := json.Unmarshal([]byte(m[1]), &u); err != nil {
		return FileUpdate{}, false
	}
	return u, true
}

// ProgressMessage returns the attach progress message for u, "" if u
// should not be reported.
func (u FileUpdate) ProgressMessage() string {
	switch u.Method {
	case FileRead:
		return fmt.Sprintf("Debugger is attaching:\ndownloading %s (%.1f MB)", u.File, float64(u.Size)/(1<<20))
	case FileClose:
		return "Debugger is attaching: loading modules"
	}
	return ""
}
