package locspec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FuncOffset is a function breakpoint location.
type FuncOffset struct {
	Name string
	// Offset is the number of lines after the start of the function, 0
	// means the function entry.
	Offset uint32
}

var funcOffsetRegex = regexp.MustCompile(`^\s*{\s*(?P<name>[a-zA-Z_][a-zA-Z0-9_:]*)\s*,\s*,\s*}\s*\+?\s*(?P<offset>\d+)?\s*$`)

// ParseFuncOffset parses s as a function location. If s uses the
// "{name, ,}+offset" form the name and offset are extracted and the second
// return value is true, otherwise s is returned as the function name with a
// zero offset.
func ParseFuncOffset(s string) (FuncOffset, bool) {
	m := funcOffsetRegex.FindStringSubmatch(s)
	if m == nil {
		return FuncOffset{Name: s}, false
	}
	loc := FuncOffset{Name: m[funcOffsetRegex.SubexpIndex("name")]}
	if off := m[funcOffsetRegex.SubexpIndex("offset")]; off != "" {
		n, err := strconv.ParseUint(off, 10, 32)
		if err != nil {
			return FuncOffset{Name: s}, false
		}
		loc.Offset = uint32(n)
	}
	return loc, true
}

func (loc FuncOffset) String() string {
	if loc.Offset == 0 {
		return loc.Name
	}
	return fmt.Sprintf("{%s, ,}+%d", loc.Name, loc.Offset)
}

// ParseAddress parses a hexadecimal code address, with or without a 0x
// prefix.
func ParseAddress(s string) (uint64, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
	addr, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		//lint:ignore ST1005 shown to the user
		return 0, fmt.Errorf("Malformed address \"%s\": %v", s, err)
	}
	return addr, nil
}
