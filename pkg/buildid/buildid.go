// Package buildid implements the identifier used to match a module
// loaded by the debugger with copies of its binary and symbol files.
package buildid

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BuildID is the content of an ELF NT_GNU_BUILD_ID note.
// The zero value is the empty build ID.
type BuildID struct {
	b string
}

// Empty is the unknown build ID.
var Empty = BuildID{}

// FromBytes returns the build ID made of b.
func FromBytes(b []byte) BuildID {
	return BuildID{string(b)}
}

// Parse parses a hexadecimal build ID. Dashes are ignored so the format
// returned by String (which is also the format the backend reports module
// UUIDs in) round trips. The empty string parses to Empty.
func Parse(s string) (BuildID, error) {
	h := strings.Replace(s, "-", "", -1)
	if len(h)%2 != 0 {
		return Empty, fmt.Errorf("invalid build ID %q: odd number of hex digits", s)
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return Empty, fmt.Errorf("invalid build ID %q: %v", s, err)
	}
	return BuildID{string(b)}, nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) BuildID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsEmpty returns true for the unknown build ID.
func (id BuildID) IsEmpty() bool {
	return len(id.b) == 0
}

// Bytes returns a copy of the raw build ID.
func (id BuildID) Bytes() []byte {
	return []byte(id.b)
}

// HexString returns the build ID as upper case hex digits.
func (id BuildID) HexString() string {
	return strings.ToUpper(hex.EncodeToString([]byte(id.b)))
}

// String returns the build ID in UUID form, upper case hex digits grouped
// as 4-2-2-2-6 bytes, then further groups of up to 6 bytes:
//
//	F0E1D2C3-B4A5-9687-7869-5A4B3C2D1E0F-00001304
//
// This is also the directory name used by structured symbol stores.
func (id BuildID) String() string {
	var sb strings.Builder
	const digits = "0123456789ABCDEF"
	for i := 0; i < len(id.b); i++ {
		c := id.b[i]
		sb.WriteByte(digits[c>>4])
		sb.WriteByte(digits[c&0xf])
		if i == len(id.b)-1 {
			break
		}
		if i == 3 || i == 5 || i == 7 || i == 9 || (i > 9 && (i-9)%6 == 0) {
			sb.WriteByte('-')
		}
	}
	return sb.String()
}

// PathName returns the name of the directory that holds files with this
// build ID inside a structured store.
func (id BuildID) PathName() string {
	return id.String()
}
