package elfutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
	"sort"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/elfwriter"
	"github.com/googlestadia/vsi-lldb-sub002/pkg/logflags"
)

// CoreWarning is a problem found while reading the modules of a core file.
// The debugger can still try to load a core file with a warning.
type CoreWarning int

const (
	CoreOK CoreWarning = iota
	CoreFileDoesNotExist
	CoreFileIsTruncated
	CoreHeaderIsCorrupted
	CoreExecutableBuildIDMissing
)

func (w CoreWarning) String() string {
	switch w {
	case CoreOK:
		return "none"
	case CoreFileDoesNotExist:
		return "the core file does not exist"
	case CoreFileIsTruncated:
		return "the core file is truncated"
	case CoreHeaderIsCorrupted:
		return "the ELF header of the core file is corrupted"
	case CoreExecutableBuildIDMissing:
		return "the build ID of the executable is missing"
	}
	return "unknown"
}

// CoreModule is a module mapped in a core file.
type CoreModule struct {
	Path         string
	BuildID      buildid.BuildID
	IsExecutable bool
}

// CoreModules is the result of ReadCoreModules.
type CoreModules struct {
	Modules []CoreModule
	Warning CoreWarning
}

// ReadCoreModules lists the modules mapped in the core file at path that
// have a build ID. Modules are found through the NT_FILE note, their build
// ID is read from the ELF image in the dumped memory.
func ReadCoreModules(path string) CoreModules {
	st, err := os.Stat(path)
	if path == "" || err != nil {
		logflags.SymbolsLogger().Debugf("Dump file %s doesn't exist.", path)
		return CoreModules{Warning: CoreFileDoesNotExist}
	}
	f, err := elf.Open(path)
	if err != nil {
		return CoreModules{Warning: CoreHeaderIsCorrupted}
	}
	defer f.Close()

	r := CoreModules{}
	var files []elfwriter.FileMapping
	var loads []*elf.Prog
	for _, prog := range f.Progs {
		if prog.Off+prog.Filesz > uint64(st.Size()) && r.Warning == CoreOK {
			r.Warning = CoreFileIsTruncated
		}
		switch prog.Type {
		case elf.PT_NOTE:
			data := make([]byte, prog.Filesz)
			n, _ := prog.ReadAt(data, 0)
			files = append(files, fileMappings(data[:n], f.ByteOrder)...)
		case elf.PT_LOAD:
			loads = append(loads, prog)
		}
	}

	mem := newCoreMemory(loads)
	for _, file := range files {
		m, ok := mem.module(file, f.ByteOrder)
		if !ok {
			logflags.SymbolsLogger().Debugf("Can't find build id for module %s.", file.Path)
			continue
		}
		r.Modules = append(r.Modules, m)
	}
	return r
}

// forEachNote calls fn for each note in data until fn returns false.
func forEachNote(data []byte, order binary.ByteOrder, fn func(name string, typ elf.NType, desc []byte) bool) {
	align := func(n uint32) uint64 { return (uint64(n) + 3) &^ 3 }
	for len(data) >= 12 {
		namesz := order.Uint32(data[0:])
		descsz := order.Uint32(data[4:])
		typ := elf.NType(order.Uint32(data[8:]))
		data = data[12:]
		if align(namesz) > uint64(len(data)) {
			return
		}
		name := string(bytes.TrimRight(data[:namesz], "\x00"))
		data = data[align(namesz):]
		if uint64(descsz) > uint64(len(data)) {
			return
		}
		if !fn(name, typ, data[:descsz]) {
			return
		}
		if align(descsz) >= uint64(len(data)) {
			return
		}
		data = data[align(descsz):]
	}
}

// fileMappings returns the mappings of the NT_FILE notes in data that
// start at the beginning of their file, where the ELF header is.
func fileMappings(data []byte, order binary.ByteOrder) []elfwriter.FileMapping {
	var r []elfwriter.FileMapping
	forEachNote(data, order, func(name string, typ elf.NType, desc []byte) bool {
		if name != elfwriter.NoteNameCore || typ != elfwriter.NoteFile || len(desc) < 16 {
			return true
		}
		count := order.Uint64(desc)
		desc = desc[16:]
		if count > uint64(len(desc))/24 {
			return true
		}
		entries := desc[:count*24]
		names := bytes.Split(desc[count*24:], []byte{0})
		for i := uint64(0); i < count && i < uint64(len(names)); i++ {
			e := entries[i*24:]
			m := elfwriter.FileMapping{
				Start:      order.Uint64(e),
				End:        order.Uint64(e[8:]),
				PageOffset: order.Uint64(e[16:]),
				Path:       string(names[i]),
			}
			if m.PageOffset == 0 {
				r = append(r, m)
			}
		}
		return true
	})
	return r
}

// coreMemory reads the dumped memory of a process.
type coreMemory struct {
	segs []*elf.Prog // sorted by Vaddr
}

func newCoreMemory(loads []*elf.Prog) *coreMemory {
	sort.Slice(loads, func(i, j int) bool { return loads[i].Vaddr < loads[j].Vaddr })
	return &coreMemory{segs: loads}
}

// read reads up to size bytes at addr, stopping at the first gap in the
// dumped memory.
func (m *coreMemory) read(addr uint64, size int) []byte {
	i := sort.Search(len(m.segs), func(i int) bool { return m.segs[i].Vaddr+m.segs[i].Filesz > addr })
	var out []byte
	for ; i < len(m.segs) && len(out) < size; i++ {
		seg := m.segs[i]
		if addr < seg.Vaddr {
			break
		}
		off := addr - seg.Vaddr
		n := seg.Filesz - off
		if rem := uint64(size - len(out)); n > rem {
			n = rem
		}
		buf := make([]byte, n)
		k, _ := seg.ReadAt(buf, int64(off))
		out = append(out, buf[:k]...)
		if uint64(k) < n {
			break
		}
		addr += n
	}
	return out
}

const (
	ehdrSize = 64
	phdrSize = 56
)

// module reads the build ID of the ELF image mapped by file.
func (m *coreMemory) module(file elfwriter.FileMapping, order binary.ByteOrder) (CoreModule, bool) {
	hdr := m.read(file.Start, ehdrSize)
	if len(hdr) < ehdrSize || !bytes.Equal(hdr[:4], []byte(elf.ELFMAG)) || elf.Class(hdr[elf.EI_CLASS]) != elf.ELFCLASS64 {
		logflags.SymbolsLogger().Debugf("Failed to read elf header for module %s.", file.Path)
		return CoreModule{}, false
	}
	typ := elf.Type(order.Uint16(hdr[16:]))
	phoff := order.Uint64(hdr[32:])
	phentsize := uint64(order.Uint16(hdr[54:]))
	phnum := uint64(order.Uint16(hdr[56:]))
	if phentsize < phdrSize {
		return CoreModule{}, false
	}
	phdrs := m.read(file.Start+phoff, int(phentsize*phnum))
	mapped := file.End - file.Start
	for i := uint64(0); (i+1)*phentsize <= uint64(len(phdrs)); i++ {
		ph := phdrs[i*phentsize:]
		if elf.ProgType(order.Uint32(ph)) != elf.PT_NOTE {
			continue
		}
		off := order.Uint64(ph[8:])
		filesz := order.Uint64(ph[32:])
		if off+filesz > mapped {
			logflags.SymbolsLogger().Debugf("Note segment of module %s is outside of its first mapping.", file.Path)
			continue
		}
		notes := m.read(file.Start+off, int(filesz))
		if uint64(len(notes)) < filesz {
			continue
		}
		if id, ok := findBuildIDNote(notes, order); ok {
			return CoreModule{Path: file.Path, BuildID: id, IsExecutable: typ == elf.ET_EXEC}, true
		}
	}
	return CoreModule{}, false
}
