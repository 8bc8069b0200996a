package elfwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
)

// Core note types and names.
const (
	NoteFile     elf.NType = 0x46494c45 // NT_FILE
	NoteNameCore           = "CORE"
)

// FileMapping is an entry of a NT_FILE note: the file Path mapped at
// [Start, End) from page PageOffset of the file.
type FileMapping struct {
	Start, End uint64
	PageOffset uint64
	Path       string
}

// EncodeFileNote returns the descriptor of a NT_FILE note.
func EncodeFileNote(pageSize uint64, mappings []FileMapping) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint64(len(mappings)))
	binary.Write(&buf, binary.LittleEndian, pageSize)
	for _, m := range mappings {
		binary.Write(&buf, binary.LittleEndian, m.Start)
		binary.Write(&buf, binary.LittleEndian, m.End)
		binary.Write(&buf, binary.LittleEndian, m.PageOffset)
	}
	for _, m := range mappings {
		buf.WriteString(m.Path)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Segment is memory of the dumped process.
type Segment struct {
	Vaddr uint64
	Data  []byte
}

// WriteCore writes a core file made of a PT_NOTE segment holding notes and
// one PT_LOAD segment per entry of segments. Program headers come right
// after the file header, as in the cores written by the kernel.
func WriteCore(path string, notes []Note, segments []Segment) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := New(f, &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Version: elf.EV_CURRENT,
		OSABI:   elf.ELFOSABI_NONE,
		Type:    elf.ET_CORE,
		Machine: elf.EM_X86_64,
	})

	align := func(off uint64) uint64 { return (off + 15) &^ 15 }
	nprogs := len(segments)
	var noteData []byte
	if len(notes) > 0 {
		noteData = EncodeNotes(notes)
		nprogs++
	}
	off := uint64(ehsize + nprogs*phentsize)
	if noteData != nil {
		w.Progs = append(w.Progs, &elf.ProgHeader{Type: elf.PT_NOTE, Off: off, Filesz: uint64(len(noteData)), Align: 4})
		off += uint64(len(noteData))
	}
	for _, s := range segments {
		off = align(off)
		w.Progs = append(w.Progs, &elf.ProgHeader{
			Type:   elf.PT_LOAD,
			Flags:  elf.PF_R,
			Off:    off,
			Vaddr:  s.Vaddr,
			Filesz: uint64(len(s.Data)),
			Memsz:  uint64(len(s.Data)),
			Align:  16,
		})
		off += uint64(len(s.Data))
	}
	w.WriteProgramHeaders()
	w.Write(noteData)
	for _, s := range segments {
		w.Align(16)
		w.Write(s.Data)
	}
	if w.Err != nil {
		f.Close()
		return w.Err
	}
	return f.Close()
}
