// elfwriter is a package to write ELF files without having their entire
// contents in memory at any one time.
// This package is incomplete, only features needed to write module images
// the debugger can inspect are implemented, notably missing:
// - symbol tables
// - relocations
// - 32bit and big endian files

package elfwriter

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"io"
)

// WriteCloserSeeker is the union of io.Writer, io.Closer and io.Seeker.
type WriteCloserSeeker interface {
	io.Writer
	io.Seeker
	io.Closer
}

// Writer writes ELF files.
type Writer struct {
	w        WriteCloserSeeker
	Err      error
	Progs    []*elf.ProgHeader
	Sections []*Section

	seekProgHeader    int64
	seekSectionHeader int64
	seekProgNum       int64
	seekSectionNum    int64
}

// Section is a section written to the file. Offset and Size are filled in
// by WriteSection.
type Section struct {
	Name      string
	Type      elf.SectionType
	Flags     elf.SectionFlag
	Addr      uint64
	Offset    uint64
	Size      uint64
	Addralign uint64
}

type Note struct {
	Type elf.NType
	Name string
	Data []byte
}

const (
	ehsize    = 64
	phentsize = 56
	shentsize = 64
)

// New creates a new Writer.
func New(w WriteCloserSeeker, fhdr *elf.FileHeader) *Writer {
	if seek, _ := w.Seek(0, io.SeekCurrent); seek != 0 {
		panic("can't write halfway through a file")
	}

	r := &Writer{w: w}

	if fhdr.Class != elf.ELFCLASS64 {
		panic("unsupported")
	}

	if fhdr.Data != elf.ELFDATA2LSB {
		panic("unsupported")
	}

	// e_ident
	r.Write([]byte{0x7f, 'E', 'L', 'F', byte(fhdr.Class), byte(fhdr.Data), byte(fhdr.Version), byte(fhdr.OSABI), byte(fhdr.ABIVersion), 0, 0, 0, 0, 0, 0, 0})

	r.u16(uint16(fhdr.Type))    // e_type
	r.u16(uint16(fhdr.Machine)) // e_machine
	r.u32(uint32(fhdr.Version)) // e_version
	r.u64(fhdr.Entry)           // e_entry
	r.seekProgHeader = r.Here()
	r.u64(0) // e_phoff
	r.seekSectionHeader = r.Here()
	r.u64(0)         // e_shoff
	r.u32(0)         // e_flags
	r.u16(ehsize)    // e_ehsize
	r.u16(phentsize) // e_phentsize
	r.seekProgNum = r.Here()
	r.u16(0)         // e_phnum
	r.u16(shentsize) // e_shentsize
	r.seekSectionNum = r.Here()
	r.u16(0)                     // e_shnum
	r.u16(uint16(elf.SHN_UNDEF)) // e_shstrndx

	// Sanity check, size of file header should be the same as ehsize
	if sz, _ := w.Seek(0, io.SeekCurrent); sz != ehsize {
		panic("internal error, ELF header size")
	}

	return r
}

// EncodeNotes returns notes in the format used by the contents of
// SHT_NOTE sections and PT_NOTE segments.
func EncodeNotes(notes []Note) []byte {
	var buf bytes.Buffer
	pad := func() {
		for buf.Len()%4 != 0 {
			buf.WriteByte(0)
		}
	}
	for _, note := range notes {
		name := note.Name
		if name != "" {
			name += "\x00"
		}
		binary.Write(&buf, binary.LittleEndian, uint32(len(name)))
		binary.Write(&buf, binary.LittleEndian, uint32(len(note.Data)))
		binary.Write(&buf, binary.LittleEndian, uint32(note.Type))
		buf.WriteString(name)
		pad()
		buf.Write(note.Data)
		pad()
	}
	return buf.Bytes()
}

// WriteSection writes data at the current location (aligned to
// s.Addralign) and records s so that WriteSectionHeaders can describe it.
func (w *Writer) WriteSection(s *Section, data []byte) {
	if s.Addralign > 1 {
		w.Align(int64(s.Addralign))
	}
	s.Offset = uint64(w.Here())
	s.Size = uint64(len(data))
	w.Write(data)
	w.Sections = append(w.Sections, s)
}

// WriteProgramHeaders writes the program headers at the current location
// and patches the file header accordingly.
func (w *Writer) WriteProgramHeaders() {
	w.Align(8)
	phoff := w.Here()

	// Patch File Header
	w.patch(w.seekProgHeader, func() { w.u64(uint64(phoff)) })
	w.patch(w.seekProgNum, func() { w.u16(uint16(len(w.Progs))) })

	for _, prog := range w.Progs {
		w.u32(uint32(prog.Type))
		w.u32(uint32(prog.Flags))
		w.u64(prog.Off)
		w.u64(prog.Vaddr)
		w.u64(prog.Paddr)
		w.u64(prog.Filesz)
		w.u64(prog.Memsz)
		w.u64(prog.Align)
	}
}

// WriteSectionHeaders writes the section name table followed by the
// section headers (a null section, every section passed to WriteSection
// and the name table itself) and patches the file header accordingly.
func (w *Writer) WriteSectionHeaders() {
	var names bytes.Buffer
	names.WriteByte(0)
	nameOff := make([]uint32, len(w.Sections))
	for i, s := range w.Sections {
		nameOff[i] = uint32(names.Len())
		names.WriteString(s.Name)
		names.WriteByte(0)
	}
	shstrtabName := uint32(names.Len())
	names.WriteString(".shstrtab")
	names.WriteByte(0)

	shstrtab := &Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, Addralign: 1}
	shstrtab.Offset = uint64(w.Here())
	shstrtab.Size = uint64(names.Len())
	w.Write(names.Bytes())

	w.Align(8)
	shoff := w.Here()
	shnum := len(w.Sections) + 2

	w.patch(w.seekSectionHeader, func() { w.u64(uint64(shoff)) })
	w.patch(w.seekSectionNum, func() {
		w.u16(uint16(shnum))     // e_shnum
		w.u16(uint16(shnum - 1)) // e_shstrndx
	})

	w.sectionHeader(0, &Section{})
	for i, s := range w.Sections {
		w.sectionHeader(nameOff[i], s)
	}
	w.sectionHeader(shstrtabName, shstrtab)
}

func (w *Writer) sectionHeader(name uint32, s *Section) {
	w.u32(name)
	w.u32(uint32(s.Type))
	w.u64(uint64(s.Flags))
	w.u64(s.Addr)
	w.u64(s.Offset)
	w.u64(s.Size)
	w.u32(0) // sh_link
	w.u32(0) // sh_info
	w.u64(s.Addralign)
	w.u64(0) // sh_entsize
}

func (w *Writer) patch(off int64, fn func()) {
	if _, err := w.w.Seek(off, io.SeekStart); err != nil && w.Err == nil {
		w.Err = err
	}
	fn()
	if _, err := w.w.Seek(0, io.SeekEnd); err != nil && w.Err == nil {
		w.Err = err
	}
}

// Here returns the current seek offset from the start of the file.
func (w *Writer) Here() int64 {
	r, err := w.w.Seek(0, io.SeekCurrent)
	if err != nil && w.Err == nil {
		w.Err = err
	}
	return r
}

// Align writes as many padding bytes as needed to make the current file
// offset a multiple of align.
func (w *Writer) Align(align int64) {
	off := w.Here()
	alignOff := (off + (align - 1)) &^ (align - 1)
	if alignOff-off > 0 {
		w.Write(make([]byte, alignOff-off))
	}
}

func (w *Writer) Write(buf []byte) {
	_, err := w.w.Write(buf)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u16(n uint16) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u32(n uint32) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}

func (w *Writer) u64(n uint64) {
	err := binary.Write(w.w, binary.LittleEndian, n)
	if err != nil && w.Err == nil {
		w.Err = err
	}
}
