package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"hash/crc32"
	"os"
)

// Module describes a minimal x86-64 module image: a .text section plus the
// sections that identify the module and point at its symbol file.
type Module struct {
	Type elf.Type // ET_DYN if unset

	BuildID      []byte
	DebugLink    string // .gnu_debuglink file name
	DebugLinkCRC uint32
	DebugInfoDir string // .note.debug_info_dir contents
	DebugInfo    bool   // adds an empty .debug_info section

	// TextAddr is the virtual address of .text; TextAddr minus the file
	// offset of .text is the module's preferred base.
	TextAddr uint64
	Text     []byte
}

// WriteModule writes m as an ELF file at path.
func WriteModule(path string, m Module) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	typ := m.Type
	if typ == elf.ET_NONE {
		typ = elf.ET_DYN
	}
	w := New(f, &elf.FileHeader{
		Class:   elf.ELFCLASS64,
		Data:    elf.ELFDATA2LSB,
		Version: elf.EV_CURRENT,
		OSABI:   elf.ELFOSABI_NONE,
		Type:    typ,
		Machine: elf.EM_X86_64,
	})

	text := m.Text
	if text == nil {
		text = []byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3} // push rbp; mov rbp, rsp; pop rbp; ret
	}
	w.WriteSection(&Section{Name: SectionText, Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: m.TextAddr, Addralign: 16}, text)

	if m.BuildID != nil {
		s := &Section{Name: SectionBuildID, Type: elf.SHT_NOTE, Flags: elf.SHF_ALLOC, Addralign: 4}
		w.WriteSection(s, EncodeNotes([]Note{{Type: NoteGNUBuildID, Name: NoteNameGNU, Data: m.BuildID}}))
		w.Progs = append(w.Progs, &elf.ProgHeader{Type: elf.PT_NOTE, Flags: elf.PF_R, Off: s.Offset, Filesz: s.Size, Memsz: s.Size, Align: 4})
	}
	if m.DebugLink != "" {
		data := append([]byte(m.DebugLink), 0)
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
		crc := m.DebugLinkCRC
		if crc == 0 {
			crc = crc32.ChecksumIEEE([]byte(m.DebugLink))
		}
		data = binary.LittleEndian.AppendUint32(data, crc)
		w.WriteSection(&Section{Name: SectionDebugLink, Type: elf.SHT_PROGBITS, Addralign: 4}, data)
	}
	if m.DebugInfoDir != "" {
		w.WriteSection(&Section{Name: SectionDebugInfoDir, Type: elf.SHT_NOTE, Addralign: 1}, append([]byte(m.DebugInfoDir), 0))
	}
	if m.DebugInfo {
		w.WriteSection(&Section{Name: SectionDebugInfo, Type: elf.SHT_PROGBITS, Addralign: 1}, []byte{})
	}

	if len(w.Progs) > 0 {
		w.WriteProgramHeaders()
	}
	w.WriteSectionHeaders()

	if w.Err != nil {
		f.Close()
		return w.Err
	}
	return f.Close()
}
