package elfwriter

import "debug/elf"

// Note types and names used by GNU toolchains.
const (
	NoteGNUBuildID elf.NType = 3 // NT_GNU_BUILD_ID
	NoteNameGNU              = "GNU"
)

// Section names the debugger looks at to match binaries with their symbol
// files.
const (
	SectionBuildID      = ".note.gnu.build-id"
	SectionDebugLink    = ".gnu_debuglink"
	SectionDebugInfoDir = ".note.debug_info_dir"
	SectionDebugInfo    = ".debug_info"
	SectionText         = ".text"
)
