// Package testelf assembles small ELF64 executables in memory so tests can
// exercise the parser and the pager against real file layouts.
package testelf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
)

const pageSize = 0x1000

type Segment struct {
	Vaddr   uint64
	MemSize uint64
	Flags   elf.ProgFlag
	Data    []byte
}

type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
}

type Builder struct {
	Entry    uint64
	Machine  elf.Machine
	Class    elf.Class
	Segments []Segment
	Symbols  []Symbol
}

// Build returns the file contents and the file offset chosen for each
// segment's data. Offsets are congruent to the segment address modulo the
// page size, as a linker lays them out.
func (b *Builder) Build() ([]byte, []uint64) {
	machine := b.Machine
	if machine == 0 {
		machine = elf.EM_X86_64
	}
	class := b.Class
	if class == 0 {
		class = elf.ELFCLASS64
	}

	phoff := uint64(binary.Size(elf.Header64{}))
	cur := phoff + uint64(len(b.Segments)*binary.Size(elf.Prog64{}))
	offsets := make([]uint64, len(b.Segments))
	for i, seg := range b.Segments {
		off := roundUp(cur, pageSize) + seg.Vaddr%pageSize
		offsets[i] = off
		cur = off + uint64(len(seg.Data))
	}

	var strtab, symtab, shstrtab []byte
	var shoff uint64
	if len(b.Symbols) > 0 {
		strtab = []byte{0}
		sym := new(bytes.Buffer)
		binary.Write(sym, binary.LittleEndian, &elf.Sym64{})
		for _, s := range b.Symbols {
			binary.Write(sym, binary.LittleEndian, &elf.Sym64{
				Name:  uint32(len(strtab)),
				Info:  elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC),
				Shndx: uint16(elf.SHN_ABS),
				Value: s.Value,
				Size:  s.Size,
			})
			strtab = append(append(strtab, s.Name...), 0)
		}
		symtab = sym.Bytes()
		shstrtab = []byte("\x00.symtab\x00.strtab\x00.shstrtab\x00")
		shoff = roundUp(cur+uint64(len(strtab)+len(symtab)+len(shstrtab)), 8)
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     b.Entry,
		Phoff:     phoff,
		Ehsize:    uint16(binary.Size(elf.Header64{})),
		Phentsize: uint16(binary.Size(elf.Prog64{})),
		Phnum:     uint16(len(b.Segments)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(class)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if shoff != 0 {
		hdr.Shoff = shoff
		hdr.Shentsize = uint16(binary.Size(elf.Section64{}))
		hdr.Shnum = 4
		hdr.Shstrndx = 3
	}

	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, &hdr)
	for i, seg := range b.Segments {
		binary.Write(buf, binary.LittleEndian, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(seg.Flags),
			Off:    offsets[i],
			Vaddr:  seg.Vaddr,
			Paddr:  seg.Vaddr,
			Filesz: uint64(len(seg.Data)),
			Memsz:  seg.MemSize,
			Align:  pageSize,
		})
	}
	for i, seg := range b.Segments {
		pad(buf, offsets[i])
		buf.Write(seg.Data)
	}
	if shoff == 0 {
		return buf.Bytes(), offsets
	}

	strOff := uint64(buf.Len())
	buf.Write(strtab)
	symOff := uint64(buf.Len())
	buf.Write(symtab)
	shstrOff := uint64(buf.Len())
	buf.Write(shstrtab)
	pad(buf, shoff)
	sections := []elf.Section64{
		{},
		{Name: 1, Type: uint32(elf.SHT_SYMTAB), Off: symOff, Size: uint64(len(symtab)), Link: 2, Info: 1, Addralign: 8, Entsize: uint64(binary.Size(elf.Sym64{}))},
		{Name: 9, Type: uint32(elf.SHT_STRTAB), Off: strOff, Size: uint64(len(strtab)), Addralign: 1},
		{Name: 17, Type: uint32(elf.SHT_STRTAB), Off: shstrOff, Size: uint64(len(shstrtab)), Addralign: 1},
	}
	for i := range sections {
		binary.Write(buf, binary.LittleEndian, &sections[i])
	}
	return buf.Bytes(), offsets
}

func (b *Builder) WriteFile(path string) ([]uint64, error) {
	data, offsets := b.Build()
	return offsets, os.WriteFile(path, data, 0o755)
}

func roundUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func pad(buf *bytes.Buffer, to uint64) {
	if n := int(to) - buf.Len(); n > 0 {
		buf.Write(make([]byte, n))
	}
}
