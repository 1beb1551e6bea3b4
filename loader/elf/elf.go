package elf

import (
	"debug/elf"
	"fmt"
	"io"
	"os"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
)

var ErrUnsupported = errors.New("unsupported executable")

func wrap(err error) error {
	if err != nil {
		return errors.Wrap(err, 1)
	}
	return nil
}

func unsupported(format string, args ...interface{}) error {
	return errors.WrapPrefix(ErrUnsupported, fmt.Sprintf(format, args...), 1)
}

func elfFlagsToPageFlags(in elf.ProgFlag) ds.PageFlags {
	res := ds.PageFlags(0)
	if in&elf.PF_X != 0 {
		res |= ds.X
	}
	if in&elf.PF_R != 0 {
		res |= ds.R
	}
	if in&elf.PF_W != 0 {
		res |= ds.W
	}
	return res
}

// Parse reads the image at path. The file is only inspected here; segment
// bytes are left on disk for the pager to read on demand.
func Parse(path string, pageSize uint64) (*ds.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap(err)
	}
	defer f.Close()
	return NewImage(f, path, pageSize)
}

func NewImage(r io.ReaderAt, path string, pageSize uint64) (*ds.Image, error) {
	e, err := elf.NewFile(r)
	if err != nil {
		return nil, wrap(err)
	}
	defer e.Close()

	if e.Class != elf.ELFCLASS64 || e.Data != elf.ELFDATA2LSB || e.Machine != elf.EM_X86_64 {
		return nil, unsupported("%v %v %v", e.Class, e.Data, e.Machine)
	}
	if e.Type != elf.ET_EXEC {
		return nil, unsupported("type %v", e.Type)
	}

	segments, err := GetSegments(e, pageSize)
	if err != nil {
		return nil, err
	}
	img := &ds.Image{
		Path:     path,
		Entry:    e.Entry,
		Segments: segments,
		Symbols:  GetSymbols(e),
	}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"path": path, "entry": hex(img.Entry), "segments": len(segments)}).Debug("Parsed Image")
	return img, nil
}

// GetSegments turns PT_LOAD headers into page-aligned segments. The slack
// below an unaligned start is taken from the file too, as the kernel does.
func GetSegments(e *elf.File, pageSize uint64) ([]*ds.Segment, error) {
	var res []*ds.Segment
	for _, prog := range e.Progs {
		hdr := prog.ProgHeader
		if hdr.Type != elf.PT_LOAD || hdr.Memsz == 0 {
			continue
		}
		if hdr.Filesz > hdr.Memsz {
			return nil, unsupported("segment at 0x%x has filesz 0x%x > memsz 0x%x", hdr.Vaddr, hdr.Filesz, hdr.Memsz)
		}
		delta := hdr.Vaddr % pageSize
		if hdr.Off%pageSize != delta {
			return nil, unsupported("segment at 0x%x is not congruent with offset 0x%x", hdr.Vaddr, hdr.Off)
		}
		seg := ds.NewSegment(hdr.Vaddr-delta, hdr.Memsz+delta, hdr.Off-delta, hdr.Filesz+delta, elfFlagsToPageFlags(hdr.Flags))
		log.WithFields(log.Fields{
			"vaddr":  hex(seg.Range.From),
			"memsz":  hex(seg.Range.Length()),
			"offset": hex(seg.FileOffset),
			"filesz": hex(seg.FileSize),
			"flags":  seg.Flags,
		}).Debug("Loadable Segment")
		res = append(res, seg)
	}
	return res, nil
}

func elfSymbolTypeToSymbolType(typ elf.SymType) ds.SymbolType {
	switch typ {
	case elf.STT_OBJECT, elf.STT_COMMON:
		return ds.DATA
	case elf.STT_FUNC:
		return ds.FUNC
	case elf.STT_FILE:
		return ds.FILE
	case elf.STT_TLS:
		return ds.THREADLOCAL
	case elf.STT_SECTION:
		return ds.SECTION
	}
	return ds.UNKNOWN
}

func GetSymbols(e *elf.File) []*ds.Symbol {
	symbols, err := e.Symbols()
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Info("Failed to Parse Symbols")
		return nil
	}
	var res []*ds.Symbol
	for _, sym := range symbols {
		if sym.Name == "" || sym.Size == 0 {
			continue
		}
		typ := elfSymbolTypeToSymbolType(elf.ST_TYPE(sym.Info))
		res = append(res, ds.NewSymbol(sym.Name, typ, ds.NewRange(sym.Value, sym.Value+sym.Size)))
	}
	return res
}

func hex(val uint64) string {
	return fmt.Sprintf("0x%x", val)
}
