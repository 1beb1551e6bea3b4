package elf

import (
	"bytes"
	"debug/elf"
	"path/filepath"
	"testing"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/internal/testelf"
	"github.com/stretchr/testify/require"
)

func TestParseAlignsSegments(t *testing.T) {
	should := require.New(t)
	b := &testelf.Builder{
		Entry: 0x401000,
		Segments: []testelf.Segment{
			{Vaddr: 0x401000, MemSize: 0x20, Flags: elf.PF_R | elf.PF_X, Data: bytes.Repeat([]byte{0x90}, 0x20)},
			{Vaddr: 0x402010, MemSize: 0x3000, Flags: elf.PF_R | elf.PF_W, Data: []byte("data")},
		},
		Symbols: []testelf.Symbol{{Name: "_start", Value: 0x401000, Size: 0x20}},
	}
	path := filepath.Join(t.TempDir(), "a.out")
	offsets, err := b.WriteFile(path)
	should.NoError(err)

	img, err := Parse(path, 0x1000)
	should.NoError(err)
	should.Equal(uint64(0x401000), img.Entry)
	should.Len(img.Segments, 2)

	text := img.Segments[0]
	should.Equal(ds.NewRange(0x401000, 0x401020), text.Range)
	should.Equal(offsets[0], text.FileOffset)
	should.Equal(uint64(0x20), text.FileSize)
	should.Equal(ds.R|ds.X, text.Flags)

	data := img.Segments[1]
	should.Equal(ds.NewRange(0x402000, 0x405010), data.Range)
	should.Equal(offsets[1]-0x10, data.FileOffset)
	should.Equal(uint64(0x14), data.FileSize)
	should.Equal(ds.R|ds.W, data.Flags)

	should.Equal("_start", img.SymbolAt(0x401010).Name)
}

func TestParseRejectsForeignMachine(t *testing.T) {
	should := require.New(t)
	b := &testelf.Builder{
		Machine:  elf.EM_RISCV,
		Segments: []testelf.Segment{{Vaddr: 0x1000, MemSize: 0x10, Flags: elf.PF_R, Data: []byte{1}}},
	}
	data, _ := b.Build()
	_, err := NewImage(bytes.NewReader(data), "riscv", 0x1000)
	should.True(errors.Is(err, ErrUnsupported))
}

func TestParseRejectsOverlap(t *testing.T) {
	should := require.New(t)
	b := &testelf.Builder{
		Segments: []testelf.Segment{
			{Vaddr: 0x1000, MemSize: 0x2000, Flags: elf.PF_R, Data: []byte{1}},
			{Vaddr: 0x2000, MemSize: 0x10, Flags: elf.PF_R, Data: []byte{2}},
		},
	}
	data, _ := b.Build()
	_, err := NewImage(bytes.NewReader(data), "overlap", 0x1000)
	should.True(errors.Is(err, ds.ErrOverlap))
}

func TestParseMissingFile(t *testing.T) {
	should := require.New(t)
	_, err := Parse(filepath.Join(t.TempDir(), "missing"), 0x1000)
	should.Error(err)
}
