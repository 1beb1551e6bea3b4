//go:build linux

package native

import (
	"bytes"
	"debug/elf"
	"path/filepath"
	"testing"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/internal/testelf"
	loader "github.com/ranmrdrakono/lazyload/loader/elf"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

const (
	textAddr = 0x401000
	dataAddr = 0x404000
)

type fixture struct {
	space  *Space
	engine *pager.Engine
	text   []byte
}

func setup(t *testing.T) *fixture {
	t.Helper()
	should := require.New(t)
	ps := PageSize()
	text := bytes.Repeat([]byte{0xc3, 0x90, 0xcc, 0x01}, int(ps)/4+8)
	b := &testelf.Builder{
		Entry: textAddr,
		Segments: []testelf.Segment{
			{Vaddr: textAddr, MemSize: uint64(len(text)), Flags: elf.PF_R | elf.PF_X, Data: text},
			{Vaddr: dataAddr, MemSize: 2 * ps, Flags: elf.PF_R | elf.PF_W, Data: []byte("native")},
		},
	}
	path := filepath.Join(t.TempDir(), "prog")
	_, err := b.WriteFile(path)
	should.NoError(err)

	img, err := loader.Parse(path, ps)
	should.NoError(err)
	backing, err := pager.OpenBacking(path, pager.BackingMmap)
	should.NoError(err)
	t.Cleanup(func() { backing.Close() })

	space, err := NewSpace(img, ps)
	should.NoError(err)
	t.Cleanup(func() { space.Close() })

	eng := pager.NewEngine(img, backing, space, pager.WithAbort(func(err error) { t.Fatalf("abort: %v", err) }))
	should.NoError(eng.Register(space))
	return &fixture{space: space, engine: eng, text: text}
}

var sink byte

// load reads byte by byte so every access is a plain load.
func load(dst, src []byte) {
	for i := range dst {
		dst[i] = src[i]
	}
}

func TestRunMaterialisesOnFirstTouch(t *testing.T) {
	should := require.New(t)
	f := setup(t)
	ps := PageSize()

	view, err := f.space.Bytes(textAddr, uint64(len(f.text)))
	should.NoError(err)
	got := make([]byte, len(f.text))
	should.NoError(f.space.Run(func() { load(got, view) }))
	should.Equal(f.text, got)
	should.Equal([]uint64{0, 1}, f.engine.Residency(0).Resident())
	should.Equal(uint64(2), f.engine.Stats().Resolved)

	data, err := f.space.Bytes(dataAddr+ps, 8)
	should.NoError(err)
	tail := make([]byte, 8)
	should.NoError(f.space.Run(func() { load(tail, data) }))
	should.Equal(make([]byte, 8), tail)
	should.Equal([]uint64{1}, f.engine.Residency(1).Resident())
}

func TestWritableSegmentKeepsWrites(t *testing.T) {
	should := require.New(t)
	f := setup(t)

	data, err := f.space.Bytes(dataAddr, 6)
	should.NoError(err)
	should.NoError(f.space.Run(func() { data[0] = 'N' }))

	got, err := f.space.Read(dataAddr, 6)
	should.NoError(err)
	should.Equal([]byte("Native"), got)
	should.Equal(uint64(1), f.engine.Stats().Resolved)
}

func TestWriteToTextIsReraised(t *testing.T) {
	should := require.New(t)
	f := setup(t)

	text, err := f.space.Bytes(textAddr, 1)
	should.NoError(err)
	r := func() (r interface{}) {
		defer func() { r = recover() }()
		f.space.Run(func() { text[0] = 0 })
		return nil
	}()
	should.NotNil(r)
	_, ok := r.(addresser)
	should.True(ok, "%v", r)
	should.Equal(uint64(1), f.engine.Stats().Forwarded)
	should.Equal([]uint64{0}, f.engine.Residency(0).Resident())
	should.Nil(f.space.pending)
}

func TestGapBetweenSegmentsIsReraised(t *testing.T) {
	should := require.New(t)
	f := setup(t)

	gap, err := f.space.Bytes(dataAddr-1, 1)
	should.NoError(err)
	should.Panics(func() {
		f.space.Run(func() { sink = gap[0] })
	})
	should.Equal(uint64(1), f.engine.Stats().Forwarded)
	should.Zero(f.engine.Stats().Resolved)
	should.Nil(f.space.pending)
}

func TestOtherPanicsPassThrough(t *testing.T) {
	should := require.New(t)
	f := setup(t)
	should.PanicsWithValue("boom", func() {
		f.space.Run(func() { panic("boom") })
	})
	should.Zero(f.engine.Stats().Faults)
}

func TestInstallOnce(t *testing.T) {
	should := require.New(t)
	f := setup(t)
	other := pager.NewEngine(f.engine.Image(), bytes.NewReader(nil), f.space)
	should.True(errors.Is(other.Register(f.space), ErrAlreadyInstalled))
}

func TestRunWithoutHandler(t *testing.T) {
	should := require.New(t)
	img := &ds.Image{Segments: []*ds.Segment{ds.NewSegment(textAddr, PageSize(), 0, 0, ds.R)}}
	space, err := NewSpace(img, PageSize())
	should.NoError(err)
	defer space.Close()
	should.True(errors.Is(space.Run(func() {}), ErrNotInstalled))

	_, err = space.Bytes(textAddr+PageSize(), 1)
	should.True(errors.Is(err, ErrOutOfRange))
}
