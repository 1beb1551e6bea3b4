package lazyload

import (
	"bytes"
	"debug/elf"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/emulator"
	"github.com/ranmrdrakono/lazyload/internal/testelf"
	loader "github.com/ranmrdrakono/lazyload/loader/elf"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

const entry = 0x401000

// fakeRuntime touches the entry page on Transfer, like a CPU fetching the
// first instruction would.
type fakeRuntime struct {
	pages      map[uint64][]byte
	handler    pager.Handler
	installErr error
	installs   int
	transfers  int
	argv       []string
	fetched    []byte
	result     error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{pages: make(map[uint64][]byte)}
}

func (r *fakeRuntime) PageSize() uint64 { return 0x1000 }

func (r *fakeRuntime) Map(addr, size uint64) error {
	r.pages[addr] = make([]byte, size)
	return nil
}

func (r *fakeRuntime) Write(addr uint64, data []byte) error {
	copy(r.pages[addr], data)
	return nil
}

func (r *fakeRuntime) Protect(addr, size uint64, flags ds.PageFlags) error {
	return nil
}

func (r *fakeRuntime) Read(addr, size uint64) ([]byte, error) {
	page, ok := r.pages[addr&^0xfff]
	if !ok {
		return nil, errors.Errorf("0x%x not mapped", addr)
	}
	off := addr & 0xfff
	return page[off : off+size], nil
}

func (r *fakeRuntime) Install(h pager.Handler) (pager.Fallback, error) {
	r.installs++
	if r.installErr != nil {
		return nil, r.installErr
	}
	r.handler = h
	return pager.FallbackFunc(func(uint64) {}), nil
}

func (r *fakeRuntime) Transfer(img *ds.Image, argv, envp []string) error {
	r.transfers++
	r.argv = argv
	if !r.handler.HandleFault(img.Entry) {
		return errors.Errorf("entry 0x%x not resolved", img.Entry)
	}
	r.fetched, _ = r.Read(img.Entry, 4)
	return r.result
}

func writeImage(t *testing.T, code []byte) string {
	t.Helper()
	b := &testelf.Builder{
		Entry: entry,
		Segments: []testelf.Segment{
			{Vaddr: entry, MemSize: uint64(len(code)), Flags: elf.PF_R | elf.PF_X, Data: code},
		},
		Symbols: []testelf.Symbol{{Name: "_start", Value: entry, Size: uint64(len(code))}},
	}
	path := filepath.Join(t.TempDir(), "prog")
	_, err := b.WriteFile(path)
	require.NoError(t, err)
	return path
}

var elfParser = ParserFunc(loader.Parse)

func TestExecuteRegistersThenTransfers(t *testing.T) {
	should := require.New(t)
	path := writeImage(t, []byte{0xde, 0xad, 0xbe, 0xef})
	rt := newFakeRuntime()
	exit := errors.New("exited")
	rt.result = exit

	report := new(bytes.Buffer)
	err := Execute(Options{Path: path, Parser: elfParser, Runtime: rt, Report: report})
	should.True(errors.Is(err, exit))
	should.Equal(1, rt.installs)
	should.Equal(1, rt.transfers)
	should.Equal([]string{path}, rt.argv)
	should.Equal([]byte{0xde, 0xad, 0xbe, 0xef}, rt.fetched)
	should.Contains(report.String(), "0x401000")
}

func TestParseFailureRegistersNothing(t *testing.T) {
	should := require.New(t)
	rt := newFakeRuntime()
	broken := errors.New("not an image")
	err := Execute(Options{
		Path:    "prog",
		Parser:  ParserFunc(func(string, uint64) (*ds.Image, error) { return nil, broken }),
		Runtime: rt,
	})
	should.True(errors.Is(err, broken))
	should.Zero(rt.installs)
	should.Zero(rt.transfers)
}

func TestMissingBackingRegistersNothing(t *testing.T) {
	should := require.New(t)
	rt := newFakeRuntime()
	img := &ds.Image{Entry: entry, Segments: []*ds.Segment{ds.NewSegment(entry, 0x1000, 0, 0, ds.R)}}
	err := Execute(Options{
		Path:    filepath.Join(t.TempDir(), "gone"),
		Parser:  ParserFunc(func(string, uint64) (*ds.Image, error) { return img, nil }),
		Runtime: rt,
	})
	should.Error(err)
	should.Zero(rt.installs)
}

func TestRegistrationFailureSkipsTransfer(t *testing.T) {
	should := require.New(t)
	path := writeImage(t, []byte{0x90})
	rt := newFakeRuntime()
	rt.installErr = errors.New("sigaction rejected")

	err := Execute(Options{Path: path, Parser: elfParser, Runtime: rt})
	should.True(errors.Is(err, rt.installErr))
	should.Equal(1, rt.installs)
	should.Zero(rt.transfers)
}

func TestTransferReturningIsAnError(t *testing.T) {
	should := require.New(t)
	path := writeImage(t, []byte{0x90})
	rt := newFakeRuntime()

	err := Execute(Options{Path: path, Args: []string{"prog", "-v"}, Parser: elfParser, Runtime: rt})
	should.True(errors.Is(err, ErrTransferReturned))
	should.Equal([]string{"prog", "-v"}, rt.argv)
}

func TestExecuteUnderEmulator(t *testing.T) {
	should := require.New(t)
	code := []byte{
		0xbf, 0x03, 0x00, 0x00, 0x00, // mov edi, 3
		0xb8, 0xe7, 0x00, 0x00, 0x00, // mov eax, 231
		0x0f, 0x05, // syscall
	}
	path := writeImage(t, code)
	em, err := emulator.NewEmulator(emulator.Config{MaxTraceInstructionCount: 100})
	should.NoError(err)
	defer em.Close()

	report := new(bytes.Buffer)
	err = Execute(Options{Path: path, Backing: pager.BackingMmap, Parser: elfParser, Runtime: em, Report: report})
	var exit *emulator.ExitError
	should.True(errors.As(err, &exit), "%v", err)
	should.Equal(3, exit.Code)
	should.True(strings.Contains(report.String(), "r-x"), report.String())
}
