package pager

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/go-errors/errors"
	"golang.org/x/sys/unix"
)

const (
	BackingPread = "pread"
	BackingMmap  = "mmap"
)

var ErrUnknownBacking = errors.New("unknown backing kind")

// Backing is the image file the engine fills pages from. It stays open for
// the life of the process.
type Backing interface {
	io.ReaderAt
	io.Closer
}

func OpenBacking(path, kind string) (Backing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wrap(err)
	}
	switch kind {
	case BackingPread, "":
		return &preadFile{f: f, fd: int(f.Fd())}, nil
	case BackingMmap:
		m, err := mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, wrap(err)
		}
		return &mappedFile{f: f, data: m}, nil
	}
	f.Close()
	return nil, errors.WrapPrefix(ErrUnknownBacking, kind, 1)
}

// preadFile reads with pread(2) on the raw descriptor: positioned, unbuffered
// and without touching the shared file offset.
type preadFile struct {
	f  *os.File
	fd int
}

func (p *preadFile) ReadAt(b []byte, off int64) (int, error) {
	total := 0
	for total < len(b) {
		n, err := unix.Pread(p.fd, b[total:], off+int64(total))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, wrap(err)
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
	}
	return total, nil
}

func (p *preadFile) Close() error {
	return wrap(p.f.Close())
}

type mappedFile struct {
	f    *os.File
	data mmap.MMap
}

func (m *mappedFile) ReadAt(b []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(b, m.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

func (m *mappedFile) Close() error {
	err := m.data.Unmap()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return wrap(err)
}
