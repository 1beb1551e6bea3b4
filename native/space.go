//go:build linux

// Package native loads an image lazily into the current process.
//
// The image's address range is reserved PROT_NONE up front, so every first
// touch of a page faults. Run executes a function with
// runtime/debug.SetPanicOnFault enabled; the runtime turns the fault into a
// panic carrying the faulting address, the pager materialises the page and
// the function is run again. Faults the pager does not own are re-raised
// unchanged, which is what the Go runtime would have done without us.
package native

import (
	"fmt"
	"unsafe"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	ErrAlreadyInstalled = errors.New("space already has a fault handler")
	ErrNotInstalled     = errors.New("space has no fault handler")
	ErrOutOfRange       = errors.New("address outside the reserved image range")
)

// Space is a reserved host range standing in for an image's address space.
// Image address a lives at host address base+(a-low).
type Space struct {
	mem      []byte
	low      uint64
	pageSize uint64
	handler  pager.Handler
	pending  interface{}
}

func PageSize() uint64 {
	return uint64(unix.Getpagesize())
}

func NewSpace(img *ds.Image, pageSize uint64) (*Space, error) {
	span := img.Span()
	if span.IsEmpty() {
		return nil, errors.Wrap(ds.ErrEmptyImage, 1)
	}
	low := span.From &^ (pageSize - 1)
	high := (span.To + pageSize - 1) &^ (pageSize - 1)
	mem, err := unix.Mmap(-1, 0, int(high-low), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.WrapPrefix(err, "reserve image range", 1)
	}
	log.WithFields(log.Fields{
		"from": hex(low),
		"to":   hex(high),
		"host": hex(uint64(uintptr(unsafe.Pointer(&mem[0])))),
	}).Debug("Reserved Image Range")
	return &Space{mem: mem, low: low, pageSize: pageSize}, nil
}

// Close releases the reservation. Slices from Bytes must not be used after.
func (s *Space) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	return wrap(err)
}

// Bytes returns the host view of [addr, addr+n). Touching it outside Run
// crashes the process on the first non-resident page.
func (s *Space) Bytes(addr, n uint64) ([]byte, error) {
	if addr < s.low || addr+n > s.low+uint64(len(s.mem)) || addr+n < addr {
		return nil, errors.WrapPrefix(ErrOutOfRange, hex(addr), 1)
	}
	off := addr - s.low
	return s.mem[off : off+n : off+n], nil
}

func (s *Space) base() uint64 {
	return uint64(uintptr(unsafe.Pointer(&s.mem[0])))
}

// imageAddr maps a host fault address back into the image, if it is ours.
func (s *Space) imageAddr(host uint64) (uint64, bool) {
	base := s.base()
	if host < base || host >= base+uint64(len(s.mem)) {
		return 0, false
	}
	return s.low + (host - base), true
}

func wrap(err error) error {
	if err != nil {
		return errors.Wrap(err, 1)
	}
	return nil
}

func hex(val uint64) string {
	return fmt.Sprintf("0x%x", val)
}
