//go:build linux

package native

import (
	"unsafe"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func pageFlagsToProt(flags ds.PageFlags) int {
	prot := unix.PROT_NONE
	if flags&ds.R != 0 {
		prot |= unix.PROT_READ
	}
	if flags&ds.W != 0 {
		prot |= unix.PROT_WRITE
	}
	if flags&ds.X != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func (s *Space) PageSize() uint64 {
	return s.pageSize
}

// Map replaces the reserved pages at addr with a fresh anonymous writable
// mapping.
func (s *Space) Map(addr, size uint64) error {
	b, err := s.Bytes(addr, size)
	if err != nil {
		return err
	}
	_, err = unix.MmapPtr(-1, 0, unsafe.Pointer(&b[0]), uintptr(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_FIXED|unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return errors.WrapPrefix(err, "mmap "+hex(addr), 1)
	}
	return nil
}

func (s *Space) Write(addr uint64, data []byte) error {
	b, err := s.Bytes(addr, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func (s *Space) Protect(addr, size uint64, flags ds.PageFlags) error {
	b, err := s.Bytes(addr, size)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(b, pageFlagsToProt(flags)); err != nil {
		return errors.WrapPrefix(err, "mprotect "+hex(addr), 1)
	}
	log.WithFields(log.Fields{"addr": hex(addr), "size": size, "flags": flags}).Debug("Protect Memory")
	return nil
}

// Read copies size bytes out of the space. The range must be resident and
// readable.
func (s *Space) Read(addr, size uint64) ([]byte, error) {
	b, err := s.Bytes(addr, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, b)
	return out, nil
}
