package pager

import (
	ds "github.com/ranmrdrakono/lazyload/data_structures"
)

// Memory is the address space the engine materialises pages into.
type Memory interface {
	PageSize() uint64
	// Map creates a fixed, anonymous, writable mapping of size bytes at addr.
	Map(addr, size uint64) error
	Write(addr uint64, data []byte) error
	Protect(addr, size uint64, flags ds.PageFlags) error
}

// PageReader gives read access to materialised pages, for reports.
type PageReader interface {
	Read(addr, size uint64) ([]byte, error)
}

// Handler is what a FaultSource delivers faults to.
type Handler interface {
	// HandleFault reports whether the faulting access can be retried.
	HandleFault(addr uint64) bool
	// HandleRange is HandleFault for an access of size bytes that may
	// straddle pages.
	HandleRange(addr, size uint64) bool
	// Prefault materialises the pages of a range without forwarding
	// anything, for accesses made on the program's behalf.
	Prefault(addr, size uint64) error
}

// Fallback is the disposition that was installed before the engine.
// Forward is called for faults the engine does not own.
type Fallback interface {
	Forward(addr uint64)
}

type FallbackFunc func(addr uint64)

func (f FallbackFunc) Forward(addr uint64) { f(addr) }

// FaultSource delivers faults of some address space to a Handler.
type FaultSource interface {
	// Install routes faults to h and returns the previous disposition.
	Install(h Handler) (Fallback, error)
}
