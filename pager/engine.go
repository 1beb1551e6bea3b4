package pager

import (
	"fmt"
	"io"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
)

type Outcome int

const (
	// Forward means the fault is not ours: no segment covers the address,
	// or the page is already resident and the access is genuinely invalid.
	Forward Outcome = iota
	Resolved
)

func (o Outcome) String() string {
	if o == Resolved {
		return "resolved"
	}
	return "forward"
}

type Stats struct {
	Faults    uint64
	Resolved  uint64
	Forwarded uint64
}

// Engine resolves faults inside an image's segments by materialising the
// faulting page: map it writable, zero it, copy the file-backed part, then
// apply the segment's rights. Every page goes through this at most once.
//
// All state the handler needs lives here and is built before Register, so
// resolving a page allocates nothing. The engine is not safe for concurrent
// use; the check-then-mark sequence in Resolve assumes one faulting thread.
type Engine struct {
	image      *ds.Image
	backing    io.ReaderAt
	mem        Memory
	pageSize   uint64
	residency  []*ds.Residency
	scratch    []byte
	fallback   Fallback
	registered bool
	abort      func(error)
	stats      Stats
}

type Option func(*Engine)

// WithAbort replaces the reaction to a fatal resolution error. The default
// logs the error and exits the process.
func WithAbort(abort func(error)) Option {
	return func(e *Engine) { e.abort = abort }
}

func NewEngine(img *ds.Image, backing io.ReaderAt, mem Memory, opts ...Option) *Engine {
	e := &Engine{
		image:    img,
		backing:  backing,
		mem:      mem,
		pageSize: mem.PageSize(),
		abort:    abortProcess,
	}
	e.residency = make([]*ds.Residency, len(img.Segments))
	for i, seg := range img.Segments {
		e.residency[i] = ds.NewResidency(seg.Pages(e.pageSize))
	}
	e.scratch = make([]byte, e.pageSize)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func abortProcess(err error) {
	fields := log.Fields{"error": err}
	if werr, ok := err.(*errors.Error); ok {
		fields["stack"] = werr.ErrorStack()
	}
	log.WithFields(fields).Fatal("Unrecoverable Page Fault")
}

// Register installs the engine on src. It may be called once; the
// disposition src had before becomes the target for forwarded faults.
func (e *Engine) Register(src FaultSource) error {
	if e.registered {
		return errors.Wrap(ErrAlreadyRegistered, 1)
	}
	prev, err := src.Install(e)
	if err != nil {
		return errors.WrapPrefix(err, "install fault handler", 1)
	}
	e.fallback = prev
	e.registered = true
	log.WithFields(log.Fields{"segments": len(e.image.Segments), "page_size": e.pageSize}).Debug("Fault Handler Registered")
	return nil
}

func (e *Engine) Image() *ds.Image {
	return e.image
}

func (e *Engine) PageSize() uint64 {
	return e.pageSize
}

func (e *Engine) Stats() Stats {
	return e.stats
}

// Residency returns the tracker of the i-th segment.
func (e *Engine) Residency(i int) *ds.Residency {
	return e.residency[i]
}

// Resolve materialises the page holding addr if a segment covers it and
// the page is not resident yet.
func (e *Engine) Resolve(addr uint64) (Outcome, error) {
	for i, seg := range e.image.Segments {
		if !seg.Range.Contains(addr) {
			continue
		}
		page := seg.PageIndex(addr, e.pageSize)
		if e.residency[i].IsResident(page) {
			return Forward, nil
		}
		if err := e.materialize(seg, page); err != nil {
			return Forward, err
		}
		e.residency[i].MarkResident(page)
		e.stats.Resolved++
		return Resolved, nil
	}
	return Forward, nil
}

func (e *Engine) materialize(seg *ds.Segment, page uint64) error {
	ps := e.pageSize
	pageAddr := seg.PageAddr(page, ps)
	if err := e.mem.Map(pageAddr, ps); err != nil {
		return fatal("map", pageAddr, err)
	}

	buf := e.scratch
	clear(buf)

	start := seg.FileOffset + page*ps
	end := seg.FileEnd()
	var n uint64
	switch {
	case start+ps <= end:
		n = ps
	case start < end:
		n = end - start
	}
	if n > 0 {
		if read, err := e.backing.ReadAt(buf[:n], int64(start)); uint64(read) < n {
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return fatal("read", pageAddr, err)
		}
	}
	if err := e.mem.Write(pageAddr, buf); err != nil {
		return fatal("fill", pageAddr, err)
	}
	if err := e.mem.Protect(pageAddr, ps, seg.Flags); err != nil {
		return fatal("protect", pageAddr, err)
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"page":   hex(pageAddr),
			"index":  page,
			"offset": hex(start),
			"bytes":  n,
			"flags":  seg.Flags,
		}).Debug("Materialized Page")
	}
	return nil
}

func (e *Engine) HandleFault(addr uint64) bool {
	e.stats.Faults++
	outcome, err := e.Resolve(addr)
	if err != nil {
		e.abort(err)
		return false
	}
	if outcome == Resolved {
		return true
	}
	e.forward(addr)
	return false
}

func (e *Engine) HandleRange(addr, size uint64) bool {
	e.stats.Faults++
	resolved := false
	err := e.eachPage(addr, size, func(a uint64) error {
		outcome, err := e.Resolve(a)
		if outcome == Resolved {
			resolved = true
		}
		return err
	})
	if errors.Is(err, ErrRangeWraps) {
		e.forward(addr)
		return false
	}
	if err != nil {
		e.abort(err)
		return false
	}
	if resolved {
		return true
	}
	e.forward(addr)
	return false
}

// Prefault materialises every page of [addr, addr+size) a segment covers,
// the way a kernel touches a user buffer before copying from it. Addresses
// outside the image are skipped, not forwarded. A range that wraps past the
// top of the address space is rejected with ErrRangeWraps.
func (e *Engine) Prefault(addr, size uint64) error {
	err := e.eachPage(addr, size, func(a uint64) error {
		_, err := e.Resolve(a)
		return err
	})
	if err != nil && !errors.Is(err, ErrRangeWraps) {
		e.abort(err)
	}
	return err
}

func (e *Engine) eachPage(addr, size uint64, fn func(a uint64) error) error {
	if size == 0 {
		size = 1
	}
	if size-1 > ^uint64(0)-addr {
		return errors.WrapPrefix(ErrRangeWraps, fmt.Sprintf("0x%x+0x%x", addr, size), 2)
	}
	mask := e.pageSize - 1
	last := (addr + size - 1) &^ mask
	for p := addr &^ mask; ; p += e.pageSize {
		a := p
		if a < addr {
			a = addr
		}
		if err := fn(a); err != nil {
			return err
		}
		if p == last {
			return nil
		}
	}
}

func (e *Engine) forward(addr uint64) {
	e.stats.Forwarded++
	log.WithFields(log.Fields{"addr": hex(addr)}).Warn("Forward Fault")
	if e.fallback != nil {
		e.fallback.Forward(addr)
	}
}

func hex(val uint64) string {
	return fmt.Sprintf("0x%x", val)
}
