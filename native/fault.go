//go:build linux

package native

import (
	"runtime/debug"

	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
)

// addresser is implemented by the runtime error SetPanicOnFault produces.
type addresser interface {
	Addr() uintptr
}

// Install routes faults raised inside Run to h. The returned fallback
// re-raises the fault as the runtime delivered it.
func (s *Space) Install(h pager.Handler) (pager.Fallback, error) {
	if s.handler != nil {
		return nil, errors.Wrap(ErrAlreadyInstalled, 1)
	}
	s.handler = h
	return pager.FallbackFunc(s.reraise), nil
}

func (s *Space) reraise(addr uint64) {
	log.WithFields(log.Fields{"addr": hex(addr)}).Debug("Reraise Fault")
	if s.pending != nil {
		panic(s.pending)
	}
}

// Run calls fn until it returns without faulting on a non-resident page.
// fn is retried from the start after every resolved fault, so it must be
// idempotent up to the point of the fault. Faults on the same goroutine only
// are caught; fn must not hand image memory to other goroutines.
func (s *Space) Run(fn func()) error {
	if s.handler == nil {
		return errors.Wrap(ErrNotInstalled, 1)
	}
	for {
		r := s.try(fn)
		if r == nil {
			return nil
		}
		fault, ok := r.(addresser)
		if !ok {
			panic(r)
		}
		addr, ok := s.imageAddr(uint64(fault.Addr()))
		if !ok {
			panic(r)
		}
		if !s.deliver(r, addr) {
			panic(r)
		}
	}
}

// deliver hands the fault to the handler. The fallback may re-panic with r,
// so pending is cleared on the way out either way.
func (s *Space) deliver(r interface{}, addr uint64) bool {
	s.pending = r
	defer func() { s.pending = nil }()
	return s.handler.HandleFault(addr)
}

func (s *Space) try(fn func()) (r interface{}) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)
	defer func() {
		r = recover()
	}()
	fn()
	return nil
}
