package pager

import (
	"fmt"

	"github.com/go-errors/errors"
)

var (
	ErrAlreadyRegistered = errors.New("fault handler already registered")
	ErrRangeWraps        = errors.New("range wraps around the address space")
)

// FatalError is a failure in the middle of materialising a page. The page
// is left in an unknown state, so the process cannot continue.
type FatalError struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s page 0x%x: %v", e.Op, e.Addr, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, addr uint64, err error) error {
	return errors.Wrap(&FatalError{Op: op, Addr: addr, Err: err}, 2)
}

func wrap(err error) error {
	if err != nil {
		return errors.Wrap(err, 1)
	}
	return nil
}
