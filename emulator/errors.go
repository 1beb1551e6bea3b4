package emulator

import (
	"fmt"

	"github.com/go-errors/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

var (
	ErrNoExit            = errors.New("program stopped without exiting")
	ErrAlreadyInstalled  = errors.New("fault hook already installed")
	ErrHandlerNotPresent = errors.New("no fault handler installed")
)

// ExitError is how a program that called exit hands back its status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) ExitCode() int {
	return e.Code
}

// FaultError is an access the pager did not own, terminated the way the
// default disposition terminates a segmentation fault.
type FaultError struct {
	Addr   uint64
	IP     uint64
	Access string
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("segmentation fault: %s at 0x%x (ip 0x%x)", e.Access, e.Addr, e.IP)
}

// ExitCode is 128+SIGSEGV, what a shell reports for a segfaulted child.
func (e *FaultError) ExitCode() int {
	return 139
}

func accessName(access int) string {
	switch access {
	case uc.MEM_READ_UNMAPPED:
		return "read unmapped"
	case uc.MEM_WRITE_UNMAPPED:
		return "write unmapped"
	case uc.MEM_FETCH_UNMAPPED:
		return "fetch unmapped"
	case uc.MEM_READ_PROT:
		return "read protected"
	case uc.MEM_WRITE_PROT:
		return "write protected"
	case uc.MEM_FETCH_PROT:
		return "fetch protected"
	}
	return fmt.Sprintf("access %d", access)
}
