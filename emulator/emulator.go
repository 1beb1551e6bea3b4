package emulator

import (
	"fmt"
	"io"
	"os"

	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/arch"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const pagesize = 4096

const (
	DefaultStackTop  = 0x7ffffff000
	DefaultStackSize = 0x100000
)

type Config struct {
	MaxTraceInstructionCount uint64
	MaxTraceTime             uint64 // microseconds, 0 is unlimited
	StackTop                 uint64
	StackSize                uint64
	Arch                     arch.Arch
	Stdout                   io.Writer
	Stderr                   io.Writer
}

// Emulator runs a loaded image on a unicorn CPU. Image memory starts out
// unmapped and is filled in by the pager as the program touches it.
type Emulator struct {
	Config  Config
	mu      uc.Unicorn
	handler pager.Handler
	access  int
	fault   *FaultError
	exit    *ExitError
	brk     uint64
	image   *ds.Image
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

func NewEmulator(conf Config) (*Emulator, error) {
	if conf.Arch == nil {
		conf.Arch = &arch.ArchX86_64{}
	}
	if conf.StackTop == 0 {
		conf.StackTop = DefaultStackTop
	}
	if conf.StackSize == 0 {
		conf.StackSize = DefaultStackSize
	}
	if conf.StackSize%pagesize != 0 || conf.StackTop%pagesize != 0 {
		return nil, errors.Errorf("stack 0x%x/0x%x is not page aligned", conf.StackTop, conf.StackSize)
	}
	if conf.Stdout == nil {
		conf.Stdout = os.Stdout
	}
	if conf.Stderr == nil {
		conf.Stderr = os.Stderr
	}
	mu, err := uc.NewUnicorn(conf.Arch.ToUnicornArchDescription(), conf.Arch.ToUnicornModeDescription())
	if err != nil {
		return nil, wrap(err)
	}
	res := &Emulator{Config: conf, mu: mu}
	if err := res.addHooks(); err != nil {
		mu.Close()
		return nil, err
	}
	return res, nil
}

func (s *Emulator) Close() error {
	mu := s.mu
	s.mu = nil
	return wrap(mu.Close())
}

func (s *Emulator) RegRead(reg int) (uint64, error) {
	val, err := s.mu.RegRead(reg)
	return val, wrap(err)
}

// AddCodeHook calls fn with the bytes of every instruction before it runs.
func (s *Emulator) AddCodeHook(fn func(addr uint64, code []byte)) error {
	_, err := s.mu.HookAdd(uc.HOOK_CODE, func(mu uc.Unicorn, addr uint64, size uint32) {
		code, err := mu.MemRead(addr, uint64(size))
		if err != nil {
			log.WithFields(log.Fields{"at": hex(addr), "error": err}).Debug("Instruction Unreadable")
			return
		}
		fn(addr, code)
	}, 1, 0)
	return wrap(err)
}

func (s *Emulator) addHooks() error {
	_, err := s.mu.HookAdd(uc.HOOK_INSN, func(mu uc.Unicorn) {
		s.syscall()
	}, 1, 0, uc.X86_INS_SYSCALL)
	return wrap(err)
}
