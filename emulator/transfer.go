package emulator

import (
	"encoding/binary"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

const (
	AT_NULL   = 0
	AT_PAGESZ = 6
	AT_ENTRY  = 9
)

// Transfer starts the program at img.Entry with a System V initial stack.
// It only comes back when the program exits (*ExitError), faults outside
// the pager's reach (*FaultError) or emulation itself fails.
func (s *Emulator) Transfer(img *ds.Image, argv, envp []string) error {
	if s.handler == nil {
		return errors.Wrap(ErrHandlerNotPresent, 1)
	}
	sp, err := s.setupStack(img, argv, envp)
	if err != nil {
		return err
	}
	// rdx = 0 tells the program there is no atexit function to register.
	for _, reg := range s.Config.Arch.GetRegisters() {
		if err := s.mu.RegWrite(reg, 0); err != nil {
			return wrap(err)
		}
	}
	if err := s.mu.RegWrite(s.Config.Arch.GetRegStack(), sp); err != nil {
		return wrap(err)
	}
	s.image = img
	s.brk = (img.Span().To + pagesize - 1) &^ (pagesize - 1)
	s.exit = nil
	s.fault = nil

	log.WithFields(log.Fields{"entry": hex(img.Entry), "sp": hex(sp), "argc": len(argv)}).Debug("Transfer Control")
	opt := uc.UcOptions{Timeout: s.Config.MaxTraceTime, Count: s.Config.MaxTraceInstructionCount}
	err = s.mu.StartWithOptions(img.Entry, 0, &opt)

	switch {
	case s.exit != nil:
		return s.exit
	case s.fault != nil:
		return s.fault
	case err != nil:
		ip, ierr := s.mu.RegRead(s.Config.Arch.GetRegIP())
		log.WithFields(log.Fields{"err": err, "ip": hex(ip), "ip_err": ierr}).Debug("Emulator Error Occured")
		return wrap(err)
	}
	return errors.Wrap(ErrNoExit, 1)
}

func (s *Emulator) setupStack(img *ds.Image, argv, envp []string) (uint64, error) {
	top := s.Config.StackTop
	bottom := top - s.Config.StackSize
	stack := ds.NewRange(bottom, top)
	for _, seg := range img.Segments {
		if seg.Range.IntersectsRange(stack) {
			return 0, errors.Errorf("stack 0x%x-0x%x overlaps segment at 0x%x", bottom, top, seg.Range.From)
		}
	}
	log.WithFields(log.Fields{"addr": hex(bottom), "length": s.Config.StackSize}).Debug("Map Stack")
	if err := s.mu.MemMapProt(bottom, s.Config.StackSize, uc.PROT_READ|uc.PROT_WRITE); err != nil {
		return 0, wrap(err)
	}

	sp := top
	pushString := func(str string) (uint64, error) {
		sp -= uint64(len(str) + 1)
		return sp, wrap(s.mu.MemWrite(sp, append([]byte(str), 0)))
	}

	vector := []uint64{uint64(len(argv))}
	for _, arg := range argv {
		addr, err := pushString(arg)
		if err != nil {
			return 0, err
		}
		vector = append(vector, addr)
	}
	vector = append(vector, 0)
	for _, env := range envp {
		addr, err := pushString(env)
		if err != nil {
			return 0, err
		}
		vector = append(vector, addr)
	}
	vector = append(vector, 0)
	vector = append(vector, AT_PAGESZ, pagesize, AT_ENTRY, img.Entry, AT_NULL, 0)

	sp = (sp - uint64(8*len(vector))) &^ 0xf
	if sp < bottom {
		return 0, errors.Errorf("arguments do not fit in a 0x%x byte stack", s.Config.StackSize)
	}
	buf := make([]byte, 8*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint64(buf[8*i:], v)
	}
	return sp, wrap(s.mu.MemWrite(sp, buf))
}
