package disassemble

import (
	"fmt"

	"github.com/bnagy/gapstone"
	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
)

// CodeHooker is anything that can report instructions as they execute.
type CodeHooker interface {
	AddCodeHook(fn func(addr uint64, code []byte)) error
}

type Instruction struct {
	Addr     uint64
	Symbol   string
	Mnemonic string
	Operands string
}

func (s Instruction) String() string {
	if s.Symbol != "" {
		return fmt.Sprintf("0x%x <%s>: %s %s", s.Addr, s.Symbol, s.Mnemonic, s.Operands)
	}
	return fmt.Sprintf("0x%x: %s %s", s.Addr, s.Mnemonic, s.Operands)
}

// Tracer logs every executed instruction of an image.
type Tracer struct {
	engine gapstone.Engine
	image  *ds.Image
	Count  uint64
	// Last keeps the most recent instruction for post-mortem reporting.
	Last Instruction
}

func NewTracer(img *ds.Image) (*Tracer, error) {
	engine, err := gapstone.New(gapstone.CS_ARCH_X86, gapstone.CS_MODE_64)
	if err != nil {
		return nil, errors.Wrap(err, 1)
	}
	return &Tracer{engine: engine, image: img}, nil
}

func (s *Tracer) Close() error {
	return s.engine.Close()
}

func (s *Tracer) Attach(h CodeHooker) error {
	return h.AddCodeHook(s.Step)
}

func (s *Tracer) Decode(addr uint64, code []byte) (Instruction, error) {
	insns, err := s.engine.Disasm(code, addr, 1)
	if err != nil {
		return Instruction{}, errors.Wrap(err, 1)
	}
	if len(insns) == 0 {
		return Instruction{}, errors.Errorf("no instruction at 0x%x", addr)
	}
	res := Instruction{Addr: addr, Mnemonic: insns[0].Mnemonic, Operands: insns[0].OpStr}
	if s.image != nil {
		if sym := s.image.SymbolAt(addr); sym != nil {
			res.Symbol = sym.Name
		}
	}
	return res, nil
}

func (s *Tracer) Step(addr uint64, code []byte) {
	s.Count++
	insn, err := s.Decode(addr, code)
	if err != nil {
		log.WithFields(log.Fields{"at": fmt.Sprintf("0x%x", addr), "error": err}).Debug("Undecodable Instruction")
		return
	}
	s.Last = insn
	log.WithFields(log.Fields{"at": fmt.Sprintf("0x%x", addr), "func": insn.Symbol}).Debugf("%s %s", insn.Mnemonic, insn.Operands)
}
