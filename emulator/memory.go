package emulator

import (
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

func pageFlagsToProt(flags ds.PageFlags) int {
	prot := uc.PROT_NONE
	if flags&ds.R != 0 {
		prot |= uc.PROT_READ
	}
	if flags&ds.W != 0 {
		prot |= uc.PROT_WRITE
	}
	if flags&ds.X != 0 {
		prot |= uc.PROT_EXEC
	}
	return prot
}

func (s *Emulator) PageSize() uint64 {
	return pagesize
}

func (s *Emulator) Map(addr, size uint64) error {
	log.WithFields(log.Fields{"addr": hex(addr), "length": size}).Debug("Map Memory")
	return wrap(s.mu.MemMapProt(addr, size, uc.PROT_READ|uc.PROT_WRITE))
}

func (s *Emulator) Write(addr uint64, data []byte) error {
	return wrap(s.mu.MemWrite(addr, data))
}

func (s *Emulator) Protect(addr, size uint64, flags ds.PageFlags) error {
	return wrap(s.mu.MemProtect(addr, size, pageFlagsToProt(flags)))
}

func (s *Emulator) Read(addr, size uint64) ([]byte, error) {
	data, err := s.mu.MemRead(addr, size)
	return data, wrap(err)
}
