package emulator

import (
	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

// Install routes unicorn's invalid-memory events to h. Before it, unicorn
// stops emulation on such an access; that behaviour is what the returned
// fallback keeps for faults h does not own.
func (s *Emulator) Install(h pager.Handler) (pager.Fallback, error) {
	if s.handler != nil {
		return nil, errors.Wrap(ErrAlreadyInstalled, 1)
	}
	_, err := s.mu.HookAdd(uc.HOOK_MEM_INVALID, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		log.WithFields(log.Fields{"addr": hex(addr), "size": size, "access": accessName(access)}).Debug("invalid memory access")
		s.access = access
		return s.handler.HandleRange(addr, uint64(size))
	}, 1, 0)
	if err != nil {
		return nil, wrap(err)
	}
	s.handler = h
	return pager.FallbackFunc(s.stopOnFault), nil
}

func (s *Emulator) stopOnFault(addr uint64) {
	ip, err := s.mu.RegRead(s.Config.Arch.GetRegIP())
	if err != nil {
		log.WithFields(log.Fields{"addr": hex(addr), "error": err}).Debug("IP Unreadable")
	}
	s.fault = &FaultError{Addr: addr, IP: ip, Access: accessName(s.access)}
	log.WithFields(log.Fields{"addr": hex(addr), "ip": hex(ip), "access": s.fault.Access}).Error("Segmentation Fault")
}
