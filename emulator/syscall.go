package emulator

import (
	"io"

	ds "github.com/ranmrdrakono/lazyload/data_structures"
	log "github.com/sirupsen/logrus"
)

const (
	sysWrite     = 1
	sysBrk       = 12
	sysExit      = 60
	sysExitGroup = 231

	errEFAULT = 14
	errEBADF  = 9
	errENOSYS = 38
)

func (s *Emulator) syscall() {
	num, err := s.mu.RegRead(s.Config.Arch.GetRegSyscall())
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Debug("Syscall Number Unreadable")
	}
	regs := s.Config.Arch.GetRegArgs()
	var args [3]uint64
	for i := range args {
		if args[i], err = s.mu.RegRead(regs[i]); err != nil {
			log.WithFields(log.Fields{"arg": i, "error": err}).Debug("Syscall Argument Unreadable")
		}
	}
	log.WithFields(log.Fields{"num": num, "a0": hex(args[0]), "a1": hex(args[1]), "a2": hex(args[2])}).Debug("Syscall")

	var ret int64
	switch num {
	case sysWrite:
		ret = s.write(args[0], args[1], args[2])
	case sysBrk:
		// The break never moves; callers fall back to mmap or fail.
		ret = int64(s.brk)
	case sysExit, sysExitGroup:
		s.exit = &ExitError{Code: int(int32(args[0]))}
		s.mu.Stop()
		return
	default:
		log.WithFields(log.Fields{"num": num}).Warn("Unsupported Syscall")
		ret = -errENOSYS
	}
	if err := s.mu.RegWrite(s.Config.Arch.GetRegRet(), uint64(ret)); err != nil {
		log.WithFields(log.Fields{"num": num, "error": err}).Debug("Syscall Return Lost")
	}
}

// guestRange reports whether [addr, addr+size) lies inside the image or
// the stack without wrapping.
func (s *Emulator) guestRange(addr, size uint64) bool {
	if size-1 > ^uint64(0)-addr {
		return false
	}
	end := addr + size
	stack := ds.Range{From: s.Config.StackTop - s.Config.StackSize, To: s.Config.StackTop}
	if stack.Contains(addr) && end <= stack.To {
		return true
	}
	if s.image == nil {
		return false
	}
	span := s.image.Span()
	return span.Contains(addr) && end <= span.To
}

func (s *Emulator) write(fd, buf, count uint64) int64 {
	var out io.Writer
	switch fd {
	case 1:
		out = s.Config.Stdout
	case 2:
		out = s.Config.Stderr
	default:
		return -errEBADF
	}
	if count == 0 {
		return 0
	}
	if !s.guestRange(buf, count) {
		log.WithFields(log.Fields{"buf": hex(buf), "count": count}).Warn("Write Buffer Outside Guest Memory")
		return -errEFAULT
	}
	if err := s.handler.Prefault(buf, count); err != nil {
		log.WithFields(log.Fields{"buf": hex(buf), "error": err}).Error("Prefault Failed")
		return -errEFAULT
	}
	data, err := s.mu.MemRead(buf, count)
	if err != nil {
		return -errEFAULT
	}
	n, err := out.Write(data)
	if err != nil {
		return -errEFAULT
	}
	return int64(n)
}
