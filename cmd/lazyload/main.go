// Command lazyload runs an x86-64 ELF executable with its pages loaded on
// first touch.
//
//	lazyload run [-trace] [-report] [-log-level L] [-backing pread|mmap] image [args...]
//	lazyload peek -addr A [-len N] image
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload"
	"github.com/ranmrdrakono/lazyload/config"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/disassemble"
	"github.com/ranmrdrakono/lazyload/emulator"
	loader "github.com/ranmrdrakono/lazyload/loader/elf"
	log "github.com/sirupsen/logrus"
)

const exitSetup = 1

type exitCoder interface {
	ExitCode() int
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n  %s run [flags] image [args...]\n  %s peek -addr A [-len N] image\n", os.Args[0], os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	conf := config.Load()
	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(conf, os.Args[2:])
	case "peek":
		err = peekCmd(conf, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		if _, ok := err.(*emulator.ExitError); !ok {
			log.WithFields(log.Fields{"error": err}).Error("Program Terminated")
		}
		return coder.ExitCode()
	}
	fields := log.Fields{"error": err}
	if werr, ok := err.(*errors.Error); ok {
		fields["stack"] = werr.ErrorStack()
	}
	log.WithFields(fields).Error("Error running Image")
	return exitSetup
}

// setup parses the common flags on top of the environment configuration.
func setup(conf *config.Config, fs *flag.FlagSet, args []string) error {
	fs.StringVar(&conf.LogLevel, "log-level", conf.LogLevel, "logrus level")
	fs.StringVar(&conf.Backing, "backing", conf.Backing, "how pages are read from the image: pread or mmap")
	fs.BoolVar(&conf.Report, "report", conf.Report, "print the residency report to stderr when done")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, 1)
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	if err := conf.ApplyLogging(); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("missing image")
	}
	return nil
}

func runCmd(conf config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.BoolVar(&conf.Trace, "trace", conf.Trace, "log every executed instruction at debug level")
	fs.IntVar(&conf.MaxInstructions, "max-instructions", conf.MaxInstructions, "stop after this many instructions, 0 is unlimited")
	if err := setup(&conf, fs, args); err != nil {
		return err
	}
	path := fs.Arg(0)

	em, err := emulator.NewEmulator(emulator.Config{
		MaxTraceInstructionCount: uint64(conf.MaxInstructions),
		StackSize:                uint64(conf.StackSize),
	})
	if err != nil {
		return err
	}
	defer em.Close()

	var tracer *disassemble.Tracer
	parser := lazyload.ParserFunc(func(path string, pageSize uint64) (*ds.Image, error) {
		img, err := loader.Parse(path, pageSize)
		if err != nil || !conf.Trace {
			return img, err
		}
		if tracer, err = disassemble.NewTracer(img); err != nil {
			return nil, err
		}
		return img, tracer.Attach(em)
	})
	defer func() {
		if tracer != nil {
			log.WithFields(log.Fields{"instructions": tracer.Count, "last": tracer.Last}).Info("Trace Done")
			tracer.Close()
		}
	}()

	opts := lazyload.Options{
		Path:    path,
		Args:    fs.Args(),
		Env:     os.Environ(),
		Backing: conf.Backing,
		Parser:  parser,
		Runtime: em,
	}
	if conf.Report {
		opts.Report = os.Stderr
	}
	return lazyload.Execute(opts)
}
