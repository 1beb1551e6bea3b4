// Package lazyload runs an executable image with its segments paged in on
// first access.
//
// The image is parsed into segment descriptors, the backing file is opened
// and held for the life of the run, a pager.Engine is registered with the
// runtime's fault source and control is handed to the runtime. Nothing is
// registered unless parsing and opening succeeded, and nothing runs unless
// registration succeeded.
package lazyload

import (
	"fmt"
	"io"

	"github.com/go-errors/errors"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
)

var ErrTransferReturned = errors.New("execution transfer returned")

type Parser interface {
	Parse(path string, pageSize uint64) (*ds.Image, error)
}

type ParserFunc func(path string, pageSize uint64) (*ds.Image, error)

func (f ParserFunc) Parse(path string, pageSize uint64) (*ds.Image, error) {
	return f(path, pageSize)
}

// Runtime is the address space the image is loaded into and the thing
// that runs it.
type Runtime interface {
	pager.Memory
	pager.PageReader
	pager.FaultSource
	// Transfer starts the program and only returns when it stops.
	Transfer(img *ds.Image, argv, envp []string) error
}

type Options struct {
	Path string
	// Args is argv including argv[0]. Defaults to Path alone.
	Args    []string
	Env     []string
	Backing string
	Parser  Parser
	Runtime Runtime
	// Report, if set, receives the residency report after the program stops.
	Report        io.Writer
	EngineOptions []pager.Option
}

func Execute(opts Options) error {
	rt := opts.Runtime
	img, err := opts.Parser.Parse(opts.Path, rt.PageSize())
	if err != nil {
		return errors.WrapPrefix(err, "parse "+opts.Path, 1)
	}
	backing, err := pager.OpenBacking(opts.Path, opts.Backing)
	if err != nil {
		return errors.WrapPrefix(err, "open backing", 1)
	}
	defer backing.Close()

	eng := pager.NewEngine(img, backing, rt, opts.EngineOptions...)
	if err := eng.Register(rt); err != nil {
		return err
	}

	argv := opts.Args
	if len(argv) == 0 {
		argv = []string{opts.Path}
	}
	log.WithFields(log.Fields{
		"path":     opts.Path,
		"entry":    hex(img.Entry),
		"segments": len(img.Segments),
		"backing":  opts.Backing,
	}).Info("Loading Image")
	err = rt.Transfer(img, argv, opts.Env)

	stats := eng.Stats()
	log.WithFields(log.Fields{"faults": stats.Faults, "resolved": stats.Resolved, "forwarded": stats.Forwarded}).Info("Program Stopped")
	if opts.Report != nil {
		report, rerr := eng.Report(rt)
		if rerr != nil {
			log.WithFields(log.Fields{"error": rerr}).Error("Error building Report")
		} else if _, rerr := report.WriteTo(opts.Report); rerr != nil {
			log.WithFields(log.Fields{"error": rerr}).Error("Error writing Report")
		}
	}
	if err == nil {
		return errors.Wrap(ErrTransferReturned, 1)
	}
	return err
}

func hex(val uint64) string {
	return fmt.Sprintf("0x%x", val)
}
