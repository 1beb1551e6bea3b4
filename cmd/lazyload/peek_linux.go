//go:build linux

package main

import (
	"encoding/hex"
	"flag"
	"os"

	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/config"
	loader "github.com/ranmrdrakono/lazyload/loader/elf"
	"github.com/ranmrdrakono/lazyload/native"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
)

// peekCmd loads the image into this process and dumps a range of it. Only
// the pages the range touches are read from the file.
func peekCmd(conf config.Config, args []string) error {
	fs := flag.NewFlagSet("peek", flag.ContinueOnError)
	addr := fs.Uint64("addr", 0, "image address to dump, defaults to the entry point")
	length := fs.Uint64("len", 64, "bytes to dump")
	if err := setup(&conf, fs, args); err != nil {
		return err
	}
	path := fs.Arg(0)

	ps := native.PageSize()
	img, err := loader.Parse(path, ps)
	if err != nil {
		return err
	}
	if *addr == 0 {
		*addr = img.Entry
	}
	backing, err := pager.OpenBacking(path, conf.Backing)
	if err != nil {
		return err
	}
	defer backing.Close()

	space, err := native.NewSpace(img, ps)
	if err != nil {
		return err
	}
	defer space.Close()

	eng := pager.NewEngine(img, backing, space)
	if err := eng.Register(space); err != nil {
		return err
	}

	view, err := space.Bytes(*addr, *length)
	if err != nil {
		return err
	}
	out := make([]byte, len(view))
	if err := space.Run(func() {
		for i := range out {
			out[i] = view[i]
		}
	}); err != nil {
		return err
	}
	log.WithFields(log.Fields{"addr": *addr, "len": *length, "resolved": eng.Stats().Resolved}).Debug("Peeked")

	dumper := hex.Dumper(os.Stdout)
	if _, err := dumper.Write(out); err != nil {
		return errors.Wrap(err, 1)
	}
	dumper.Close()

	if conf.Report {
		report, err := eng.Report(space)
		if err != nil {
			return err
		}
		if _, err := report.WriteTo(os.Stderr); err != nil {
			return errors.Wrap(err, 1)
		}
	}
	return nil
}
