//go:build !linux

package main

import (
	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/config"
)

func peekCmd(conf config.Config, args []string) error {
	return errors.New("peek needs linux")
}
