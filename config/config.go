// Package config reads loader settings from the environment.
package config

import (
	"os"
	"strings"

	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	"github.com/xyproto/env/v2"
)

const (
	EnvLogLevel        = "LAZYLOAD_LOG_LEVEL"
	EnvLogJSON         = "LAZYLOAD_LOG_JSON"
	EnvTrace           = "LAZYLOAD_TRACE"
	EnvMaxInstructions = "LAZYLOAD_MAX_INSTRUCTIONS"
	EnvStackSize       = "LAZYLOAD_STACK_SIZE"
	EnvBacking         = "LAZYLOAD_BACKING"
	EnvReport          = "LAZYLOAD_REPORT"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	LogLevel string
	LogJSON  bool
	// Trace logs every executed instruction at debug level.
	Trace           bool
	MaxInstructions int
	StackSize       int
	Backing         string
	Report          bool
}

func Default() Config {
	return Config{
		LogLevel:        "warning",
		MaxInstructions: 0,
		StackSize:       0x100000,
		Backing:         pager.BackingPread,
	}
}

// Load overlays the environment on Default.
func Load() Config {
	c := Default()
	c.LogLevel = env.Str(EnvLogLevel, c.LogLevel)
	c.LogJSON = env.Bool(EnvLogJSON)
	c.Trace = env.Bool(EnvTrace)
	c.MaxInstructions = env.Int(EnvMaxInstructions, c.MaxInstructions)
	c.StackSize = env.Int(EnvStackSize, c.StackSize)
	c.Backing = strings.ToLower(env.Str(EnvBacking, c.Backing))
	c.Report = env.Bool(EnvReport)
	return c
}

func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return errors.WrapPrefix(ErrInvalid, err.Error(), 1)
	}
	if c.Backing != pager.BackingPread && c.Backing != pager.BackingMmap {
		return errors.WrapPrefix(ErrInvalid, "backing "+c.Backing, 1)
	}
	if c.MaxInstructions < 0 {
		return errors.WrapPrefix(ErrInvalid, "negative instruction limit", 1)
	}
	if c.StackSize <= 0 || c.StackSize%4096 != 0 {
		return errors.WrapPrefix(ErrInvalid, "stack size must be a positive multiple of 4096", 1)
	}
	return nil
}

// ApplyLogging configures the standard logrus logger. Output goes to
// stderr so the loaded program owns stdout.
func (c Config) ApplyLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return errors.WrapPrefix(ErrInvalid, err.Error(), 1)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)
	if c.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
	}
	return nil
}
