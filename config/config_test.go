package config

import (
	"testing"

	"github.com/go-errors/errors"
	"github.com/ranmrdrakono/lazyload/pager"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	should := require.New(t)
	should.NoError(Default().Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	should := require.New(t)
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvTrace, "1")
	t.Setenv(EnvMaxInstructions, "5000")
	t.Setenv(EnvStackSize, "8192")
	t.Setenv(EnvBacking, "MMAP")

	c := Load()
	should.Equal("debug", c.LogLevel)
	should.True(c.LogJSON)
	should.True(c.Trace)
	should.False(c.Report)
	should.Equal(5000, c.MaxInstructions)
	should.Equal(8192, c.StackSize)
	should.Equal(pager.BackingMmap, c.Backing)
	should.NoError(c.Validate())
}

func TestValidateRejects(t *testing.T) {
	should := require.New(t)
	for _, mutate := range []func(*Config){
		func(c *Config) { c.LogLevel = "loud" },
		func(c *Config) { c.Backing = "tape" },
		func(c *Config) { c.MaxInstructions = -1 },
		func(c *Config) { c.StackSize = 100 },
	} {
		c := Default()
		mutate(&c)
		should.True(errors.Is(c.Validate(), ErrInvalid))
	}
}

func TestApplyLogging(t *testing.T) {
	should := require.New(t)
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	c := Default()
	c.LogLevel = "error"
	c.LogJSON = true
	should.NoError(c.ApplyLogging())
	should.Equal(log.ErrorLevel, log.GetLevel())
	_, ok := log.StandardLogger().Formatter.(*log.JSONFormatter)
	should.True(ok)
}
