package data_structures

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeIsHalfOpen(t *testing.T) {
	should := require.New(t)
	rng := NewRange(0x1000, 0x3000)
	should.True(rng.Contains(0x1000))
	should.True(rng.Contains(0x2fff))
	should.False(rng.Contains(0x3000))
	should.False(rng.Contains(0xfff))
	should.Equal(uint64(0x2000), rng.Length())
}

func TestRangeSwappedBounds(t *testing.T) {
	should := require.New(t)
	rng := NewRange(0x3000, 0x1000)
	should.Equal(Range{From: 0x1000, To: 0x3000}, rng)
}

func TestRangeIntersects(t *testing.T) {
	should := require.New(t)
	rng := NewRange(0x1000, 0x2000)
	should.True(rng.Intersects(0x1fff, 0x3000))
	should.False(rng.Intersects(0x2000, 0x3000))
	should.False(rng.IntersectsRange(NewRange(0, 0x1000)))
	should.True(NewRange(5, 5).IsEmpty())
}

func TestPageFlagsString(t *testing.T) {
	should := require.New(t)
	should.Equal("r-x", (R | X).String())
	should.Equal("rw-", (R | W).String())
	should.Equal("---", PageFlags(0).String())
}
