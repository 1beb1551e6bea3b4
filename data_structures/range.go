package data_structures

import (
	log "github.com/sirupsen/logrus"
)

// Range is the half-open interval [From, To).
type Range struct {
	From, To uint64
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

func (s Range) Contains(addr uint64) bool {
	return s.From <= addr && addr < s.To
}

func (s Range) Intersects(from, to uint64) bool {
	return max(s.From, from) < min(s.To, to)
}

func (s Range) IntersectsRange(other Range) bool {
	return s.Intersects(other.From, other.To)
}

func (s Range) Length() uint64 {
	return s.To - s.From
}

func (s Range) IsEmpty() bool {
	return s.To <= s.From
}

func NewRange(from, to uint64) Range {
	if from > to {
		log.WithFields(log.Fields{"from": from, "to": to}).Warning("Range with swaped bounds")
		from, to = to, from
	}
	return Range{From: from, To: to}
}
