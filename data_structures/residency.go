package data_structures

import (
	"github.com/bits-and-blooms/bitset"
)

// Residency records which pages of one segment have been mapped, filled and
// protected. Its capacity is fixed at construction to the segment's page count.
type Residency struct {
	bits  *bitset.BitSet
	pages uint64
}

func NewResidency(pages uint64) *Residency {
	return &Residency{bits: bitset.New(uint(pages)), pages: pages}
}

func (s *Residency) Capacity() uint64 {
	return s.pages
}

func (s *Residency) IsResident(page uint64) bool {
	return page < s.pages && s.bits.Test(uint(page))
}

// MarkResident returns false when page is outside the tracked range.
func (s *Residency) MarkResident(page uint64) bool {
	if page >= s.pages {
		return false
	}
	s.bits.Set(uint(page))
	return true
}

func (s *Residency) Count() uint64 {
	return uint64(s.bits.Count())
}

func (s *Residency) Resident() []uint64 {
	res := make([]uint64, 0, s.bits.Count())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		res = append(res, uint64(i))
	}
	return res
}
