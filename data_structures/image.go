package data_structures

import (
	"fmt"
	"sort"

	"github.com/go-errors/errors"
)

var (
	ErrEmptyImage = errors.New("image has no loadable segments")
	ErrOverlap    = errors.New("segments overlap")
)

// Image is the parsed form of an executable: its loadable segments, the
// entry point and whatever symbols the file carried.
type Image struct {
	Path     string
	Entry    uint64
	Segments []*Segment
	Symbols  []*Symbol
}

// Validate checks the producer's promise that segments do not overlap.
func (s *Image) Validate() error {
	if len(s.Segments) == 0 {
		return errors.Wrap(ErrEmptyImage, 1)
	}
	sorted := make([]*Segment, len(s.Segments))
	copy(sorted, s.Segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Range.From < sorted[j].Range.From })
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Range.IntersectsRange(sorted[i].Range) {
			return errors.WrapPrefix(ErrOverlap, fmt.Sprintf("0x%x and 0x%x", sorted[i-1].Range.From, sorted[i].Range.From), 1)
		}
	}
	return nil
}

// Span is the smallest range covering every segment.
func (s *Image) Span() Range {
	if len(s.Segments) == 0 {
		return Range{}
	}
	res := s.Segments[0].Range
	for _, seg := range s.Segments[1:] {
		res.From = min(res.From, seg.Range.From)
		res.To = max(res.To, seg.Range.To)
	}
	return res
}

func (s *Image) SegmentAt(addr uint64) *Segment {
	for _, seg := range s.Segments {
		if seg.Range.Contains(addr) {
			return seg
		}
	}
	return nil
}

func (s *Image) SymbolAt(addr uint64) *Symbol {
	for _, sym := range s.Symbols {
		if sym.Range.Contains(addr) {
			return sym
		}
	}
	return nil
}
