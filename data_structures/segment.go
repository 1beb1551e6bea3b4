package data_structures

type PageFlags uint

const (
	X PageFlags = 1
	R PageFlags = 2
	W PageFlags = 4
)

func (f PageFlags) String() string {
	res := []byte("---")
	if f&R != 0 {
		res[0] = 'r'
	}
	if f&W != 0 {
		res[1] = 'w'
	}
	if f&X != 0 {
		res[2] = 'x'
	}
	return string(res)
}

// Segment is one loadable region of an image. Range covers the memory
// footprint; the first FileSize bytes come from the backing file at
// FileOffset and the rest are zero.
type Segment struct {
	Range      Range
	FileOffset uint64
	FileSize   uint64
	Flags      PageFlags
}

func NewSegment(vaddr, memSize, offset, fileSize uint64, flags PageFlags) *Segment {
	return &Segment{
		Range:      NewRange(vaddr, vaddr+memSize),
		FileOffset: offset,
		FileSize:   fileSize,
		Flags:      flags,
	}
}

func (s *Segment) Pages(pageSize uint64) uint64 {
	return (s.Range.Length() + pageSize - 1) / pageSize
}

func (s *Segment) PageIndex(addr, pageSize uint64) uint64 {
	return (addr - s.Range.From) / pageSize
}

func (s *Segment) PageAddr(index, pageSize uint64) uint64 {
	return s.Range.From + index*pageSize
}

// FileEnd is the offset one past the last file-backed byte.
func (s *Segment) FileEnd() uint64 {
	return s.FileOffset + s.FileSize
}
