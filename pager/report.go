package pager

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/OneOfOne/xxhash"
	ds "github.com/ranmrdrakono/lazyload/data_structures"
)

const digestSeed = uint64(0x6e53469168745d93)

type PageDigest struct {
	Index  uint64
	Addr   uint64
	Digest uint64
}

type SegmentReport struct {
	Range    ds.Range
	Flags    ds.PageFlags
	Pages    uint64
	Resident []PageDigest
}

// Report describes which pages were materialised and what they hold.
type Report struct {
	Segments []SegmentReport
	Stats    Stats
}

// Report digests every resident page readable through r. Pages of segments
// without read rights are listed with a zero digest.
func (e *Engine) Report(r PageReader) (*Report, error) {
	res := &Report{Stats: e.stats}
	for i, seg := range e.image.Segments {
		sr := SegmentReport{Range: seg.Range, Flags: seg.Flags, Pages: e.residency[i].Capacity()}
		for _, page := range e.residency[i].Resident() {
			pd := PageDigest{Index: page, Addr: seg.PageAddr(page, e.pageSize)}
			if seg.Flags&ds.R != 0 {
				data, err := r.Read(pd.Addr, e.pageSize)
				if err != nil {
					return nil, wrap(err)
				}
				pd.Digest = Digest(data)
			}
			sr.Resident = append(sr.Resident, pd)
		}
		res.Segments = append(res.Segments, sr)
	}
	return res, nil
}

func Digest(page []byte) uint64 {
	return xxhash.Checksum64S(page, digestSeed)
}

func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "faults %d\tresolved %d\tforwarded %d\n", r.Stats.Faults, r.Stats.Resolved, r.Stats.Forwarded)
	for _, seg := range r.Segments {
		fmt.Fprintf(tw, "segment 0x%x-0x%x\t%v\t%d/%d resident\n", seg.Range.From, seg.Range.To, seg.Flags, len(seg.Resident), seg.Pages)
		for _, page := range seg.Resident {
			fmt.Fprintf(tw, "  page %d\t0x%x\t%016x\n", page.Index, page.Addr, page.Digest)
		}
	}
	err := tw.Flush()
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
