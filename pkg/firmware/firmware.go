// Package firmware models a sparse firmware image as a set of contiguous
// address-tagged segments.
package firmware

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Segment is a run of bytes loaded at consecutive addresses.
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the first address past the segment.
func (s *Segment) End() uint32 {
	return s.Address + uint32(len(s.Data))
}

func (s *Segment) String() string {
	return fmt.Sprintf("0x%04x-0x%04x (%d bytes)", s.Address, s.End(), len(s.Data))
}

// Image is a list of non-overlapping, non-adjacent segments in ascending
// address order. Build one with an Accumulator.
type Image struct {
	Segments []*Segment
}

// Size returns the number of bytes in the image.
func (i *Image) Size() int {
	res := 0
	for _, s := range i.Segments {
		res += len(s.Data)
	}
	return res
}

// Empty returns true if the image holds no bytes at all.
func (i *Image) Empty() bool {
	return i.Size() == 0
}

// At returns the byte loaded at addr, if any.
func (i *Image) At(addr uint32) (byte, bool) {
	for _, s := range i.Segments {
		if addr >= s.Address && addr < s.End() {
			return s.Data[addr-s.Address], true
		}
	}
	return 0, false
}

// Accumulator folds memory writes into an Image. Later writes to an address
// replace earlier ones, the same way a device would see them when the writes
// are replayed in order.
type Accumulator struct {
	mem map[uint32]byte
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		mem: make(map[uint32]byte),
	}
}

// Write stores data at consecutive addresses starting at addr.
func (a *Accumulator) Write(addr uint32, data []byte) {
	for i, b := range data {
		a.mem[addr+uint32(i)] = b
	}
}

// WriteImage replays every segment of img into the accumulator.
func (a *Accumulator) WriteImage(img *Image) {
	for _, s := range img.Segments {
		a.Write(s.Address, s.Data)
	}
}

// Empty returns true if nothing was written yet.
func (a *Accumulator) Empty() bool {
	return len(a.mem) == 0
}

// Image coalesces everything written so far into maximal contiguous segments.
// The returned image does not alias the accumulator.
func (a *Accumulator) Image() *Image {
	addrs := make([]uint32, 0, len(a.mem))
	for addr := range a.mem {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)

	res := &Image{}
	var cur *Segment
	for _, addr := range addrs {
		if cur == nil || addr != cur.End() {
			cur = &Segment{Address: addr}
			res.Segments = append(res.Segments, cur)
		}
		cur.Data = append(cur.Data, a.mem[addr])
	}
	return res
}
