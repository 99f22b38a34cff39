package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnion(t *testing.T) {
	a := NewAccumulator()
	assert.True(t, a.Empty())

	a.Write(0x1000, []byte{7, 8})
	a.Write(0x0000, []byte{1, 2, 3})
	a.Write(0x0003, []byte{4, 5})
	a.Write(0x0010, []byte{6})
	assert.False(t, a.Empty())

	img := a.Image()
	want := []*Segment{
		{Address: 0x0000, Data: []byte{1, 2, 3, 4, 5}},
		{Address: 0x0010, Data: []byte{6}},
		{Address: 0x1000, Data: []byte{7, 8}},
	}
	assert.Equal(t, want, img.Segments)
	assert.Equal(t, 8, img.Size())
}

func TestLastWriteWins(t *testing.T) {
	a := NewAccumulator()
	a.Write(0x0100, []byte{0xaa, 0xaa, 0xaa, 0xaa})
	a.Write(0x0102, []byte{0xbb, 0xbb, 0xbb})
	a.Write(0x00ff, []byte{0xcc, 0xcc})

	img := a.Image()
	require.Len(t, img.Segments, 1)
	assert.Equal(t, uint32(0x00ff), img.Segments[0].Address)
	assert.Equal(t, []byte{0xcc, 0xcc, 0xaa, 0xbb, 0xbb, 0xbb}, img.Segments[0].Data)

	b, ok := img.At(0x0101)
	assert.True(t, ok)
	assert.Equal(t, byte(0xaa), b)
	_, ok = img.At(0x0105)
	assert.False(t, ok)
}

func TestImageDoesNotAlias(t *testing.T) {
	a := NewAccumulator()
	a.Write(0, []byte{1, 2})
	img := a.Image()
	a.Write(0, []byte{9})
	assert.Equal(t, []byte{1, 2}, img.Segments[0].Data)

	b := NewAccumulator()
	b.WriteImage(img)
	assert.Equal(t, img, b.Image())
}

func TestEmptyImage(t *testing.T) {
	img := NewAccumulator().Image()
	assert.True(t, img.Empty())
	assert.Empty(t, img.Segments)
}
