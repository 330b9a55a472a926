package ifs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrame_OutOfBoundsReadsZero(t *testing.T) {
	f := NewFrame(4, 4)
	f.Fill(7)
	assert.Equal(t, 0.0, f.At(-1, 0))
	assert.Equal(t, 0.0, f.At(0, 4))
	assert.Equal(t, 7.0, f.At(3, 3))
}

func TestFrame_OutOfBoundsWritesDropped(t *testing.T) {
	f := NewFrame(4, 4)
	f.Set(-1, 2, 9)
	f.Add(4, 0, 9)
	assert.Equal(t, 0.0, f.Sum())
}

func TestFrame_AddFrameAndSum(t *testing.T) {
	a := NewFrame(3, 3)
	b := NewFrame(3, 3)
	a.Fill(1)
	b.Fill(2)
	a.AddFrame(b)
	assert.InDelta(t, 27.0, a.Sum(), 1e-12)
}

func TestFrame_MedianFilterFlattensSpike(t *testing.T) {
	f := NewFrame(9, 9)
	f.Fill(10)
	f.Set(4, 4, 1000)
	sm := f.MedianFilter(3)
	assert.Equal(t, 10.0, sm.At(4, 4))
}

func TestFrame_BadPixelMaskFlagsSpike(t *testing.T) {
	f := NewFrame(16, 16)
	f.Fill(10)
	f.Set(8, 8, 1e6)
	good := f.BadPixelMask(3, 5.0)
	assert.False(t, good[8*16+8])

	flagged := 0
	for _, g := range good {
		if !g {
			flagged++
		}
	}
	assert.LessOrEqual(t, flagged, 2)
}

func TestFrame_BadPixelMaskUniformAllGood(t *testing.T) {
	f := NewFrame(8, 8)
	f.Fill(3)
	for _, g := range f.BadPixelMask(3, 5.0) {
		assert.True(t, g)
	}
}

func TestFrame_CircularMask(t *testing.T) {
	f := NewFrame(11, 11)
	mask := f.CircularMask(3)
	assert.True(t, mask[5*11+5])
	assert.False(t, mask[0])
}

func TestFrame_DenseSharesBacking(t *testing.T) {
	f := NewFrame(3, 2)
	d := f.Dense()
	d.Set(1, 2, 5) // row 1, col 2
	assert.Equal(t, 5.0, f.At(2, 1))
}
