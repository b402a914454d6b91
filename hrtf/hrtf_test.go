package hrtf

import (
	"math"
	"testing"

	"github.com/cwbudde/spaudio-render/geom"
)

func TestSphericalHeadITDSignFollowsDirection(t *testing.T) {
	p := NewSphericalHeadProvider()
	right, err := p.ImpulseResponses(geom.Cartesian{X: 1, Y: 0, Z: 0}, 48000)
	if err != nil {
		t.Fatal(err)
	}
	left, err := p.ImpulseResponses(geom.Cartesian{X: -1, Y: 0, Z: 0}, 48000)
	if err != nil {
		t.Fatal(err)
	}
	if peakIndex(right.Right) >= peakIndex(right.Left) {
		t.Fatalf("expected a source to the right to arrive at the right ear first: right=%v left=%v",
			peakIndex(right.Right), peakIndex(right.Left))
	}
	if peakIndex(left.Left) >= peakIndex(left.Right) {
		t.Fatalf("expected a source to the left to arrive at the left ear first: left=%v right=%v",
			peakIndex(left.Left), peakIndex(left.Right))
	}
}

func peakIndex(ir []float64) int {
	best, bestI := math.Inf(-1), 0
	for i, v := range ir {
		if v > best {
			best, bestI = v, i
		}
	}
	return bestI
}

func TestBinauralizerSumsChannels(t *testing.T) {
	provider := NewSphericalHeadProvider()
	dirs := []geom.Cartesian{{X: 0, Y: 1, Z: 0}, {X: 1, Y: 0, Z: 0}}
	b, err := NewBinauralizer(dirs, provider, 48000, 32, 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	feeds := [][]float64{make([]float64, 32), make([]float64, 32)}
	feeds[0][0] = 1
	feeds[1][0] = 1
	left := make([]float64, 32)
	rightOut := make([]float64, 32)
	if err := b.ProcessBlock(feeds, left, rightOut); err != nil {
		t.Fatal(err)
	}
	sum := 0.0
	for _, v := range left {
		sum += v * v
	}
	if sum < 1e-9 {
		t.Fatal("expected nonzero left-ear energy from two impulse feeds")
	}
}

func TestAmbisonicBinauralizerHasOneChannelPerACN(t *testing.T) {
	provider := NewSphericalHeadProvider()
	b, err := NewAmbisonicBinauralizer(1, provider, 48000, 16, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	if b.NumChannels() != 4 {
		t.Fatalf("expected 4 ambisonic channels for order 1, got %d", b.NumChannels())
	}
	feeds := make([][]float64, 4)
	for i := range feeds {
		feeds[i] = make([]float64, 16)
	}
	feeds[0][0] = 1
	left := make([]float64, 16)
	right := make([]float64, 16)
	if err := b.ProcessBlock(feeds, left, right); err != nil {
		t.Fatal(err)
	}
}

func TestBinauralizerRejectsWrongChannelCount(t *testing.T) {
	provider := NewSphericalHeadProvider()
	dirs := []geom.Cartesian{{X: 0, Y: 1, Z: 0}}
	b, err := NewBinauralizer(dirs, provider, 48000, 32, 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	err = b.ProcessBlock([][]float64{make([]float64, 32), make([]float64, 32)}, make([]float64, 32), make([]float64, 32))
	if err == nil {
		t.Fatal("expected an error for mismatched channel count")
	}
}
