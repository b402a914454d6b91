package render

import (
	"math"
	"testing"

	"github.com/cwbudde/spaudio-render/directspeaker"
	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/internal/rendertest"
	"github.com/cwbudde/spaudio-render/internal/testutil"
	"github.com/cwbudde/spaudio-render/object"
)

func constInput(n int, v float64) []float64 {
	return testutil.DC(v, n)
}

func runToSettled(t *testing.T, r *Renderer, add func(), blockSize int, blocks int) [][]float64 {
	t.Helper()
	last := rendertest.Scenario(t, blocks, blockSize, r.GetSpeakerCount(), add, r.GetRenderedAudio)
	for _, ch := range last {
		testutil.RequireFinite(t, ch)
	}
	return last
}

func TestConfigureRejectsHOAOrderTooHigh(t *testing.T) {
	_, err := New(Config{Output: "0+2+0", HOAOrder: 4, SampleRateHz: 48000, BlockSize: 64})
	if err != ErrHOAOrderTooHigh {
		t.Fatalf("expected ErrHOAOrderTooHigh, got %v", err)
	}
}

func TestConfigureRejectsHOAChannelMismatch(t *testing.T) {
	_, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: 64,
		StreamInfo: []TrackKind{TrackHOA, TrackHOA},
	})
	if err == nil {
		t.Fatal("expected an hoa channel mismatch error")
	}
}

func TestConfigureRejectsBinauralWithoutHRTFProvider(t *testing.T) {
	// WithHRTFProvider(nil) overrides the default, forcing the error path.
	_, err := New(Config{Output: BinauralLayoutName, HOAOrder: 1, SampleRateHz: 48000, BlockSize: 64},
		WithHRTFProvider(nil))
	if err != ErrMissingHRTFProvider {
		t.Fatalf("expected ErrMissingHRTFProvider, got %v", err)
	}
}

// TestStereoPanCentre mirrors the "S1 Stereo pan" scenario: an Object at
// (az=0, el=0) on a 0+2+0 layout should settle at L=R=1/sqrt(2).
func TestStereoPanCentre(t *testing.T) {
	const blockSize = 1024
	r, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)
	meta := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1})}
	last := runToSettled(t, r, func() {
		r.AddObject(0, in, meta, JumpInfo{})
	}, blockSize, 3)

	want := 1 / math.Sqrt2
	if math.Abs(last[0][blockSize-1]-want) > 1e-3 {
		t.Fatalf("L = %v, want %v", last[0][blockSize-1], want)
	}
	if math.Abs(last[1][blockSize-1]-want) > 1e-3 {
		t.Fatalf("R = %v, want %v", last[1][blockSize-1], want)
	}
}

// TestHardPanRight mirrors "S2 Hard pan": az=-30 on 0+2+0 should settle
// R=1, L=0 since the layout's speakers sit at +/-30 degrees.
func TestHardPanRight(t *testing.T) {
	const blockSize = 1024
	r, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)
	meta := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: -30, Elevation: 0, Distance: 1})}
	last := runToSettled(t, r, func() {
		r.AddObject(0, in, meta, JumpInfo{})
	}, blockSize, 3)

	if math.Abs(last[1][blockSize-1]-1) > 1e-3 {
		t.Fatalf("R = %v, want 1", last[1][blockSize-1])
	}
	if math.Abs(last[0][blockSize-1]) > 1e-3 {
		t.Fatalf("L = %v, want 0", last[0][blockSize-1])
	}
}

// TestLFEDirectSpeaker mirrors "S3 LFE direct": a DirectSpeaker routed to
// LFE1 on 0+5+0 must leave every non-LFE channel silent and pass the input
// straight through on LFE1.
func TestLFEDirectSpeaker(t *testing.T) {
	const blockSize = 256
	r, err := New(Config{
		Output: "0+5+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackDirectSpeakers},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 0.5)
	meta := directspeaker.Metadata{SpeakerLabel: "LFE1"}
	last := runToSettled(t, r, func() {
		r.AddDirectSpeaker(0, in, meta, JumpInfo{})
	}, blockSize, 2)

	lfeIdx := r.internal.IndexOf("LFE1")
	if lfeIdx < 0 {
		t.Fatal("layout has no LFE1 channel")
	}
	silence := testutil.DC(0, blockSize)
	for c := range last {
		if c == lfeIdx {
			continue
		}
		testutil.RequireSliceNearlyEqual(t, last[c], silence, 1e-9)
	}
	testutil.RequireSliceNearlyEqual(t, last[lfeIdx], constInput(blockSize, 0.5), 1e-6)
}

// TestJumpSwitchesWithinOneSample mirrors "S4 Jump vs ramp": a jump with
// interpolationLength=0 must move all the way to the new position by the
// very next sample.
func TestJumpSwitchesWithinOneSample(t *testing.T) {
	const blockSize = 32
	r, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)
	out := make([][]float64, r.GetSpeakerCount())
	for i := range out {
		out[i] = make([]float64, blockSize)
	}

	centre := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1})}
	r.AddObject(0, in, centre, JumpInfo{})
	r.GetRenderedAudio(out, blockSize)

	right := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: -30, Elevation: 0, Distance: 1})}
	r.AddObject(0, in, right, JumpInfo{Flag: true, InterpolationLength: 0, InterpolationLengthPresent: true})
	r.GetRenderedAudio(out, blockSize)

	if math.Abs(out[1][0]-1) > 1e-6 {
		t.Fatalf("R sample 0 after jump = %v, want 1", out[1][0])
	}
	if math.Abs(out[0][0]) > 1e-6 {
		t.Fatalf("L sample 0 after jump = %v, want 0", out[0][0])
	}
}

// TestRampTakesFullBlock mirrors S4's flag=false case: without a jump, the
// gain change ramps linearly over the full block length, so it must not
// have fully settled by the first sample.
func TestRampTakesFullBlock(t *testing.T) {
	const blockSize = 512
	r, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)
	out := make([][]float64, r.GetSpeakerCount())
	for i := range out {
		out[i] = make([]float64, blockSize)
	}

	centre := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1})}
	r.AddObject(0, in, centre, JumpInfo{})
	r.GetRenderedAudio(out, blockSize)

	right := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: -30, Elevation: 0, Distance: 1})}
	r.AddObject(0, in, right, JumpInfo{Flag: false})
	r.GetRenderedAudio(out, blockSize)

	if math.Abs(out[1][0]-1) < 1e-3 {
		t.Fatal("expected the ramp to not have reached the target by sample 0")
	}
	if math.Abs(out[1][blockSize-1]-1) > 1e-3 {
		t.Fatalf("expected the ramp to have reached the target by the last sample, got %v", out[1][blockSize-1])
	}
}

// TestZoneExclusionConservesEnergy mirrors S5: an Object panned onto an
// excluded channel must radiate the same total energy across the remaining
// channels after exclusion as it did on the original single channel before
// exclusion, per the corrected energy-preserving (L2) redistribution.
func TestZoneExclusionConservesEnergy(t *testing.T) {
	const blockSize = 64
	r, err := New(Config{
		Output: "0+5+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)

	// M+000 is dead centre; panning there concentrates ~all direct gain on
	// one channel, so its zone can be excluded outright (S5's setup).
	meta := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1})}
	settleAdd := func() { r.AddObject(0, in, meta, JumpInfo{}) }
	before := rendertest.Scenario(t, 3, blockSize, r.GetSpeakerCount(), settleAdd, r.GetRenderedAudio)
	var beforeEnergy float64
	for _, ch := range before {
		beforeEnergy += ch[blockSize-1] * ch[blockSize-1]
	}
	if beforeEnergy < 1e-6 {
		t.Fatalf("expected non-trivial energy before exclusion, got %v", beforeEnergy)
	}

	meta.ZoneExclusion = []object.ExcludedZone{{MinAzimuth: -15, MaxAzimuth: 15, MinElevation: -90, MaxElevation: 90}}
	excludeAdd := func() { r.AddObject(0, in, meta, JumpInfo{}) }
	after := rendertest.Scenario(t, 3, blockSize, r.GetSpeakerCount(), excludeAdd, r.GetRenderedAudio)
	var afterEnergy float64
	for _, ch := range after {
		afterEnergy += ch[blockSize-1] * ch[blockSize-1]
	}

	if math.Abs(afterEnergy-beforeEnergy) > 1e-3*beforeEnergy {
		t.Fatalf("zone exclusion did not conserve energy: before=%v after=%v", beforeEnergy, afterEnergy)
	}

	m000 := r.internal.IndexOf("M+000")
	if m000 >= 0 && after[m000][blockSize-1] != 0 {
		t.Fatalf("expected M+000 silenced by its own exclusion zone, got %v", after[m000][blockSize-1])
	}
}

// TestBinauralProducesStereoOutput is a loose sanity scenario resembling
// S6: a Binaural target must produce a nonzero, finite two-channel mix for
// a panned object.
func TestBinauralProducesStereoOutput(t *testing.T) {
	const blockSize = 128
	r, err := New(Config{
		Output: BinauralLayoutName, HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject}, MinBlockOrder: 4, MaxBlockOrder: 6,
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.GetSpeakerCount() != 2 {
		t.Fatalf("expected 2 output channels for a binaural target, got %d", r.GetSpeakerCount())
	}
	in := constInput(blockSize, 1.0)
	meta := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: -90, Elevation: 0, Distance: 1})}
	last := runToSettled(t, r, func() {
		r.AddObject(0, in, meta, JumpInfo{})
	}, blockSize, 4)

	var energyL, energyR float64
	for i := range last[0] {
		if math.IsNaN(last[0][i]) || math.IsNaN(last[1][i]) {
			t.Fatal("binaural output contains NaN")
		}
		energyL += last[0][i] * last[0][i]
		energyR += last[1][i] * last[1][i]
	}
	if energyL+energyR < 1e-9 {
		t.Fatal("expected nonzero binaural output energy")
	}
}

func TestUnknownTrackIndexIsNoopNotPanic(t *testing.T) {
	const blockSize = 32
	r, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)
	r.AddObject(5, in, object.Metadata{}, JumpInfo{})
	r.AddDirectSpeaker(0, in, directspeaker.Metadata{}, JumpInfo{})
}

func TestResetClearsOutput(t *testing.T) {
	const blockSize = 64
	r, err := New(Config{
		Output: "0+2+0", HOAOrder: 1, SampleRateHz: 48000, BlockSize: blockSize,
		StreamInfo: []TrackKind{TrackObject},
	})
	if err != nil {
		t.Fatal(err)
	}
	in := constInput(blockSize, 1.0)
	meta := object.Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1})}
	out := make([][]float64, r.GetSpeakerCount())
	for i := range out {
		out[i] = make([]float64, blockSize)
	}
	r.AddObject(0, in, meta, JumpInfo{})
	r.GetRenderedAudio(out, blockSize)
	r.Reset()
	r.GetRenderedAudio(out, blockSize)
	for _, ch := range out {
		for i, v := range ch {
			if v != 0 {
				t.Fatalf("expected silence after reset, sample %d = %v", i, v)
			}
		}
	}
}
