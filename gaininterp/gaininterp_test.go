package gaininterp

import (
	"math"
	"testing"
)

func TestImmediateApplyWhenFadeZero(t *testing.T) {
	g := New(1)
	g.SetGainVector([]float64{0.5}, 0)
	in := []float64{1, 1, 1}
	out := make([]float64, 3)
	g.Process(0, in, out)
	for _, v := range out {
		if math.Abs(v-0.5) > 1e-12 {
			t.Fatalf("expected immediate 0.5 gain, got %v", v)
		}
	}
}

func TestRampReachesTarget(t *testing.T) {
	g := New(1)
	g.Reset(0)
	g.SetGainVector([]float64{1}, 4)
	in := make([]float64, 4)
	for i := range in {
		in[i] = 1
	}
	out := make([]float64, 4)
	g.Process(0, in, out)
	if !g.Settled(0) {
		t.Fatal("expected ramp to settle after exactly fadeSamples")
	}
	if math.Abs(g.Current(0)-1) > 1e-9 {
		t.Fatalf("expected current gain 1 after ramp, got %v", g.Current(0))
	}
	if out[0] >= out[3] {
		t.Fatalf("expected monotonically increasing ramp, got %v", out)
	}
}

func TestProcessSkipsUnityPassthrough(t *testing.T) {
	g := New(1)
	g.Reset(1)
	in := []float64{1, 2, 3}
	out := make([]float64, 3)
	g.Process(0, in, out)
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Fatalf("unity passthrough mismatch: %v", out)
	}
}

func TestProcessAccumulSkipsZero(t *testing.T) {
	g := New(1)
	g.Reset(0)
	in := []float64{1, 1}
	out := []float64{5, 5}
	g.ProcessAccumul(0, in, out)
	if out[0] != 5 || out[1] != 5 {
		t.Fatalf("expected no-op accumulate at zero gain, got %v", out)
	}
}

func TestProcessAccumulAddsAtUnity(t *testing.T) {
	g := New(1)
	g.Reset(1)
	in := []float64{1, 1}
	out := []float64{5, 5}
	g.ProcessAccumul(0, in, out)
	if out[0] != 6 || out[1] != 6 {
		t.Fatalf("expected accumulate to add, got %v", out)
	}
}

func TestSetGainVectorSameTargetIsNoop(t *testing.T) {
	g := New(1)
	g.Reset(0)
	g.SetGainVector([]float64{1}, 4)
	// Advance the ramp partway.
	in := []float64{1, 1}
	out := make([]float64, 2)
	g.Process(0, in, out)
	midCurrent := g.Current(0)
	if g.Settled(0) {
		t.Fatal("expected ramp still pending after 2 of 4 samples")
	}

	// Re-issuing the same pending target must not restart the ramp.
	g.SetGainVector([]float64{1}, 10)
	if g.Current(0) != midCurrent {
		t.Fatalf("expected current gain unchanged by same-target SetGainVector, got %v want %v", g.Current(0), midCurrent)
	}
	if g.Settled(0) {
		t.Fatal("expected ramp still pending")
	}
	out2 := make([]float64, 2)
	g.Process(0, in, out2)
	if !g.Settled(0) {
		t.Fatal("expected original 4-sample ramp to still finish on schedule")
	}
}
