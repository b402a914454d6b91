package object

import (
	"math"
	"testing"

	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/layout"
)

func TestDiffuseZeroIsFullyDirect(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(l, layout.DefaultScreen)
	if err != nil {
		t.Fatal(err)
	}
	r := c.Gains(Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 30, Distance: 1}), Diffuse: 0})
	sum := 0.0
	for _, v := range r.Diffuse {
		sum += v * v
	}
	if sum > 1e-9 {
		t.Fatalf("expected no diffuse energy at Diffuse=0, got %v", r.Diffuse)
	}
}

func TestDiffuseOneIsFullyDiffuse(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(l, layout.DefaultScreen)
	if err != nil {
		t.Fatal(err)
	}
	r := c.Gains(Metadata{Position: geom.FromPolar(geom.Polar{Azimuth: 30, Distance: 1}), Diffuse: 1})
	sum := 0.0
	for _, v := range r.Direct {
		sum += v * v
	}
	if sum > 1e-9 {
		t.Fatalf("expected no direct energy at Diffuse=1, got %v", r.Direct)
	}
}

func TestZoneExclusionZeroesExcludedChannel(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(l, layout.DefaultScreen)
	if err != nil {
		t.Fatal(err)
	}
	r := c.Gains(Metadata{
		Position: geom.FromPolar(geom.Polar{Azimuth: 30, Distance: 1}),
		ZoneExclusion: []ExcludedZone{
			{MinAzimuth: 20, MaxAzimuth: 40, MinElevation: -10, MaxElevation: 10},
		},
	})
	idx := l.IndexOf("M+030")
	if math.Abs(r.Direct[idx]) > 1e-9 {
		t.Fatalf("expected M+030 excluded, got gain %v", r.Direct[idx])
	}
}

// TestZoneExclusionPreservesEnergy mirrors S5: excluding the one channel a
// dead-centre Object is fully panned to must redistribute its energy onto
// the remaining channels without loss (or gain).
func TestZoneExclusionPreservesEnergy(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(l, layout.DefaultScreen)
	if err != nil {
		t.Fatal(err)
	}
	pos := geom.FromPolar(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1})
	before := c.Gains(Metadata{Position: pos})
	var beforeEnergy float64
	for _, v := range before.Direct {
		beforeEnergy += v * v
	}

	after := c.Gains(Metadata{
		Position:      pos,
		ZoneExclusion: []ExcludedZone{{MinAzimuth: -10, MaxAzimuth: 10, MinElevation: -90, MaxElevation: 90}},
	})
	var afterEnergy float64
	for _, v := range after.Direct {
		afterEnergy += v * v
	}

	if math.Abs(afterEnergy-beforeEnergy) > 1e-9 {
		t.Fatalf("expected exclusion to preserve total energy: before=%v after=%v", beforeEnergy, afterEnergy)
	}
	idx := l.IndexOf("M+000")
	if after.Direct[idx] != 0 {
		t.Fatalf("expected M+000 excluded, got gain %v", after.Direct[idx])
	}
}

func TestDivergenceIsLinearSumOfGainVectors(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(l, layout.DefaultScreen)
	if err != nil {
		t.Fatal(err)
	}
	pos := geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1}
	m := Metadata{
		Position:               geom.FromPolar(pos),
		Divergence:             0.5,
		DivergenceAzimuthRange: 30,
	}
	got := c.divergedGains(pos, m)

	centre := c.extentOrPointGains(pos, m)
	leftPos, rightPos := pos, pos
	leftPos.Azimuth += m.DivergenceAzimuthRange
	rightPos.Azimuth -= m.DivergenceAzimuthRange
	left := c.extentOrPointGains(leftPos, m)
	right := c.extentOrPointGains(rightPos, m)

	v := m.Divergence
	g0 := (1 - v) / (1 + v)
	g1 := v / (1 + v)
	for i := range got {
		want := g0*centre[i] + g1*left[i] + g1*right[i]
		if math.Abs(got[i]-want) > 1e-12 {
			t.Fatalf("channel %d: got %v want %v (linear-sum formula)", i, got[i], want)
		}
	}
}

func TestChannelLockSnapsWithinMaxDistance(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(l, layout.DefaultScreen)
	if err != nil {
		t.Fatal(err)
	}
	// A source a few degrees off M+030 should snap exactly onto it.
	near := c.Gains(Metadata{
		Position:    geom.FromPolar(geom.Polar{Azimuth: 32, Elevation: 0, Distance: 1}),
		ChannelLock: true,
		MaxDistance: 0.5,
	})
	idx := l.IndexOf("M+030")
	if math.Abs(near.Direct[idx]-1) > 1e-6 {
		t.Fatalf("expected channel lock to snap onto M+030 with gain 1, got %v", near.Direct[idx])
	}

	// The same source with channel lock disabled should not produce an
	// exact single-channel hit.
	unlocked := c.Gains(Metadata{
		Position: geom.FromPolar(geom.Polar{Azimuth: 32, Elevation: 0, Distance: 1}),
	})
	if math.Abs(unlocked.Direct[idx]-1) < 1e-6 {
		t.Fatalf("expected unlocked source not to land exactly on M+030")
	}
}
