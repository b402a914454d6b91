package panner

import (
	"math"
	"testing"

	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/layout"
)

func sumSq(g []float64) float64 {
	s := 0.0
	for _, v := range g {
		s += v * v
	}
	return s
}

func TestVertexSnapGivesUnityGain(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(l, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, label := range p.Labels() {
		idx := l.WithoutLFE().IndexOf(label)
		ch := l.WithoutLFE().Channels[idx]
		g := p.Gains(ch.ActualPolar.ToCartesian())
		if math.Abs(g[i]-1) > 1e-3 {
			t.Errorf("channel %s: expected near-unity self gain, got %v (full vector %v)", label, g[i], g)
		}
	}
}

func TestGainsAreEnergyBounded(t *testing.T) {
	l, err := layout.Get("4+9+0")
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(l, 0)
	if err != nil {
		t.Fatal(err)
	}
	for az := -180.0; az < 180; az += 17 {
		for el := -90.0; el <= 90; el += 23 {
			dir := geom.Polar{Azimuth: az, Elevation: el, Distance: 1}.ToCartesian()
			g := p.Gains(dir)
			if s := sumSq(g); s > 1.05 {
				t.Errorf("az=%v el=%v: sum of squared gains %v exceeds 1", az, el, s)
			}
		}
	}
}

func TestStereoPanCentreIsBalanced(t *testing.T) {
	l, err := layout.Get("0+2+0")
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(l, 0)
	if err != nil {
		t.Fatal(err)
	}
	g := p.Gains(geom.Polar{Azimuth: 0, Elevation: 0, Distance: 1}.ToCartesian())
	if math.Abs(g[0]-g[1]) > 1e-6 {
		t.Fatalf("expected balanced centre pan, got %v", g)
	}
}

func TestNumChannelsExcludesLFE(t *testing.T) {
	l, err := layout.Get("0+5+0")
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(l, 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.NumChannels() != l.NonLFECount() {
		t.Fatalf("expected %d channels, got %d", l.NonLFECount(), p.NumChannels())
	}
}
