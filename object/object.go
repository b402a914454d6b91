// Package object implements the Objects-track gain calculator: position
// normalization, screen scale/edge-lock, zone exclusion, divergence,
// extent panning and the direct/diffuse split, composed as a small pipeline
// of staged functions over a point-source panner.
package object

import (
	"math"

	"github.com/cwbudde/spaudio-render/extent"
	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/layout"
	"github.com/cwbudde/spaudio-render/panner"
)

// Metadata is one Object track's per-block parameter set.
type Metadata struct {
	Position       geom.Position
	Width, Height, Depth float64 // extent, degrees (or cube fraction if Cartesian)
	Divergence     float64       // 0 = off, up to 1
	DivergenceAzimuthRange float64
	Diffuse        float64 // 0 = fully direct, 1 = fully diffuse
	ZoneExclusion  []ExcludedZone
	ScreenLock     bool
	ScreenEdge     ScreenEdge

	// ChannelLock enables snap-to-nearest-channel: a source within
	// MaxDistance of a real loudspeaker direction is moved exactly onto it.
	// MaxDistance <= 0 disables channel lock.
	ChannelLock bool
	MaxDistance float64
}

// ScreenEdge names a forced screen-edge lock, or ScreenEdgeNone.
type ScreenEdge int

const (
	ScreenEdgeNone ScreenEdge = iota
	ScreenEdgeLeft
	ScreenEdgeRight
	ScreenEdgeTop
	ScreenEdgeBottom
)

// ExcludedZone names a rectangular azimuth/elevation region whose channels
// must receive no direct energy; their share is redistributed to the
// layout's remaining channels.
type ExcludedZone struct {
	MinAzimuth, MaxAzimuth   float64
	MinElevation, MaxElevation float64
}

// Calculator computes per-channel direct and diffuse gain vectors for
// Object metadata against one output layout.
type Calculator struct {
	output layout.Layout
	noLFE  layout.Layout
	psp    *panner.Panner
	screen layout.Screen
}

// New builds a Calculator for the given output layout.
func New(output layout.Layout, screen layout.Screen) (*Calculator, error) {
	psp, err := panner.New(output, 0)
	if err != nil {
		return nil, err
	}
	return &Calculator{output: output, noLFE: output.WithoutLFE(), psp: psp, screen: screen}, nil
}

// Result holds the direct and diffuse gain vectors, each sized to the
// output layout's full (including LFE) channel count.
type Result struct {
	Direct  []float64
	Diffuse []float64
}

// Gains runs the full pipeline (screen scale/lock -> channel lock ->
// divergence -> extent -> zone exclusion -> diffuse split) and returns the
// resulting direct/diffuse gain vectors.
func (c *Calculator) Gains(m Metadata) Result {
	pos := m.Position.Polar()
	if m.ScreenLock && m.ScreenEdge != ScreenEdgeNone {
		pos = c.lockToScreenEdge(pos, m.ScreenEdge)
	} else {
		pos = c.applyScreen(pos)
	}
	if m.ChannelLock && m.MaxDistance > 0 {
		pos = c.lockToNearestChannel(pos, m.MaxDistance)
	}

	direct := c.divergedGains(pos, m)
	direct = c.applyZoneExclusion(direct, m.ZoneExclusion)

	diffuse := c.diffuseOmniGains()

	out := Result{
		Direct:  make([]float64, len(c.output.Channels)),
		Diffuse: make([]float64, len(c.output.Channels)),
	}
	for i, label := range c.psp.Labels() {
		idx := c.output.IndexOf(label)
		if idx < 0 {
			continue
		}
		d := direct[i]
		diff := diffuse[i]
		out.Direct[idx] = d * math.Sqrt(1-m.Diffuse)
		out.Diffuse[idx] = diff * math.Sqrt(m.Diffuse)
	}
	return out
}

// applyScreen remaps az/el through the reproduction screen's piecewise
// linear anchor points, per Screen.cpp's ScreenScaleHandler::ScaleAzEl.
func (c *Calculator) applyScreen(pos geom.Polar) geom.Polar {
	edges := c.screen.Edges()
	azXs := []float64{-180, edges.RightAzimuth, edges.LeftAzimuth, 180}
	azYs := []float64{-180, edges.RightAzimuth, edges.LeftAzimuth, 180}
	elXs := []float64{-90, edges.BottomElevation, edges.TopElevation, 90}
	elYs := []float64{-90, edges.BottomElevation, edges.TopElevation, 90}
	pos.Azimuth = geom.Interp(pos.Azimuth, azXs, azYs)
	pos.Elevation = geom.Interp(pos.Elevation, elXs, elYs)
	return pos
}

// lockToScreenEdge forces azimuth/elevation to the reproduction screen's
// edge, per Screen.cpp's ScreenEdgeLockHandler::HandleAzEl.
func (c *Calculator) lockToScreenEdge(pos geom.Polar, edge ScreenEdge) geom.Polar {
	edges := c.screen.Edges()
	switch edge {
	case ScreenEdgeLeft:
		pos.Azimuth = edges.LeftAzimuth
	case ScreenEdgeRight:
		pos.Azimuth = edges.RightAzimuth
	case ScreenEdgeTop:
		pos.Elevation = edges.TopElevation
	case ScreenEdgeBottom:
		pos.Elevation = edges.BottomElevation
	}
	return pos
}

// lockToNearestChannel snaps pos onto the nearest real loudspeaker direction
// within maxDistance, per GainCalculator.cpp's ChannelLockHandler::handle:
// speaker directions are normalised to unit distance before comparison; a
// unique closest speaker wins outright, ties within 1e-10 of the minimum
// Euclidean distance are broken by ascending {|az|, az, |el|, el}.
func (c *Calculator) lockToNearestChannel(pos geom.Polar, maxDistance float64) geom.Polar {
	src := pos.ToCartesian()

	type candidate struct {
		polar geom.Polar
		dist  float64
	}
	var inRange []candidate
	for _, ch := range c.noLFE.Channels {
		speaker := ch.ActualPolar
		speaker.Distance = 1
		d := speaker.ToCartesian().Distance(src)
		if d < maxDistance {
			inRange = append(inRange, candidate{polar: speaker, dist: d})
		}
	}

	switch len(inRange) {
	case 0:
		return pos
	case 1:
		return inRange[0].polar
	}

	minDist := inRange[0].dist
	for _, cnd := range inRange[1:] {
		if cnd.dist < minDist {
			minDist = cnd.dist
		}
	}
	const tol = 1e-10
	var tied []candidate
	for _, cnd := range inRange {
		if cnd.dist > minDist-tol && cnd.dist < minDist+tol {
			tied = append(tied, cnd)
		}
	}
	if len(tied) == 1 {
		return tied[0].polar
	}

	best := tied[0]
	for _, cnd := range tied[1:] {
		if lexLessAzEl(cnd.polar, best.polar) {
			best = cnd
		}
	}
	return best.polar
}

// lexLessAzEl orders polar positions by the tuple {|az|, az, |el|, el},
// matching ChannelLockHandler's tie-break sort key.
func lexLessAzEl(a, b geom.Polar) bool {
	ta := [4]float64{math.Abs(a.Azimuth), a.Azimuth, math.Abs(a.Elevation), a.Elevation}
	tb := [4]float64{math.Abs(b.Azimuth), b.Azimuth, math.Abs(b.Elevation), b.Elevation}
	for i := range ta {
		if ta[i] != tb[i] {
			return ta[i] < tb[i]
		}
	}
	return false
}

// divergedGains blends the point-source/extent gains at pos with mirrored
// positions offset by +/-DivergenceAzimuthRange, weighted by Divergence,
// per the "splits the source into multiple virtual sources" behaviour.
func (c *Calculator) divergedGains(pos geom.Polar, m Metadata) []float64 {
	centre := c.extentOrPointGains(pos, m)
	if m.Divergence <= 0 {
		return centre
	}
	leftPos := pos
	leftPos.Azimuth += m.DivergenceAzimuthRange
	rightPos := pos
	rightPos.Azimuth -= m.DivergenceAzimuthRange
	left := c.extentOrPointGains(leftPos, m)
	right := c.extentOrPointGains(rightPos, m)

	v := m.Divergence
	g0 := (1 - v) / (1 + v)
	g1 := v / (1 + v)
	out := make([]float64, len(centre))
	for i := range out {
		out[i] = g0*centre[i] + g1*left[i] + g1*right[i]
	}
	return out
}

// extentOrPointGains computes either plain point-source gains or (for polar
// positions with non-zero extent) the polar extent panner's spread gains.
// Cartesian-position extent is not implemented, matching
// CGainCalculator::CalculateGains's own "Cartesian panning path is not
// implemented" fallback: Cartesian sources always get egocentric
// point-source gains with width/height/depth ignored, rather than
// misinterpreting their cube-fraction extent as polar degrees.
func (c *Calculator) extentOrPointGains(pos geom.Polar, m Metadata) []float64 {
	gainOf := func(d geom.Cartesian) []float64 { return c.psp.Gains(d) }
	width, height, depth := m.Width, m.Height, m.Depth
	if m.Position.Kind() == geom.KindCartesian {
		width, height, depth = 0, 0, 0
	}
	if width == 0 && height == 0 && depth == 0 {
		return gainOf(pos.ToCartesian())
	}
	return extent.PolarGains(pos.ToCartesian(), pos.Distance, width, height, depth, gainOf, c.psp.NumChannels())
}

// applyZoneExclusion zeroes gains for channels whose nominal position falls
// inside an excluded zone and redistributes their energy across the
// remaining channels so total energy (sum of squared gains) is preserved, a
// simplified stand-in for the original's layer-priority downmix (see
// DESIGN.md), following ZoneExclusionHandler::handle's own use of a squared
// power sum (GainCalculator.cpp's `g_tmp += m_D[i][j]*gains[j]*gains[j]`).
func (c *Calculator) applyZoneExclusion(gains []float64, zones []ExcludedZone) []float64 {
	if len(zones) == 0 {
		return gains
	}
	excluded := make([]bool, len(gains))
	for i, ch := range c.noLFE.Channels {
		for _, z := range zones {
			if geom.InsideAngleRange(ch.ActualPolar.Azimuth, z.MinAzimuth, z.MaxAzimuth, 0) &&
				ch.ActualPolar.Elevation >= z.MinElevation && ch.ActualPolar.Elevation <= z.MaxElevation {
				excluded[i] = true
			}
		}
	}

	lostEnergy := 0.0
	remainingEnergy := 0.0
	remaining := 0
	for i, g := range gains {
		if excluded[i] {
			lostEnergy += g * g
		} else {
			remainingEnergy += g * g
			remaining++
		}
	}
	if remaining == 0 {
		return gains
	}
	if lostEnergy == 0 {
		out := make([]float64, len(gains))
		for i, g := range gains {
			if !excluded[i] {
				out[i] = g
			}
		}
		return out
	}

	out := make([]float64, len(gains))
	if remainingEnergy == 0 {
		// Every remaining channel was silent: split the lost energy
		// equally between them, preserving total energy.
		share := math.Sqrt(lostEnergy / float64(remaining))
		for i := range gains {
			if !excluded[i] {
				out[i] = share
			}
		}
		return out
	}

	scale := math.Sqrt((remainingEnergy + lostEnergy) / remainingEnergy)
	for i, g := range gains {
		if !excluded[i] {
			out[i] = g * scale
		}
	}
	return out
}

// diffuseOmniGains returns an equal-power gain vector spread across every
// non-LFE output channel, used as the diffuse bus's spatial distribution
// before decorrelation.
func (c *Calculator) diffuseOmniGains() []float64 {
	n := c.psp.NumChannels()
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	g := 1 / math.Sqrt(float64(n))
	for i := range out {
		out[i] = g
	}
	return out
}
