// Package extent implements polar- and Cartesian-extent panning: blending a
// point-source gain vector with a spread-patch gain vector sampled over a
// region of the sphere (or, for Cartesian sources, over a cuboid), per the
// width/height/depth given in an object's metadata.
package extent

import (
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/cwbudde/spaudio-render/geom"
)

// GainFunc computes a panner's gain vector for a unit direction. Both
// loudspeaker point-source-panner gains and ambisonic encode coefficients
// satisfy this signature.
type GainFunc func(dir geom.Cartesian) []float64

// minExtentSize is the minimum apparent source size fraction used by the
// polar-extent size-correction formula (PolarExtent.cpp's minSize).
const minExtentSize = 0.2

// grid is a lazily-built, roughly-equal-area sampling of the unit sphere
// used to integrate a spread patch's gain contribution.
type grid struct {
	dirs []geom.Cartesian
}

// newGrid builds an equal-area-ish grid: elevation rows every 5 degrees,
// with the per-row azimuth step scaled by cos(elevation) so each row covers
// roughly the same surface area, matching PolarExtent.cpp's CSpreadPannerBase.
func newGrid() *grid {
	g := &grid{}
	for elStep := -90; elStep <= 90; elStep += 5 {
		el := float64(elStep)
		rowPoints := int(math.Round(72 * math.Cos(el*geom.DegToRad)))
		if rowPoints < 1 {
			rowPoints = 1
		}
		for i := 0; i < rowPoints; i++ {
			az := float64(i) * 360 / float64(rowPoints)
			g.dirs = append(g.dirs, geom.Polar{Azimuth: az, Elevation: el, Distance: 1}.ToCartesian())
		}
	}
	return g
}

var sphereGrid = newGrid()

// weightFunc returns the "stadium" weighting (1 at the patch centre,
// linearly fading to 0 at the patch boundary plus a fixed fade band) for a
// grid direction given the patch centre and half-width/half-height in
// degrees, per PolarExtent.cpp's ConfigureWeightingFunction/CalculateWeights.
func weightFunc(centre geom.Cartesian, halfWidthDeg, halfHeightDeg float64, dir geom.Cartesian) float64 {
	const fadeOut = 10.0 // degrees of fade band beyond the patch boundary
	w, h := halfWidthDeg, halfHeightDeg
	if h > w {
		w, h = h, w
	}
	capAz := w - h

	centrePolar := centre.ToPolar()
	local := rotateIntoFrame(centrePolar, dir)
	az := local.Azimuth
	el := local.Elevation

	// Stadium distance: circular cap of radius h centred capAz degrees from
	// the local frame's forward axis, plus a rectangular strip of
	// half-height h spanning the remaining azimuth.
	var dist float64
	switch {
	case math.Abs(az) <= capAz:
		dist = math.Max(0, math.Hypot(el, 0)-h)
	default:
		capCentreAz := capAz
		if az < 0 {
			capCentreAz = -capAz
		}
		dCap := math.Hypot(az-capCentreAz, el)
		dist = math.Max(0, dCap-h)
	}
	wgt := 1 - dist/fadeOut
	if wgt < 0 {
		wgt = 0
	}
	if wgt > 1 {
		wgt = 1
	}
	return wgt
}

// rotateIntoFrame expresses dir's polar position relative to a frame whose
// forward axis points at centre (used only to get an approximate local
// azimuth/elevation for the stadium-distance test above; an exact
// axis-angle rotation is unnecessary at the patch scales objects use).
func rotateIntoFrame(centre geom.Polar, dir geom.Cartesian) geom.Polar {
	p := dir.ToPolar()
	daz := p.Azimuth - centre.Azimuth
	for daz > 180 {
		daz -= 360
	}
	for daz < -180 {
		daz += 360
	}
	return geom.Polar{Azimuth: daz, Elevation: p.Elevation - centre.Elevation, Distance: 1}
}

// spreadGains integrates gainOf over the sphere grid, weighted by the patch
// function, and L2-normalizes the result (zeroing it if the accumulated
// norm is negligible), per CSpreadPanner::CalculateGains.
func spreadGains(centre geom.Cartesian, halfWidthDeg, halfHeightDeg float64, gainOf GainFunc, numChannels int) []float64 {
	sum := make([]float64, numChannels)
	for _, d := range sphereGrid.dirs {
		w := weightFunc(centre, halfWidthDeg, halfHeightDeg, d)
		if w <= 1e-4 {
			continue
		}
		g := gainOf(d)
		for i := 0; i < numChannels && i < len(g); i++ {
			sum[i] += w * g[i]
		}
	}
	norm := math.Sqrt(vecmath.DotProduct(sum, sum))
	if norm <= 1e-3 {
		return make([]float64, numChannels)
	}
	for i := range sum {
		sum[i] /= norm
	}
	return sum
}

// polarExtentModification corrects width/height for the source's distance,
// per CPolarExtentHandlerBase::PolarExtentModification.
func polarExtentModification(distance, extentDeg float64) float64 {
	size := minExtentSize + (1-minExtentSize)*extentDeg/360
	e1 := 4 * geom.RadToDeg * math.Atan2(size, 1)
	ed := 4 * geom.RadToDeg * math.Atan2(size, distance)
	if distance <= 1 {
		return e1 + (ed-e1)*(1-distance)
	}
	return ed
}

// PolarGains computes the loudspeaker-layout polar extent gain vector for a
// source at centre (unit direction, any distance baked separately),
// distance, and width/height/depth in degrees, blending point-source and
// spread-panner gains with sqrt-of-sum-of-squares combination, per
// PolarExtent.cpp's CPolarExtentHandler::handle/CalculatePolarExtentGains.
func PolarGains(dir geom.Cartesian, distance, width, height, depth float64, gainOf GainFunc, numChannels int) []float64 {
	if depth == 0 {
		return polarGainsAtDistance(dir, distance, width, height, gainOf, numChannels)
	}
	d1 := math.Max(0, distance+depth/2)
	d2 := math.Max(0, distance-depth/2)
	g1 := polarGainsAtDistance(dir, d1, width, height, gainOf, numChannels)
	g2 := polarGainsAtDistance(dir, d2, width, height, gainOf, numChannels)
	out := make([]float64, numChannels)
	for i := range out {
		out[i] = math.Sqrt(0.5 * (g1[i]*g1[i] + g2[i]*g2[i]))
	}
	return out
}

func polarGainsAtDistance(dir geom.Cartesian, distance, width, height float64, gainOf GainFunc, numChannels int) []float64 {
	modW := polarExtentModification(distance, width)
	modH := polarExtentModification(distance, height)

	p := math.Max(math.Min(math.Max(modW, modH)/minExtentSize, 1), 0)

	var gp []float64
	if p < 1 {
		gp = gainOf(dir)
	} else {
		gp = make([]float64, numChannels)
	}
	var gs []float64
	if p > 0 {
		gs = spreadGains(dir, modW/2, modH/2, gainOf, numChannels)
	} else {
		gs = make([]float64, numChannels)
	}
	out := make([]float64, numChannels)
	for i := 0; i < numChannels; i++ {
		var a, b float64
		if i < len(gp) {
			a = gp[i]
		}
		if i < len(gs) {
			b = gs[i]
		}
		out[i] = math.Sqrt(p*b*b + (1-p)*a*a)
	}
	return out
}

// AmbisonicGains is the ambisonic-coefficient analogue of PolarGains: the
// depth split is an arithmetic mean (not sqrt-of-sum-of-squares) and the
// point/spread blend is a plain linear combination, per PolarExtent.cpp's
// CAmbisonicPolarExtentHandler — a deliberately different formula from the
// loudspeaker path, not a parameterized variant of it.
func AmbisonicGains(dir geom.Cartesian, distance, width, height, depth float64, gainOf GainFunc, numChannels int) []float64 {
	if depth == 0 {
		return ambisonicGainsAtDistance(dir, distance, width, height, gainOf, numChannels)
	}
	d1 := math.Max(0, distance+depth/2)
	d2 := math.Max(0, distance-depth/2)
	g1 := ambisonicGainsAtDistance(dir, d1, width, height, gainOf, numChannels)
	g2 := ambisonicGainsAtDistance(dir, d2, width, height, gainOf, numChannels)
	out := make([]float64, numChannels)
	for i := range out {
		out[i] = 0.5 * (g1[i] + g2[i])
	}
	return out
}

func ambisonicGainsAtDistance(dir geom.Cartesian, distance, width, height float64, gainOf GainFunc, numChannels int) []float64 {
	modW := polarExtentModification(distance, width)
	modH := polarExtentModification(distance, height)
	p := math.Max(math.Min(math.Max(modW, modH)/minExtentSize, 1), 0)

	gp := make([]float64, numChannels)
	if p < 1 {
		gp = gainOf(dir)
	}
	gs := make([]float64, numChannels)
	if p > 0 {
		gs = spreadGains(dir, modW/2, modH/2, gainOf, numChannels)
	}
	out := make([]float64, numChannels)
	for i := 0; i < numChannels; i++ {
		var a, b float64
		if i < len(gp) {
			a = gp[i]
		}
		if i < len(gs) {
			b = gs[i]
		}
		out[i] = p*b + (1-p)*a
	}
	return out
}
