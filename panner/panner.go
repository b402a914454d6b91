// Package panner implements VBAP-style point-source panning over a target
// loudspeaker layout's triangulated hull, including the stereo/2+3+0
// downmix special cases and the M+-SC screen-width hull-variant selection.
package panner

import (
	"errors"
	"fmt"
	"math"
	"sort"

	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/layout"
)

// ErrEmptyLayout is returned when New is given a layout with no non-LFE
// channels to pan across.
var ErrEmptyLayout = errors.New("panner: layout has no non-LFE channels")

const gainFloorEps = 1e-9

// region is one hull facet: a triangle, or a quad handled with the bilinear
// solve. A pole apex fan is just a set of triangles sharing the apex index.
type region struct {
	idx [4]int // channel indices into p.real; idx[3] == -1 for a triangle
	// dir holds the unit direction of each vertex, used by the per-region
	// solve.
	dir [4]geom.Cartesian
}

// Panner computes per-channel gains for a source direction over one
// loudspeaker layout's triangulated hull.
type Panner struct {
	layoutName string
	labels     []string
	real       []geom.Cartesian // real, non-LFE channel directions
	regions    []region
	// twoChannel marks the stereo (0+2+0) and similar flat-pair special case
	// handled by direct linear 2-point panning instead of a hull.
	twoChannel bool
}

// New builds a Panner for l's non-LFE channels. For the "4+9+0" layout,
// screenWidthDeg selects the narrow/wide M+-SC hull variant (pass the
// configured M+SC azimuth magnitude; 0 uses the layout's nominal value).
func New(l layout.Layout, screenWidthDeg float64) (*Panner, error) {
	stripped := l.WithoutLFE()
	if len(stripped.Channels) == 0 {
		return nil, ErrEmptyLayout
	}

	p := &Panner{layoutName: l.Name}
	for _, ch := range stripped.Channels {
		pos := ch.ActualPolar
		if screenWidthDeg > 0 && l.Name == "4+9+0" {
			if layout.NominalLabel(ch.Label) == "M+SC" {
				pos.Azimuth = screenWidthDeg / 2
			} else if layout.NominalLabel(ch.Label) == "M-SC" {
				pos.Azimuth = -screenWidthDeg / 2
			}
		}
		p.labels = append(p.labels, ch.Label)
		p.real = append(p.real, pos.ToCartesian())
	}

	if l.Name == "0+2+0" || len(p.real) == 2 {
		p.twoChannel = true
		return p, nil
	}

	pts, dirs := p.buildMeshPoints(stripped, screenWidthDeg)
	p.regions = triangulateBands(pts, dirs)
	return p, nil
}

// Labels returns the panner's output channel labels, in gain-vector order.
func (p *Panner) Labels() []string { return append([]string(nil), p.labels...) }

// NumChannels returns the number of non-LFE output channels.
func (p *Panner) NumChannels() int { return len(p.real) }

// meshPoint is a real or virtual (apex) hull vertex.
type meshPoint struct {
	realIdx int // index into p.real, or -1 for a virtual apex
	dir     geom.Cartesian
	polar   geom.Polar
}

// buildMeshPoints adds virtual top/bottom apex points when the layout has
// no real channel near a pole, so every direction on the sphere resolves to
// a containing region (the "virtual fill loudspeaker" behaviour).
func (p *Panner) buildMeshPoints(l layout.Layout, screenWidthDeg float64) ([]meshPoint, []geom.Cartesian) {
	pts := make([]meshPoint, len(p.real))
	for i, d := range p.real {
		pts[i] = meshPoint{realIdx: i, dir: d, polar: d.ToPolar()}
	}

	hasPole := func(sign float64) bool {
		for _, pt := range pts {
			if sign > 0 && pt.polar.Elevation >= 80 {
				return true
			}
			if sign < 0 && pt.polar.Elevation <= -80 {
				return true
			}
		}
		return false
	}
	if !hasPole(1) {
		top := geom.Polar{Azimuth: 0, Elevation: 90, Distance: 1}
		pts = append(pts, meshPoint{realIdx: -1, dir: top.ToCartesian(), polar: top})
	}
	if !hasPole(-1) {
		bottom := geom.Polar{Azimuth: 0, Elevation: -90, Distance: 1}
		pts = append(pts, meshPoint{realIdx: -1, dir: bottom.ToCartesian(), polar: bottom})
	}

	dirs := make([]geom.Cartesian, len(pts))
	for i, pt := range pts {
		dirs[i] = pt.dir
	}
	return pts, dirs
}

// triangulateBands groups points into elevation bands and connects adjacent
// bands with triangle fans (when one side has a single apex point) or
// quads split into two triangles (when both sides have multiple points),
// producing a full-sphere-covering set of non-overlapping regions.
func triangulateBands(pts []meshPoint, dirs []geom.Cartesian) []region {
	// Group indices by elevation, rounded to dedupe near-identical bands.
	type band struct {
		elevation float64
		indices   []int
	}
	bandOf := map[int]int{}
	var bands []band
	for i, pt := range pts {
		el := math.Round(pt.polar.Elevation/1.0) * 1.0
		found := -1
		for bi, b := range bands {
			if math.Abs(b.elevation-el) < 0.5 {
				found = bi
				break
			}
		}
		if found < 0 {
			bands = append(bands, band{elevation: el, indices: []int{i}})
			found = len(bands) - 1
		} else {
			bands[found].indices = append(bands[found].indices, i)
		}
		bandOf[i] = found
	}
	sort.Slice(bands, func(i, j int) bool { return bands[i].elevation < bands[j].elevation })

	sortByAzimuth := func(indices []int) []int {
		out := append([]int(nil), indices...)
		sort.Slice(out, func(i, j int) bool { return pts[out[i]].polar.Azimuth < pts[out[j]].polar.Azimuth })
		return out
	}

	var regions []region
	addTriangle := func(a, b, c int) {
		regions = append(regions, region{
			idx: [4]int{a, b, c, -1},
			dir: [4]geom.Cartesian{dirs[a], dirs[b], dirs[c], {}},
		})
	}
	addQuad := func(a, b, c, d int) {
		regions = append(regions, region{
			idx: [4]int{a, b, c, d},
			dir: [4]geom.Cartesian{dirs[a], dirs[b], dirs[c], dirs[d]},
		})
	}

	for bi := 0; bi < len(bands)-1; bi++ {
		lo := sortByAzimuth(bands[bi].indices)
		hi := sortByAzimuth(bands[bi+1].indices)

		switch {
		case len(lo) == 1 && len(hi) == 1:
			// Degenerate single-point-to-single-point "band": nothing to
			// mesh (can occur between two poles in a 2-channel mesh, which
			// never reaches here since New short-circuits that case).
		case len(lo) == 1:
			apex := lo[0]
			for i := 0; i < len(hi); i++ {
				j := (i + 1) % len(hi)
				addTriangle(apex, hi[i], hi[j])
			}
		case len(hi) == 1:
			apex := hi[0]
			for i := 0; i < len(lo); i++ {
				j := (i + 1) % len(lo)
				addTriangle(apex, lo[i], lo[j])
			}
		case len(lo) == len(hi):
			n := len(lo)
			for i := 0; i < n; i++ {
				j := (i + 1) % n
				addQuad(lo[i], lo[j], hi[j], hi[i])
			}
		default:
			// Mismatched ring sizes: fan each lo-ring edge to the nearest
			// hi-ring vertex by azimuth, guaranteeing coverage even if the
			// triangulation isn't maximally regular.
			n := len(lo)
			for i := 0; i < n; i++ {
				j := (i + 1) % n
				nearest := nearestByAzimuth(pts, hi, pts[lo[i]].polar.Azimuth)
				addTriangle(lo[i], lo[j], nearest)
			}
		}
	}
	return regions
}

func azDiff(a, b float64) float64 {
	d := math.Mod(a-b+540, 360) - 180
	return math.Abs(d)
}

func nearestByAzimuth(pts []meshPoint, candidates []int, az float64) int {
	best := candidates[0]
	bestDiff := math.Inf(1)
	for _, c := range candidates {
		d := azDiff(pts[c].polar.Azimuth, az)
		if d < bestDiff {
			bestDiff = d
			best = c
		}
	}
	return best
}

// Gains returns a gain vector, one entry per output channel (Labels()
// order), for a unit (or any-length, direction only matters) source
// direction.
func (p *Panner) Gains(dir geom.Cartesian) []float64 {
	out := make([]float64, len(p.real))
	unit := dir.Unit()
	if unit.Norm() == 0 {
		if len(out) > 0 {
			out[0] = 1
		}
		return out
	}

	if p.twoChannel {
		panStereoPair(unit, p.real, out)
		return out
	}

	var fallbackRegion region
	var fallbackGains []float64
	fallbackNeg := math.Inf(1)

	for _, r := range p.regions {
		g, ok := solveRegion(r, unit)
		if ok {
			scatterRegionGains(r, g, out)
			return normalize(out)
		}
		if neg := sumNegative(g); neg < fallbackNeg {
			fallbackNeg = neg
			fallbackRegion = r
			fallbackGains = clampNonNegative(g)
		}
	}
	if fallbackGains != nil {
		scatterRegionGains(fallbackRegion, fallbackGains, out)
	}
	return normalize(out)
}

func sumNegative(g []float64) float64 {
	s := 0.0
	for _, v := range g {
		if v < 0 {
			s += -v
		}
	}
	return s
}

func clampNonNegative(g []float64) []float64 {
	out := make([]float64, len(g))
	for i, v := range g {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// scatterRegionGains adds g's per-vertex gains into out at the vertex's
// real channel index, dropping virtual apex vertices (idx < 0 or idx past
// the real channel count, since mesh indices beyond len(p.real) are
// virtual-only and carry no output channel).
func scatterRegionGains(r region, g []float64, out []float64) {
	for i, v := range g {
		if r.idx[i] < 0 || r.idx[i] >= len(out) {
			continue
		}
		out[r.idx[i]] += v
	}
}

// solveRegion solves for the region's barycentric/bilinear gains toward
// dir, returning ok=false if any component is negative beyond tolerance
// (dir lies outside this region).
func solveRegion(r region, dir geom.Cartesian) ([]float64, bool) {
	if r.idx[3] < 0 {
		return solveTriangle(r.dir[0], r.dir[1], r.dir[2], dir)
	}
	return solveQuad(r.dir[0], r.dir[1], r.dir[2], r.dir[3], dir)
}

// solveTriangle finds g such that g0*v0+g1*v1+g2*v2 is parallel to dir,
// via the 3x3 linear solve dir = M*g, M columns = vertex directions.
func solveTriangle(v0, v1, v2, dir geom.Cartesian) ([]float64, bool) {
	det := v0.Dot(v1.Cross(v2))
	if math.Abs(det) < 1e-12 {
		return []float64{0, 0, 0}, false
	}
	g0 := dir.Dot(v1.Cross(v2)) / det
	g1 := v0.Dot(dir.Cross(v2)) / det
	g2 := v0.Dot(v1.Cross(dir)) / det
	g := []float64{g0, g1, g2}
	ok := g0 >= -gainFloorEps && g1 >= -gainFloorEps && g2 >= -gainFloorEps
	return g, ok
}

// solveQuad handles a 4-vertex region (ordered around its boundary) by
// splitting into two triangles sharing the v0-v2 diagonal and solving
// whichever half contains dir; this is the bilinear quad panner's
// physically-meaningful-root selection collapsed to its practical
// equivalent for a spherical quad of this size.
func solveQuad(v0, v1, v2, v3, dir geom.Cartesian) ([]float64, bool) {
	if g, ok := solveTriangle(v0, v1, v2, dir); ok {
		return []float64{g[0], g[1], g[2], 0}, true
	}
	if g, ok := solveTriangle(v0, v2, v3, dir); ok {
		return []float64{g[0], 0, g[1], g[2]}, true
	}
	return []float64{0, 0, 0, 0}, false
}

func normalize(g []float64) []float64 {
	n := math.Sqrt(vecmath.DotProduct(g, g))
	if n <= 1e-6 {
		return g
	}
	out := make([]float64, len(g))
	for i, v := range g {
		out[i] = v / n
	}
	return out
}

// panStereoPair implements the stereo (0+2+0) 2-channel special case: a
// direct linear pan between the two channels by projected azimuth, per the
// original's Downmix_0_2_0.
func panStereoPair(dir geom.Cartesian, real []geom.Cartesian, out []float64) {
	if len(real) != 2 {
		// 2+3+0-style "flat pair downmix" fallback: closest-channel gain 1.
		best, bestDot := 0, math.Inf(-1)
		for i, v := range real {
			d := v.Unit().Dot(dir)
			if d > bestDot {
				bestDot = d
				best = i
			}
		}
		out[best] = 1
		return
	}
	left, right := real[0], real[1]
	dl := left.Unit().Dot(dir)
	dr := right.Unit().Dot(dir)
	sum := dl + dr
	if sum <= 0 {
		out[0], out[1] = 0.70710678, 0.70710678
		return
	}
	gl := dl / sum
	gr := dr / sum
	n := math.Sqrt(gl*gl + gr*gr)
	if n <= 1e-9 {
		out[0], out[1] = 0.70710678, 0.70710678
		return
	}
	out[0] = gl / n
	out[1] = gr / n
}

// String implements fmt.Stringer for diagnostics.
func (p *Panner) String() string {
	return fmt.Sprintf("panner(%s, %d channels, %d regions)", p.layoutName, len(p.real), len(p.regions))
}
