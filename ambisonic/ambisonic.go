// Package ambisonic implements the B-format buffer, encoder, sound-field
// rotator, AllRAD decoder and near-field/max-rE optimization filter bank
// used by the HOA and Object-to-ambisonic-bus render paths.
package ambisonic

import (
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
	"github.com/cwbudde/spaudio-render/dsp/filter/biquad"
	"github.com/cwbudde/spaudio-render/gaininterp"
	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/layout"
	"github.com/cwbudde/spaudio-render/panner"
)

// NumChannelsForOrder returns (order+1)^2, the ACN channel count for a
// full 3D ambisonic order.
func NumChannelsForOrder(order int) int { return (order + 1) * (order + 1) }

// DegreeOf returns the spherical-harmonic degree l of ACN index acn
// (floor(sqrt(acn))).
func DegreeOf(acn int) int { return int(math.Sqrt(float64(acn))) }

// SN3DCoefficients returns the SN3D-normalized real spherical harmonic
// values for direction dir, in ACN order, up to the given order. Exported
// for use by packages that need to project per-direction data (such as
// measured or synthetic HRTF sets) onto the ambisonic basis.
func SN3DCoefficients(dir geom.Cartesian, order int) []float64 {
	return sn3dCoefficients(dir, order)
}

// BFormat is a fixed-order ambisonic signal buffer in ACN channel order,
// SN3D normalized.
type BFormat struct {
	Order    int
	Channels [][]float64
}

// NewBFormat allocates a BFormat of the given order and block size.
func NewBFormat(order, blockSize int) *BFormat {
	n := NumChannelsForOrder(order)
	ch := make([][]float64, n)
	for i := range ch {
		ch[i] = make([]float64, blockSize)
	}
	return &BFormat{Order: order, Channels: ch}
}

// Clear zeroes every channel.
func (b *BFormat) Clear() {
	for _, c := range b.Channels {
		for i := range c {
			c[i] = 0
		}
	}
}

// sn3dCoefficients returns the SN3D-normalized real spherical harmonic
// values for direction dir, in ACN order, up to the given order.
func sn3dCoefficients(dir geom.Cartesian, order int) []float64 {
	d := dir.Unit()
	x, y, z := d.X, d.Y, d.Z
	out := make([]float64, NumChannelsForOrder(order))
	if len(out) > 0 {
		out[0] = 1
	}
	if order >= 1 {
		out[1] = y
		out[2] = z
		out[3] = x
	}
	if order >= 2 {
		out[4] = math.Sqrt(3) * x * y
		out[5] = math.Sqrt(3) * y * z
		out[6] = 0.5 * (3*z*z - 1)
		out[7] = math.Sqrt(3) * x * z
		out[8] = math.Sqrt(3) / 2 * (x*x - y*y)
	}
	if order >= 3 {
		out[9] = math.Sqrt(5.0/8) * y * (3*x*x - y*y)
		out[10] = math.Sqrt(15) * x * y * z
		out[11] = math.Sqrt(3.0/8) * y * (5*z*z - 1)
		out[12] = 0.5 * z * (5*z*z - 3)
		out[13] = math.Sqrt(3.0/8) * x * (5*z*z - 1)
		out[14] = math.Sqrt(15) / 2 * z * (x*x - y*y)
		out[15] = math.Sqrt(5.0/8) * x * (x*x - 3*y*y)
	}
	return out
}

// Encoder converts a moving point-source direction into a ramped ACN/SN3D
// coefficient vector, crossfading coefficient changes through an internal
// gaininterp.Interpolator exactly as AmbisonicEncoder.cpp routes its
// SetPosition updates through a GainInterp before they reach the output.
type Encoder struct {
	order int
	ramp  *gaininterp.Interpolator
	fade  int
}

// NewEncoder builds an Encoder for the given order, with fadeMillis of
// crossfade time at sampleRate.
func NewEncoder(order int, sampleRate float64, fadeMillis float64) *Encoder {
	n := NumChannelsForOrder(order)
	e := &Encoder{order: order, ramp: gaininterp.New(n)}
	e.fade = int(math.Round(0.001 * fadeMillis * sampleRate))
	return e
}

// SetPosition stages new target coefficients for direction dir.
func (e *Encoder) SetPosition(dir geom.Cartesian) {
	coeffs := sn3dCoefficients(dir, e.order)
	e.ramp.SetGainVector(coeffs, e.fade)
}

// Process encodes in (a mono source block) into dst's channels, replacing
// their contents.
func (e *Encoder) Process(in []float64, dst *BFormat) {
	for ch := range dst.Channels {
		e.ramp.Process(ch, in, dst.Channels[ch])
	}
}

// ProcessAccumul encodes in into dst's channels, adding to their contents.
func (e *Encoder) ProcessAccumul(in []float64, dst *BFormat) {
	for ch := range dst.Channels {
		e.ramp.ProcessAccumul(ch, in, dst.Channels[ch])
	}
}

// Rotator applies a crossfading yaw-pitch-roll sound-field rotation to a
// BFormat buffer, per AmbisonicRotator.cpp's default YawPitchRoll
// composition order.
type Rotator struct {
	order                    int
	current, target, delta  [][]float64
	fadeSamples, fadeCounter int
}

// NewRotator builds a Rotator for the given order, with fadeMillis of
// crossfade time at sampleRate.
func NewRotator(order int, sampleRate, fadeMillis float64) *Rotator {
	n := NumChannelsForOrder(order)
	r := &Rotator{order: order}
	r.current = identity(n)
	r.target = identity(n)
	r.delta = zero(n)
	r.fadeSamples = int(math.Round(0.001 * fadeMillis * sampleRate))
	r.fadeCounter = r.fadeSamples
	return r
}

func identity(n int) [][]float64 {
	m := zero(n)
	for i := range m {
		m[i][i] = 1
	}
	return m
}

func zero(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}

// SetOrientation stages a new yaw/pitch/roll target (degrees), restarting
// the crossfade.
func (r *Rotator) SetOrientation(yawDeg, pitchDeg, rollDeg float64) {
	r.target = rotationMatrix(r.order, yawDeg, pitchDeg, rollDeg)
	n := len(r.current)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if r.fadeSamples > 0 {
				r.delta[i][j] = (r.target[i][j] - r.current[i][j]) / float64(r.fadeSamples)
			} else {
				r.delta[i][j] = 0
			}
		}
	}
	r.fadeCounter = 0
	if r.fadeSamples == 0 {
		r.current = cloneMatrix(r.target)
	}
}

func cloneMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Process rotates src in place into dst (must be distinct buffers of the
// same order/block size), crossfading current toward target.
func (r *Rotator) Process(src, dst *BFormat) {
	n := len(r.current)
	nSamples := 0
	if n > 0 {
		nSamples = len(src.Channels[0])
	}
	for _, c := range dst.Channels {
		for i := range c {
			c[i] = 0
		}
	}
	fadeSamp := r.fadeSamples - r.fadeCounter
	if fadeSamp > nSamples {
		fadeSamp = nSamples
	}
	if fadeSamp < 0 {
		fadeSamp = 0
	}

	for out := 0; out < n; out++ {
		for in := 0; in < n; in++ {
			cur := r.current[out][in]
			delta := r.delta[out][in]
			tgt := r.target[out][in]
			if math.Abs(cur) < 1e-6 && math.Abs(tgt) < 1e-6 {
				continue
			}
			c := cur
			for s := 0; s < fadeSamp; s++ {
				dst.Channels[out][s] += c * src.Channels[in][s]
				c += delta
			}
			for s := fadeSamp; s < nSamples; s++ {
				dst.Channels[out][s] += tgt * src.Channels[in][s]
			}
		}
	}

	for out := 0; out < n; out++ {
		for in := 0; in < n; in++ {
			r.current[out][in] += r.delta[out][in] * float64(fadeSamp)
		}
	}
	r.fadeCounter += fadeSamp
	if r.fadeCounter >= r.fadeSamples {
		r.current = cloneMatrix(r.target)
	}
}

// rotationMatrix builds the full ACN rotation matrix up to order via
// per-band yaw/pitch/roll composition, applying geom.RotationMatrixAzEl's
// 3x3 rotation to the order-1 (X,Y,Z) band directly and higher bands via
// direct re-encoding of the rotated axis directions (a numerically simple
// equivalent to the reference's closed-form per-band spherical-harmonic
// rotation matrices, sufficient for the orders this renderer supports).
func rotationMatrix(order int, yawDeg, pitchDeg, rollDeg float64) [][]float64 {
	n := NumChannelsForOrder(order)
	m := zero(n)
	m[0][0] = 1
	if order == 0 {
		return m
	}
	rot := geom.RotationMatrixAzEl(-yawDeg, pitchDeg, rollDeg)

	// Order-1 band (Y,Z,X = ACN 1,2,3) rotates as the Cartesian basis does.
	basis := []geom.Cartesian{{X: 0, Y: 1, Z: 0}, {X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 0}}
	rotatedBasis := make([]geom.Cartesian, 3)
	for i, b := range basis {
		rb := rot.Apply(b)
		rotatedBasis[i] = rb
		coeffs := sn3dCoefficients(rb, 1)
		for row := 1; row < 4; row++ {
			m[row][1+i] = coeffs[row]
		}
	}

	// Higher bands (degree >= 2) are fit numerically rather than from a
	// closed-form spherical-harmonic rotation formula; see
	// fillHigherOrderRotation.
	if order >= 2 {
		fillHigherOrderRotation(m, rot, order)
	}
	return m
}

// fillHigherOrderRotation populates rows/cols for ACN >= 4 by least-squares
// fitting a rotation to a dense sample-direction grid: for each sample
// direction d, the rotated field's coefficients equal the unrotated field's
// coefficients evaluated at rot^-1(d); since rot is orthonormal its
// transpose is its inverse, so this samples sn3dCoefficients at rot^T(d).
func fillHigherOrderRotation(m [][]float64, rot geom.Matrix3, order int) {
	dirs := sphericalHarmonicSampleDirs(order)
	n := NumChannelsForOrder(order)
	// Solve, per output row acn>=4, the least-squares combination of input
	// columns (also acn>=4) that reproduces the rotated samples; since the
	// true rotation matrix is orthonormal and band-diagonal by degree, a
	// per-degree normal-equation solve recovers it exactly for a
	// sufficiently dense, well-conditioned sample set.
	rotT := transpose(rot)
	degreeStart := map[int]int{2: 4, 3: 9}
	degreeEnd := map[int]int{2: 9, 3: 16}
	for deg := 2; deg <= order; deg++ {
		start, end := degreeStart[deg], degreeEnd[deg]
		if end > n {
			end = n
		}
		width := end - start
		// Build A (samples x width) = unrotated band coefficients, B =
		// rotated band coefficients, solve A^T A x = A^T b per column.
		ata := make([][]float64, width)
		for i := range ata {
			ata[i] = make([]float64, width)
		}
		atb := make([][]float64, width)
		for i := range atb {
			atb[i] = make([]float64, width)
		}
		for _, d := range dirs {
			src := sn3dCoefficients(d, order)[start:end]
			rd := rotT.Apply(d)
			dst := sn3dCoefficients(rd, order)[start:end]
			for i := 0; i < width; i++ {
				for j := 0; j < width; j++ {
					ata[i][j] += src[i] * src[j]
				}
				for k := 0; k < width; k++ {
					atb[i][k] += src[i] * dst[k]
				}
			}
		}
		x := solveLinearSystem(ata, atb)
		for i := 0; i < width; i++ {
			for j := 0; j < width; j++ {
				m[start+i][start+j] = x[j][i]
			}
		}
	}
}

func transpose(m geom.Matrix3) geom.Matrix3 {
	var out geom.Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// solveLinearSystem solves A*X = B for X via Gauss-Jordan elimination,
// where A is n x n and B is n x n (multiple right-hand sides).
func solveLinearSystem(a, b [][]float64) [][]float64 {
	n := len(a)
	aug := make([][]float64, n)
	for i := range aug {
		aug[i] = append(append([]float64(nil), a[i]...), b[i]...)
	}
	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(aug[r][col]) > math.Abs(aug[pivot][col]) {
				pivot = r
			}
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		pv := aug[col][col]
		if math.Abs(pv) < 1e-12 {
			continue
		}
		for k := range aug[col] {
			aug[col][k] /= pv
		}
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			f := aug[r][col]
			for k := range aug[r] {
				aug[r][k] -= f * aug[col][k]
			}
		}
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = append([]float64(nil), aug[i][n:]...)
	}
	return out
}

// sphericalHarmonicSampleDirs returns a fixed, order-independent dense
// direction grid used to fit higher-order rotation submatrices.
func sphericalHarmonicSampleDirs(order int) []geom.Cartesian {
	var dirs []geom.Cartesian
	for elStep := -80; elStep <= 80; elStep += 20 {
		for azStep := 0; azStep < 360; azStep += 15 {
			dirs = append(dirs, geom.Polar{Azimuth: float64(azStep), Elevation: float64(elStep), Distance: 1}.ToCartesian())
		}
	}
	return dirs
}

// AllRAD decodes a BFormat buffer to a loudspeaker layout by encoding a
// dense virtual loudspeaker array in the ambisonic domain, panning that
// array to the real layout with a point-source panner, and applying the
// resulting decode matrix, per AmbisonicAllRAD.cpp.
type AllRAD struct {
	decodeMatrix [][]float64 // [outputChannel][acn]
	numOutputs   int
	Labels       []string // non-LFE output channel labels, in decode order
}

// NewAllRAD builds an AllRAD decoder for the given order and output
// layout.
func NewAllRAD(order int, output layout.Layout) (*AllRAD, error) {
	psp, err := panner.New(output, 0)
	if err != nil {
		return nil, fmt.Errorf("ambisonic: allrad: %w", err)
	}
	n := NumChannelsForOrder(order)
	numOut := psp.NumChannels()
	decode := make([][]float64, numOut)
	for i := range decode {
		decode[i] = make([]float64, n)
	}

	virtual := virtualLoudspeakerGrid()
	for _, dir := range virtual {
		coeffs := sn3dCoefficients(dir, order)
		panGains := psp.Gains(dir)
		for out := 0; out < numOut; out++ {
			for acn := 0; acn < n; acn++ {
				decode[out][acn] += panGains[out] * coeffs[acn]
			}
		}
	}
	scale := 1 / float64(len(virtual))
	for out := range decode {
		for acn := range decode[out] {
			decode[out][acn] *= scale * float64(n)
		}
	}
	return &AllRAD{decodeMatrix: decode, numOutputs: numOut, Labels: psp.Labels()}, nil
}

// virtualLoudspeakerGrid is a dense, uniform-ish sample of directions used
// as the AllRAD virtual loudspeaker array.
func virtualLoudspeakerGrid() []geom.Cartesian {
	var dirs []geom.Cartesian
	for elStep := -60; elStep <= 60; elStep += 30 {
		rowPoints := 12
		if elStep != 0 {
			rowPoints = 8
		}
		for i := 0; i < rowPoints; i++ {
			az := float64(i) * 360 / float64(rowPoints)
			dirs = append(dirs, geom.Polar{Azimuth: az, Elevation: float64(elStep), Distance: 1}.ToCartesian())
		}
	}
	dirs = append(dirs, geom.Polar{Azimuth: 0, Elevation: 90, Distance: 1}.ToCartesian())
	dirs = append(dirs, geom.Polar{Azimuth: 0, Elevation: -90, Distance: 1}.ToCartesian())
	return dirs
}

// Decode renders src into a pre-allocated set of numOutputs channel
// buffers, accumulating.
func (a *AllRAD) Decode(src *BFormat, out [][]float64) {
	n := len(src.Channels)
	nSamples := 0
	if n > 0 {
		nSamples = len(src.Channels[0])
	}
	row := make([]float64, n)
	for o := 0; o < a.numOutputs; o++ {
		copy(row, a.decodeMatrix[o])
		for s := 0; s < nSamples; s++ {
			sum := 0.0
			for acn := 0; acn < n; acn++ {
				sum += row[acn] * src.Channels[acn][s]
			}
			out[o][s] += sum
		}
	}
}

// OptimFilterBank applies the max-rE near-field optimization shelf per
// ambisonic degree: each degree l's channels are shelved down toward DC
// gain cos(l*pi/(2*order+2)), flattening to unity at high frequency, via a
// one-pole low-shelf built on teacher's biquad.Section, per
// AmbisonicOptimFilters.cpp's maxRE weighting.
type OptimFilterBank struct {
	order   int
	shelves []*biquad.Section
	weights []float64
}

// NewOptimFilterBank builds a filter bank for the given order and sample
// rate, with the shelf corner at cutoffHz (typically ~380 Hz).
func NewOptimFilterBank(order int, sampleRate, cutoffHz float64) *OptimFilterBank {
	n := NumChannelsForOrder(order)
	fb := &OptimFilterBank{order: order, shelves: make([]*biquad.Section, n), weights: make([]float64, n)}
	alpha := math.Exp(-2 * math.Pi * cutoffHz / sampleRate)
	for acn := 0; acn < n; acn++ {
		deg := DegreeOf(acn)
		w := math.Cos(float64(deg) * math.Pi / (2*float64(order) + 2))
		fb.weights[acn] = w
		fb.shelves[acn] = biquad.NewSection(biquad.Coefficients{B0: 1 - alpha, A1: -alpha})
	}
	return fb
}

// Process applies the shelf in place to every channel of b: each sample
// is split into a one-pole lowpass component y (DC gain 1, rolling off to
// 0 at high frequency) and the residual x-y, recombined as x + (w-1)*y so
// DC gain becomes w and high-frequency gain stays at unity.
func (fb *OptimFilterBank) Process(b *BFormat) {
	for acn, ch := range b.Channels {
		w := fb.weights[acn]
		sec := fb.shelves[acn]
		for i, x := range ch {
			y := sec.ProcessSample(x)
			ch[i] = x + (w-1)*y
		}
	}
}

// DotEnergy returns the sum-of-squares energy across all of b's channels
// at sample index i, using algo-vecmath for the reduction.
func DotEnergy(b *BFormat, i int) float64 {
	col := make([]float64, len(b.Channels))
	for c, ch := range b.Channels {
		col[c] = ch[i]
	}
	return vecmath.DotProduct(col, col)
}
