// Package hrtf implements the binaural rendering path: per-direction head
// related impulse responses and a partitioned-convolution binauralizer
// that sums a set of virtual loudspeaker/ambisonic feeds into a stereo
// output, per the HRTFImpulseResponseSet/HRTFProvider shape used by
// teacher's dsp/effects/spatial crosstalk simulator.
package hrtf

import (
	"fmt"
	"math"

	"github.com/cwbudde/spaudio-render/ambisonic"
	"github.com/cwbudde/spaudio-render/dsp/conv"
	"github.com/cwbudde/spaudio-render/geom"
)

// ImpulseResponsePair holds the left/right ear impulse responses for one
// source direction.
type ImpulseResponsePair struct {
	Left, Right []float64
}

// Provider supplies a deterministic impulse response pair for a given
// direction and sample rate, mirroring
// dsp/effects/spatial.HRTFProvider's single-pair shape but keyed by
// direction rather than fixed stereo routing.
type Provider interface {
	ImpulseResponses(dir geom.Cartesian, sampleRate float64) (ImpulseResponsePair, error)
}

// SphericalHeadProvider is a deterministic synthetic HRTF model: an
// interaural time difference from a rigid-sphere head model plus a
// frequency-independent interaural level difference, used in place of a
// measured HRTF/SOFA dataset (no such measurement data ships in this
// module's retrieval pack — see DESIGN.md). It is a stand-in for
// AmbisonicBinauralizer's measured-HRTF convolution kernels, not an
// attempt to reproduce them.
type SphericalHeadProvider struct {
	HeadRadiusMeters float64
	TapCount         int
}

// NewSphericalHeadProvider builds a provider using a human-average head
// radius (8.75cm) and a 64-tap kernel unless overridden.
func NewSphericalHeadProvider() *SphericalHeadProvider {
	return &SphericalHeadProvider{HeadRadiusMeters: 0.0875, TapCount: 64}
}

const speedOfSoundMetersPerSecond = 343.0

// ImpulseResponses builds a pair of single-tap-delay-plus-gain-shelf
// impulse responses approximating the ITD/ILD of a source at dir.
func (p *SphericalHeadProvider) ImpulseResponses(dir geom.Cartesian, sampleRate float64) (ImpulseResponsePair, error) {
	if sampleRate <= 0 {
		return ImpulseResponsePair{}, fmt.Errorf("hrtf: sample rate must be > 0")
	}
	taps := p.TapCount
	if taps < 8 {
		taps = 8
	}
	unit := dir.Unit()
	if unit.Norm() == 0 {
		unit = geom.Cartesian{Y: 1}
	}
	// Woodworth's formula: ITD = (r/c) * (theta + sin(theta)), theta the
	// angle of incidence from the interaural axis (+x = right ear side).
	sinTheta := clamp(unit.X, -1, 1)
	theta := math.Asin(sinTheta)
	itdSeconds := (p.HeadRadiusMeters / speedOfSoundMetersPerSecond) * (theta + math.Sin(theta))
	itdSamples := itdSeconds * sampleRate

	// itdSamples > 0 means the source is toward +x (right): the right ear
	// is nearer, so the extra travel time is added to the left (far) ear.
	leftDelay, rightDelay := 0.0, 0.0
	if itdSamples > 0 {
		leftDelay = itdSamples
	} else {
		rightDelay = -itdSamples
	}

	// ILD: a source toward +x (right) attenuates the far (left) ear and
	// boosts the near (right) ear, scaled by sin(theta).
	ild := sinTheta
	leftGain := 1 - 0.3*ild
	rightGain := 1 + 0.3*ild

	return ImpulseResponsePair{
		Left:  fractionalDeltaKernel(taps, leftDelay, leftGain),
		Right: fractionalDeltaKernel(taps, rightDelay, rightGain),
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// fractionalDeltaKernel builds a short FIR kernel approximating a
// fractionally-delayed, gain-scaled impulse via a windowed sinc.
func fractionalDeltaKernel(taps int, delaySamples, gain float64) []float64 {
	out := make([]float64, taps)
	centre := float64(taps) / 2
	for i := 0; i < taps; i++ {
		x := float64(i) - centre - delaySamples
		out[i] = gain * sinc(x) * hann(float64(i), float64(taps))
	}
	return out
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-9 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hann(i, n float64) float64 {
	return 0.5 - 0.5*math.Cos(2*math.Pi*i/(n-1))
}

// channelConvolver holds the left/right partitioned convolvers for one
// virtual source feed.
type channelConvolver struct {
	dir   geom.Cartesian
	left  *conv.PartitionedConvolution
	right *conv.PartitionedConvolution
}

// Binauralizer sums a fixed set of direction-tagged channel feeds into a
// stereo binaural output via per-channel partitioned convolution, per
// AmbisonicBinauralizer/DirectSpeakersBinauralizer's "one HRTF pair per
// virtual loudspeaker, summed" structure.
type Binauralizer struct {
	channels  []channelConvolver
	blockSize int
	scratch   []float64
}

// NewBinauralizer builds a Binauralizer for the given set of fixed
// channel directions (loudspeaker positions or a virtual ambisonic decode
// grid), fetching one impulse response pair per direction from provider.
func NewBinauralizer(dirs []geom.Cartesian, provider Provider, sampleRate float64, blockSize, minBlockOrder, maxBlockOrder int) (*Binauralizer, error) {
	b := &Binauralizer{blockSize: blockSize, scratch: make([]float64, blockSize)}
	for _, d := range dirs {
		irs, err := provider.ImpulseResponses(d, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("hrtf: binauralizer: %w", err)
		}
		left, err := conv.NewPartitionedConvolution(irs.Left, minBlockOrder, maxBlockOrder)
		if err != nil {
			return nil, fmt.Errorf("hrtf: binauralizer: left kernel: %w", err)
		}
		right, err := conv.NewPartitionedConvolution(irs.Right, minBlockOrder, maxBlockOrder)
		if err != nil {
			return nil, fmt.Errorf("hrtf: binauralizer: right kernel: %w", err)
		}
		b.channels = append(b.channels, channelConvolver{dir: d, left: left, right: right})
	}
	return b, nil
}

// NewAmbisonicBinauralizer builds a Binauralizer whose channels correspond
// to ACN ambisonic channels rather than fixed loudspeaker directions: each
// channel's impulse response is the ambisonic-domain HRIR obtained by
// projecting provider's per-direction impulse responses onto the SN3D
// spherical harmonic basis over a dense direction grid, per spec.md
// 4.7's "partitioned convolution of each ambisonic channel with a pair of
// ambisonic-space HRIRs".
func NewAmbisonicBinauralizer(order int, provider Provider, sampleRate float64, blockSize, minBlockOrder, maxBlockOrder int) (*Binauralizer, error) {
	n := ambisonic.NumChannelsForOrder(order)
	dirs := denseDirectionGrid()
	if len(dirs) == 0 {
		return nil, fmt.Errorf("hrtf: ambisonic binauralizer: empty direction grid")
	}
	sample, err := provider.ImpulseResponses(dirs[0], sampleRate)
	if err != nil {
		return nil, fmt.Errorf("hrtf: ambisonic binauralizer: %w", err)
	}
	leftAcc := make([][]float64, n)
	rightAcc := make([][]float64, n)
	for acn := range leftAcc {
		leftAcc[acn] = make([]float64, len(sample.Left))
		rightAcc[acn] = make([]float64, len(sample.Right))
	}
	for _, d := range dirs {
		irs, err := provider.ImpulseResponses(d, sampleRate)
		if err != nil {
			return nil, fmt.Errorf("hrtf: ambisonic binauralizer: %w", err)
		}
		coeffs := ambisonic.SN3DCoefficients(d, order)
		for acn := 0; acn < n; acn++ {
			w := coeffs[acn]
			for i, v := range irs.Left {
				leftAcc[acn][i] += w * v
			}
			for i, v := range irs.Right {
				rightAcc[acn][i] += w * v
			}
		}
	}
	scale := 1 / float64(len(dirs))
	b := &Binauralizer{blockSize: blockSize, scratch: make([]float64, blockSize)}
	for acn := 0; acn < n; acn++ {
		for i := range leftAcc[acn] {
			leftAcc[acn][i] *= scale
		}
		for i := range rightAcc[acn] {
			rightAcc[acn][i] *= scale
		}
		left, err := conv.NewPartitionedConvolution(leftAcc[acn], minBlockOrder, maxBlockOrder)
		if err != nil {
			return nil, fmt.Errorf("hrtf: ambisonic binauralizer: left kernel acn %d: %w", acn, err)
		}
		right, err := conv.NewPartitionedConvolution(rightAcc[acn], minBlockOrder, maxBlockOrder)
		if err != nil {
			return nil, fmt.Errorf("hrtf: ambisonic binauralizer: right kernel acn %d: %w", acn, err)
		}
		b.channels = append(b.channels, channelConvolver{left: left, right: right})
	}
	return b, nil
}

// denseDirectionGrid is a fixed, order-independent sample of the sphere
// used to fit the ambisonic-domain HRIR projection above.
func denseDirectionGrid() []geom.Cartesian {
	var dirs []geom.Cartesian
	for elStep := -80; elStep <= 80; elStep += 20 {
		for azStep := 0; azStep < 360; azStep += 20 {
			dirs = append(dirs, geom.Polar{Azimuth: float64(azStep), Elevation: float64(elStep), Distance: 1}.ToCartesian())
		}
	}
	return dirs
}

// NumChannels returns the number of fixed source feeds this binauralizer
// expects per ProcessBlock call.
func (b *Binauralizer) NumChannels() int { return len(b.channels) }

// ProcessBlock convolves each of the numChannels input feeds against its
// direction's HRTF pair and sums into left/right, which must already be
// sized to the block length and are overwritten (not accumulated).
func (b *Binauralizer) ProcessBlock(feeds [][]float64, left, right []float64) error {
	if len(feeds) != len(b.channels) {
		return fmt.Errorf("hrtf: binauralizer: expected %d channel feeds, got %d", len(b.channels), len(feeds))
	}
	for i := range left {
		left[i] = 0
		right[i] = 0
	}
	for ci, cc := range b.channels {
		in := feeds[ci]
		if err := cc.left.ProcessBlock(in, b.scratch); err != nil {
			return fmt.Errorf("hrtf: binauralizer: left convolution: %w", err)
		}
		for i, v := range b.scratch {
			left[i] += v
		}
		if err := cc.right.ProcessBlock(in, b.scratch); err != nil {
			return fmt.Errorf("hrtf: binauralizer: right convolution: %w", err)
		}
		for i, v := range b.scratch {
			right[i] += v
		}
	}
	return nil
}

// Reset clears all convolution state.
func (b *Binauralizer) Reset() {
	for _, cc := range b.channels {
		cc.left.Reset()
		cc.right.Reset()
	}
}

// Latency returns the fixed processing latency in samples introduced by
// the partitioned convolution stages (identical across channels since all
// kernels share the same block-order configuration).
func (b *Binauralizer) Latency() int {
	if len(b.channels) == 0 {
		return 0
	}
	return b.channels[0].left.Latency()
}
