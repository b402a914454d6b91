// Package decorrelate applies a deterministic, per-channel decorrelation
// filter to a diffuse bus while delaying the matching direct bus by the
// filter's group delay, so the two buses stay time-aligned when summed.
package decorrelate

import (
	"fmt"
	"math"

	"github.com/cwbudde/spaudio-render/dsp/conv"
	"github.com/cwbudde/spaudio-render/dsp/delay"
)

// FilterTaps is the fixed decorrelation impulse response length, per
// spec.md §4.6.
const FilterTaps = 512

// GroupDelaySamples is the compensating delay applied to the direct bus.
const GroupDelaySamples = (FilterTaps - 1) / 2

// Decorrelator holds one all-pass-cascade decorrelation filter plus a
// compensating delay line, for one output channel.
type Decorrelator struct {
	conv  conv.StreamingConvolver
	delay *delay.Line
}

// New builds decorrelators for numChannels output channels, seeding each
// channel's filter by its index so different channels decorrelate
// independently and deterministically.
func New(numChannels, blockSize int) ([]*Decorrelator, error) {
	out := make([]*Decorrelator, numChannels)
	for ch := 0; ch < numChannels; ch++ {
		ir := seededAllpassIR(ch)
		c, err := conv.NewStreamingOverlapAdd(ir, blockSize)
		if err != nil {
			return nil, fmt.Errorf("decorrelate: channel %d: %w", ch, err)
		}
		line, err := delay.New(GroupDelaySamples + blockSize)
		if err != nil {
			return nil, fmt.Errorf("decorrelate: channel %d: %w", ch, err)
		}
		out[ch] = &Decorrelator{conv: c, delay: line}
	}
	return out, nil
}

// Process decorrelates diffuseIn into diffuseOut, and writes directIn
// delayed by GroupDelaySamples into directOut, so the caller can sum
// directOut+diffuseOut as a time-aligned bus.
func (d *Decorrelator) Process(directIn, diffuseIn, directOut, diffuseOut []float64) error {
	if err := d.conv.ProcessBlockTo(diffuseOut, diffuseIn); err != nil {
		return fmt.Errorf("decorrelate: %w", err)
	}
	for i, s := range directIn {
		d.delay.Write(s)
		directOut[i] = d.delay.Read(GroupDelaySamples)
	}
	return nil
}

// Reset clears the decorrelator's internal state.
func (d *Decorrelator) Reset() {
	d.conv.Reset()
	d.delay.Reset()
}

// seededAllpassIR builds a deterministic pseudo-random all-pass-cascade
// impulse response of length FilterTaps for channel seed, normalized to
// unit energy. A simple xorshift PRNG keyed by the channel index gives
// each channel an independent, reproducible noise sequence (no dependency
// on time or external entropy, matching the "deterministic" requirement of
// spec.md §4.6).
func seededAllpassIR(seed int) []float64 {
	state := uint64(seed)*0x9E3779B97F4A7C15 + 0xA5A5A5A5A5A5A5A5
	next := func() float64 {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		// Map to [-1, 1).
		return float64(state>>11)/float64(1<<53)*2 - 1
	}

	ir := make([]float64, FilterTaps)
	ir[0] = 1
	// Cascade a handful of single-sample all-pass sections with
	// pseudo-random coefficients in (-1,1), each applied to the running
	// impulse, which spreads energy across the tap range while keeping
	// the filter's overall magnitude response close to flat.
	const sections = 8
	for s := 0; s < sections; s++ {
		a := next() * 0.6
		prev := 0.0
		for i := 0; i < FilterTaps; i++ {
			x := ir[i]
			y := -a*x + prev
			prev = x + a*y
			ir[i] = y
		}
	}

	energy := 0.0
	for _, v := range ir {
		energy += v * v
	}
	if energy > 0 {
		scale := 1 / math.Sqrt(energy)
		for i := range ir {
			ir[i] *= scale
		}
	}
	return ir
}
