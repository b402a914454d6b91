// Package gaininterp implements per-channel linear gain ramps shared by the
// point-source panner, the ambisonic encoder and the renderer's final output
// gain stage.
package gaininterp

import "math"

// replaceSkipThreshold and accumulateSkipThreshold are the "already at
// target, nothing to do" epsilons. They are deliberately asymmetric: a
// unity target means Process is a no-op copy-through, whereas a zero
// target means ProcessAccumul has nothing to add.
const (
	replaceSkipThreshold    = 1e-5
	accumulateSkipThreshold = 1e-5
)

// Interpolator ramps a vector of per-channel gains linearly from their
// current value to a target value over a configurable number of samples.
type Interpolator struct {
	current []float64
	target  []float64
	delta   []float64
	remain  []int
}

// New creates an Interpolator for the given channel count, with all gains
// initialised to zero.
func New(numChannels int) *Interpolator {
	return &Interpolator{
		current: make([]float64, numChannels),
		target:  make([]float64, numChannels),
		delta:   make([]float64, numChannels),
		remain:  make([]int, numChannels),
	}
}

// NumChannels returns the configured channel count.
func (g *Interpolator) NumChannels() int { return len(g.current) }

// Reset sets every channel's current and target gain to value immediately,
// with no pending ramp.
func (g *Interpolator) Reset(value float64) {
	for i := range g.current {
		g.current[i] = value
		g.target[i] = value
		g.delta[i] = 0
		g.remain[i] = 0
	}
}

// SetGainVector stages a new target gain per channel, to be reached after
// fadeSamples samples of linear ramp. fadeSamples == 0 applies the target
// immediately. len(gains) must equal NumChannels(). A gains vector equal to
// the currently pending target is a no-op: it does not restart the ramp,
// mirroring the original's `if (m_targetGainVec != newGainVec)` guard.
func (g *Interpolator) SetGainVector(gains []float64, fadeSamples int) {
	if sameGains(g.target, gains) {
		return
	}
	for i, target := range gains {
		if fadeSamples <= 0 {
			g.current[i] = target
			g.target[i] = target
			g.delta[i] = 0
			g.remain[i] = 0
			continue
		}
		g.target[i] = target
		g.delta[i] = (target - g.current[i]) / float64(fadeSamples)
		g.remain[i] = fadeSamples
	}
}

func sameGains(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetGain stages channel ch's target gain, as SetGainVector does for one
// channel.
func (g *Interpolator) SetGain(ch int, target float64, fadeSamples int) {
	if fadeSamples <= 0 {
		g.current[ch] = target
		g.target[ch] = target
		g.delta[ch] = 0
		g.remain[ch] = 0
		return
	}
	g.target[ch] = target
	g.delta[ch] = (target - g.current[ch]) / float64(fadeSamples)
	g.remain[ch] = fadeSamples
}

// Process writes in, scaled by channel ch's ramping gain, into out,
// replacing its contents. If the channel's target is at unity and no ramp
// is pending, the copy is a direct passthrough.
func (g *Interpolator) Process(ch int, in, out []float64) {
	n := len(in)
	if out == nil {
		return
	}
	if g.remain[ch] == 0 && math.Abs(g.target[ch]-1) <= replaceSkipThreshold {
		copy(out[:n], in[:n])
		return
	}
	cur := g.current[ch]
	delta := g.delta[ch]
	remain := g.remain[ch]
	for i := 0; i < n; i++ {
		if remain > 0 {
			out[i] = in[i] * cur
			cur += delta
			remain--
		} else {
			out[i] = in[i] * g.target[ch]
		}
	}
	if remain == 0 {
		cur = g.target[ch]
	}
	g.current[ch] = cur
	g.remain[ch] = remain
}

// ProcessAccumul adds in, scaled by channel ch's ramping gain, into out. If
// the channel's target is at zero and no ramp is pending, this is a no-op.
func (g *Interpolator) ProcessAccumul(ch int, in, out []float64) {
	n := len(in)
	if g.remain[ch] == 0 && math.Abs(g.target[ch]) <= accumulateSkipThreshold {
		return
	}
	cur := g.current[ch]
	delta := g.delta[ch]
	remain := g.remain[ch]
	for i := 0; i < n; i++ {
		if remain > 0 {
			out[i] += in[i] * cur
			cur += delta
			remain--
		} else {
			out[i] += in[i] * g.target[ch]
		}
	}
	if remain == 0 {
		cur = g.target[ch]
	}
	g.current[ch] = cur
	g.remain[ch] = remain
}

// ProcessAll runs Process across every channel, writing into the matching
// row of out (len(out) == NumChannels(), each row len(in)).
func (g *Interpolator) ProcessAll(in [][]float64, out [][]float64) {
	for ch := range g.current {
		g.Process(ch, in[ch], out[ch])
	}
}

// Settled reports whether channel ch has no pending ramp.
func (g *Interpolator) Settled(ch int) bool { return g.remain[ch] == 0 }

// Current returns channel ch's current (possibly mid-ramp) gain value.
func (g *Interpolator) Current(ch int) float64 { return g.current[ch] }
