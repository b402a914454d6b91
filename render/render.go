// Package render implements the renderer orchestrator: per-block dispatch
// of Object/DirectSpeakers/HOA/Binaural tracks into direct, diffuse,
// speaker and HOA buses, decorrelation, HOA rotation/decode, and the
// final binaural or loudspeaker mix-down with output gain ramping.
package render

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/cwbudde/spaudio-render/ambisonic"
	"github.com/cwbudde/spaudio-render/decorrelate"
	"github.com/cwbudde/spaudio-render/directspeaker"
	"github.com/cwbudde/spaudio-render/gaininterp"
	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/hrtf"
	"github.com/cwbudde/spaudio-render/layout"
	"github.com/cwbudde/spaudio-render/object"
)

// TrackKind names one of the four track types a renderer dispatches over.
type TrackKind int

const (
	TrackObject TrackKind = iota
	TrackDirectSpeakers
	TrackHOA
	TrackBinaural
)

func (k TrackKind) String() string {
	switch k {
	case TrackObject:
		return "Object"
	case TrackDirectSpeakers:
		return "DirectSpeakers"
	case TrackHOA:
		return "HOA"
	case TrackBinaural:
		return "Binaural"
	default:
		return "Unknown"
	}
}

// Normalization names the ambisonic component normalization an HOA track's
// input samples are expressed in; AddHoa converts to SN3D on the way in.
type Normalization int

const (
	NormalizationSN3D Normalization = iota
	NormalizationN3D
	NormalizationFuMa
)

// BinauralLayoutName selects a Binaural render target; any other value of
// Config.Output must name a canonical loudspeaker layout.
const BinauralLayoutName = "Binaural"

// internalLayoutName is the reference loudspeaker layout the renderer
// routes Objects/DirectSpeakers/HOA through before binauralizing, when the
// configured output target is Binaural; it is never exposed to the host.
const internalLayoutName = "4+9+0"

// Diagnostics receives non-fatal per-block warnings (unknown track index,
// kind mismatch, HOA channel out of range). The zero value is a no-op,
// matching the "small host-supplied interface" shape of
// hrtf.Provider.
type Diagnostics interface {
	Warnf(format string, args ...any)
}

type noopDiagnostics struct{}

func (noopDiagnostics) Warnf(string, ...any) {}

// Config is the Renderer's configure-time parameter set.
type Config struct {
	Output              string
	HOAOrder            int
	SampleRateHz        float64
	BlockSize           int
	StreamInfo          []TrackKind
	HOANormalization    Normalization
	UseLFEBinaural      bool
	ReproductionScreen  *layout.Screen
	LayoutPositions     []geom.Polar
	MinBlockOrder       int
	MaxBlockOrder       int
	RotatorFadeMillis   float64
	OptimFilterCutoffHz float64
}

var (
	ErrHOAOrderTooHigh     = errors.New("render: hoa order must be 0..3")
	ErrHOAChannelMismatch  = errors.New("render: hoa channel count in stream_info does not match (order+1)^2")
	ErrMissingHRTFProvider = errors.New("render: binaural target requires an hrtf.Provider option")
	ErrUnknownOutputLayout = errors.New("render: unknown output layout")
	ErrInvalidBlockSize    = errors.New("render: block size must be > 0")
)

// Option mutates construction-time parameters not carried by Config.
type Option func(*options)

type options struct {
	diagnostics  Diagnostics
	hrtfProvider hrtf.Provider
	mappingRules []directspeaker.MappingRule
}

func defaultOptions() options {
	return options{diagnostics: noopDiagnostics{}, hrtfProvider: hrtf.NewSphericalHeadProvider()}
}

// WithDiagnostics supplies a host warning sink.
func WithDiagnostics(d Diagnostics) Option {
	return func(o *options) {
		if d != nil {
			o.diagnostics = d
		}
	}
}

// WithHRTFProvider overrides the default synthetic HRTF provider used for
// Binaural targets.
func WithHRTFProvider(p hrtf.Provider) Option {
	return func(o *options) { o.hrtfProvider = p }
}

// WithMappingRules supplies the DirectSpeakers ITU-pack mapping rule table.
func WithMappingRules(rules []directspeaker.MappingRule) Option {
	return func(o *options) { o.mappingRules = rules }
}

// JumpInfo carries a metadata block's interpolation-timing flags.
type JumpInfo struct {
	Flag                       bool
	InterpolationLength        int
	InterpolationLengthPresent bool
}

func interpLenFor(jump JumpInfo, blockLength int) int {
	if jump.Flag && jump.InterpolationLengthPresent {
		return jump.InterpolationLength
	}
	if jump.Flag {
		return 0
	}
	return blockLength
}

type objectTrack struct {
	meta    *object.Metadata
	direct  *gaininterp.Interpolator
	diffuse *gaininterp.Interpolator
}

type dsTrack struct {
	meta *directspeaker.Metadata
	gain *gaininterp.Interpolator
}

type hoaTrack struct {
	acn int
}

type trackState struct {
	kind   TrackKind
	object *objectTrack
	ds     *dsTrack
	hoa    *hoaTrack
}

// Renderer dispatches Add* calls into shared buses and renders one block
// at a time via GetRenderedAudio.
type Renderer struct {
	cfg Config
	opt options

	binaural bool
	internal layout.Layout

	objectCalc *object.Calculator
	dsCalc     *directspeaker.Calculator

	decorrelators []*decorrelate.Decorrelator
	allrad        *ambisonic.AllRAD
	rotator       *ambisonic.Rotator
	optimFilters  *ambisonic.OptimFilterBank
	binauralizer  *hrtf.Binauralizer

	speakerEncodeCoeffs [][]float64 // [internal channel][acn]
	allradToInternal    []int       // allrad output index -> internal channel index

	hoaBus      *ambisonic.BFormat
	rotatedBus  *ambisonic.BFormat
	speakerBus  [][]float64
	directBus   [][]float64
	diffuseBus  [][]float64
	directPost  [][]float64
	diffusePost [][]float64
	virtualBus  [][]float64
	binauralBus [][]float64
	allradOut   [][]float64
	outputBuf   [][]float64

	lfeBinauralScratch []float64

	outputGain *gaininterp.Interpolator

	tracks []trackState
}

// New configures a Renderer. All configuration errors are returned here;
// per-block Add*/GetRenderedAudio calls are infallible.
func New(cfg Config, opts ...Option) (*Renderer, error) {
	if cfg.HOAOrder < 0 || cfg.HOAOrder > 3 {
		return nil, ErrHOAOrderTooHigh
	}
	if cfg.BlockSize <= 0 {
		return nil, ErrInvalidBlockSize
	}
	wantHoaChannels := ambisonic.NumChannelsForOrder(cfg.HOAOrder)
	gotHoaChannels := 0
	for _, k := range cfg.StreamInfo {
		if k == TrackHOA {
			gotHoaChannels++
		}
	}
	if gotHoaChannels > 0 && gotHoaChannels != wantHoaChannels {
		return nil, fmt.Errorf("%w: want %d, stream_info declares %d", ErrHOAChannelMismatch, wantHoaChannels, gotHoaChannels)
	}

	opt := defaultOptions()
	for _, o := range opts {
		if o != nil {
			o(&opt)
		}
	}

	r := &Renderer{cfg: cfg, opt: opt}
	r.binaural = cfg.Output == BinauralLayoutName
	if r.binaural && opt.hrtfProvider == nil {
		return nil, ErrMissingHRTFProvider
	}

	screen := layout.DefaultScreen
	if cfg.ReproductionScreen != nil {
		screen = *cfg.ReproductionScreen
	}

	internalName := cfg.Output
	if r.binaural {
		internalName = internalLayoutName
	}
	internal, err := layout.Get(internalName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOutputLayout, internalName)
	}
	if len(cfg.LayoutPositions) > 0 {
		internal, err = layout.WithPositions(internal, cfg.LayoutPositions)
		if err != nil {
			return nil, err
		}
	}
	internal.ReproductionScreen = &screen
	r.internal = internal

	if r.objectCalc, err = object.New(internal, screen); err != nil {
		return nil, err
	}
	dsOpts := []directspeaker.Option{directspeaker.WithScreen(screen)}
	if len(opt.mappingRules) > 0 {
		dsOpts = append(dsOpts, directspeaker.WithMappingRules(opt.mappingRules...))
	}
	if r.dsCalc, err = directspeaker.New(internal, dsOpts...); err != nil {
		return nil, err
	}

	n := len(internal.Channels)
	r.decorrelators, err = decorrelate.New(n, cfg.BlockSize)
	if err != nil {
		return nil, err
	}

	r.speakerEncodeCoeffs = make([][]float64, n)
	for i, ch := range internal.Channels {
		r.speakerEncodeCoeffs[i] = ambisonic.SN3DCoefficients(ch.ActualPolar.ToCartesian(), cfg.HOAOrder)
	}

	if r.allrad, err = ambisonic.NewAllRAD(cfg.HOAOrder, internal); err != nil {
		return nil, err
	}
	r.allradToInternal = make([]int, len(r.allrad.Labels))
	for i, label := range r.allrad.Labels {
		r.allradToInternal[i] = internal.IndexOf(label)
	}

	rotatorFade := cfg.RotatorFadeMillis
	if rotatorFade <= 0 {
		rotatorFade = 50
	}
	r.rotator = ambisonic.NewRotator(cfg.HOAOrder, cfg.SampleRateHz, rotatorFade)

	cutoff := cfg.OptimFilterCutoffHz
	if cutoff <= 0 {
		cutoff = 380
	}
	r.optimFilters = ambisonic.NewOptimFilterBank(cfg.HOAOrder, cfg.SampleRateHz, cutoff)

	if r.binaural {
		minOrder, maxOrder := cfg.MinBlockOrder, cfg.MaxBlockOrder
		if minOrder <= 0 {
			minOrder = 6
		}
		if maxOrder <= 0 || maxOrder < minOrder {
			maxOrder = minOrder + 6
		}
		r.binauralizer, err = hrtf.NewAmbisonicBinauralizer(cfg.HOAOrder, opt.hrtfProvider, cfg.SampleRateHz, cfg.BlockSize, minOrder, maxOrder)
		if err != nil {
			return nil, err
		}
	}

	r.hoaBus = ambisonic.NewBFormat(cfg.HOAOrder, cfg.BlockSize)
	r.rotatedBus = ambisonic.NewBFormat(cfg.HOAOrder, cfg.BlockSize)
	r.speakerBus = make([][]float64, n)
	r.directBus = make([][]float64, n)
	r.diffuseBus = make([][]float64, n)
	r.directPost = make([][]float64, n)
	r.diffusePost = make([][]float64, n)
	r.virtualBus = make([][]float64, n)
	for i := 0; i < n; i++ {
		r.speakerBus[i] = make([]float64, cfg.BlockSize)
		r.directBus[i] = make([]float64, cfg.BlockSize)
		r.diffuseBus[i] = make([]float64, cfg.BlockSize)
		r.directPost[i] = make([]float64, cfg.BlockSize)
		r.diffusePost[i] = make([]float64, cfg.BlockSize)
		r.virtualBus[i] = make([]float64, cfg.BlockSize)
	}
	r.binauralBus = [][]float64{make([]float64, cfg.BlockSize), make([]float64, cfg.BlockSize)}
	r.allradOut = make([][]float64, len(r.allradToInternal))
	for i := range r.allradOut {
		r.allradOut[i] = make([]float64, cfg.BlockSize)
	}
	r.lfeBinauralScratch = make([]float64, cfg.BlockSize)

	outChannels := n
	if r.binaural {
		outChannels = 2
	}
	r.outputBuf = make([][]float64, outChannels)
	for i := range r.outputBuf {
		r.outputBuf[i] = make([]float64, cfg.BlockSize)
	}
	r.outputGain = gaininterp.New(outChannels)
	r.outputGain.Reset(1)

	r.tracks = make([]trackState, len(cfg.StreamInfo))
	for i, k := range cfg.StreamInfo {
		r.tracks[i].kind = k
		switch k {
		case TrackObject:
			r.tracks[i].object = &objectTrack{direct: gaininterp.New(n), diffuse: gaininterp.New(n)}
		case TrackDirectSpeakers:
			r.tracks[i].ds = &dsTrack{gain: gaininterp.New(n)}
		case TrackHOA:
			r.tracks[i].hoa = &hoaTrack{}
		}
	}
	acn := 0
	for i, k := range cfg.StreamInfo {
		if k == TrackHOA {
			r.tracks[i].hoa.acn = acn
			acn++
		}
	}

	return r, nil
}

// GetSpeakerCount returns the number of channels GetRenderedAudio writes
// (2 for a Binaural target, else the output layout's channel count).
func (r *Renderer) GetSpeakerCount() int { return len(r.outputBuf) }

func (r *Renderer) warnf(format string, args ...any) { r.opt.diagnostics.Warnf(format, args...) }

func (r *Renderer) trackSlot(trackIndex int, kind TrackKind) *trackState {
	if trackIndex < 0 || trackIndex >= len(r.tracks) {
		r.warnf("render: track index %d not declared in stream_info", trackIndex)
		return nil
	}
	ts := &r.tracks[trackIndex]
	if ts.kind != kind {
		r.warnf("render: track index %d is declared as %v, not %v", trackIndex, ts.kind, kind)
		return nil
	}
	return ts
}

// AddObject mixes one Object track's mono input samples into the direct
// and diffuse buses, recomputing gains only if meta differs from the
// track's cached metadata.
func (r *Renderer) AddObject(trackIndex int, in []float64, meta object.Metadata, jump JumpInfo) {
	ts := r.trackSlot(trackIndex, TrackObject)
	if ts == nil {
		return
	}
	if ts.object.meta == nil || !reflect.DeepEqual(*ts.object.meta, meta) {
		result := r.objectCalc.Gains(meta)
		interp := interpLenFor(jump, len(in))
		ts.object.direct.SetGainVector(result.Direct, interp)
		ts.object.diffuse.SetGainVector(result.Diffuse, interp)
		metaCopy := meta
		ts.object.meta = &metaCopy
	}
	for c := range r.internal.Channels {
		ts.object.direct.ProcessAccumul(c, in, r.directBus[c])
		ts.object.diffuse.ProcessAccumul(c, in, r.diffuseBus[c])
	}
}

// AddDirectSpeaker mixes one DirectSpeakers track's mono input samples
// into the speaker bus.
func (r *Renderer) AddDirectSpeaker(trackIndex int, in []float64, meta directspeaker.Metadata, jump JumpInfo) {
	ts := r.trackSlot(trackIndex, TrackDirectSpeakers)
	if ts == nil {
		return
	}
	if ts.ds.meta == nil || !reflect.DeepEqual(*ts.ds.meta, meta) {
		gains := r.dsCalc.Gains(meta)
		interp := interpLenFor(jump, len(in))
		ts.ds.gain.SetGainVector(gains, interp)
		metaCopy := meta
		ts.ds.meta = &metaCopy
	}
	for c := range r.internal.Channels {
		ts.ds.gain.ProcessAccumul(c, in, r.speakerBus[c])
	}
}

// AddHoa mixes one raw HOA input channel into the HOA bus, converting
// from its declared normalization to SN3D.
func (r *Renderer) AddHoa(trackIndex int, in []float64) {
	ts := r.trackSlot(trackIndex, TrackHOA)
	if ts == nil {
		return
	}
	acn := ts.hoa.acn
	if acn < 0 || acn >= len(r.hoaBus.Channels) {
		r.warnf("render: hoa track %d acn %d out of range", trackIndex, acn)
		return
	}
	scale := normalizationScale(r.cfg.HOANormalization, acn)
	dst := r.hoaBus.Channels[acn]
	for i, v := range in {
		dst[i] += v * scale
	}
}

// AddBinaural mixes one pre-rendered stereo Binaural track directly into
// the binaural bus, bypassing spatial processing entirely. A no-op if the
// renderer's target isn't Binaural.
func (r *Renderer) AddBinaural(trackIndex int, left, right []float64) {
	ts := r.trackSlot(trackIndex, TrackBinaural)
	if ts == nil {
		return
	}
	if !r.binaural {
		return
	}
	for i := range left {
		r.binauralBus[0][i] += left[i]
	}
	for i := range right {
		r.binauralBus[1][i] += right[i]
	}
}

// SetHeadOrientation stages a new listener orientation (degrees), taking
// effect via the rotator's crossfade.
func (r *Renderer) SetHeadOrientation(yawDeg, pitchDeg, rollDeg float64) {
	r.rotator.SetOrientation(yawDeg, pitchDeg, rollDeg)
}

// SetOutputGain stages a new overall output gain, ramped over the next
// GetRenderedAudio call's sample count.
func (r *Renderer) SetOutputGain(gain float64, fadeSamples int) {
	gains := make([]float64, len(r.outputBuf))
	for i := range gains {
		gains[i] = gain
	}
	r.outputGain.SetGainVector(gains, fadeSamples)
}

// GetRenderedAudio renders n samples into out (pre-sized to
// GetSpeakerCount() channels of at least n samples), following spec.md
// 4.8's decorrelate -> combine -> AllRAD-or-binauralize -> output-gain
// pipeline, then clears all buses for the next block.
func (r *Renderer) GetRenderedAudio(out [][]float64, n int) {
	for c := range r.internal.Channels {
		if err := r.decorrelators[c].Process(r.directBus[c][:n], r.diffuseBus[c][:n], r.directPost[c][:n], r.diffusePost[c][:n]); err != nil {
			r.warnf("render: decorrelator channel %d: %v", c, err)
		}
	}

	if r.binaural {
		r.renderBinaural(n)
	} else {
		r.renderLoudspeaker(n)
	}

	for c := range r.outputBuf {
		r.outputGain.Process(c, r.outputBuf[c][:n], out[c][:n])
	}

	r.clearBuses(n)
}

func (r *Renderer) renderBinaural(n int) {
	lfeSum := r.lfeBinauralScratch[:n]
	zero(lfeSum)
	for c, ch := range r.internal.Channels {
		vb := r.virtualBus[c]
		sb, db, fb := r.speakerBus[c], r.directPost[c], r.diffusePost[c]
		for i := 0; i < n; i++ {
			vb[i] = sb[i] + db[i] + fb[i]
		}
		if ch.IsLFE {
			// non-directional: never spatially encoded, per spec's AllRAD
			// decoder always emitting zeros on the LFE channel too.
			if r.cfg.UseLFEBinaural {
				for i := 0; i < n; i++ {
					lfeSum[i] += vb[i]
				}
			}
			continue
		}
		coeffs := r.speakerEncodeCoeffs[c]
		for acn, w := range coeffs {
			dst := r.hoaBus.Channels[acn]
			for i := 0; i < n; i++ {
				dst[i] += w * vb[i]
			}
		}
	}

	r.optimFilters.Process(sliceBFormat(r.hoaBus, n))
	r.rotator.Process(sliceBFormat(r.hoaBus, n), sliceBFormat(r.rotatedBus, n))

	// ProcessBlock overwrites (not accumulates) its output, so anything
	// destined for outputBuf must be added after this call.
	if err := r.binauralizer.ProcessBlock(channelSlices(r.rotatedBus.Channels, n), r.outputBuf[0][:n], r.outputBuf[1][:n]); err != nil {
		r.warnf("render: binauralizer: %v", err)
	}
	for i := 0; i < n; i++ {
		r.outputBuf[0][i] += r.binauralBus[0][i] + lfeSum[i]
		r.outputBuf[1][i] += r.binauralBus[1][i] + lfeSum[i]
	}
}

func (r *Renderer) renderLoudspeaker(n int) {
	r.optimFilters.Process(sliceBFormat(r.hoaBus, n))
	r.allrad.Decode(sliceBFormat(r.hoaBus, n), channelSlices(r.allradOut, n))
	for i, internalIdx := range r.allradToInternal {
		if internalIdx < 0 {
			continue
		}
		for s := 0; s < n; s++ {
			r.outputBuf[internalIdx][s] += r.allradOut[i][s]
		}
	}
	for c := range r.internal.Channels {
		for i := 0; i < n; i++ {
			r.outputBuf[c][i] += r.speakerBus[c][i] + r.directPost[c][i] + r.diffusePost[c][i]
		}
	}
}

func (r *Renderer) clearBuses(n int) {
	for c := range r.internal.Channels {
		zero(r.speakerBus[c][:n])
		zero(r.directBus[c][:n])
		zero(r.diffuseBus[c][:n])
		zero(r.virtualBus[c][:n])
	}
	for _, ch := range r.hoaBus.Channels {
		zero(ch[:n])
	}
	zero(r.binauralBus[0][:n])
	zero(r.binauralBus[1][:n])
	for _, ch := range r.allradOut {
		zero(ch[:n])
	}
	for _, ch := range r.outputBuf {
		zero(ch[:n])
	}
}

// Reset clears all interpolator state, buses and the decorrelator tails.
func (r *Renderer) Reset() {
	r.clearBuses(r.cfg.BlockSize)
	for _, ts := range r.tracks {
		switch ts.kind {
		case TrackObject:
			ts.object.direct.Reset(0)
			ts.object.diffuse.Reset(0)
			ts.object.meta = nil
		case TrackDirectSpeakers:
			ts.ds.gain.Reset(0)
			ts.ds.meta = nil
		}
	}
	for _, d := range r.decorrelators {
		d.Reset()
	}
	if r.binauralizer != nil {
		r.binauralizer.Reset()
	}
	r.outputGain.Reset(1)
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

func sliceBFormat(b *ambisonic.BFormat, n int) *ambisonic.BFormat {
	out := &ambisonic.BFormat{Order: b.Order, Channels: make([][]float64, len(b.Channels))}
	for i, ch := range b.Channels {
		out.Channels[i] = ch[:n]
	}
	return out
}

func channelSlices(chs [][]float64, n int) [][]float64 {
	out := make([][]float64, len(chs))
	for i, ch := range chs {
		out[i] = ch[:n]
	}
	return out
}

func normalizationScale(norm Normalization, acn int) float64 {
	switch norm {
	case NormalizationN3D:
		n := ambisonic.DegreeOf(acn)
		return 1 / math.Sqrt(float64(2*n+1))
	case NormalizationFuMa:
		return fuMaScale(acn)
	default:
		return 1
	}
}

func fuMaScale(acn int) float64 {
	switch acn {
	case 0:
		return math.Sqrt2
	case 1, 2, 3:
		return math.Sqrt2
	case 4, 5, 7, 8:
		return math.Sqrt(3) / 2
	case 6:
		return 1
	case 9, 15:
		return math.Sqrt(5.0 / 8)
	case 10, 14:
		return math.Sqrt(5) / 3
	case 11, 13:
		return math.Sqrt(32.0 / 45)
	case 12:
		return 1
	default:
		return 1
	}
}
