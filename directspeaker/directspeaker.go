// Package directspeaker implements DirectSpeaker channel routing: rule
// matching against a target layout, screen-edge locking, LFE routing, and a
// closest-within-bounds / point-source-panner fallback chain.
package directspeaker

import (
	"math"
	"strings"

	"github.com/cwbudde/spaudio-render/geom"
	"github.com/cwbudde/spaudio-render/layout"
	"github.com/cwbudde/spaudio-render/panner"
)

// Metadata describes one DirectSpeaker track's routing request.
type Metadata struct {
	SpeakerLabel     string
	Position         geom.Polar
	AudioPackFormatID string
	Frequency        ChannelFrequency
	ScreenEdge       ScreenEdge
}

// ChannelFrequency carries a DirectSpeaker's optional low-pass/high-pass
// corner frequencies (Hz). A LowPass at or below 120 Hz marks the channel as
// LFE, per Rec. ITU-R BS.2127's frequency-based LFE detection rule; nil
// means the bound is absent.
type ChannelFrequency struct {
	LowPass  *float64
	HighPass *float64
}

// isLFE reports whether m should be routed as a Low-Frequency Effects
// channel: LowPass <= 120 Hz, or a label containing LFE1/LFE2.
func (m Metadata) isLFE() bool {
	if m.Frequency.LowPass != nil && *m.Frequency.LowPass <= 120 {
		return true
	}
	return strings.Contains(m.SpeakerLabel, "LFE1") || strings.Contains(m.SpeakerLabel, "LFE2")
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

// MappingRule is one entry of the ITU-pack rule-match table: if
// speakerLabel matches exactly, and (when non-empty) inputLayout/output
// layout are in the rule's allowed sets, and every gain target exists in
// the output layout, the rule applies and its gains are used directly.
type MappingRule struct {
	SpeakerLabel string
	InputLayouts []string
	OutputLayouts []string
	Gains        map[string]float64
}

// Calculator computes per-channel gains for DirectSpeaker metadata against
// one output layout.
type Calculator struct {
	output       layout.Layout
	outputNoLFE  layout.Layout
	psp          *panner.Panner
	screen       layout.Screen
	mappingRules []MappingRule
	boundsTol    float64
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithScreen sets the reproduction screen used for screen-edge locking.
func WithScreen(s layout.Screen) Option {
	return func(c *Calculator) { c.screen = s }
}

// WithMappingRules appends ITU-pack rule-match entries beyond the built-in
// conservative set (see DESIGN.md's grounding-gap note on AdmMappingRules).
func WithMappingRules(rules ...MappingRule) Option {
	return func(c *Calculator) { c.mappingRules = append(c.mappingRules, rules...) }
}

// WithBoundsTolerance overrides the default findClosestWithinBounds
// tolerance (degrees).
func WithBoundsTolerance(tol float64) Option {
	return func(c *Calculator) { c.boundsTol = tol }
}

// New builds a Calculator for the given output layout.
func New(output layout.Layout, opts ...Option) (*Calculator, error) {
	noLFE := output.WithoutLFE()
	psp, err := panner.New(output, 0)
	if err != nil {
		return nil, err
	}
	c := &Calculator{
		output:      output,
		outputNoLFE: noLFE,
		psp:         psp,
		screen:      layout.DefaultScreen,
		boundsTol:   5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Gains computes the full-layout gain vector (including LFE channels, all
// zero unless routed) for one DirectSpeaker track.
func (c *Calculator) Gains(m Metadata) []float64 {
	out := make([]float64, len(c.output.Channels))

	if m.AudioPackFormatID != "" {
		if inputLayoutName, ok := layout.ITUPackToLayout[m.AudioPackFormatID]; ok {
			if rule, ok := c.findRule(m.SpeakerLabel, inputLayoutName); ok {
				for label, g := range rule.Gains {
					if idx := c.output.IndexOf(label); idx >= 0 {
						out[idx] = g
					}
				}
				return out
			}
		}
	}

	nominal := layout.NominalLabel(m.SpeakerLabel)
	if idx := c.output.IndexOf(m.SpeakerLabel); idx >= 0 {
		out[idx] = 1
		return out
	}
	for _, ch := range c.output.Channels {
		if layout.NominalLabel(ch.Label) == nominal {
			out[c.output.IndexOf(ch.Label)] = 1
			return out
		}
	}

	if m.isLFE() {
		if idx := c.output.IndexOf("LFE1"); idx >= 0 {
			out[idx] = 1
		}
		return out
	}

	pos := c.lockToScreenEdge(m)

	if idx := c.findClosestWithinBounds(pos); idx >= 0 {
		out[idx] = 1
		return out
	}

	pspGains := c.psp.Gains(pos.ToCartesian())
	for i, label := range c.psp.Labels() {
		if idx := c.output.IndexOf(label); idx >= 0 {
			out[idx] = pspGains[i]
		}
	}
	return out
}

func (c *Calculator) findRule(speakerLabel, inputLayoutName string) (MappingRule, bool) {
	for _, r := range c.mappingRules {
		if r.SpeakerLabel != speakerLabel {
			continue
		}
		if len(r.InputLayouts) > 0 && !contains(r.InputLayouts, inputLayoutName) {
			continue
		}
		if len(r.OutputLayouts) > 0 && !contains(r.OutputLayouts, c.output.Name) {
			continue
		}
		allExist := true
		for label := range r.Gains {
			if !c.output.Contains(label) {
				allExist = false
				break
			}
		}
		if !allExist {
			continue
		}
		return r, true
	}
	return MappingRule{}, false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// lockToScreenEdge forces azimuth/elevation to the reproduction screen's
// edge when m.ScreenEdge names one, per Screen.cpp's
// ScreenEdgeLockHandler::HandleAzEl.
func (c *Calculator) lockToScreenEdge(m Metadata) geom.Polar {
	if m.ScreenEdge == ScreenEdgeNone {
		return m.Position
	}
	edges := c.screen.Edges()
	pos := m.Position
	switch m.ScreenEdge {
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

// findClosestWithinBounds looks for exactly one non-LFE output channel
// whose nominal angular range (a fixed tolerance window around its actual
// position) contains pos. Multiple candidates are broken by Cartesian
// distance; a tie returns -1 so callers fall through to the PSP, per
// DirectSpeakerGainCalc.cpp's findClosestWithinBounds.
func (c *Calculator) findClosestWithinBounds(pos geom.Polar) int {
	var matches []int
	for i, ch := range c.output.Channels {
		if ch.IsLFE {
			continue
		}
		if geom.InsideAngleRange(pos.Azimuth, ch.ActualPolar.Azimuth-c.boundsTol, ch.ActualPolar.Azimuth+c.boundsTol, 0) &&
			math.Abs(pos.Elevation-ch.ActualPolar.Elevation) <= c.boundsTol {
			matches = append(matches, i)
		}
	}
	if len(matches) == 0 {
		return -1
	}
	if len(matches) == 1 {
		return matches[0]
	}
	target := pos.ToCartesian()
	best, bestDist := -1, math.Inf(1)
	tieCount := 0
	for _, idx := range matches {
		d := c.output.Channels[idx].ActualPolar.ToCartesian().Distance(target)
		if d < bestDist-1e-9 {
			bestDist = d
			best = idx
			tieCount = 1
		} else if math.Abs(d-bestDist) <= 1e-9 {
			tieCount++
		}
	}
	if tieCount != 1 {
		return -1
	}
	return best
}
