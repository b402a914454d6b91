// Package layout holds the named loudspeaker layout registry: channel
// labels, nominal/actual positions, the per-layout angular-range validation
// table, and the canonical BS.2051/IAMF/BEAR layout definitions.
package layout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/spaudio-render/geom"
)

// Errors returned by layout construction and lookup.
var (
	ErrUnknownLayout       = errors.New("layout: unknown canonical layout name")
	ErrChannelOutOfRange   = errors.New("layout: channel position outside the layout's angular range")
	ErrDuplicateChannel    = errors.New("layout: duplicate channel label")
	ErrPositionCountWrong  = errors.New("layout: layout_positions length does not match layout channel count")
)

// Channel is one loudspeaker entry in a Layout.
type Channel struct {
	Label           string
	ActualPolar     geom.Polar
	NominalPolar    geom.Polar
	IsLFE           bool
}

// Screen describes a reproduction/reference screen for screen-scale and
// screen-edge-lock processing.
type Screen struct {
	// Centre position of the screen, typically (0,0,1).
	Centre geom.Polar
	// WidthDegrees is the screen's angular width as seen from the origin.
	WidthDegrees float64
	// AspectRatio is width/height.
	AspectRatio float64
}

// PolarEdges are the derived screen edges used by screen-scale/edge-lock.
type PolarEdges struct {
	LeftAzimuth    float64
	RightAzimuth   float64
	TopElevation   float64
	BottomElevation float64
}

// Edges derives the left/right/top/bottom polar edges of the screen, per
// Rec. ITU-R BS.2127 sec 7.3.2.
func (s Screen) Edges() PolarEdges {
	halfWidth := s.WidthDegrees / 2
	heightDeg := s.WidthDegrees / s.AspectRatio
	halfHeight := heightDeg / 2
	return PolarEdges{
		LeftAzimuth:     s.Centre.Azimuth + halfWidth,
		RightAzimuth:    s.Centre.Azimuth - halfWidth,
		TopElevation:    s.Centre.Elevation + halfHeight,
		BottomElevation: s.Centre.Elevation - halfHeight,
	}
}

// DefaultScreen is the reference screen assumed absent an explicit one:
// centred at the front, 58.5 degrees wide, 16:9 aspect - the BS.2127
// reference screen.
var DefaultScreen = Screen{Centre: geom.Polar{Distance: 1}, WidthDegrees: 58.5, AspectRatio: 16.0 / 9.0}

// Layout is a named, ordered set of channels.
type Layout struct {
	Name              string
	Channels          []Channel
	HasLFE            bool
	IsHOA             bool
	HOAOrder          int
	ReproductionScreen *Screen
}

// ChannelNames returns the ordered channel labels.
func (l Layout) ChannelNames() []string {
	out := make([]string, len(l.Channels))
	for i, c := range l.Channels {
		out[i] = c.Label
	}
	return out
}

// IndexOf returns the index of the channel with the given label, or -1.
func (l Layout) IndexOf(label string) int {
	for i, c := range l.Channels {
		if c.Label == label {
			return i
		}
	}
	return -1
}

// Contains reports whether the layout has a channel with the given label.
func (l Layout) Contains(label string) bool {
	return l.IndexOf(label) >= 0
}

// WithoutLFE returns a copy of l with all LFE channels removed.
func (l Layout) WithoutLFE() Layout {
	out := l
	out.Channels = nil
	for _, c := range l.Channels {
		if !c.IsLFE {
			out.Channels = append(out.Channels, c)
		}
	}
	out.HasLFE = false
	return out
}

// NonLFECount returns the number of non-LFE channels.
func (l Layout) NonLFECount() int {
	n := 0
	for _, c := range l.Channels {
		if !c.IsLFE {
			n++
		}
	}
	return n
}

// nominalPosition looks up the canonical BS.2094 position for a label.
func nominalPosition(label string) (geom.Polar, bool) {
	if p, ok := labelPositions[NominalLabel(label)]; ok {
		return p, true
	}
	return geom.Polar{}, false
}

// NominalLabel strips a "urn:itu:bs:2051:N:speaker:" style prefix, leaving
// the bare "X+YYY" channel label, or returns label unchanged if no known
// suffix is found.
func NominalLabel(label string) string {
	for _, known := range channelLabelOrder {
		if known == "" {
			continue
		}
		if strings.Contains(label, known) {
			return known
		}
	}
	return label
}

func isLFELabel(label string) bool {
	n := NominalLabel(label)
	return n == "LFE1" || n == "LFE2"
}

func newChannel(label string) (Channel, error) {
	if strings.Contains(label, "ACN") {
		return Channel{Label: label, ActualPolar: geom.DefaultPolar, NominalPolar: geom.DefaultPolar}, nil
	}
	pos, ok := nominalPosition(label)
	if !ok {
		return Channel{}, fmt.Errorf("layout: unknown channel label %q", label)
	}
	return Channel{
		Label:        label,
		ActualPolar:  pos,
		NominalPolar: pos,
		IsLFE:        isLFELabel(label),
	}, nil
}

// mustChannels builds a channel list from labels, panicking on an unknown
// label — used only for the built-in canonical table below, where every
// label is known to be valid at package init.
func mustChannels(labels ...string) []Channel {
	out := make([]Channel, len(labels))
	for i, l := range labels {
		ch, err := newChannel(l)
		if err != nil {
			panic("layout: " + err.Error())
		}
		out[i] = ch
	}
	return out
}

// Get returns a copy of the canonical layout with the given name.
func Get(name string) (Layout, error) {
	for _, l := range canonicalLayouts {
		if l.Name == name {
			return cloneLayout(l), nil
		}
	}
	return Layout{}, fmt.Errorf("%w: %s", ErrUnknownLayout, name)
}

func cloneLayout(l Layout) Layout {
	out := l
	out.Channels = append([]Channel(nil), l.Channels...)
	return out
}

// CanonicalNames lists every canonical layout name this registry knows.
func CanonicalNames() []string {
	out := make([]string, len(canonicalLayouts))
	for i, l := range canonicalLayouts {
		out[i] = l.Name
	}
	return out
}

// WithPositions returns a copy of l with actual (non-nominal) positions
// overridden from positions, validating against the layout's angular-range
// table (§6 of the spec).
func WithPositions(l Layout, positions []geom.Polar) (Layout, error) {
	if positions == nil {
		return l, nil
	}
	if len(positions) != len(l.Channels) {
		return Layout{}, fmt.Errorf("%w: got %d, want %d", ErrPositionCountWrong, len(positions), len(l.Channels))
	}
	out := cloneLayout(l)
	for i := range out.Channels {
		out.Channels[i].ActualPolar = positions[i]
	}
	if err := ValidateAngles(out); err != nil {
		return Layout{}, err
	}
	return out, nil
}

var canonicalLayouts = []Layout{
	{Name: "0+2+0", Channels: mustChannels("M+030", "M-030")},
	{Name: "0+4+0", Channels: mustChannels("M+045", "M-045", "M+135", "M-135")},
	{Name: "0+5+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+110", "M-110"), HasLFE: true},
	{Name: "2+5+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+110", "M-110", "U+030", "U-030"), HasLFE: true},
	{Name: "4+5+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+110", "M-110", "U+030", "U-030", "U+110", "U-110"), HasLFE: true},
	{Name: "4+5+1", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+110", "M-110", "U+030", "U-030", "U+110", "U-110", "B+000"), HasLFE: true},
	{Name: "3+7+0", Channels: mustChannels("M+000", "M+030", "M-030", "U+045", "U-045", "M+090", "M-090", "M+135", "M-135", "UH+180", "LFE1", "LFE2"), HasLFE: true},
	{Name: "4+9+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+090", "M-090", "M+135", "M-135", "U+045", "U-045", "U+135", "U-135", "M+SC", "M-SC"), HasLFE: true},
	{Name: "9+10+3", Channels: mustChannels("M+060", "M-060", "M+000", "LFE1", "M+135", "M-135", "M+030", "M-030", "M+180", "LFE2", "M+090", "M-090", "U+045", "U-045", "U+000", "T+000", "U+135", "U-135", "U+090", "U-090", "U+180", "B+000", "B+045", "B-045"), HasLFE: true},
	{Name: "0+7+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+090", "M-090", "M+135", "M-135"), HasLFE: true},
	{Name: "4+7+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+090", "M-090", "M+135", "M-135", "U+045", "U-045", "U+135", "U-135"), HasLFE: true},
	{Name: "2+7+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "M+090", "M-090", "M+135", "M-135", "U+045", "U-045"), HasLFE: true},
	{Name: "2+3+0", Channels: mustChannels("M+030", "M-030", "M+000", "LFE1", "U+045", "U-045"), HasLFE: true},
	{Name: "9+10+5", Channels: mustChannels("M+060", "M-060", "M+000", "M+135", "M-135", "M+030", "M-030", "M+180", "M+090", "M-090", "U+045", "U-045", "U+000", "T+000", "U+135", "U-135", "U+090", "U-090", "U+180", "B+000", "B+045", "B-045", "B+135", "B-135")},
	{Name: "1OA", IsHOA: true, HOAOrder: 1, Channels: mustChannels("ACN0", "ACN1", "ACN2", "ACN3")},
	{Name: "2OA", IsHOA: true, HOAOrder: 2, Channels: mustChannels("ACN0", "ACN1", "ACN2", "ACN3", "ACN4", "ACN5", "ACN6", "ACN7", "ACN8")},
	{Name: "3OA", IsHOA: true, HOAOrder: 3, Channels: mustChannels("ACN0", "ACN1", "ACN2", "ACN3", "ACN4", "ACN5", "ACN6", "ACN7", "ACN8", "ACN9", "ACN10", "ACN11", "ACN12", "ACN13", "ACN14", "ACN15")},
}

// ITUPackToLayout maps a Rec. ITU-R BS.2094 audioPackFormatID to the
// canonical input layout name it implies, per spec.md §6.
var ITUPackToLayout = map[string]string{
	"AP_00010001": "0+1+0",
	"AP_00010002": "0+2+0",
	"AP_0001000c": "0+5+0",
	"AP_00010003": "0+5+0",
	"AP_00010004": "2+5+0",
	"AP_00010005": "4+5+0",
	"AP_00010010": "4+5+1",
	"AP_00010007": "3+7+0",
	"AP_00010008": "4+9+0",
	"AP_00010009": "9+10+3",
	"AP_0001000f": "0+7+0",
	"AP_00010017": "4+7+0",
}
