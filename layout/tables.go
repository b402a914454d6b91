package layout

import (
	"fmt"

	"github.com/cwbudde/spaudio-render/geom"
)

// channelLabelOrder lists every recognised bare channel label, longest/most
// specific entries first so NominalLabel's substring scan doesn't mis-match
// a short label against a longer one's prefix (e.g. "M+030" vs "M+03").
var channelLabelOrder = []string{
	"UH+180",
	"M+000", "M+030", "M-030", "M+045", "M-045", "M+060", "M-060",
	"M+090", "M-090", "M+110", "M-110", "M+135", "M-135", "M+180",
	"M+SC", "M-SC",
	"U+000", "U+030", "U-030", "U+045", "U-045", "U+090", "U-090",
	"U+110", "U-110", "U+135", "U-135",
	"T+000",
	"B+000", "B+045", "B-045", "B+135", "B-135",
	"LFE1", "LFE2",
}

// labelPositions is the canonical BS.2094 nominal polar position for every
// label in channelLabelOrder.
var labelPositions = map[string]geom.Polar{
	"UH+180": {Azimuth: 180, Elevation: 45, Distance: 1},

	"M+000": {Azimuth: 0, Elevation: 0, Distance: 1},
	"M+030": {Azimuth: 30, Elevation: 0, Distance: 1},
	"M-030": {Azimuth: -30, Elevation: 0, Distance: 1},
	"M+045": {Azimuth: 45, Elevation: 0, Distance: 1},
	"M-045": {Azimuth: -45, Elevation: 0, Distance: 1},
	"M+060": {Azimuth: 60, Elevation: 0, Distance: 1},
	"M-060": {Azimuth: -60, Elevation: 0, Distance: 1},
	"M+090": {Azimuth: 90, Elevation: 0, Distance: 1},
	"M-090": {Azimuth: -90, Elevation: 0, Distance: 1},
	"M+110": {Azimuth: 110, Elevation: 0, Distance: 1},
	"M-110": {Azimuth: -110, Elevation: 0, Distance: 1},
	"M+135": {Azimuth: 135, Elevation: 0, Distance: 1},
	"M-135": {Azimuth: -135, Elevation: 0, Distance: 1},
	"M+180": {Azimuth: 180, Elevation: 0, Distance: 1},
	"M+SC":  {Azimuth: 25, Elevation: 0, Distance: 1},
	"M-SC":  {Azimuth: -25, Elevation: 0, Distance: 1},

	"U+000": {Azimuth: 0, Elevation: 30, Distance: 1},
	"U+030": {Azimuth: 30, Elevation: 30, Distance: 1},
	"U-030": {Azimuth: -30, Elevation: 30, Distance: 1},
	"U+045": {Azimuth: 45, Elevation: 30, Distance: 1},
	"U-045": {Azimuth: -45, Elevation: 30, Distance: 1},
	"U+090": {Azimuth: 90, Elevation: 30, Distance: 1},
	"U-090": {Azimuth: -90, Elevation: 30, Distance: 1},
	"U+110": {Azimuth: 110, Elevation: 30, Distance: 1},
	"U-110": {Azimuth: -110, Elevation: 30, Distance: 1},
	"U+135": {Azimuth: 135, Elevation: 30, Distance: 1},
	"U-135": {Azimuth: -135, Elevation: 30, Distance: 1},

	"T+000": {Azimuth: 0, Elevation: 90, Distance: 1},

	"B+000": {Azimuth: 0, Elevation: -30, Distance: 1},
	"B+045": {Azimuth: 45, Elevation: -30, Distance: 1},
	"B-045": {Azimuth: -45, Elevation: -30, Distance: 1},
	"B+135": {Azimuth: 135, Elevation: -30, Distance: 1},
	"B-135": {Azimuth: -135, Elevation: -30, Distance: 1},

	"LFE1": {Azimuth: 0, Elevation: -30, Distance: 1},
	"LFE2": {Azimuth: 180, Elevation: -30, Distance: 1},
}

// angleRange is a permitted azimuth/elevation window for one channel label
// within one layout, per the reference checkLayoutAngles table. Azimuth
// ranges may wrap (min > max) through +/-180.
type angleRange struct {
	minAz, maxAz float64
	minEl, maxEl float64
	// altAz, if non-zero width (altMinAz != altMaxAz or both zero with
	// screenCentre set), gives the M+-SC-style "or within this absolute
	// band" alternate azimuth test used for screen-companion channels.
	screenCentre bool
}

// tol is the validation tolerance in degrees applied uniformly, matching
// the reference implementation's fixed epsilon.
const tol = 0.5

// layoutAngleRanges gives the permitted azimuth/elevation window per
// (layout name, channel label); channels not listed default to a tight
// window around their nominal position.
var layoutAngleRanges = map[string]map[string]angleRange{
	"0+5+0": {
		"M+030": {minAz: 0, maxAz: 60, minEl: -10, maxEl: 10},
		"M-030": {minAz: -60, maxAz: 0, minEl: -10, maxEl: 10},
		"M+000": {minAz: -10, maxAz: 10, minEl: -10, maxEl: 10},
		"M+110": {minAz: 80, maxAz: 150, minEl: -10, maxEl: 10},
		"M-110": {minAz: -150, maxAz: -80, minEl: -10, maxEl: 10},
		"LFE1":  {minAz: -180, maxAz: 180, minEl: -90, maxEl: 0},
	},
	"4+9+0": {
		"M+SC": {minAz: 5, maxAz: 60, minEl: 0, maxEl: 0, screenCentre: true},
		"M-SC": {minAz: -60, maxAz: -5, minEl: 0, maxEl: 0, screenCentre: true},
	},
}

// ValidateAngles checks every channel's actual position against the
// layout's permitted angular range (per-label where known, else a tight
// window around nominal), per spec.md §3.
func ValidateAngles(l Layout) error {
	ranges := layoutAngleRanges[l.Name]
	for _, ch := range l.Channels {
		nominal := NominalLabel(ch.Label)
		if r, ok := ranges[nominal]; ok {
			if r.screenCentre {
				inRange := geom.InsideAngleRange(ch.ActualPolar.Azimuth, r.minAz, r.maxAz, tol) ||
					(ch.ActualPolar.Azimuth >= 35 && ch.ActualPolar.Azimuth <= 60) ||
					(ch.ActualPolar.Azimuth <= -35 && ch.ActualPolar.Azimuth >= -60)
				if !inRange {
					return errOutOfRange(l.Name, ch.Label, ch.ActualPolar)
				}
				continue
			}
			if !geom.InsideAngleRange(ch.ActualPolar.Azimuth, r.minAz, r.maxAz, tol) {
				return errOutOfRange(l.Name, ch.Label, ch.ActualPolar)
			}
			if ch.ActualPolar.Elevation < r.minEl-tol || ch.ActualPolar.Elevation > r.maxEl+tol {
				return errOutOfRange(l.Name, ch.Label, ch.ActualPolar)
			}
			continue
		}
		// No per-layout entry: fall back to a tight window around the
		// channel's own nominal position.
		nom := ch.NominalPolar
		if !geom.InsideAngleRange(ch.ActualPolar.Azimuth, nom.Azimuth-tol*10, nom.Azimuth+tol*10, tol) {
			return errOutOfRange(l.Name, ch.Label, ch.ActualPolar)
		}
	}
	return nil
}

func errOutOfRange(layoutName, label string, p geom.Polar) error {
	return &rangeError{layoutName: layoutName, label: label, pos: p}
}

type rangeError struct {
	layoutName string
	label      string
	pos        geom.Polar
}

func (e *rangeError) Error() string {
	return fmt.Sprintf("layout: channel %s in %s outside permitted angular range: az=%.1f el=%.1f",
		e.label, e.layoutName, e.pos.Azimuth, e.pos.Elevation)
}

func (e *rangeError) Unwrap() error { return ErrChannelOutOfRange }
