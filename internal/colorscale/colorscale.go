// Package colorscale turns aggregate metric values into fill colors via
// fixed five-stop ramps with linear per-channel interpolation.
package colorscale

import (
	"math"

	"github.com/hexmapr/density-engine/internal/core/model"
)

// Stop anchors a color at a normalized position in [0,1].
type Stop struct {
	Pos   float64
	Color model.RGBA
}

// Ramp is an ordered list of stops, ascending by position.
type Ramp []Stop

const alpha = 190

// The count and percentage ramps share the same stop colors; they differ
// only in how the raw value is normalized.
var (
	countRamp = Ramp{
		{Pos: 0, Color: model.RGBA{R: 173, G: 216, B: 230, A: alpha}},
		{Pos: 0.25, Color: model.RGBA{R: 0, G: 255, B: 255, A: alpha}},
		{Pos: 0.5, Color: model.RGBA{R: 144, G: 238, B: 144, A: alpha}},
		{Pos: 0.75, Color: model.RGBA{R: 255, G: 190, B: 120, A: alpha}},
		{Pos: 1, Color: model.RGBA{R: 230, G: 40, B: 40, A: alpha}},
	}
	percentageRamp = Ramp{
		{Pos: 0, Color: model.RGBA{R: 173, G: 216, B: 230, A: alpha}},
		{Pos: 0.25, Color: model.RGBA{R: 0, G: 255, B: 255, A: alpha}},
		{Pos: 0.5, Color: model.RGBA{R: 144, G: 238, B: 144, A: alpha}},
		{Pos: 0.75, Color: model.RGBA{R: 255, G: 190, B: 120, A: alpha}},
		{Pos: 1, Color: model.RGBA{R: 230, G: 40, B: 40, A: alpha}},
	}
)

// RampFor returns the ramp used for the given metric.
func RampFor(m model.Metric) Ramp {
	if m == model.MetricAGSPercentage {
		return percentageRamp
	}
	return countRamp
}

// Normalize maps a raw metric value into [0,1]. Counts go through
// log(v+1)/log(max+1) to compress long-tailed distributions; the percentage
// metric is already bounded and divides by 100. A max of zero normalizes
// everything to zero rather than dividing by log(1).
func Normalize(m model.Metric, value, maxValue float64) float64 {
	if value < 0 {
		value = 0
	}
	if m == model.MetricAGSPercentage {
		return value / 100
	}
	if maxValue <= 0 {
		return 0
	}
	return math.Log(value+1) / math.Log(maxValue+1)
}

// At interpolates the ramp at normalized position v. Values below the first
// stop take the first color, values above the last stop clamp to the last.
func (r Ramp) At(v float64) model.RGBA {
	if len(r) == 0 {
		return model.RGBA{}
	}
	if v <= r[0].Pos {
		return r[0].Color
	}
	for i := 1; i < len(r); i++ {
		if r[i].Pos >= v {
			lo, hi := r[i-1], r[i]
			f := (v - lo.Pos) / (hi.Pos - lo.Pos)
			return model.RGBA{
				R: lerp(lo.Color.R, hi.Color.R, f),
				G: lerp(lo.Color.G, hi.Color.G, f),
				B: lerp(lo.Color.B, hi.Color.B, f),
				A: lerp(lo.Color.A, hi.Color.A, f),
			}
		}
	}
	return r[len(r)-1].Color
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

// ColorFor computes the fill color for one record under the given metric and
// the current dataset maximum for that metric.
func ColorFor(rec model.AggregateRecord, m model.Metric, maxValue float64) model.RGBA {
	v := Normalize(m, rec.Value(m), maxValue)
	return RampFor(m).At(v)
}

// MaxValue scans the features for the largest value under the metric. It is
// recomputed whenever the active dataset or the selected metric changes and
// never reused across metric switches.
func MaxValue(feats []model.Feature, m model.Metric) float64 {
	max := 0.0
	for _, f := range feats {
		if v := f.Value(m); v > max {
			max = v
		}
	}
	return max
}
