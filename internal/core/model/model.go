// Package model defines core domain types shared across the engine.
package model

import "fmt"

// Metric selects which aggregate value drives the hexagon colors.
type Metric string

const (
	MetricCount         Metric = "count"
	MetricAGSCount      Metric = "agsCount"
	MetricAGSPercentage Metric = "agsPercentage"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCount, MetricAGSCount, MetricAGSPercentage:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// AggregateRecord is one row of a precomputed dataset at a given resolution.
// AGSCount is a subset of Count; the source does not enforce that, so a
// percentage above 100 is possible and passed through as-is.
type AggregateRecord struct {
	CellID   string
	WKT      string
	Count    int64
	AGSCount int64
}

func (r AggregateRecord) AGSPercentage() float64 {
	if r.Count <= 0 {
		return 0
	}
	return float64(r.AGSCount) / float64(r.Count) * 100
}

// Value returns the record's value under the given metric.
func (r AggregateRecord) Value(m Metric) float64 {
	switch m {
	case MetricAGSCount:
		return float64(r.AGSCount)
	case MetricAGSPercentage:
		return r.AGSPercentage()
	default:
		return float64(r.Count)
	}
}

// Ring is a closed polygon ring in (lng,lat) order: the first and last
// vertices are identical.
type Ring [][2]float64

func (rg Ring) Closed() bool {
	if len(rg) < 4 {
		return false
	}
	return rg[0] == rg[len(rg)-1]
}

// Feature pairs an aggregate record with its derived polygon ring.
type Feature struct {
	AggregateRecord
	Ring Ring
}

// ResolutionDataset is an immutable snapshot of one resolution's aggregate
// file, built once and cached for the process lifetime. Checksum identifies
// the source payload, so two snapshots of the same resolution built from
// different pipeline runs are distinguishable.
type ResolutionDataset struct {
	Resolution int
	Checksum   uint64
	Features   []Feature
}

// ViewportState is the authoritative view state. It is replaced wholesale on
// every interaction, never partially mutated.
type ViewportState struct {
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	Zoom      float64 `json:"zoom"`
	Pitch     float64 `json:"pitch"`
	Bearing   float64 `json:"bearing"`
}

// RGBA is a color with 8-bit channels.
type RGBA struct {
	R, G, B, A uint8
}

func (c RGBA) Slice() [4]uint8 { return [4]uint8{c.R, c.G, c.B, c.A} }
