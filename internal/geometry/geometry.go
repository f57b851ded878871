// Package geometry derives renderable polygon rings from aggregate records,
// either from an explicit WKT string or from the record's H3 cell.
package geometry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	h3 "github.com/uber/h3-go/v4"

	"github.com/hexmapr/density-engine/internal/core/model"
)

// ParseError reports one record whose geometry could not be derived. The
// loader logs it and drops the record; the rest of the dataset still renders.
type ParseError struct {
	CellID string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("geometry for cell %q: %v", e.CellID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// BuildRing converts one aggregate record into a closed polygon ring in
// (lng,lat) order. A WKT field, when present, overrides the cell geometry.
func BuildRing(rec model.AggregateRecord) (model.Ring, error) {
	if strings.TrimSpace(rec.WKT) != "" {
		ring, err := RingFromWKT(rec.WKT)
		if err != nil {
			return nil, &ParseError{CellID: rec.CellID, Err: err}
		}
		return ring, nil
	}
	ring, err := RingFromCell(rec.CellID)
	if err != nil {
		return nil, &ParseError{CellID: rec.CellID, Err: err}
	}
	return ring, nil
}

// RingFromWKT parses a WKT polygon and returns its exterior ring, closed.
func RingFromWKT(s string) (model.Ring, error) {
	g, err := wkt.Unmarshal(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse wkt: %w", err)
	}
	var exterior *geom.LinearRing
	switch t := g.(type) {
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return nil, errors.New("polygon has no rings")
		}
		exterior = t.LinearRing(0)
	case *geom.MultiPolygon:
		if t.NumPolygons() == 0 {
			return nil, errors.New("multipolygon is empty")
		}
		p := t.Polygon(0)
		if p.NumLinearRings() == 0 {
			return nil, errors.New("multipolygon polygon has no rings")
		}
		exterior = p.LinearRing(0)
	default:
		return nil, fmt.Errorf("unsupported wkt geometry %T", g)
	}

	coords := exterior.Coords()
	if len(coords) < 3 {
		return nil, fmt.Errorf("exterior ring has %d vertices", len(coords))
	}
	ring := make(model.Ring, 0, len(coords)+1)
	for _, c := range coords {
		ring = append(ring, [2]float64{c.X(), c.Y()})
	}
	return closeRing(ring), nil
}

// RingFromCell derives the hexagon boundary of an H3 cell. Cell identifiers
// are accepted in both hex-string and decimal integer form; the offline
// pipeline emits the latter.
func RingFromCell(id string) (model.Ring, error) {
	c, err := parseCell(id)
	if err != nil {
		return nil, err
	}
	boundary, err := c.Boundary()
	if err != nil {
		return nil, fmt.Errorf("h3 boundary: %w", err)
	}
	if len(boundary) == 0 {
		return nil, fmt.Errorf("empty boundary for cell %q", id)
	}
	ring := make(model.Ring, 0, len(boundary)+1)
	for _, v := range boundary {
		// H3 yields (lat,lng); rendering wants (lng,lat)
		ring = append(ring, [2]float64{v.Lng, v.Lat})
	}
	return closeRing(ring), nil
}

func parseCell(id string) (h3.Cell, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, errors.New("empty cell identifier")
	}
	var c h3.Cell
	if err := c.UnmarshalText([]byte(id)); err == nil && c.IsValid() {
		return c, nil
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		c = h3.Cell(n)
		if c.IsValid() {
			return c, nil
		}
	}
	return 0, fmt.Errorf("invalid h3 cell %q", id)
}

// closeRing repeats the first vertex as the last unless already closed.
func closeRing(ring model.Ring) model.Ring {
	if len(ring) == 0 {
		return ring
	}
	if ring[0] == ring[len(ring)-1] {
		return ring
	}
	return append(ring, ring[0])
}
