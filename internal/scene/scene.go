// Package scene composes the layered render output: a base tile layer, the
// colored hexagon layer and an optional uploaded overlay layer, plus the
// hover tooltip payload.
package scene

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hexmapr/density-engine/internal/colorscale"
	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/observability"
	"github.com/hexmapr/density-engine/internal/overlay"
)

// Toggles controls per-layer visibility. The overlay toggle only matters once
// an overlay exists.
type Toggles struct {
	BaseMap  bool `json:"baseMap"`
	Hexagons bool `json:"hexagons"`
	Overlay  bool `json:"overlay"`
}

func DefaultToggles() Toggles {
	return Toggles{BaseMap: true, Hexagons: true, Overlay: true}
}

// Layer is one renderable layer of the scene.
type Layer struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"` // "tile" or "geojson"
	Visible bool            `json:"visible"`
	TileURL string          `json:"tileUrl,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Scene is the full render payload handed to the drawing front-end.
type Scene struct {
	Viewport   model.ViewportState `json:"viewport"`
	Metric     model.Metric        `json:"metric"`
	Resolution int                 `json:"resolution"`
	MaxValue   float64             `json:"maxValue"`
	Layers     []Layer             `json:"layers"`
	LoadError  string              `json:"loadError,omitempty"`
}

const memoSize = 16

// Composer builds scenes. Hexagon layers are memoized per dataset content and
// metric since both inputs are immutable snapshots.
type Composer struct {
	log     *slog.Logger
	tileURL string

	mu      sync.RWMutex
	toggles Toggles

	memo *lru.Cache[string, json.RawMessage]
}

func NewComposer(log *slog.Logger, tileURL string) *Composer {
	if log == nil {
		log = slog.Default()
	}
	memo, _ := lru.New[string, json.RawMessage](memoSize)
	return &Composer{
		log:     log,
		tileURL: tileURL,
		toggles: DefaultToggles(),
		memo:    memo,
	}
}

func (c *Composer) Toggles() Toggles {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.toggles
}

func (c *Composer) SetToggles(t Toggles) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toggles = t
}

// Compose assembles the layered scene for the current state. A nil dataset
// (nothing loaded yet, or a failed load with nothing prior) yields a scene
// without a hexagon layer; loadErr is surfaced verbatim.
func (c *Composer) Compose(vp model.ViewportState, ds *model.ResolutionDataset, metric model.Metric, ov *overlay.Overlay, loadErr error) (Scene, error) {
	t := c.Toggles()

	s := Scene{
		Viewport: vp,
		Metric:   metric,
	}
	if loadErr != nil {
		s.LoadError = loadErr.Error()
	}

	s.Layers = append(s.Layers, Layer{
		ID:      "basemap",
		Kind:    "tile",
		Visible: t.BaseMap,
		TileURL: c.tileURL,
	})

	if ds != nil {
		maxValue := colorscale.MaxValue(ds.Features, metric)
		data, err := c.hexagonLayer(ds, metric, maxValue)
		if err != nil {
			return Scene{}, fmt.Errorf("hexagon layer: %w", err)
		}
		s.Resolution = ds.Resolution
		s.MaxValue = maxValue
		s.Layers = append(s.Layers, Layer{
			ID:      "hexagons",
			Kind:    "geojson",
			Visible: t.Hexagons,
			Data:    data,
		})
	}

	if ov != nil {
		s.Layers = append(s.Layers, Layer{
			ID:      "overlay:" + ov.ID,
			Kind:    "geojson",
			Visible: t.Overlay,
			Data:    ov.Document,
		})
	}

	return s, nil
}

type hexProperties struct {
	Cell          string   `json:"cell"`
	Count         int64    `json:"count"`
	AGSCount      int64    `json:"agsCount"`
	AGSPercentage float64  `json:"agsPercentage"`
	FillColor     [4]uint8 `json:"fillColor"`
}

type hexGeometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

type hexFeature struct {
	Type       string        `json:"type"`
	Properties hexProperties `json:"properties"`
	Geometry   hexGeometry   `json:"geometry"`
}

type featureCollection struct {
	Type     string       `json:"type"`
	Features []hexFeature `json:"features"`
}

// hexagonLayer renders the dataset as a GeoJSON FeatureCollection with the
// per-feature fill color baked into the properties.
func (c *Composer) hexagonLayer(ds *model.ResolutionDataset, metric model.Metric, maxValue float64) (json.RawMessage, error) {
	// datasets are immutable once built, so resolution plus the payload
	// checksum identifies the content; a reload after the pipeline
	// republishes gets a fresh entry instead of the superseded bytes
	key := fmt.Sprintf("%d|%016x|%s", ds.Resolution, ds.Checksum, metric)
	start := time.Now()
	if data, ok := c.memo.Get(key); ok {
		observability.ObserveSceneCompose("hexagons", true, time.Since(start).Seconds())
		return data, nil
	}

	fc := featureCollection{
		Type:     "FeatureCollection",
		Features: make([]hexFeature, 0, len(ds.Features)),
	}
	for _, f := range ds.Features {
		color := colorscale.ColorFor(f.AggregateRecord, metric, maxValue)
		fc.Features = append(fc.Features, hexFeature{
			Type: "Feature",
			Properties: hexProperties{
				Cell:          f.CellID,
				Count:         f.Count,
				AGSCount:      f.AGSCount,
				AGSPercentage: f.AGSPercentage(),
				FillColor:     color.Slice(),
			},
			Geometry: hexGeometry{
				Type:        "Polygon",
				Coordinates: [][][2]float64{f.Ring},
			},
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return nil, fmt.Errorf("marshal FeatureCollection: %w", err)
	}
	c.memo.Add(key, json.RawMessage(data))
	observability.ObserveSceneCompose("hexagons", false, time.Since(start).Seconds())
	return data, nil
}
