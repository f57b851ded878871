package scene

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/hexmapr/density-engine/internal/colorscale"
	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/overlay"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func squareRing() model.Ring {
	return model.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
}

func testDataset() *model.ResolutionDataset {
	return &model.ResolutionDataset{
		Resolution: 5,
		Features: []model.Feature{
			{
				AggregateRecord: model.AggregateRecord{CellID: "X", Count: 10, AGSCount: 2},
				Ring:            squareRing(),
			},
		},
	}
}

func layerByID(t *testing.T, s Scene, id string) Layer {
	t.Helper()
	for _, l := range s.Layers {
		if l.ID == id {
			return l
		}
	}
	t.Fatalf("scene has no layer %q (layers: %+v)", id, s.Layers)
	return Layer{}
}

func TestCompose_LayerSet(t *testing.T) {
	c := NewComposer(discardLogger(), "https://tile.example/{z}/{x}/{y}.png")
	s, err := c.Compose(model.ViewportState{Zoom: 6}, testDataset(), model.MetricCount, nil, nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	base := layerByID(t, s, "basemap")
	if base.Kind != "tile" || base.TileURL == "" || !base.Visible {
		t.Fatalf("basemap layer = %+v", base)
	}
	hex := layerByID(t, s, "hexagons")
	if hex.Kind != "geojson" || len(hex.Data) == 0 {
		t.Fatalf("hexagon layer = %+v", hex)
	}
	if s.Resolution != 5 {
		t.Fatalf("scene resolution = %d, want 5", s.Resolution)
	}
	if s.MaxValue != 10 {
		t.Fatalf("scene maxValue = %v, want 10", s.MaxValue)
	}
	// no overlay uploaded: no overlay layer
	for _, l := range s.Layers {
		if l.ID != "basemap" && l.ID != "hexagons" {
			t.Fatalf("unexpected layer %q", l.ID)
		}
	}
}

func TestCompose_TogglesControlVisibility(t *testing.T) {
	c := NewComposer(discardLogger(), "https://tile.example/{z}/{x}/{y}.png")
	c.SetToggles(Toggles{BaseMap: false, Hexagons: false, Overlay: true})
	s, err := c.Compose(model.ViewportState{}, testDataset(), model.MetricCount, nil, nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if layerByID(t, s, "basemap").Visible {
		t.Fatalf("basemap should be hidden")
	}
	if layerByID(t, s, "hexagons").Visible {
		t.Fatalf("hexagons should be hidden")
	}
}

func TestCompose_OverlayLayerPresentOnlyWithOverlay(t *testing.T) {
	c := NewComposer(discardLogger(), "")
	ov, err := overlay.Parse("wells.geojson", "", []byte(`{"type":"FeatureCollection","features":[]}`))
	if err != nil {
		t.Fatalf("overlay.Parse: %v", err)
	}
	s, err := c.Compose(model.ViewportState{}, nil, model.MetricCount, ov, nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	l := layerByID(t, s, "overlay:"+ov.ID)
	if l.Kind != "geojson" || len(l.Data) == 0 {
		t.Fatalf("overlay layer = %+v", l)
	}
}

func TestCompose_NilDatasetSurfacesLoadError(t *testing.T) {
	c := NewComposer(discardLogger(), "")
	s, err := c.Compose(model.ViewportState{}, nil, model.MetricCount, nil, errLoad{})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if s.LoadError == "" {
		t.Fatalf("expected the load error to be surfaced")
	}
	for _, l := range s.Layers {
		if l.ID == "hexagons" {
			t.Fatalf("no hexagon layer should exist without a dataset")
		}
	}
}

type errLoad struct{}

func (errLoad) Error() string { return "load resolution 5: preprocessing output missing" }

func TestHexagonLayer_PercentageColorBetweenFirstStops(t *testing.T) {
	c := NewComposer(discardLogger(), "")
	s, err := c.Compose(model.ViewportState{}, testDataset(), model.MetricAGSPercentage, nil, nil)
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	hex := layerByID(t, s, "hexagons")

	var fc struct {
		Features []struct {
			Properties struct {
				Cell          string   `json:"cell"`
				Count         int64    `json:"count"`
				AGSCount      int64    `json:"agsCount"`
				AGSPercentage float64  `json:"agsPercentage"`
				FillColor     [4]uint8 `json:"fillColor"`
			} `json:"properties"`
			Geometry struct {
				Type        string         `json:"type"`
				Coordinates [][][2]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(hex.Data, &fc); err != nil {
		t.Fatalf("unmarshal hexagon layer: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(fc.Features))
	}
	p := fc.Features[0].Properties
	if p.AGSPercentage != 20 {
		t.Fatalf("agsPercentage = %v, want 20", p.AGSPercentage)
	}

	ramp := colorscale.RampFor(model.MetricAGSPercentage)
	want := ramp.At(0.2)
	got := model.RGBA{R: p.FillColor[0], G: p.FillColor[1], B: p.FillColor[2], A: p.FillColor[3]}
	if got != want {
		t.Fatalf("fillColor = %+v, want interpolated %+v", got, want)
	}
	if got == ramp[0].Color || got == ramp[1].Color {
		t.Fatalf("fillColor %+v must lie strictly between stops 0 and 0.25", got)
	}

	if fc.Features[0].Geometry.Type != "Polygon" {
		t.Fatalf("geometry type = %q, want Polygon", fc.Features[0].Geometry.Type)
	}
	ring := fc.Features[0].Geometry.Coordinates[0]
	if ring[0] != ring[len(ring)-1] {
		t.Fatalf("rendered ring is not closed")
	}
}

func TestHexagonLayer_MemoizedPerDatasetAndMetric(t *testing.T) {
	c := NewComposer(discardLogger(), "")
	ds := testDataset()

	s1, err := c.Compose(model.ViewportState{}, ds, model.MetricCount, nil, nil)
	if err != nil {
		t.Fatalf("Compose 1: %v", err)
	}
	s2, err := c.Compose(model.ViewportState{}, ds, model.MetricCount, nil, nil)
	if err != nil {
		t.Fatalf("Compose 2: %v", err)
	}
	d1 := layerByID(t, s1, "hexagons").Data
	d2 := layerByID(t, s2, "hexagons").Data
	if &d1[0] != &d2[0] {
		t.Fatalf("expected the memoized layer bytes to be reused")
	}

	// a different metric is a different memo entry with different colors
	s3, err := c.Compose(model.ViewportState{}, ds, model.MetricAGSPercentage, nil, nil)
	if err != nil {
		t.Fatalf("Compose 3: %v", err)
	}
	if string(layerByID(t, s3, "hexagons").Data) == string(d1) {
		t.Fatalf("metric switch must recompute the layer")
	}
}

func TestHexagonLayer_ReloadedDatasetNotServedStaleLayer(t *testing.T) {
	c := NewComposer(discardLogger(), "")

	old := testDataset()
	old.Checksum = 0x1111
	if _, err := c.Compose(model.ViewportState{}, old, model.MetricCount, nil, nil); err != nil {
		t.Fatalf("Compose old: %v", err)
	}

	// the pipeline republished: same resolution, new content
	fresh := &model.ResolutionDataset{
		Resolution: 5,
		Checksum:   0x2222,
		Features: []model.Feature{
			{
				AggregateRecord: model.AggregateRecord{CellID: "Y", Count: 999, AGSCount: 1},
				Ring:            squareRing(),
			},
		},
	}
	s, err := c.Compose(model.ViewportState{}, fresh, model.MetricCount, nil, nil)
	if err != nil {
		t.Fatalf("Compose fresh: %v", err)
	}

	var fc struct {
		Features []struct {
			Properties struct {
				Cell  string `json:"cell"`
				Count int64  `json:"count"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(layerByID(t, s, "hexagons").Data, &fc); err != nil {
		t.Fatalf("unmarshal hexagon layer: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d, want 1", len(fc.Features))
	}
	if fc.Features[0].Properties.Cell != "Y" || fc.Features[0].Properties.Count != 999 {
		t.Fatalf("layer served superseded content: %+v", fc.Features[0].Properties)
	}
}

func TestTooltip_AggregateAttributes(t *testing.T) {
	ds := testDataset()
	p, ok := TooltipForAggregate(ds, "X")
	if !ok {
		t.Fatalf("expected a tooltip for cell X")
	}
	if p.Layer != "hexagons" {
		t.Fatalf("layer = %q, want hexagons", p.Layer)
	}
	if p.Properties["count"] != int64(10) || p.Properties["agsCount"] != int64(2) {
		t.Fatalf("properties = %+v", p.Properties)
	}
	if p.Properties["agsPercentage"] != 20.0 {
		t.Fatalf("agsPercentage = %v, want 20", p.Properties["agsPercentage"])
	}
	if _, ok := TooltipForAggregate(ds, "missing"); ok {
		t.Fatalf("unknown cell must not produce a tooltip")
	}
}

func TestTooltip_OverlayArbitraryProperties(t *testing.T) {
	ov, err := overlay.Parse("wells.geojson", "", []byte(
		`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"name":"well 1","depth_m":120},"geometry":null}]}`))
	if err != nil {
		t.Fatalf("overlay.Parse: %v", err)
	}
	p, ok := TooltipForOverlay(ov, 0)
	if !ok {
		t.Fatalf("expected a tooltip for overlay feature 0")
	}
	if p.Properties["name"] != "well 1" {
		t.Fatalf("properties = %+v", p.Properties)
	}
	if _, ok := TooltipForOverlay(ov, 5); ok {
		t.Fatalf("out-of-range index must not produce a tooltip")
	}
}

func TestHover_OneAtATime(t *testing.T) {
	h := NewHover()
	if _, ok := h.Current(); ok {
		t.Fatalf("fresh hover state must be empty")
	}
	h.Set(TooltipPayload{Layer: "hexagons", Properties: map[string]any{"cell": "a"}})
	h.Set(TooltipPayload{Layer: "hexagons", Properties: map[string]any{"cell": "b"}})
	p, ok := h.Current()
	if !ok || p.Properties["cell"] != "b" {
		t.Fatalf("hovering a new feature must replace the payload, got %+v", p)
	}
	h.Clear()
	if _, ok := h.Current(); ok {
		t.Fatalf("leaving all features must clear the tooltip")
	}
}
