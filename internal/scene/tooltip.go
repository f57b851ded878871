package scene

import (
	"encoding/json"
	"sync"

	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/overlay"
)

// TooltipPayload carries the attributes of the single hovered feature.
type TooltipPayload struct {
	Layer      string         `json:"layer"`
	Properties map[string]any `json:"properties"`
}

// Hover tracks the one hovered feature. Hovering a new feature replaces the
// payload; leaving all features clears it. Both take effect synchronously.
type Hover struct {
	mu  sync.RWMutex
	cur *TooltipPayload
}

func NewHover() *Hover { return &Hover{} }

func (h *Hover) Set(p TooltipPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = &p
}

func (h *Hover) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cur = nil
}

func (h *Hover) Current() (TooltipPayload, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cur == nil {
		return TooltipPayload{}, false
	}
	return *h.cur, true
}

// TooltipForAggregate builds the payload for a hexagon feature, identified by
// its cell, from the active dataset's well-known attributes.
func TooltipForAggregate(ds *model.ResolutionDataset, cellID string) (TooltipPayload, bool) {
	if ds == nil {
		return TooltipPayload{}, false
	}
	for _, f := range ds.Features {
		if f.CellID == cellID {
			return TooltipPayload{
				Layer: "hexagons",
				Properties: map[string]any{
					"cell":          f.CellID,
					"count":         f.Count,
					"agsCount":      f.AGSCount,
					"agsPercentage": f.AGSPercentage(),
				},
			}, true
		}
	}
	return TooltipPayload{}, false
}

// TooltipForOverlay builds the payload for the overlay feature at the given
// index. Overlay features carry arbitrary key/value properties.
func TooltipForOverlay(ov *overlay.Overlay, index int) (TooltipPayload, bool) {
	if ov == nil || index < 0 {
		return TooltipPayload{}, false
	}

	var feature struct {
		Properties map[string]any `json:"properties"`
	}
	switch ov.Type {
	case "Feature":
		if index != 0 {
			return TooltipPayload{}, false
		}
		if err := json.Unmarshal(ov.Document, &feature); err != nil {
			return TooltipPayload{}, false
		}
	case "FeatureCollection":
		var doc struct {
			Features []json.RawMessage `json:"features"`
		}
		if err := json.Unmarshal(ov.Document, &doc); err != nil {
			return TooltipPayload{}, false
		}
		if index >= len(doc.Features) {
			return TooltipPayload{}, false
		}
		if err := json.Unmarshal(doc.Features[index], &feature); err != nil {
			return TooltipPayload{}, false
		}
	default:
		return TooltipPayload{}, false
	}

	props := feature.Properties
	if props == nil {
		props = map[string]any{}
	}
	return TooltipPayload{Layer: "overlay:" + ov.ID, Properties: props}, true
}
