// Package viewport owns the authoritative view state and re-derives the
// active aggregation resolution whenever the zoom changes.
package viewport

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/resolution"
)

// Loader is the dataset dependency: load on demand, read the cache fresh.
type Loader interface {
	Load(ctx context.Context, resolution int) (*model.ResolutionDataset, error)
	Cached(resolution int) (*model.ResolutionDataset, bool)
}

// Controller holds the single ViewportState. Every change replaces the state
// wholesale. Resolution changes trigger fire-and-forget loads; the previously
// rendered dataset stays up until the new one resolves, so the map never
// flashes blank.
type Controller struct {
	log    *slog.Logger
	loader Loader

	mu           sync.RWMutex
	state        model.ViewportState
	panelWidthPx float64
	activeRes    int
	rendered     *model.ResolutionDataset
	loadErr      error
}

// New applies the side-panel longitude offset to the initial state, derives
// the initial resolution and kicks off its load.
func New(log *slog.Logger, loader Loader, initial model.ViewportState, panelWidthPx float64) *Controller {
	if log == nil {
		log = slog.Default()
	}
	initial.Longitude = wrapLongitude(initial.Longitude - OffsetLongitude(panelWidthPx, initial.Latitude, initial.Zoom))
	c := &Controller{
		log:          log,
		loader:       loader,
		state:        initial,
		panelWidthPx: panelWidthPx,
		activeRes:    resolution.ForZoom(initial.Zoom),
	}
	c.triggerLoad(c.activeRes)
	return c
}

// OffsetLongitude converts half the panel width into a longitude shift at the
// given latitude and zoom, so the map's visual center clears the fixed-width
// side panel.
func OffsetLongitude(panelWidthPx, latitude, zoom float64) float64 {
	metersPerPixel := math.Cos(latitude*math.Pi/180) * 111000 * math.Pow(2, zoom) / 256
	if metersPerPixel == 0 {
		return 0
	}
	return (panelWidthPx / 2) / metersPerPixel
}

// State returns the current viewport state.
func (c *Controller) State() model.ViewportState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// ActiveResolution is derived solely from the current zoom.
func (c *Controller) ActiveResolution() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeRes
}

// OnViewportChange replaces the state and re-derives the resolution. When the
// resolution changes an asynchronous load starts; rendering keeps using the
// previous dataset until it resolves.
func (c *Controller) OnViewportChange(next model.ViewportState) {
	next.Longitude = wrapLongitude(next.Longitude)
	c.mu.Lock()
	c.state = next
	res := resolution.ForZoom(next.Zoom)
	changed := res != c.activeRes
	c.activeRes = res
	c.mu.Unlock()

	if changed {
		c.triggerLoad(res)
	}
}

// SetPanelWidth recomputes the longitude offset for a new panel width,
// holding latitude and zoom fixed.
func (c *Controller) SetPanelWidth(panelWidthPx float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := OffsetLongitude(c.panelWidthPx, c.state.Latitude, c.state.Zoom)
	next := OffsetLongitude(panelWidthPx, c.state.Latitude, c.state.Zoom)
	c.state.Longitude = wrapLongitude(c.state.Longitude + old - next)
	c.panelWidthPx = panelWidthPx
}

// wrapLongitude normalizes a longitude into [-180,180]. The panel offset can
// push a center past the antimeridian; in-range values pass through exactly.
func wrapLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// ActiveDataset reads the dataset for the active resolution fresh from the
// cache; load-completion order never decides what renders. Until the active
// resolution has loaded, the previously rendered dataset is returned.
func (c *Controller) ActiveDataset() (*model.ResolutionDataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ds, ok := c.loader.Cached(c.activeRes); ok {
		c.rendered = ds
		return ds, true
	}
	if c.rendered != nil {
		return c.rendered, true
	}
	return nil, false
}

// LoadErr surfaces the most recent failed load, if its resolution is still
// the active one and has not loaded since.
func (c *Controller) LoadErr() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadErr
}

// triggerLoad starts a fire-and-forget load. There is no cancellation: a
// superseded in-flight load still populates the cache for later use.
func (c *Controller) triggerLoad(res int) {
	go func() {
		ds, err := c.loader.Load(context.Background(), res)

		c.mu.Lock()
		if err != nil {
			if res == c.activeRes {
				c.loadErr = err
			}
		} else if res == c.activeRes {
			c.loadErr = nil
			c.rendered = ds
		}
		c.mu.Unlock()

		if err != nil {
			c.log.Error("dataset load failed", "resolution", res, "err", err)
		}
	}()
}
