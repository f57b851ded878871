// Package server exposes the engine over HTTP: viewport state, metric and
// layer controls, the composed scene, overlay uploads and the hover tooltip.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/overlay"
	"github.com/hexmapr/density-engine/internal/scene"
	"github.com/hexmapr/density-engine/internal/viewport"
)

// uploads above this size are rejected outright
const maxOverlayBytes = 32 << 20

type App struct {
	log        *slog.Logger
	controller *viewport.Controller
	composer   *scene.Composer
	overlays   *overlay.Store
	hover      *scene.Hover

	mu     sync.RWMutex
	metric model.Metric
}

func NewApp(log *slog.Logger, controller *viewport.Controller, composer *scene.Composer) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{
		log:        log,
		controller: controller,
		composer:   composer,
		overlays:   overlay.NewStore(),
		hover:      scene.NewHover(),
		metric:     model.MetricCount,
	}
}

func (a *App) Metric() model.Metric {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.metric
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type viewportResponse struct {
	Viewport   model.ViewportState `json:"viewport"`
	Resolution int                 `json:"resolution"`
}

func (a *App) handleGetViewport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewportResponse{
		Viewport:   a.controller.State(),
		Resolution: a.controller.ActiveResolution(),
	})
}

func (a *App) handleSetViewport(w http.ResponseWriter, r *http.Request) {
	var next model.ViewportState
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		http.Error(w, "invalid viewport: "+err.Error(), http.StatusBadRequest)
		return
	}
	if next.Latitude < -90 || next.Latitude > 90 {
		http.Error(w, "latitude must be in [-90,90]", http.StatusBadRequest)
		return
	}
	// longitudes wrap at the antimeridian; the controller normalizes them
	a.controller.OnViewportChange(next)
	writeJSON(w, http.StatusOK, viewportResponse{
		Viewport:   a.controller.State(),
		Resolution: a.controller.ActiveResolution(),
	})
}

func (a *App) handleSetPanel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WidthPx float64 `json:"widthPx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid panel width: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.WidthPx < 0 {
		http.Error(w, "panel width must be >= 0", http.StatusBadRequest)
		return
	}
	a.controller.SetPanelWidth(req.WidthPx)
	writeJSON(w, http.StatusOK, viewportResponse{
		Viewport:   a.controller.State(),
		Resolution: a.controller.ActiveResolution(),
	})
}

func (a *App) handleGetMetric(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]model.Metric{"metric": a.Metric()})
}

func (a *App) handleSetMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Metric string `json:"metric"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	m, err := model.ParseMetric(req.Metric)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	a.metric = m
	a.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]model.Metric{"metric": m})
}

func (a *App) handleGetLayers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.composer.Toggles())
}

func (a *App) handleSetLayers(w http.ResponseWriter, r *http.Request) {
	var t scene.Toggles
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		http.Error(w, "invalid toggles: "+err.Error(), http.StatusBadRequest)
		return
	}
	a.composer.SetToggles(t)
	writeJSON(w, http.StatusOK, t)
}

func (a *App) handleGetScene(w http.ResponseWriter, _ *http.Request) {
	ds, _ := a.controller.ActiveDataset()
	ov, _ := a.overlays.Get()

	s, err := a.composer.Compose(a.controller.State(), ds, a.Metric(), ov, a.controller.LoadErr())
	if err != nil {
		a.log.Error("scene compose failed", "err", err)
		http.Error(w, "scene compose failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// handleUploadOverlay accepts either a multipart form with a "file" part or a
// raw body with an X-Filename header. A rejected upload leaves any current
// overlay in place.
func (a *App) handleUploadOverlay(w http.ResponseWriter, r *http.Request) {
	name, mimeType, content, err := readUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ov, err := overlay.Parse(name, mimeType, content)
	if err != nil {
		var verr *overlay.ValidationError
		if errors.As(err, &verr) {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "overlay upload failed", http.StatusInternalServerError)
		return
	}

	a.overlays.Set(ov)
	a.log.Info("overlay accepted", "id", ov.ID, "name", ov.Name, "type", ov.Type)
	writeJSON(w, http.StatusCreated, map[string]string{
		"id":   ov.ID,
		"name": ov.Name,
		"type": ov.Type,
	})
}

func (a *App) handleDeleteOverlay(w http.ResponseWriter, _ *http.Request) {
	a.overlays.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func readUpload(r *http.Request) (name, mimeType string, content []byte, err error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxOverlayBytes)

	ct := r.Header.Get("Content-Type")
	if len(ct) >= 9 && ct[:9] == "multipart" {
		var file multipart.File
		var hdr *multipart.FileHeader
		if err = r.ParseMultipartForm(maxOverlayBytes); err != nil {
			return "", "", nil, errors.New("invalid multipart form: " + err.Error())
		}
		file, hdr, err = r.FormFile("file")
		if err != nil {
			return "", "", nil, errors.New("missing form file \"file\"")
		}
		defer func() { _ = file.Close() }()
		content, err = io.ReadAll(file)
		if err != nil {
			return "", "", nil, errors.New("read upload: " + err.Error())
		}
		return hdr.Filename, hdr.Header.Get("Content-Type"), content, nil
	}

	content, err = io.ReadAll(r.Body)
	if err != nil {
		return "", "", nil, errors.New("read upload: " + err.Error())
	}
	return r.Header.Get("X-Filename"), ct, content, nil
}

type hoverRequest struct {
	Layer string `json:"layer"`
	Cell  string `json:"cell,omitempty"`
	Index int    `json:"index,omitempty"`
}

// handleHover replaces the tooltip with the newly hovered feature. Hovering a
// feature that cannot be resolved clears the tooltip instead of keeping a
// stale one.
func (a *App) handleHover(w http.ResponseWriter, r *http.Request) {
	var req hoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid hover: "+err.Error(), http.StatusBadRequest)
		return
	}

	var (
		payload scene.TooltipPayload
		ok      bool
	)
	switch req.Layer {
	case "hexagons":
		ds, _ := a.controller.ActiveDataset()
		payload, ok = scene.TooltipForAggregate(ds, req.Cell)
	case "overlay":
		ov, _ := a.overlays.Get()
		payload, ok = scene.TooltipForOverlay(ov, req.Index)
	default:
		http.Error(w, "layer must be \"hexagons\" or \"overlay\"", http.StatusBadRequest)
		return
	}

	if !ok {
		a.hover.Clear()
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.hover.Set(payload)
	writeJSON(w, http.StatusOK, payload)
}

func (a *App) handleClearHover(w http.ResponseWriter, _ *http.Request) {
	a.hover.Clear()
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleGetTooltip(w http.ResponseWriter, _ *http.Request) {
	payload, ok := a.hover.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
