package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hexmapr/density-engine/internal/core/model"
	"github.com/hexmapr/density-engine/internal/geometry"
	"github.com/hexmapr/density-engine/internal/observability"
)

// LoadError reports a failed load for one resolution. A failed load never
// populates the cache, so the next resolution-change event retries it.
type LoadError struct {
	Resolution int
	Err        error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load resolution %d: %v", e.Resolution, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// PayloadCache is an optional byte-level cache in front of the source, shared
// across processes. Misses and errors both fall through to the source.
type PayloadCache interface {
	Get(ctx context.Context, resolution int) ([]byte, bool)
	Put(ctx context.Context, resolution int, body []byte)
}

// Loader owns the permanent per-resolution dataset cache. Datasets are parsed
// once, never mutated, and never evicted; the resolution set is small and
// fixed. Concurrent loads for the same uncached resolution are collapsed into
// a single fetch.
type Loader struct {
	log      *slog.Logger
	source   Source
	payloads PayloadCache

	mu    sync.RWMutex
	cache map[int]*model.ResolutionDataset

	sf singleflight.Group
}

type Option func(*Loader)

// WithPayloadCache installs a shared raw-payload cache in front of the source.
func WithPayloadCache(pc PayloadCache) Option {
	return func(l *Loader) { l.payloads = pc }
}

func NewLoader(log *slog.Logger, source Source, opts ...Option) *Loader {
	if log == nil {
		log = slog.Default()
	}
	l := &Loader{
		log:    log,
		source: source,
		cache:  make(map[int]*model.ResolutionDataset),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Cached returns the dataset for a resolution if it has already been loaded.
func (l *Loader) Cached(resolution int) (*model.ResolutionDataset, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ds, ok := l.cache[resolution]
	return ds, ok
}

// Load returns the dataset for a resolution, fetching and parsing it on first
// use. Subsequent calls return the cached snapshot without re-fetching.
func (l *Loader) Load(ctx context.Context, resolution int) (*model.ResolutionDataset, error) {
	if ds, ok := l.Cached(resolution); ok {
		observability.IncDatasetCacheHit()
		return ds, nil
	}
	observability.IncDatasetCacheMiss()

	v, err, _ := l.sf.Do(strconv.Itoa(resolution), func() (any, error) {
		// another flight may have finished while we queued
		if ds, ok := l.Cached(resolution); ok {
			return ds, nil
		}
		return l.load(ctx, resolution)
	})
	if err != nil {
		observability.IncDatasetLoad("error")
		return nil, err
	}
	observability.IncDatasetLoad("success")
	return v.(*model.ResolutionDataset), nil
}

// Reset empties the cache. Used when the offline pipeline republishes the
// aggregate files; the next load per resolution picks up the new data.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[int]*model.ResolutionDataset)
}

func (l *Loader) load(ctx context.Context, resolution int) (*model.ResolutionDataset, error) {
	body, fromPayloadCache := l.payloadGet(ctx, resolution)
	if body == nil {
		var err error
		body, err = l.source.Fetch(ctx, resolution)
		if err != nil {
			return nil, &LoadError{Resolution: resolution, Err: err}
		}
	}

	ds, skipped, err := l.parse(resolution, body)
	if err != nil {
		return nil, &LoadError{Resolution: resolution, Err: err}
	}
	if skipped > 0 {
		observability.AddRecordsSkipped(skipped)
	}

	if !fromPayloadCache {
		l.payloadPut(ctx, resolution, body)
	}

	l.mu.Lock()
	l.cache[resolution] = ds
	l.mu.Unlock()

	l.log.Info("dataset loaded",
		"resolution", resolution,
		"features", len(ds.Features),
		"skipped", skipped)
	return ds, nil
}

func (l *Loader) payloadGet(ctx context.Context, resolution int) ([]byte, bool) {
	if l.payloads == nil {
		return nil, false
	}
	if body, ok := l.payloads.Get(ctx, resolution); ok {
		return body, true
	}
	return nil, false
}

func (l *Loader) payloadPut(ctx context.Context, resolution int, body []byte) {
	if l.payloads == nil {
		return
	}
	l.payloads.Put(ctx, resolution, body)
}

// cellToken accepts both JSON number and JSON string cell identifiers; the
// DuckDB export writes BIGINT cells.
type cellToken string

func (c *cellToken) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = cellToken(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = cellToken(n.String())
	return nil
}

type rawRecord struct {
	Cell     cellToken `json:"cell"`
	WKT      string    `json:"wkt"`
	Count    int64     `json:"count"`
	AGSCount *int64    `json:"AGS_count"`
}

func (l *Loader) parse(resolution int, body []byte) (*model.ResolutionDataset, int, error) {
	var raws []rawRecord
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, 0, fmt.Errorf("parse payload: %w", err)
	}

	feats := make([]model.Feature, 0, len(raws))
	skipped := 0
	for i, r := range raws {
		rec := model.AggregateRecord{
			CellID: string(r.Cell),
			WKT:    r.WKT,
			Count:  r.Count,
		}
		if r.AGSCount != nil {
			rec.AGSCount = *r.AGSCount
		}
		ring, err := geometry.BuildRing(rec)
		if err != nil {
			// partial datasets render; a bad record is dropped, not fatal
			skipped++
			l.log.Warn("dropping record with unparseable geometry",
				"resolution", resolution,
				"index", i,
				"cell", rec.CellID,
				"err", err)
			continue
		}
		feats = append(feats, model.Feature{AggregateRecord: rec, Ring: ring})
	}

	return &model.ResolutionDataset{
		Resolution: resolution,
		Checksum:   xxhash.Sum64(body),
		Features:   feats,
	}, skipped, nil
}
