// Package overlay validates and holds a user-supplied vector dataset that is
// rendered as an independent layer, never merged into the aggregate cache.
package overlay

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ValidationError rejects an upload before it reaches the render layer.
// Existing map state is unaffected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid overlay: " + e.Reason
}

// Overlay is an accepted upload, treated as opaque render input. ID is
// derived from the content so layers and HTTP caching can tell uploads apart.
type Overlay struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Document json.RawMessage `json:"document"`
}

var allowedExts = map[string]bool{
	".json":    true,
	".geojson": true,
}

var allowedMIMEs = map[string]bool{
	"application/json":     true,
	"application/geo+json": true,
	"text/json":            true,
}

// Parse gates the file by extension or MIME type, parses the content as a
// geometry document and requires the top-level type to be a Feature or
// FeatureCollection. Bare geometries (e.g. a raw Polygon) are rejected.
func Parse(name, mimeType string, content []byte) (*Overlay, error) {
	if !recognizedType(name, mimeType) {
		return nil, &ValidationError{Reason: fmt.Sprintf("unrecognized file type %q", name)}
	}

	var hdr struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(content, &hdr); err != nil {
		return nil, &ValidationError{Reason: "not valid JSON: " + err.Error()}
	}
	switch hdr.Type {
	case "Feature", "FeatureCollection":
	default:
		return nil, &ValidationError{Reason: fmt.Sprintf("top-level type %q must be Feature or FeatureCollection", hdr.Type)}
	}

	return &Overlay{
		ID:       fmt.Sprintf("%016x", xxhash.Sum64(content)),
		Name:     name,
		Type:     hdr.Type,
		Document: json.RawMessage(content),
	}, nil
}

func recognizedType(name, mimeType string) bool {
	if allowedExts[strings.ToLower(path.Ext(name))] {
		return true
	}
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return allowedMIMEs[mt]
}

// Store holds at most one current overlay.
type Store struct {
	mu  sync.RWMutex
	cur *Overlay
}

func NewStore() *Store { return &Store{} }

func (s *Store) Set(o *Overlay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = o
}

func (s *Store) Get() (*Overlay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur, s.cur != nil
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
}
