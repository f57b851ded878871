// Package dataset loads precomputed per-resolution aggregate files and
// memoizes the parsed result for the lifetime of the process.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hexmapr/density-engine/internal/observability"
)

// DefaultPathTemplate matches the files the offline pipeline writes, with the
// resolution embedded in the name.
const DefaultPathTemplate = "h3_scale_%d.json"

// Source fetches the raw aggregate payload for one resolution.
type Source interface {
	Fetch(ctx context.Context, resolution int) ([]byte, error)
}

// HTTPSource fetches aggregate files from a base URL.
type HTTPSource struct {
	base     *url.URL
	template string
	client   *http.Client
}

func NewHTTPSource(baseURL, pathTemplate string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse data base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("data base url %q must be absolute", baseURL)
	}
	if pathTemplate == "" {
		pathTemplate = DefaultPathTemplate
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{base: u, template: pathTemplate, client: client}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, resolution int) ([]byte, error) {
	u := *s.base
	u.Path = joinPath(u.Path, fmt.Sprintf(s.template, resolution))

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	observability.ObserveDatasetFetch("http", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.String(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", u.String(), resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", u.String(), err)
	}
	return body, nil
}

func joinPath(base, rel string) string {
	base = strings.TrimSuffix(base, "/")
	rel = strings.TrimPrefix(rel, "/")
	return base + "/" + rel
}

// FileSource reads aggregate files from a local directory, the layout the
// preprocessing step produces.
type FileSource struct {
	dir      string
	template string
}

func NewFileSource(dir, pathTemplate string) (*FileSource, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("data directory is required")
	}
	if pathTemplate == "" {
		pathTemplate = DefaultPathTemplate
	}
	return &FileSource{dir: dir, template: pathTemplate}, nil
}

func (s *FileSource) Fetch(_ context.Context, resolution int) ([]byte, error) {
	p := filepath.Join(s.dir, fmt.Sprintf(s.template, resolution))
	start := time.Now()
	body, err := os.ReadFile(p)
	observability.ObserveDatasetFetch("file", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p, err)
	}
	return body, nil
}
