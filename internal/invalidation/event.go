// Package invalidation defines the dataset-published event emitted by the
// offline preprocessing pipeline when it regenerates the aggregate files.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const OpDatasetPublished = "dataset_published"

// Event announces a republished aggregate dataset. An empty Resolutions list
// means every resolution was regenerated.
type Event struct {
	Version     int       `json:"version"`
	Op          string    `json:"op"`
	TS          time.Time `json:"ts"`
	Resolutions []int     `json:"resolutions,omitempty"`
	Source      string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if strings.TrimSpace(e.Op) != OpDatasetPublished {
		return fmt.Errorf("op must be %s", OpDatasetPublished)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	for _, r := range e.Resolutions {
		if r < 0 || r > 15 {
			return fmt.Errorf("resolution %d out of range 0..15", r)
		}
	}
	return nil
}
