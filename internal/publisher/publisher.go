// Package publisher announces finished datasets to downstream consumers.
package publisher

import (
	"context"
	"time"
)

// EventDatasetReady is the event attribute of DatasetReady messages.
const EventDatasetReady = "dataset.ready"

// DatasetReady is published once a run has committed its tables.
type DatasetReady struct {
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	FinishedAt time.Time `json:"finished_at"`
	Canceled   bool      `json:"canceled"`
	Files      []string  `json:"files"`
	Reviews    int       `json:"reviews"`
	Criteria   int       `json:"criteria"`
	Schools    int       `json:"schools"`
	Failures   int       `json:"failures"`

	// Checksums maps table base names to their digest.
	Checksums map[string]string `json:"checksums,omitempty"`
}

// Publisher delivers a DatasetReady event and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, event DatasetReady) (string, error)
}
