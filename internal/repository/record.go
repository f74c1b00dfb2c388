package repository

import (
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

// Record is the persisted form of a download job. Segment data and the
// per-segment outcome table are not stored: an interrupted job restarts
// from its manifest.
type Record struct {
	ID           uuid.UUID     `json:"id"`
	StreamID     string        `json:"streamId"`
	ManifestURL  string        `json:"manifestUrl"`
	MaxBandwidth int64         `json:"maxBandwidth,omitempty"`
	Status       status.Status `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	Variant      *m3u8.Variant `json:"variant,omitempty"`
	ArtifactPath string        `json:"artifactPath,omitempty"`
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Bytes        int64         `json:"bytes"`
	CreatedAt    time.Time     `json:"createdAt"`
	FinishedAt   time.Time     `json:"finishedAt,omitzero"`
}
