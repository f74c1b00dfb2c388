package engine

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/hlsdm/internal/hls"
	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/internal/storage"
	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

// StreamReference identifies the stream to download: an opaque ID chosen by
// the caller and the URL of its top-level manifest.
type StreamReference struct {
	ID          string `json:"id"`
	ManifestURL string `json:"manifestUrl"`
}

// QualityHint narrows variant selection. The zero value picks the highest
// bandwidth.
type QualityHint struct {
	MaxBandwidth int64 `json:"maxBandwidth,omitempty"`
}

// Snapshot is the progress of a job at one point in time.
type Snapshot struct {
	JobID        uuid.UUID     `json:"jobId"`
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Bytes        int64         `json:"bytes"`
	Status       status.Status `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	ArtifactPath string        `json:"artifactPath,omitempty"`
}

// JobSummary describes a job for listings.
type JobSummary struct {
	ID           uuid.UUID     `json:"id"`
	StreamID     string        `json:"streamId"`
	ManifestURL  string        `json:"manifestUrl"`
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

// Stats aggregates the job table.
type Stats struct {
	Total              int   `json:"total"`
	Queued             int   `json:"queued"`
	Active             int   `json:"active"`
	Completed          int   `json:"completed"`
	PartiallyCompleted int   `json:"partiallyCompleted"`
	Failed             int   `json:"failed"`
	Cancelled          int   `json:"cancelled"`
	MaxConcurrent      int   `json:"maxConcurrent"`
	TotalBytes         int64 `json:"totalBytes"`
}

// Config contains engine configuration
type Config struct {
	DownloadDir       string
	MaxConcurrentJobs int

	BatchSize         int
	BatchCooldown     time.Duration
	Backoff           hls.Backoff
	RequestsPerSecond float64
	RequestTimeout    time.Duration
	UserAgent         string

	EstimatedSegmentSize int64
	MaxArtifactSize      int64
	WriteChunkSize       int

	Policy hls.SuccessPolicy
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return &Config{
		DownloadDir:          filepath.Join(homeDir, "Downloads", "hlsdm"),
		MaxConcurrentJobs:    2,
		BatchSize:            hls.DefaultBatchSize,
		BatchCooldown:        hls.DefaultBatchCooldown,
		Backoff:              hls.DefaultBackoff(),
		RequestTimeout:       httpPkg.DefaultRequestTimeout,
		UserAgent:            httpPkg.DefaultUserAgent,
		EstimatedSegmentSize: storage.DefaultEstimatedSegmentSize,
		MaxArtifactSize:      storage.DefaultMaxArtifactSize,
		WriteChunkSize:       hls.DefaultWriteChunkSize,
		Policy:               hls.DefaultSuccessPolicy(),
	}
}
