package engine

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NamanBalaji/hlsdm/internal/hls"
	"github.com/NamanBalaji/hlsdm/internal/repository"
	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

type segmentState uint8

const (
	segmentPending segmentState = iota
	segmentFetched
	segmentFailed
)

type segmentOutcome struct {
	state segmentState
	bytes int64
}

// job is owned by the engine's job table; callers only see snapshots.
type job struct {
	mu sync.RWMutex

	id        uuid.UUID
	ref       StreamReference
	hint      QualityHint
	createdAt time.Time

	status       status.Status
	reason       string
	variant      *m3u8.Variant
	segments     []m3u8.Segment
	outcomes     []segmentOutcome
	artifactPath string
	completed    int
	failed       int
	bytes        int64
	finishedAt   time.Time

	cancel        context.CancelFunc
	userCancelled bool
}

func newJob(ref StreamReference, hint QualityHint) *job {
	return &job{
		id:        uuid.New(),
		ref:       ref,
		hint:      hint,
		createdAt: time.Now(),
		status:    status.Queued,
	}
}

func jobFromRecord(rec *repository.Record) *job {
	return &job{
		id:           rec.ID,
		ref:          StreamReference{ID: rec.StreamID, ManifestURL: rec.ManifestURL},
		hint:         QualityHint{MaxBandwidth: rec.MaxBandwidth},
		createdAt:    rec.CreatedAt,
		status:       rec.Status,
		reason:       rec.Reason,
		variant:      rec.Variant,
		artifactPath: rec.ArtifactPath,
		completed:    rec.Completed,
		failed:       rec.Failed,
		bytes:        rec.Bytes,
		finishedAt:   rec.FinishedAt,
	}
}

// resetLocked returns the job to Queued with no progress.
func (j *job) resetLocked() {
	j.status = status.Queued
	j.reason = ""
	j.variant = nil
	j.segments = nil
	j.outcomes = nil
	j.artifactPath = ""
	j.completed = 0
	j.failed = 0
	j.bytes = 0
	j.finishedAt = time.Time{}
	j.cancel = nil
}

func (j *job) resolvedLocked(res *hls.Resolution) {
	j.variant = res.Variant
	j.segments = res.Segments
	j.outcomes = make([]segmentOutcome, len(res.Segments))
}

// recordBatchLocked marks the outcome of every segment of a settled batch.
func (j *job) recordBatchLocked(r hls.BatchReport) {
	for _, res := range r.Results {
		if res.Index < 0 || res.Index >= len(j.outcomes) {
			continue
		}

		if res.OK() {
			j.outcomes[res.Index] = segmentOutcome{state: segmentFetched, bytes: int64(len(res.Data))}
		} else {
			j.outcomes[res.Index] = segmentOutcome{state: segmentFailed}
		}
	}

	j.completed = r.Completed
	j.failed = r.Failed
	j.bytes = r.Bytes
}

// pendingSegmentsLocked counts segments not yet settled.
func (j *job) pendingSegmentsLocked() int {
	n := 0
	for _, o := range j.outcomes {
		if o.state == segmentPending {
			n++
		}
	}
	return n
}

func (j *job) totalLocked() int {
	if j.segments != nil {
		return len(j.segments)
	}
	return j.completed + j.failed
}

func (j *job) snapshotLocked() Snapshot {
	return Snapshot{
		JobID:        j.id,
		Total:        j.totalLocked(),
		Completed:    j.completed,
		Failed:       j.failed,
		Bytes:        j.bytes,
		Status:       j.status,
		Reason:       j.reason,
		ArtifactPath: j.artifactPath,
	}
}

func (j *job) summary() JobSummary {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return JobSummary{
		ID:           j.id,
		StreamID:     j.ref.ID,
		ManifestURL:  j.ref.ManifestURL,
		Status:       j.status,
		Reason:       j.reason,
		Variant:      j.variant,
		ArtifactPath: j.artifactPath,
		Total:        j.totalLocked(),
		Completed:    j.completed,
		Failed:       j.failed,
		Bytes:        j.bytes,
		CreatedAt:    j.createdAt,
		FinishedAt:   j.finishedAt,
	}
}

func (j *job) recordLocked() *repository.Record {
	return &repository.Record{
		ID:           j.id,
		StreamID:     j.ref.ID,
		ManifestURL:  j.ref.ManifestURL,
		MaxBandwidth: j.hint.MaxBandwidth,
		Status:       j.status,
		Reason:       j.reason,
		Variant:      j.variant,
		ArtifactPath: j.artifactPath,
		Total:        j.totalLocked(),
		Completed:    j.completed,
		Failed:       j.failed,
		Bytes:        j.bytes,
		CreatedAt:    j.createdAt,
		FinishedAt:   j.finishedAt,
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// partName is the file a running job appends segments to.
func partName(id uuid.UUID) string {
	return id.String() + ".part"
}

// artifactName is <stream-id>-<first 8 chars of the job id>.ts.
func artifactName(streamID string, id uuid.UUID) string {
	name := unsafeName.ReplaceAllString(streamID, "_")
	if name == "" || name == "." || name == ".." {
		name = "stream"
	}
	return fmt.Sprintf("%s-%s.ts", name, id.String()[:8])
}
