package engine

import (
	"cmp"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/hls"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
	"github.com/NamanBalaji/hlsdm/internal/repository"
	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/internal/storage"
	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
)

// ErrEngineNotRunning is returned by operations on an engine that was shut down.
var ErrEngineNotRunning = errors.New("engine is not running")

const (
	reasonArtifactMissing = "artifact missing"
	reasonCancelled       = "cancelled"
)

// Store persists job records. A nil Store keeps jobs in memory only.
type Store interface {
	Save(rec *repository.Record) error
	FindAll() ([]*repository.Record, error)
	Delete(id uuid.UUID) error
	Close() error
}

// Resolver turns a manifest URL into the segment list of one variant.
type Resolver interface {
	Resolve(ctx context.Context, manifestURL string, maxBandwidth int64) (*hls.Resolution, error)
}

type Option func(*Engine)

func WithStore(store Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithClient replaces the HTTP client used for manifests and segments.
func WithClient(client hls.Client) Option {
	return func(e *Engine) {
		e.client = client
	}
}

func WithResolver(r Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// Engine is the job supervisor: it owns the job table, runs queued jobs
// under a global concurrency cap and reports their progress.
type Engine struct {
	mu sync.RWMutex

	jobs     map[uuid.UUID]*job
	config   *Config
	store    Store
	client   hls.Client
	resolver Resolver
	guard    *storage.Guard

	queueProcessor  *QueueProcessor
	progressMonitor *ProgressMonitor

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	started bool
	stopped bool
}

// runTask runs a function in a goroutine tracked by the WaitGroup
func (e *Engine) runTask(task func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

// New creates a new Engine instance
func New(config *Config, opts ...Option) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if config.DownloadDir == "" {
		return nil, fmt.Errorf("download directory not set")
	}

	if err := os.MkdirAll(config.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	ctx, cancelFunc := context.WithCancel(context.Background())

	e := &Engine{
		jobs:            make(map[uuid.UUID]*job),
		config:          config,
		guard:           storage.NewGuard(config.EstimatedSegmentSize, config.MaxArtifactSize),
		progressMonitor: NewProgressMonitor(),
		ctx:             ctx,
		cancelFunc:      cancelFunc,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.client == nil {
		e.client = httpPkg.NewClient(
			httpPkg.WithRequestTimeout(config.RequestTimeout),
			httpPkg.WithUserAgent(config.UserAgent),
		)
	}

	if e.resolver == nil {
		e.resolver = hls.NewResolver(e.client)
	}

	e.queueProcessor = NewQueueProcessor(config.MaxConcurrentJobs, e.runJob, e.runTask)

	return e, nil
}

// Start restores persisted jobs and begins processing the queue.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.restoreJobs(); err != nil {
		logger.Errorf("Some jobs could not be restored: %v", err)
	}

	e.queueProcessor.Start(e.ctx)
	e.updateGauges()

	logger.Infof("Engine started: download dir %s, max %d concurrent jobs", e.config.DownloadDir, e.config.MaxConcurrentJobs)

	return nil
}

// restoreJobs loads persisted records. Finished jobs are listed as they were;
// unfinished ones are queued again from the start.
func (e *Engine) restoreJobs() error {
	if e.store == nil {
		return nil
	}

	records, err := e.store.FindAll()
	if err != nil {
		return fmt.Errorf("failed to retrieve jobs: %w", err)
	}

	slices.SortFunc(records, func(a, b *repository.Record) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	var lastErr error
	var requeue []uuid.UUID

	e.mu.Lock()
	for _, rec := range records {
		j := jobFromRecord(rec)

		switch {
		case j.status.HasArtifact():
			if _, err := os.Stat(j.artifactPath); err != nil {
				logger.Warnf("Artifact of job %s is missing: %s", j.id, j.artifactPath)
				j.status = status.Failed
				j.reason = reasonArtifactMissing
				j.artifactPath = ""
				if err := e.saveLocked(j); err != nil {
					lastErr = err
				}
			}
		case j.status.IsTerminal():
		default:
			e.removePartial(j.id)
			j.resetLocked()
			if err := e.saveLocked(j); err != nil {
				lastErr = err
			}
			requeue = append(requeue, j.id)
		}

		e.jobs[j.id] = j
	}
	e.mu.Unlock()

	for _, id := range requeue {
		e.queueProcessor.Enqueue(id)
	}

	logger.Infof("Restored %d job(s), %d queued again", len(records), len(requeue))

	return lastErr
}

// Submit creates a job for ref and queues it.
func (e *Engine) Submit(ref StreamReference, hint QualityHint) (uuid.UUID, error) {
	u, err := url.Parse(ref.ManifestURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return uuid.Nil, fmt.Errorf("%w: %q", errors.ErrInvalidURL, ref.ManifestURL)
	}

	j := newJob(ref, hint)

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return uuid.Nil, ErrEngineNotRunning
	}
	e.jobs[j.id] = j
	e.mu.Unlock()

	j.mu.Lock()
	if err := e.saveLocked(j); err != nil {
		logger.Warnf("Failed to save job %s: %v", j.id, err)
	}
	j.mu.Unlock()

	e.queueProcessor.Enqueue(j.id)

	metrics.JobsSubmittedTotal.Inc()
	e.updateGauges()

	logger.Infof("Submitted job %s for stream %q (%s)", j.id, ref.ID, ref.ManifestURL)

	return j.id, nil
}

func (e *Engine) getJob(id uuid.UUID) (*job, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	j, ok := e.jobs[id]
	if !ok {
		return nil, errors.ErrJobNotFound
	}

	return j, nil
}

// GetStatus returns the summary of one job.
func (e *Engine) GetStatus(id uuid.UUID) (JobSummary, error) {
	j, err := e.getJob(id)
	if err != nil {
		return JobSummary{}, err
	}

	return j.summary(), nil
}

// List returns all jobs, oldest first.
func (e *Engine) List() []JobSummary {
	e.mu.RLock()
	jobs := make([]*job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.RUnlock()

	summaries := make([]JobSummary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, j.summary())
	}

	slices.SortFunc(summaries, func(a, b JobSummary) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return summaries
}

// Stats returns counts per state and the total bytes written.
func (e *Engine) Stats() Stats {
	stats := Stats{MaxConcurrent: e.config.MaxConcurrentJobs}

	for _, s := range e.List() {
		stats.Total++
		stats.TotalBytes += s.Bytes

		switch {
		case s.Status == status.Queued:
			stats.Queued++
		case s.Status.IsActive():
			stats.Active++
		case s.Status == status.Completed:
			stats.Completed++
		case s.Status == status.PartiallyCompleted:
			stats.PartiallyCompleted++
		case s.Status == status.Failed:
			stats.Failed++
		case s.Status == status.Cancelled:
			stats.Cancelled++
		}
	}

	return stats
}

// Subscribe returns a channel of snapshots for a job, starting with its
// current state. The channel is closed after the terminal snapshot. For a
// job that already finished the terminal snapshot is the only value.
func (e *Engine) Subscribe(id uuid.UUID) (<-chan Snapshot, func(), error) {
	j, err := e.getJob(id)
	if err != nil {
		return nil, nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	snap := j.snapshotLocked()
	if snap.Status.IsTerminal() {
		ch := make(chan Snapshot, 1)
		ch <- snap
		close(ch)
		return ch, func() {}, nil
	}

	ch, unsubscribe := e.progressMonitor.RegisterListener(id, snap)

	return ch, unsubscribe, nil
}

// Cancel stops a job. A queued job is cancelled at once; a running job stops
// dispatching segments and its partial artifact is deleted when the
// requests in flight have settled. Cancelling a finished job does nothing.
func (e *Engine) Cancel(id uuid.UUID) error {
	j, err := e.getJob(id)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status.IsTerminal() || j.userCancelled {
		return nil
	}

	j.userCancelled = true

	if j.status == status.Queued {
		e.queueProcessor.Remove(id)
		e.finishLocked(j, status.Cancelled, reasonCancelled)
		logger.Infof("Cancelled queued job %s", id)
		return nil
	}

	if j.cancel != nil {
		j.cancel()
	}

	logger.Infof("Cancelling job %s (%s)", id, j.status)

	return nil
}

// Delete removes a finished job together with its artifact.
func (e *Engine) Delete(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[id]
	if !ok {
		return errors.ErrJobNotFound
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.status.IsTerminal() {
		return errors.ErrJobNotTerminal
	}

	if j.artifactPath != "" {
		if err := os.Remove(j.artifactPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove artifact: %w", err)
		}
	}
	e.removePartial(id)

	if e.store != nil {
		if err := e.store.Delete(id); err != nil && !errors.Is(err, repository.ErrJobNotFound) {
			return fmt.Errorf("failed to delete job from repository: %w", err)
		}
	}

	delete(e.jobs, id)

	logger.Infof("Deleted job %s", id)

	return nil
}

// runJob drives one job from Resolving to a terminal state. It is called by
// the queue processor once the job holds a slot.
func (e *Engine) runJob(ctx context.Context, id uuid.UUID) {
	j, err := e.getJob(id)
	if err != nil {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	j.mu.Lock()
	if j.status != status.Queued {
		j.mu.Unlock()
		return
	}
	j.cancel = cancel
	e.transitionLocked(j, status.Resolving)
	j.mu.Unlock()

	e.updateGauges()
	defer e.updateGauges()

	res, err := e.resolver.Resolve(jobCtx, j.ref.ManifestURL, j.hint.MaxBandwidth)
	if err != nil {
		e.fail(j, nil, err)
		return
	}

	if jobCtx.Err() != nil {
		e.fail(j, nil, errors.NewCancelledError(j.ref.ManifestURL))
		return
	}

	if err := e.guard.Check(len(res.Segments), e.config.DownloadDir); err != nil {
		e.fail(j, nil, err)
		return
	}

	j.mu.Lock()
	j.resolvedLocked(res)
	e.transitionLocked(j, status.Downloading)
	j.mu.Unlock()

	asm := hls.NewAssembler(e.config.DownloadDir, partName(id), artifactName(j.ref.ID, id), e.config.WriteChunkSize, e.guard)

	var fetchOpts []hls.FetcherOption
	if e.config.RequestsPerSecond > 0 {
		burst := max(1, e.config.BatchSize)
		fetchOpts = append(fetchOpts, hls.WithLimiter(rate.NewLimiter(rate.Limit(e.config.RequestsPerSecond), burst)))
	}

	fetcher := hls.NewFetcher(e.client, e.config.Backoff, fetchOpts...)
	scheduler := hls.NewScheduler(fetcher, e.config.BatchSize, e.config.BatchCooldown)

	out, err := scheduler.Run(jobCtx, res.Segments, func(r hls.BatchReport) error {
		if _, err := asm.Append(r.Results); err != nil {
			return err
		}

		j.mu.Lock()
		j.recordBatchLocked(r)
		e.progressMonitor.Broadcast(j.snapshotLocked())
		j.mu.Unlock()

		logger.Debugf("Job %s batch %d: %d/%d segments, %d failed, %d bytes",
			id, r.Batch, r.Completed, len(res.Segments), r.Failed, r.Bytes)

		return nil
	})
	if err != nil {
		e.fail(j, asm, err)
		return
	}

	if jobCtx.Err() != nil {
		e.fail(j, asm, errors.NewCancelledError(j.ref.ManifestURL))
		return
	}

	j.mu.Lock()
	e.transitionLocked(j, status.Assembling)
	j.mu.Unlock()

	final, err := e.config.Policy.Evaluate(out.Completed, out.Total)
	if err != nil {
		e.fail(j, asm, err)
		return
	}

	path, err := asm.Finalize()
	if err != nil {
		e.fail(j, asm, err)
		return
	}

	j.mu.Lock()
	j.artifactPath = path
	e.finishLocked(j, final, "")
	j.mu.Unlock()

	logger.Infof("Job %s %s: %d/%d segments, %d bytes at %s", id, final, out.Completed, out.Total, out.Bytes, path)
}

// fail ends a job that stopped with err. Cancellations end as Cancelled when
// the user asked for them; otherwise the engine is shutting down and the job
// goes back to Queued so it restarts on the next run.
func (e *Engine) fail(j *job, asm *hls.Assembler, err error) {
	if asm != nil {
		if derr := asm.Discard(); derr != nil {
			logger.Warnf("Failed to remove partial artifact of job %s: %v", j.id, derr)
		}
	} else {
		e.removePartial(j.id)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if errors.IsCancelled(err) || e.ctx.Err() != nil {
		if j.userCancelled {
			logger.Infof("Job %s cancelled with %d segment(s) pending", j.id, j.pendingSegmentsLocked())
			e.finishLocked(j, status.Cancelled, reasonCancelled)
			return
		}

		logger.Infof("Job %s interrupted by shutdown, queued for the next start", j.id)
		j.resetLocked()
		if serr := e.saveLocked(j); serr != nil {
			logger.Warnf("Failed to save job %s: %v", j.id, serr)
		}
		return
	}

	logger.Errorf("Job %s failed: %v", j.id, err)
	e.finishLocked(j, status.Failed, errors.Reason(err))
}

// transitionLocked moves j to a non-terminal state and reports it.
func (e *Engine) transitionLocked(j *job, s status.Status) {
	j.status = s

	if err := e.saveLocked(j); err != nil {
		logger.Warnf("Failed to save job %s: %v", j.id, err)
	}

	e.progressMonitor.Broadcast(j.snapshotLocked())
}

// finishLocked moves j to a terminal state, persists it and sends the
// terminal snapshot to its listeners.
func (e *Engine) finishLocked(j *job, s status.Status, reason string) {
	j.status = s
	j.reason = reason
	j.finishedAt = time.Now()
	j.cancel = nil

	if !s.HasArtifact() {
		j.artifactPath = ""
	}

	if err := e.saveLocked(j); err != nil {
		logger.Warnf("Failed to save job %s: %v", j.id, err)
	}

	metrics.JobsFinishedTotal.WithLabelValues(s.String()).Inc()
	e.progressMonitor.Broadcast(j.snapshotLocked())
}

// saveLocked persists a job; callers hold j.mu.
func (e *Engine) saveLocked(j *job) error {
	if e.store == nil {
		return nil
	}

	return e.store.Save(j.recordLocked())
}

func (e *Engine) removePartial(id uuid.UUID) {
	path := filepath.Join(e.config.DownloadDir, partName(id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Failed to remove %s: %v", path, err)
	}
}

func (e *Engine) updateGauges() {
	active, queued := e.queueProcessor.Counts()
	metrics.ActiveJobs.Set(float64(active))
	metrics.QueuedJobs.Set(float64(queued))
}

// Shutdown stops dispatching jobs, interrupts running ones and waits for
// them to persist themselves as Queued, then closes listeners and the store.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	logger.Infof("Starting engine shutdown...")

	e.queueProcessor.Stop()
	e.cancelFunc()

	waitChan := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(waitChan)
	}()

	var err error
	select {
	case <-waitChan:
		logger.Infof("All jobs stopped gracefully")
	case <-ctx.Done():
		logger.Warnf("Shutdown timed out, some jobs may not have stopped")
		err = ctx.Err()
	}

	e.progressMonitor.Stop()

	if e.store != nil {
		logger.Infof("Closing repository...")
		if cerr := e.store.Close(); cerr != nil {
			logger.Errorf("Error closing repository: %v", cerr)
			err = errors.Join(err, cerr)
		}
	}

	logger.Infof("Engine shutdown complete")

	return err
}
