package hls

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

const (
	DefaultBatchSize     = 8
	DefaultBatchCooldown = 5 * time.Second
)

type SegmentFetcher interface {
	Fetch(ctx context.Context, seg m3u8.Segment) Result
}

// BatchReport describes one settled batch. Results are sorted by segment
// index; the counters are cumulative over the job.
type BatchReport struct {
	Batch      int
	Results    []Result
	Dispatched int
	Completed  int
	Failed     int
	Bytes      int64
}

// Outcome is the tally after the last batch.
type Outcome struct {
	Total     int
	Completed int
	Failed    int
	Bytes     int64
}

type SchedulerOption func(*Scheduler)

func WithBatchSleep(sleep func(context.Context, time.Duration) error) SchedulerOption {
	return func(s *Scheduler) {
		s.sleep = sleep
	}
}

// Scheduler fetches segments in consecutive batches. Fetches inside a batch
// run in parallel; a batch starts only after the previous one settled.
type Scheduler struct {
	fetcher   SegmentFetcher
	batchSize int
	cooldown  time.Duration
	sleep     func(context.Context, time.Duration) error
}

func NewScheduler(fetcher SegmentFetcher, batchSize int, cooldown time.Duration, opts ...SchedulerOption) *Scheduler {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	s := &Scheduler{
		fetcher:   fetcher,
		batchSize: batchSize,
		cooldown:  cooldown,
		sleep:     sleepContext,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run drives all batches and calls onBatch after each one settles, in batch
// order. Cancelling ctx stops dispatch before the next batch; results of the
// batch in flight are discarded and a CANCELLED error is returned. An error
// from onBatch aborts the run and is returned as is.
func (s *Scheduler) Run(ctx context.Context, segments []m3u8.Segment, onBatch func(BatchReport) error) (Outcome, error) {
	out := Outcome{Total: len(segments)}
	dispatched := 0

	for batch, start := 0, 0; start < len(segments); batch, start = batch+1, start+s.batchSize {
		if ctx.Err() != nil {
			return out, errors.NewCancelledError("")
		}

		end := min(start+s.batchSize, len(segments))
		results := s.fetchBatch(ctx, segments[start:end])
		dispatched += len(results)

		if ctx.Err() != nil {
			logger.Debugf("Discarding batch %d after cancellation", batch)
			return out, errors.NewCancelledError("")
		}

		ok := 0
		for _, r := range results {
			if r.OK() {
				ok++
				out.Bytes += int64(len(r.Data))
			} else {
				out.Failed++
			}
		}
		out.Completed += ok

		if out.Completed+out.Failed != dispatched {
			return out, fmt.Errorf("batch %d: %d completed + %d failed != %d dispatched", batch, out.Completed, out.Failed, dispatched)
		}

		if onBatch != nil {
			err := onBatch(BatchReport{
				Batch:      batch,
				Results:    results,
				Dispatched: dispatched,
				Completed:  out.Completed,
				Failed:     out.Failed,
				Bytes:      out.Bytes,
			})
			if err != nil {
				return out, err
			}
		}

		if ok == 0 && end < len(segments) && s.cooldown > 0 {
			logger.Warnf("Batch %d yielded no segments, cooling down for %v", batch, s.cooldown)
			metrics.BatchCooldownsTotal.Inc()

			if err := s.sleep(ctx, s.cooldown); err != nil {
				return out, errors.NewCancelledError("")
			}
		}
	}

	return out, nil
}

func (s *Scheduler) fetchBatch(ctx context.Context, batch []m3u8.Segment) []Result {
	results := make([]Result, len(batch))

	var g errgroup.Group
	g.SetLimit(s.batchSize)

	for i, seg := range batch {
		g.Go(func() error {
			results[i] = s.fetcher.Fetch(ctx, seg)
			return nil
		})
	}

	_ = g.Wait()

	slices.SortFunc(results, func(a, b Result) int {
		return a.Index - b.Index
	})

	return results
}
