package hls

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/status"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

// scriptedFetcher returns "seg<i>;" for every index not in fail, after a
// random delay so fetches within a batch settle out of order.
type scriptedFetcher struct {
	fail map[int]bool

	mu       sync.Mutex
	inFlight int
	peak     int
	calls    atomic.Int32
}

func (f *scriptedFetcher) Fetch(_ context.Context, seg m3u8.Segment) Result {
	f.calls.Add(1)

	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()

	time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.fail[seg.Index] {
		return Result{Index: seg.Index, Attempts: 3, Err: errors.NewSegmentError(errors.ErrSegmentFailed, seg.URL)}
	}

	return Result{Index: seg.Index, Data: fmt.Appendf(nil, "seg%d;", seg.Index), Attempts: 1}
}

func makeSegments(n int) []m3u8.Segment {
	segs := make([]m3u8.Segment, n)
	for i := range segs {
		segs[i] = m3u8.Segment{Index: i, URL: fmt.Sprintf("https://cdn/seg%d.ts", i), Duration: 6}
	}
	return segs
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestSchedulerBatchesAndCounts(t *testing.T) {
	f := &scriptedFetcher{fail: map[int]bool{1: true, 8: true}}
	s := NewScheduler(f, 3, 0)

	var reports []BatchReport
	out, err := s.Run(context.Background(), makeSegments(10), func(r BatchReport) error {
		reports = append(reports, r)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, reports, 4)
	for i, r := range reports {
		assert.Equal(t, i, r.Batch)
		assert.Equal(t, r.Dispatched, r.Completed+r.Failed, "batch %d", i)

		for j := 1; j < len(r.Results); j++ {
			assert.Less(t, r.Results[j-1].Index, r.Results[j].Index)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, indices(reports[0].Results))
	assert.Equal(t, []int{9}, indices(reports[3].Results))

	assert.Equal(t, Outcome{Total: 10, Completed: 8, Failed: 2, Bytes: reports[3].Bytes}, out)
	assert.Equal(t, out.Total, out.Completed+out.Failed)
	assert.LessOrEqual(t, f.peak, 3)
}

func TestSchedulerCooldownAfterEmptyBatch(t *testing.T) {
	f := &scriptedFetcher{fail: map[int]bool{0: true, 1: true, 4: true, 5: true}}
	rec := &sleepRecorder{}

	s := NewScheduler(f, 2, 5*time.Second, WithBatchSleep(rec.sleep))
	out, err := s.Run(context.Background(), makeSegments(6), nil)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Completed)
	// The last batch fails too but nothing follows it.
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.recorded())
}

func TestSchedulerStopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := &scriptedFetcher{}

	s := NewScheduler(f, 2, 0)
	batches := 0
	_, err := s.Run(ctx, makeSegments(10), func(BatchReport) error {
		batches++
		cancel()
		return nil
	})

	assert.True(t, errors.IsCancelled(err))
	assert.Equal(t, 1, batches)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestSchedulerPropagatesBatchError(t *testing.T) {
	s := NewScheduler(&scriptedFetcher{}, 4, 0)
	boom := errors.NewAssemblyError(errors.New("disk full"), "x")

	_, err := s.Run(context.Background(), makeSegments(8), func(BatchReport) error { return boom })
	assert.ErrorIs(t, err, boom)
}

// runDownload drives the scheduler, assembler and policy the way a job does.
func runDownload(t *testing.T, dir string, fail map[int]bool) (status.Status, string, error) {
	t.Helper()

	a := NewAssembler(dir, "job.part", "video.ts", 4, nil)
	s := NewScheduler(&scriptedFetcher{fail: fail}, 4, time.Second, WithBatchSleep(noSleep))

	out, err := s.Run(context.Background(), makeSegments(10), func(r BatchReport) error {
		_, err := a.Append(r.Results)
		return err
	})
	require.NoError(t, err)

	st, err := DefaultSuccessPolicy().Evaluate(out.Completed, out.Total)
	if err != nil {
		require.NoError(t, a.Discard())
		return st, "", err
	}

	path, err := a.Finalize()
	require.NoError(t, err)

	return st, path, nil
}

func TestDownloadBelowMinimumRatioLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()

	st, path, err := runDownload(t, dir, map[int]bool{3: true, 7: true})
	assert.Equal(t, status.Failed, st)
	assert.Empty(t, path)
	assert.Equal(t, errors.CategoryIncomplete, errors.CategoryOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDownloadPartialKeepsOrderedSegments(t *testing.T) {
	dir := t.TempDir()

	st, path, err := runDownload(t, dir, map[int]bool{7: true})
	require.NoError(t, err)
	assert.Equal(t, status.PartiallyCompleted, st)
	assert.Equal(t, filepath.Join(dir, "video.ts"), path)

	var want strings.Builder
	for i := range 10 {
		if i != 7 {
			fmt.Fprintf(&want, "seg%d;", i)
		}
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))
}

func TestDownloadAllSegmentsCompletes(t *testing.T) {
	st, path, err := runDownload(t, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)
	assert.FileExists(t, path)
}

func indices(results []Result) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Index
	}
	return out
}
