package hls

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

// DefaultMaxSegmentSize bounds the body of a single segment.
const DefaultMaxSegmentSize int64 = 256 << 20

// SegmentClient fetches segment bodies, optionally a byte range of them.
type SegmentClient interface {
	Fetch(ctx context.Context, url string, rng httpPkg.Range, limit int64) ([]byte, error)
}

// ManifestClient fetches playlists and reports where each was finally
// served from.
type ManifestClient interface {
	FetchManifest(ctx context.Context, url string, limit int64) ([]byte, *url.URL, error)
}

// Client is the transport used for manifests and segments.
type Client interface {
	SegmentClient
	ManifestClient
}

// Result is the settled outcome of one segment fetch. Err is nil on success.
type Result struct {
	Index    int
	Data     []byte
	Attempts int
	Err      error
}

func (r Result) OK() bool {
	return r.Err == nil
}

type FetcherOption func(*Fetcher)

// WithLimiter shares a request rate limit across all fetches of a job.
func WithLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) {
		f.limiter = l
	}
}

func WithMaxSegmentSize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxSegmentSize = n
		}
	}
}

// WithSleep replaces the wait between attempts, mostly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		f.sleep = sleep
	}
}

// Fetcher downloads single segments with bounded retries.
type Fetcher struct {
	client         SegmentClient
	backoff        Backoff
	limiter        *rate.Limiter
	maxSegmentSize int64
	sleep          func(context.Context, time.Duration) error
}

func NewFetcher(client SegmentClient, backoff Backoff, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:         client,
		backoff:        backoff,
		maxSegmentSize: DefaultMaxSegmentSize,
		sleep:          sleepContext,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch retrieves seg, retrying any failure until the attempt budget is
// spent. It never returns an error directly: a segment that could not be
// retrieved yields a Result carrying a SEGMENT error.
//
// Requests run detached from ctx so an in-flight request always settles;
// ctx only stops rate limiter and retry waits.
func (f *Fetcher) Fetch(ctx context.Context, seg m3u8.Segment) Result {
	state := f.backoff.Start()
	reqCtx := context.WithoutCancel(ctx)
	rng := httpPkg.Range{Offset: seg.Range.Offset, Length: seg.Range.Length}

	for {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return Result{Index: seg.Index, Attempts: state.Attempts(), Err: errors.NewCancelledError(seg.URL)}
			}
		}

		start := time.Now()
		data, err := f.client.Fetch(reqCtx, seg.URL, rng, f.maxSegmentSize)
		metrics.SegmentFetchDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			metrics.SegmentFetchesTotal.WithLabelValues("ok").Inc()
			return Result{Index: seg.Index, Data: data, Attempts: state.Attempts() + 1}
		}

		class := httpPkg.FailureClass(err)
		metrics.SegmentAttemptFailuresTotal.WithLabelValues(class).Inc()

		delay, retry := state.Next()
		if !retry {
			logger.Warnf("Segment %d failed after %d attempts: %s", seg.Index, state.Attempts(), httpPkg.DescribeFailure(err))
			metrics.SegmentFetchesTotal.WithLabelValues("failed").Inc()

			segErr := errors.NewSegmentError(fmt.Errorf("%w: %w", errors.ErrSegmentFailed, err), seg.URL)

			return Result{
				Index:    seg.Index,
				Attempts: state.Attempts(),
				Err: errors.WithDetails(segErr, map[string]any{
					"class":    class,
					"attempts": state.Attempts(),
					"index":    seg.Index,
				}),
			}
		}

		logger.Debugf("Segment %d attempt %d failed (%s): %v, retrying in %v", seg.Index, state.Attempts(), class, err, delay)
		metrics.SegmentRetriesTotal.Inc()

		if err := f.sleep(ctx, delay); err != nil {
			return Result{Index: seg.Index, Attempts: state.Attempts(), Err: errors.NewCancelledError(seg.URL)}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
