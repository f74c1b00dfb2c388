package hls

import (
	"context"
	"net/url"
	"sync"
	"time"

	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
)

// fakeClient answers Fetch calls with respond, passing the 1-based call
// number for that URL.
type fakeClient struct {
	mu      sync.Mutex
	calls   map[string]int
	ranges  map[string]httpPkg.Range
	respond func(url string, call int) ([]byte, error)
}

func newFakeClient(respond func(url string, call int) ([]byte, error)) *fakeClient {
	return &fakeClient{
		calls:   make(map[string]int),
		ranges:  make(map[string]httpPkg.Range),
		respond: respond,
	}
}

func (c *fakeClient) Fetch(_ context.Context, url string, rng httpPkg.Range, _ int64) ([]byte, error) {
	c.mu.Lock()
	c.calls[url]++
	call := c.calls[url]
	c.ranges[url] = rng
	c.mu.Unlock()

	return c.respond(url, call)
}

func (c *fakeClient) FetchManifest(ctx context.Context, rawURL string, limit int64) ([]byte, *url.URL, error) {
	body, err := c.Fetch(ctx, rawURL, httpPkg.Range{}, limit)
	if err != nil {
		return nil, nil, err
	}

	u, err := url.Parse(rawURL)
	return body, u, err
}

func (c *fakeClient) callCount(url string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[url]
}

// sleepRecorder replaces real waits and records the requested durations.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
