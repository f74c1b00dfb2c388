package api_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/hlsdm/internal/api"
	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
	"github.com/NamanBalaji/hlsdm/internal/status"
)

type fakeEngine struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]engine.JobSummary
	submitted []engine.StreamReference
	hints     []engine.QualityHint
	cancelled []uuid.UUID
	events    chan engine.Snapshot
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{jobs: make(map[uuid.UUID]engine.JobSummary)}
}

func (f *fakeEngine) add(s status.Status) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := uuid.New()
	f.jobs[id] = engine.JobSummary{ID: id, StreamID: "ep", Status: s, CreatedAt: time.Now()}
	return id
}

func (f *fakeEngine) Submit(ref engine.StreamReference, hint engine.QualityHint) (uuid.UUID, error) {
	if !strings.HasPrefix(ref.ManifestURL, "http") {
		return uuid.Nil, errors.ErrInvalidURL
	}

	f.mu.Lock()
	f.submitted = append(f.submitted, ref)
	f.hints = append(f.hints, hint)
	f.mu.Unlock()

	return f.add(status.Queued), nil
}

func (f *fakeEngine) GetStatus(id uuid.UUID) (engine.JobSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.jobs[id]
	if !ok {
		return engine.JobSummary{}, errors.ErrJobNotFound
	}
	return s, nil
}

func (f *fakeEngine) List() []engine.JobSummary {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]engine.JobSummary, 0, len(f.jobs))
	for _, s := range f.jobs {
		out = append(out, s)
	}
	return out
}

func (f *fakeEngine) Stats() engine.Stats {
	return engine.Stats{Total: len(f.List()), MaxConcurrent: 2}
}

func (f *fakeEngine) Cancel(id uuid.UUID) error {
	if _, err := f.GetStatus(id); err != nil {
		return err
	}

	f.mu.Lock()
	f.cancelled = append(f.cancelled, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Delete(id uuid.UUID) error {
	s, err := f.GetStatus(id)
	if err != nil {
		return err
	}
	if !s.Status.IsTerminal() {
		return errors.ErrJobNotTerminal
	}

	f.mu.Lock()
	delete(f.jobs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Subscribe(id uuid.UUID) (<-chan engine.Snapshot, func(), error) {
	if _, err := f.GetStatus(id); err != nil {
		return nil, nil, err
	}
	return f.events, func() {}, nil
}

func newTestServer(t *testing.T, eng api.Engine) *httptest.Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	metrics.Register(reg)

	srv := httptest.NewServer(api.NewServer("", eng, reg).Handler())
	t.Cleanup(srv.Close)

	return srv
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestSubmit(t *testing.T) {
	eng := newFakeEngine()
	srv := newTestServer(t, eng)

	resp := do(t, http.MethodPost, srv.URL+"/api/jobs",
		`{"streamId":"show-1","manifestUrl":"https://cdn.example.com/master.m3u8","maxBandwidth":900000}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.NotEqual(t, uuid.Nil, out.ID)

	require.Len(t, eng.submitted, 1)
	assert.Equal(t, "show-1", eng.submitted[0].ID)
	assert.Equal(t, int64(900000), eng.hints[0].MaxBandwidth)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"negative bandwidth", `{"manifestUrl":"https://cdn.example.com/a.m3u8","maxBandwidth":-1}`, http.StatusBadRequest},
		{"invalid url", `{"manifestUrl":"ftp://cdn.example.com/a.m3u8"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, http.MethodPost, srv.URL+"/api/jobs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestJobRoutes(t *testing.T) {
	eng := newFakeEngine()
	running := eng.add(status.Downloading)
	done := eng.add(status.Completed)
	srv := newTestServer(t, eng)

	resp := do(t, http.MethodGet, srv.URL+"/api/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []engine.JobSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)

	resp = do(t, http.MethodGet, srv.URL+"/api/jobs/"+running.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got engine.JobSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, running, got.ID)
	assert.Equal(t, status.Downloading, got.Status)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"get unknown", http.MethodGet, "/api/jobs/" + uuid.NewString(), http.StatusNotFound},
		{"get bad id", http.MethodGet, "/api/jobs/not-a-uuid", http.StatusBadRequest},
		{"cancel running", http.MethodPost, "/api/jobs/" + running.String() + "/cancel", http.StatusAccepted},
		{"cancel unknown", http.MethodPost, "/api/jobs/" + uuid.NewString() + "/cancel", http.StatusNotFound},
		{"delete running", http.MethodDelete, "/api/jobs/" + running.String(), http.StatusConflict},
		{"delete finished", http.MethodDelete, "/api/jobs/" + done.String(), http.StatusNoContent},
		{"delete again", http.MethodDelete, "/api/jobs/" + done.String(), http.StatusNotFound},
		{"stats", http.MethodGet, "/api/stats", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, tt.method, srv.URL+tt.path, "")
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	assert.Equal(t, []uuid.UUID{running}, eng.cancelled)
}

func TestEventsStreamsUntilTerminal(t *testing.T) {
	eng := newFakeEngine()
	id := eng.add(status.Downloading)
	eng.events = make(chan engine.Snapshot, 3)
	eng.events <- engine.Snapshot{JobID: id, Status: status.Downloading, Total: 10, Completed: 4}
	eng.events <- engine.Snapshot{JobID: id, Status: status.Downloading, Total: 10, Completed: 10}
	eng.events <- engine.Snapshot{JobID: id, Status: status.Completed, Total: 10, Completed: 10, ArtifactPath: "/tmp/ep.ts"}
	close(eng.events)

	srv := newTestServer(t, eng)

	resp := do(t, http.MethodGet, srv.URL+"/api/jobs/"+id.String()+"/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))

	var events []string
	var snaps []engine.Snapshot

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var s engine.Snapshot
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &s))
			snaps = append(snaps, s)
		}
	}
	require.NoError(t, scanner.Err())

	assert.Equal(t, []string{"progress", "progress", "done"}, events)
	require.Len(t, snaps, 3)
	assert.Equal(t, status.Completed, snaps[2].Status)
	assert.Equal(t, "/tmp/ep.ts", snaps[2].ArtifactPath)
}

func TestEventsUnknownJob(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	resp := do(t, http.MethodGet, srv.URL+"/api/jobs/"+uuid.NewString()+"/events", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, newFakeEngine())

	do(t, http.MethodGet, srv.URL+"/api/jobs", "")

	resp := do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var b strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteByte('\n')
	}

	assert.Contains(t, b.String(), `hlsdm_http_requests_total{method="GET",route="/api/jobs",status="200"}`)
}
