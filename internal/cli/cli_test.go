package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/status"
)

func newCDN(t *testing.T, segments int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/show/index.m3u8", func(w http.ResponseWriter, _ *http.Request) {
		var b strings.Builder
		b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:4\n")
		for i := range segments {
			fmt.Fprintf(&b, "#EXTINF:4.0,\nseg%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		_, _ = w.Write([]byte(b.String()))
	})
	for i := range segments {
		mux.HandleFunc(fmt.Sprintf("/show/seg%d.ts", i), func(w http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprintf(w, "seg%d;", i)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

// writeTestConfig writes a config with fast retries into a temp dir and
// returns its path and the download dir.
func writeTestConfig(t *testing.T) (string, string) {
	t.Helper()

	dir := t.TempDir()
	downloads := filepath.Join(dir, "videos")
	path := filepath.Join(dir, "config.yaml")

	contents := fmt.Sprintf(`download:
  dir: %s
segment:
  batch_size: 2
  max_attempts: 1
  retry_delay: 1ms
  batch_cooldown: 1ms
storage:
  estimated_segment_size: 1
log:
  path: %s
`, downloads, filepath.Join(dir, "hlsdm.log"))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	return path, downloads
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func TestGetCommand(t *testing.T) {
	cdn := newCDN(t, 5)
	cfgPath, downloads := writeTestConfig(t)

	out, err := execute(t, "get", "--config", cfgPath, "--id", "pilot", cdn.URL+"/show/index.m3u8")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Saved ")

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "pilot-"))

	data, err := os.ReadFile(filepath.Join(downloads, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "seg0;seg1;seg2;seg3;seg4;", string(data))
}

func TestGetCommandFailure(t *testing.T) {
	cdn := newCDN(t, 1)
	cfgPath, downloads := writeTestConfig(t)

	_, err := execute(t, "get", "--config", cfgPath, cdn.URL+"/missing/index.m3u8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download failed: could not resolve stream")

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = execute(t, "get", "--config", cfgPath)
	assert.Error(t, err, "manifest URL is required")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hlsdm", "config.yaml")

	out, err := execute(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)
	require.FileExists(t, path)

	_, err = execute(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "config", "init", "--config", path, "--force")
	assert.NoError(t, err)

	out, err = execute(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "batch_size: 8")
	assert.Contains(t, out, "min_success_ratio: 0.85")
}

func TestRenderProgress(t *testing.T) {
	line := renderProgress(engine.Snapshot{Status: status.Downloading, Total: 10, Completed: 4, Failed: 1, Bytes: 3 << 20})

	assert.Contains(t, line, "downloading")
	assert.Contains(t, line, "[===============               ]")
	assert.Contains(t, line, "50.0%")
	assert.Contains(t, line, "4/10 segments, 1 failed, 3.00 MB")

	assert.Contains(t, renderProgress(engine.Snapshot{Status: status.Queued}), "0.0%")
}

func TestStreamIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://cdn.example.com/show/episode-4.m3u8", "episode-4"},
		{"https://cdn.example.com/show/master.m3u8?token=abc", "master"},
		{"https://cdn.example.com/", "stream"},
		{"https://cdn.example.com", "stream"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, streamIDFromURL(tt.url))
		})
	}
}
