package hls

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

const mediaPlaylist = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
#EXTINF:4.5,
seg2.ts
#EXT-X-ENDLIST
`

func newPlaylistServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func TestResolveSelectsHighestBandwidth(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{
		"/show/master.m3u8": `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720
high/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=854x480
mid/index.m3u8
`,
		"/show/high/index.m3u8": mediaPlaylist,
	})

	r := NewResolver(httpPkg.NewClient())

	res, err := r.Resolve(context.Background(), srv.URL+"/show/master.m3u8", 0)
	require.NoError(t, err)
	require.NotNil(t, res.Variant)

	assert.Equal(t, int64(1200000), res.Variant.Bandwidth)
	assert.Equal(t, "1280x720", res.Variant.Resolution)
	assert.Equal(t, srv.URL+"/show/high/index.m3u8", res.ManifestURL)
	require.Len(t, res.Segments, 3)
	assert.Equal(t, srv.URL+"/show/high/seg0.ts", res.Segments[0].URL)
	assert.Equal(t, 4.5, res.Segments[2].Duration)
}

func TestResolveMediaPlaylistPassesThrough(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{"/v/index.m3u8": mediaPlaylist})

	res, err := NewResolver(httpPkg.NewClient()).Resolve(context.Background(), srv.URL+"/v/index.m3u8", 0)
	require.NoError(t, err)

	assert.Nil(t, res.Variant)
	assert.Equal(t, srv.URL+"/v/index.m3u8", res.ManifestURL)

	base, err := parseManifestURL(srv.URL + "/v/index.m3u8")
	require.NoError(t, err)
	want, err := m3u8.ParseMedia([]byte(mediaPlaylist), base)
	require.NoError(t, err)
	assert.Equal(t, want, res.Segments)
}

func TestResolveFollowsNestedVariantsUpToLimit(t *testing.T) {
	nested := func(next string) string {
		return "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\n" + next + "\n"
	}

	srv := newPlaylistServer(t, map[string]string{
		"/a.m3u8":     nested("b.m3u8"),
		"/b.m3u8":     nested("c.m3u8"),
		"/c.m3u8":     nested("media.m3u8"),
		"/d.m3u8":     nested("a.m3u8"),
		"/media.m3u8": mediaPlaylist,
	})
	r := NewResolver(httpPkg.NewClient())

	res, err := r.Resolve(context.Background(), srv.URL+"/a.m3u8", 0)
	require.NoError(t, err)
	assert.Len(t, res.Segments, 3)

	_, err = r.Resolve(context.Background(), srv.URL+"/d.m3u8", 0)
	assert.ErrorIs(t, err, errors.ErrVariantDepth)
	assert.Equal(t, errors.CategoryResolution, errors.CategoryOf(err))
}

func TestResolveErrors(t *testing.T) {
	srv := newPlaylistServer(t, map[string]string{
		"/empty.m3u8":     "#EXTM3U\n#EXT-X-ENDLIST\n",
		"/encrypted.m3u8": "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"k\"\n#EXTINF:4,\na.ts\n",
		"/broken.m3u8":    "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1\n",
	})
	r := NewResolver(httpPkg.NewClient())

	tests := []struct {
		name string
		url  string
		want error
	}{
		{"not found", srv.URL + "/missing.m3u8", httpPkg.ErrResourceNotFound},
		{"no segments", srv.URL + "/empty.m3u8", errors.ErrNoSegments},
		{"encrypted", srv.URL + "/encrypted.m3u8", errors.ErrEncryptedStream},
		{"dangling variant", srv.URL + "/broken.m3u8", m3u8.ErrDanglingVariant},
		{"bad scheme", "ftp://example.com/a.m3u8", errors.ErrInvalidURL},
		{"relative", "/only/path.m3u8", errors.ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.url, 0)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, errors.CategoryResolution, errors.CategoryOf(err))
			assert.True(t, strings.HasPrefix(errors.Reason(err), "could not resolve stream"))
		})
	}
}

func TestResolveDoesNotRetryManifests(t *testing.T) {
	client := newFakeClient(func(string, int) ([]byte, error) {
		return nil, httpPkg.ErrServerProblem
	})

	_, err := NewResolver(client).Resolve(context.Background(), "https://cdn.example.com/master.m3u8", 0)
	assert.ErrorIs(t, err, httpPkg.ErrServerProblem)
	assert.Equal(t, 1, client.callCount("https://cdn.example.com/master.m3u8"))
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	client := newFakeClient(func(string, int) ([]byte, error) {
		cancel()
		return []byte(mediaPlaylist), nil
	})

	_, err := NewResolver(client).Resolve(ctx, "https://cdn.example.com/index.m3u8", 0)
	assert.True(t, errors.IsCancelled(err))
}

func TestResolveUsesRedirectedManifestLocation(t *testing.T) {
	files := map[string]string{
		"/cdn/show/master.m3u8": `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000
high/index.m3u8
`,
		"/edge/v1/index.m3u8": mediaPlaylist,
	}
	redirects := map[string]string{
		"/watch/show.m3u8":          "/cdn/show/master.m3u8",
		"/cdn/show/high/index.m3u8": "/edge/v1/index.m3u8",
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if to, ok := redirects[r.URL.Path]; ok {
			http.Redirect(w, r, to, http.StatusFound)
			return
		}
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)

	res, err := NewResolver(httpPkg.NewClient()).Resolve(context.Background(), srv.URL+"/watch/show.m3u8", 0)
	require.NoError(t, err)
	require.NotNil(t, res.Variant)

	assert.Equal(t, srv.URL+"/cdn/show/high/index.m3u8", res.Variant.URL)
	assert.Equal(t, srv.URL+"/edge/v1/index.m3u8", res.ManifestURL)
	require.Len(t, res.Segments, 3)
	assert.Equal(t, srv.URL+"/edge/v1/seg0.ts", res.Segments[0].URL)
	assert.Equal(t, srv.URL+"/edge/v1/seg2.ts", res.Segments[2].URL)
}
