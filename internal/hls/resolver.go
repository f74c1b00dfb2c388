package hls

import (
	"context"
	"fmt"
	"net/url"

	"github.com/NamanBalaji/hlsdm/internal/errors"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	httpPkg "github.com/NamanBalaji/hlsdm/pkg/http"
	"github.com/NamanBalaji/hlsdm/pkg/m3u8"
)

const (
	DefaultMaxManifestSize int64 = 16 << 20

	// maxVariantDepth is how many master playlists may be followed before
	// reaching a media playlist.
	maxVariantDepth = 3
)

// Resolution is the media playlist a stream reference resolved to.
type Resolution struct {
	ManifestURL string
	// Variant is nil when the top-level manifest was already a media playlist.
	Variant  *m3u8.Variant
	Segments []m3u8.Segment
}

// Resolver turns a top-level manifest URL into an ordered segment list.
// Manifest requests are never retried.
type Resolver struct {
	client          ManifestClient
	maxManifestSize int64
}

func NewResolver(client ManifestClient) *Resolver {
	return &Resolver{client: client, maxManifestSize: DefaultMaxManifestSize}
}

// Resolve fetches manifestURL, follows the selected variant when it is a
// master playlist and parses the resulting media playlist. maxBandwidth
// is passed to m3u8.SelectVariant. All failures are RESOLUTION errors,
// except a cancelled ctx which yields a CANCELLED error once the request
// in flight has settled.
func (r *Resolver) Resolve(ctx context.Context, manifestURL string, maxBandwidth int64) (*Resolution, error) {
	current, err := parseManifestURL(manifestURL)
	if err != nil {
		return nil, errors.NewResolutionError(err, manifestURL)
	}

	var chosen *m3u8.Variant

	for depth := 0; ; depth++ {
		body, final, err := r.client.FetchManifest(context.WithoutCancel(ctx), current.String(), r.maxManifestSize)
		if ctx.Err() != nil {
			return nil, errors.NewCancelledError(manifestURL)
		}
		if err != nil {
			return nil, errors.NewResolutionError(fmt.Errorf("fetch manifest (%s): %w", httpPkg.FailureClass(err), err), current.String())
		}

		// relative references resolve against the redirect target
		if final != nil {
			current = final
		}

		if !m3u8.IsMasterPlaylist(body) {
			segments, err := m3u8.ParseMedia(body, current)
			if err != nil {
				return nil, errors.NewResolutionError(mediaError(err), current.String())
			}

			logger.Debugf("Resolved %s to %s with %d segments", manifestURL, current, len(segments))

			return &Resolution{ManifestURL: current.String(), Variant: chosen, Segments: segments}, nil
		}

		if depth >= maxVariantDepth {
			return nil, errors.NewResolutionError(errors.ErrVariantDepth, current.String())
		}

		variants, err := m3u8.ParseMaster(body, current)
		if err != nil {
			return nil, errors.NewResolutionError(fmt.Errorf("parse master playlist: %w", err), current.String())
		}

		v, err := m3u8.SelectVariant(variants, maxBandwidth)
		if err != nil {
			return nil, errors.NewResolutionError(err, current.String())
		}

		logger.Debugf("Selected variant bandwidth=%d resolution=%q out of %d", v.Bandwidth, v.Resolution, len(variants))

		next, err := parseManifestURL(v.URL)
		if err != nil {
			return nil, errors.NewResolutionError(err, v.URL)
		}

		chosen = &v
		current = next
	}
}

func parseManifestURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrInvalidURL, err)
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", errors.ErrInvalidURL, raw)
	}

	return u, nil
}

func mediaError(err error) error {
	switch {
	case errors.Is(err, m3u8.ErrNoSegments):
		return fmt.Errorf("%w: %w", errors.ErrNoSegments, err)
	case errors.Is(err, m3u8.ErrEncrypted):
		return fmt.Errorf("%w: %w", errors.ErrEncryptedStream, err)
	default:
		return fmt.Errorf("parse media playlist: %w", err)
	}
}
