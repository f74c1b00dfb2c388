// Package m3u8 parses the subset of HLS playlists needed to download a
// stream: variant (master) playlists and media playlists.
package m3u8

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	tagStreamInf = "#EXT-X-STREAM-INF:"
	tagInf       = "#EXTINF:"
	tagByteRange = "#EXT-X-BYTERANGE:"
	tagKey       = "#EXT-X-KEY:"
)

var (
	ErrNoVariants      = errors.New("no variants in master playlist")
	ErrNoSegments      = errors.New("no segments in media playlist")
	ErrEncrypted       = errors.New("playlist segments are encrypted")
	ErrInvalidTag      = errors.New("invalid playlist tag")
	ErrInvalidURI      = errors.New("invalid URI in playlist")
	ErrDanglingVariant = errors.New("variant tag without URI")
)

// Variant is one rendition declared in a master playlist.
type Variant struct {
	Bandwidth  int64  `json:"bandwidth"`
	Resolution string `json:"resolution,omitempty"`
	Codecs     string `json:"codecs,omitempty"`
	URL        string `json:"url"`
}

// ByteRange selects part of a segment resource. Length 0 means the whole resource.
type ByteRange struct {
	Offset int64 `json:"offset"`
	Length int64 `json:"length"`
}

// Segment is one media segment. Index is its zero-based position in the
// playlist and defines the order of the assembled output.
type Segment struct {
	Index    int       `json:"index"`
	URL      string    `json:"url"`
	Duration float64   `json:"duration"`
	Range    ByteRange `json:"range,omitzero"`
}

// IsMasterPlaylist reports whether body declares variant streams.
func IsMasterPlaylist(body []byte) bool {
	return bytes.Contains(body, []byte(tagStreamInf))
}

// ParseMaster returns the variants of a master playlist in declaration
// order. Variant URIs are resolved against base.
func ParseMaster(body []byte, base *url.URL) ([]Variant, error) {
	var (
		variants []Variant
		pending  *Variant
	)

	err := eachLine(body, func(line string) error {
		switch {
		case strings.HasPrefix(line, tagStreamInf):
			if pending != nil {
				return ErrDanglingVariant
			}

			attrs := parseAttributes(line[len(tagStreamInf):])
			bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: BANDWIDTH %q", ErrInvalidTag, attrs["BANDWIDTH"])
			}

			pending = &Variant{
				Bandwidth:  bw,
				Resolution: attrs["RESOLUTION"],
				Codecs:     attrs["CODECS"],
			}
		case strings.HasPrefix(line, "#"):
		default:
			if pending == nil {
				return nil
			}

			u, err := resolve(base, line)
			if err != nil {
				return err
			}

			pending.URL = u
			variants = append(variants, *pending)
			pending = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if pending != nil {
		return nil, ErrDanglingVariant
	}

	if len(variants) == 0 {
		return nil, ErrNoVariants
	}

	return variants, nil
}

// ParseMedia returns the segments of a media playlist in declaration order.
// Every non-tag line is a segment carrying the most recent #EXTINF duration.
func ParseMedia(body []byte, base *url.URL) ([]Segment, error) {
	var (
		segments []Segment
		duration float64
		rng      *ByteRange
		lastURI  string
		lastEnd  int64
	)

	err := eachLine(body, func(line string) error {
		switch {
		case strings.HasPrefix(line, tagInf):
			value, _, _ := strings.Cut(line[len(tagInf):], ",")
			d, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvalidTag, line)
			}
			duration = d
		case strings.HasPrefix(line, tagByteRange):
			r, hasOffset, err := parseByteRange(line[len(tagByteRange):])
			if err != nil {
				return err
			}
			if !hasOffset {
				r.Offset = -1
			}
			rng = &r
		case strings.HasPrefix(line, tagKey):
			method := parseAttributes(line[len(tagKey):])["METHOD"]
			if method != "" && method != "NONE" {
				return fmt.Errorf("%w: METHOD=%s", ErrEncrypted, method)
			}
		case strings.HasPrefix(line, "#"):
		default:
			u, err := resolve(base, line)
			if err != nil {
				return err
			}

			seg := Segment{Index: len(segments), URL: u, Duration: duration}
			if rng != nil {
				seg.Range = *rng
				if seg.Range.Offset < 0 {
					seg.Range.Offset = 0
					if u == lastURI {
						seg.Range.Offset = lastEnd
					}
				}
				lastURI = u
				lastEnd = seg.Range.Offset + seg.Range.Length
				rng = nil
			}

			segments = append(segments, seg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	return segments, nil
}

// SelectVariant picks the variant with the greatest bandwidth, the first
// declared one on ties. A positive maxBandwidth restricts the choice to
// variants at or below it; when none qualifies the lowest one is returned.
func SelectVariant(variants []Variant, maxBandwidth int64) (Variant, error) {
	if len(variants) == 0 {
		return Variant{}, ErrNoVariants
	}

	best, lowest := -1, 0
	for i, v := range variants {
		if v.Bandwidth < variants[lowest].Bandwidth {
			lowest = i
		}
		if maxBandwidth > 0 && v.Bandwidth > maxBandwidth {
			continue
		}
		if best < 0 || v.Bandwidth > variants[best].Bandwidth {
			best = i
		}
	}

	if best < 0 {
		return variants[lowest], nil
	}

	return variants[best], nil
}

func eachLine(body []byte, fn func(line string) error) error {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidURI, ref)
	}

	if base != nil {
		u = base.ResolveReference(u)
	}

	return u.String(), nil
}

func parseByteRange(value string) (ByteRange, bool, error) {
	lengthStr, offsetStr, hasOffset := strings.Cut(strings.TrimSpace(value), "@")

	length, err := strconv.ParseInt(lengthStr, 10, 64)
	if err != nil || length <= 0 {
		return ByteRange{}, false, fmt.Errorf("%w: BYTERANGE %q", ErrInvalidTag, value)
	}

	r := ByteRange{Length: length}
	if hasOffset {
		r.Offset, err = strconv.ParseInt(offsetStr, 10, 64)
		if err != nil || r.Offset < 0 {
			return ByteRange{}, false, fmt.Errorf("%w: BYTERANGE %q", ErrInvalidTag, value)
		}
	}

	return r, hasOffset, nil
}

// parseAttributes splits an attribute list such as
// BANDWIDTH=800000,CODECS="avc1.4d401f,mp4a.40.2" into a map.
// Quoted values keep their commas and lose their quotes.
func parseAttributes(list string) map[string]string {
	attrs := make(map[string]string)

	var (
		key, val strings.Builder
		inKey    = true
		inQuote  bool
	)

	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			attrs[strings.ToUpper(k)] = strings.TrimSpace(val.String())
		}
		key.Reset()
		val.Reset()
		inKey = true
	}

	for _, r := range list {
		switch {
		case inKey && r == '=':
			inKey = false
		case inKey && r == ',':
			flush()
		case inKey:
			key.WriteRune(r)
		case r == '"':
			inQuote = !inQuote
		case r == ',' && !inQuote:
			flush()
		default:
			val.WriteRune(r)
		}
	}
	flush()

	return attrs
}
