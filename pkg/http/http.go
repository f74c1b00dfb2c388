package http

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/NamanBalaji/hlsdm/internal/logger"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	// DefaultRequestTimeout bounds one manifest or segment request, body included.
	DefaultRequestTimeout = 60 * time.Second

	DefaultUserAgent = "hlsdm/1.0"
)

type Client struct {
	*http.Client

	requestTimeout time.Duration
	userAgent      string
}

type ClientOption func(*Client)

// WithRequestTimeout bounds each request including reading its body.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a new HTTP client with custom transport settings.
func NewClient(opts ...ClientOption) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	c := &Client{
		Client:         &http.Client{Transport: transport},
		requestTimeout: DefaultRequestTimeout,
		userAgent:      DefaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Range describes an inclusive byte range. A zero Length means the whole resource.
type Range struct {
	Offset int64
	Length int64
}

func (r Range) header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Offset, r.Offset+r.Length-1)
}

// Fetch downloads urlStr and returns at most limit bytes of its body. A
// response larger than limit is an error. Non-2xx statuses are classified
// with ClassifyHTTPError.
func (c *Client) Fetch(ctx context.Context, urlStr string, rng Range, limit int64) ([]byte, error) {
	data, _, err := c.get(ctx, urlStr, rng, limit)
	return data, err
}

// FetchManifest is Fetch for a whole document that also returns the URL it
// was served from after redirects, which relative references resolve against.
func (c *Client) FetchManifest(ctx context.Context, urlStr string, limit int64) ([]byte, *url.URL, error) {
	return c.get(ctx, urlStr, Range{}, limit)
}

func (c *Client) get(ctx context.Context, urlStr string, rng Range, limit int64) ([]byte, *url.URL, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, http.NoBody)
	if err != nil {
		logger.Errorf("Failed to create GET request for %s: %v", urlStr, err)
		return nil, nil, ErrRequestCreation
	}

	req.Header.Set("User-Agent", c.userAgent)
	if rng.Length > 0 {
		req.Header.Set("Range", rng.header())
	}

	logger.Debugf("Sending GET request to %s", urlStr)

	resp, err := c.Do(req)
	if err != nil {
		logger.Debugf("GET request failed for %s: %v", urlStr, err)
		return nil, nil, ClassifyError(err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warnf("Failed to close response body: %v", err)
		}
	}()

	final := resp.Request.URL
	if final.String() != urlStr {
		logger.Debugf("GET %s redirected to %s", urlStr, final)
	}

	logger.Debugf("GET response for %s: status=%d", final, resp.StatusCode)

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, nil, ClassifyHTTPError(resp.StatusCode)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, nil, fmt.Errorf("%w: status %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if rng.Length > 0 && resp.StatusCode != http.StatusPartialContent {
		return nil, nil, ErrRangesNotSupported
	}

	var body io.Reader = resp.Body
	if limit > 0 {
		body = io.LimitReader(resp.Body, limit+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, nil, ClassifyError(err)
	}

	if limit > 0 && int64(len(data)) > limit {
		return nil, nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit)
	}

	return data, final, nil
}
