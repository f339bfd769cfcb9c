package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/gazaledger/internal/cache"
)

// Client wraps http.Client and provides timeouts and bounded retry with
// exponential backoff on transient errors.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each page and probe request.
	PerRequestTimeout time.Duration
	// DownloadTimeout bounds each document download. Zero falls back to
	// PerRequestTimeout.
	DownloadTimeout time.Duration
	// RetryInterval is the initial backoff interval. Zero means 200ms.
	RetryInterval time.Duration
	// Optional on-disk cache for HTTP GET bodies and headers. Downloads
	// never go through the cache.
	Cache *cache.HTTPCache

	// RedirectMaxHops caps redirect following to avoid loops. Zero means default (5).
	RedirectMaxHops int
}

// Response is the part of an HTTP response the pipeline stages consume.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// Accept decides whether a declared content type is acceptable for url.
// A nil Accept allows everything.
type Accept func(contentType string, url string) bool

// AcceptPrefixes accepts content types starting with any of the prefixes.
func AcceptPrefixes(prefixes ...string) Accept {
	return func(ct string, _ string) bool {
		ct = strings.ToLower(strings.TrimSpace(ct))
		for _, p := range prefixes {
			if strings.HasPrefix(ct, p) {
				return true
			}
		}
		return false
	}
}

// AcceptHTML allows text/html variants and application/xhtml+xml.
var AcceptHTML = AcceptPrefixes("text/html", "application/xhtml+xml")

// AcceptJSON allows application/json and JSON-suffixed vendor types.
var AcceptJSON Accept = func(ct string, _ string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	if e.Code >= 500 {
		return fmt.Sprintf("server error: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// ContentTypeError is returned when the declared content type is rejected.
type ContentTypeError struct {
	URL         string
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("unsupported content type: %q", e.ContentType)
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// Clone to attach our redirect policy without mutating caller's client
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: c.checkRedirectFunc()}
}

// Get issues a GET with context, user-agent, conditional cache headers and
// bounded retry for transient errors.
func (c *Client) Get(ctx context.Context, rawURL string, accept Accept) (*Response, error) {
	var etag, lastMod string
	if c.Cache != nil {
		if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	var out *Response
	err := c.retry(ctx, func() error {
		resp, newEtag, newLastMod, err := c.tryOnce(ctx, http.MethodGet, rawURL, etag, lastMod, c.PerRequestTimeout, accept)
		if err != nil {
			return err
		}
		if c.Cache != nil {
			switch resp.Status {
			case http.StatusOK:
				if err := c.Cache.Save(ctx, rawURL, resp.ContentType, newEtag, newLastMod, resp.Body); err != nil {
					log.Debug().Err(err).Str("url", rawURL).Msg("cache save failed")
				}
			case http.StatusNotModified:
				cached, err := c.Cache.LoadBody(ctx, rawURL)
				if err != nil {
					return backoff.Permanent(fmt.Errorf("load cached body: %w", err))
				}
				if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && resp.ContentType == "" {
					resp.ContentType = meta.ContentType
				}
				resp.Body = cached
			}
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Download fetches a document body, bypassing the cache, with the download
// timeout applied to each attempt.
func (c *Client) Download(ctx context.Context, rawURL string, accept Accept) (*Response, error) {
	timeout := c.DownloadTimeout
	if timeout <= 0 {
		timeout = c.PerRequestTimeout
	}
	var out *Response
	err := c.retry(ctx, func() error {
		resp, _, _, err := c.tryOnce(ctx, http.MethodGet, rawURL, "", "", timeout, accept)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Head probes rawURL without reading a body. Non-2xx statuses are returned
// as *StatusError.
func (c *Client) Head(ctx context.Context, rawURL string) (*Response, error) {
	var out *Response
	err := c.retry(ctx, func() error {
		resp, _, _, err := c.tryOnce(ctx, http.MethodHead, rawURL, "", "", c.PerRequestTimeout, nil)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) retry(ctx context.Context, op func() error) error {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	interval := c.RetryInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *Client) tryOnce(ctx context.Context, method string, rawURL string, etag string, lastMod string, timeout time.Duration, accept Accept) (*Response, string, string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, "", "", fmt.Errorf("new request: %w", err)
	}
	// Reject non-HTTP(S) schemes early
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return nil, "", "", fmt.Errorf("unsupported URL scheme: %q", rawURL)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return nil, "", "", err
	}
	defer resp.Body.Close()

	out := &Response{URL: rawURL, Status: resp.StatusCode, ContentType: resp.Header.Get("Content-Type")}
	if resp.StatusCode == http.StatusNotModified && method == http.MethodGet && etag+lastMod != "" {
		// 304: no body expected; caller serves the cached copy
		return out, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, "", "", &StatusError{URL: rawURL, Code: resp.StatusCode}
	}
	if accept != nil && !accept(out.ContentType, rawURL) {
		return nil, "", "", &ContentTypeError{URL: rawURL, ContentType: out.ContentType}
	}
	if method == http.MethodHead {
		return out, "", "", nil
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", "", fmt.Errorf("read body: %w", err)
	}
	out.Body = b
	return out, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

// isTransient treats HTTP 5xx, 429, deadlines and network timeouts as
// retryable.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		// Only allow http/https during redirects
		if req.URL == nil || !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}
