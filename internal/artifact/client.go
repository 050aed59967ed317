// Package artifact is the client for the remote background-removal and
// stylization service. It layers three behaviors over plain HTTP: a
// fingerprinted response cache with time-based staleness, in-flight request
// deduplication, and bounded retry with capped exponential backoff and
// per-attempt timeouts.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds a single attempt, not the whole call.
	DefaultTimeout = 30 * time.Second

	defaultMaxAttempts = 2
	baseBackoff        = 1 * time.Second
	maxBackoff         = 5 * time.Second

	// cacheTTL is how long a cached response is served before being treated
	// as a miss. Stale entries are overwritten by the next fetch, never
	// purged eagerly.
	cacheTTL = 5 * time.Minute
)

// HTTPError is a non-2xx response from the remote service.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// timeoutError marks an attempt that exceeded its own timeout while the
// caller was still waiting. It is transient: the remaining attempt budget
// applies, unlike cancellation coming from the caller.
type timeoutError struct {
	err error
}

func (e *timeoutError) Error() string { return "attempt timed out: " + e.err.Error() }

func (e *timeoutError) Unwrap() error { return e.err }

// retryable reports whether err can plausibly succeed on a retry.
// Transport errors, per-attempt timeouts, and 5xx/408/429 are transient;
// other 4xx and caller-level cancellation are not.
func retryable(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500 || he.Status == http.StatusRequestTimeout || he.Status == http.StatusTooManyRequests
	}
	var te *timeoutError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Clock abstracts time for cache-staleness tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// response is what one successful call yields; the content type is kept so
// JSON-or-binary payloads can be decoded uniformly downstream.
type response struct {
	body        []byte
	contentType string
}

type cacheEntry struct {
	resp      response
	fetchedAt time.Time
}

// Client issues requests against a single remote base URL.
//
// Successful idempotent (GET/HEAD) responses are cached by fingerprint;
// mutating calls are deduplicated while in flight but never cached after
// completion. At most one request per fingerprint is outstanding at any
// time; concurrent callers share the eventual result.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	timeout     time.Duration
	maxAttempts int
	clock       Clock

	// sleep waits for a backoff delay; swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewClient creates a Client targeting baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0, // per-attempt timeouts come from contexts
		},
		timeout:     DefaultTimeout,
		maxAttempts: defaultMaxAttempts,
		clock:       realClock{},
		sleep:       ctxSleep,
		cache:       make(map[string]cacheEntry),
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// RequestOptions customizes a single call. Zero values select the client
// defaults.
type RequestOptions struct {
	Method      string // default GET
	Body        []byte
	ContentType string
	Timeout     time.Duration // per attempt
	MaxAttempts int
}

// Request performs an HTTP call against path with dedup, caching, and retry
// as described on Client. The returned bytes are owned by the caller.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions) ([]byte, error) {
	resp, err := c.call(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func (c *Client) call(ctx context.Context, path string, opts RequestOptions) (response, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Timeout <= 0 {
		opts.Timeout = c.timeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = c.maxAttempts
	}

	url := c.baseURL + path
	fp := fingerprint(opts.Method, url, opts.Body)
	cacheable := opts.Method == http.MethodGet || opts.Method == http.MethodHead

	if cacheable {
		if resp, ok := c.cachedFresh(fp); ok {
			return resp, nil
		}
	}

	// The shared fetch runs on a detached context so one caller cancelling
	// cannot poison the result for the other waiters; per-attempt timeouts
	// still bound the detached call. Each waiter stays cancellable on its
	// own context.
	ch := c.group.DoChan(fp, func() (any, error) {
		resp, err := c.doWithRetry(context.WithoutCancel(ctx), opts.Method, url, opts)
		if err != nil {
			return response{}, err
		}
		if cacheable {
			c.storeCache(fp, resp)
		}
		return resp, nil
	})

	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return response{}, res.Err
		}
		// Each caller gets its own copy; the singleflight result is shared.
		return copyResponse(res.Val.(response)), nil
	}
}

// fingerprint identifies equivalent requests: method + url + body.
func fingerprint(method, url string, body []byte) string {
	return method + " " + url + " " + string(body)
}

func copyResponse(r response) response {
	body := make([]byte, len(r.body))
	copy(body, r.body)
	return response{body: body, contentType: r.contentType}
}

func (c *Client) cachedFresh(fp string) (response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[fp]
	if !ok {
		return response{}, false
	}
	if c.clock.Now().Sub(entry.fetchedAt) > cacheTTL {
		// Stale: treated as a miss, replaced by the next successful fetch.
		return response{}, false
	}
	return copyResponse(entry.resp), true
}

func (c *Client) storeCache(fp string, resp response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[fp] = cacheEntry{resp: resp, fetchedAt: c.clock.Now()}
}

// doWithRetry runs up to opts.MaxAttempts attempts with exponential backoff
// (1s base, doubling, capped at 5s). After exhaustion the original error of
// the last attempt propagates unwrapped.
func (c *Client) doWithRetry(ctx context.Context, method, url string, opts RequestOptions) (response, error) {
	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return response{}, lastErr
			}
		}

		resp, err := c.doOnce(ctx, method, url, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return response{}, lastErr
}

// backoffDelay returns the wait before the given (1-based) retry attempt.
func backoffDelay(attempt int) time.Duration {
	d := baseBackoff << (attempt - 1)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// doOnce performs a single attempt with its own timeout. The attempt
// deadline aborts the underlying connection, so no attempt outlives its
// timeout even when the caller has already walked away.
func (c *Client) doOnce(ctx context.Context, method, url string, opts RequestOptions) (response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var reader io.Reader
	if opts.Body != nil {
		reader = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
	if err != nil {
		return response{}, fmt.Errorf("creating request: %w", err)
	}
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return response{}, &timeoutError{err: err}
		}
		return response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return response{}, &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return response{body: body, contentType: resp.Header.Get("Content-Type")}, nil
}
