package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"

	appLog "agenda/internal/log"
)

// Source is a single ICS subscription, keyed by the calendar it feeds.
type Source struct {
	// CalendarID is the owning calendar.
	CalendarID string
	// URL is the ICS endpoint.
	URL string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte // ICS payload (either freshly fetched or from cache)
	FromCache bool   // true if the cached body was reused (304 or fallback)
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// statusError is a non-OK HTTP response.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return "ics fetch: unexpected status " + e.Status
}

// Fetcher fetches ICS feeds with HTTP caching (ETag / Last-Modified), a
// disk-backed body cache and retries on transient failures.
type Fetcher struct {
	client        *http.Client
	cacheDir      string
	attempts      uint
	retryDelay    time.Duration
	maxConcurrent int
}

// FetcherOption customizes a Fetcher.
type FetcherOption func(*Fetcher)

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithRetry sets the number of attempts and the base backoff delay.
func WithRetry(attempts uint, delay time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if attempts > 0 {
			f.attempts = attempts
		}
		f.retryDelay = delay
	}
}

// WithMaxConcurrent bounds parallel requests in FetchAll.
func WithMaxConcurrent(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxConcurrent = n
		}
	}
}

// NewFetcher creates a Fetcher storing cache entries under cacheDir
// (e.g. "/var/lib/agenda/ics-cache").
func NewFetcher(cacheDir string, opts ...FetcherOption) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	f := &Fetcher{
		client:        &http.Client{Timeout: 15 * time.Second},
		cacheDir:      cacheDir,
		attempts:      3,
		retryDelay:    500 * time.Millisecond,
		maxConcurrent: 4,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchAll fetches all sources concurrently. Results keep the order of
// sources and only contain sources that produced a body; failures are
// logged and returned in the error slice.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	type indexed struct {
		idx int
		res FetchResult
		err error
	}

	p := pool.NewWithResults[indexed]().WithContext(ctx).WithMaxGoroutines(f.maxConcurrent)
	for i, src := range sources {
		p.Go(func(ctx context.Context) (indexed, error) {
			res, err := f.FetchOne(ctx, src)
			return indexed{idx: i, res: res, err: err}, nil
		})
	}
	all, _ := p.Wait()
	sort.Slice(all, func(i, j int) bool { return all[i].idx < all[j].idx })

	results := make([]FetchResult, 0, len(sources))
	var errs []error
	for _, r := range all {
		if r.err != nil {
			src := sources[r.idx]
			appLog.Error("ics fetch failed", r.err, "calendar", src.CalendarID, "url", redactURL(src.URL))
			errs = append(errs, fmt.Errorf("calendar %s: %w", src.CalendarID, r.err))
			continue
		}
		results = append(results, r.res)
	}
	return results, errs
}

// FetchOne fetches a single ICS source, honoring ETag and Last-Modified.
// Transient failures (network errors, 5xx) are retried; when all attempts
// fail the cached body, if any, is returned instead.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cachePath := f.cachePathForURL(src.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	appLog.Debug("ics fetch start", "calendar", src.CalendarID, "url", redactURL(src.URL))

	resp, err := retry.DoWithData(
		func() (*http.Response, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
			if err != nil {
				return nil, retry.Unrecoverable(err)
			}
			if meta.ETag != "" {
				req.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				req.Header.Set("If-Modified-Since", meta.LastModified)
			}
			resp, err := f.client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode >= http.StatusInternalServerError {
				resp.Body.Close()
				return nil, &statusError{Code: resp.StatusCode, Status: resp.Status}
			}
			return resp, nil
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			appLog.Warn("ics fetch retry", "calendar", src.CalendarID, "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FetchResult{}, ctxErr
		}
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch failed, using cached body", err, "calendar", src.CalendarID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return FetchResult{}, readErr
		}

		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "calendar", src.CalendarID, "url", redactURL(src.URL))
		}

		appLog.Info("ics fetch success", "calendar", src.CalendarID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("ics fetch not modified; using cache", "calendar", src.CalendarID)
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		serr := &statusError{Code: resp.StatusCode, Status: resp.Status}
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", serr, "calendar", src.CalendarID, "url", redactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, serr
	}
}

// cachePathForURL returns the per-URL cache directory: the first 16 hex
// chars of the URL's SHA-256.
func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; ICS URLs often embed private tokens.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
