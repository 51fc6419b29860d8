// Package ingest fetches upstream forecast and hotspot data and keeps the
// stored predictions fresh.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/httputil"
	"github.com/chrispt/Birding-Fallout-Predictor/internal/metrics"
)

// FetchResult describes one upstream call for the ingest audit trail.
type FetchResult struct {
	HTTPStatus    int
	ResponseSize  int
	RecordCount   int
	ParseErrors   int
	ParseError    string // first parse error, summarised
	FlaggedValues int    // values dropped by range validation
	Body          []byte
}

// fetcher issues GET requests with retry on rate limiting and server errors.
type fetcher struct {
	source     string
	client     *http.Client
	header     http.Header
	newBackOff func() backoff.BackOff
}

func newFetcher(source string) fetcher {
	return fetcher{
		source: source,
		client: httputil.NewClient(),
		header: http.Header{},
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// get fills result with the status and body of the final attempt.
func (f *fetcher) get(ctx context.Context, url string, result *FetchResult) ([]byte, error) {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		for k, vs := range f.header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		start := time.Now()
		resp, err := f.client.Do(req)
		metrics.UpstreamAPILatency.WithLabelValues(f.source).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.UpstreamAPICallsTotal.WithLabelValues(f.source, "error").Inc()
			return backoff.Permanent(fmt.Errorf("fetch %s: %w", f.source, err))
		}
		defer resp.Body.Close()
		metrics.UpstreamAPICallsTotal.WithLabelValues(f.source, strconv.Itoa(resp.StatusCode)).Inc()

		body, err := io.ReadAll(resp.Body)
		result.HTTPStatus = resp.StatusCode
		result.ResponseSize = len(body)
		result.Body = body
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}

		if retryable(resp.StatusCode) {
			return fmt.Errorf("fetch %s: status %d", f.source, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("fetch %s: status %d: %s", f.source, resp.StatusCode, truncate(body, 200)))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(f.newBackOff(), ctx)); err != nil {
		return nil, err
	}
	return result.Body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
