package marketplace

import (
	"context"
	"io"
	"net/http"
	"time"

	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/status"
)

const (
	maxRetries = 3
	maxPages   = 1000
)

var initialBackoff = 500 * time.Millisecond

// doWithRetry performs one upstream page request with bounded retries and
// exponential backoff. buildReq must return a fresh request each attempt so
// request bodies can be replayed. Transport errors, 5xx and 429 are retried;
// any other non-2xx fails immediately.
func doWithRetry(ctx context.Context, client *http.Client, m status.Marketplace, buildReq func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	lastStatus := 0

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.UpstreamRetriesTotal.WithLabelValues(string(m)).Inc()
			backoff := initialBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &UpstreamUnavailableError{Marketplace: m, Err: ctx.Err()}
			}
		}

		req, err := buildReq()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			lastStatus = 0
			continue
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			lastStatus = 0
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return body, nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			lastErr = nil
			lastStatus = resp.StatusCode
			continue
		default:
			return nil, &UpstreamUnavailableError{Marketplace: m, StatusCode: resp.StatusCode}
		}
	}

	return nil, &UpstreamUnavailableError{Marketplace: m, StatusCode: lastStatus, Err: lastErr}
}
