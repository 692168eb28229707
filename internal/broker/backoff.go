package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"midas/internal/logger"
)

// maxAttempts bounds transient-transport retries. Exhaustion is fatal: the
// system cannot safely operate blind to order state.
const maxAttempts = 11

type response struct {
	status  int
	body    []byte
	headers http.Header
}

// send issues a request with quadratically increasing backoff between
// attempts. When acceptBad is false, non-2xx statuses count as failures and
// are retried too.
func (c *TDA) send(ctx context.Context, method, url string, acceptBad bool, body []byte, headers map[string]string) (*response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			wait := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			logger.Warnf("broker: request failed (attempt %d/%d): %v", attempt, maxAttempts, err)
			continue
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if acceptBad || resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return &response{status: resp.StatusCode, body: data, headers: resp.Header}, nil
		}
		lastErr = fmt.Errorf("bad response status=%d body=%s", resp.StatusCode, truncate(data, 200))
		logger.Warnf("broker: %v (attempt %d/%d)", lastErr, attempt, maxAttempts)
	}
	return nil, fmt.Errorf("broker unreachable after %d attempts: %w", maxAttempts, lastErr)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
