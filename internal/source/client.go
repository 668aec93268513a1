package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"etl-personal/internal/config"
	"etl-personal/internal/model"
)

// httpClient is the shared upstream HTTP helper for connectors: bearer
// auth, request timeouts and bounded retry with exponential backoff on
// transient failures. Rejected credentials are surfaced immediately since
// retrying them cannot help.
type httpClient struct {
	sourceID string
	base     *http.Client
	retryCfg config.RetryConfig
}

func newHTTPClient(sourceID string, retryCfg config.RetryConfig) *httpClient {
	if retryCfg.Attempts == 0 {
		retryCfg.Attempts = 3
	}
	if retryCfg.DelayMS == 0 {
		retryCfg.DelayMS = 1500
	}
	return &httpClient{
		sourceID: sourceID,
		// Connect + read timeout so a hung upstream cannot stall the run.
		base:     &http.Client{Timeout: 30 * time.Second},
		retryCfg: retryCfg,
	}
}

// getJSON performs an authenticated GET and decodes the JSON response into
// out, retrying transient failures.
func (c *httpClient) getJSON(ctx context.Context, url, accessToken string, out any) error {
	var err error
	for attempt := 1; attempt <= c.retryCfg.Attempts; attempt++ {
		err = c.do(ctx, url, accessToken, out)
		if err == nil {
			return nil
		}

		var ae *model.AuthError
		if errors.As(err, &ae) {
			return err
		}

		logrus.Warnf("GET %s failed (attempt %d/%d): %v", url, attempt, c.retryCfg.Attempts, err)

		// Don't wait after the final attempt
		if attempt < c.retryCfg.Attempts {
			delay := time.Duration(c.retryCfg.DelayMS) * time.Millisecond << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

func (c *httpClient) do(ctx context.Context, url, accessToken string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return &model.SourceUnavailableError{SourceID: c.sourceID, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &model.AuthError{SourceID: c.sourceID, Err: fmt.Errorf("upstream rejected credentials: %s", resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &model.SourceUnavailableError{SourceID: c.sourceID, Err: fmt.Errorf("upstream returned %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return &model.SourceUnavailableError{SourceID: c.sourceID, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &model.SourceUnavailableError{SourceID: c.sourceID, Err: fmt.Errorf("malformed response body: %w", err)}
	}
	return nil
}
