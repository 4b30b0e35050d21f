package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client interface for testability
type Client interface {
	Fetch(ctx context.Context, dataType, userID, sessionID string) (any, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

// Compile-time interface verification
var _ Client = (*HTTPClient)(nil)

func NewClient(baseURL, apiKey string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Fetch retrieves the current value of dataType, scoped to the given user and
// session when they are non-empty. The decoded JSON body is returned as
// map[string]any, []any or a scalar.
func (c *HTTPClient) Fetch(ctx context.Context, dataType, userID, sessionID string) (any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}

	endpoint := c.dataURL(dataType, userID, sessionID)
	c.logger.Debug("requesting", zap.String("url", endpoint))

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request",
				zap.String("dataType", dataType),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.Wrap(err, "creating request")
		}

		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.Wrapf(ErrNotFound, "%s", dataType)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, errors.WithHint(ErrAuthFailed, "check api.api_key (REFRESHD_API_KEY)")
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = errors.Newf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, errors.Newf("unexpected status %d: %s", resp.StatusCode, string(body))
		}

		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, errors.Wrap(err, "decoding response")
		}

		return payload, nil
	}

	return nil, errors.Wrap(lastErr, "max retries exceeded")
}

func (c *HTTPClient) dataURL(dataType, userID, sessionID string) string {
	q := url.Values{}
	if userID != "" {
		q.Set("userId", userID)
	}
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}

	endpoint := fmt.Sprintf("%s/v1/data/%s", c.baseURL, url.PathEscape(dataType))
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	return endpoint
}
