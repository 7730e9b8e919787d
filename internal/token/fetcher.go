package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/metrics"
)

const (
	DefaultTimeout = 10 * time.Second

	maxErrorBody = 512
)

// ErrNoToken is returned when the backend answers without a usable token
var ErrNoToken = errors.New("no token in response")

// StatusError is a non-2xx answer from the token endpoint
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("token endpoint returned %d: %s", e.Code, e.Body)
}

// Fetcher obtains room access tokens from the backend
type Fetcher struct {
	endpoint *url.URL
	http     *http.Client
	metrics  *metrics.Metrics
	logger   *logger.ContextLogger
}

// NewFetcher creates a fetcher for tokenURL. A zero timeout uses DefaultTimeout.
func NewFetcher(tokenURL string, timeout time.Duration, m *metrics.Metrics, log *logger.Logger) (*Fetcher, error) {
	u, err := url.Parse(tokenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid token URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid token URL scheme %q", u.Scheme)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Fetcher{
		endpoint: u,
		http:     &http.Client{Timeout: timeout},
		metrics:  m,
		logger:   log.With("token"),
	}, nil
}

// Fetch requests a token for userID. idToken, when set, authenticates the request.
func (f *Fetcher) Fetch(ctx context.Context, userID, idToken string) (string, error) {
	start := time.Now()
	tok, err := f.fetch(ctx, userID, idToken)
	f.metrics.RecordTokenFetch(err == nil, time.Since(start))

	if err != nil {
		f.logger.ErrorWithFields("Token fetch failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return "", err
	}

	f.logger.DebugWithFields("Token fetched", map[string]interface{}{
		"user_id":     userID,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return tok, nil
}

func (f *Fetcher) fetch(ctx context.Context, userID, idToken string) (string, error) {
	u := *f.endpoint
	q := u.Query()
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if idToken != "" {
		req.Header.Set("Authorization", "Bearer "+idToken)
	}

	res, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return "", &StatusError{Code: res.StatusCode, Body: string(body)}
	}

	var payload interface{}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	// Any JSON that is not an object with a string token is "no token"
	obj, _ := payload.(map[string]interface{})
	tok, ok := obj["token"].(string)
	if !ok || tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}
