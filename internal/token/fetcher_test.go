package token

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testLogger() *logger.Logger {
	l, _ := logger.NewWithConfig(logger.Config{Output: &bytes.Buffer{}})
	return l
}

func TestFetchReturnsToken(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"token":"jwt-abc","room":"gym-room"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	f, err := NewFetcher(srv.URL+"/token?region=us", 0, m, testLogger())
	if err != nil {
		t.Fatalf("NewFetcher failed: %v", err)
	}

	tok, err := f.Fetch(context.Background(), "user 1&x", "id-token")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if tok != "jwt-abc" {
		t.Errorf("Expected jwt-abc, got %q", tok)
	}
	if gotQuery != "region=us&user_id=user+1%26x" {
		t.Errorf("Unexpected query %q", gotQuery)
	}
	if gotAuth != "Bearer id-token" {
		t.Errorf("Unexpected Authorization header %q", gotAuth)
	}
	if got := testutil.ToFloat64(m.TokenFetches.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected one successful fetch recorded, got %v", got)
	}
}

func TestFetchWithoutIDTokenSendsNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("Expected no Authorization header, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"token":"t"}`))
	}))
	defer srv.Close()

	f, _ := NewFetcher(srv.URL, 0, nil, testLogger())
	if _, err := f.Fetch(context.Background(), "u", ""); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "missing token field",
			status: http.StatusOK,
			body:   `{"room":"gym-room"}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("Expected ErrNoToken, got %v", err)
				}
			},
		},
		{
			name:   "empty token",
			status: http.StatusOK,
			body:   `{"token":""}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("Expected ErrNoToken, got %v", err)
				}
			},
		},
		{
			name:   "non-string token",
			status: http.StatusOK,
			body:   `{"token":42}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("Expected ErrNoToken, got %v", err)
				}
			},
		},
		{
			name:   "array body",
			status: http.StatusOK,
			body:   `[]`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("Expected ErrNoToken, got %v", err)
				}
			},
		},
		{
			name:   "string body",
			status: http.StatusOK,
			body:   `"x"`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrNoToken) {
					t.Errorf("Expected ErrNoToken, got %v", err)
				}
			},
		},
		{
			name:   "malformed json",
			status: http.StatusOK,
			body:   `{"token":`,
			check: func(t *testing.T, err error) {
				if err == nil || errors.Is(err, ErrNoToken) {
					t.Errorf("Expected decode error, got %v", err)
				}
			},
		},
		{
			name:   "server error with long body",
			status: http.StatusInternalServerError,
			body:   strings.Repeat("e", 2000),
			check: func(t *testing.T, err error) {
				var se *StatusError
				if !errors.As(err, &se) {
					t.Fatalf("Expected StatusError, got %v", err)
				}
				if se.Code != http.StatusInternalServerError {
					t.Errorf("Expected code 500, got %d", se.Code)
				}
				if len(se.Body) != 512 {
					t.Errorf("Expected body truncated to 512 bytes, got %d", len(se.Body))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f, _ := NewFetcher(srv.URL, 0, nil, testLogger())
			tok, err := f.Fetch(context.Background(), "u", "")
			if tok != "" {
				t.Errorf("Expected no token, got %q", tok)
			}
			tt.check(t, err)
		})
	}
}

func TestFetchHonoursTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	f, _ := NewFetcher(srv.URL, 50*time.Millisecond, nil, testLogger())
	if _, err := f.Fetch(context.Background(), "u", ""); err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestNewFetcherRejectsBadURL(t *testing.T) {
	if _, err := NewFetcher("ftp://example.com/token", 0, nil, testLogger()); err == nil {
		t.Error("Expected error for non-http scheme")
	}
	if _, err := NewFetcher("://bad", 0, nil, testLogger()); err == nil {
		t.Error("Expected error for unparsable URL")
	}
}
