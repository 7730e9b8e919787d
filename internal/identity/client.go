package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gymmando/voice-client/internal/logger"
	"github.com/gymmando/voice-client/internal/metrics"
)

const (
	DefaultAuthURL        = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1"
)

// Options configures a Client
type Options struct {
	APIKey         string
	AuthURL        string
	SecureTokenURL string
	HTTPClient     *http.Client
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Client talks to the identity provider and keeps the local session
type Client struct {
	apiKey         string
	authURL        string
	secureTokenURL string
	http           *http.Client
	store          *Store
	metrics        *metrics.Metrics
	now            func() time.Time
	logger         *logger.ContextLogger
}

// New creates a client storing sessions in store
func New(opts Options, store *Store, log *logger.Logger) *Client {
	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}
	if opts.SecureTokenURL == "" {
		opts.SecureTokenURL = DefaultSecureTokenURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		apiKey:         opts.APIKey,
		authURL:        strings.TrimRight(opts.AuthURL, "/"),
		secureTokenURL: strings.TrimRight(opts.SecureTokenURL, "/"),
		http:           opts.HTTPClient,
		store:          store,
		metrics:        opts.Metrics,
		now:            opts.Now,
		logger:         log.With("identity"),
	}
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	UserID       string `json:"user_id"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignIn authenticates with email and password and stores the session
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(map[string]interface{}{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode sign-in request: %w", err)
	}

	endpoint := c.authURL + "/accounts:signInWithPassword?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp signInResponse
	if err := c.do(req, &resp); err != nil {
		c.logger.Warn("Sign-in failed for %s: %v", email, err)
		return nil, err
	}

	sess := &Session{
		UserID:       resp.LocalID,
		Email:        resp.Email,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    c.expiresAt(resp.ExpiresIn),
	}
	if sess.Email == "" {
		sess.Email = email
	}
	if err := c.store.Save(sess); err != nil {
		return nil, err
	}

	c.logger.InfoWithFields("Signed in", map[string]interface{}{
		"user_id": sess.UserID,
		"email":   sess.Email,
	})
	return sess, nil
}

// SignOut forgets the stored session
func (c *Client) SignOut() error {
	if err := c.store.Clear(); err != nil {
		return err
	}
	c.logger.Info("Signed out")
	return nil
}

// CurrentUser returns the stored session, refreshing it when the ID token expired
func (c *Client) CurrentUser(ctx context.Context) (*Session, error) {
	sess, err := c.store.Load()
	if err != nil {
		return nil, err
	}

	if !sess.Expired(c.now()) {
		return sess, nil
	}

	c.logger.Debug("ID token expired for %s, refreshing", sess.UserID)
	refreshed, err := c.refresh(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}
	c.metrics.RecordIdentityRefresh()
	if err := c.store.Save(refreshed); err != nil {
		return nil, err
	}
	return refreshed, nil
}

func (c *Client) refresh(ctx context.Context, sess *Session) (*Session, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", sess.RefreshToken)

	endpoint := c.secureTokenURL + "/token?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp refreshResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}

	out := *sess
	if resp.UserID != "" {
		out.UserID = resp.UserID
	}
	out.IDToken = resp.IDToken
	if resp.RefreshToken != "" {
		out.RefreshToken = resp.RefreshToken
	}
	out.ExpiresAt = c.expiresAt(resp.ExpiresIn)
	return &out, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity request failed: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read identity response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e errorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Error.Message == "" {
			return &ProviderError{Status: res.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		// Messages look like "TOO_MANY_ATTEMPTS_TRY_LATER : details"
		code, _, _ := strings.Cut(e.Error.Message, " ")
		return mapProviderError(res.StatusCode, code)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode identity response: %w", err)
	}
	return nil
}

func (c *Client) expiresAt(expiresIn string) time.Time {
	secs, err := strconv.Atoi(expiresIn)
	if err != nil || secs <= 0 {
		secs = 3600
	}
	return c.now().Add(time.Duration(secs) * time.Second)
}

// IsAuthError reports whether err means the user must sign in again
func IsAuthError(err error) bool {
	var pe *ProviderError
	return errors.Is(err, ErrNotSignedIn) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrUserDisabled) ||
		(errors.As(err, &pe) && pe.Message == "TOKEN_EXPIRED")
}
