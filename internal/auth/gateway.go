// Package auth implements the client-side auth gateway: it caches the
// session obtained from the refresh endpoint, refreshes proactively before
// expiry and reactively on 401, and single-flights concurrent refreshes.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrNoSession means no usable access token could be obtained; the caller
// should report unauthenticated rather than retry.
var ErrNoSession = errors.New("no usable session")

// DefaultRefreshPath is the token refresh endpoint.
const DefaultRefreshPath = "/v1/auth/refresh"

// RefreshCookie carries the out-of-band refresh credential.
const RefreshCookie = "crate_refresh"

// defaultSkew is the clock-skew window: a token expiring within it is
// treated as already expired.
const defaultSkew = 30 * time.Second

// Session is the cached authentication state.
type Session struct {
	UserID      string
	AccessToken string
	ExpiresAt   time.Time
}

// refreshResponse is the JSON body of a successful refresh.
type refreshResponse struct {
	UserID      string `json:"userId"`
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"` // seconds
}

// Gateway acquires and refreshes access tokens for the sync transport.
type Gateway struct {
	refreshURL   string
	refreshToken string
	http         *http.Client
	skew         time.Duration
	now          func() time.Time

	mu   sync.Mutex
	sess *Session
	sf   singleflight.Group
}

// New creates a gateway for the given server. refreshToken may be empty, in
// which case every token request fails with ErrNoSession.
func New(serverURL, refreshToken string) *Gateway {
	return &Gateway{
		refreshURL:   serverURL + DefaultRefreshPath,
		refreshToken: refreshToken,
		http:         &http.Client{Timeout: 30 * time.Second},
		skew:         defaultSkew,
		now:          time.Now,
	}
}

// SetHTTPClient overrides the HTTP client (tests, custom timeouts).
func (g *Gateway) SetHTTPClient(c *http.Client) { g.http = c }

// Session returns a copy of the current session, or nil.
func (g *Gateway) Session() *Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sess == nil {
		return nil
	}
	s := *g.sess
	return &s
}

// Token returns a valid access token, refreshing first when the cached one
// is missing or expires within the clock-skew window.
func (g *Gateway) Token(ctx context.Context) (string, error) {
	g.mu.Lock()
	sess := g.sess
	g.mu.Unlock()

	if sess != nil && g.now().Add(g.skew).Before(sess.ExpiresAt) {
		return sess.AccessToken, nil
	}
	return g.refresh(ctx)
}

// refresh performs a single-flighted session refresh: concurrent callers
// share one in-flight request. On non-2xx the session is cleared and
// ErrNoSession is returned.
func (g *Gateway) refresh(ctx context.Context) (string, error) {
	v, err, _ := g.sf.Do("refresh", func() (any, error) {
		return g.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *Gateway) doRefresh(ctx context.Context) (string, error) {
	if g.refreshToken == "" {
		return "", ErrNoSession
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.refreshURL, nil)
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: RefreshCookie, Value: g.refreshToken})

	resp, err := g.http.Do(req)
	if err != nil {
		g.clearSession()
		return "", fmt.Errorf("%w: refresh request: %v", ErrNoSession, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		g.clearSession()
		slog.Debug("auth: refresh rejected", "status", resp.StatusCode)
		return "", fmt.Errorf("%w: refresh returned HTTP %d", ErrNoSession, resp.StatusCode)
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		g.clearSession()
		return "", fmt.Errorf("%w: decode refresh response: %v", ErrNoSession, err)
	}
	if rr.AccessToken == "" || rr.ExpiresIn <= 0 {
		g.clearSession()
		return "", fmt.Errorf("%w: refresh response missing token", ErrNoSession)
	}

	sess := &Session{
		UserID:      rr.UserID,
		AccessToken: rr.AccessToken,
		ExpiresAt:   g.now().Add(time.Duration(rr.ExpiresIn) * time.Second),
	}
	g.mu.Lock()
	g.sess = sess
	g.mu.Unlock()
	slog.Debug("auth: session refreshed", "user", rr.UserID, "expires_in", rr.ExpiresIn)
	return sess.AccessToken, nil
}

func (g *Gateway) clearSession() {
	g.mu.Lock()
	g.sess = nil
	g.mu.Unlock()
}

// Do executes an authenticated request: it attaches the bearer token, and on
// a 401 response performs exactly one refresh-and-retry. When that refresh
// fails, the original 401 response is returned to the caller.
func (g *Gateway) Do(req *http.Request) (*http.Response, error) {
	token, err := g.Token(req.Context())
	if err != nil {
		return nil, err
	}

	resp, err := g.send(req, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	newToken, err := g.refresh(req.Context())
	if err != nil {
		return resp, nil // surface the original 401
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return g.send(req, newToken)
}

// send issues a clone of req with the given bearer token, rewinding the
// body via GetBody when present.
func (g *Gateway) send(req *http.Request, token string) (*http.Response, error) {
	r := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		r.Body = body
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return g.http.Do(r)
}
