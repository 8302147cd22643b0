package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// refreshServer is a test refresh endpoint counting requests and issuing
// sequential tokens.
type refreshServer struct {
	mu        sync.Mutex
	refreshes int32
	expiresIn int
	reject    bool
	wantToken string
}

func (rs *refreshServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&rs.refreshes, 1)

		rs.mu.Lock()
		reject := rs.reject
		expiresIn := rs.expiresIn
		want := rs.wantToken
		rs.mu.Unlock()

		cookie, err := r.Cookie(RefreshCookie)
		if reject || err != nil || (want != "" && cookie.Value != want) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"userId":      "u-1",
			"accessToken": fmt.Sprintf("token-%d", n),
			"expiresIn":   expiresIn,
		})
	}
}

func newTestGateway(t *testing.T, rs *refreshServer) *Gateway {
	t.Helper()
	if rs.expiresIn == 0 {
		rs.expiresIn = 900
	}
	srv := httptest.NewServer(rs.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL, "refresh-secret")
}

func TestTokenRefreshesOnceAndCaches(t *testing.T) {
	rs := &refreshServer{}
	g := newTestGateway(t, rs)

	tok1, err := g.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	tok2, err := g.Token(context.Background())
	if err != nil {
		t.Fatalf("second Token failed: %v", err)
	}
	if tok1 != tok2 {
		t.Errorf("cached token changed: %q vs %q", tok1, tok2)
	}
	if n := atomic.LoadInt32(&rs.refreshes); n != 1 {
		t.Errorf("expected 1 refresh, got %d", n)
	}

	sess := g.Session()
	if sess == nil || sess.UserID != "u-1" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestTokenRefreshesWithinSkewWindow(t *testing.T) {
	rs := &refreshServer{expiresIn: 900}
	g := newTestGateway(t, rs)

	now := time.Now()
	g.now = func() time.Time { return now }

	if _, err := g.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	// Just before the skew window: cached token still good.
	g.now = func() time.Time { return now.Add(900*time.Second - 31*time.Second) }
	if _, err := g.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if n := atomic.LoadInt32(&rs.refreshes); n != 1 {
		t.Fatalf("refreshed too early: %d refreshes", n)
	}

	// Inside the skew window: token is treated as expired.
	g.now = func() time.Time { return now.Add(900*time.Second - 10*time.Second) }
	if _, err := g.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if n := atomic.LoadInt32(&rs.refreshes); n != 2 {
		t.Fatalf("expected refresh inside skew window, got %d refreshes", n)
	}
}

func TestConcurrentTokenCallsShareOneRefresh(t *testing.T) {
	rs := &refreshServer{}
	g := newTestGateway(t, rs)

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := g.Token(context.Background())
			if err != nil {
				t.Errorf("Token failed: %v", err)
				return
			}
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	if n := atomic.LoadInt32(&rs.refreshes); n != 1 {
		t.Errorf("expected single-flighted refresh, got %d", n)
	}
	for i := 1; i < 10; i++ {
		if tokens[i] != tokens[0] {
			t.Errorf("token %d differs: %q vs %q", i, tokens[i], tokens[0])
		}
	}
}

func TestNoRefreshTokenReturnsErrNoSession(t *testing.T) {
	g := New("http://localhost:1", "")
	_, err := g.Token(context.Background())
	if err != ErrNoSession {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestRejectedRefreshClearsSession(t *testing.T) {
	rs := &refreshServer{}
	g := newTestGateway(t, rs)

	if _, err := g.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}

	rs.mu.Lock()
	rs.reject = true
	rs.mu.Unlock()

	// Force the cached token out of date.
	g.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err := g.Token(context.Background())
	if err == nil {
		t.Fatal("expected error from rejected refresh")
	}
	if !strings.Contains(err.Error(), "no usable session") {
		t.Fatalf("expected ErrNoSession-wrapped error, got %v", err)
	}
	if g.Session() != nil {
		t.Fatal("session not cleared after rejected refresh")
	}
}

func TestDoRetriesOnceOn401(t *testing.T) {
	rs := &refreshServer{expiresIn: 900}
	refreshSrv := httptest.NewServer(rs.handler())
	defer refreshSrv.Close()

	var apiCalls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&apiCalls, 1)
		// First bearer token is stale; anything after the first refresh works.
		if r.Header.Get("Authorization") == "Bearer token-1" && n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer api.Close()

	g := New(refreshSrv.URL, "refresh-secret")

	req, _ := http.NewRequest(http.MethodPost, api.URL, strings.NewReader(`{"x":1}`))

	resp, err := g.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after retry, got %d", resp.StatusCode)
	}
	if n := atomic.LoadInt32(&apiCalls); n != 2 {
		t.Errorf("expected exactly 2 api calls (401 + retry), got %d", n)
	}
	if n := atomic.LoadInt32(&rs.refreshes); n != 2 {
		t.Errorf("expected 2 refreshes (initial + reactive), got %d", n)
	}
}

func TestDoSurfacesOriginal401WhenRefreshFails(t *testing.T) {
	rs := &refreshServer{expiresIn: 900}
	refreshSrv := httptest.NewServer(rs.handler())
	defer refreshSrv.Close()

	var apiCalls int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	g := New(refreshSrv.URL, "refresh-secret")

	req, _ := http.NewRequest(http.MethodGet, api.URL, nil)
	resp, err := g.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	// Revoke the refresh token after the first session was obtained, so the
	// reactive refresh fails and the original 401 comes back.
	rs.mu.Lock()
	rs.reject = true
	rs.mu.Unlock()

	req2, _ := http.NewRequest(http.MethodGet, api.URL, nil)
	resp2, err := g.Do(req2)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected the original 401, got %d", resp2.StatusCode)
	}
}
