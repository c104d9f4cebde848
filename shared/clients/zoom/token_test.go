package zoom

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type staticCreds struct {
	mu   sync.Mutex
	cred Credential
	err  error
}

func (s *staticCreds) Credential(context.Context) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.err
}

func (s *staticCreds) set(cred Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newOAuthServer(t *testing.T, calls *int32, expiresIn int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "account_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		if got := r.URL.Query().Get("account_id"); got != r.PostForm.Get("account_id") {
			t.Errorf("query account_id %q differs from body %q", got, r.PostForm.Get("account_id"))
		}
		if r.PostForm.Has("client_secret") {
			t.Errorf("client secret must not travel in the body")
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "cid" || pass != "sec" {
			t.Errorf("expected basic auth cid/sec, got %q/%q", user, pass)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%s-%d","token_type":"bearer","expires_in":%d}`, r.PostForm.Get("account_id"), n, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenCacheReusesTokenWithinTTL(t *testing.T) {
	var calls int32
	srv := newOAuthServer(t, &calls, 3600)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewTokenCache(srv.URL, &staticCreds{cred: Credential{AccountID: "acc", ClientID: "cid", ClientSecret: "sec"}}, srv.Client())
	cache.now = clock.Now

	first, err := cache.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	clock.Advance(30 * time.Minute)
	second, err := cache.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached token, got %q then %q", first, second)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 exchange, got %d", got)
	}
}

func TestTokenCacheExchangesAgainAfterMargin(t *testing.T) {
	var calls int32
	srv := newOAuthServer(t, &calls, 3600)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	cache := NewTokenCache(srv.URL, &staticCreds{cred: Credential{AccountID: "acc", ClientID: "cid", ClientSecret: "sec"}}, srv.Client())
	cache.now = clock.Now

	if _, err := cache.AccessToken(context.Background()); err != nil {
		t.Fatalf("first token: %v", err)
	}
	// 3600s ttl minus the 60s margin, less the few ms the exchange itself took.
	clock.Advance(3538 * time.Second)
	if _, err := cache.AccessToken(context.Background()); err != nil {
		t.Fatalf("token before expiry: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected cached token before expiry, got %d exchanges", got)
	}
	clock.Advance(2 * time.Second)
	if _, err := cache.AccessToken(context.Background()); err != nil {
		t.Fatalf("token after expiry: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected second exchange after expiry, got %d", got)
	}
}

func TestTokenCacheConcurrentCallersShareExchange(t *testing.T) {
	var calls int32
	srv := newOAuthServer(t, &calls, 3600)
	cache := NewTokenCache(srv.URL, &staticCreds{cred: Credential{AccountID: "acc", ClientID: "cid", ClientSecret: "sec"}}, srv.Client())

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	errs := make([]error, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.AccessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := range tokens {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != tokens[0] {
			t.Fatalf("caller %d got %q, want %q", i, tokens[i], tokens[0])
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single exchange, got %d", got)
	}
}

func TestTokenCacheCredentialMissing(t *testing.T) {
	var calls int32
	srv := newOAuthServer(t, &calls, 3600)
	cache := NewTokenCache(srv.URL, &staticCreds{err: ErrCredentialMissing}, srv.Client())

	_, err := cache.AccessToken(context.Background())
	if !errors.Is(err, ErrCredentialMissing) {
		t.Fatalf("expected ErrCredentialMissing, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Fatalf("expected no exchange, got %d", got)
	}
}

func TestTokenCacheCredentialSwitchForcesExchange(t *testing.T) {
	var calls int32
	srv := newOAuthServer(t, &calls, 3600)
	creds := &staticCreds{cred: Credential{AccountID: "one", ClientID: "cid", ClientSecret: "sec"}}
	cache := NewTokenCache(srv.URL, creds, srv.Client())

	first, err := cache.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	creds.set(Credential{AccountID: "two", ClientID: "cid", ClientSecret: "sec"})
	second, err := cache.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if first == second {
		t.Fatalf("expected a new token after the credential changed")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 exchanges, got %d", got)
	}
}

func TestTokenCacheInvalidate(t *testing.T) {
	var calls int32
	srv := newOAuthServer(t, &calls, 3600)
	cache := NewTokenCache(srv.URL, &staticCreds{cred: Credential{AccountID: "acc", ClientID: "cid", ClientSecret: "sec"}}, srv.Client())

	if _, err := cache.AccessToken(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	cache.Invalidate()
	if _, err := cache.AccessToken(context.Background()); err != nil {
		t.Fatalf("token: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected exchange after invalidate, got %d", got)
	}
}

func TestTokenCacheErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"reason":"invalid client"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	cache := NewTokenCache(srv.URL, &staticCreds{cred: Credential{AccountID: "acc", ClientID: "cid", ClientSecret: "bad"}}, srv.Client())

	_, err := cache.AccessToken(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected upstream status in error, got %v", err)
	}
}

func TestTokenCacheMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"expires_in":3600}`))
	}))
	defer srv.Close()
	cache := NewTokenCache(srv.URL, &staticCreds{cred: Credential{AccountID: "acc", ClientID: "cid", ClientSecret: "sec"}}, srv.Client())

	if _, err := cache.AccessToken(context.Background()); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
}
