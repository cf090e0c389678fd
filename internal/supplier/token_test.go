package supplier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/athebyme/gomarket-platform/supplier-service/internal/adapters/logger"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// tokenEndpoint records token requests and replies per grant type
type tokenEndpoint struct {
	mu       sync.Mutex
	requests []url.Values
	respond  func(form url.Values) (int, string)
}

func (e *tokenEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.requests = append(e.requests, r.PostForm)
	e.mu.Unlock()

	status, body := e.respond(r.PostForm)
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func (e *tokenEndpoint) grantTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	types := make([]string, 0, len(e.requests))
	for _, form := range e.requests {
		types = append(types, form.Get("grant_type"))
	}
	return types
}

func newTestTokenManager(t *testing.T, endpoint *tokenEndpoint) *TokenManager {
	t.Helper()

	srv := httptest.NewServer(endpoint)
	t.Cleanup(srv.Close)

	log, err := logger.NewZapLogger("error", true)
	if err != nil {
		t.Fatalf("NewZapLogger() error = %v", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	return NewTokenManager(srv.URL, "sync-user", "sync-pass", 10*time.Minute, time.Hour, limiter, srv.Client(), log)
}

func TestGetAccessToken_CachedTokenReused(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(url.Values) (int, string) {
		return http.StatusOK, `{"access_token":"fresh","expires_in":3600}`
	}}
	manager := newTestTokenManager(t, endpoint)
	manager.Seed(TokenState{
		AccessToken:     "cached",
		AccessExpiresAt: time.Now().Add(time.Hour),
	})

	token, err := manager.GetAccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "cached" {
		t.Errorf("token = %q, want %q", token, "cached")
	}
	if got := len(endpoint.grantTypes()); got != 0 {
		t.Errorf("token endpoint hits = %d, want 0", got)
	}
}

func TestGetAccessToken_PasswordGrant(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(form url.Values) (int, string) {
		if form.Get("username") != "sync-user" || form.Get("password") != "sync-pass" {
			return http.StatusUnauthorized, `{"message":"bad credentials"}`
		}
		return http.StatusOK, `{"access_token":"fresh","expires_in":3600,"refresh_token":"refresh-1","refresh_expires_in":86400}`
	}}
	manager := newTestTokenManager(t, endpoint)

	token, err := manager.GetAccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "fresh" {
		t.Errorf("token = %q, want %q", token, "fresh")
	}

	grants := endpoint.grantTypes()
	if len(grants) != 1 || grants[0] != "password" {
		t.Errorf("grant types = %v, want [password]", grants)
	}

	// Свежий токен переиспользуется без обращения к поставщику
	token, err = manager.GetAccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("GetAccessToken() second call error = %v", err)
	}
	if token != "fresh" {
		t.Errorf("second token = %q, want %q", token, "fresh")
	}
	if got := len(endpoint.grantTypes()); got != 1 {
		t.Errorf("token endpoint hits = %d, want 1", got)
	}
}

func TestGetAccessToken_RefreshGrant(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(form url.Values) (int, string) {
		if form.Get("grant_type") != "refresh_token" {
			return http.StatusBadRequest, `{"message":"unexpected grant"}`
		}
		if form.Get("refresh_token") != "refresh-1" {
			return http.StatusBadRequest, `{"message":"unknown refresh token"}`
		}
		return http.StatusOK, `{"access_token":"refreshed","expires_in":3600}`
	}}
	manager := newTestTokenManager(t, endpoint)
	manager.Seed(TokenState{
		AccessToken:      "expiring",
		AccessExpiresAt:  time.Now().Add(time.Minute),
		RefreshToken:     "refresh-1",
		RefreshExpiresAt: time.Now().Add(time.Hour),
	})

	token, err := manager.GetAccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "refreshed" {
		t.Errorf("token = %q, want %q", token, "refreshed")
	}

	grants := endpoint.grantTypes()
	if len(grants) != 1 || grants[0] != "refresh_token" {
		t.Errorf("grant types = %v, want [refresh_token]", grants)
	}
}

func TestGetAccessToken_RefreshFailureFallsBackToPassword(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(form url.Values) (int, string) {
		if form.Get("grant_type") == "refresh_token" {
			return http.StatusBadRequest, `{"message":"refresh token revoked"}`
		}
		return http.StatusOK, `{"access_token":"password-granted","expires_in":3600}`
	}}
	manager := newTestTokenManager(t, endpoint)
	manager.Seed(TokenState{
		AccessToken:      "expiring",
		AccessExpiresAt:  time.Now().Add(time.Minute),
		RefreshToken:     "refresh-1",
		RefreshExpiresAt: time.Now().Add(time.Hour),
	})

	token, err := manager.GetAccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "password-granted" {
		t.Errorf("token = %q, want %q", token, "password-granted")
	}

	grants := endpoint.grantTypes()
	want := []string{"refresh_token", "password"}
	if len(grants) != len(want) || grants[0] != want[0] || grants[1] != want[1] {
		t.Errorf("grant types = %v, want %v", grants, want)
	}
}

func TestGetAccessToken_StaleTokenOnRateLimit(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(url.Values) (int, string) {
		return http.StatusTooManyRequests, `{"code":"TOO_MANY_REQUESTS","message":"quota exceeded"}`
	}}
	manager := newTestTokenManager(t, endpoint)
	manager.Seed(TokenState{
		AccessToken:      "stale",
		AccessExpiresAt:  time.Now().Add(-time.Minute),
		RefreshToken:     "refresh-1",
		RefreshExpiresAt: time.Now().Add(-time.Minute),
	})

	token, err := manager.GetAccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v, want stale token without error", err)
	}
	if token != "stale" {
		t.Errorf("token = %q, want %q", token, "stale")
	}
}

func TestGetAccessToken_RateLimitWithoutCachedTokenFails(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(url.Values) (int, string) {
		return http.StatusTooManyRequests, `{"code":"TOO_MANY_REQUESTS","message":"quota exceeded"}`
	}}
	manager := newTestTokenManager(t, endpoint)

	_, err := manager.GetAccessToken(context.Background(), false)
	if err == nil {
		t.Fatal("GetAccessToken() error = nil, want rate limit error")
	}
	if !IsRateLimited(err) {
		t.Errorf("IsRateLimited() = false for %v, want true", err)
	}
}

func TestGetAccessToken_ForceBypassesCache(t *testing.T) {
	endpoint := &tokenEndpoint{respond: func(url.Values) (int, string) {
		return http.StatusOK, `{"access_token":"forced","expires_in":3600}`
	}}
	manager := newTestTokenManager(t, endpoint)
	manager.Seed(TokenState{
		AccessToken:     "cached",
		AccessExpiresAt: time.Now().Add(time.Hour),
	})

	token, err := manager.GetAccessToken(context.Background(), true)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if token != "forced" {
		t.Errorf("token = %q, want %q", token, "forced")
	}
	if got := len(endpoint.grantTypes()); got != 1 {
		t.Errorf("token endpoint hits = %d, want 1", got)
	}
}

func TestResolveExpiry(t *testing.T) {
	manager := NewTokenManager("http://localhost", "u", "p", 10*time.Minute, time.Hour, rate.NewLimiter(rate.Inf, 1), http.DefaultClient, nil)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	jwtExp := now.Add(45 * time.Minute).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": jwtExp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name      string
		token     string
		expiresIn int64
		want      time.Time
	}{
		{
			name:      "expires_in wins",
			token:     signed,
			expiresIn: 900,
			want:      now.Add(900 * time.Second),
		},
		{
			name:      "exp claim used without expires_in",
			token:     signed,
			expiresIn: 0,
			want:      jwtExp,
		},
		{
			name:      "opaque token falls back to default ttl",
			token:     "not-a-jwt",
			expiresIn: 0,
			want:      now.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := manager.resolveExpiry(tt.token, tt.expiresIn, now)
			if !got.Equal(tt.want) {
				t.Errorf("resolveExpiry() = %v, want %v", got, tt.want)
			}
		})
	}
}
