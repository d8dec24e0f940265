package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/splax/accountd/internal/config"
	"github.com/splax/accountd/internal/domain"
	"github.com/splax/accountd/internal/repository/memory"
	"github.com/splax/accountd/internal/service/account"
	"github.com/splax/accountd/internal/service/auth"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captureNotifier records emitted mail keys so tests can walk the
// activation and reset flows end to end.
type captureNotifier struct {
	mu            sync.Mutex
	activationKey string
	resetKey      string
	resetCount    int
}

func (n *captureNotifier) SendActivationEmail(user domain.User, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activationKey = key
}

func (n *captureNotifier) SendCreationEmail(user domain.User) {}

func (n *captureNotifier) SendPasswordResetEmail(user domain.User, key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetKey = key
	n.resetCount++
}

func (n *captureNotifier) lastActivationKey() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.activationKey
}

func (n *captureNotifier) resets() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetCount
}

type testEnv struct {
	router   *Router
	notifier *captureNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.New()
	notifier := &captureNotifier{}
	cfg := config.Config{
		JWTSecret:       "router-test-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		ResetTokenTTL:   24 * time.Hour,
	}
	log := newLogger()
	accountSvc := account.New(repo, repo, notifier, log, cfg)
	authSvc := auth.New(repo, log, cfg)
	router := NewRouter(log, accountSvc, authSvc, NewMemoryRateLimiter(), nil)
	t.Cleanup(router.Close)
	return &testEnv{router: router, notifier: notifier}
}

func (e *testEnv) do(t *testing.T, method, path, bearer string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "192.0.2.1:4711"
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, login, email, password string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"login":    login,
		"email":    email,
		"password": password,
		"langKey":  "en",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) activate(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/v1/activate?key="+e.notifier.lastActivationKey(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activate returned %d: %s", rec.Code, rec.Body.String())
	}
}

func (e *testEnv) login(t *testing.T, login, password string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"login":    login,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login returned %d: %s", rec.Code, rec.Body.String())
	}
	var parsed struct {
		Tokens auth.TokenPair `json:"tokens"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return parsed.Tokens.AccessToken
}

func TestRegisterReturns201NoBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"login":    "alice",
		"email":    "a@x.com",
		"password": "Sup3rSecret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", rec.Body.String())
	}
}

func TestRegisterRejectsBadPasswordAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "Sup3rSecret")

	rec := env.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"login":    "bob",
		"email":    "b@x.com",
		"password": "abc",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"login":    "alice2",
		"email":    "A@X.COM",
		"password": "Sup3rSecret",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate email: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
		"login":    "ALICE",
		"email":    "fresh@x.com",
		"password": "Sup3rSecret",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate login: expected 400, got %d", rec.Code)
	}
}

func TestActivateFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "Sup3rSecret")

	rec := env.do(t, http.MethodGet, "/api/v1/activate?key=wrong-key", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("wrong key: expected 404, got %d", rec.Code)
	}

	key := env.notifier.lastActivationKey()
	rec = env.do(t, http.MethodGet, "/api/v1/activate?key="+key, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activation: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/activate?key="+key, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second activation: expected 404, got %d", rec.Code)
	}
}

func TestAuthenticateReturnsLoginOrEmpty(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/authenticate", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous check: expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "" {
		t.Fatalf("anonymous check: expected empty body, got %q", rec.Body.String())
	}

	env.register(t, "alice", "a@x.com", "Sup3rSecret")
	env.activate(t)
	token := env.login(t, "alice", "Sup3rSecret")

	rec = env.do(t, http.MethodGet, "/api/v1/authenticate", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated check: expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "alice" {
		t.Fatalf("expected login in body, got %q", rec.Body.String())
	}
}

func TestLoginRequiresActivation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "Sup3rSecret")

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"login":    "alice",
		"password": "Sup3rSecret",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("inactive login: expected 401, got %d", rec.Code)
	}

	env.activate(t)
	env.login(t, "alice", "Sup3rSecret")
}

func TestAccountRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/v1/account", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAccountReadAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "Sup3rSecret")
	env.activate(t)
	token := env.login(t, "alice", "Sup3rSecret")

	rec := env.do(t, http.MethodGet, "/api/v1/account", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("account read: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var profile map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile["login"] != "alice" {
		t.Fatalf("unexpected profile: %v", profile)
	}
	if _, exposed := profile["passwordHash"]; exposed {
		t.Fatalf("password hash leaked in profile")
	}

	rec = env.do(t, http.MethodPut, "/api/v1/account", token, map[string]string{
		"firstName": "Alice",
		"lastName":  "Smith",
		"email":     "a@x.com",
		"langKey":   "fr",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("account update: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// A second user's email is rejected.
	env.register(t, "bob", "b@x.com", "Sup3rSecret")
	rec = env.do(t, http.MethodPut, "/api/v1/account", token, map[string]string{
		"email": "b@x.com",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("foreign email: expected 400, got %d", rec.Code)
	}
}

func TestChangePasswordEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "Sup3rSecret")
	env.activate(t)
	token := env.login(t, "alice", "Sup3rSecret")

	rec := env.do(t, http.MethodPost, "/api/v1/account/change-password", token, map[string]string{
		"currentPassword": "wrong",
		"newPassword":     "NewPass123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong current password: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/account/change-password", token, map[string]string{
		"currentPassword": "Sup3rSecret",
		"newPassword":     "NewPass123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("password change: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env.login(t, "alice", "NewPass123")
}

func TestResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "Sup3rSecret")
	env.activate(t)

	// Unknown email responds identically to a known one.
	recUnknown := env.do(t, http.MethodPost, "/api/v1/account/reset-password/init", "", map[string]string{
		"email": "unknown@x.com",
	})
	if recUnknown.Code != http.StatusOK {
		t.Fatalf("unknown email: expected 200, got %d", recUnknown.Code)
	}
	if env.notifier.resets() != 0 {
		t.Fatalf("unknown email must not trigger mail")
	}

	recKnown := env.do(t, http.MethodPost, "/api/v1/account/reset-password/init", "", map[string]string{
		"email": "a@x.com",
	})
	if recKnown.Code != http.StatusOK {
		t.Fatalf("known email: expected 200, got %d", recKnown.Code)
	}
	if recUnknown.Body.String() != recKnown.Body.String() {
		t.Fatalf("responses must be indistinguishable: %q vs %q", recUnknown.Body.String(), recKnown.Body.String())
	}
	if env.notifier.resets() != 1 {
		t.Fatalf("known email should trigger exactly one mail")
	}

	rec := env.do(t, http.MethodPost, "/api/v1/account/reset-password/finish", "", map[string]string{
		"key":         "bogus-key",
		"newPassword": "NewPass123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bogus key: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/account/reset-password/finish", "", map[string]string{
		"key":         env.notifier.resetKey,
		"newPassword": "ab",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/account/reset-password/finish", "", map[string]string{
		"key":         env.notifier.resetKey,
		"newPassword": "NewPass123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("reset finish: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	env.login(t, "alice", "NewPass123")
}

func TestRegisterRateLimited(t *testing.T) {
	env := newTestEnv(t)

	var lastCode int
	for i := 0; i < rateLimitRegister+1; i++ {
		rec := env.do(t, http.MethodPost, "/api/v1/register", "", map[string]string{
			"login":    "user" + string(rune('a'+i)),
			"email":    "user" + string(rune('a'+i)) + "@x.com",
			"password": "Sup3rSecret",
		})
		lastCode = rec.Code
	}
	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding limit, got %d", lastCode)
	}
}

func TestHealthzReportsDatabase(t *testing.T) {
	repo := memory.New()
	cfg := config.Config{JWTSecret: "s", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Minute}
	log := newLogger()
	accountSvc := account.New(repo, repo, &captureNotifier{}, log, cfg)
	authSvc := auth.New(repo, log, cfg)
	healthy := func(context.Context) error { return nil }
	router := NewRouter(log, accountSvc, authSvc, NewMemoryRateLimiter(), healthy)
	defer router.Close()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health payload: %s", rec.Body.String())
	}
}
