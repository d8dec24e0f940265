package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/accountd/internal/domain"
	"github.com/splax/accountd/internal/repository"
	"github.com/splax/accountd/internal/service/account"
	"github.com/splax/accountd/internal/service/auth"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	account  account.Service
	auth     auth.Service
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitResetInit = 5
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, accountSvc account.Service, authSvc auth.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		account:  accountSvc,
		auth:     authSvc,
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/v1/register", r.audit(r.withRateLimit("register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/api/v1/activate", r.audit(r.handleActivate))
	r.mux.HandleFunc("/api/v1/authenticate", r.audit(r.handleAuthenticate))
	r.mux.HandleFunc("/api/v1/auth/login", r.audit(r.withRateLimit("login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/v1/account", r.audit(r.handlerAuthRate("account", rateLimitUserWrite, rateWindowDefault, r.handleAccount)))
	r.mux.HandleFunc("/api/v1/account/change-password", r.audit(r.handlerAuthRate("change-password", rateLimitUserWrite, rateWindowDefault, r.handleChangePassword)))
	r.mux.HandleFunc("/api/v1/account/reset-password/init", r.audit(r.withRateLimit("reset-init", rateLimitResetInit, rateWindowDefault, rateLimitKeyIP, r.handleResetInit)))
	r.mux.HandleFunc("/api/v1/account/reset-password/finish", r.audit(r.withRateLimit("reset-finish", rateLimitUserRead, rateWindowDefault, rateLimitKeyIP, r.handleResetFinish)))
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Login    string `json:"login"`
		Email    string `json:"email"`
		Password string `json:"password"`
		LangKey  string `json:"langKey"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.Login) == "" || strings.TrimSpace(payload.Email) == "" {
		writeError(w, http.StatusBadRequest, "login and email are required")
		return
	}
	if _, err := r.account.Register(req.Context(), payload.Login, payload.Email, payload.Password, payload.LangKey); err != nil {
		r.writeAccountError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (r *Router) handleActivate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	key := strings.TrimSpace(req.URL.Query().Get("key"))
	if key == "" {
		writeError(w, http.StatusBadRequest, "activation key is required")
		return
	}
	if _, err := r.account.Activate(req.Context(), key); err != nil {
		if errors.Is(err, account.ErrActivationNotFound) {
			writeError(w, http.StatusNotFound, "no user was found for this activation key")
			return
		}
		r.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
}

func (r *Router) handleAuthenticate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	r.logger.Debug("checking whether the current user is authenticated")
	login := ""
	if token, err := bearerToken(req.Header.Get("Authorization")); err == nil {
		if _, claims, err := r.auth.Authorize(req.Context(), token); err == nil {
			login = claims.Login
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(login))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, tokens, err := r.auth.Login(req.Context(), payload.Login, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		r.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":   accountDTO(user),
		"tokens": tokens,
	})
}

func (r *Router) handleAccount(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.handleGetAccount(w, req)
	case http.MethodPut:
		r.handleUpdateAccount(w, req)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleGetAccount(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for account read", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	user, err := r.account.GetAccount(req.Context(), info.Login)
	if err != nil {
		r.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(user))
}

func (r *Router) handleUpdateAccount(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for account update", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Email     string `json:"email"`
		LangKey   string `json:"langKey"`
		ImageURL  string `json:"imageUrl"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	update := account.ProfileUpdate{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Email:     payload.Email,
		LangKey:   payload.LangKey,
		ImageURL:  payload.ImageURL,
	}
	user, err := r.account.UpdateProfile(req.Context(), info.Login, update)
	if err != nil {
		r.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountDTO(user))
}

func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing for password change", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.account.ChangePassword(req.Context(), info.Login, payload.CurrentPassword, payload.NewPassword); err != nil {
		r.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

func (r *Router) handleResetInit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := r.account.RequestPasswordReset(req.Context(), payload.Email); err != nil {
		r.writeAccountError(w, err)
		return
	}
	// Unknown emails also land here: the response shape never reveals
	// whether the address is registered.
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset requested"})
}

func (r *Router) handleResetFinish(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Key         string `json:"key"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if _, err := r.account.CompletePasswordReset(req.Context(), payload.NewPassword, payload.Key); err != nil {
		if errors.Is(err, account.ErrResetNotFound) {
			writeError(w, http.StatusBadRequest, "no user was found for this reset key")
			return
		}
		r.writeAccountError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "password reset"})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeAccountError maps service errors onto the endpoint contract.
func (r *Router) writeAccountError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, "incorrect password")
	case errors.Is(err, repository.ErrDuplicateLogin):
		writeError(w, http.StatusBadRequest, "login name already used")
	case errors.Is(err, repository.ErrDuplicateEmail):
		writeError(w, http.StatusBadRequest, "email is already in use")
	case errors.Is(err, account.ErrActivationNotFound):
		writeError(w, http.StatusNotFound, "no user was found for this activation key")
	case errors.Is(err, account.ErrResetNotFound):
		writeError(w, http.StatusBadRequest, "no user was found for this reset key")
	case errors.Is(err, account.ErrUserNotFound):
		r.logger.Error("authenticated user has no backing record", "error", err)
		writeError(w, http.StatusInternalServerError, "user could not be found")
	case errors.Is(err, repository.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		r.logger.Error("unhandled account error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// accountDTO shapes the public representation of a user. The password hash
// never leaves the service.
func accountDTO(user *domain.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"login":     user.Login,
		"email":     user.Email,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"activated": user.Activated,
		"langKey":   user.LangKey,
		"imageUrl":  user.ImageURL,
		"roles":     user.Roles,
	}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "user_id", info.UserID)
		}
		fields = append(fields, "actor", actor)

		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
