package calcd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/sync/semaphore"
)

const (
	ContextKeyUserID = "user_id"

	defaultServerTimeout     = 30 * time.Second
	defaultReadHeaderTimeout = 10 * time.Second
	shutdownTimeout          = 10 * time.Second
)

type Server struct {
	store   Store
	issuer  *TokenIssuer
	results *ResultCache
	limiter RateLimiter

	maxBodySize      int64
	timeout          time.Duration
	enableRequestLog bool
	bcryptCost       int
	allowAllOrigins  bool
	allowedOrigins   []string
	exemptUserAgents map[string]bool
	ipHeaderOverride string
	limitErrMsg      string

	sem        *semaphore.Weighted
	router     *mux.Router
	httpServer *http.Server
}

func NewServer(
	store Store,
	issuer *TokenIssuer,
	results *ResultCache,
	limiter RateLimiter,
	serverCfg ServerConfig,
	rateLimitCfg RateLimitConfig,
	bcryptCost int,
) (*Server, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if issuer == nil {
		return nil, errors.New("token issuer is required")
	}
	if limiter == nil {
		limiter = NoopRateLimiter
	}

	timeout := secondsToDuration(serverCfg.TimeoutSeconds)
	if timeout == 0 {
		timeout = defaultServerTimeout
	}

	var sem *semaphore.Weighted
	if serverCfg.MaxConcurrentRequests > 0 {
		sem = semaphore.NewWeighted(serverCfg.MaxConcurrentRequests)
	}

	exempt := make(map[string]bool)
	for _, ua := range rateLimitCfg.ExemptUserAgents {
		exempt[ua] = true
	}

	return &Server{
		store:            store,
		issuer:           issuer,
		results:          results,
		limiter:          limiter,
		maxBodySize:      serverCfg.MaxBodySizeBytes,
		timeout:          timeout,
		enableRequestLog: serverCfg.EnableRequestLog,
		bcryptCost:       bcryptCost,
		allowAllOrigins:  serverCfg.AllowAllOrigins,
		allowedOrigins:   serverCfg.AllowedOrigins,
		exemptUserAgents: exempt,
		ipHeaderOverride: rateLimitCfg.IPHeaderOverride,
		limitErrMsg:      rateLimitCfg.ErrorMessage,
		sem:              sem,
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.HandleHealthz).Methods("GET")

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(s.rateLimitMiddleware)
	v1.Use(s.concurrencyMiddleware)
	v1.HandleFunc("/auth/register", s.HandleRegister).Methods("POST")
	v1.HandleFunc("/auth/login", s.HandleLogin).Methods("POST")

	calcs := v1.PathPrefix("/calculations").Subrouter()
	calcs.Use(s.authMiddleware)
	calcs.HandleFunc("", s.HandleCreateCalculation).Methods("POST")
	calcs.HandleFunc("", s.HandleListCalculations).Methods("GET")
	calcs.HandleFunc("/{id}", s.HandleGetCalculation).Methods("GET")
	calcs.HandleFunc("/{id}", s.HandleUpdateCalculation).Methods("PATCH")
	calcs.HandleFunc("/{id}", s.HandleDeleteCalculation).Methods("DELETE")

	s.router = r

	var hdlr http.Handler = r
	hdlr = s.instrumentMiddleware(hdlr)

	corsOpts := cors.Options{
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}
	if s.allowAllOrigins {
		corsOpts.AllowedOrigins = []string{"*"}
	} else {
		corsOpts.AllowedOrigins = s.allowedOrigins
	}
	return cors.New(corsOpts).Handler(hdlr)
}

func (s *Server) ListenAndServe(host string, port int) error {
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		Addr:              fmt.Sprintf("%s:%d", host, port),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("error shutting down http server", "err", err)
	}
}

// ------------------------------------------------------------------
// Middleware

func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.maxBodySize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.maxBodySize)
		}

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()
		r = r.WithContext(ctx)

		route := s.routeLabel(r)
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)

		RecordHTTPRequest(r.Method, route, sw.status, dur)
		if s.enableRequestLog {
			slog.Info("served request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", dur.Milliseconds(),
				"remote", clientIP(r, s.ipHeaderOverride),
			)
		}
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.exemptUserAgents[r.UserAgent()] {
			next.ServeHTTP(w, r)
			return
		}

		ok, err := s.limiter.Take(r.Context(), s.rateLimitKey(r))
		if err != nil {
			slog.Warn("error taking rate limit", "err", err)
			// fail open, the limiter backend being down shouldn't take
			// the API with it
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			RecordRateLimited()
			limitErr := ErrOverRateLimit.Clone()
			if s.limitErrMsg != "" {
				limitErr.Message = s.limitErrMsg
			}
			writeAPIError(w, limitErr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) concurrencyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.sem != nil {
			if !s.sem.TryAcquire(1) {
				writeAPIError(w, ErrTooManyConcurrentRequests)
				return
			}
			defer s.sem.Release(1)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			RecordAuthFailure("missing_token")
			writeAPIError(w, ErrUnauthorized)
			return
		}

		userID, err := s.issuer.Verify(token)
		if err != nil {
			RecordAuthFailure("invalid_token")
			writeAPIError(w, ErrUnauthorized)
			return
		}

		// reject tokens of users that no longer exist
		if _, err := s.store.UserByID(r.Context(), userID); err != nil {
			RecordAuthFailure("unknown_user")
			writeAPIError(w, ErrUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyUserID, userID) // nolint:staticcheck
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimitKey buckets authenticated requests by user ID so clients behind a
// shared proxy IP don't eat each other's budget. Anything without a valid
// token falls back to the client IP.
func (s *Server) rateLimitKey(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		if userID, err := s.issuer.Verify(token); err == nil {
			return "user:" + userID.String()
		}
	}
	return "ip:" + clientIP(r, s.ipHeaderOverride)
}

// routeLabel returns the matched route template so metrics don't explode in
// cardinality on path parameters.
func (s *Server) routeLabel(r *http.Request) string {
	var match mux.RouteMatch
	if s.router != nil && s.router.Match(r, &match) && match.Route != nil {
		if tpl, err := match.Route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func authedUserID(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(ContextKeyUserID).(uuid.UUID)
	return id
}

func clientIP(r *http.Request, headerOverride string) string {
	if headerOverride != "" {
		if ip := r.Header.Get(headerOverride); ip != "" {
			return ip
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ------------------------------------------------------------------
// Handlers

func (s *Server) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Error("healthcheck db ping failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, ErrInvalidRequest)
		return
	}

	user, err := NewUser(req.FirstName, req.LastName, req.Email, req.Username)
	if err != nil {
		writeAPIError(w, ErrValidation(err))
		return
	}
	if err := ValidatePassword(req.Password); err != nil {
		writeAPIError(w, ErrValidation(err))
		return
	}

	hash, err := HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		slog.Error("failed to hash password", "err", err)
		writeAPIError(w, ErrInternal)
		return
	}
	user.PasswordHash = hash

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			writeAPIError(w, ErrConflict(err.Error()))
			return
		}
		slog.Error("failed to create user", "err", err)
		writeAPIError(w, ErrInternal)
		return
	}

	slog.Info("registered user", "user_id", user.ID, "username", user.Username)
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, ErrInvalidRequest)
		return
	}

	user, err := s.store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			RecordAuthFailure("unknown_user")
			writeAPIError(w, ErrUnauthorized)
			return
		}
		slog.Error("failed to look up user", "err", err)
		writeAPIError(w, ErrInternal)
		return
	}

	if !CheckPassword(user.PasswordHash, req.Password) {
		RecordAuthFailure("bad_password")
		writeAPIError(w, ErrUnauthorized)
		return
	}

	token, expiresAt, err := s.issuer.Issue(user.ID)
	if err != nil {
		slog.Error("failed to issue token", "err", err)
		writeAPIError(w, ErrInternal)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	})
}

type calculationRequest struct {
	Type   string    `json:"type"`
	Inputs []float64 `json:"inputs"`
}

type calculationUpdateRequest struct {
	Inputs []float64 `json:"inputs"`
}

type calculationResponse struct {
	*Calculation
	Result float64 `json:"result"`
}

func (s *Server) HandleCreateCalculation(w http.ResponseWriter, r *http.Request) {
	var req calculationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, ErrInvalidRequest)
		return
	}

	typ, err := ParseCalculationType(req.Type)
	if err != nil {
		writeAPIError(w, ErrValidation(err))
		return
	}

	calc, err := NewCalculation(typ, authedUserID(r), req.Inputs)
	if err != nil {
		writeAPIError(w, ErrValidation(err))
		return
	}

	if err := s.store.CreateCalculation(r.Context(), calc); err != nil {
		slog.Error("failed to create calculation", "err", err)
		writeAPIError(w, ErrInternal)
		return
	}

	RecordCalculation(calc.Type)
	s.writeCalculation(w, r, http.StatusCreated, calc)
}

func (s *Server) HandleListCalculations(w http.ResponseWriter, r *http.Request) {
	calcs, err := s.store.CalculationsByUser(r.Context(), authedUserID(r))
	if err != nil {
		slog.Error("failed to list calculations", "err", err)
		writeAPIError(w, ErrInternal)
		return
	}

	out := make([]calculationResponse, 0, len(calcs))
	for _, c := range calcs {
		res, err := s.resultFor(r.Context(), c)
		if err != nil {
			slog.Error("failed to evaluate calculation", "id", c.ID, "err", err)
			writeAPIError(w, ErrInternal)
			return
		}
		out = append(out, calculationResponse{Calculation: c, Result: res})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) HandleGetCalculation(w http.ResponseWriter, r *http.Request) {
	calc, apiErr := s.calculationFromRequest(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}
	s.writeCalculation(w, r, http.StatusOK, calc)
}

func (s *Server) HandleUpdateCalculation(w http.ResponseWriter, r *http.Request) {
	var req calculationUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, ErrInvalidRequest)
		return
	}

	calc, apiErr := s.calculationFromRequest(r)
	if apiErr != nil {
		writeAPIError(w, apiErr)
		return
	}

	// the type is immutable, so updated inputs revalidate against it
	if err := ValidateInputs(calc.Type, req.Inputs); err != nil {
		writeAPIError(w, ErrValidation(err))
		return
	}

	updated, err := s.store.UpdateCalculationInputs(r.Context(), authedUserID(r), calc.ID, req.Inputs)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			writeAPIError(w, ErrCalculationNotFound)
			return
		}
		slog.Error("failed to update calculation", "id", calc.ID, "err", err)
		writeAPIError(w, ErrInternal)
		return
	}
	s.writeCalculation(w, r, http.StatusOK, updated)
}

func (s *Server) HandleDeleteCalculation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, ErrCalculationNotFound)
		return
	}

	if err := s.store.DeleteCalculation(r.Context(), authedUserID(r), id); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			writeAPIError(w, ErrCalculationNotFound)
			return
		}
		slog.Error("failed to delete calculation", "id", id, "err", err)
		writeAPIError(w, ErrInternal)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) calculationFromRequest(r *http.Request) (*Calculation, *APIError) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return nil, ErrCalculationNotFound
	}

	calc, err := s.store.CalculationByID(r.Context(), authedUserID(r), id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrCalculationNotFound
		}
		slog.Error("failed to get calculation", "id", id, "err", err)
		return nil, ErrInternal
	}
	return calc, nil
}

func (s *Server) writeCalculation(w http.ResponseWriter, r *http.Request, status int, calc *Calculation) {
	res, err := s.resultFor(r.Context(), calc)
	if err != nil {
		slog.Error("failed to evaluate calculation", "id", calc.ID, "err", err)
		writeAPIError(w, ErrInternal)
		return
	}
	writeJSON(w, status, calculationResponse{Calculation: calc, Result: res})
}

func (s *Server) resultFor(ctx context.Context, calc *Calculation) (float64, error) {
	if s.results == nil {
		return calc.Result()
	}
	return s.results.ResultFor(ctx, calc)
}

// ------------------------------------------------------------------
// Response plumbing

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("error writing response", "err", err)
	}
}

func writeAPIError(w http.ResponseWriter, apiErr *APIError) {
	writeJSON(w, apiErr.HTTPStatus, map[string]*APIError{"error": apiErr})
}
