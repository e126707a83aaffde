// Package server exposes the claim pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devblac/quest-verify/internal/claims"
	"github.com/devblac/quest-verify/internal/config"
	"github.com/devblac/quest-verify/internal/health"
	"github.com/devblac/quest-verify/internal/storage"
	"github.com/devblac/quest-verify/internal/verify"
)

const maxBodyBytes = 1 << 20

// Claims is the pipeline the API drives.
type Claims interface {
	Submit(ctx context.Context, sub claims.Submission) (claims.Decision, error)
	Verify(ctx context.Context, req verify.Request) verify.Result
}

// LedgerLister reads recent ledger entries.
type LedgerLister interface {
	ListLedgerEntries(ctx context.Context, limit int) ([]storage.LedgerEntry, error)
}

// Server is the HTTP API.
type Server struct {
	claims  Claims
	ledger  LedgerLister
	checker health.Checker
	logger  *slog.Logger
	limiter *rateLimiter
	router  *chi.Mux
}

func New(cfg config.ServerConfig, svc Claims, ledger LedgerLister, checker health.Checker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		claims:  svc,
		ledger:  ledger,
		checker: checker,
		logger:  logger,
		router:  chi.NewRouter(),
	}
	if cfg.RateLimitRPM > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitRPM, cfg.RateLimitBurst)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases background resources.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.stop()
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RealIP)
	if s.limiter != nil {
		s.router.Use(s.limiter.middleware)
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", health.Handler(s.checker))

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/claims", s.handleSubmit)
		r.Post("/verify", s.handleVerify)
		r.Get("/ledger", s.handleLedger)
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sub claims.Submission
	if !decodeBody(w, r, &sub) {
		return
	}
	if sub.TaskID == "" || sub.ClaimantID == "" || sub.TaskType == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "taskId, taskType and claimantId are required")
		return
	}

	dec, err := s.claims.Submit(r.Context(), sub)
	if err != nil {
		s.logger.Error("submit claim", "task", sub.TaskID, "err", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "could not process the claim")
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verify.Request
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskType == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "taskType is required")
		return
	}
	writeJSON(w, http.StatusOK, s.claims.Verify(r.Context(), req))
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	entries, err := s.ledger.ListLedgerEntries(r.Context(), limit)
	if err != nil {
		s.logger.Error("list ledger", "err", err)
		writeError(w, http.StatusServiceUnavailable, string(verify.CodeLedgerUnavailable), "ledger is unavailable")
		return
	}
	if entries == nil {
		entries = []storage.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON")
		return false
	}
	return true
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start).String(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
