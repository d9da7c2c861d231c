package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-miner/internal/forecast"
	"github.com/JakeFAU/disclosure-miner/internal/metrics"
	"github.com/JakeFAU/disclosure-miner/internal/pipeline"
)

// maxQuestionBytes bounds request bodies; questions are short.
const maxQuestionBytes = 16 << 10

// Pipeline is the part of pipeline.Service the handlers call.
type Pipeline interface {
	Answer(ctx context.Context, question string) pipeline.Result
	Reindex(ctx context.Context, question string) pipeline.ReindexSummary
	Reset(ctx context.Context, company string) (string, error)
}

// Options configures middleware.
type Options struct {
	// APIKey enables X-API-Key authentication on /v1 when non-empty.
	APIKey         string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline and the predictor.
type Server struct {
	router    chi.Router
	pipeline  Pipeline
	predictor forecast.Predictor
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(p Pipeline, predictor forecast.Predictor, logger *zap.Logger, opts Options) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 3 * time.Minute
	}
	s := &Server{
		pipeline:  p,
		predictor: predictor,
		logger:    logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/qa", s.answer)
		r.Post("/qa", s.answer)
		r.Post("/reindex", s.reindex)
		r.Get("/forecast/{symbol}", s.forecast)
		r.Delete("/collections/{company}", s.resetCollection)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type questionRequest struct {
	Question string `json:"question"`
}

func (s *Server) answer(w http.ResponseWriter, r *http.Request) {
	question, err := readQuestion(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Answer(r.Context(), question))
}

func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	question, err := readQuestion(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.pipeline.Reindex(r.Context(), question))
}

func (s *Server) forecast(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(chi.URLParam(r, "symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	if s.predictor == nil {
		writeJSON(w, http.StatusServiceUnavailable, forecast.Fallback(symbol))
		return
	}
	pred, err := forecast.PredictOrFallback(r.Context(), s.predictor, symbol, s.logger)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, pred)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) resetCollection(w http.ResponseWriter, r *http.Request) {
	company := strings.TrimSpace(chi.URLParam(r, "company"))
	if company == "" {
		writeError(w, http.StatusBadRequest, "company required")
		return
	}
	collection, err := s.pipeline.Reset(r.Context(), company)
	if err != nil {
		s.logger.Error("collection reset failed", zap.String("collection", collection), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": collection, "reset": true})
}

// readQuestion takes the question from the query string, then from a JSON body.
func readQuestion(w http.ResponseWriter, r *http.Request) (string, error) {
	if q := strings.TrimSpace(r.URL.Query().Get("question")); q != "" {
		return q, nil
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return "", errors.New("question required")
	}
	var req questionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuestionBytes))
	if err := dec.Decode(&req); err != nil {
		return "", errors.New("invalid JSON")
	}
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return "", errors.New("question required")
	}
	return q, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
