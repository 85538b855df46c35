package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opencourse/progress-engine/internal/config"
	"github.com/opencourse/progress-engine/internal/progress"
	"github.com/opencourse/progress-engine/internal/store"
)

// EventQueue is the dispatcher surface the server needs.
type EventQueue interface {
	Enqueue(evt progress.Event) error
	Flush()
}

// Server wires HTTP handlers to the dispatcher and the record store.
type Server struct {
	router chi.Router
	queue  EventQueue
	store  store.RecordStore
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(queue EventQueue, st store.RecordStore, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:  queue,
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(30 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.submitEvent)
		r.Post("/flush", s.flush)
		r.Get("/users/{user_id}/courses/{course_id}/progress", s.getCourseProgress)
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

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// submitEvent acknowledges acceptance into the coalescing buffer, not
// persistence; the pipeline is at-most-once between here and the store.
func (s *Server) submitEvent(w http.ResponseWriter, r *http.Request) {
	var evt progress.Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.queue.Enqueue(evt); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) flush(w http.ResponseWriter, _ *http.Request) {
	s.queue.Flush()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "flushing"})
}

func (s *Server) getCourseProgress(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	courseID := chi.URLParam(r, "course_id")
	rollup, err := s.store.GetCourseProgress(r.Context(), userID, courseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "course progress not found")
			return
		}
		s.logger.Error("course progress read failed",
			zap.String("user_id", userID),
			zap.String("course_id", courseID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to fetch course progress")
		return
	}
	writeJSON(w, http.StatusOK, courseProgressResponse{
		UserID:         rollup.UserID,
		CourseID:       rollup.CourseID,
		Progress:       rollup.Progress,
		TimeSpent:      rollup.TimeSpent,
		IsCompleted:    rollup.IsCompleted,
		LastAccessedAt: rollup.LastAccessedAt,
	})
}

type courseProgressResponse struct {
	UserID         string    `json:"user_id"`
	CourseID       string    `json:"course_id"`
	Progress       float64   `json:"progress"`
	TimeSpent      int64     `json:"time_spent"`
	IsCompleted    bool      `json:"is_completed"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("panic", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
