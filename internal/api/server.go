// Package api exposes the counting pipeline over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/beltline-data/conveyor.report/internal/config"
	"github.com/beltline-data/conveyor.report/internal/count"
	"github.com/beltline-data/conveyor.report/internal/monitoring"
	"github.com/beltline-data/conveyor.report/internal/session"
	"github.com/beltline-data/conveyor.report/internal/stats"
	"github.com/beltline-data/conveyor.report/internal/storage"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server wires the registry, job manager, aggregator and store behind the
// HTTP API. The store may be nil for in-memory-only deployments.
type Server struct {
	registry *session.Registry
	jobs     *session.Manager
	agg      *stats.Aggregator
	store    *storage.Store
	tuning   *config.TuningConfig

	uploadDir string
}

// NewServer creates a server over the given pipeline components.
func NewServer(registry *session.Registry, jobs *session.Manager, agg *stats.Aggregator, store *storage.Store, tuning *config.TuningConfig) *Server {
	if tuning == nil {
		tuning = config.EmptyTuningConfig()
	}
	return &Server{
		registry: registry,
		jobs:     jobs,
		agg:      agg,
		store:    store,
		tuning:   tuning,
	}
}

// RecordEvents folds events into the aggregator and, when a store is
// configured, persists them. Used as the job manager's event sink and by
// the synchronous detections handler.
func (s *Server) RecordEvents(events ...count.CountEvent) {
	for _, ev := range events {
		s.agg.Record(ev)
		if s.store != nil {
			if err := s.store.InsertCountEvent(ev); err != nil {
				monitoring.Logf("persist event %s: %v", ev.ID, err)
			}
		}
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/contexts", s.handleContexts)
	mux.HandleFunc("/api/tracks", s.handleTracks)
	mux.HandleFunc("/api/detections", s.handleDetections)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobByID)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/upload", s.handleUpload)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok\n"))
}
