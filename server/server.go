// Package server exposes the HTTP surface: the streaming generation relay,
// artifact download, and the media analysis endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"visionrelay/config"
	"visionrelay/core"
	"visionrelay/media"
	"visionrelay/relay"
	"visionrelay/upstream"
)

// Generator opens one upstream generation stream per request.
type Generator interface {
	Generate(ctx context.Context, prompt string) *upstream.Stream
}

// Analyzer produces analysis text from uploaded media.
type Analyzer interface {
	DescribeImage(ctx context.Context, data []byte, mime string) (string, error)
	DescribeVideo(ctx context.Context, frames [][]byte, transcript media.Transcript) (string, error)
}

// VideoProcessor extracts frames and a transcript from an uploaded video.
type VideoProcessor interface {
	Process(ctx context.Context, ws *media.Workspace, inputPath string, tr media.Transcriber) (*media.Extraction, error)
}

// Deps are the collaborators behind the handlers. Mock implementations from
// the upstream package back the server when no API key is configured.
type Deps struct {
	Generator   Generator
	Analyzer    Analyzer
	Extractor   VideoProcessor
	Transcriber media.Transcriber
}

type Server struct {
	cfg  *config.Config
	log  *zap.Logger
	deps Deps

	artifacts *core.Store
	videos    *core.Store
	relay     *relay.Relay

	httpServer *http.Server
	startedAt  time.Time
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) *Server {
	storeOpts := core.StoreOptions{
		MaxEntries: cfg.StoreMaxEntries,
		TTL:        cfg.ArtifactTTL(),
	}
	artifacts := core.NewStore(storeOpts)
	videos := core.NewStore(storeOpts)

	s := &Server{
		cfg:       cfg,
		log:       log,
		deps:      deps,
		artifacts: artifacts,
		videos:    videos,
		relay:     relay.New(artifacts, log),
		startedAt: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler builds the route table wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", s.handleGenerate)
	mux.HandleFunc("GET /artifact/{sessionId}", s.handleArtifact)
	mux.HandleFunc("POST /analyze-image", s.handleAnalyzeImage)
	mux.HandleFunc("POST /analyze-video", s.handleAnalyzeVideo)
	mux.HandleFunc("GET /media/{videoId}", s.handleMedia)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return s.withCORS(s.withLogging(mux))
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	if err := os.MkdirAll(s.cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	s.log.Info("server listening", zap.String("addr", s.cfg.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the stores' janitors.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.artifacts.Close()
	defer s.videos.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Cache-Control")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusWriter records the status code for the request log. Flush is
// forwarded so the SSE relay keeps working through the wrapper.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
