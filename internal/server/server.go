// Package server provides the HTTP preview and status server for a capture
// session.
package server

import (
	"context"
	"image"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/drishti/internal/capture"
	"github.com/ayusman/drishti/internal/motion"
	"github.com/ayusman/drishti/internal/server/api"
	"github.com/ayusman/drishti/internal/sink"
	"github.com/ayusman/drishti/internal/store"
)

// Status is the JSON view of the running capture.
type Status struct {
	ID     string        `json:"id"`
	Kind   string        `json:"kind"`
	Device int           `json:"device"`
	Stereo bool          `json:"stereo"`
	State  string        `json:"state"`
	Stats  capture.Stats `json:"stats"`
	Error  string        `json:"error,omitempty"`
	Motion *motion.State `json:"motion,omitempty"`
}

// StatusProvider reports the current capture status.
type StatusProvider interface {
	Status() Status
}

// Encoder turns an image into JPEG bytes.
type Encoder func(img image.Image) ([]byte, error)

// Config holds the server configuration.
type Config struct {
	StaticDir string
	Store     *store.Store
	Status    StatusProvider
	Latest    *sink.Latest
	Encoder   Encoder
	// MaxFPS limits the MJPEG stream rate. Zero means unlimited.
	MaxFPS float64
	Logger *zap.SugaredLogger
}

// Server represents the HTTP server for a capture session.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	http   *http.Server
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.Encoder == nil {
		config.Encoder = capture.EncodeJPEG
	}

	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Status != nil {
		s.mux.HandleFunc("/api/status", s.handleStatus)
	}

	if s.config.Store != nil {
		sessions := api.NewSessionHandler(s.config.Store)
		s.mux.Handle("/api/sessions", sessions)
		s.mux.Handle("/api/sessions/", sessions)
	}

	if s.config.Latest != nil {
		s.mux.Handle("/api/stream", NewStreamHandler(s.config.Latest, s.config.Encoder, s.config.MaxFPS))
		s.mux.Handle("/api/frames", NewFramesHandler(s.config.Latest, s.config.Logger))
	}

	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

// handleStatus handles GET requests to /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	api.WriteJSON(w, http.StatusOK, s.config.Status.Status())
}

// ListenAndServe starts the HTTP server on the given address and serves until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Long-lived streams end with ctx instead of holding up Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.config.Logger.Infow("http server listening", "addr", addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}
