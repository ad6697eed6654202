// Package transport carries the challenge protocol between the decision
// engine and the embedding service over a local unix socket.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/adam-mcguinness/sup-linux/internal/protocol"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// EmbeddingService is the behavior the server exposes on the socket.
type EmbeddingService interface {
	HandleEmbedding(ctx context.Context, req protocol.EmbeddingRequest) protocol.EmbeddingResponse
	Health() protocol.HealthResponse
	Info() protocol.InfoResponse
}

// Server serves the embedding protocol on a unix socket. The socket is
// created mode 0600 so only the service user and root can connect.
type Server struct {
	socketPath string
	router     *chi.Mux
	httpServer *http.Server
	svc        EmbeddingService
	log        *zap.Logger
}

// NewServer wires the routes for one embedding service.
func NewServer(socketPath string, svc EmbeddingService, log *zap.Logger) *Server {
	r := chi.NewRouter()

	s := &Server{
		socketPath: socketPath,
		router:     r,
		svc:        svc,
		log:        log,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))
	r.Use(requestLogger(log))

	r.Post(protocol.RouteEmbedding, s.handleEmbedding)
	r.Get(protocol.RouteHealth, s.handleHealth)
	r.Get(protocol.RouteInfo, s.handleInfo)

	s.httpServer = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start listens on the unix socket and serves until Shutdown. A stale
// socket left by a previous run is removed first.
func (s *Server) Start() error {
	if dir := filepath.Dir(s.socketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating socket directory: %w", err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	s.log.Info("embedding service listening", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and closes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down embedding service")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleEmbedding(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, protocol.MaxBodyBytes)

	var req protocol.EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	respondJSON(w, http.StatusOK, s.svc.HandleEmbedding(r.Context(), req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.svc.Info())
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs served requests at debug so health polling does
// not flood the journal.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request served",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)))
		})
	}
}
