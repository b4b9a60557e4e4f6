package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsbattig/code-indexer-sub009/internal/metrics"
	"github.com/jsbattig/code-indexer-sub009/internal/quantize"
)

// MultiplyRequest is the POST /multiply request body.
type MultiplyRequest struct {
	Vector         []float32 `json:"vector"`
	CollectionPath string    `json:"collection_path"`
}

// MultiplyResponse is the POST /multiply response body.
type MultiplyResponse struct {
	Result   []float32 `json:"result"`
	CacheHit bool      `json:"cache_hit"`
}

// HealthResponse is the GET /health response body.
type HealthResponse struct {
	Status         string  `json:"status"`
	CachedMatrices int     `json:"cached_matrices"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// StatsResponse is the GET /stats response body.
type StatsResponse struct {
	CacheSize      int    `json:"cache_size"`
	CachedMatrices []Stat `json:"cached_matrices"`
}

// Server is the resident localhost HTTP daemon serving projection
// requests out of a matrix cache.
type Server struct {
	cache     *MatrixCache
	metrics   *metrics.Registry
	startedAt time.Time
	logger    *slog.Logger

	mu          sync.Mutex
	lastRequest time.Time

	idleShutdownAfter time.Duration
	evictionInterval  time.Duration

	httpServer *http.Server
	registry   *Registry
}

// NewServer builds a Server around cache, recording into the metrics
// registry m (nil disables instrumentation) and keeping reg, the port
// registry.
func NewServer(cache *MatrixCache, reg *Registry, m *metrics.Registry, logger *slog.Logger, idleShutdownAfter, evictionInterval time.Duration) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cache:             cache,
		metrics:           m,
		startedAt:         time.Now(),
		logger:            logger,
		lastRequest:       time.Now(),
		idleShutdownAfter: idleShutdownAfter,
		evictionInterval:  evictionInterval,
		registry:          reg,
	}
}

func (s *Server) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRequest = time.Now()
}

func (s *Server) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastRequest)
}

// Mux builds the server's http.Handler.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/multiply", s.handleMultiply)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleMultiply(w http.ResponseWriter, r *http.Request) {
	s.touch()
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MultiplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	matrixPath := filepath.Join(req.CollectionPath, quantize.MatrixFileName)
	key := KeyFor(req.CollectionPath)

	m, hit := s.cache.Get(key)
	if !hit {
		loaded, err := quantize.Load(matrixPath)
		if err != nil {
			if s.metrics != nil {
				s.metrics.MultiplyRequests.WithLabelValues("not_found").Inc()
			}
			http.Error(w, fmt.Sprintf("no projection matrix at %s: %v", req.CollectionPath, err), http.StatusNotFound)
			return
		}
		m = loaded
		s.cache.Put(key, m)
		if s.metrics != nil {
			s.metrics.CacheMisses.Inc()
		}
	} else if s.metrics != nil {
		s.metrics.CacheHits.Inc()
	}

	start := time.Now()
	result, err := m.Project(req.Vector)
	if s.metrics != nil {
		s.metrics.MultiplyLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.MultiplyRequests.WithLabelValues("dimension_mismatch").Inc()
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if s.metrics != nil {
		s.metrics.MultiplyRequests.WithLabelValues("ok").Inc()
		s.metrics.CachedMatrices.Set(float64(s.cache.Len()))
	}

	writeJSON(w, http.StatusOK, MultiplyResponse{Result: result, CacheHit: hit})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		CachedMatrices: s.cache.Len(),
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		CacheSize:      s.cache.Len(),
		CachedMatrices: []Stat{},
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusAccepted)
	go s.Shutdown(context.Background())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Run binds a listener on the requested port (0 = OS-assigned), claims
// it in the host-wide registry, and serves until ctx is cancelled, a
// SIGTERM/SIGINT arrives, or the idle-shutdown scanner fires.
func (s *Server) Run(ctx context.Context, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port

	if s.registry != nil {
		claimed, existingPort, err := s.registry.Claim(actualPort, os.Getpid())
		if err != nil {
			ln.Close()
			return err
		}
		if !claimed {
			ln.Close()
			s.logger.Info("another projection service instance already owns the registry, exiting", "existing_port", existingPort)
			return nil
		}
		defer s.registry.Release()
	}

	s.httpServer = &http.Server{Handler: s.Mux()}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ticker := time.NewTicker(s.evictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return s.Shutdown(context.Background())
		case sig := <-sigCh:
			s.logger.Info("received signal, shutting down", "signal", sig.String())
			return s.Shutdown(context.Background())
		case err := <-errCh:
			return err
		case <-ticker.C:
			evicted := s.cache.EvictExpired()
			if evicted > 0 {
				s.logger.Debug("evicted expired matrix cache entries", "count", evicted)
			}
			if s.idleFor() > s.idleShutdownAfter {
				s.logger.Info("idle timeout reached, shutting down", "idle_for", s.idleFor())
				return s.Shutdown(context.Background())
			}
		}
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
