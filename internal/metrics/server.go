package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/pcapflow/internal/logging"
)

// Server serves /metrics and /healthz while a run executes.
type Server struct {
	server *http.Server
	logger *zap.Logger
	ln     net.Listener
	errCh  chan error
}

// Handler returns the mux served by Server.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// NewServer configures a metrics listener on addr.
func NewServer(addr string, g prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	errLog, _ := zap.NewStdLogAt(logger, zapcore.ErrorLevel)

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           Handler(g),
			ErrorLog:          errLog,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		},
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	s.ln = ln
	s.logger.Info("metrics listening", logging.Addr(ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.server.Addr
}

// Shutdown stops the listener, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) {
	if s.ln == nil {
		return
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("metrics shutdown error", zap.Error(err))
	}
	if err, ok := <-s.errCh; ok && err != nil {
		s.logger.Warn("metrics server exited", zap.Error(err))
	}
}
