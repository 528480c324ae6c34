package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

const (
	shutdownTimeout = 5 * time.Second
	pruneInterval   = time.Hour
)

// pruner is implemented by journals that support retention.
type pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Run starts the listeners and blocks until ctx is cancelled, then shuts
// down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the relay on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("relay server running",
		"addr", ln.Addr().String(),
		"server_name", s.cfg.ServerName,
		"registration_timeout", s.cfg.RegistrationTimeout,
	)

	s.startMetricsHTTP()
	s.metrics.StartPeriodicLog(s.logger, s.cfg.MetricsLogInterval, s.ctx.Done())
	s.startPruner()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("server: serve: %w", err)
	}

	s.logger.Info("shutting down...")
	if err := s.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// startMetricsHTTP serves /metrics and /healthz on MetricsAddr. An empty
// address disables it.
func (s *Server) startMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return
	}
	s.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           s.metricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv := s.metricsSrv
	go func() {
		s.logger.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics HTTP error", "err", err)
		}
	}()
}

// startPruner periodically removes journal entries older than
// AuditRetention when the journal supports it.
func (s *Server) startPruner() {
	p, ok := s.journal.(pruner)
	if !ok || s.cfg.AuditRetention <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				n, err := p.Prune(s.ctx, s.cfg.AuditRetention)
				if err != nil {
					s.logger.Error("audit prune failed", "err", err)
					continue
				}
				if n > 0 {
					s.logger.Info("audit pruned", "removed", n)
				}
			}
		}
	}()
}

// Shutdown stops the listeners, closes every connection with going-away and
// closes the journal. Calls after the first return the first result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		// hijacked WebSocket connections are not tracked by http.Server
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: http shutdown: %w", err))
		}
	}
	if n := s.sessions.CloseAll("server shutdown"); n > 0 {
		s.logger.Info("closed connections", "count", n)
	}
	if s.metricsSrv != nil {
		_ = s.metricsSrv.Close()
	}
	if err := s.journal.Close(); err != nil {
		errs = append(errs, fmt.Errorf("server: close journal: %w", err))
	}
	return errors.Join(errs...)
}
