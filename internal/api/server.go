// Fleetsight - Fleet Tracking Platform Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetsight

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/fleetsight/internal/config"
	"github.com/tomtom215/fleetsight/internal/logging"
)

const shutdownGrace = 10 * time.Second

// Server runs the console HTTP listener under supervision.
type Server struct {
	httpServer *http.Server
	addr       string
}

// NewServer wraps the routing tree in a configured http.Server.
func NewServer(router http.Handler, cfg config.ServerConfig) *Server {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	return &Server{
		addr: addr,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Timeout,
			// No WriteTimeout: it would sever long-lived WebSocket
			// connections served through the same listener.
			IdleTimeout: 120 * time.Second,
		},
	}
}

// Serve blocks until the context is canceled or the listener fails,
// matching the suture service contract. Cancellation triggers a graceful
// drain before returning.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("HTTP server shutdown incomplete, forcing close")
			_ = s.httpServer.Close()
		}
		<-errCh
		logging.Info().Msg("HTTP server stopped")
		return ctx.Err()
	}
}
