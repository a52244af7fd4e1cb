// SPDX-License-Identifier: MIT
//
// Package monitor serves live pipeline telemetry over HTTP: Prometheus
// metrics, a WebSocket stats stream and a health probe.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"csi/internal/csi"
	applog "csi/internal/log"
)

// Server hosts /metrics, /ws and /healthz.
type Server struct {
	listener  net.Listener
	server    *http.Server
	hub       *Hub
	publisher *Publisher
	stats     func() csi.Stats
}

// NewServer binds addr and prepares the handlers. metrics may be nil, in
// which case /metrics is not served.
func NewServer(addr string, interval time.Duration, stats func() csi.Stats, metrics http.Handler) (*Server, error) {
	if stats == nil {
		return nil, fmt.Errorf("monitor: stats source cannot be nil")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("monitor: failed to listen on %s: %w", addr, err)
	}

	hub := NewHub()
	publisher, err := NewPublisher(interval, hub, stats)
	if err != nil {
		ln.Close()
		hub.Close()
		return nil, err
	}

	s := &Server{
		listener:  ln,
		hub:       hub,
		publisher: publisher,
		stats:     stats,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run serves until ctx is done, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	s.publisher.Start()

	errCh := make(chan error, 1)
	go func() {
		applog.Infof("Monitor: serving on http://%s", s.listener.Addr())
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.publisher.Stop()
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		applog.Warnf("Monitor: shutdown: %v", err)
	}
	applog.Infof("Monitor: stopped")

	if serveErr != nil {
		return fmt.Errorf("monitor: serve failed: %w", serveErr)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats()); err != nil {
		applog.Warnf("Monitor: failed to encode stats: %v", err)
	}
}
