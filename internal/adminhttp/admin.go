// admin.go: the side-channel admin HTTP surface
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package adminhttp serves /healthz and /metrics on a port separate
// from any WebSocket listener (SPEC_FULL.md §B "Metrics" /
// "Admin/health HTTP surface"): an operator side-channel, never reachable by a
// client peer.
package adminhttp

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the admin HTTP listener. Ready flips once every worker and
// app thread has completed its startup handshake; until then /healthz
// reports 503 so a load balancer or orchestrator does not route
// traffic to a half-started process.
type Server struct {
	httpServer *http.Server
	ready      atomic.Bool
}

// New builds a Server bound to addr (e.g. ":9090"), registering
// /healthz and /metrics.
func New(addr string) *Server {
	s := &Server{}
	router := mux.NewRouter()
	router.Path("/healthz").Methods(http.MethodGet).HandlerFunc(s.handleHealthz)
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.Handler())
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// SetReady flips the readiness flag /healthz reports.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ListenAndServe blocks serving the admin surface until Shutdown is
// called or an unrecoverable listener error occurs.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
