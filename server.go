// server.go: top-level Server wiring workers, apps, and the admin surface
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package ringsocket wires the worker pool, app pool, and admin HTTP
// surface described by SPEC_FULL.md into one process: Server is the
// only type most callers need (see cmd/ringsocketd for the reference
// bootstrap).
package ringsocket

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/robfig/cron/v3"

	"github.com/agilira/ringsocket/app"
	"github.com/agilira/ringsocket/internal/adminhttp"
	"github.com/agilira/ringsocket/ring"
	"github.com/agilira/ringsocket/rsconfig"
	"github.com/agilira/ringsocket/rserrors"
	"github.com/agilira/ringsocket/worker"
)

// Server owns every worker and app thread plus the admin side-channel.
// Exactly one Server exists per process (spec.md §5).
type Server struct {
	cfg *rsconfig.Config

	workers []*worker.Worker
	apps    []*app.App
	admin   *adminhttp.Server

	timeCache *timecache.TimeCache
	cron      *cron.Cron

	wg       sync.WaitGroup
	shutdown chan struct{}
	once     sync.Once
}

// New builds every worker and app thread and wires their I/O pairs,
// but does not start accepting connections or running loops — call
// Start for that. handlers is applied identically to every app thread;
// callers needing per-app behavior should build apps individually via
// the app package directly instead of this convenience constructor.
func New(cfg *rsconfig.Config, schema *app.Schema, handlers app.Handlers, adminAddr string) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		timeCache: timecache.NewWithResolution(time.Millisecond),
		shutdown:  make(chan struct{}),
	}
	if adminAddr != "" {
		s.admin = adminhttp.New(adminAddr)
	}

	for i := 0; i < cfg.WorkerCount; i++ {
		w, err := worker.NewWorker(i, tablePerWorker(cfg), cfg.MaxMessageSize, cfg.UpdateQueueSize, s.timeCache, nil)
		if err != nil {
			return nil, fmt.Errorf("ringsocket: worker %d: %w", i, err)
		}
		s.workers = append(s.workers, w)
	}
	for i := 0; i < cfg.AppCount; i++ {
		a, err := app.NewApp(uint32(i), cfg.UpdateQueueSize, cfg.ReallocMultiplier, cfg.BackpressurePolicy, cfg.MaxOutboundRingSize, schema, handlers)
		if err != nil {
			return nil, fmt.Errorf("ringsocket: app %d: %w", i, err)
		}
		s.apps = append(s.apps, a)
	}

	for wi, w := range s.workers {
		for ai, a := range s.apps {
			pair, err := ring.NewIOPair(cfg.OutboundRingInitialSize, cfg.InboundRingInitialSize, cfg.ReallocMultiplier)
			if err != nil {
				return nil, fmt.Errorf("ringsocket: I/O pair (worker %d, app %d): %w", wi, ai, err)
			}
			if err := w.AddAppLink(uint32(ai), pair); err != nil {
				return nil, err
			}
			if err := a.AddWorkerLink(uint32(wi), pair); err != nil {
				return nil, err
			}
		}
	}

	return s, nil
}

func tablePerWorker(cfg *rsconfig.Config) int {
	// Fixed capacity per worker; a real deployment should size this
	// from the expected peers-per-worker ratio rather than this default.
	return 4096 / max(1, cfg.WorkerCount)
}

// Start binds every configured Port on every worker (spec.md §6: ports
// are process-wide, but each worker accepts independently via
// SO_REUSEPORT-style listener duplication — here, one shared
// *net.TCPListener registered into every worker's epoll set, which is
// simpler and sufficient absent a documented need for per-worker
// listener sockets) and launches one goroutine per worker and per app
// running its event loop until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	for _, p := range s.cfg.Ports {
		ln, err := net.Listen("tcp", p.Addr)
		if err != nil {
			return fmt.Errorf("ringsocket: listen %s: %w", p.Addr, err)
		}
		var tlsConf *tls.Config
		if p.TLS {
			cert, err := tls.LoadX509KeyPair(p.CertFile, p.KeyFile)
			if err != nil {
				return fmt.Errorf("ringsocket: load TLS cert for %s: %w", p.Addr, err)
			}
			tlsConf = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
		}
		for _, w := range s.workers {
			if err := w.AddListener(ln, tlsConf); err != nil {
				return err
			}
		}
	}

	for _, a := range s.apps {
		if out := a.Init(); out.Kind == rserrors.CallbackFatal {
			return fmt.Errorf("ringsocket: app init failed: %v", out.Err)
		}
	}

	idleMS := -1
	if s.cfg.IdleTimerPeriod > 0 {
		idleMS = int(s.cfg.IdleTimerPeriod / time.Millisecond)
	}

	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWorker(w)
		}()
	}
	for _, a := range s.apps {
		a := a
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runApp(a, idleMS)
		}()
	}

	if s.admin != nil {
		s.admin.SetReady(true)
		go func() { _ = s.admin.ListenAndServe() }()
	}

	if s.cfg.TimerCronSchedule != "" {
		s.cron = cron.New()
		for _, a := range s.apps {
			a := a
			if _, err := s.cron.AddFunc(s.cfg.TimerCronSchedule, a.RequestTimer); err != nil {
				return fmt.Errorf("ringsocket: cron schedule %q: %w", s.cfg.TimerCronSchedule, err)
			}
		}
		s.cron.Start()
	}

	return nil
}

func (s *Server) runWorker(w *worker.Worker) {
	shuttingDown := false
	for {
		if !shuttingDown {
			select {
			case <-s.shutdown:
				shuttingDown = true
				w.Shutdown()
			default:
			}
		}
		if err := w.Run(100); err != nil {
			return
		}
		if shuttingDown && w.Drained() {
			return
		}
	}
}

func (s *Server) runApp(a *app.App, idleMS int) {
	for {
		if !a.ShuttingDown() {
			select {
			case <-s.shutdown:
				a.Shutdown()
			default:
			}
		}
		out, err := a.Run(idleMS)
		if err != nil {
			s.triggerShutdown()
			return
		}
		if out.Kind == rserrors.CallbackFatal {
			// spec.md §4.5: a FATAL callback outcome terminates the
			// server, not just this app thread. CLOSE_PEER outcomes
			// never reach here — App.Run resolves those against the
			// owning worker itself before returning.
			s.triggerShutdown()
			return
		}
		if a.ShuttingDown() {
			return
		}
	}
}

// triggerShutdown begins cooperative shutdown exactly once, whether
// requested by a caller via Shutdown or by a FATAL callback outcome
// observed inside runApp.
func (s *Server) triggerShutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// Shutdown flips the cooperative shutdown flag on every worker and app
// thread (spec.md §5) and waits, bounded by ctx, for every loop
// goroutine to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.once.Do(func() {
		if s.cron != nil {
			<-s.cron.Stop().Done()
		}
		close(s.shutdown)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.admin != nil {
		_ = s.admin.Shutdown(ctx)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
