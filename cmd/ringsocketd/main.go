// main.go: process bootstrap for the ringsocketd daemon
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Command ringsocketd is the reference bootstrap for the ringsocket
// server: it loads a frozen rsconfig.Config, wires a Server, and runs
// it until SIGINT/SIGTERM. Process bootstrap is out of scope for the
// core spec (spec.md §1) — this command exists so the library has a
// runnable entry point, not as a feature surface in its own right.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/agilira/ringsocket"
	"github.com/agilira/ringsocket/app"
	"github.com/agilira/ringsocket/clientid"
	"github.com/agilira/ringsocket/internal/logrotate"
	"github.com/agilira/ringsocket/rserrors"
	"github.com/agilira/ringsocket/rsconfig"
)

var v = viper.New()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ringsocketd",
		Short: "ringsocketd runs the ringsocket WebSocket server core",
		RunE:  run,
	}
	flags := cmd.Flags()
	flags.String("config", "", "path to a config file (argus-backed; json/yaml/toml)")
	flags.String("admin-addr", ":9090", "admin /healthz and /metrics listen address ('' disables it)")
	flags.String("log-file", "ringsocketd.log", "log file path (rotated via internal/logrotate)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	_ = v.BindPFlag("config", flags.Lookup("config"))
	_ = v.BindPFlag("admin-addr", flags.Lookup("admin-addr"))
	_ = v.BindPFlag("log-file", flags.Lookup("log-file"))
	_ = v.BindPFlag("log-level", flags.Lookup("log-level"))
	v.SetEnvPrefix("ringsocketd")
	v.AutomaticEnv()

	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	rotator, err := logrotate.NewWithDefaults(v.GetString("log-file"))
	if err != nil {
		return fmt.Errorf("ringsocketd: open log file: %w", err)
	}
	defer rotator.Close()

	logger := newLogger(rotator, v.GetString("log-level"))

	cfg := rsconfig.NewWithDefaults()
	if path := v.GetString("config"); path != "" {
		loaded, err := rsconfig.Load(path)
		if err != nil {
			return fmt.Errorf("ringsocketd: load config: %w", err)
		}
		cfg = loaded
	}

	level.Info(logger).Log("msg", "starting ringsocketd",
		"workers", cfg.WorkerCount, "apps", cfg.AppCount, "ports", len(cfg.Ports))

	// handlers is the reference no-op app: it only logs peer lifecycle
	// events. A real deployment builds its own app.Handlers/app.Schema
	// and calls ringsocket.New directly rather than running this binary.
	handlers := app.Handlers{
		Open: func(cid clientid.ID) rserrors.CallbackOutcome {
			level.Debug(logger).Log("msg", "peer opened", "client_id", cid.Format())
			return rserrors.Success()
		},
		Close: func(cid clientid.ID, code uint16) rserrors.CallbackOutcome {
			level.Debug(logger).Log("msg", "peer closed", "client_id", cid.Format(), "code", code)
			return rserrors.Success()
		},
	}

	srv, err := ringsocket.New(cfg, nil, handlers, v.GetString("admin-addr"))
	if err != nil {
		return fmt.Errorf("ringsocketd: build server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("ringsocketd: start: %w", err)
	}
	level.Info(logger).Log("msg", "ringsocketd running",
		"log_file", v.GetString("log-file"), "max_message_size", humanize.Bytes(uint64(cfg.MaxMessageSize)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	level.Info(logger).Log("msg", "shutting down", "correlation_id", uuid.NewString())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		level.Error(logger).Log("msg", "shutdown did not complete cleanly",
			"err", err, "correlation_id", uuid.NewString())
		return err
	}
	level.Info(logger).Log("msg", "shutdown complete")
	return nil
}

// newLogger builds the go-kit/log logger this command's own lifecycle
// log lines go through (the Server's worker and app threads are not
// given a logger): logfmt-encoded, timestamped, filtered by
// the configured level, and backed by the rotating log file.
func newLogger(w *logrotate.Logger, levelName string) log.Logger {
	base := log.NewLogfmtLogger(log.NewSyncWriter(w))
	base = log.With(base, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
	filtered := level.NewFilter(base, levelOption(levelName))
	return filtered
}

func levelOption(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
