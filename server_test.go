// server_test.go: top-level Server construction and start/shutdown lifecycle
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package ringsocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agilira/ringsocket/app"
	"github.com/agilira/ringsocket/rsconfig"
	"github.com/agilira/ringsocket/rserrors"
)

func testConfig() *rsconfig.Config {
	cfg := rsconfig.NewWithDefaults()
	cfg.WorkerCount = 2
	cfg.AppCount = 2
	cfg.Ports = []rsconfig.Port{{Addr: "127.0.0.1:0"}}
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := rsconfig.NewWithDefaults() // no ports: invalid
	_, err := New(cfg, nil, app.Handlers{}, "")
	assert.Error(t, err)
}

func TestNewWiresEveryWorkerAppPair(t *testing.T) {
	cfg := testConfig()
	srv, err := New(cfg, nil, app.Handlers{}, "")
	require.NoError(t, err)
	assert.Len(t, srv.workers, cfg.WorkerCount)
	assert.Len(t, srv.apps, cfg.AppCount)
}

func TestStartAndShutdownLifecycle(t *testing.T) {
	cfg := testConfig()
	var initCalled bool
	handlers := app.Handlers{
		Init: func() rserrors.CallbackOutcome {
			initCalled = true
			return rserrors.Success()
		},
	}
	srv, err := New(cfg, nil, handlers, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	assert.True(t, initCalled)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	assert.NoError(t, srv.Shutdown(shutdownCtx))
}
