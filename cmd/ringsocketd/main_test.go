// main_test.go: flag wiring and log-level helpers
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"testing"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingLogger captures every Log call it receives, so the tests below
// can assert on what a level.NewFilter actually let through rather than
// comparing level.Option values (which are unexported func types).
type recordingLogger struct{ calls [][]interface{} }

func (r *recordingLogger) Log(keyvals ...interface{}) error {
	r.calls = append(r.calls, keyvals)
	return nil
}

var _ log.Logger = (*recordingLogger)(nil)

func TestNewRootCmdRegistersFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "admin-addr", "log-file", "log-level"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "flag %q should be registered", name)
	}

	addr, err := cmd.Flags().GetString("admin-addr")
	assert.NoError(t, err)
	assert.Equal(t, ":9090", addr)

	logFile, err := cmd.Flags().GetString("log-file")
	assert.NoError(t, err)
	assert.Equal(t, "ringsocketd.log", logFile)
}

func TestLevelOptionDebugAllowsEverything(t *testing.T) {
	rec := &recordingLogger{}
	filtered := level.NewFilter(rec, levelOption("debug"))

	require.NoError(t, level.Debug(filtered).Log("msg", "d"))
	require.NoError(t, level.Info(filtered).Log("msg", "i"))
	require.NoError(t, level.Warn(filtered).Log("msg", "w"))
	require.NoError(t, level.Error(filtered).Log("msg", "e"))
	assert.Len(t, rec.calls, 4)
}

func TestLevelOptionWarnDropsDebugAndInfo(t *testing.T) {
	rec := &recordingLogger{}
	filtered := level.NewFilter(rec, levelOption("warn"))

	require.NoError(t, level.Debug(filtered).Log("msg", "d"))
	require.NoError(t, level.Info(filtered).Log("msg", "i"))
	require.NoError(t, level.Warn(filtered).Log("msg", "w"))
	require.NoError(t, level.Error(filtered).Log("msg", "e"))
	assert.Len(t, rec.calls, 2)
}

func TestLevelOptionErrorOnlyAllowsError(t *testing.T) {
	rec := &recordingLogger{}
	filtered := level.NewFilter(rec, levelOption("error"))

	require.NoError(t, level.Debug(filtered).Log("msg", "d"))
	require.NoError(t, level.Info(filtered).Log("msg", "i"))
	require.NoError(t, level.Warn(filtered).Log("msg", "w"))
	require.NoError(t, level.Error(filtered).Log("msg", "e"))
	assert.Len(t, rec.calls, 1)
}

func TestLevelOptionDefaultsToInfo(t *testing.T) {
	for _, name := range []string{"info", "nonsense", ""} {
		rec := &recordingLogger{}
		filtered := level.NewFilter(rec, levelOption(name))

		require.NoError(t, level.Debug(filtered).Log("msg", "d"))
		require.NoError(t, level.Info(filtered).Log("msg", "i"))
		assert.Len(t, rec.calls, 1, "levelOption(%q) should allow info but not debug", name)
	}
}
