// rotator_test.go: construction, write, and rotation-trigger coverage
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package logrotate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithDefaultsWritesAndCloses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	l, err := NewWithDefaults(path)
	require.NoError(t, err)
	defer l.Close()

	n, err := l.Write([]byte("hello\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestNewRejectsEmptyFilename(t *testing.T) {
	_, err := New("", 10, 3)
	assert.Error(t, err)
}

func TestNewSimpleStoresSizeString(t *testing.T) {
	dir := t.TempDir()
	l, err := NewSimple(filepath.Join(dir, "app.log"), "1MB", 2)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "1MB", l.MaxSizeStr)
	assert.Equal(t, 2, l.MaxBackups)
}

func TestRotateCreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	l, err := New(path, 100, 5)
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Write([]byte("first segment\n"))
	require.NoError(t, err)

	require.NoError(t, l.Rotate())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected the live file plus at least one rotated backup")
}

func TestStatsReportsWriteCount(t *testing.T) {
	dir := t.TempDir()
	l, err := NewDevelopment(filepath.Join(dir, "debug.log"))
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Write([]byte("line one\n"))
	require.NoError(t, err)
	_, err = l.Write([]byte("line two\n"))
	require.NoError(t, err)

	stats := l.Stats()
	assert.GreaterOrEqual(t, stats.WriteCount, uint64(2))
}
