// parse_test.go: size and duration string parsing
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package rsconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSizeRawNumber(t *testing.T) {
	n, err := ParseSize("1024")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
}

func TestParseSizeUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"64KB", 64 * 1024},
		{"16mb", 16 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"2K", 2 * 1024},
		{"3M", 3 * 1024 * 1024},
		{"1G", 1024 * 1024 * 1024},
	}
	for _, c := range cases {
		n, err := ParseSize(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, n, c.in)
	}
}

func TestParseSizeErrors(t *testing.T) {
	_, err := ParseSize("")
	assert.Error(t, err)

	_, err = ParseSize("64XB")
	assert.Error(t, err)

	_, err = ParseSize("abcKB")
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("30s")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = ParseDuration("")
	assert.Error(t, err)

	_, err = ParseDuration("not-a-duration")
	assert.Error(t, err)
}
