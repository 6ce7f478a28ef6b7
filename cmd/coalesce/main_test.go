package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rshade/coalesce/internal/batch"
	"github.com/rshade/coalesce/internal/ctxtree"
)

func TestRun(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Run("Success", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"config", "validate"}, &stdout, &stderr)
		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout.String(), "Configuration is valid")
	})

	t.Run("Version", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"--version"}, &stdout, &stderr)
		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout.String(), version)
	})

	t.Run("UnknownFlag", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"bench", "--no-such-flag"}, &stdout, &stderr)
		assert.Equal(t, exitError, code)
		assert.Contains(t, stderr.String(), "Error:")
	})

	t.Run("Bench", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"bench", "--callers", "2", "--requests", "3", "--latency", "0s"}, &stdout, &stderr)
		assert.Equal(t, exitOK, code)
		assert.Contains(t, stdout.String(), "BENCH SUMMARY")
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"generic", errors.New("boom"), exitError},
		{"cancelled", fmt.Errorf("bench interrupted: %w", ctxtree.ErrCancelled), exitInterrupted},
		{"closed", fmt.Errorf("bench interrupted: %w", batch.ErrClosed), exitInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
