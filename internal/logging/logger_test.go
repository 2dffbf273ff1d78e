// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestNewWithLevel checks level parsing, including the rejection path.
func TestNewWithLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewWithLevel(false, "warn")
	if err != nil {
		t.Fatalf("NewWithLevel(warn) error = %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("info should be disabled at warn level")
	}

	if _, err := NewWithLevel(false, "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
