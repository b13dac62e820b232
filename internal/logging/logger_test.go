package logging

import (
	"testing"

	"go.uber.org/zap"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true, "")
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected development logger to enable debug")
	}
	logger.Info("development logger ready")
}

// TestNewProductionLoggerLevel ensures the level override is applied.
func TestNewProductionLoggerLevel(t *testing.T) {
	t.Parallel()

	logger, err := New(false, "warn")
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if logger.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info to be disabled at warn level")
	}
	if !logger.Core().Enabled(zap.WarnLevel) {
		t.Fatal("expected warn to be enabled")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	t.Parallel()

	if _, err := New(false, "loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
