package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerComponentAndProjectFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	log.NewComponentLogger("assembler").WithProject("cake-shop").Info().Msg("tree promoted")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, `"component":"assembler"`) {
		t.Errorf("component field missing: %s", line)
	}
	if !strings.Contains(line, `"project":"cake-shop"`) {
		t.Errorf("project field missing: %s", line)
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "error"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	ctx := log.WithContext(context.Background())
	if FromContext(ctx) != log {
		t.Error("logger did not round-trip through the context")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected a fallback logger for a bare context")
	}
}

func TestParseLogLevelUnknownDefaultsToInfo(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "chatty"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if log == nil {
		t.Fatal("expected a logger")
	}
}
