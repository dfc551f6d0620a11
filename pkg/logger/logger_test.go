package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		expectError bool
	}{
		{"default", DefaultConfig(), false},
		{"json to file", &Config{Level: DebugLevel, Format: JSONFormat, Output: FileOutput, File: "reconciler.log"}, false},
		{"bad level", &Config{Level: "loud", Format: TextFormat, Output: StderrOutput}, true},
		{"bad format", &Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"file without path", &Config{Level: InfoLevel, Format: TextFormat, Output: FileOutput}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectError && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFieldsAccumulate(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf).WithComponent("matcher").WithField("merchant_id", "M1")

	log.Warn("no candidates")

	out := buf.String()
	for _, want := range []string{"component=matcher", "merchant_id=M1", "no candidates", "level=warning"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestProgressTracker(t *testing.T) {
	var buf bytes.Buffer
	tracker := NewProgressTracker(ProgressConfig{
		Operation:   "match_receivables",
		Total:       4,
		LogInterval: time.Nanosecond,
		Logger:      New(&buf),
	})

	tracker.Add(2)
	tracker.Add(2)
	tracker.Complete()

	stats := tracker.Stats()
	if stats.Current != 4 {
		t.Errorf("expected 4 processed, got %d", stats.Current)
	}
	if stats.Percentage != 100 {
		t.Errorf("expected 100%%, got %.1f", stats.Percentage)
	}
	if !strings.Contains(buf.String(), "Operation completed") {
		t.Errorf("expected completion log, got %q", buf.String())
	}
}
