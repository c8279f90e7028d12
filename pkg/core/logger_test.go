package core

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"DEBUG", LogLevelDebug},
		{"info", LogLevelInfo},
		{"warn", LogLevelWarn},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
		{"silent", LogLevelSilent},
		{"off", LogLevelSilent},
		{"bogus", LogLevelInfo},
		{"", LogLevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.name); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDefaultLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger("test", LogLevelWarn)
	logger.SetOutput(&buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") {
		t.Error("Debug should be filtered at warn level")
	}
	if strings.Contains(out, "info message") {
		t.Error("Info should be filtered at warn level")
	}
	if !strings.Contains(out, "warn message") {
		t.Error("Warn should be logged at warn level")
	}
	if !strings.Contains(out, "error message") {
		t.Error("Error should be logged at warn level")
	}
}

func TestDefaultLoggerPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger("easm-export", LogLevelInfo)
	logger.SetOutput(&buf)

	logger.Info("hello %s", "world")

	out := buf.String()
	if !strings.Contains(out, "[easm-export] [INFO] hello world") {
		t.Errorf("output = %q, want prefix, level and formatted message", out)
	}
}

func TestDefaultLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewDefaultLogger("", LogLevelSilent)
	logger.SetOutput(&buf)

	logger.Error("dropped")
	if buf.Len() != 0 {
		t.Errorf("silent logger wrote %q", buf.String())
	}

	logger.SetLevel(LogLevelError)
	logger.Error("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Error("error should be logged after SetLevel(LogLevelError)")
	}
}

func TestNopLogger(t *testing.T) {
	var logger Logger = &NopLogger{}
	// Must not panic.
	logger.Debug("a")
	logger.Info("b")
	logger.Warn("c")
	logger.Error("d")
}
