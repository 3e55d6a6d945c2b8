package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(LevelWarn, &buf)

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Error("messages below the level should be suppressed")
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Error("messages at or above the level should be written")
	}
}

func TestDefaultLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger(LevelInfo, &buf).WithField("stage", "processor")

	l.Info("chunk flushed")

	if !strings.Contains(buf.String(), "stage=processor") {
		t.Errorf("field missing from output: %q", buf.String())
	}
}

func TestWithFieldDoesNotShareState(t *testing.T) {
	var buf bytes.Buffer
	base := NewDefaultLogger(LevelInfo, &buf)
	_ = base.WithField("a", 1)

	base.Info("plain")
	if strings.Contains(buf.String(), "a=1") {
		t.Error("WithField must not mutate the parent logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNullLogger(t *testing.T) {
	var l Logger = &NullLogger{}
	l.Info("ignored")
	if l.WithField("k", "v") != l {
		t.Error("NullLogger.WithField should return itself")
	}
}
