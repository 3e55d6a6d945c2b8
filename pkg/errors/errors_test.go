package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExportErrorFormat(t *testing.T) {
	err := Wrap(CodeIO, "write failed", fmt.Errorf("disk full")).
		WithStage("processor").
		WithSuggestion("free disk space")

	msg := err.Error()
	for _, want := range []string{"IO_ERROR", "processor", "write failed", "disk full", "free disk space"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q missing %q", msg, want)
		}
	}
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("outer: %w", CorruptData("truncated chunk"))

	if !errors.Is(err, ErrCorruptData) {
		t.Error("wrapped CORRUPT_DATA should match sentinel")
	}
	if errors.Is(err, ErrIO) {
		t.Error("CORRUPT_DATA should not match IO sentinel")
	}
	if Code(err) != CodeCorruptData {
		t.Errorf("Code = %q, want %q", Code(err), CodeCorruptData)
	}
}

func TestRetryablePolicy(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{OutOfMemory(1024, 512), true},
		{Wrap(CodeIO, "transient", nil), true},
		{CorruptData("checksum mismatch"), false},
		{UnsupportedVersion(9, 1), false},
		{Config("zero workers"), false},
		{New(CodeCancelled, "cancelled"), false},
		{fmt.Errorf("plain error"), false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.retryable {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.retryable)
		}
	}
}

func TestStageAndSuggestionAccessors(t *testing.T) {
	err := OutOfMemory(100, 50).WithStage("collector")
	if Stage(err) != "collector" {
		t.Errorf("Stage = %q", Stage(err))
	}
	if Suggestion(err) == "" {
		t.Error("OutOfMemory should carry a suggestion")
	}
	if Suggestion(errors.New("plain")) != "" {
		t.Error("plain error should have no suggestion")
	}
}

func TestWithStageDoesNotMutate(t *testing.T) {
	base := New(CodeIO, "base")
	staged := base.WithStage("writer")
	if base.Stage != "" {
		t.Error("WithStage must not mutate the receiver")
	}
	if staged.Stage != "writer" {
		t.Error("WithStage should set stage on the copy")
	}
}
