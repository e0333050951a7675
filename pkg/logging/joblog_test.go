package logging

import (
	"errors"
	"regexp"
	"testing"
)

func TestJobLoggerLifecycle(t *testing.T) {
	dir := t.TempDir()

	jl, err := NewJobLogger(dir, "job-123", nil)
	if err != nil {
		t.Fatalf("Failed to create job logger: %v", err)
	}
	jl.Info("Starting search job job-123")
	jl.Errorf("Iteration %d failed: %s", 2, "shape mismatch")
	if err := jl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := ReadJobLog(dir, "job-123")
	if err != nil {
		t.Fatalf("ReadJobLog failed: %v", err)
	}

	line := regexp.MustCompile(`(?m)^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] \[ERROR\] Iteration 2 failed: shape mismatch$`)
	if !line.MatchString(content) {
		t.Errorf("Unexpected log content:\n%s", content)
	}

	if err := DeleteJobLog(dir, "job-123"); err != nil {
		t.Fatalf("DeleteJobLog failed: %v", err)
	}
	if _, err := ReadJobLog(dir, "job-123"); !errors.Is(err, ErrJobLogNotFound) {
		t.Errorf("Expected ErrJobLogNotFound after delete, got %v", err)
	}
	if err := DeleteJobLog(dir, "job-123"); err != nil {
		t.Errorf("Deleting a missing log should succeed, got %v", err)
	}
}

func TestJobLogPathRejectsTraversal(t *testing.T) {
	for _, id := range []string{"../etc/passwd", "a/b", ""} {
		if _, err := JobLogPath("logs", id); err == nil {
			t.Errorf("Expected error for job id %q", id)
		}
	}
}
