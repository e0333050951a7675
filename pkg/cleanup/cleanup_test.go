package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/psantana5/modelsearch/pkg/models"
	"github.com/psantana5/modelsearch/pkg/store"
)

func writeLog(t *testing.T, dir, id string) string {
	t.Helper()
	path := filepath.Join(dir, id+".log")
	if err := os.WriteFile(path, []byte("log\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".prom"), []byte("# metrics\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPruneNow(t *testing.T) {
	dir := t.TempDir()
	st := store.NewMemoryStore()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	jobs := []struct {
		id        string
		status    models.JobStatus
		completed *time.Time
		created   time.Time
		pruned    bool
	}{
		{"old-completed", models.JobStatusCompleted, &old, old, true},
		{"old-failed-no-completion", models.JobStatusFailed, nil, old, true},
		{"recent-cancelled", models.JobStatusCancelled, &recent, old, false},
		{"old-running", models.JobStatusRunning, nil, old, false},
	}
	paths := make(map[string]string)
	for _, j := range jobs {
		if err := st.CreateJob(&models.Job{ID: j.id, Status: j.status, CreatedAt: j.created, CompletedAt: j.completed}); err != nil {
			t.Fatal(err)
		}
		paths[j.id] = writeLog(t, dir, j.id)
	}

	m := NewManager(Config{Enabled: true, RetentionDays: 7, Interval: time.Hour}, st, dir, nil)
	m.now = func() time.Time { return now }

	if got := m.PruneNow(); got != 2 {
		t.Errorf("PruneNow() = %d, want 2", got)
	}
	for _, j := range jobs {
		_, err := os.Stat(paths[j.id])
		gone := os.IsNotExist(err)
		if gone != j.pruned {
			t.Errorf("%s: log removed = %v, want %v", j.id, gone, j.pruned)
		}
		_, err = os.Stat(filepath.Join(dir, j.id+".prom"))
		if os.IsNotExist(err) != j.pruned {
			t.Errorf("%s: metrics snapshot removed = %v, want %v", j.id, os.IsNotExist(err), j.pruned)
		}
	}

	stats := m.GetStats()
	if stats.TotalLogsPruned != 2 || !stats.LastRun.Equal(now) {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRunDisabledReturns(t *testing.T) {
	m := NewManager(Config{Enabled: false}, store.NewMemoryStore(), t.TempDir(), nil)
	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled manager")
	}
}

func TestRunStopsOnContext(t *testing.T) {
	m := NewManager(Config{Enabled: true, RetentionDays: 1, Interval: time.Hour}, store.NewMemoryStore(), t.TempDir(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
