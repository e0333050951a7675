package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestShutdownRunsLIFO(t *testing.T) {
	m := New(time.Second, nil)

	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("pool", func(context.Context) error { order = append(order, "pool"); return nil })
	m.Register("http", func(context.Context) error { order = append(order, "http"); return nil })

	if errs := m.Shutdown(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}

	want := []string{"http", "pool", "store"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}

	select {
	case <-m.Done():
	default:
		t.Error("Done should be closed after Shutdown")
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	m := New(time.Second, nil)
	var calls int32
	m.Register("counter", func(context.Context) error { atomic.AddInt32(&calls, 1); return nil })

	m.Shutdown()
	m.Shutdown()

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	m := New(time.Second, nil)
	boom := errors.New("boom")
	m.Register("bad", func(context.Context) error { return boom })
	m.Register("good", func(context.Context) error { return nil })

	errs := m.Shutdown()
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("expected one wrapped boom error, got %v", errs)
	}
}

func TestWaitForJobs(t *testing.T) {
	var done atomic.Bool
	go func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	}()

	fn := WaitForJobs(done.Load, 5*time.Millisecond, "jobs")
	if err := fn(context.Background()); err != nil {
		t.Fatalf("WaitForJobs: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	never := WaitForJobs(func() bool { return false }, 5*time.Millisecond, "stuck")
	if err := never(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestWaitWithContextCancelled(t *testing.T) {
	m := New(time.Second, nil)
	ran := false
	m.Register("flag", func(context.Context) error { ran = true; return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.WaitWithContext(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !ran {
		t.Error("shutdown functions should run when the context ends")
	}
}
