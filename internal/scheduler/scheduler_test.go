package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockClock returns a fixed time for deterministic sweeps.
type mockClock struct {
	now time.Time
}

func (c mockClock) Now() time.Time { return c.now }

type fakeCompleter struct {
	gotNow    time.Time
	calls     int
	completed int
	err       error
}

func (f *fakeCompleter) CompleteDue(_ context.Context, now time.Time) (int, error) {
	f.calls++
	f.gotNow = now
	return f.completed, f.err
}

func TestRunCompletionSweep(t *testing.T) {
	now := time.Date(2026, 9, 12, 16, 5, 0, 0, time.UTC)
	completer := &fakeCompleter{completed: 3}

	RunCompletionSweep(context.Background(), completer, mockClock{now: now})

	if completer.calls != 1 {
		t.Fatalf("calls = %d, want 1", completer.calls)
	}
	if !completer.gotNow.Equal(now) {
		t.Errorf("sweep time = %v, want %v", completer.gotNow, now)
	}
}

func TestRunCompletionSweep_ErrorDoesNotPanic(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("ledger unavailable")}

	RunCompletionSweep(context.Background(), completer, mockClock{now: time.Now()})

	if completer.calls != 1 {
		t.Fatalf("calls = %d, want 1", completer.calls)
	}
}

func TestAddJob_Validation(t *testing.T) {
	svc, err := New()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Stop()
	})

	if _, err := svc.AddJob("", "* * * * *", func() {}); !errors.Is(err, ErrEmptyJobName) {
		t.Errorf("empty name error = %v, want ErrEmptyJobName", err)
	}
	if _, err := svc.AddJob("sweep", "  ", func() {}); !errors.Is(err, ErrEmptyCronExpr) {
		t.Errorf("empty cron error = %v, want ErrEmptyCronExpr", err)
	}
	if _, err := svc.AddJob("sweep", "not a cron", func() {}); err == nil {
		t.Error("expected error for malformed cron expression")
	}
	if _, err := svc.AddJob("sweep", "*/5 * * * *", func() {}); err != nil {
		t.Errorf("valid job: %v", err)
	}
}

func TestRegisterCompletionSweep(t *testing.T) {
	svc, err := New()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() {
		_ = svc.Stop()
	})

	if err := RegisterCompletionSweep(svc, "*/5 * * * *", &fakeCompleter{}); err != nil {
		t.Fatalf("register sweep: %v", err)
	}
	if err := RegisterCompletionSweep(svc, "", &fakeCompleter{}); !errors.Is(err, ErrEmptyCronExpr) {
		t.Errorf("empty cron error = %v, want ErrEmptyCronExpr", err)
	}
}
