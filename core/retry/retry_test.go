package retry_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/roomops/roomops/core/faults"
	"github.com/roomops/roomops/core/retry"
)

type probe struct {
	online bool
}

func (p *probe) Online() bool { return p.online }

func TestSuccessRunsOnce(t *testing.T) {
	executor := retry.New(retry.Config{BaseDelay: time.Millisecond})
	calls := 0
	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls)
	}
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	executor := retry.New(retry.Config{BaseDelay: time.Millisecond})
	calls := 0
	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return faults.New(faults.Validation, "bad input")
	})
	if calls != 1 {
		t.Fatalf("validation failures must not be retried, got %d attempts", calls)
	}
	fault, ok := faults.AsFault(err)
	if !ok || fault.Category != faults.Validation {
		t.Fatalf("expected a validation fault, got %v", err)
	}
}

func TestRetryableRetriesUpToMaxAttempts(t *testing.T) {
	executor := retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return faults.New(faults.Network, "connection refused")
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	fault, ok := faults.AsFault(err)
	if !ok || fault.Category != faults.Network {
		t.Fatalf("expected a network fault, got %v", err)
	}
}

func TestRetryableSucceedsOnSecondAttempt(t *testing.T) {
	executor := retry.New(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond})
	calls := 0
	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestOfflineWithoutQueueFails(t *testing.T) {
	executor := retry.New(retry.Config{Probe: &probe{online: false}})
	calls := 0
	err := executor.Execute(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if calls != 0 {
		t.Fatal("offline operations must not be attempted")
	}
	fault, ok := faults.AsFault(err)
	if !ok || fault.Category != faults.Network {
		t.Fatalf("expected a network fault, got %v", err)
	}
}

func TestOfflineQueueAndReplay(t *testing.T) {
	connectivity := &probe{online: false}
	executor := retry.New(retry.Config{
		BaseDelay:    time.Millisecond,
		Probe:        connectivity,
		QueueOffline: true,
	})

	var order []string
	queue := func(label string) {
		err := executor.Execute(context.Background(), label, func(ctx context.Context) error {
			order = append(order, label)
			return nil
		})
		if !errors.Is(err, retry.ErrQueued) {
			t.Fatalf("expected ErrQueued, got %v", err)
		}
	}
	queue("first")
	queue("second")
	queue("third")
	if executor.QueueLength() != 3 {
		t.Fatalf("expected 3 queued operations, got %d", executor.QueueLength())
	}

	connectivity.online = true
	succeeded := executor.Replay(context.Background())
	if succeeded != 3 {
		t.Fatalf("expected 3 replayed operations, got %d", succeeded)
	}
	if executor.QueueLength() != 0 {
		t.Fatalf("queue must drain, %d left", executor.QueueLength())
	}
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("replay must preserve FIFO order, got %v", order)
	}
}

func TestReplayRequeuesRetryableFailures(t *testing.T) {
	connectivity := &probe{online: false}
	executor := retry.New(retry.Config{
		MaxAttempts:  2,
		BaseDelay:    time.Millisecond,
		Probe:        connectivity,
		QueueOffline: true,
	})

	executor.Execute(context.Background(), "flaky", func(ctx context.Context) error {
		return faults.New(faults.ServerError, "still down")
	})
	executor.Execute(context.Background(), "broken", func(ctx context.Context) error {
		return faults.New(faults.Validation, "bad for good")
	})

	connectivity.online = true
	succeeded := executor.Replay(context.Background())
	if succeeded != 0 {
		t.Fatalf("expected no successes, got %d", succeeded)
	}
	// the retryable failure is re-queued, the validation failure is dropped
	if executor.QueueLength() != 1 {
		t.Fatalf("expected 1 re-queued operation, got %d", executor.QueueLength())
	}
}

func TestReplayWarnsAboutDroppedOperations(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	connectivity := &probe{online: false}
	executor := retry.New(retry.Config{
		BaseDelay:    time.Millisecond,
		Probe:        connectivity,
		QueueOffline: true,
	})
	executor.Execute(context.Background(), "broken", func(ctx context.Context) error {
		return faults.New(faults.Validation, "bad for good")
	})

	connectivity.online = true
	if succeeded := executor.Replay(context.Background()); succeeded != 0 {
		t.Fatalf("expected no successes, got %d", succeeded)
	}
	if executor.QueueLength() != 0 {
		t.Fatalf("non-retryable operations must not be re-queued, %d left", executor.QueueLength())
	}

	found := false
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "broken: replay failed, dropping") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a warning for the dropped operation")
	}
}

func TestContextCancellationStopsRetries(t *testing.T) {
	executor := retry.New(retry.Config{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := executor.Execute(ctx, "op", func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if calls >= 10 {
		t.Fatalf("cancellation must stop the retry loop, got %d attempts", calls)
	}
}
