package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/idcheck/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.save_log", "req-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.save_log", "req-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "repository.save_log" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RequestID != "req-2" {
		t.Fatalf("unexpected request id: %s", opErr.RequestID)
	}
}

func TestExecuteWithRetryStopsAfterAttempts(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.aggregate_metrics", "", func() error {
		attempts++
		return transientTestError{}
	})

	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if op, ok := logging.OperationOf(err); !ok || op != "repository.aggregate_metrics" {
		t.Fatalf("unexpected operation: %q (%v)", op, ok)
	}
}

func TestExecuteWithRetryDoesNotRetryNotFound(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.find_by_request", "req-3", func() error {
		attempts++
		return ErrNotFound
	})

	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestExecuteWithRetryHonoursContext(t *testing.T) {
	repo := &VerificationRepository{
		logger:         zap.NewNop(),
		retryAttempts:  5,
		initialBackoff: time.Hour,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.executeWithRetry(ctx, "repository.save_log", "req-4", func() error {
		return transientTestError{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
