package wait

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUntilSucceedsWhenConditionBecomesTrue(t *testing.T) {
	t.Parallel()
	ctx, cancel := WithDeadline(context.Background(), time.Second)
	defer cancel()

	calls := 0
	err := Until(ctx, "test condition", func(ctx context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls < 3 {
		t.Errorf("expected at least 3 polls, got %d", calls)
	}
}

func TestUntilTimesOut(t *testing.T) {
	t.Parallel()
	ctx, cancel := WithDeadline(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := Until(ctx, "never true", func(ctx context.Context) (bool, error) {
		return false, nil
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestUntilPropagatesConditionError(t *testing.T) {
	t.Parallel()
	ctx, cancel := WithDeadline(context.Background(), time.Second)
	defer cancel()

	wantErr := errors.New("evaluate failed")
	err := Until(ctx, "broken condition", func(ctx context.Context) (bool, error) {
		return false, wantErr
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestForVisibleWrapsUntil(t *testing.T) {
	t.Parallel()
	ctx, cancel := WithDeadline(context.Background(), time.Second)
	defer cancel()
	err := ForVisible(ctx, func(ctx context.Context) (bool, error) { return true, nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
