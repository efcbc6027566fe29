package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSystemClock_SleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewSystemClock().Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep err=%v, want context.Canceled", err)
	}
}

func TestSystemClock_SleepElapses(t *testing.T) {
	t.Parallel()

	if err := NewSystemClock().Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
}
