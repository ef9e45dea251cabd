package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLocalLockerRejectsSecondHolderUntilReleased(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "order:1", time.Second)
	if err != nil {
		t.Fatalf("first obtain: %v", err)
	}
	if _, err := locker.Obtain(ctx, "order:1", time.Second); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if _, err := locker.Obtain(ctx, "order:2", time.Second); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}

	release()
	release()

	again, err := locker.Obtain(ctx, "order:1", time.Second)
	if err != nil {
		t.Fatalf("obtain after release: %v", err)
	}
	again()
}

func TestNoopReportCacheAlwaysMisses(t *testing.T) {
	var c ReportCache = NoopReportCache{}
	if err := c.Set(context.Background(), "k", nil, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.Get(context.Background(), "k"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
}
