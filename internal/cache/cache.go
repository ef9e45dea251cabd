package cache

import (
	"context"
	"errors"
	"time"

	"flowershop/backend/internal/domain"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("resource is locked")

// ReportCache stores finished sales reports for periods that can no longer change.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.SalesReport, bool, error)
	Set(ctx context.Context, key string, value *domain.SalesReport, ttl time.Duration) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.SalesReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.SalesReport, _ time.Duration) error {
	return nil
}

// Locker hands out short-lived exclusive locks keyed by resource.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
