package stats

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowershop/backend/internal/domain"
)

const DefaultRefreshDelay = 800 * time.Millisecond

type Source interface {
	GetOrderStats(ctx context.Context) (domain.StatsSnapshot, error)
}

type Listener func(domain.StatsSnapshot)

// Aggregator keeps the per-status counters. Refresh replaces the snapshot with the
// store's counts; Apply adjusts it locally right after a confirmed transition.
type Aggregator struct {
	source Source
	delay  time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	snapshot  domain.StatsSnapshot
	issued    uint64
	timer     *time.Timer
	listeners map[int]Listener
	nextID    int
}

func New(source Source, delay time.Duration, logger *zap.Logger) *Aggregator {
	if delay <= 0 {
		delay = DefaultRefreshDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		source:    source,
		delay:     delay,
		logger:    logger.Named("stats"),
		listeners: make(map[int]Listener),
	}
}

func (a *Aggregator) Snapshot() domain.StatsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

// Refresh fetches the store's counts and replaces the snapshot wholesale. A response
// that resolves after a newer refresh was issued is discarded.
func (a *Aggregator) Refresh(ctx context.Context) (bool, error) {
	a.mu.Lock()
	a.issued++
	seq := a.issued
	a.mu.Unlock()

	snap, err := a.source.GetOrderStats(ctx)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	if seq != a.issued {
		a.mu.Unlock()
		a.logger.Debug("discarding stale stats response", zap.Uint64("seq", seq))
		return false, nil
	}
	a.snapshot = snap
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, snap)
	return true, nil
}

// Apply moves one order from t.From to t.To. Buckets floor at zero; Total is unchanged.
func (a *Aggregator) Apply(t domain.Transition) domain.StatsSnapshot {
	a.mu.Lock()
	a.snapshot.Adjust(t.From, -1)
	a.snapshot.Adjust(t.To, 1)
	snap := a.snapshot
	listeners := a.listenersLocked()
	a.mu.Unlock()

	notify(listeners, snap)
	return snap
}

// ScheduleRefresh runs Refresh after the configured delay, replacing any pending one.
func (a *Aggregator) ScheduleRefresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := a.Refresh(ctx); err != nil {
			a.logger.Warn("scheduled stats refresh failed", zap.Error(err))
		}
	})
}

// Observe applies a confirmed transition and schedules the authoritative refresh.
// It matches lifecycle.Listener.
func (a *Aggregator) Observe(t domain.Transition) {
	a.Apply(t)
	a.ScheduleRefresh()
}

func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Aggregator) Subscribe(fn Listener) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.listeners, id)
		a.mu.Unlock()
	}
}

func (a *Aggregator) listenersLocked() []Listener {
	result := make([]Listener, 0, len(a.listeners))
	for id := 0; id < a.nextID; id++ {
		if fn, ok := a.listeners[id]; ok {
			result = append(result, fn)
		}
	}
	return result
}

func notify(listeners []Listener, snap domain.StatsSnapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// CompletedToday counts completed orders whose completion time falls on now's
// local calendar day. completed_at falls back to updated_at, then created_at.
func CompletedToday(orders []domain.Order, now time.Time) int {
	year, month, day := now.Date()
	loc := now.Location()
	count := 0
	for _, order := range orders {
		if order.Status != domain.StatusCompleted {
			continue
		}
		at := CompletionTime(order).In(loc)
		y, m, d := at.Date()
		if y == year && m == month && d == day {
			count++
		}
	}
	return count
}

func CompletionTime(order domain.Order) time.Time {
	if order.CompletedAt != nil && !order.CompletedAt.IsZero() {
		return *order.CompletedAt
	}
	if order.UpdatedAt != nil && !order.UpdatedAt.IsZero() {
		return *order.UpdatedAt
	}
	return order.CreatedAt
}
