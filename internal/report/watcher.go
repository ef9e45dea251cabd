package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"flowershop/backend/internal/domain"
)

const DefaultRolloverInterval = time.Minute

// Watcher rolls a live daily report over to the new day after midnight.
type Watcher struct {
	loader   *Loader
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewWatcher(loader *Loader, interval time.Duration, now func() time.Time, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultRolloverInterval
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		loader:   loader,
		interval: interval,
		now:      now,
		logger:   logger.Named("rollover"),
	}
}

// Check resets and re-fetches when the loaded live daily report belongs to an
// earlier calendar day than the wall clock.
func (w *Watcher) Check(ctx context.Context) (bool, error) {
	state := w.loader.State()
	if state.Period != domain.PeriodDaily || !state.Live {
		return false, nil
	}
	now := w.now().In(state.Date.Location())
	if sameDay(state.Date, now) {
		return false, nil
	}

	today := startOfDay(now)
	w.logger.Info("calendar day advanced, reloading daily report",
		zap.String("from", state.Date.Format("2006-01-02")),
		zap.String("to", today.Format("2006-01-02")))
	w.loader.Reset(domain.PeriodDaily, today)
	_, _, err := w.loader.Load(ctx, domain.PeriodDaily, today)
	return true, err
}

// Run checks on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				w.logger.Warn("daily report reload failed", zap.Error(err))
			}
		}
	}
}
