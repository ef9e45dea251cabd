package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flowershop/backend/internal/domain"
)

type fetchCall struct {
	period domain.ReportPeriod
	date   time.Time
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []fetchCall
	payload Payload
	err     error
}

func (f *fakeFetcher) GetReport(_ context.Context, period domain.ReportPeriod, date time.Time) (Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{period, date})
	return f.payload, f.err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func onePayload() Payload {
	return Payload{RawData: []Record{{"grand_total": 10, "sale_time": "10:00:00"}}}
}

func TestLoaderKeepsPriorResultOnError(t *testing.T) {
	manila := time.FixedZone("PHT", 8*60*60)
	clk := &clock{now: time.Date(2026, 10, 16, 11, 0, 0, 0, manila)}
	fetcher := &fakeFetcher{payload: onePayload()}
	loader := NewLoader(fetcher, nil, clk.Now)

	state, applied, err := loader.Load(context.Background(), domain.PeriodDaily, clk.Now())
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, state.Loaded)
	require.True(t, state.Live)
	require.Equal(t, 1, state.Result.TotalOrders)
	require.Equal(t, "2026-10-16", state.Result.Date)

	fetcher.err = &domain.StoreUnavailableError{Op: "sales report", Err: errors.New("timeout")}
	state, _, err = loader.Reload(context.Background())
	require.True(t, domain.IsRetryable(err))
	require.ErrorIs(t, state.Err, domain.ErrStoreUnavailable)
	require.Equal(t, 1, state.Result.TotalOrders, "prior result must survive a failed fetch")

	fetcher.err = nil
	state, _, err = loader.Reload(context.Background())
	require.NoError(t, err)
	require.NoError(t, state.Err)
}

func TestLoaderNotifiesAndResets(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 16, 11, 0, 0, 0, time.UTC)}
	loader := NewLoader(&fakeFetcher{payload: onePayload()}, nil, clk.Now)

	var states []State
	unsubscribe := loader.Subscribe(func(s State) { states = append(states, s) })
	defer unsubscribe()

	_, _, err := loader.Load(context.Background(), domain.PeriodWeekly, time.Date(2026, 10, 1, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, states, 1)
	require.False(t, states[0].Live)
	require.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), states[0].Date)

	loader.Reset(domain.PeriodDaily, clk.Now())
	require.Len(t, states, 2)
	reset := states[1]
	require.False(t, reset.Loaded)
	require.Len(t, reset.Result.TrendSeries, 24)
	require.True(t, reset.Result.TotalRevenue.IsZero())
}

type blockingFetcher struct {
	replies chan chan fetchReply
}

type fetchReply struct {
	payload Payload
	err     error
}

func (b *blockingFetcher) GetReport(ctx context.Context, _ domain.ReportPeriod, _ time.Time) (Payload, error) {
	reply := make(chan fetchReply, 1)
	b.replies <- reply
	select {
	case r := <-reply:
		return r.payload, r.err
	case <-ctx.Done():
		return Payload{}, ctx.Err()
	}
}

func TestLoaderLastRequestWins(t *testing.T) {
	fetcher := &blockingFetcher{replies: make(chan chan fetchReply, 2)}
	loader := NewLoader(fetcher, nil, func() time.Time { return reportDay.Add(9 * time.Hour) })

	type outcome struct {
		state   State
		applied bool
	}
	slow := make(chan outcome, 1)
	go func() {
		s, applied, _ := loader.Load(context.Background(), domain.PeriodMonthly, reportDay)
		slow <- outcome{s, applied}
	}()
	slowReply := <-fetcher.replies

	fast := make(chan outcome, 1)
	go func() {
		s, applied, _ := loader.Load(context.Background(), domain.PeriodDaily, reportDay)
		fast <- outcome{s, applied}
	}()
	fastReply := <-fetcher.replies

	fastReply <- fetchReply{payload: onePayload()}
	got := <-fast
	require.True(t, got.applied)

	slowReply <- fetchReply{payload: Payload{RawData: []Record{{}, {}, {}}}}
	got = <-slow
	require.False(t, got.applied)

	final := loader.State()
	require.Equal(t, domain.PeriodDaily, final.Period)
	require.Equal(t, 1, final.Result.TotalOrders)
}

func TestWatcherRollsOverAtMidnight(t *testing.T) {
	manila := time.FixedZone("PHT", 8*60*60)
	clk := &clock{now: time.Date(2026, 10, 16, 23, 58, 0, 0, manila)}
	fetcher := &fakeFetcher{payload: onePayload()}
	loader := NewLoader(fetcher, nil, clk.Now)
	watcher := NewWatcher(loader, time.Minute, clk.Now, nil)

	_, _, err := loader.Load(context.Background(), domain.PeriodDaily, clk.Now())
	require.NoError(t, err)

	rolled, err := watcher.Check(context.Background())
	require.NoError(t, err)
	require.False(t, rolled)

	clk.Set(time.Date(2026, 10, 17, 0, 1, 0, 0, manila))
	rolled, err = watcher.Check(context.Background())
	require.NoError(t, err)
	require.True(t, rolled)

	state := loader.State()
	require.Equal(t, "2026-10-17", state.Result.Date)
	require.True(t, state.Live)
	require.Len(t, fetcher.calls, 2)
	require.Equal(t, time.Date(2026, 10, 17, 0, 0, 0, 0, manila), fetcher.calls[1].date)
}

func TestWatcherIgnoresHistoricalReports(t *testing.T) {
	clk := &clock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	fetcher := &fakeFetcher{payload: onePayload()}
	loader := NewLoader(fetcher, nil, clk.Now)
	watcher := NewWatcher(loader, time.Minute, clk.Now, nil)

	_, _, err := loader.Load(context.Background(), domain.PeriodDaily, time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	clk.Set(time.Date(2026, 10, 17, 0, 5, 0, 0, time.UTC))

	rolled, err := watcher.Check(context.Background())
	require.NoError(t, err)
	require.False(t, rolled)
	require.Len(t, fetcher.calls, 1)
}

func TestWatcherRunStopsWithContext(t *testing.T) {
	loader := NewLoader(&fakeFetcher{}, nil, nil)
	watcher := NewWatcher(loader, time.Millisecond, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, watcher.Run(ctx), context.DeadlineExceeded)
}
