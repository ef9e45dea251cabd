package report

import (
	"context"
	"sync"
	"time"

	"flowershop/backend/internal/domain"
)

type Fetcher interface {
	GetReport(ctx context.Context, period domain.ReportPeriod, date time.Time) (Payload, error)
}

// State is what a report view renders. Err holds the last failed fetch so the
// view can offer a retry; Result still holds the last good data.
type State struct {
	Period    domain.ReportPeriod
	Date      time.Time
	Live      bool
	Loaded    bool
	Result    Result
	Err       error
	FetchedAt time.Time
}

type Listener func(State)

// Loader fetches and aggregates reports. Only the most recently issued fetch may
// update the state.
type Loader struct {
	fetcher    Fetcher
	aggregator *Aggregator
	now        func() time.Time

	mu        sync.Mutex
	issued    uint64
	state     State
	listeners map[int]Listener
	nextID    int
}

func NewLoader(fetcher Fetcher, aggregator *Aggregator, now func() time.Time) *Loader {
	if aggregator == nil {
		aggregator = NewAggregator()
	}
	if now == nil {
		now = time.Now
	}
	today := startOfDay(now())
	return &Loader{
		fetcher:    fetcher,
		aggregator: aggregator,
		now:        now,
		state: State{
			Period: domain.PeriodDaily,
			Date:   today,
			Result: Empty(domain.PeriodDaily, today),
		},
		listeners: make(map[int]Listener),
	}
}

// Load fetches the report for period and date. It returns the state after the call
// and whether this response was applied.
func (l *Loader) Load(ctx context.Context, period domain.ReportPeriod, date time.Time) (State, bool, error) {
	day := startOfDay(date)

	l.mu.Lock()
	l.issued++
	seq := l.issued
	l.mu.Unlock()

	payload, err := l.fetcher.GetReport(ctx, period, day)

	l.mu.Lock()
	if seq != l.issued {
		state := l.state
		l.mu.Unlock()
		return state, false, err
	}
	if err != nil {
		l.state.Err = err
		state := l.state
		listeners := l.listenersLocked()
		l.mu.Unlock()
		notify(listeners, state)
		return state, true, err
	}

	l.state = State{
		Period:    period,
		Date:      day,
		Live:      sameDay(day, l.now()),
		Loaded:    true,
		Result:    l.aggregator.Aggregate(period, day, payload),
		FetchedAt: l.now(),
	}
	state := l.state
	listeners := l.listenersLocked()
	l.mu.Unlock()

	notify(listeners, state)
	return state, true, nil
}

// Reload repeats the last load, as a manual retry does.
func (l *Loader) Reload(ctx context.Context) (State, bool, error) {
	current := l.State()
	return l.Load(ctx, current.Period, current.Date)
}

// Reset zeroes the state for period and date. In-flight fetches are invalidated.
func (l *Loader) Reset(period domain.ReportPeriod, date time.Time) {
	day := startOfDay(date)
	l.mu.Lock()
	l.issued++
	l.state = State{
		Period: period,
		Date:   day,
		Live:   sameDay(day, l.now()),
		Result: Empty(period, day),
	}
	state := l.state
	listeners := l.listenersLocked()
	l.mu.Unlock()
	notify(listeners, state)
}

func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) Subscribe(fn Listener) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

func (l *Loader) listenersLocked() []Listener {
	result := make([]Listener, 0, len(l.listeners))
	for id := 0; id < l.nextID; id++ {
		if fn, ok := l.listeners[id]; ok {
			result = append(result, fn)
		}
	}
	return result
}

func notify(listeners []Listener, state State) {
	for _, fn := range listeners {
		fn(state)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a time.Time, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
