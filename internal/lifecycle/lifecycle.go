package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"flowershop/backend/internal/domain"
)

var (
	ErrTransitionInFlight = errors.New("a status change for this order is already in progress")
	ErrNotConfirmed       = errors.New("cancellation was not confirmed")
)

var edges = map[domain.OrderStatus][]domain.OrderStatus{
	domain.StatusPending:    {domain.StatusInProgress, domain.StatusCancelled},
	domain.StatusInProgress: {domain.StatusCompleted, domain.StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the order state machine.
// Self-edges and edges out of terminal states are never allowed.
func CanTransition(from domain.OrderStatus, to domain.OrderStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

func Check(from domain.OrderStatus, to domain.OrderStatus) error {
	if !CanTransition(from, to) {
		return domain.InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Next lists the statuses reachable from status.
func Next(status domain.OrderStatus) []domain.OrderStatus {
	return append([]domain.OrderStatus(nil), edges[status]...)
}

type OrderStore interface {
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error
}

// Confirmer gates cancellation. Returning false aborts the cancel before any request.
type Confirmer func(ctx context.Context, order domain.Order) bool

type Listener func(domain.Transition)

type Option func(*Manager)

func WithConfirmer(confirm Confirmer) Option {
	return func(m *Manager) { m.confirm = confirm }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns the loaded order list and drives status changes through the store.
type Manager struct {
	store   OrderStore
	confirm Confirmer
	now     func() time.Time

	mu        sync.Mutex
	orders    []domain.Order
	inFlight  map[string]struct{}
	listeners map[int]Listener
	nextID    int
}

func NewManager(store OrderStore, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		now:       time.Now,
		inFlight:  make(map[string]struct{}),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load replaces the order list. On error the previous list is kept.
func (m *Manager) Load(ctx context.Context, filter domain.OrderFilter) error {
	orders, err := m.store.ListOrders(ctx, filter)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.orders = cloneOrders(orders)
	m.mu.Unlock()
	return nil
}

func (m *Manager) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneOrders(m.orders)
}

func (m *Manager) Order(id string) (domain.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexOf(id)
	if idx < 0 {
		return domain.Order{}, false
	}
	return m.orders[idx], true
}

func (m *Manager) InFlight(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.inFlight[id]
	return busy
}

func (m *Manager) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Start moves a pending order to in-progress.
func (m *Manager) Start(ctx context.Context, id string) (domain.Transition, error) {
	return m.transition(ctx, id, domain.StatusInProgress)
}

// Complete moves an in-progress order to completed. The store derives the sale record.
func (m *Manager) Complete(ctx context.Context, id string) (domain.Transition, error) {
	return m.transition(ctx, id, domain.StatusCompleted)
}

// Cancel moves a pending or in-progress order to cancelled after confirmation.
func (m *Manager) Cancel(ctx context.Context, id string) (domain.Transition, error) {
	return m.transition(ctx, id, domain.StatusCancelled)
}

func (m *Manager) transition(ctx context.Context, id string, to domain.OrderStatus) (domain.Transition, error) {
	m.mu.Lock()
	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return domain.Transition{}, domain.NotFoundError{Resource: "order", ID: id}
	}
	order := m.orders[idx]
	if _, busy := m.inFlight[id]; busy {
		m.mu.Unlock()
		return domain.Transition{}, ErrTransitionInFlight
	}
	if err := Check(order.Status, to); err != nil {
		m.mu.Unlock()
		return domain.Transition{}, err
	}
	m.inFlight[id] = struct{}{}
	m.mu.Unlock()

	release := func() {
		m.mu.Lock()
		delete(m.inFlight, id)
		m.mu.Unlock()
	}

	if to == domain.StatusCancelled {
		if m.confirm == nil || !m.confirm(ctx, order) {
			release()
			return domain.Transition{}, ErrNotConfirmed
		}
	}

	if err := m.store.UpdateOrderStatus(ctx, id, to); err != nil {
		release()
		return domain.Transition{}, err
	}

	at := m.now()
	transition := domain.Transition{OrderID: id, From: order.Status, To: to, At: at}

	m.mu.Lock()
	delete(m.inFlight, id)
	if idx := m.indexOf(id); idx >= 0 {
		updated := m.orders[idx]
		updated.Status = to
		updated.UpdatedAt = &at
		if to == domain.StatusCompleted {
			updated.CompletedAt = &at
		}
		m.orders[idx] = updated
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(transition)
	}
	return transition, nil
}

func (m *Manager) indexOf(id string) int {
	for i, order := range m.orders {
		if order.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) listenersLocked() []Listener {
	result := make([]Listener, 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			result = append(result, fn)
		}
	}
	return result
}

func cloneOrders(orders []domain.Order) []domain.Order {
	out := make([]domain.Order, len(orders))
	copy(out, orders)
	return out
}
