package cart

import (
	"sync"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/money"
)

// StockPolicy decides how tracked stock bounds line quantities.
type StockPolicy int

const (
	// StockClamp caps every quantity at the product's stock_quantity on both Add and SetQuantity.
	StockClamp StockPolicy = iota
	// StockUnchecked leaves quantities unbounded; checkout re-checks stock before submission.
	StockUnchecked
)

type Snapshot struct {
	Lines  []domain.CartLine `json:"lines"`
	Totals money.Breakdown   `json:"totals"`
}

type Listener func(Snapshot)

// Cart holds the lines of a single checkout session.
type Cart struct {
	mu        sync.Mutex
	policy    StockPolicy
	lines     []domain.CartLine
	listeners map[int]Listener
	nextID    int
}

func New(policy StockPolicy) *Cart {
	return &Cart{
		policy:    policy,
		listeners: make(map[int]Listener),
	}
}

// Add inserts product with quantity 1 or increments the existing line. An existing
// line never shrinks: a stock cap below its quantity only stops the increment.
func (c *Cart) Add(product domain.Product) {
	c.mu.Lock()
	idx := c.indexOf(product.ID)
	changed := false
	if idx >= 0 {
		current := c.lines[idx].Quantity
		qty := max(current, c.bound(product, current+1))
		c.lines[idx].Product = product
		changed = qty != current
		c.lines[idx].Quantity = qty
	} else if c.bound(product, 1) >= 1 {
		c.lines = append(c.lines, domain.CartLine{Product: product, Quantity: 1})
		changed = true
	}
	snap, listeners := c.commitLocked(changed)
	c.mu.Unlock()
	notify(listeners, snap)
}

func (c *Cart) Remove(productID string) {
	c.mu.Lock()
	idx := c.indexOf(productID)
	if idx >= 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	}
	snap, listeners := c.commitLocked(idx >= 0)
	c.mu.Unlock()
	notify(listeners, snap)
}

// SetQuantity replaces the line quantity. n < 1 removes the line.
func (c *Cart) SetQuantity(productID string, n int) {
	if n < 1 {
		c.Remove(productID)
		return
	}

	c.mu.Lock()
	idx := c.indexOf(productID)
	changed := false
	if idx >= 0 {
		qty := c.bound(c.lines[idx].Product, n)
		if qty < 1 {
			c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
			changed = true
		} else if qty != c.lines[idx].Quantity {
			c.lines[idx].Quantity = qty
			changed = true
		}
	}
	snap, listeners := c.commitLocked(changed)
	c.mu.Unlock()
	notify(listeners, snap)
}

func (c *Cart) Clear() {
	c.mu.Lock()
	changed := len(c.lines) > 0
	c.lines = nil
	snap, listeners := c.commitLocked(changed)
	c.mu.Unlock()
	notify(listeners, snap)
}

func (c *Cart) Lines() []domain.CartLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLines(c.lines)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *Cart) Totals() money.Breakdown {
	return money.Totals(MoneyLines(c.Lines()))
}

func (c *Cart) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe registers fn for every change and returns a function that removes it.
func (c *Cart) Subscribe(fn Listener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func MoneyLines(lines []domain.CartLine) []money.Line {
	result := make([]money.Line, 0, len(lines))
	for _, line := range lines {
		result = append(result, money.Line{UnitPrice: line.Product.UnitPrice, Quantity: line.Quantity})
	}
	return result
}

func (c *Cart) bound(product domain.Product, want int) int {
	if c.policy != StockClamp || !product.TracksStock() {
		return want
	}
	stock := *product.StockQuantity
	if want > stock {
		return stock
	}
	return want
}

func (c *Cart) indexOf(productID string) int {
	for i, line := range c.lines {
		if line.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) snapshotLocked() Snapshot {
	lines := cloneLines(c.lines)
	return Snapshot{
		Lines:  lines,
		Totals: money.Totals(MoneyLines(lines)),
	}
}

func (c *Cart) commitLocked(changed bool) (Snapshot, []Listener) {
	if !changed || len(c.listeners) == 0 {
		return Snapshot{}, nil
	}
	listeners := make([]Listener, 0, len(c.listeners))
	for id := 0; id < c.nextID; id++ {
		if fn, ok := c.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	return c.snapshotLocked(), listeners
}

func notify(listeners []Listener, snap Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

func cloneLines(lines []domain.CartLine) []domain.CartLine {
	if len(lines) == 0 {
		return []domain.CartLine{}
	}
	out := make([]domain.CartLine, len(lines))
	copy(out, lines)
	return out
}
