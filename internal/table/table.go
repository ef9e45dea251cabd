package table

import (
	"sort"

	"github.com/shopspring/decimal"
)

const DefaultPageSize = 10

type Direction int

const (
	Ascending Direction = iota
	Descending
)

// Compare returns a negative number when a sorts before b, zero when equal.
type Compare[T any] func(a T, b T) int

type View[T any] struct {
	Rows      []T
	Page      int
	PageCount int
	PageSize  int
	TotalRows int
	PageTotal decimal.Decimal
	SortKey   string
	Direction Direction
	Empty     bool
}

// Table sorts and pages any row type. Pages are 1-based.
type Table[T any] struct {
	rows     []T
	keys     map[string]Compare[T]
	amount   func(T) decimal.Decimal
	sortKey  string
	dir      Direction
	page     int
	pageSize int
}

func New[T any](rows []T, pageSize int, amount func(T) decimal.Decimal) *Table[T] {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	t := &Table[T]{
		keys:     make(map[string]Compare[T]),
		amount:   amount,
		page:     1,
		pageSize: pageSize,
	}
	t.SetRows(rows)
	return t
}

func (t *Table[T]) AddKey(name string, cmp Compare[T]) *Table[T] {
	t.keys[name] = cmp
	return t
}

// SetRows replaces the data, keeping the current sort and clamping the page.
func (t *Table[T]) SetRows(rows []T) {
	t.rows = append([]T(nil), rows...)
	t.applySort()
	t.page = clampPage(t.page, t.PageCount())
}

// SortBy sorts by key ascending, or toggles direction when key is already selected.
// Unknown keys are ignored.
func (t *Table[T]) SortBy(key string) {
	if _, ok := t.keys[key]; !ok {
		return
	}
	if t.sortKey == key {
		if t.dir == Ascending {
			t.dir = Descending
		} else {
			t.dir = Ascending
		}
	} else {
		t.sortKey = key
		t.dir = Ascending
	}
	t.applySort()
}

func (t *Table[T]) SetPageSize(size int) {
	if size < 1 {
		size = DefaultPageSize
	}
	t.pageSize = size
	t.page = clampPage(t.page, t.PageCount())
}

// SetPage moves to page n, bounded to [1, PageCount].
func (t *Table[T]) SetPage(n int) {
	t.page = clampPage(n, t.PageCount())
}

func (t *Table[T]) PageCount() int {
	if len(t.rows) == 0 {
		return 1
	}
	return (len(t.rows) + t.pageSize - 1) / t.pageSize
}

func (t *Table[T]) View() View[T] {
	start := (t.page - 1) * t.pageSize
	end := start + t.pageSize
	if end > len(t.rows) {
		end = len(t.rows)
	}
	if start > end {
		start = end
	}
	visible := append([]T(nil), t.rows[start:end]...)

	total := decimal.Zero
	if t.amount != nil {
		for _, row := range visible {
			total = total.Add(t.amount(row))
		}
	}

	return View[T]{
		Rows:      visible,
		Page:      t.page,
		PageCount: t.PageCount(),
		PageSize:  t.pageSize,
		TotalRows: len(t.rows),
		PageTotal: total,
		SortKey:   t.sortKey,
		Direction: t.dir,
		Empty:     len(t.rows) == 0,
	}
}

func (t *Table[T]) applySort() {
	cmp, ok := t.keys[t.sortKey]
	if !ok {
		return
	}
	desc := t.dir == Descending
	sort.SliceStable(t.rows, func(i, j int) bool {
		c := cmp(t.rows[i], t.rows[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func clampPage(page int, count int) int {
	if page < 1 {
		return 1
	}
	if page > count {
		return count
	}
	return page
}
