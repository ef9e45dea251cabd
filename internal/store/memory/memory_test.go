package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/store"
)

func testOrder(id, code string, at time.Time) domain.Order {
	return domain.Order{
		ID:           id,
		OrderCode:    code,
		CustomerName: "Ana",
		StaffName:    "Ben",
		Status:       domain.StatusPending,
		Items:        []domain.OrderItem{{ProductID: "prd-orchid", Name: "White Phalaenopsis Orchid", Quantity: 3, UnitPrice: decimal.RequireFromString("68.75")}},
		GrandTotal:   decimal.RequireFromString("222.75"),
		CreatedAt:    at,
	}
}

func testSale(id string, orderID *string, qty int, at time.Time) domain.SaleRecord {
	return domain.SaleRecord{
		ID:         id,
		SaleCode:   "SALE-" + id,
		OrderID:    orderID,
		Items:      []domain.OrderItem{{ProductID: "prd-orchid", Quantity: qty, UnitPrice: decimal.RequireFromString("68.75")}},
		ItemsCount: qty,
		GrandTotal: decimal.RequireFromString("68.75").Mul(decimal.NewFromInt(int64(qty))),
		CreatedAt:  at,
	}
}

func TestTransitionOrderIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	if _, err := s.CreateOrder(ctx, testOrder("ord-1", "ORD-1", now)); err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := s.TransitionOrder(ctx, "ord-1", domain.StatusInProgress, domain.StatusCompleted, now, nil); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for stale from-status, got %v", err)
	}
	updated, err := s.TransitionOrder(ctx, "ord-1", domain.StatusPending, domain.StatusInProgress, now, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if updated.Status != domain.StatusInProgress || updated.UpdatedAt == nil || updated.CompletedAt != nil {
		t.Fatalf("unexpected order after start: %+v", updated)
	}

	orderID := "ord-1"
	done := now.Add(time.Hour)
	updated, err = s.TransitionOrder(ctx, "ord-1", domain.StatusInProgress, domain.StatusCompleted, done, ptrSale(testSale("s-1", &orderID, 3, done)))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.CompletedAt == nil || !updated.CompletedAt.Equal(done) {
		t.Fatalf("expected completed_at stamp, got %+v", updated.CompletedAt)
	}
	sales, err := s.ListSalesByOrder(ctx, "ord-1")
	if err != nil || len(sales) != 1 {
		t.Fatalf("expected one sale for order, got %d (%v)", len(sales), err)
	}

	if _, err := s.TransitionOrder(ctx, "missing", domain.StatusPending, domain.StatusCancelled, now, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func ptrSale(sale domain.SaleRecord) *domain.SaleRecord {
	return &sale
}

func TestSalesDrawStockDownToZero(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()
	now := time.Now().UTC()

	if _, err := s.CreateSale(ctx, testSale("s-1", nil, 5, now)); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	product, err := s.GetProduct(ctx, "prd-orchid")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if *product.StockQuantity != 3 {
		t.Fatalf("expected 3 orchids left, got %d", *product.StockQuantity)
	}

	if _, err := s.CreateSale(ctx, testSale("s-2", nil, 10, now)); err != nil {
		t.Fatalf("create sale: %v", err)
	}
	product, _ = s.GetProduct(ctx, "prd-orchid")
	if *product.StockQuantity != 0 {
		t.Fatalf("stock must floor at zero, got %d", *product.StockQuantity)
	}

	*product.StockQuantity = 99
	again, _ := s.GetProduct(ctx, "prd-orchid")
	if *again.StockQuantity != 0 {
		t.Fatal("returned products must not alias store state")
	}
}

func TestSalesWindowIsHalfOpen(t *testing.T) {
	ctx := context.Background()
	s := New()
	day := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{day.Add(-time.Second), day, day.Add(23 * time.Hour), day.Add(24 * time.Hour)} {
		if _, err := s.CreateSale(ctx, testSale(string(rune('a'+i)), nil, 1, at)); err != nil {
			t.Fatalf("create sale: %v", err)
		}
	}

	filter := domain.SalesFilter{From: day, To: day.Add(24 * time.Hour)}
	sales, err := s.ListSales(ctx, filter)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 2 || sales[0].ID != "c" || sales[1].ID != "b" {
		t.Fatalf("expected sales c, b newest first, got %+v", sales)
	}

	summary, err := s.SalesSummary(ctx, filter)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.TransactionCount != 2 || summary.TotalItems != 2 || summary.AverageOrderValue.StringFixed(2) != "68.75" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestCreateOrderRejectsDuplicateCode(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()
	if _, err := s.CreateOrder(ctx, testOrder("ord-1", "ORD-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateOrder(ctx, testOrder("ord-2", "ORD-1", now)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := s.CreateOrder(ctx, domain.Order{ID: "ord-3"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestGetUserFindsSeededAccounts(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	admin, err := s.GetUser(ctx, "admin")
	if err != nil {
		t.Fatalf("get admin: %v", err)
	}
	if admin.Role != "admin" || !admin.Active || admin.Password == "admin123" {
		t.Fatalf("unexpected seeded admin %+v", admin)
	}
	if _, err := s.GetUser(ctx, "marisol"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "admin", Role: "staff"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}
