package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("FLOWERSHOP_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set FLOWERSHOP_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestCompleteOrderAppendsSaleAndDrawsStock(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-it-%d", stamp)
	orderID := fmt.Sprintf("ord-it-%d", stamp)
	saleID := fmt.Sprintf("sal-it-%d", stamp)
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	qty := 5
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, ProductCode: fmt.Sprintf("IT-%d", stamp), Name: "Integration Rose", Category: "Bouquets",
		UnitPrice: decimal.RequireFromString("10.00"), StockQuantity: &qty, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	items := []domain.OrderItem{{ProductID: productID, Name: "Integration Rose", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")}}
	if _, err := s.CreateOrder(ctx, domain.Order{
		ID: orderID, OrderCode: fmt.Sprintf("ORD-IT-%d", stamp), CustomerName: "Ana", StaffName: "Ben",
		PaymentMethod: domain.PaymentCash, Items: items,
		TotalAmount: decimal.RequireFromString("20.00"), TaxAmount: decimal.RequireFromString("1.60"),
		GrandTotal: decimal.RequireFromString("21.60"), CashReceived: decimal.RequireFromString("25.00"),
		ChangeAmount: decimal.RequireFromString("3.40"), Status: domain.StatusInProgress, CreatedAt: now,
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}

	sale := domain.SaleRecord{
		ID: saleID, SaleCode: fmt.Sprintf("SAL-IT-%d", stamp), SaleDate: now.Format("2006-01-02"), SaleTime: now.Format("15:04:05"),
		OrderID: &orderID, CustomerName: "Ana", StaffName: "Ben", PaymentMethod: domain.PaymentCash, Items: items, ItemsCount: 2,
		TotalAmount: decimal.RequireFromString("20.00"), TaxAmount: decimal.RequireFromString("1.60"),
		GrandTotal: decimal.RequireFromString("21.60"), CashReceived: decimal.RequireFromString("25.00"),
		ChangeAmount: decimal.RequireFromString("3.40"), CreatedAt: now,
	}
	order, err := s.TransitionOrder(ctx, orderID, domain.StatusInProgress, domain.StatusCompleted, now, &sale)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.StatusCompleted || order.CompletedAt == nil {
		t.Fatalf("expected completed order with completed_at, got %+v", order)
	}

	if _, err := s.TransitionOrder(ctx, orderID, domain.StatusInProgress, domain.StatusCompleted, now, nil); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on stale transition, got %v", err)
	}

	sales, err := s.ListSalesByOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 || !sales[0].GrandTotal.Equal(decimal.RequireFromString("21.60")) {
		t.Fatalf("expected one linked sale of 21.60, got %+v", sales)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.StockQuantity == nil || *product.StockQuantity != 3 {
		t.Fatalf("expected stock 3 after sale, got %v", product.StockQuantity)
	}
}
