package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"flowershop/backend/internal/cart"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/money"
	"flowershop/backend/internal/validation"
)

// Details are the form fields entered alongside the cart.
type Details struct {
	CustomerName  string
	StaffName     string
	PaymentMethod domain.PaymentMethod
	CashReceived  string
	Notes         string
}

// OrderCreator is the order-store operation a successful checkout is handed to.
type OrderCreator interface {
	CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error)
}

// Validate runs the checkout checks in order and builds the order payload.
// The lines are never modified.
func Validate(lines []domain.CartLine, details Details) (domain.OrderRequest, error) {
	if len(lines) == 0 {
		return domain.OrderRequest{}, domain.EmptyCartError{}
	}
	customer := strings.TrimSpace(details.CustomerName)
	if customer == "" {
		return domain.OrderRequest{}, domain.MissingFieldError{Field: "customer_name"}
	}
	staff := strings.TrimSpace(details.StaffName)
	if staff == "" {
		return domain.OrderRequest{}, domain.MissingFieldError{Field: "staff_name"}
	}

	for _, line := range lines {
		if line.Product.TracksStock() && line.Quantity > *line.Product.StockQuantity {
			return domain.OrderRequest{}, domain.InsufficientStockError{
				ProductID: line.Product.ID,
				Requested: line.Quantity,
				Available: *line.Product.StockQuantity,
			}
		}
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, domain.OrderItem{
			ProductID: line.Product.ID,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.Product.UnitPrice,
		})
	}

	return finalize(domain.OrderRequest{
		CustomerName:  customer,
		StaffName:     staff,
		PaymentMethod: details.PaymentMethod,
		Items:         items,
		Notes:         strings.TrimSpace(details.Notes),
	}, money.Parse(details.CashReceived))
}

// ValidateRequest re-runs the checkout rules over a decoded payload. Totals are
// recomputed from the items; client-sent totals are ignored.
func ValidateRequest(req domain.OrderRequest) (domain.OrderRequest, error) {
	if len(req.Items) == 0 {
		return domain.OrderRequest{}, domain.EmptyCartError{}
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		return domain.OrderRequest{}, domain.MissingFieldError{Field: "customer_name"}
	}
	req.StaffName = strings.TrimSpace(req.StaffName)
	if req.StaffName == "" {
		return domain.OrderRequest{}, domain.MissingFieldError{Field: "staff_name"}
	}
	if err := validation.Struct(req); err != nil {
		return domain.OrderRequest{}, fmt.Errorf("%w: %s", domain.ErrMissingField, validation.Describe(err))
	}

	items := make([]domain.OrderItem, len(req.Items))
	copy(items, req.Items)
	req.Items = items
	req.Notes = strings.TrimSpace(req.Notes)
	return finalize(req, req.CashReceived)
}

// Submit validates the cart, hands the payload to the order store, and clears the
// cart only after the store confirms creation.
func Submit(ctx context.Context, c *cart.Cart, orders OrderCreator, details Details) (domain.OrderReceipt, domain.OrderRequest, error) {
	req, err := Validate(c.Lines(), details)
	if err != nil {
		return domain.OrderReceipt{}, domain.OrderRequest{}, err
	}
	receipt, err := orders.CreateOrder(ctx, req)
	if err != nil {
		return domain.OrderReceipt{}, req, err
	}
	c.Clear()
	return receipt, req, nil
}

func finalize(req domain.OrderRequest, cash decimal.Decimal) (domain.OrderRequest, error) {
	lines := make([]money.Line, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, money.Line{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	totals := money.Totals(lines)
	req.TotalAmount = totals.Subtotal
	req.TaxAmount = totals.Tax
	req.GrandTotal = totals.GrandTotal

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(req.PaymentMethod))))
	if method == "" {
		method = domain.PaymentCash
	}
	if !method.Accepted() {
		return domain.OrderRequest{}, domain.MissingFieldError{Field: "payment_method"}
	}
	req.PaymentMethod = method

	if method != domain.PaymentCash {
		req.CashReceived = totals.GrandTotal
		req.ChangeAmount = decimal.Zero
		return req, nil
	}

	if cash.LessThan(totals.GrandTotal) {
		return domain.OrderRequest{}, domain.InsufficientPaymentError{
			Required: totals.GrandTotal,
			Received: cash,
		}
	}
	req.CashReceived = cash
	req.ChangeAmount = money.Change(cash, totals.GrandTotal)
	return req, nil
}
