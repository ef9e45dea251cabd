package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusInProgress OrderStatus = "in-progress"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

var OrderStatuses = []OrderStatus{StatusPending, StatusInProgress, StatusCompleted, StatusCancelled}

func ParseOrderStatus(raw string) (OrderStatus, bool) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return status, true
	case "in_progress", "inprogress":
		return StatusInProgress, true
	}
	return "", false
}

func (s OrderStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentGCash PaymentMethod = "gcash"
)

func (m PaymentMethod) Accepted() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentGCash:
		return true
	}
	return false
}

const WalkInCustomer = "Walk-in Customer"

var ProductCategories = []string{"Bouquets", "Plants", "Arrangements", "Accessories"}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=32"`
	Password string `json:"password" validate:"required,max=72"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// StaffCreateRequest adds a florist account. Usernames are matched case-insensitively.
type StaffCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=32,alphanum"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// Product is owned by the catalog. StockQuantity is nil when stock is not tracked.
type Product struct {
	ID            string          `json:"id"`
	ProductCode   string          `json:"product_code"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	StockQuantity *int            `json:"stock_quantity,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Product) TracksStock() bool {
	return p.StockQuantity != nil
}

type ProductRequest struct {
	ProductCode   string          `json:"product_code" validate:"required,max=32"`
	Name          string          `json:"name" validate:"required,max=120"`
	Category      string          `json:"category" validate:"required,oneof=Bouquets Plants Arrangements Accessories"`
	Description   string          `json:"description" validate:"max=1000"`
	UnitPrice     decimal.Decimal `json:"unit_price" validate:"gt=0"`
	StockQuantity *int            `json:"stock_quantity,omitempty" validate:"omitempty,gte=0"`
}

type CartLine struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

type OrderItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity" validate:"gte=1"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderRequest is the payload produced by a successful checkout.
type OrderRequest struct {
	CustomerName  string          `json:"customer_name"`
	StaffName     string          `json:"staff_name"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItem     `json:"items" validate:"dive"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	ChangeAmount  decimal.Decimal `json:"change_amount"`
	Notes         string          `json:"notes,omitempty" validate:"max=500"`
}

type OrderReceipt struct {
	ID        string `json:"id"`
	OrderCode string `json:"order_code"`
}

type Order struct {
	ID            string          `json:"id"`
	OrderCode     string          `json:"order_code"`
	CustomerName  string          `json:"customer_name"`
	StaffName     string          `json:"staff_name"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItem     `json:"items"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	ChangeAmount  decimal.Decimal `json:"change_amount"`
	Notes         string          `json:"notes,omitempty"`
	Status        OrderStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     *time.Time      `json:"updated_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type OrderFilter struct {
	Status OrderStatus
	Search string
}

// SaleRecord is append-only. OrderID is nil for a walk-in sale.
type SaleRecord struct {
	ID            string          `json:"id"`
	SaleCode      string          `json:"sale_code"`
	SaleDate      string          `json:"sale_date"`
	SaleTime      string          `json:"sale_time"`
	OrderID       *string         `json:"order_id"`
	CustomerName  string          `json:"customer_name"`
	StaffName     string          `json:"staff_name"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItem     `json:"items"`
	ItemsCount    int             `json:"items_count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	ChangeAmount  decimal.Decimal `json:"change_amount"`
	CreatedAt     time.Time       `json:"created_at"`
}

type SalesFilter struct {
	From time.Time
	To   time.Time
}

// SalesTotals splits a sales list into order-linked and direct sales.
type SalesTotals struct {
	Count      int             `json:"count"`
	FromOrders int             `json:"from_orders"`
	Direct     int             `json:"direct"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	ItemsCount int             `json:"items_count"`
}

func SummarizeSales(sales []SaleRecord) SalesTotals {
	totals := SalesTotals{GrandTotal: decimal.Zero}
	for _, sale := range sales {
		totals.Count++
		if sale.OrderID != nil {
			totals.FromOrders++
		} else {
			totals.Direct++
		}
		totals.GrandTotal = totals.GrandTotal.Add(sale.GrandTotal)
		totals.ItemsCount += sale.ItemsCount
	}
	return totals
}

type StatsSnapshot struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

func (s StatsSnapshot) Count(status OrderStatus) int {
	switch status {
	case StatusPending:
		return s.Pending
	case StatusInProgress:
		return s.InProgress
	case StatusCompleted:
		return s.Completed
	case StatusCancelled:
		return s.Cancelled
	}
	return 0
}

// Adjust moves delta into the bucket for status, flooring at zero. Total is untouched.
func (s *StatsSnapshot) Adjust(status OrderStatus, delta int) {
	var bucket *int
	switch status {
	case StatusPending:
		bucket = &s.Pending
	case StatusInProgress:
		bucket = &s.InProgress
	case StatusCompleted:
		bucket = &s.Completed
	case StatusCancelled:
		bucket = &s.Cancelled
	default:
		return
	}
	*bucket += delta
	if *bucket < 0 {
		*bucket = 0
	}
}

func (s StatsSnapshot) Consistent() bool {
	return s.Total == s.Pending+s.InProgress+s.Completed+s.Cancelled
}

func StatsFromOrders(orders []Order) StatsSnapshot {
	var snap StatsSnapshot
	for _, order := range orders {
		snap.Total++
		snap.Adjust(order.Status, 1)
	}
	return snap
}

type Transition struct {
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	At      time.Time   `json:"at"`
}

type ReportPeriod string

const (
	PeriodDaily   ReportPeriod = "daily"
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
)

func ParseReportPeriod(raw string) (ReportPeriod, bool) {
	switch ReportPeriod(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PeriodDaily, "day":
		return PeriodDaily, true
	case PeriodWeekly, "week":
		return PeriodWeekly, true
	case PeriodMonthly, "month":
		return PeriodMonthly, true
	}
	return "", false
}

type ReportSummary struct {
	TotalSales        decimal.Decimal `json:"total_sales"`
	TransactionCount  int             `json:"transaction_count"`
	TotalItems        int             `json:"total_items"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
}

type DailyBucket struct {
	Date             string          `json:"date"`
	Revenue          decimal.Decimal `json:"revenue"`
	TransactionCount int             `json:"transactionCount"`
}

type ProductRank struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	TotalQuantity int             `json:"total_quantity"`
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
}

// SalesReport is the sales-report store payload for one period window.
type SalesReport struct {
	Period       ReportPeriod  `json:"period"`
	Date         string        `json:"date"`
	From         time.Time     `json:"from"`
	To           time.Time     `json:"to"`
	Summary      ReportSummary `json:"summary"`
	RawData      []SaleRecord  `json:"rawData"`
	TrendBuckets []DailyBucket `json:"trendBuckets,omitempty"`
	TopProducts  []ProductRank `json:"topProducts"`
}
