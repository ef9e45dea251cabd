package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	productCodes    map[string]string
	ordersByID      map[string]domain.Order
	orderCodes      map[string]string
	sales           []domain.SaleRecord
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		productCodes:    make(map[string]string),
		ordersByID:      make(map[string]domain.Order),
		orderCodes:      make(map[string]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo staff accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD, with dev defaults when unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func stock(n int) *int {
	return &n
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	products := []domain.Product{
		{ID: "prd-rose-dozen", ProductCode: "BQ-001", Name: "Red Rose Dozen", Category: "Bouquets", Description: "Twelve long-stem red roses", UnitPrice: decimal.RequireFromString("89.99"), StockQuantity: stock(25)},
		{ID: "prd-sunflower", ProductCode: "BQ-002", Name: "Sunflower Sunshine", Category: "Bouquets", Description: "Hand-tied sunflowers with greenery", UnitPrice: decimal.RequireFromString("54.50"), StockQuantity: stock(18)},
		{ID: "prd-tulip-mix", ProductCode: "BQ-003", Name: "Spring Tulip Mix", Category: "Bouquets", Description: "Seasonal tulips in pastel tones", UnitPrice: decimal.RequireFromString("47.25"), StockQuantity: stock(30)},
		{ID: "prd-peace-lily", ProductCode: "PL-001", Name: "Peace Lily", Category: "Plants", Description: "Potted peace lily, 6 inch", UnitPrice: decimal.RequireFromString("32.00"), StockQuantity: stock(12)},
		{ID: "prd-orchid", ProductCode: "PL-002", Name: "White Phalaenopsis Orchid", Category: "Plants", Description: "Double-spike orchid in ceramic pot", UnitPrice: decimal.RequireFromString("68.75"), StockQuantity: stock(8)},
		{ID: "prd-succulent", ProductCode: "PL-003", Name: "Succulent Trio", Category: "Plants", Description: "Three succulents in a wooden box", UnitPrice: decimal.RequireFromString("24.99"), StockQuantity: stock(40)},
		{ID: "prd-centerpiece", ProductCode: "AR-001", Name: "Table Centerpiece", Category: "Arrangements", Description: "Low arrangement for dining tables", UnitPrice: decimal.RequireFromString("75.00"), StockQuantity: stock(10)},
		{ID: "prd-sympathy", ProductCode: "AR-002", Name: "Sympathy Wreath", Category: "Arrangements", Description: "Standing wreath with lilies and roses", UnitPrice: decimal.RequireFromString("149.00"), StockQuantity: stock(4)},
		{ID: "prd-vase", ProductCode: "AC-001", Name: "Glass Vase", Category: "Accessories", Description: "Clear cylinder vase, 10 inch", UnitPrice: decimal.RequireFromString("15.50")},
		{ID: "prd-card", ProductCode: "AC-002", Name: "Greeting Card", Category: "Accessories", Description: "Blank card with envelope", UnitPrice: decimal.RequireFromString("4.25")},
		{ID: "prd-ribbon", ProductCode: "AC-003", Name: "Satin Ribbon", Category: "Accessories", Description: "Two metres of satin ribbon", UnitPrice: decimal.RequireFromString("3.75")},
		{ID: "prd-chocolate", ProductCode: "AC-004", Name: "Chocolate Box", Category: "Accessories", Description: "Twelve assorted truffles", UnitPrice: decimal.RequireFromString("18.90"), StockQuantity: stock(20)},
	}

	s := New()
	for _, p := range products {
		p.CreatedAt = now
		p.UpdatedAt = now
		s.products[p.ID] = p
		s.productCodes[strings.ToUpper(p.ProductCode)] = p.ID
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, cloneProduct(p))
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		if c := strings.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	clone := cloneProduct(p)
	return &clone, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.ProductCode == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code := strings.ToUpper(product.ProductCode)
	if _, exists := s.productCodes[code]; exists {
		return nil, fmt.Errorf("%w: product code %s already exists", store.ErrConflict, product.ProductCode)
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
	}
	s.products[product.ID] = cloneProduct(product)
	s.productCodes[code] = product.ID
	clone := cloneProduct(product)
	return &clone, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
	}
	newCode := strings.ToUpper(product.ProductCode)
	oldCode := strings.ToUpper(existing.ProductCode)
	if newCode != oldCode {
		if owner, exists := s.productCodes[newCode]; exists && owner != product.ID {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrConflict, product.ProductCode)
		}
		delete(s.productCodes, oldCode)
		s.productCodes[newCode] = product.ID
	}
	product.CreatedAt = existing.CreatedAt
	s.products[product.ID] = cloneProduct(product)
	clone := cloneProduct(product)
	return &clone, nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[id]
	if !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	delete(s.products, id)
	delete(s.productCodes, strings.ToUpper(existing.ProductCode))
	return nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.OrderCode == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orderCodes[order.OrderCode]; exists {
		return nil, fmt.Errorf("%w: order code %s already exists", store.ErrConflict, order.OrderCode)
	}
	s.ordersByID[order.ID] = cloneOrder(order)
	s.orderCodes[order.OrderCode] = order.ID
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		if needle != "" && !orderMatches(order, needle) {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.OrderCode, b.OrderCode)
	})
	return result, nil
}

func (s *Store) TransitionOrder(_ context.Context, id string, from domain.OrderStatus, to domain.OrderStatus, at time.Time, sale *domain.SaleRecord) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	if order.Status != from {
		return nil, fmt.Errorf("%w: order %s is %s, not %s", store.ErrConflict, id, order.Status, from)
	}

	order.Status = to
	order.UpdatedAt = &at
	if to == domain.StatusCompleted {
		order.CompletedAt = &at
	}
	s.ordersByID[id] = order

	if sale != nil {
		s.appendSaleLocked(*sale)
	}
	clone := cloneOrder(order)
	return &clone, nil
}

func (s *Store) OrderStats(_ context.Context) (domain.StatsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		orders = append(orders, order)
	}
	return domain.StatsFromOrders(orders), nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	if sale.ID == "" || sale.SaleCode == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendSaleLocked(sale)
	clone := cloneSale(sale)
	return &clone, nil
}

// appendSaleLocked records the sale and draws tracked stock down, never below zero.
func (s *Store) appendSaleLocked(sale domain.SaleRecord) {
	s.sales = append(s.sales, cloneSale(sale))
	for _, item := range sale.Items {
		p, ok := s.products[item.ProductID]
		if !ok || p.StockQuantity == nil {
			continue
		}
		remaining := max(*p.StockQuantity-item.Quantity, 0)
		p.StockQuantity = &remaining
		p.UpdatedAt = sale.CreatedAt
		s.products[p.ID] = p
	}
}

func (s *Store) ListSales(_ context.Context, filter domain.SalesFilter) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, len(s.sales))
	for _, sale := range s.sales {
		if inWindow(sale.CreatedAt, filter) {
			result = append(result, cloneSale(sale))
		}
	}
	sortSales(result)
	return result, nil
}

func (s *Store) ListSalesByOrder(_ context.Context, orderID string) ([]domain.SaleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SaleRecord, 0, 1)
	for _, sale := range s.sales {
		if sale.OrderID != nil && *sale.OrderID == orderID {
			result = append(result, cloneSale(sale))
		}
	}
	sortSales(result)
	return result, nil
}

func (s *Store) SalesSummary(_ context.Context, filter domain.SalesFilter) (domain.ReportSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.ReportSummary{TotalSales: decimal.Zero, AverageOrderValue: decimal.Zero}
	for _, sale := range s.sales {
		if !inWindow(sale.CreatedAt, filter) {
			continue
		}
		summary.TotalSales = summary.TotalSales.Add(sale.GrandTotal)
		summary.TransactionCount++
		summary.TotalItems += sale.ItemsCount
	}
	if summary.TransactionCount > 0 {
		summary.AverageOrderValue = summary.TotalSales.DivRound(decimal.NewFromInt(int64(summary.TransactionCount)), 2)
	}
	return summary, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrConflict)
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) GetUser(_ context.Context, username string) (domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return domain.UserAccount{}, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return user, nil
}

func orderMatches(order domain.Order, needle string) bool {
	return strings.Contains(strings.ToLower(order.OrderCode), needle) ||
		strings.Contains(strings.ToLower(order.CustomerName), needle) ||
		strings.Contains(strings.ToLower(order.StaffName), needle)
}

func inWindow(at time.Time, filter domain.SalesFilter) bool {
	if !filter.From.IsZero() && at.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && !at.Before(filter.To) {
		return false
	}
	return true
}

func sortSales(sales []domain.SaleRecord) {
	slices.SortFunc(sales, func(a, b domain.SaleRecord) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.SaleCode, b.SaleCode)
	})
}

func cloneProduct(p domain.Product) domain.Product {
	if p.StockQuantity != nil {
		qty := *p.StockQuantity
		p.StockQuantity = &qty
	}
	return p
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = slices.Clone(order.Items)
	if order.UpdatedAt != nil {
		at := *order.UpdatedAt
		order.UpdatedAt = &at
	}
	if order.CompletedAt != nil {
		at := *order.CompletedAt
		order.CompletedAt = &at
	}
	return order
}

func cloneSale(sale domain.SaleRecord) domain.SaleRecord {
	sale.Items = slices.Clone(sale.Items)
	if sale.OrderID != nil {
		id := *sale.OrderID
		sale.OrderID = &id
	}
	return sale
}
