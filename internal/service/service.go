package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"flowershop/backend/internal/cache"
	"flowershop/backend/internal/checkout"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/lifecycle"
	"flowershop/backend/internal/report"
	"flowershop/backend/internal/store"
	"flowershop/backend/internal/validation"
	"flowershop/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

const transitionLockTTL = 10 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	reports   cache.ReportCache
	reportTTL time.Duration
	locker    cache.Locker
	logger    *zap.Logger
	loc       *time.Location
	now       func() time.Time
}

type Option func(*Service)

func WithReportCache(reports cache.ReportCache, ttl time.Duration) Option {
	return func(s *Service) {
		if reports != nil {
			s.reports = reports
		}
		s.reportTTL = ttl
	}
}

func WithLocker(locker cache.Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLocation sets the shop's time zone, used for sale dates and report windows.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		reports:   cache.NoopReportCache{},
		reportTTL: time.Hour,
		locker:    cache.NewLocalLocker(),
		logger:    zap.NewNop(),
		loc:       time.Local,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("service")
	return s
}

func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return products, nil
	}
	filtered := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) ||
			strings.Contains(strings.ToLower(p.ProductCode), needle) ||
			strings.Contains(strings.ToLower(p.Category), needle) {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	req = normalizeProductRequest(req)
	if err := validation.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, validation.Describe(err))
	}

	now := s.now().UTC()
	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:            xid.New("prd"),
		ProductCode:   req.ProductCode,
		Name:          req.Name,
		Category:      req.Category,
		Description:   req.Description,
		UnitPrice:     req.UnitPrice,
		StockQuantity: req.StockQuantity,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.audit(ctx, "product_create", "product", created.ID,
		zap.String("code", created.ProductCode),
		zap.String("price", created.UnitPrice.StringFixed(2)))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	req = normalizeProductRequest(req)
	if err := validation.Struct(req); err != nil {
		return domain.Product{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, validation.Describe(err))
	}

	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	updated := *existing
	updated.ProductCode = req.ProductCode
	updated.Name = req.Name
	updated.Category = req.Category
	updated.Description = req.Description
	updated.UnitPrice = req.UnitPrice
	updated.StockQuantity = req.StockQuantity
	updated.UpdatedAt = s.now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.audit(ctx, "product_update", "product", saved.ID,
		zap.String("old_price", existing.UnitPrice.StringFixed(2)),
		zap.String("new_price", saved.UnitPrice.StringFixed(2)))
	return *saved, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, "product_delete", "product", id)
	return nil
}

// CreateOrder prices the items from the catalog, re-runs the checkout rules and
// stores the order as pending.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	req, err := s.prepare(ctx, req)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.now().UTC()
	created, err := s.repo.CreateOrder(ctx, domain.Order{
		ID:            xid.New("ord"),
		OrderCode:     xid.Code("ORD", now.In(s.loc)),
		CustomerName:  req.CustomerName,
		StaffName:     req.StaffName,
		PaymentMethod: req.PaymentMethod,
		Items:         req.Items,
		TotalAmount:   req.TotalAmount,
		TaxAmount:     req.TaxAmount,
		GrandTotal:    req.GrandTotal,
		CashReceived:  req.CashReceived,
		ChangeAmount:  req.ChangeAmount,
		Notes:         req.Notes,
		Status:        domain.StatusPending,
		CreatedAt:     now,
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.audit(ctx, "order_create", "order", created.ID,
		zap.String("code", created.OrderCode),
		zap.String("grand_total", created.GrandTotal.StringFixed(2)))
	return *created, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.ListOrders(ctx, filter)
}

// UpdateOrderStatus applies one lifecycle edge. Completing an order appends its
// sale record in the same store operation. Concurrent attempts on the same order
// fail with lifecycle.ErrTransitionInFlight.
func (s *Service) UpdateOrderStatus(ctx context.Context, id string, to domain.OrderStatus) (domain.Order, error) {
	id = strings.TrimSpace(id)
	release, err := s.locker.Obtain(ctx, "order:"+id, transitionLockTTL)
	if errors.Is(err, cache.ErrLocked) {
		return domain.Order{}, fmt.Errorf("%w: order %s", lifecycle.ErrTransitionInFlight, id)
	}
	if err != nil {
		return domain.Order{}, err
	}
	defer release()

	current, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if err := lifecycle.Check(current.Status, to); err != nil {
		return domain.Order{}, err
	}

	at := s.now().UTC()
	var sale *domain.SaleRecord
	if to == domain.StatusCompleted {
		record := s.saleFromOrder(*current, at)
		sale = &record
	}

	updated, err := s.repo.TransitionOrder(ctx, id, current.Status, to, at, sale)
	if errors.Is(err, store.ErrConflict) {
		if latest, getErr := s.repo.GetOrder(ctx, id); getErr == nil {
			return domain.Order{}, domain.InvalidTransitionError{From: latest.Status, To: to}
		}
	}
	if err != nil {
		return domain.Order{}, err
	}

	fields := []zap.Field{
		zap.String("from", string(current.Status)),
		zap.String("to", string(to)),
	}
	if sale != nil {
		fields = append(fields, zap.String("sale_code", sale.SaleCode))
	}
	s.audit(ctx, "order_status", "order", id, fields...)
	return *updated, nil
}

func (s *Service) OrderStats(ctx context.Context) (domain.StatsSnapshot, error) {
	return s.repo.OrderStats(ctx)
}

func (s *Service) SalesForOrder(ctx context.Context, orderID string) ([]domain.SaleRecord, error) {
	orderID = strings.TrimSpace(orderID)
	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListSalesByOrder(ctx, orderID)
}

// CreateWalkInSale records a direct sale that has no order behind it.
func (s *Service) CreateWalkInSale(ctx context.Context, req domain.OrderRequest) (domain.SaleRecord, error) {
	if strings.TrimSpace(req.CustomerName) == "" {
		req.CustomerName = domain.WalkInCustomer
	}
	req, err := s.prepare(ctx, req)
	if err != nil {
		return domain.SaleRecord{}, err
	}

	at := s.now().UTC()
	local := at.In(s.loc)
	created, err := s.repo.CreateSale(ctx, domain.SaleRecord{
		ID:            xid.New("sal"),
		SaleCode:      xid.Code("SALE", local),
		SaleDate:      local.Format("2006-01-02"),
		SaleTime:      local.Format("15:04:05"),
		CustomerName:  req.CustomerName,
		StaffName:     req.StaffName,
		PaymentMethod: req.PaymentMethod,
		Items:         req.Items,
		ItemsCount:    countItems(req.Items),
		TotalAmount:   req.TotalAmount,
		TaxAmount:     req.TaxAmount,
		GrandTotal:    req.GrandTotal,
		CashReceived:  req.CashReceived,
		ChangeAmount:  req.ChangeAmount,
		CreatedAt:     at,
	})
	if err != nil {
		return domain.SaleRecord{}, err
	}

	s.audit(ctx, "sale_create", "sale", created.ID,
		zap.String("code", created.SaleCode),
		zap.String("grand_total", created.GrandTotal.StringFixed(2)))
	return *created, nil
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRecord, error) {
	return s.repo.ListSales(ctx, domain.SalesFilter{From: from, To: to})
}

// ReportWindow returns the [from, to) window of the period containing date, in the
// shop's time zone. Weeks start on Monday.
func (s *Service) ReportWindow(period domain.ReportPeriod, date time.Time) (time.Time, time.Time) {
	local := date.In(s.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	switch period {
	case domain.PeriodWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		from := day.AddDate(0, 0, -offset)
		return from, from.AddDate(0, 0, 7)
	case domain.PeriodMonthly:
		from := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, s.loc)
		return from, from.AddDate(0, 1, 0)
	default:
		return day, day.AddDate(0, 0, 1)
	}
}

// ParseReportDate reads a YYYY-MM-DD date in the shop's time zone. An empty value
// means today.
func (s *Service) ParseReportDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.now().In(s.loc), nil
	}
	date, err := time.ParseInLocation("2006-01-02", raw, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
	}
	return date, nil
}

// Report builds the sales-report payload for one period. Reports for windows that
// have fully elapsed are served from the report cache.
func (s *Service) Report(ctx context.Context, period domain.ReportPeriod, date time.Time) (domain.SalesReport, error) {
	from, to := s.ReportWindow(period, date)
	key := fmt.Sprintf("report:%s:%s", period, from.Format("2006-01-02"))
	closed := !to.After(s.now())

	if closed {
		cached, ok, err := s.reports.Get(ctx, key)
		if err != nil {
			s.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			return *cached, nil
		}
	}

	filter := domain.SalesFilter{From: from, To: to}
	summary, err := s.repo.SalesSummary(ctx, filter)
	if err != nil {
		return domain.SalesReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SalesReport{}, err
	}

	itemsByRecord := make([][]report.Item, 0, len(sales))
	for _, sale := range sales {
		items := make([]report.Item, 0, len(sale.Items))
		for _, item := range sale.Items {
			items = append(items, report.Item{
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				UnitPrice: item.UnitPrice,
			})
		}
		itemsByRecord = append(itemsByRecord, items)
	}

	result := domain.SalesReport{
		Period:      period,
		Date:        date.In(s.loc).Format("2006-01-02"),
		From:        from,
		To:          to,
		Summary:     summary,
		RawData:     sales,
		TopProducts: report.TopProducts(itemsByRecord, report.TopProductsLimit),
	}
	if period != domain.PeriodDaily {
		result.TrendBuckets = dailyBuckets(sales)
	}

	if closed {
		if err := s.reports.Set(ctx, key, &result, s.reportTTL); err != nil {
			s.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

// prepare reprices items from the catalog, checks stock and re-runs checkout validation.
func (s *Service) prepare(ctx context.Context, req domain.OrderRequest) (domain.OrderRequest, error) {
	if len(req.Items) == 0 {
		return domain.OrderRequest{}, domain.EmptyCartError{}
	}

	wanted := make(map[string]int, len(req.Items))
	priced := make([]domain.OrderItem, 0, len(req.Items))
	catalog := make(map[string]*domain.Product, len(req.Items))
	for _, item := range req.Items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return domain.OrderRequest{}, domain.MissingFieldError{Field: "items.product_id"}
		}
		product, ok := catalog[id]
		if !ok {
			found, err := s.repo.GetProduct(ctx, id)
			if err != nil {
				return domain.OrderRequest{}, err
			}
			product = found
			catalog[id] = found
		}
		wanted[id] += item.Quantity
		priced = append(priced, domain.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  item.Quantity,
			UnitPrice: product.UnitPrice,
		})
	}
	req.Items = priced

	validated, err := checkout.ValidateRequest(req)
	if err != nil {
		return domain.OrderRequest{}, err
	}

	for _, item := range validated.Items {
		product := catalog[item.ProductID]
		if product.TracksStock() && wanted[item.ProductID] > *product.StockQuantity {
			return domain.OrderRequest{}, domain.InsufficientStockError{
				ProductID: product.ID,
				Requested: wanted[item.ProductID],
				Available: *product.StockQuantity,
			}
		}
	}
	return validated, nil
}

func (s *Service) saleFromOrder(order domain.Order, at time.Time) domain.SaleRecord {
	local := at.In(s.loc)
	orderID := order.ID
	return domain.SaleRecord{
		ID:            xid.New("sal"),
		SaleCode:      xid.Code("SALE", local),
		SaleDate:      local.Format("2006-01-02"),
		SaleTime:      local.Format("15:04:05"),
		OrderID:       &orderID,
		CustomerName:  order.CustomerName,
		StaffName:     order.StaffName,
		PaymentMethod: order.PaymentMethod,
		Items:         order.Items,
		ItemsCount:    countItems(order.Items),
		TotalAmount:   order.TotalAmount,
		TaxAmount:     order.TaxAmount,
		GrandTotal:    order.GrandTotal,
		CashReceived:  order.CashReceived,
		ChangeAmount:  order.ChangeAmount,
		CreatedAt:     at,
	}
}

func (s *Service) audit(ctx context.Context, action string, entityType string, entityID string, fields ...zap.Field) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	s.logger.Info("audit",
		append([]zap.Field{
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("actor", actor.Username),
			zap.String("actor_role", actor.Role),
		}, fields...)...)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrForbidden
	}
	return nil
}

func normalizeProductRequest(req domain.ProductRequest) domain.ProductRequest {
	req.ProductCode = strings.ToUpper(strings.TrimSpace(req.ProductCode))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	return req
}

func countItems(items []domain.OrderItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}

func dailyBuckets(sales []domain.SaleRecord) []domain.DailyBucket {
	byDate := make(map[string]*domain.DailyBucket)
	for _, sale := range sales {
		bucket, ok := byDate[sale.SaleDate]
		if !ok {
			bucket = &domain.DailyBucket{Date: sale.SaleDate, Revenue: decimal.Zero}
			byDate[sale.SaleDate] = bucket
		}
		bucket.Revenue = bucket.Revenue.Add(sale.GrandTotal)
		bucket.TransactionCount++
	}
	buckets := make([]domain.DailyBucket, 0, len(byDate))
	for _, bucket := range byDate {
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Date < buckets[j].Date
	})
	return buckets
}
