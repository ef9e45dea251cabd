package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		product_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		unit_price NUMERIC(12,2) NOT NULL CHECK (unit_price >= 0),
		stock_quantity INTEGER NULL CHECK (stock_quantity >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		order_code TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		staff_name TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		items JSONB NOT NULL,
		total_amount NUMERIC(12,2) NOT NULL,
		tax_amount NUMERIC(12,2) NOT NULL,
		grand_total NUMERIC(12,2) NOT NULL,
		cash_received NUMERIC(12,2) NOT NULL,
		change_amount NUMERIC(12,2) NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NULL,
		completed_at TIMESTAMPTZ NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		sale_code TEXT NOT NULL UNIQUE,
		sale_date TEXT NOT NULL,
		sale_time TEXT NOT NULL,
		order_id TEXT NULL REFERENCES orders (id),
		customer_name TEXT NOT NULL,
		staff_name TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		items JSONB NOT NULL,
		items_count INTEGER NOT NULL,
		total_amount NUMERIC(12,2) NOT NULL,
		tax_amount NUMERIC(12,2) NOT NULL,
		grand_total NUMERIC(12,2) NOT NULL,
		cash_received NUMERIC(12,2) NOT NULL,
		change_amount NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_created_at ON sales (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_order_id ON sales (order_id)`,
	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const productColumns = `id, product_code, name, category, description, unit_price, stock_quantity, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY category, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.ProductCode == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, product_code, name, category, description, unit_price, stock_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, product.ID, product.ProductCode, product.Name, product.Category, product.Description,
		product.UnitPrice, nullableInt(product.StockQuantity), product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrConflict, product.ProductCode)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET product_code = $2, name = $3, category = $4, description = $5,
			unit_price = $6, stock_quantity = $7, updated_at = $8
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.ProductCode, product.Name, product.Category, product.Description,
		product.UnitPrice, nullableInt(product.StockQuantity), product.UpdatedAt)
	updated, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product code %s already exists", store.ErrConflict, product.ProductCode)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	return nil
}

const orderColumns = `id, order_code, customer_name, staff_name, payment_method, items,
	total_amount, tax_amount, grand_total, cash_received, change_amount, notes,
	status, created_at, updated_at, completed_at`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.OrderCode == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, order.ID, order.OrderCode, order.CustomerName, order.StaffName, string(order.PaymentMethod), string(items),
		order.TotalAmount, order.TaxAmount, order.GrandTotal, order.CashReceived, order.ChangeAmount, order.Notes,
		string(order.Status), order.CreatedAt, nullableTime(order.UpdatedAt), nullableTime(order.CompletedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order code %s already exists", store.ErrConflict, order.OrderCode)
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if needle := strings.TrimSpace(filter.Search); needle != "" {
		args = append(args, "%"+needle+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(order_code ILIKE $%d OR customer_name ILIKE $%d OR staff_name ILIKE $%d)", n, n, n))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, order_code`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) TransitionOrder(ctx context.Context, id string, from domain.OrderStatus, to domain.OrderStatus, at time.Time, sale *domain.SaleRecord) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var completedAt sql.NullTime
	if to == domain.StatusCompleted {
		completedAt = sql.NullTime{Time: at, Valid: true}
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, updated_at = $3, completed_at = COALESCE($4, completed_at)
		WHERE id = $1 AND status = $5
		RETURNING `+orderColumns,
		id, string(to), at, completedAt, string(from))
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		var current string
		lookupErr := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
		if errors.Is(lookupErr, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, id)
		}
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, fmt.Errorf("%w: order %s is %s, not %s", store.ErrConflict, id, current, from)
	}
	if err != nil {
		return nil, err
	}

	if sale != nil {
		if err := insertSale(ctx, tx, *sale); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) OrderStats(ctx context.Context) (domain.StatsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return domain.StatsSnapshot{}, err
	}
	defer rows.Close()

	var snap domain.StatsSnapshot
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.StatsSnapshot{}, err
		}
		snap.Total += count
		snap.Adjust(domain.OrderStatus(status), count)
	}
	if err := rows.Err(); err != nil {
		return domain.StatsSnapshot{}, err
	}
	return snap, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error) {
	if sale.ID == "" || sale.SaleCode == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSale(ctx, tx, sale); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

// insertSale appends the sale and draws tracked stock down, never below zero.
func insertSale(ctx context.Context, tx *sql.Tx, sale domain.SaleRecord) error {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return err
	}
	var orderID sql.NullString
	if sale.OrderID != nil {
		orderID = sql.NullString{String: *sale.OrderID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13, $14, $15, $16)
	`, sale.ID, sale.SaleCode, sale.SaleDate, sale.SaleTime, orderID, sale.CustomerName, sale.StaffName,
		string(sale.PaymentMethod), string(items), sale.ItemsCount, sale.TotalAmount, sale.TaxAmount,
		sale.GrandTotal, sale.CashReceived, sale.ChangeAmount, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sale code %s already exists", store.ErrConflict, sale.SaleCode)
		}
		return err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = GREATEST(stock_quantity - $2, 0), updated_at = $3
			WHERE id = $1 AND stock_quantity IS NOT NULL
		`, item.ProductID, item.Quantity, sale.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

const saleColumns = `id, sale_code, sale_date, sale_time, order_id, customer_name, staff_name,
	payment_method, items, items_count, total_amount, tax_amount, grand_total,
	cash_received, change_amount, created_at`

func (s *Store) ListSales(ctx context.Context, filter domain.SalesFilter) ([]domain.SaleRecord, error) {
	where, args := salesWindow(filter)
	return s.querySales(ctx, `SELECT `+saleColumns+` FROM sales`+where+` ORDER BY created_at DESC, sale_code`, args...)
}

func (s *Store) ListSalesByOrder(ctx context.Context, orderID string) ([]domain.SaleRecord, error) {
	return s.querySales(ctx, `SELECT `+saleColumns+` FROM sales WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
}

func (s *Store) SalesSummary(ctx context.Context, filter domain.SalesFilter) (domain.ReportSummary, error) {
	where, args := salesWindow(filter)
	summary := domain.ReportSummary{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(grand_total), 0), COUNT(*), COALESCE(SUM(items_count), 0)
		FROM sales`+where, args...).Scan(&summary.TotalSales, &summary.TransactionCount, &summary.TotalItems)
	if err != nil {
		return domain.ReportSummary{}, err
	}
	summary.AverageOrderValue = decimal.Zero
	if summary.TransactionCount > 0 {
		summary.AverageOrderValue = summary.TotalSales.DivRound(decimal.NewFromInt(int64(summary.TransactionCount)), 2)
	}
	return summary, nil
}

func (s *Store) querySales(ctx context.Context, query string, args ...any) ([]domain.SaleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.SaleRecord, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already exists", store.ErrConflict)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, active, created_at FROM users WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserAccount{}, fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	if err != nil {
		return domain.UserAccount{}, err
	}
	return user, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (domain.Product, error) {
	var p domain.Product
	var stock sql.NullInt64
	if err := row.Scan(&p.ID, &p.ProductCode, &p.Name, &p.Category, &p.Description, &p.UnitPrice, &stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if stock.Valid {
		qty := int(stock.Int64)
		p.StockQuantity = &qty
	}
	return p, nil
}

func scanOrder(row scanner) (domain.Order, error) {
	var order domain.Order
	var items []byte
	var method, status string
	var updatedAt, completedAt sql.NullTime
	err := row.Scan(&order.ID, &order.OrderCode, &order.CustomerName, &order.StaffName, &method, &items,
		&order.TotalAmount, &order.TaxAmount, &order.GrandTotal, &order.CashReceived, &order.ChangeAmount, &order.Notes,
		&status, &order.CreatedAt, &updatedAt, &completedAt)
	if err != nil {
		return domain.Order{}, err
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("decode order items: %w", err)
	}
	order.PaymentMethod = domain.PaymentMethod(method)
	order.Status = domain.OrderStatus(status)
	order.UpdatedAt = timePtr(updatedAt)
	order.CompletedAt = timePtr(completedAt)
	return order, nil
}

func scanSale(row scanner) (domain.SaleRecord, error) {
	var sale domain.SaleRecord
	var items []byte
	var method string
	var orderID sql.NullString
	err := row.Scan(&sale.ID, &sale.SaleCode, &sale.SaleDate, &sale.SaleTime, &orderID, &sale.CustomerName, &sale.StaffName,
		&method, &items, &sale.ItemsCount, &sale.TotalAmount, &sale.TaxAmount, &sale.GrandTotal,
		&sale.CashReceived, &sale.ChangeAmount, &sale.CreatedAt)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return domain.SaleRecord{}, fmt.Errorf("decode sale items: %w", err)
	}
	sale.PaymentMethod = domain.PaymentMethod(method)
	if orderID.Valid {
		id := orderID.String
		sale.OrderID = &id
	}
	return sale, nil
}

func salesWindow(filter domain.SalesFilter) (string, []any) {
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 2)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullableTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
