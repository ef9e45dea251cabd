package store

import (
	"context"
	"errors"
	"time"

	"flowershop/backend/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict reports a lost compare-and-set or a duplicate unique value.
	ErrConflict = errors.New("conflict")
)

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// TransitionOrder moves the order from -> to only if its status is still from.
	// A non-nil sale is appended in the same unit of work.
	TransitionOrder(ctx context.Context, id string, from domain.OrderStatus, to domain.OrderStatus, at time.Time, sale *domain.SaleRecord) (*domain.Order, error)
	OrderStats(ctx context.Context) (domain.StatsSnapshot, error)

	CreateSale(ctx context.Context, sale domain.SaleRecord) (*domain.SaleRecord, error)
	ListSales(ctx context.Context, filter domain.SalesFilter) ([]domain.SaleRecord, error)
	ListSalesByOrder(ctx context.Context, orderID string) ([]domain.SaleRecord, error)
	SalesSummary(ctx context.Context, filter domain.SalesFilter) (domain.ReportSummary, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	GetUser(ctx context.Context, username string) (domain.UserAccount, error)
}
