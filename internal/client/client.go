package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"flowershop/backend/internal/config"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/report"
)

const (
	apiPrefix  = "/api/v1"
	csrfHeader = "X-CSRF-Token"
	csrfMaxAge = 30 * time.Minute
)

// Client talks to the shop backend over its JSON API. It implements the catalog,
// order and sales-report store contracts used by the console.
type Client struct {
	http   *resty.Client
	logger *zap.Logger

	mu        sync.Mutex
	csrfToken string
	csrfAt    time.Time
}

type Option func(*resty.Client)

// WithRetry overrides how often idempotent reads are retried.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *resty.Client) {
		c.SetRetryCount(count).
			SetRetryWaitTime(wait).
			SetRetryMaxWaitTime(2 * wait)
	}
}

func NewClient(cfg config.Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.StoreBaseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.StoreTimeout()).
		SetRetryCount(1).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if resp == nil || resp.Request == nil || resp.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= http.StatusInternalServerError
		})

	if cfg.StoreToken != "" {
		httpClient.SetAuthScheme("Bearer")
		httpClient.SetAuthToken(cfg.StoreToken)
	}
	for _, opt := range opts {
		opt(httpClient)
	}

	return &Client{
		http:   httpClient,
		logger: logger.Named("store-client"),
	}
}

// Login exchanges credentials for an access token and uses it for later calls.
func (c *Client) Login(ctx context.Context, username string, password string) (domain.LoginResponse, error) {
	var resp domain.LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil, domain.LoginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if resp.AccessToken == "" {
		return domain.LoginResponse{}, &domain.MalformedResponseError{Op: "login", Err: errors.New("missing access token")}
	}
	c.http.SetAuthScheme("Bearer")
	c.http.SetAuthToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) ListProducts(ctx context.Context, search string) ([]domain.Product, error) {
	query := map[string]string{}
	if s := strings.TrimSpace(search); s != "" {
		query["search"] = s
	}
	var products []domain.Product
	if err := c.do(ctx, "list products", http.MethodGet, "/products", query, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) CreateOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderReceipt, error) {
	var receipt domain.OrderReceipt
	if err := c.do(ctx, "create order", http.MethodPost, "/orders", nil, req, &receipt); err != nil {
		return domain.OrderReceipt{}, err
	}
	if receipt.ID == "" {
		return domain.OrderReceipt{}, &domain.MalformedResponseError{Op: "create order", Err: errors.New("missing order id")}
	}
	return receipt, nil
}

func (c *Client) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query := map[string]string{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		query["search"] = s
	}
	var orders []domain.Order
	if err := c.do(ctx, "list orders", http.MethodGet, "/orders", query, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	path := fmt.Sprintf("/orders/%s/status", id)
	err := c.do(ctx, "update order status", http.MethodPatch, path, nil, map[string]string{"status": string(status)}, nil)
	return asNotFound(err, "order", id)
}

func (c *Client) GetOrderStats(ctx context.Context) (domain.StatsSnapshot, error) {
	var stats domain.StatsSnapshot
	if err := c.do(ctx, "order stats", http.MethodGet, "/orders/stats", nil, nil, &stats); err != nil {
		return domain.StatsSnapshot{}, err
	}
	return stats, nil
}

func (c *Client) GetSalesForOrder(ctx context.Context, orderID string) ([]domain.SaleRecord, error) {
	var sales []domain.SaleRecord
	path := fmt.Sprintf("/orders/%s/sales", orderID)
	if err := c.do(ctx, "sales for order", http.MethodGet, path, nil, nil, &sales); err != nil {
		return nil, asNotFound(err, "order", orderID)
	}
	return sales, nil
}

// SaleForOrder returns the sale recorded when the order completed.
func (c *Client) SaleForOrder(ctx context.Context, orderID string) (domain.SaleRecord, error) {
	sales, err := c.GetSalesForOrder(ctx, orderID)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	if len(sales) == 0 {
		return domain.SaleRecord{}, domain.NotFoundError{Resource: "sale for order", ID: orderID}
	}
	return sales[0], nil
}

func (c *Client) ListSales(ctx context.Context, from time.Time, to time.Time) ([]domain.SaleRecord, domain.SalesTotals, error) {
	query := map[string]string{}
	if !from.IsZero() {
		query["from"] = from.Format("2006-01-02")
	}
	if !to.IsZero() {
		query["to"] = to.Format("2006-01-02")
	}
	var resp struct {
		Sales  []domain.SaleRecord `json:"sales"`
		Totals domain.SalesTotals  `json:"totals"`
	}
	if err := c.do(ctx, "list sales", http.MethodGet, "/sales", query, nil, &resp); err != nil {
		return nil, domain.SalesTotals{}, err
	}
	return resp.Sales, resp.Totals, nil
}

func (c *Client) CreateSale(ctx context.Context, req domain.OrderRequest) (domain.SaleRecord, error) {
	var sale domain.SaleRecord
	if err := c.do(ctx, "create sale", http.MethodPost, "/sales", nil, req, &sale); err != nil {
		return domain.SaleRecord{}, err
	}
	return sale, nil
}

// GetReport fetches the raw report payload. The body is decoded leniently so
// reports from older or differently shaped backends still aggregate.
func (c *Client) GetReport(ctx context.Context, period domain.ReportPeriod, date time.Time) (report.Payload, error) {
	const op = "sales report"
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"period": string(period),
			"date":   date.Format("2006-01-02"),
		}).
		Get(apiPrefix + "/reports/sales")
	if err != nil {
		return report.Payload{}, &domain.StoreUnavailableError{Op: op, Err: err}
	}
	if resp.IsError() {
		return report.Payload{}, storeErrorFromResponse(op, resp)
	}

	payload, err := report.DecodePayload(resp.Body())
	if err != nil {
		return report.Payload{}, &domain.MalformedResponseError{Op: op, Err: err}
	}
	c.logger.Debug("report fetched",
		zap.String("period", string(period)),
		zap.String("date", date.Format("2006-01-02")),
		zap.Int("records", len(payload.RawData)))
	return payload, nil
}

// ExportReport downloads the server-rendered csv or xlsx report.
func (c *Client) ExportReport(ctx context.Context, period domain.ReportPeriod, date time.Time, format string) ([]byte, error) {
	const op = "export report"
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"period": string(period),
			"date":   date.Format("2006-01-02"),
			"format": format,
		}).
		Get(apiPrefix + "/reports/sales")
	if err != nil {
		return nil, &domain.StoreUnavailableError{Op: op, Err: err}
	}
	if resp.IsError() {
		return nil, storeErrorFromResponse(op, resp)
	}
	return resp.Body(), nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, op string, method string, path string, query map[string]string, body any, result any) error {
	req := c.http.R().SetContext(ctx)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetBody(body)
	}
	if method != http.MethodGet && path != "/auth/login" {
		token, err := c.csrf(ctx)
		if err != nil {
			return err
		}
		req.SetHeader(csrfHeader, token)
	}

	resp, err := req.Execute(method, apiPrefix+path)
	if err != nil {
		return &domain.StoreUnavailableError{Op: op, Err: err}
	}
	if resp.StatusCode() == http.StatusForbidden && method != http.MethodGet {
		c.resetCSRF()
	}
	if resp.IsError() {
		return storeErrorFromResponse(op, resp)
	}
	if result == nil {
		return nil
	}
	return decodeInto(op, resp.Body(), result)
}

// decodeInto unwraps the {success, data, message} envelope. Data may also sit at the root.
func decodeInto(op string, body []byte, result any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if jsonErr := json.Unmarshal(body, result); jsonErr == nil {
			return nil
		}
		return &domain.MalformedResponseError{Op: op, Err: err}
	}
	if env.Success != nil && !*env.Success {
		msg := env.Message
		if msg == "" {
			msg = "store reported failure"
		}
		return &domain.MalformedResponseError{Op: op, Err: errors.New(msg)}
	}
	raw := []byte(env.Data)
	if len(env.Data) == 0 || string(env.Data) == "null" {
		if env.Success != nil {
			raw = []byte("null")
		} else {
			raw = body
		}
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return &domain.MalformedResponseError{Op: op, Err: err}
	}
	return nil
}

func (c *Client) csrf(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.csrfToken != "" && time.Since(c.csrfAt) < csrfMaxAge {
		token := c.csrfToken
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	var resp struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := c.do(ctx, "csrf token", http.MethodGet, "/auth/csrf-token", nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.CSRFToken == "" {
		return "", &domain.MalformedResponseError{Op: "csrf token", Err: errors.New("empty token")}
	}

	c.mu.Lock()
	c.csrfToken = resp.CSRFToken
	c.csrfAt = time.Now()
	c.mu.Unlock()
	return resp.CSRFToken, nil
}

func (c *Client) resetCSRF() {
	c.mu.Lock()
	c.csrfToken = ""
	c.mu.Unlock()
}

func storeErrorFromResponse(op string, resp *resty.Response) error {
	message := strings.TrimSpace(resp.String())
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err == nil && env.Message != "" {
		message = env.Message
	}
	if message == "" {
		message = resp.Status()
	}
	storeErr := &domain.StoreUnavailableError{
		Op:         op,
		StatusCode: resp.StatusCode(),
		Err:        errors.New(message),
	}
	if resp.StatusCode() == http.StatusNotFound {
		return domain.NotFoundError{Resource: op, ID: message}
	}
	return storeErr
}

// asNotFound names the missing resource on a 404.
func asNotFound(err error, resource string, id string) error {
	var notFound domain.NotFoundError
	if errors.As(err, &notFound) {
		return domain.NotFoundError{Resource: resource, ID: id}
	}
	return err
}
