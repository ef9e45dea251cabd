package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"flowershop/backend/internal/cache"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/export"
	"flowershop/backend/internal/lifecycle"
	"flowershop/backend/internal/report"
	"flowershop/backend/internal/service"
	"flowershop/backend/internal/store"
)

const managerPINHeader = "X-Manager-PIN"

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	logger        *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		logger:        logger.Named("http"),
	}
}

// csrfTokenForHour computes a hex HMAC-SHA256 token for one hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductActions, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/orders", a.requireAuth(a.handleOrders, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/orders/stats", a.requireAuth(a.handleOrderStats, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/reports/sales", a.requireAuth(a.handleSalesReport, RoleStaff, RoleAdmin))
	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaff, RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	switch {
	case errors.Is(err, ErrBadCredentials):
		a.writeError(w, http.StatusUnauthorized, err)
		return
	case errors.Is(err, ErrAccountDisabled):
		a.writeError(w, http.StatusForbidden, err)
		return
	case err != nil:
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, http.StatusOK, resp)
}

// handleCSRFToken returns the stateless token clients send as X-CSRF-Token on mutations.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		a.writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.service.ListProducts(r.Context(), r.URL.Query().Get("search"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, products)
	case http.MethodPost:
		var req domain.ProductRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.CreateProduct(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, product)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductActions(w http.ResponseWriter, r *http.Request) {
	id, rest := splitTail(r.URL.Path, "/api/v1/products/")
	if id == "" || rest != "" {
		a.writeError(w, http.StatusNotFound, errors.New("product not found"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		product, err := a.service.GetProduct(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, product)
	case http.MethodPatch, http.MethodPut:
		var req domain.ProductRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		product, err := a.service.UpdateProduct(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, product)
	case http.MethodDelete:
		if !a.pinLimiter.Allow(clientKey(r)) {
			a.writeError(w, http.StatusTooManyRequests, errors.New("too many manager PIN attempts"))
			return
		}
		if !a.auth.ValidateManagerPIN(r.Header.Get(managerPINHeader)) {
			a.writeError(w, http.StatusForbidden, errors.New("manager PIN required"))
			return
		}
		if err := a.service.DeleteProduct(r.Context(), id); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"id": id})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := domain.OrderFilter{Search: r.URL.Query().Get("search")}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" && raw != "all" {
			status, ok := domain.ParseOrderStatus(raw)
			if !ok {
				a.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", raw))
				return
			}
			filter.Status = status
		}
		orders, err := a.service.ListOrders(r.Context(), filter)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		format, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
		if ok {
			a.writeExport(w, format, "orders", export.OrdersMatrix(orders))
			return
		}
		writeData(w, http.StatusOK, orders)
	case http.MethodPost:
		var req domain.OrderRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		order, err := a.service.CreateOrder(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, domain.OrderReceipt{ID: order.ID, OrderCode: order.OrderCode})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	stats, err := a.service.OrderStats(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats)
}

type statusUpdateRequest struct {
	Status string `json:"status"`
}

func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	id, rest := splitTail(r.URL.Path, "/api/v1/orders/")
	if id == "" {
		a.writeError(w, http.StatusNotFound, errors.New("order not found"))
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		order, err := a.service.GetOrder(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, order)
	case "status":
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			a.writeMethodNotAllowed(w)
			return
		}
		var req statusUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		status, ok := domain.ParseOrderStatus(req.Status)
		if !ok {
			a.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", req.Status))
			return
		}
		order, err := a.service.UpdateOrderStatus(r.Context(), id, status)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, order)
	case "sales":
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		sales, err := a.service.SalesForOrder(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, sales)
	default:
		a.writeError(w, http.StatusNotFound, errors.New("unknown order action"))
	}
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		from, to, err := a.salesRange(r)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		sales, err := a.service.ListSales(r.Context(), from, to)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		format, ok := export.ParseFormat(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))))
		if ok {
			a.writeExport(w, format, "sales", export.SalesMatrix(sales))
			return
		}
		writeData(w, http.StatusOK, map[string]any{
			"sales":  sales,
			"totals": domain.SummarizeSales(sales),
		})
	case http.MethodPost:
		var req domain.OrderRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.service.CreateWalkInSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, sale)
	default:
		a.writeMethodNotAllowed(w)
	}
}

// salesRange reads inclusive from/to dates. The returned window is [from, to+1day).
func (a *API) salesRange(r *http.Request) (time.Time, time.Time, error) {
	var from, to time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		date, err := a.service.ParseReportDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = date
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		date, err := a.service.ParseReportDate(raw)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = date.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func (a *API) handleSalesReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	period, ok := domain.ParseReportPeriod(r.URL.Query().Get("period"))
	if !ok {
		a.writeError(w, http.StatusBadRequest, errors.New("period must be daily, weekly or monthly"))
		return
	}
	date, err := a.service.ParseReportDate(r.URL.Query().Get("date"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	rep, err := a.service.Report(r.Context(), period, date)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	rawFormat := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if rawFormat == "" || rawFormat == "json" {
		writeData(w, http.StatusOK, rep)
		return
	}
	format, ok := export.ParseFormat(rawFormat)
	if !ok {
		a.writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported format %q", rawFormat))
		return
	}
	result, err := summarizeReport(rep, date)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeExport(w, format, fmt.Sprintf("%s-report-%s", period, rep.Date), export.ReportMatrix(result))
}

// summarizeReport runs the report through the same aggregation clients apply, so
// exported files match what the console shows.
func summarizeReport(rep domain.SalesReport, date time.Time) (report.Result, error) {
	body, err := json.Marshal(rep)
	if err != nil {
		return report.Result{}, err
	}
	payload, err := report.DecodePayload(body)
	if err != nil {
		return report.Result{}, err
	}
	return report.NewAggregator().Aggregate(rep.Period, date, payload), nil
}

func (a *API) handleStaff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		roster, err := a.auth.ListStaff(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusOK, roster)
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateStaff(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeData(w, http.StatusCreated, user)
	default:
		a.writeMethodNotAllowed(w)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, "+managerPINHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		switch r.Method {
		case http.MethodPost, http.MethodPatch, http.MethodPut:
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)))
	})
}

// statusFor maps domain and store errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, lifecycle.ErrTransitionInFlight),
		errors.Is(err, cache.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeExport(w http.ResponseWriter, format export.Format, name string, m export.Matrix) {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, m); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"."+string(format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// writeError masks 5xx details; 4xx messages are user-facing.
func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		a.logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// splitTail returns the first path segment after prefix and whatever follows it.
func splitTail(path string, prefix string) (string, string) {
	tail := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, rest, _ := strings.Cut(tail, "/")
	return strings.TrimSpace(id), strings.Trim(rest, "/")
}
