package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/service"
	"flowershop/backend/internal/store"
	"flowershop/backend/internal/store/memory"
)

func TestCatalogResponsesCarrySecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	staff := newSession(t, api, "staff", "staff123")

	rec := staff.do(http.MethodGet, "/api/v1/products?search=rose", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options":     "nosniff",
		"X-Frame-Options":            "DENY",
		"Cross-Origin-Opener-Policy": "same-origin",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("%s = %q, want %q", header, got, want)
		}
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), managerPINHeader) {
		t.Fatalf("expected %s to be allowed cross-origin", managerPINHeader)
	}
}

func TestCounterLoginLocksAfterRepeatedWrongPasswords(t *testing.T) {
	api := newTestAPI(t)

	for i := 1; i <= 5; i++ {
		if rec := loginFrom(api, "10.0.0.7:4100", "staff", fmt.Sprintf("guess-%d", i)); rec.Code != http.StatusUnauthorized {
			t.Fatalf("guess %d expected 401, got %d", i, rec.Code)
		}
	}
	if rec := loginFrom(api, "10.0.0.7:4101", "staff", "staff123"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the locked counter to get 429 even with the right password, got %d", rec.Code)
	}
	if rec := loginFrom(api, "10.0.0.8:4100", "staff", "staff123"); rec.Code != http.StatusOK {
		t.Fatalf("expected another counter to sign in, got %d", rec.Code)
	}
}

func TestDisabledFloristGetsForbiddenOnLogin(t *testing.T) {
	repo := memory.NewSeeded()
	hash, err := bcrypt.GenerateFromPassword([]byte("peonies1"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := repo.CreateUser(context.Background(), domain.UserAccount{Username: "seasonal", Password: string(hash), Role: RoleStaff}); err != nil {
		t.Fatalf("seed disabled florist: %v", err)
	}
	api := New(service.New(repo, service.WithLocation(time.UTC)), NewAuthManager("test-secret-key", time.Hour, "123456", repo), "*", nil)

	rec := loginFrom(api, "10.0.0.9:4100", "seasonal", "peonies1")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for disabled florist, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if body := decodeEnvelope(t, rec, nil); body.Message != ErrAccountDisabled.Error() {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestRosterIsAdminOnlyAndNewFloristCanWork(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")
	staff := newSession(t, api, "staff", "staff123")

	if rec := staff.do(http.MethodGet, "/api/v1/users/staff", nil, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected staff to be kept off the roster, got %d", rec.Code)
	}

	newFlorist := domain.StaffCreateRequest{Username: "Marisol", Password: "tulips42"}
	rec := admin.do(http.MethodPost, "/api/v1/users/staff", newFlorist, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if rec := admin.do(http.MethodPost, "/api/v1/users/staff", newFlorist, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate florist, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodPost, "/api/v1/users/staff", domain.StaffCreateRequest{Username: "ana", Password: "tulips42"}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short username, got %d", rec.Code)
	}

	rec = admin.do(http.MethodGet, "/api/v1/users/staff", nil, nil)
	var roster []domain.StaffUser
	decodeEnvelope(t, rec, &roster)
	if len(roster) != 2 || roster[0].Username != "marisol" {
		t.Fatalf("unexpected roster %+v", roster)
	}

	marisol := newSession(t, api, "marisol", "tulips42")
	if rec := marisol.do(http.MethodGet, "/api/v1/orders/stats", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected new florist to read order stats, got %d", rec.Code)
	}
}

func TestOversizedOrderBodyRejected(t *testing.T) {
	api := newTestAPI(t)
	staff := newSession(t, api, "staff", "staff123")

	rec := staff.do(http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_name": "Walk-in",
		"staff_name":    "staff",
		"notes":         strings.Repeat("handwritten card message ", (1<<20)/24),
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized order body, got %d", rec.Code)
	}
}

func TestWrongManagerPINsLockProductDeletes(t *testing.T) {
	api := newTestAPI(t)
	admin := newSession(t, api, "admin", "admin123")

	for i := 1; i <= 8; i++ {
		rec := admin.do(http.MethodDelete, "/api/v1/products/prd-vase", nil, map[string]string{managerPINHeader: "000000"})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("wrong PIN %d expected 403, got %d", i, rec.Code)
		}
	}
	rec := admin.do(http.MethodDelete, "/api/v1/products/prd-vase", nil, map[string]string{managerPINHeader: "123456"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the PIN is locked, got %d", rec.Code)
	}
	if rec := admin.do(http.MethodGet, "/api/v1/products/prd-vase", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected the glass vase to survive, got %d", rec.Code)
	}
}

func TestOrderStatusChangeNeedsCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	staff := newSession(t, api, "staff", "staff123")
	staff.csrf = ""

	rec := staff.do(http.MethodPatch, "/api/v1/orders/ord-1/status", map[string]string{"status": "in-progress"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", rec.Code)
	}
}

func TestStatusForMapsErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.EmptyCartError{}, http.StatusUnprocessableEntity},
		{domain.MissingFieldError{Field: "staff_name"}, http.StatusUnprocessableEntity},
		{domain.InvalidTransitionError{From: domain.StatusCompleted, To: domain.StatusPending}, http.StatusConflict},
		{domain.NotFoundError{Resource: "order", ID: "x"}, http.StatusNotFound},
		{fmt.Errorf("%w: username already exists", store.ErrConflict), http.StatusConflict},
		{fmt.Errorf("%w: username failed min", store.ErrInvalidInput), http.StatusBadRequest},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func loginFrom(api *API, remoteAddr string, username string, password string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	decodeEnvelope(t, res, &payload)
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func login(t *testing.T, api *API, username string, password string) string {
	t.Helper()
	rec := loginFrom(api, "192.0.2.1:1234", username, password)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, rec.Code)
	}
	var payload domain.LoginResponse
	decodeEnvelope(t, rec, &payload)
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}
