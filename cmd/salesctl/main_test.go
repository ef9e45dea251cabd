package main

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"flowershop/backend/internal/client"
	"flowershop/backend/internal/config"
	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/httpapi"
	"flowershop/backend/internal/service"
	"flowershop/backend/internal/store/memory"
)

type harness struct {
	cfg   config.Config
	store *client.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, service.WithLocation(time.UTC))
	auth := httpapi.NewAuthManager("salesctl-test-secret", time.Hour, "739154", repo)
	srv := httptest.NewServer(httpapi.New(svc, auth, "*", nil).Handler())
	t.Cleanup(srv.Close)

	cfg := config.Config{
		StoreBaseURL:        srv.URL,
		StoreTimeoutSeconds: 5,
		StoreUsername:       "staff",
		StorePassword:       "staff123",
		Timezone:            "UTC",
		StatsRefreshDelayMS: 800,
	}
	return &harness{cfg: cfg, store: client.NewClient(cfg, nil, client.WithRetry(0, time.Millisecond))}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	a := newApp(h.cfg, h.store, nil, strings.NewReader(stdin), &out)
	err := a.run(context.Background(), args)
	return out.String(), err
}

func (h *harness) onlyOrder(t *testing.T) domain.Order {
	t.Helper()
	orders, err := h.store.ListOrders(context.Background(), domain.OrderFilter{})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	return orders[0]
}

func TestCheckoutAdvanceAndReport(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "checkout", "-customer", "Ana", "-staff", "Ben", "-cash", "500", "prd-rose-dozen=2", "bq-002")
	if err != nil {
		t.Fatalf("checkout: %v\n%s", err, out)
	}
	if !strings.Contains(out, "ORD-") || !strings.Contains(out, "₱253.24") || !strings.Contains(out, "₱246.76") {
		t.Fatalf("unexpected receipt:\n%s", out)
	}

	order := h.onlyOrder(t)
	if order.Status != domain.StatusPending {
		t.Fatalf("expected pending order, got %s", order.Status)
	}

	if out, err = h.run(t, "", "advance", order.ID, "start"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out, "pending -> in-progress") {
		t.Fatalf("unexpected start output:\n%s", out)
	}

	out, err = h.run(t, "", "advance", order.ID, "complete")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !strings.Contains(out, "in-progress -> completed") || !strings.Contains(out, "₱253.24") {
		t.Fatalf("unexpected complete output:\n%s", out)
	}
	if !strings.Contains(out, "completed 1") || !strings.Contains(out, "completed today 1") {
		t.Fatalf("expected stats in output:\n%s", out)
	}

	if _, err = h.run(t, "", "advance", order.ID, "cancel"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for completed order, got %v", err)
	}

	out, err = h.run(t, "", "report")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	for _, want := range []string{"revenue ₱253.24", "orders 1", "items 3", "Red Rose Dozen", "top products (server)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report output missing %q:\n%s", want, out)
		}
	}

	out, err = h.run(t, "", "export", "-kind", "report")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "summary,total_orders,1") {
		t.Fatalf("unexpected csv export:\n%s", out)
	}

	out, err = h.run(t, "", "export", "-kind", "sales")
	if err != nil {
		t.Fatalf("export sales: %v", err)
	}
	if !strings.Contains(out, "253.24") || !strings.Contains(out, "Sale Code") {
		t.Fatalf("unexpected sales export:\n%s", out)
	}
}

func TestAdvanceCancelAsksForConfirmation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "checkout", "-customer", "Ana", "-staff", "Ben", "-payment", "card", "prd-card"); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	order := h.onlyOrder(t)

	out, err := h.run(t, "n\n", "advance", order.ID, "cancel")
	if err != nil {
		t.Fatalf("declined cancel: %v", err)
	}
	if !strings.Contains(out, "cancelled nothing") {
		t.Fatalf("expected decline message:\n%s", out)
	}
	if got := h.onlyOrder(t).Status; got != domain.StatusPending {
		t.Fatalf("declined cancel must not change status, got %s", got)
	}

	if _, err = h.run(t, "y\n", "advance", order.ID, "cancel"); err != nil {
		t.Fatalf("confirmed cancel: %v", err)
	}
	if got := h.onlyOrder(t).Status; got != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
}

func TestCheckoutRejectsShortCash(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "checkout", "-customer", "Ana", "-staff", "Ben", "-cash", "50", "prd-rose-dozen")
	var short domain.InsufficientPaymentError
	if !errors.As(err, &short) {
		t.Fatalf("expected insufficient payment, got %v", err)
	}
	if short.Shortfall().StringFixed(2) != "47.19" {
		t.Fatalf("expected shortfall 47.19, got %s", short.Shortfall().StringFixed(2))
	}
}

func TestCheckoutSumsRepeatedProducts(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "checkout", "-customer", "Ana", "-staff", "Ben", "-payment", "card",
		"BQ-001=2", "prd-rose-dozen=3", "PL-002=5", "pl-002=5")
	if err != nil {
		t.Fatalf("checkout: %v\n%s", err, out)
	}
	if !strings.Contains(out, "White Phalaenopsis Orchid limited to 8 in stock") {
		t.Fatalf("expected stock warning for summed quantity:\n%s", out)
	}

	quantities := map[string]int{}
	for _, item := range h.onlyOrder(t).Items {
		quantities[item.ProductID] += item.Quantity
	}
	if quantities["prd-rose-dozen"] != 5 || quantities["prd-orchid"] != 8 {
		t.Fatalf("expected 5 roses and 8 orchids, got %v", quantities)
	}
}

func TestWalkInCheckoutRecordsDirectSale(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "", "checkout", "-walk-in", "-staff", "Ben", "-payment", "gcash", "prd-card=2")
	if err != nil {
		t.Fatalf("walk-in checkout: %v", err)
	}
	if !strings.Contains(out, domain.WalkInCustomer) {
		t.Fatalf("expected default customer:\n%s", out)
	}
	sales, totals, err := h.store.ListSales(context.Background(), time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 1 || totals.Direct != 1 || sales[0].OrderID != nil {
		t.Fatalf("expected one direct sale, got %+v", totals)
	}
}

func TestOrdersListsPageAndStats(t *testing.T) {
	h := newHarness(t)
	for _, customer := range []string{"Carla", "ana", "Bea"} {
		if _, err := h.run(t, "", "checkout", "-customer", customer, "-staff", "Ben", "-payment", "card", "prd-ribbon"); err != nil {
			t.Fatalf("checkout %s: %v", customer, err)
		}
	}

	out, err := h.run(t, "", "orders", "-sort", "customer", "-page-size", "2")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if !strings.Contains(out, "page 1 of 2 (3 orders)") {
		t.Fatalf("unexpected paging:\n%s", out)
	}
	if strings.Index(out, "ana") > strings.Index(out, "Bea") || strings.Contains(out, "Carla") {
		t.Fatalf("expected ana, Bea on the first page:\n%s", out)
	}
	if !strings.Contains(out, "total 3  pending 3") {
		t.Fatalf("unexpected stats:\n%s", out)
	}
}

func TestRunRejectsUnknownInput(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "", "refund"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := h.run(t, "", "report", "-period", "yearly"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for period, got %v", err)
	}
	if _, err := h.run(t, "", "checkout", "-customer", "Ana", "-staff", "Ben", "prd-rose-dozen=0"); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for quantity, got %v", err)
	}
}

func TestParseCartArg(t *testing.T) {
	cases := []struct {
		in   string
		ref  string
		qty  int
		fail bool
	}{
		{in: "prd-card", ref: "prd-card", qty: 1},
		{in: "BQ-001=3", ref: "BQ-001", qty: 3},
		{in: "=2", fail: true},
		{in: "prd-card=x", fail: true},
	}
	for _, tc := range cases {
		ref, qty, err := parseCartArg(tc.in)
		if tc.fail {
			if err == nil {
				t.Fatalf("expected %q to fail", tc.in)
			}
			continue
		}
		if err != nil || ref != tc.ref || qty != tc.qty {
			t.Fatalf("parseCartArg(%q) = %q, %d, %v", tc.in, ref, qty, err)
		}
	}
}
