package httpapi

import (
	"context"
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/store"
	"flowershop/backend/internal/store/memory"
)

func TestFloristSignsInWithCaseInsensitiveUsername(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager("test-secret", time.Hour, "123456", memory.New())

	if _, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "Marisol", Password: "tulips42"}); err != nil {
		t.Fatalf("create florist: %v", err)
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "  MARISOL ", Password: "tulips42"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if resp.Role != RoleStaff || resp.AccessToken == "" {
		t.Fatalf("unexpected login response %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
		t.Fatalf("expires_at %q is not RFC3339: %v", resp.ExpiresAt, err)
	}

	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "marisol" || actor.Role != RoleStaff {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestLoginRejectsBadCredentialsAndDisabledAccounts(t *testing.T) {
	ctx := context.Background()
	accounts := memory.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("lilies99"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := accounts.CreateUser(ctx, domain.UserAccount{Username: "seasonal", Password: string(hash), Role: RoleStaff, Active: false}); err != nil {
		t.Fatalf("seed disabled florist: %v", err)
	}
	if err := accounts.CreateUser(ctx, domain.UserAccount{Username: "owner", Password: string(hash), Role: RoleAdmin, Active: true}); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	manager := NewAuthManager("test-secret", time.Hour, "", accounts)

	cases := []struct {
		name string
		req  domain.LoginRequest
		want error
	}{
		{"wrong password", domain.LoginRequest{Username: "owner", Password: "roses"}, ErrBadCredentials},
		{"unknown florist", domain.LoginRequest{Username: "nobody", Password: "lilies99"}, ErrBadCredentials},
		{"empty password", domain.LoginRequest{Username: "owner"}, ErrBadCredentials},
		{"disabled account", domain.LoginRequest{Username: "seasonal", Password: "lilies99"}, ErrAccountDisabled},
	}
	for _, tc := range cases {
		if _, err := manager.Login(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	resp, err := manager.Login(ctx, domain.LoginRequest{Username: "owner", Password: "lilies99"})
	if err != nil || resp.Role != RoleAdmin {
		t.Fatalf("expected owner to sign in as admin, got %+v, %v", resp, err)
	}
}

func TestCreateStaffValidatesAndHashes(t *testing.T) {
	ctx := context.Background()
	accounts := memory.New()
	manager := NewAuthManager("test-secret", time.Hour, "123456", accounts)

	invalid := []domain.StaffCreateRequest{
		{Username: "ana", Password: "orchid77"},
		{Username: "rose petal", Password: "orchid77"},
		{Username: "rosepetal", Password: "123"},
		{Username: "rosepetal"},
	}
	for _, req := range invalid {
		if _, err := manager.CreateStaff(ctx, req); !errors.Is(err, store.ErrInvalidInput) {
			t.Fatalf("expected invalid input for %+v, got %v", req, err)
		}
	}

	florist, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "RosePetal", Password: "orchid77"})
	if err != nil {
		t.Fatalf("create florist: %v", err)
	}
	if florist.Username != "rosepetal" || florist.Role != RoleStaff || !florist.Active {
		t.Fatalf("unexpected florist %+v", florist)
	}

	stored, err := accounts.GetUser(ctx, "rosepetal")
	if err != nil {
		t.Fatalf("get stored account: %v", err)
	}
	if stored.Password == "orchid77" {
		t.Fatalf("expected password to be stored as a bcrypt hash")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.Password), []byte("orchid77")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	if _, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "rosepetal", Password: "another1"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate florist, got %v", err)
	}
}

func TestListStaffLeavesOutAdmins(t *testing.T) {
	ctx := context.Background()
	manager := NewAuthManager("test-secret", time.Hour, "123456", memory.NewSeeded())

	if _, err := manager.CreateStaff(ctx, domain.StaffCreateRequest{Username: "marisol", Password: "tulips42"}); err != nil {
		t.Fatalf("create florist: %v", err)
	}

	roster, err := manager.ListStaff(ctx)
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	if len(roster) != 2 || roster[0].Username != "marisol" || roster[1].Username != "staff" {
		t.Fatalf("expected marisol and staff on the roster, got %+v", roster)
	}
	for _, member := range roster {
		if member.Role != RoleStaff {
			t.Fatalf("admin leaked into roster: %+v", member)
		}
	}
}

func TestParseTokenRejectsExpiredForeignAndUnknownRoleTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "123456", nil)
	florist := domain.Actor{Username: "marisol", Role: RoleStaff}

	expired, err := manager.issue(florist, manager.now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	otherShop, err := NewAuthManager("other-secret", time.Hour, "", nil).issue(florist, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue with other secret: %v", err)
	}
	wrongIssuer, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "marisol",
			Issuer:    "kasir",
			Audience:  jwtlib.ClaimStrings{tokenAudience},
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleStaff,
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign foreign issuer: %v", err)
	}
	unknownRole, err := manager.issue(domain.Actor{Username: "marisol", Role: "owner"}, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("issue unknown role: %v", err)
	}

	for name, token := range map[string]string{
		"expired":      expired,
		"other secret": otherShop,
		"wrong issuer": wrongIssuer,
		"unknown role": unknownRole,
		"garbage":      "not-a-token",
	} {
		if _, err := manager.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected invalid token, got %v", name, err)
		}
	}
}

func TestManagerPINUnlocksDeletesOnlyWhenConfigured(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", nil)
	if !manager.ValidateManagerPIN(" 654321 ") {
		t.Fatalf("expected configured manager PIN to validate")
	}
	if manager.ValidateManagerPIN("111111") || manager.ValidateManagerPIN("") {
		t.Fatalf("expected wrong or empty PIN to fail")
	}

	locked := NewAuthManager("test-secret", time.Hour, "  ", nil)
	if locked.ValidateManagerPIN("") || locked.ValidateManagerPIN("654321") {
		t.Fatalf("expected deletes to stay locked without a configured PIN")
	}
}
