package httpapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"flowershop/backend/internal/domain"
	"flowershop/backend/internal/store"
	"flowershop/backend/internal/validation"
)

// Roles carried in access tokens. Staff run the counter; admins also manage the
// catalog and the florist roster.
const (
	RoleStaff = "staff"
	RoleAdmin = "admin"
)

const (
	tokenIssuer   = "flowershop"
	tokenAudience = "flowershop-pos"
	accountLookup = 3 * time.Second
)

var (
	ErrBadCredentials  = errors.New("unknown username or wrong password")
	ErrAccountDisabled = errors.New("account is disabled")
	ErrInvalidToken    = errors.New("invalid or expired token")
)

// Accounts is the slice of the store the counter login needs.
type Accounts interface {
	GetUser(ctx context.Context, username string) (domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
}

// AuthManager signs counter sessions and guards catalog deletes with the
// manager PIN. It keeps no account state of its own.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	decoy    []byte
	accounts Accounts
	now      func() time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

// NewAuthManager builds the manager. An empty PIN leaves product deletes locked.
func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, accounts Accounts) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		accounts: accounts,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		a.pinHash, _ = bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	}
	// Unknown usernames still pay for one bcrypt comparison.
	a.decoy, _ = bcrypt.GenerateFromPassword([]byte("flowershop-decoy"), bcrypt.DefaultCost)
	return a
}

// Login checks a florist's password against the store and issues an access token.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	if err := validation.Struct(domain.LoginRequest{Username: username, Password: req.Password}); err != nil {
		return domain.LoginResponse{}, ErrBadCredentials
	}
	if a.accounts == nil {
		return domain.LoginResponse{}, ErrBadCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, accountLookup)
	defer cancel()
	account, err := a.accounts.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(a.decoy, []byte(req.Password))
		return domain.LoginResponse{}, ErrBadCredentials
	}
	if err != nil {
		return domain.LoginResponse{}, fmt.Errorf("load account %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(req.Password)) != nil {
		return domain.LoginResponse{}, ErrBadCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrAccountDisabled
	}
	if !knownRole(account.Role) {
		return domain.LoginResponse{}, fmt.Errorf("account %s has unknown role %q", username, account.Role)
	}

	expiresAt := a.now().Add(a.tokenTTL)
	token, err := a.issue(domain.Actor{Username: account.Username, Role: account.Role}, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken resolves a bearer token to the florist behind it.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &sessionClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(tokenIssuer),
		jwtlib.WithAudience(tokenAudience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(a.now),
	)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" || !knownRole(claims.Role) {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (a *AuthManager) issue(actor domain.Actor, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   actor.Username,
			Issuer:    tokenIssuer,
			Audience:  jwtlib.ClaimStrings{tokenAudience},
			IssuedAt:  jwtlib.NewNumericDate(a.now()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: actor.Role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateManagerPIN reports whether pin unlocks a catalog delete.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	pin = strings.TrimSpace(pin)
	if len(a.pinHash) == 0 || pin == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}

// CreateStaff adds an active florist account with a bcrypt password.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	req.Username = normalizeUsername(req.Username)
	if err := validation.Struct(req); err != nil {
		return domain.StaffUser{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, validation.Describe(err))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.StaffUser{}, fmt.Errorf("hash password: %w", err)
	}

	account := domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      RoleStaff,
		Active:    true,
		CreatedAt: a.now(),
	}
	if err := a.accounts.CreateUser(ctx, account); err != nil {
		return domain.StaffUser{}, err
	}
	return staffUser(account), nil
}

// ListStaff returns the florist roster without admin accounts, ordered by username.
func (a *AuthManager) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	accounts, err := a.accounts.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	roster := make([]domain.StaffUser, 0, len(accounts))
	for _, account := range accounts {
		if account.Role == RoleStaff {
			roster = append(roster, staffUser(account))
		}
	}
	return roster, nil
}

func staffUser(account domain.UserAccount) domain.StaffUser {
	return domain.StaffUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func knownRole(role string) bool {
	return role == RoleStaff || role == RoleAdmin
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
