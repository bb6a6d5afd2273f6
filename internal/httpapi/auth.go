package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/store"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errUserExists         = errors.New("username already exists")
	errNotStaffAccount    = errors.New("only staff passwords can be reset here")
	errInvalidToken       = errors.New("invalid or expired token")
	errUnknownRole        = errors.New("token carries an unknown desk role")
)

const tokenIssuer = "orderdesk"

// UserStore persists desk accounts. Passwords arrive and leave as bcrypt hashes.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager signs desk tokens and checks the manager PIN that lets staff
// enter manual line prices. Staff quote and finalize orders; admins also run
// the catalog, the discount codes and the accounts.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  []byte
	users    UserStore
	accounts accountCache
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost); err == nil {
			manager.pinHash = hash
		}
	}
	return manager
}

// deskClaims is the token payload. Role must be one of the desk roles; a token
// naming anything else is refused even when its signature holds.
type deskClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func (c *deskClaims) actor() (domain.Actor, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return domain.Actor{}, errInvalidToken
	}
	switch c.Role {
	case domain.RoleStaff, domain.RoleAdmin:
		return domain.Actor{Username: c.Subject, Role: c.Role}, nil
	default:
		return domain.Actor{}, errUnknownRole
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	username := normalizeUsername(req.Username)
	account, ok := a.account(ctx, username)
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !checkHash(account.Password, req.Password) {
		// another instance may have reset the password since the cache filled
		if !a.reload(ctx) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
		if account, ok = a.accounts.get(username); !ok || !checkHash(account.Password, req.Password) {
			return domain.LoginResponse{}, errInvalidCredentials
		}
	}
	if !account.Active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(deskClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: account.Role,
	})
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &deskClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	return claims.actor()
}

func (a *AuthManager) sign(claims deskClaims) (string, error) {
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ApproveManualPrice reports whether pin is the manager PIN. With no PIN
// configured nothing is approved and only admins may price lines by hand.
func (a *AuthManager) ApproveManualPrice(pin string) bool {
	pin = strings.TrimSpace(pin)
	if pin == "" || a.pinHash == nil {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.pinHash, []byte(pin)) == nil
}

// CreateStaff adds a staff account. Field rules are enforced by the request
// validator; the username check here covers the store round trip.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	username := normalizeUsername(req.Username)
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.StaffUser{}, fmt.Errorf("username must not contain spaces")
	}
	if _, exists := a.account(ctx, username); exists {
		return domain.StaffUser{}, errUserExists
	}

	hash, err := hashSecret(req.Password)
	if err != nil {
		return domain.StaffUser{}, err
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.users != nil {
		if err := a.users.CreateUser(ctx, account); err != nil {
			return domain.StaffUser{}, err
		}
	}
	a.accounts.put(account)
	return staffView(account), nil
}

// ResetStaffPassword replaces a staff member's password. Admin accounts are
// managed outside the desk and cannot be reset through it.
func (a *AuthManager) ResetStaffPassword(ctx context.Context, username string, req domain.StaffPasswordResetRequest) (domain.StaffUser, error) {
	username = normalizeUsername(username)
	account, ok := a.account(ctx, username)
	if !ok {
		return domain.StaffUser{}, store.ErrNotFound
	}
	if account.Role != domain.RoleStaff {
		return domain.StaffUser{}, errNotStaffAccount
	}

	hash, err := hashSecret(req.Password)
	if err != nil {
		return domain.StaffUser{}, err
	}
	if a.users != nil {
		if err := a.users.UpdateUserPassword(ctx, username, hash); err != nil {
			return domain.StaffUser{}, err
		}
	}
	account.Password = hash
	a.accounts.put(account)
	return staffView(account), nil
}

// ListStaff reads staff accounts from the store and refreshes the cache with
// what it found.
func (a *AuthManager) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	if a.users != nil {
		accounts, err := a.users.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		a.accounts.replace(accounts)
	}

	staff := make([]domain.StaffUser, 0)
	for _, account := range a.accounts.all() {
		if account.Role == domain.RoleStaff {
			staff = append(staff, staffView(account))
		}
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].Username < staff[j].Username })
	return staff, nil
}

// account looks username up in the cache and goes to the store only on a miss.
func (a *AuthManager) account(ctx context.Context, username string) (domain.UserAccount, bool) {
	if username == "" {
		return domain.UserAccount{}, false
	}
	if account, ok := a.accounts.get(username); ok {
		return account, true
	}
	if !a.reload(ctx) {
		return domain.UserAccount{}, false
	}
	return a.accounts.get(username)
}

func (a *AuthManager) reload(ctx context.Context) bool {
	if a.users == nil {
		return false
	}
	accounts, err := a.users.ListUsers(ctx)
	if err != nil {
		return false
	}
	a.accounts.replace(accounts)
	return true
}

type accountCache struct {
	mu       sync.RWMutex
	accounts map[string]domain.UserAccount
}

func (c *accountCache) get(username string) (domain.UserAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	account, ok := c.accounts[username]
	return account, ok
}

func (c *accountCache) put(account domain.UserAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accounts == nil {
		c.accounts = make(map[string]domain.UserAccount)
	}
	c.accounts[account.Username] = account
}

func (c *accountCache) replace(accounts []domain.UserAccount) {
	fresh := make(map[string]domain.UserAccount, len(accounts))
	for _, account := range accounts {
		account.Username = normalizeUsername(account.Username)
		if account.Username != "" {
			fresh[account.Username] = account
		}
	}
	c.mu.Lock()
	c.accounts = fresh
	c.mu.Unlock()
}

func (c *accountCache) all() []domain.UserAccount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(c.accounts))
	for _, account := range c.accounts {
		out = append(out, account)
	}
	return out
}

func staffView(account domain.UserAccount) domain.StaffUser {
	return domain.StaffUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// checkHash compares input with a stored bcrypt hash. Plain-text values never
// match.
func checkHash(hash, input string) bool {
	if hash == "" || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
