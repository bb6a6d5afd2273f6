package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"orderdesk/backend/internal/domain"
	"orderdesk/backend/internal/store"
)

type userStoreStub struct {
	mu        sync.Mutex
	users     map[string]domain.UserAccount
	listCalls int
	updates   int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return store.ErrConflict
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func (s *userStoreStub) add(t *testing.T, username, password, role string, active bool) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash %s: %v", username, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = domain.UserAccount{
		Username:  username,
		Password:  string(hash),
		Role:      role,
		Active:    active,
		CreatedAt: time.Now().UTC(),
	}
}

func deskStore(t *testing.T) *userStoreStub {
	t.Helper()
	s := &userStoreStub{users: map[string]domain.UserAccount{}}
	s.add(t, "admin", "admin123", domain.RoleAdmin, true)
	s.add(t, "cashier", "cash1234", domain.RoleStaff, true)
	return s
}

func TestLoginLoadsAccountsOnlyOnCacheMiss(t *testing.T) {
	users := deskStore(t)
	manager := NewAuthManager("test-secret", time.Hour, "480193", users)

	for i := 0; i < 3; i++ {
		if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "Cashier", Password: "cash1234"}); err != nil {
			t.Fatalf("login %d failed: %v", i+1, err)
		}
	}
	if users.listCalls != 1 {
		t.Fatalf("expected one store load for repeated logins, got %d", users.listCalls)
	}

	users.add(t, "packer", "pack1234", domain.RoleStaff, true)
	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "packer", Password: "pack1234"})
	if err != nil {
		t.Fatalf("account added by another instance should sign in: %v", err)
	}
	if resp.Role != domain.RoleStaff || users.listCalls != 2 {
		t.Fatalf("expected staff login after one reload, got role %q after %d loads", resp.Role, users.listCalls)
	}
}

func TestLoginRejectsBadAccounts(t *testing.T) {
	users := deskStore(t)
	users.add(t, "retired", "gone1234", domain.RoleStaff, false)
	users.users["legacy"] = domain.UserAccount{Username: "legacy", Password: "plain123", Role: domain.RoleStaff, Active: true}
	manager := NewAuthManager("test-secret", time.Hour, "480193", users)

	cases := []struct {
		username string
		password string
		want     error
	}{
		{"cashier", "wrong-pass", errInvalidCredentials},
		{"nobody", "cash1234", errInvalidCredentials},
		{"legacy", "plain123", errInvalidCredentials},
		{"retired", "gone1234", errInactiveAccount},
	}
	for _, tc := range cases {
		_, err := manager.Login(context.Background(), domain.LoginRequest{Username: tc.username, Password: tc.password})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.username, tc.want, err)
		}
	}
}

func TestParseTokenChecksDeskRole(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "480193", deskStore(t))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != domain.RoleAdmin {
		t.Fatalf("unexpected actor %+v", actor)
	}

	claims := func(role string, expires time.Time) deskClaims {
		return deskClaims{
			RegisteredClaims: jwtlib.RegisteredClaims{
				Subject:   "cashier",
				Issuer:    tokenIssuer,
				ExpiresAt: jwtlib.NewNumericDate(expires),
			},
			Role: role,
		}
	}

	owner, err := manager.sign(claims("owner", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(owner); !errors.Is(err, errUnknownRole) {
		t.Fatalf("expected unknown role rejection, got %v", err)
	}

	expired, err := manager.sign(claims(domain.RoleStaff, time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if _, err := manager.ParseToken(expired); !errors.Is(err, errInvalidToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}

	foreign := NewAuthManager("other-secret", time.Hour, "480193", deskStore(t))
	if _, err := foreign.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateStaffStoresPasswordHash(t *testing.T) {
	users := deskStore(t)
	manager := NewAuthManager("test-secret", time.Hour, "480193", users)

	staff, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "Packer01", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if staff.Username != "packer01" || staff.Role != domain.RoleStaff || !staff.Active {
		t.Fatalf("unexpected staff user %+v", staff)
	}
	if stored := users.users["packer01"].Password; !strings.HasPrefix(stored, "$2") {
		t.Fatalf("expected bcrypt hash in store, got %q", stored)
	}

	if _, err := manager.CreateStaff(context.Background(), domain.StaffCreateRequest{Username: "packer01", Password: "other123"}); !errors.Is(err, errUserExists) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}

	listed, err := manager.ListStaff(context.Background())
	if err != nil {
		t.Fatalf("list staff failed: %v", err)
	}
	if len(listed) != 2 || listed[0].Username != "cashier" || listed[1].Username != "packer01" {
		t.Fatalf("expected the two staff accounts, got %+v", listed)
	}
}

func TestResetStaffPassword(t *testing.T) {
	users := deskStore(t)
	manager := NewAuthManager("test-secret", time.Hour, "480193", users)
	ctx := context.Background()

	if _, err := manager.ResetStaffPassword(ctx, "CASHIER", domain.StaffPasswordResetRequest{Password: "fresh123"}); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if users.updates != 1 {
		t.Fatalf("expected one stored password update, got %d", users.updates)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "cashier", Password: "cash1234"}); !errors.Is(err, errInvalidCredentials) {
		t.Fatalf("old password should stop working, got %v", err)
	}
	if _, err := manager.Login(ctx, domain.LoginRequest{Username: "cashier", Password: "fresh123"}); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	if _, err := manager.ResetStaffPassword(ctx, "admin", domain.StaffPasswordResetRequest{Password: "fresh123"}); !errors.Is(err, errNotStaffAccount) {
		t.Fatalf("expected admin reset to be refused, got %v", err)
	}
	if _, err := manager.ResetStaffPassword(ctx, "ghost", domain.StaffPasswordResetRequest{Password: "fresh123"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown account, got %v", err)
	}
}

func TestApproveManualPrice(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "654321", deskStore(t))
	if bcrypt.CompareHashAndPassword(manager.pinHash, []byte("654321")) != nil {
		t.Fatalf("expected manager PIN to be kept as a bcrypt hash")
	}
	if !manager.ApproveManualPrice(" 654321 ") {
		t.Fatalf("expected the manager PIN to approve")
	}
	if manager.ApproveManualPrice("111111") || manager.ApproveManualPrice("") {
		t.Fatalf("expected wrong or empty PIN to be refused")
	}

	noPIN := NewAuthManager("test-secret", time.Hour, "", deskStore(t))
	if noPIN.ApproveManualPrice("") || noPIN.ApproveManualPrice("disabled") {
		t.Fatalf("expected no approvals without a configured PIN")
	}
}
