package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"decisionlens/internal/store"
)

type memRepo struct {
	users  map[string]store.User // keyed by email
	tokens map[string]store.RefreshToken
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:  make(map[string]store.User),
		tokens: make(map[string]store.RefreshToken),
	}
}

func (m *memRepo) CreateUser(_ context.Context, u store.User) error {
	if _, ok := m.users[u.Email]; ok {
		return store.ErrEmailTaken
	}
	m.users[u.Email] = u
	return nil
}

func (m *memRepo) UserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := m.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memRepo) SaveRefreshToken(_ context.Context, t store.RefreshToken) error {
	m.tokens[t.Token] = t
	return nil
}

func (m *memRepo) RefreshToken(_ context.Context, token string) (store.RefreshToken, error) {
	t, ok := m.tokens[token]
	if !ok {
		return store.RefreshToken{}, store.ErrNotFound
	}
	return t, nil
}

func (m *memRepo) DeleteRefreshToken(_ context.Context, token string) error {
	delete(m.tokens, token)
	return nil
}

func newTestService(repo *memRepo) *Service {
	return New(repo, "access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestRegisterLoginVerify(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	u, err := svc.Register(ctx, "alice", "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Password == "s3cret" {
		t.Fatalf("password stored in clear")
	}

	res, err := svc.Login(ctx, "alice@example.com", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.VerifyAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != u.ID || claims.Email != "alice@example.com" || claims.UserName != "alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if _, ok := repo.tokens[res.RefreshToken]; !ok {
		t.Fatalf("refresh token not persisted")
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "a@example.com", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "bob", "a@example.com", "pw"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}
}

func TestLoginBadCredentials(t *testing.T) {
	svc := newTestService(newMemRepo())
	ctx := context.Background()

	if _, err := svc.Login(ctx, "ghost@example.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := svc.Register(ctx, "alice", "a@example.com", "right"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Login(ctx, "a@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: err = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshFlow(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice", "a@example.com", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := svc.Login(ctx, "a@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	access, err := svc.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.VerifyAccess(access); err != nil {
		t.Fatalf("verify refreshed access token: %v", err)
	}

	if _, err := svc.Refresh(ctx, "never-issued"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unknown refresh token: err = %v, want ErrInvalidToken", err)
	}

	// Revoked tokens stop refreshing even though the JWT is still valid.
	if err := svc.Logout(ctx, res.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("revoked refresh token: err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyAccessRejectsGarbageAndWrongKey(t *testing.T) {
	svc := newTestService(newMemRepo())
	other := New(newMemRepo(), "different-secret", "refresh-secret", time.Minute, time.Hour)
	ctx := context.Background()

	if _, err := svc.VerifyAccess("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: err = %v, want ErrInvalidToken", err)
	}

	if _, err := other.Register(ctx, "bob", "b@example.com", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := other.Login(ctx, "b@example.com", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := svc.VerifyAccess(res.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign-key token: err = %v, want ErrInvalidToken", err)
	}
}
