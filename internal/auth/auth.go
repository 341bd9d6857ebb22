package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"decisionlens/internal/ident"
	"decisionlens/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrEmailTaken         = store.ErrEmailTaken
)

// Repository is the slice of the record store the auth service needs.
type Repository interface {
	CreateUser(ctx context.Context, u store.User) error
	UserByEmail(ctx context.Context, email string) (store.User, error)
	SaveRefreshToken(ctx context.Context, t store.RefreshToken) error
	RefreshToken(ctx context.Context, token string) (store.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
}

// Claims is the payload carried by both access and refresh tokens.
type Claims struct {
	Email    string `json:"email"`
	UserName string `json:"userName"`
	jwt.RegisteredClaims
}

// UserID returns the verified owner id encoded in the token subject.
func (c *Claims) UserID() string { return c.Subject }

type Service struct {
	repo          Repository
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func New(repo Repository, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		repo:          repo,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// Register creates a new user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, userName, email, password string) (store.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 10)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := store.User{
		ID:        ident.New(),
		UserName:  userName,
		Email:     email,
		Password:  string(hash),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return store.User{}, err
	}
	return u, nil
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	UserName     string
}

// Login verifies the credentials and issues an access/refresh token
// pair. The refresh token is persisted so it can be revoked.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	u, err := s.repo.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	access, err := s.sign(u, s.accessSecret, s.accessTTL)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := s.sign(u, s.refreshSecret, s.refreshTTL)
	if err != nil {
		return LoginResult{}, err
	}
	err = s.repo.SaveRefreshToken(ctx, store.RefreshToken{
		Token:     refresh,
		UserID:    u.ID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{AccessToken: access, RefreshToken: refresh, UserName: u.UserName}, nil
}

// Refresh exchanges a stored, still-valid refresh token for a new
// access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if _, err := s.repo.RefreshToken(ctx, refreshToken); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidToken
		}
		return "", err
	}
	claims, err := s.verify(refreshToken, s.refreshSecret)
	if err != nil {
		return "", err
	}
	u := store.User{ID: claims.Subject, Email: claims.Email, UserName: claims.UserName}
	return s.sign(u, s.accessSecret, s.accessTTL)
}

// Logout revokes the refresh token; unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.repo.DeleteRefreshToken(ctx, refreshToken)
}

// VerifyAccess validates an access token and returns its claims. Every
// inbound realtime connection and REST call must pass through here
// before touching any state.
func (s *Service) VerifyAccess(token string) (*Claims, error) {
	return s.verify(token, s.accessSecret)
}

func (s *Service) sign(u store.User, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:    u.Email,
		UserName: u.UserName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) verify(token string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
