// Package auth handles registration, login and JWT issuance. Registration is
// where the role-based starting grant is minted: Worker 10, Buyer 50,
// Admin 0.
package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskmint/backend/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
)

// UserStore is the user registry surface auth needs.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type Service interface {
	Register(ctx context.Context, email, password, name string, role models.Role) (*models.User, error)
	Login(ctx context.Context, email, password string) (string, error)
	ValidateToken(token string) (email string, role models.Role, err error)
}

type service struct {
	users    UserStore
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates the auth service with the given JWT signing secret.
func NewService(users UserStore, secret string) Service {
	return &service{users: users, secret: []byte(secret), tokenTTL: 24 * time.Hour}
}

var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role models.Role `json:"role"`
}

func (s *service) Register(ctx context.Context, email, password, name string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		Coins:        models.StartingCoins(role),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(u.Email, u.Role)
}

func (s *service) issueToken(email string, role models.Role) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(token string) (string, models.Role, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return "", "", errors.New("invalid token")
	}
	return c.Subject, c.Role, nil
}
