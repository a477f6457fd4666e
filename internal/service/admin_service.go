package service

import (
	"context"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"storefront-service/internal/apperror"
	"time"
)

type JwtCustomClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type AdminService struct {
	passwordHash []byte
	jwtSecret    []byte
	tokenTTL     time.Duration
	now          func() time.Time
}

func NewAdminService(passwordHash, jwtSecret string, tokenTTL time.Duration) *AdminService {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &AdminService{
		passwordHash: []byte(passwordHash),
		jwtSecret:    []byte(jwtSecret),
		tokenTTL:     tokenTTL,
		now:          time.Now,
	}
}

// Login exchanges the admin password for a signed token.
func (s *AdminService) Login(ctx context.Context, password string) (string, error) {
	if len(s.passwordHash) == 0 || len(s.jwtSecret) == 0 {
		return "", apperror.Configuration("Admin login not configured")
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		logger.Warn().Msg("Failed admin login attempt")
		return "", apperror.Unauthorized("Invalid credentials")
	}

	claims := &JwtCustomClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.tokenTTL)),
		},
	}

	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t, err := tkn.SignedString(s.jwtSecret)
	if err != nil {
		return "", err
	}
	return t, nil
}

func (s *AdminService) JWTSecret() []byte {
	return s.jwtSecret
}
