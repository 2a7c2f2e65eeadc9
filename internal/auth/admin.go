package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AdminStore persists back-office operator credentials, seeded out of band.
type AdminStore interface {
	AdminCredentials(ctx context.Context, email string) (adminID, passwordHash string, err error)
}

// AdminService issues and verifies operator tokens. Admin tokens carry the
// "admin" audience so a user token can never pass the admin middleware.
type AdminService struct {
	admins AdminStore
	issuer string
	secret []byte
	ttl    time.Duration
}

func NewAdminService(admins AdminStore, issuer string, secret []byte, ttl time.Duration) *AdminService {
	return &AdminService{admins: admins, issuer: issuer, secret: secret, ttl: ttl}
}

func (s *AdminService) Login(ctx context.Context, email, password string) (string, error) {
	adminID, hash, err := s.admins.AdminCredentials(ctx, email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   adminID,
		Audience:  jwt.ClaimStrings{"admin"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}

func (s *AdminService) ParseToken(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Issuer != s.issuer || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	isAdmin := false
	for _, aud := range claims.Audience {
		if aud == "admin" {
			isAdmin = true
		}
	}
	if !isAdmin {
		return "", errors.New("not an admin token")
	}
	return claims.Subject, nil
}

// HashPassword is the seeding helper used by cmd/genhash and demo startup.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
