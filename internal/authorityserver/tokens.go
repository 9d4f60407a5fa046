package authorityserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var errInvalidCredentials = errors.New("invalid credentials")

// AdminAuth checks admin credentials and issues HS256 bearer tokens
type AdminAuth struct {
	username     string
	passwordHash []byte
	secret       []byte
	ttl          time.Duration
	now          func() time.Time
}

// NewAdminAuth creates an AdminAuth. An empty password hash disables login.
func NewAdminAuth(username, passwordHash, secret string, ttl time.Duration) (*AdminAuth, error) {
	if secret == "" {
		return nil, fmt.Errorf("JWT secret key is empty")
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminAuth{
		username:     username,
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		ttl:          ttl,
		now:          time.Now,
	}, nil
}

// HashPassword returns the bcrypt hash stored in the admin_password_hash setting
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies the credentials and returns a signed token with its expiry
func (a *AdminAuth) Login(username, password string) (string, time.Time, error) {
	if len(a.passwordHash) == 0 || username != a.username {
		return "", time.Time{}, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", time.Time{}, errInvalidCredentials
	}

	now := a.now().UTC()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": "admin",
		"jti":  uuid.New().String(),
		"iat":  now.Unix(),
		"exp":  expires.Unix(),
	})

	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a bearer token and returns its subject
func (a *AdminAuth) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return "", fmt.Errorf("token is not an admin token")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid token subject: %w", err)
	}
	return sub, nil
}
