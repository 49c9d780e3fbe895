// Package admin serves the moderator HTTP API: login, room statistics and
// the kick, unkick and clear controls, plus the public health and name
// endpoints.
package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// RoleAdmin is the only role the API issues.
const RoleAdmin = "admin"

var (
	// ErrInvalidCredentials is returned by Login for a wrong email or password.
	ErrInvalidCredentials = errors.New("admin: invalid credentials")
	// ErrInvalidToken is returned by Verify for a bad, expired or non-admin token.
	ErrInvalidToken = errors.New("admin: invalid token")
)

// Claims is the admin token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator checks the single configured admin account and issues
// HS256 bearer tokens.
type Authenticator struct {
	email  string
	hash   []byte
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewAuthenticator hashes password with bcrypt. An empty secret gets a
// random one, which invalidates tokens across restarts.
func NewAuthenticator(email, password, secret string, ttl time.Duration) (*Authenticator, error) {
	if email == "" || password == "" {
		return nil, errors.New("admin: email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("admin: hash password: %w", err)
	}
	key := []byte(secret)
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("admin: generate secret: %w", err)
		}
		key = []byte(hex.EncodeToString(buf))
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{
		email:  strings.ToLower(strings.TrimSpace(email)),
		hash:   hash,
		secret: key,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Email returns the admin account's email.
func (a *Authenticator) Email() string {
	return a.email
}

// Login returns a signed token for valid credentials.
func (a *Authenticator) Login(email, password string) (string, error) {
	given := strings.ToLower(strings.TrimSpace(email))
	emailOK := subtle.ConstantTimeCompare([]byte(given), []byte(a.email)) == 1
	// bcrypt runs even when the email is wrong.
	passErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	if !emailOK || passErr != nil {
		return "", ErrInvalidCredentials
	}

	now := a.now()
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.email,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("admin: sign token: %w", err)
	}
	return token, nil
}

// Verify parses token and checks it carries the admin role.
func (a *Authenticator) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Role != RoleAdmin {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
