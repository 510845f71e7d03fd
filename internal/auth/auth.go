// Package auth issues and verifies the bearer tokens the HTTP layer uses
// to produce an authenticated principal; THE CORE itself never inspects a
// token (per spec.md's "the core does not verify tokens itself" — only
// internal/httpapi, the outer collaborator, calls into this package).
package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Role is one of the three authorization levels named in §6.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrInvalidToken       = errors.New("auth: invalid or expired token")
)

// User is one entry in the credential store; PasswordHash is a bcrypt hash,
// never a plaintext password.
type User struct {
	Username     string
	PasswordHash string
	Role         Role
}

// Store is the credential store; a minimal in-memory implementation is
// provided in store.go. Anything backing it (a database, an LDAP bind) is
// outside this package's concern.
type Store interface {
	Lookup(username string) (User, bool)
}

// Claims is the JWT payload issued on a successful login.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer verifies credentials against a Store and issues/validates HS256
// bearer tokens. The secret has no default (per §6's "no defaults for
// secrets") and must come from the environment at construction time.
type Issuer struct {
	store  Store
	secret []byte
	ttl    time.Duration
}

func New(store Store, secret []byte, ttl time.Duration) *Issuer {
	if ttl == 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{store: store, secret: secret, ttl: ttl}
}

// Login verifies username/password against the store and, on success,
// issues a signed bearer token carrying the user's role.
func (i *Issuer) Login(username, password string) (token string, role Role, err error) {
	u, ok := i.store.Lookup(username)
	if !ok {
		return "", "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", "", ErrInvalidCredentials
	}
	now := time.Now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", "", err
	}
	return signed, u.Role, nil
}

// Verify parses and validates a bearer token, returning the claims it
// carries if (and only if) the signature and expiry both check out.
func (i *Issuer) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// IsSharedSecret reports whether header equals the configured internal
// shared secret, in constant time. An equal shared secret is treated as
// RoleAdmin by the caller, per §6.
func IsSharedSecret(header string, configured []byte) bool {
	if len(configured) == 0 || header == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(header), configured) == 1
}
