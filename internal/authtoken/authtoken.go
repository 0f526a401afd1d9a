// Package authtoken issues and verifies the HS256 compact tokens that carry
// a subject id between the auth service and the chat service. Verification
// is stateless: no network call on the hot path, any validation problem
// collapses to apperr.Unauthenticated.
package authtoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/chatcore/chatcore/internal/apperr"
)

// Claims is the minimal claim set the chat core needs: a subject id and
// the registered expiry/issued-at fields.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager issues tokens (auth service) and verifies them (both services).
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed token for subject, valid for the manager's TTL.
func (m *Manager) Issue(subject string) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    "chatcore-auth",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", apperr.Internalf(err, "sign token")
	}
	return signed, nil
}

// Verify validates tokenString's signature and expiry and returns the
// subject id. Any problem — missing, malformed, expired, bad signature —
// is reported as apperr.Unauthenticated; callers never see the underlying
// jwt error.
func (m *Manager) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", apperr.Unauthenticatedf("missing bearer credential")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", apperr.Unauthenticatedf("invalid token claims")
	}

	return claims.Subject, nil
}

// ExtractBearer pulls the bearer credential from the Authorization header,
// falling back to a "token" query parameter for WebSocket upgrade requests
// that cannot set custom headers from a browser.
func ExtractBearer(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return "", errors.New("malformed authorization header")
		}
		return strings.TrimPrefix(header, prefix), nil
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok, nil
	}
	return "", errors.New("no bearer credential present")
}

// VerifyRequest extracts and verifies the bearer credential from r in one
// step, as used by both the Session Handler upgrade path and the REST
// middleware.
func (m *Manager) VerifyRequest(r *http.Request) (string, error) {
	bearer, err := ExtractBearer(r)
	if err != nil {
		return "", apperr.Wrap(apperr.Unauthenticated, "missing bearer credential", err)
	}
	return m.Verify(bearer)
}
