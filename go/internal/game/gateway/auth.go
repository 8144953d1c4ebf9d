package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator validates the HS256 bearer tokens of websocket clients. The
// token subject is the user id.
type Authenticator struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

func NewAuthenticator(secret []byte, issuer string, clock clockwork.Clock) *Authenticator {
	return &Authenticator{secret: secret, issuer: issuer, clock: clock}
}

// Authenticate reads the token from the token query parameter or the
// Authorization header. Browsers cannot set headers on websocket upgrades.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		raw = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if raw == "" {
		return "", fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}
	return a.Parse(raw)
}

// Parse validates a token and returns its subject.
func (a *Authenticator) Parse(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.clock.Now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return claims.Subject, nil
}

// Issue signs a token for userID.
func (a *Authenticator) Issue(userID string, ttl time.Duration) (string, error) {
	now := a.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
