// Package admintoken issues and checks the short-lived bearer tokens that
// guard the registration export.
package admintoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"foundersforum/internal/util"
)

const (
	DefaultTokenTTL = time.Hour
	DefaultLeeway   = 15 * time.Second
	// Audience scopes tokens to this service.
	Audience = "registration-admin"
	// ScopeExport is the only scope issued today.
	ScopeExport = "registrations:export"

	minSecretLength = 32
)

var (
	ErrTokenMissing = errors.New("admin token required")
	ErrWrongScope   = errors.New("admin token scope not allowed")
)

// Claims are the registered claims plus the granted scope.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Options configures admin token signing and verification.
type Options struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// Manager signs and verifies HS256 admin tokens with a shared secret.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
	now    func() time.Time
}

func NewManager(opts Options) (*Manager, error) {
	secret := strings.TrimSpace(opts.Secret)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("admin token secret must be at least %d bytes", minSecretLength)
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("admin token issuer is required")
	}
	m := &Manager{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    cmpOr(opts.TTL, DefaultTokenTTL),
		now:    time.Now,
	}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cmpOr(opts.Leeway, DefaultLeeway)),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m, nil
}

// Sign issues an export-scoped token for subject and returns its expiry.
func (m *Manager) Sign(subject string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, errors.New("admin token subject is required")
	}
	now := m.now().UTC()
	expires := now.Add(m.ttl)
	claims := Claims{
		Scope: ScopeExport,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        util.NewID(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks signature, audience, issuer, expiry and scope.
func (m *Manager) Verify(token string) (Claims, error) {
	var claims Claims
	if token = strings.TrimSpace(token); token == "" {
		return claims, ErrTokenMissing
	}
	_, err := m.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return claims, err
	}
	if claims.ID == "" {
		return claims, errors.New("admin token jti required")
	}
	if claims.Scope != ScopeExport {
		return claims, ErrWrongScope
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header. The
// scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func cmpOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
