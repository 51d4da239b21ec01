package admintoken

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestManagerSignVerifyHS256(t *testing.T) {
	m, err := NewManager(Options{Secret: testSecret, Issuer: "registration-service", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, expires, err := m.Sign("admin")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatalf("expected future expiry, got %v", expires)
	}
	claims, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "admin" || claims.Issuer != "registration-service" || claims.Scope != ScopeExport {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestNewManagerRejectsShortSecret(t *testing.T) {
	if _, err := NewManager(Options{Secret: "short", Issuer: "x"}); err == nil {
		t.Fatalf("expected short secret to fail")
	}
	if _, err := NewManager(Options{Secret: testSecret}); err == nil {
		t.Fatalf("expected missing issuer to fail")
	}
}

func TestVerifyRejectsOtherSecretAndExpiry(t *testing.T) {
	signer, _ := NewManager(Options{Secret: testSecret, Issuer: "registration-service"})
	other, _ := NewManager(Options{Secret: strings.Repeat("z", 32), Issuer: "registration-service"})
	token, _, err := signer.Sign("admin")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := other.Verify(token); err == nil {
		t.Fatalf("expected signature mismatch to fail")
	}

	signer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := signer.Sign("admin")
	if err != nil {
		t.Fatalf("sign stale: %v", err)
	}
	signer.now = time.Now
	if _, err := signer.Verify(stale); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyRejectsNoneAlgorithm(t *testing.T) {
	m, _ := NewManager(Options{Secret: testSecret, Issuer: "registration-service"})
	claims := Claims{
		Scope: ScopeExport,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "registration-service",
			Subject:   "admin",
			Audience:  jwt.ClaimStrings{Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			ID:        "x",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Verify(token); err == nil {
		t.Fatalf("expected alg=none to be rejected")
	}
}

func TestVerifyRejectsOtherScope(t *testing.T) {
	m, _ := NewManager(Options{Secret: testSecret, Issuer: "registration-service"})
	now := time.Now()
	claims := Claims{
		Scope: "registrations:delete",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "registration-service",
			Subject:   "admin",
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			ID:        "x",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(token); !errors.Is(err, ErrWrongScope) {
		t.Fatalf("verify err = %v, want ErrWrongScope", err)
	}
	if _, err := m.Verify("  "); !errors.Is(err, ErrTokenMissing) {
		t.Fatalf("verify blank = %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"Bearer abc":    "abc",
		"bearer  abc ":  "abc",
		"Basic abc":     "",
		"Bearer":        "",
		"Bearer    ":    "",
	}
	for header, want := range cases {
		req := httptest.NewRequest("GET", "/admin/registrations", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		got, ok := BearerToken(req)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q,%v", header, got, ok)
		}
	}
}
