package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var issuedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func hsIssuer(t *testing.T, issuer string) *TokenIssuer {
	t.Helper()
	ti, err := NewTokenIssuer(TokenConfig{Issuer: issuer, Secret: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return ti
}

func TestIssueAndVerifyHS256(t *testing.T) {
	ti := hsIssuer(t, "warden")
	p := Principal{ID: "u1", Kind: KindUser, Permissions: NewPermissionSet("users.read", "roles.read", "users.read")}

	token, exp, err := ti.Issue(p, "", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(issuedAt.Add(defaultAccessTTL)) {
		t.Fatalf("unexpected expiry %v", exp)
	}
	claims, err := ti.Verify(token, issuedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Kind != KindUser || claims.Issuer != "warden" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if got := strings.Join(claims.Permissions, ","); got != "roles.read,users.read" {
		t.Fatalf("unexpected permissions %s", got)
	}
	if claims.ID == "" {
		t.Fatalf("token id missing")
	}
	back := claims.Principal()
	if !back.HasPermission("roles.read") || back.HasPermission("users.write") || back.Restricted {
		t.Fatalf("unexpected principal %+v", back)
	}
}

func TestVerifyFailures(t *testing.T) {
	ti := hsIssuer(t, "warden")
	token, exp, err := ti.Issue(Principal{ID: "u1", Kind: KindUser}, "", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	parts := strings.Split(token, ".")
	other, err := NewTokenIssuer(TokenConfig{Issuer: "warden", Secret: []byte("ffffffffffffffffffffffffffffffff")})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	forged, _, _ := other.Issue(Principal{ID: "u1", Kind: KindUser}, "", issuedAt)
	foreign, _, _ := hsIssuer(t, "someone-else").Issue(Principal{ID: "u1", Kind: KindUser}, "", issuedAt)

	cases := []struct {
		name  string
		token string
		now   time.Time
		want  error
	}{
		{"empty", "", issuedAt, ErrTokenMalformed},
		{"garbage", "not.a.jwt", issuedAt, ErrTokenMalformed},
		{"two segments", parts[0] + "." + parts[1], issuedAt, ErrTokenMalformed},
		{"expired", token, exp.Add(time.Second), ErrTokenExpired},
		{"wrong key", forged, issuedAt, ErrTokenSignature},
		{"wrong issuer", foreign, issuedAt, ErrInvalidToken},
	}
	for _, tc := range cases {
		if _, err := ti.Verify(tc.token, tc.now); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestVerifyRejectsUnexpectedAlgorithm(t *testing.T) {
	ti := hsIssuer(t, "warden")
	claims := AccessClaims{
		Kind: KindUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "warden",
			Subject:   "u1",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := ti.Verify(unsigned, issuedAt); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestRestrictedTokenCarriesNoPermissions(t *testing.T) {
	ti := hsIssuer(t, "warden")
	p := Principal{ID: "u1", Kind: KindUser, Permissions: NewPermissionSet("users.read")}
	token, _, err := ti.Issue(p, ScopePasswordChange, issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ti.Verify(token, issuedAt)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(claims.Permissions) != 0 || claims.Scope != ScopePasswordChange {
		t.Fatalf("restricted token leaked permissions: %+v", claims)
	}
	if !claims.Principal().Restricted {
		t.Fatalf("expected restricted principal")
	}
}

func TestIssueRejectsIncompletePrincipal(t *testing.T) {
	ti := hsIssuer(t, "warden")
	if _, _, err := ti.Issue(Principal{Kind: KindUser}, "", issuedAt); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, _, err := ti.Issue(Principal{ID: "x", Kind: "robot"}, "", issuedAt); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestNewTokenIssuerConfig(t *testing.T) {
	if _, err := NewTokenIssuer(TokenConfig{Secret: []byte("short")}); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}
	if _, err := NewTokenIssuer(TokenConfig{Algorithm: "ES512"}); err == nil {
		t.Fatalf("expected unsupported algorithm to be rejected")
	}
	if _, err := NewTokenIssuer(TokenConfig{Algorithm: "RS256", PrivateKeyPEM: "nope"}); err == nil {
		t.Fatalf("expected bad PEM to be rejected")
	}
}

func TestIssueAndVerifyRS256(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("MarshalPKIXPublicKey: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	signer, err := NewTokenIssuer(TokenConfig{Algorithm: "rs256", PrivateKeyPEM: string(privPEM), KeyID: "k1", AccessTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, _, err := signer.Issue(Principal{ID: "c1", Kind: KindClient, Permissions: NewPermissionSet("reports.read")}, "", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &AccessClaims{})
	if err != nil {
		t.Fatalf("ParseUnverified: %v", err)
	}
	if parsed.Header["kid"] != "k1" || parsed.Method.Alg() != "RS256" {
		t.Fatalf("unexpected header %v", parsed.Header)
	}

	verifier, err := NewTokenIssuer(TokenConfig{Algorithm: "RS256", PrivateKeyPEM: string(privPEM), PublicKeyPEM: string(pubPEM)})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	claims, err := verifier.Verify(token, issuedAt.Add(30*time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Kind != KindClient || claims.Subject != "c1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := verifier.Verify(token, issuedAt.Add(2*time.Minute)); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatalf("unexpected principal in empty context")
	}
	ctx = ContextWithPrincipal(ctx, Principal{ID: "u7", Kind: KindUser})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.ID != "u7" {
		t.Fatalf("unexpected principal %+v ok=%v", p, ok)
	}
	if got := ContextWithToken(ctx, ""); got != ctx {
		t.Fatalf("empty token must not change the context")
	}
	tok, ok := TokenFromContext(ContextWithToken(ctx, "abc"))
	if !ok || tok != "abc" {
		t.Fatalf("unexpected token %q ok=%v", tok, ok)
	}

	inner, err := BeginUnitOfWork(ctx)
	if err != nil || !InUnitOfWork(inner) {
		t.Fatalf("BeginUnitOfWork: %v", err)
	}
	if _, err := BeginUnitOfWork(inner); !errors.Is(err, ErrNestedUnitOfWork) {
		t.Fatalf("expected ErrNestedUnitOfWork, got %v", err)
	}
}
