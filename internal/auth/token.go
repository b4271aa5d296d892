package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopePasswordChange marks a restricted access token that only permits
// changing the password.
const ScopePasswordChange = "password_change"

const (
	defaultIssuer    = "warden"
	defaultAccessTTL = 15 * time.Minute
)

// AccessClaims is the self-contained payload of an access token.
type AccessClaims struct {
	Kind        PrincipalKind `json:"kind"`
	Permissions []string      `json:"perms,omitempty"`
	Superuser   bool          `json:"su,omitempty"`
	Scope       string        `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into a principal snapshot.
func (c *AccessClaims) Principal() Principal {
	return Principal{
		ID:          c.Subject,
		Kind:        c.Kind,
		Superuser:   c.Superuser,
		Permissions: NewPermissionSet(c.Permissions...),
		Restricted:  c.Scope == ScopePasswordChange,
	}
}

// TokenConfig configures the access-token issuer.
type TokenConfig struct {
	Issuer string
	// Algorithm is HS256 or RS256.
	Algorithm     string
	Secret        []byte
	PrivateKeyPEM string
	PublicKeyPEM  string
	KeyID         string
	AccessTTL     time.Duration
	Leeway        time.Duration
}

// TokenIssuer mints and verifies short-lived signed access tokens.
// It holds no per-token state.
type TokenIssuer struct {
	issuer  string
	method  jwt.SigningMethod
	signKey any
	verKey  any
	keyID   string
	ttl     time.Duration
	leeway  time.Duration
}

// NewTokenIssuer validates cfg and loads signing material.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	ti := &TokenIssuer{
		issuer: strings.TrimSpace(cfg.Issuer),
		keyID:  strings.TrimSpace(cfg.KeyID),
		ttl:    cfg.AccessTTL,
		leeway: cfg.Leeway,
	}
	if ti.issuer == "" {
		ti.issuer = defaultIssuer
	}
	if ti.ttl <= 0 {
		ti.ttl = defaultAccessTTL
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Algorithm)) {
	case "", "HS256":
		if len(cfg.Secret) < 32 {
			return nil, errors.New("auth: HS256 secret must be at least 32 bytes")
		}
		ti.method = jwt.SigningMethodHS256
		ti.signKey = cfg.Secret
		ti.verKey = cfg.Secret
	case "RS256":
		priv, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(strings.TrimSpace(cfg.PrivateKeyPEM)))
		if err != nil {
			return nil, fmt.Errorf("auth: parse private key: %w", err)
		}
		var pub *rsa.PublicKey
		if strings.TrimSpace(cfg.PublicKeyPEM) != "" {
			pub, err = jwt.ParseRSAPublicKeyFromPEM([]byte(strings.TrimSpace(cfg.PublicKeyPEM)))
			if err != nil {
				return nil, fmt.Errorf("auth: parse public key: %w", err)
			}
		} else {
			pub = &priv.PublicKey
		}
		ti.method = jwt.SigningMethodRS256
		ti.signKey = priv
		ti.verKey = pub
	default:
		return nil, fmt.Errorf("auth: unsupported signing algorithm %q", cfg.Algorithm)
	}
	return ti, nil
}

// TTL returns the access-token lifetime.
func (ti *TokenIssuer) TTL() time.Duration { return ti.ttl }

// Issue signs an access token for p valid from now for the configured TTL.
func (ti *TokenIssuer) Issue(p Principal, scope string, now time.Time) (string, time.Time, error) {
	if strings.TrimSpace(p.ID) == "" {
		return "", time.Time{}, errors.New("auth: principal id is required")
	}
	if !p.Kind.Valid() {
		return "", time.Time{}, fmt.Errorf("auth: invalid principal kind %q", p.Kind)
	}
	now = now.UTC()
	exp := now.Add(ti.ttl)
	claims := AccessClaims{
		Kind:      p.Kind,
		Superuser: p.Superuser,
		Scope:     scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	if scope == "" {
		claims.Permissions = p.Permissions.Codes()
	}

	token := jwt.NewWithClaims(ti.method, claims)
	if ti.keyID != "" {
		token.Header["kid"] = ti.keyID
	}
	signed, err := token.SignedString(ti.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry. It never touches storage.
func (ti *TokenIssuer) Verify(token string, now time.Time) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{ti.method.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(ti.leeway),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	claims := &AccessClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return ti.verKey, nil
	})
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" || !claims.Kind.Valid() {
		return nil, ErrTokenMalformed
	}
	sort.Strings(claims.Permissions)
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
