package auth

import (
	"time"

	"warden.dev/internal/password"
)

// PrincipalKind distinguishes human users from machine clients.
type PrincipalKind string

const (
	KindUser   PrincipalKind = "user"
	KindClient PrincipalKind = "client"
)

// Valid reports whether k is a known principal kind.
func (k PrincipalKind) Valid() bool { return k == KindUser || k == KindClient }

// PrincipalRef identifies a principal without loading it.
type PrincipalRef struct {
	Kind PrincipalKind
	ID   string
}

// User is a human account.
type User struct {
	ID                 string             `db:"id"`
	Email              string             `db:"email"`
	FullName           string             `db:"full_name"`
	PasswordHash       string             `db:"password_hash"`
	PasswordAlgorithm  password.Algorithm `db:"password_algo"`
	Active             bool               `db:"is_active"`
	Superuser          bool               `db:"is_superuser"`
	MustChangePassword bool               `db:"must_change_password"`
	LastLoginAt        *time.Time         `db:"last_login_at"`
	CreatedAt          time.Time          `db:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at"`
}

// Client is a machine principal authenticated with the client-credentials flow.
type Client struct {
	ID              string             `db:"id"`
	Name            string             `db:"name"`
	SecretHash      string             `db:"secret_hash"`
	SecretAlgorithm password.Algorithm `db:"secret_algo"`
	Active          bool               `db:"is_active"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

// Role groups permissions.
type Role struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Permission is a fine-grained capability identified by a stable code.
type Permission struct {
	ID          string    `db:"id"`
	Code        string    `db:"code"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

// UserRole assigns a role to a user.
type UserRole struct {
	UserID    string    `db:"user_id"`
	RoleID    string    `db:"role_id"`
	CreatedAt time.Time `db:"created_at"`
}

// RolePermission links roles to permissions.
type RolePermission struct {
	RoleID       string    `db:"role_id"`
	PermissionID string    `db:"permission_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// ClientPermission grants a permission directly to a client.
type ClientPermission struct {
	ClientID     string    `db:"client_id"`
	PermissionID string    `db:"permission_id"`
	CreatedAt    time.Time `db:"created_at"`
}

// TokenState is the lifecycle state of one refresh-token row.
type TokenState string

const (
	TokenActive  TokenState = "ACTIVE"
	TokenRotated TokenState = "ROTATED"
	TokenRevoked TokenState = "REVOKED"
	TokenExpired TokenState = "EXPIRED"
)

// Revocation reasons recorded on refresh-token rows.
const (
	ReasonRotated         = "rotated"
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout_all"
	ReasonReuseDetected   = "reuse_detected"
	ReasonPasswordChanged = "password_changed"
	ReasonPrincipalDelete = "principal_deleted"
	ReasonSecretRotated   = "secret_rotated"
	ReasonDeactivated     = "deactivated"
)

// RefreshToken is a persisted refresh credential. Only the hash of the opaque
// token is stored.
type RefreshToken struct {
	ID           string        `db:"id"`
	OwnerKind    PrincipalKind `db:"owner_kind"`
	OwnerID      string        `db:"owner_id"`
	TokenHash    string        `db:"token_hash"`
	FamilyID     string        `db:"family_id"`
	ParentID     *string       `db:"parent_id"`
	ReplacedByID *string       `db:"replaced_by"`
	IssuedAt     time.Time     `db:"issued_at"`
	ExpiresAt    time.Time     `db:"expires_at"`
	RevokedAt    *time.Time    `db:"revoked_at"`
	RevokeReason *string       `db:"revoke_reason"`
	LastUsedAt   *time.Time    `db:"last_used_at"`
	IP           string        `db:"ip"`
	UserAgent    string        `db:"user_agent"`
}

// State derives the lifecycle state at now.
func (t *RefreshToken) State(now time.Time) TokenState {
	switch {
	case t.ReplacedByID != nil:
		return TokenRotated
	case t.RevokedAt != nil:
		return TokenRevoked
	case !t.ExpiresAt.After(now):
		return TokenExpired
	default:
		return TokenActive
	}
}

// Owner returns the principal the row belongs to.
func (t *RefreshToken) Owner() PrincipalRef {
	return PrincipalRef{Kind: t.OwnerKind, ID: t.OwnerID}
}
