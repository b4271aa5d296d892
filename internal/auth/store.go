package auth

import (
	"context"
	"time"
)

// UnitOfWork groups repository operations into one atomic transaction.
//
// Run commits when fn returns nil and rolls back otherwise. The Repositories
// handed to fn are bound to the transaction and must not escape it. Calling
// Run again with the context passed to fn returns ErrNestedUnitOfWork.
// Failures to begin or commit wrap ErrTransactionFailure and are never
// retried by the implementation.
type UnitOfWork interface {
	Run(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// Repositories is the bundle of transaction-bound repositories.
type Repositories interface {
	Users() UserRepository
	Clients() ClientRepository
	Roles() RoleRepository
	Permissions() PermissionRepository
	UserRoles() UserRoleRepository
	RolePermissions() RolePermissionRepository
	ClientPermissions() ClientPermissionRepository
	RefreshTokens() RefreshTokenRepository
}

// Page bounds list queries. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

// UserFilter narrows user listings. Nil pointers do not filter.
type UserFilter struct {
	EmailContains string
	Active        *bool
	Superuser     *bool
	RoleID        string
	Page
}

// ClientFilter narrows client listings.
type ClientFilter struct {
	NameContains string
	Active       *bool
	Page
}

// RoleFilter narrows role listings.
type RoleFilter struct {
	NameContains string
	UserID       string
	Page
}

// PermissionFilter narrows permission listings. UserID resolves permissions
// reachable through the user's roles; ClientID resolves direct grants.
type PermissionFilter struct {
	Codes    []string
	RoleID   string
	UserID   string
	ClientID string
	Page
}

// RefreshTokenFilter narrows refresh-token listings.
type RefreshTokenFilter struct {
	Owner    *PrincipalRef
	FamilyID string
	// CurrentOnly keeps rows that are neither revoked nor replaced.
	CurrentOnly bool
}

type UserRepository interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserFilter) ([]*User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id string) error
}

type ClientRepository interface {
	Get(ctx context.Context, id string) (*Client, error)
	GetByName(ctx context.Context, name string) (*Client, error)
	List(ctx context.Context, f ClientFilter) ([]*Client, error)
	Create(ctx context.Context, c *Client) error
	Update(ctx context.Context, c *Client) error
	Delete(ctx context.Context, id string) error
}

type RoleRepository interface {
	Get(ctx context.Context, id string) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context, f RoleFilter) ([]*Role, error)
	Create(ctx context.Context, r *Role) error
	Update(ctx context.Context, r *Role) error
	Delete(ctx context.Context, id string) error
}

type PermissionRepository interface {
	Get(ctx context.Context, id string) (*Permission, error)
	GetByCode(ctx context.Context, code string) (*Permission, error)
	// List returns distinct permissions ordered by code.
	List(ctx context.Context, f PermissionFilter) ([]*Permission, error)
	Create(ctx context.Context, p *Permission) error
	Update(ctx context.Context, p *Permission) error
	Delete(ctx context.Context, id string) error
}

// UserRoleRepository returns ErrConflict on duplicate pairs and ErrNotFound
// when either side does not exist or the pair is absent on Remove.
type UserRoleRepository interface {
	Add(ctx context.Context, ur UserRole) error
	Remove(ctx context.Context, userID, roleID string) error
	ListByUser(ctx context.Context, userID string) ([]UserRole, error)
	ListByRole(ctx context.Context, roleID string) ([]UserRole, error)
}

type RolePermissionRepository interface {
	Add(ctx context.Context, rp RolePermission) error
	Remove(ctx context.Context, roleID, permissionID string) error
	ListByRole(ctx context.Context, roleID string) ([]RolePermission, error)
}

type ClientPermissionRepository interface {
	Add(ctx context.Context, cp ClientPermission) error
	Remove(ctx context.Context, clientID, permissionID string) error
	ListByClient(ctx context.Context, clientID string) ([]ClientPermission, error)
}

// RefreshTokenRepository persists refresh-token rows.
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *RefreshToken) error
	Get(ctx context.Context, id string) (*RefreshToken, error)
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	// LockByHash reads the row and holds a row lock until the transaction ends.
	LockByHash(ctx context.Context, hash string) (*RefreshToken, error)
	List(ctx context.Context, f RefreshTokenFilter) ([]*RefreshToken, error)
	// MarkRotated links id to its successor. It only affects a current row and
	// returns ErrConflict otherwise.
	MarkRotated(ctx context.Context, id, replacedBy string, at time.Time) error
	// Revoke revokes a current row; it returns ErrConflict if the row is terminal.
	Revoke(ctx context.Context, id string, at time.Time, reason string) error
	RevokeFamily(ctx context.Context, familyID string, at time.Time, reason string) (int64, error)
	RevokeByOwner(ctx context.Context, owner PrincipalRef, at time.Time, reason string) (int64, error)
	// DeleteExpired removes rows that expired or were revoked before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
