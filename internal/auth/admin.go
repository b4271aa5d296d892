package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"warden.dev/internal/ids"
	"warden.dev/internal/password"
)

const clientSecretBytes = 32

// AdminService owns users, roles, permissions, clients and their
// associations. Every mutation runs in one unit of work.
type AdminService struct {
	uow    UnitOfWork
	hasher CredentialHasher
	policy password.Policy
	opts   options
}

// NewAdminService builds the admin-facing service.
func NewAdminService(uow UnitOfWork, hasher CredentialHasher, policy password.Policy, opts ...Option) *AdminService {
	if policy.MinLength == 0 && policy.MaxLength == 0 {
		policy = password.DefaultPolicy()
	}
	return &AdminService{uow: uow, hasher: hasher, policy: policy, opts: buildOptions(opts)}
}

func (a *AdminService) now() time.Time { return a.opts.now().UTC() }

func (a *AdminService) record(ctx context.Context, event string, fields map[string]any) {
	a.opts.audit.Record(ctx, event, fields)
}

// Users

// CreateUser creates an active user that must change the initial password
// on first login.
func (a *AdminService) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = trimmed(req.FullName)
	if err := validateInput(req); err != nil {
		return nil, err
	}
	if err := a.policy.Validate(req.Password); err != nil {
		return nil, invalidField("password", err.Error())
	}
	digest, err := hashPassword(a.hasher, "password", req.Password)
	if err != nil {
		return nil, err
	}
	now := a.now()
	u := &User{
		ID:                 ids.New(),
		Email:              req.Email,
		FullName:           req.FullName,
		PasswordHash:       digest.Hash,
		PasswordAlgorithm:  digest.Algorithm,
		Active:             true,
		Superuser:          req.Superuser,
		MustChangePassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Users().Create(ctx, u)
	}); err != nil {
		return nil, err
	}
	a.record(ctx, "admin.user.created", map[string]any{"user_id": u.ID, "superuser": u.Superuser})
	return u, nil
}

func (a *AdminService) GetUser(ctx context.Context, id string) (*User, error) {
	var u *User
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		u, err = repos.Users().Get(ctx, id)
		return err
	})
	return u, err
}

func (a *AdminService) ListUsers(ctx context.Context, f UserFilter) ([]*User, error) {
	var out []*User
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		out, err = repos.Users().List(ctx, f)
		return err
	})
	return out, err
}

// UpdateUser patches profile fields. Deactivation ends every session.
func (a *AdminService) UpdateUser(ctx context.Context, id string, req UpdateUserRequest) (*User, error) {
	if err := validateInput(req); err != nil {
		return nil, err
	}
	now := a.now()
	var (
		u       *User
		revoked int64
	)
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		u, err = repos.Users().Get(ctx, id)
		if err != nil {
			return err
		}
		if req.FullName != nil {
			u.FullName = trimmed(*req.FullName)
		}
		deactivate := req.Active != nil && !*req.Active && u.Active
		if req.Active != nil {
			u.Active = *req.Active
		}
		u.UpdatedAt = now
		if err := repos.Users().Update(ctx, u); err != nil {
			return err
		}
		if deactivate {
			revoked, err = repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindUser, ID: id}, now, ReasonDeactivated)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	a.record(ctx, "admin.user.updated", map[string]any{"user_id": id, "active": u.Active, "revoked": revoked})
	return u, nil
}

// SetSuperuser is the only path that elevates a user to superuser.
func (a *AdminService) SetSuperuser(ctx context.Context, id string, superuser bool) error {
	now := a.now()
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		u, err := repos.Users().Get(ctx, id)
		if err != nil {
			return err
		}
		if u.Superuser == superuser {
			return nil
		}
		u.Superuser = superuser
		u.UpdatedAt = now
		return repos.Users().Update(ctx, u)
	})
	if err != nil {
		return err
	}
	a.opts.log.Info("superuser flag changed", zap.String("user_id", id), zap.Bool("superuser", superuser))
	a.record(ctx, "admin.user.superuser", map[string]any{"user_id": id, "superuser": superuser})
	return nil
}

// ResetPassword sets a temporary password, forces a change on next login
// and ends every session of the user.
func (a *AdminService) ResetPassword(ctx context.Context, id, temporary string) error {
	if err := a.policy.Validate(temporary); err != nil {
		return invalidField("password", err.Error())
	}
	digest, err := hashPassword(a.hasher, "password", temporary)
	if err != nil {
		return err
	}
	now := a.now()
	err = a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		u, err := repos.Users().Get(ctx, id)
		if err != nil {
			return err
		}
		u.PasswordHash, u.PasswordAlgorithm = digest.Hash, digest.Algorithm
		u.MustChangePassword = true
		u.UpdatedAt = now
		if err := repos.Users().Update(ctx, u); err != nil {
			return err
		}
		_, err = repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindUser, ID: id}, now, ReasonPasswordChanged)
		return err
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.user.password_reset", map[string]any{"user_id": id})
	return nil
}

// DeleteUser revokes the user's refresh tokens, then removes the user. Role
// assignments and token rows go with it.
func (a *AdminService) DeleteUser(ctx context.Context, id string) error {
	now := a.now()
	var revoked int64
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Users().Get(ctx, id); err != nil {
			return err
		}
		var err error
		revoked, err = repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindUser, ID: id}, now, ReasonPrincipalDelete)
		if err != nil {
			return err
		}
		return repos.Users().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.user.deleted", map[string]any{"user_id": id, "revoked": revoked})
	return nil
}

func (a *AdminService) AssignRole(ctx context.Context, userID, roleID string) error {
	now := a.now()
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.UserRoles().Add(ctx, UserRole{UserID: userID, RoleID: roleID, CreatedAt: now})
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.user.role_assigned", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

func (a *AdminService) RemoveRole(ctx context.Context, userID, roleID string) error {
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.UserRoles().Remove(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.user.role_removed", map[string]any{"user_id": userID, "role_id": roleID})
	return nil
}

// UserRoles lists the roles assigned to a user.
func (a *AdminService) UserRoles(ctx context.Context, userID string) ([]*Role, error) {
	var out []*Role
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Users().Get(ctx, userID); err != nil {
			return err
		}
		var err error
		out, err = repos.Roles().List(ctx, RoleFilter{UserID: userID})
		return err
	})
	return out, err
}

// Roles

func (a *AdminService) CreateRole(ctx context.Context, in RoleInput) (*Role, error) {
	in.Name = trimmed(in.Name)
	in.Description = trimmed(in.Description)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := a.now()
	r := &Role{ID: ids.New(), Name: in.Name, Description: in.Description, CreatedAt: now, UpdatedAt: now}
	if err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Roles().Create(ctx, r)
	}); err != nil {
		return nil, err
	}
	a.record(ctx, "admin.role.created", map[string]any{"role_id": r.ID, "name": r.Name})
	return r, nil
}

func (a *AdminService) GetRole(ctx context.Context, id string) (*Role, error) {
	var r *Role
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		r, err = repos.Roles().Get(ctx, id)
		return err
	})
	return r, err
}

func (a *AdminService) ListRoles(ctx context.Context, f RoleFilter) ([]*Role, error) {
	var out []*Role
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		out, err = repos.Roles().List(ctx, f)
		return err
	})
	return out, err
}

func (a *AdminService) UpdateRole(ctx context.Context, id string, in RoleInput) (*Role, error) {
	in.Name = trimmed(in.Name)
	in.Description = trimmed(in.Description)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := a.now()
	var r *Role
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		r, err = repos.Roles().Get(ctx, id)
		if err != nil {
			return err
		}
		r.Name, r.Description, r.UpdatedAt = in.Name, in.Description, now
		return repos.Roles().Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	a.record(ctx, "admin.role.updated", map[string]any{"role_id": id})
	return r, nil
}

// DeleteRole removes the role with its user and permission associations.
func (a *AdminService) DeleteRole(ctx context.Context, id string) error {
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Roles().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.role.deleted", map[string]any{"role_id": id})
	return nil
}

func (a *AdminService) GrantRolePermission(ctx context.Context, roleID, permissionID string) error {
	now := a.now()
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.RolePermissions().Add(ctx, RolePermission{RoleID: roleID, PermissionID: permissionID, CreatedAt: now})
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.role.permission_granted", map[string]any{"role_id": roleID, "permission_id": permissionID})
	return nil
}

func (a *AdminService) RevokeRolePermission(ctx context.Context, roleID, permissionID string) error {
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.RolePermissions().Remove(ctx, roleID, permissionID)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.role.permission_revoked", map[string]any{"role_id": roleID, "permission_id": permissionID})
	return nil
}

// SetRolePermissions replaces the role's permission set with codes. Unknown
// codes fail the whole call with ErrNotFound.
func (a *AdminService) SetRolePermissions(ctx context.Context, roleID string, codes []string) error {
	now := a.now()
	var added, removed int
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Roles().Get(ctx, roleID); err != nil {
			return err
		}
		want := make(map[string]string, len(codes))
		for _, code := range codes {
			p, err := repos.Permissions().GetByCode(ctx, code)
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: permission %q", ErrNotFound, code)
			}
			if err != nil {
				return err
			}
			want[p.ID] = code
		}
		current, err := repos.RolePermissions().ListByRole(ctx, roleID)
		if err != nil {
			return err
		}
		have := make(map[string]struct{}, len(current))
		for _, rp := range current {
			have[rp.PermissionID] = struct{}{}
			if _, keep := want[rp.PermissionID]; keep {
				continue
			}
			if err := repos.RolePermissions().Remove(ctx, roleID, rp.PermissionID); err != nil {
				return err
			}
			removed++
		}
		permIDs := make([]string, 0, len(want))
		for id := range want {
			permIDs = append(permIDs, id)
		}
		sort.Strings(permIDs)
		for _, id := range permIDs {
			if _, ok := have[id]; ok {
				continue
			}
			if err := repos.RolePermissions().Add(ctx, RolePermission{RoleID: roleID, PermissionID: id, CreatedAt: now}); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.role.permissions_set", map[string]any{"role_id": roleID, "added": added, "removed": removed})
	return nil
}

// RolePermissions lists the permissions granted to a role.
func (a *AdminService) RolePermissions(ctx context.Context, roleID string) ([]*Permission, error) {
	var out []*Permission
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Roles().Get(ctx, roleID); err != nil {
			return err
		}
		var err error
		out, err = repos.Permissions().List(ctx, PermissionFilter{RoleID: roleID})
		return err
	})
	return out, err
}

// Permissions

func (a *AdminService) CreatePermission(ctx context.Context, in PermissionInput) (*Permission, error) {
	in.Code = trimmed(in.Code)
	in.Description = trimmed(in.Description)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	p := &Permission{ID: ids.New(), Code: in.Code, Description: in.Description, CreatedAt: a.now()}
	if err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Permissions().Create(ctx, p)
	}); err != nil {
		return nil, err
	}
	a.record(ctx, "admin.permission.created", map[string]any{"permission_id": p.ID, "code": p.Code})
	return p, nil
}

func (a *AdminService) GetPermission(ctx context.Context, id string) (*Permission, error) {
	var p *Permission
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		p, err = repos.Permissions().Get(ctx, id)
		return err
	})
	return p, err
}

func (a *AdminService) ListPermissions(ctx context.Context, f PermissionFilter) ([]*Permission, error) {
	var out []*Permission
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		out, err = repos.Permissions().List(ctx, f)
		return err
	})
	return out, err
}

// UpdatePermission changes the description. Codes are stable keys and
// cannot be renamed.
func (a *AdminService) UpdatePermission(ctx context.Context, id, description string) (*Permission, error) {
	var p *Permission
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		p, err = repos.Permissions().Get(ctx, id)
		if err != nil {
			return err
		}
		in := PermissionInput{Code: p.Code, Description: trimmed(description)}
		if err := validateInput(in); err != nil {
			return err
		}
		p.Description = in.Description
		return repos.Permissions().Update(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	a.record(ctx, "admin.permission.updated", map[string]any{"permission_id": id})
	return p, nil
}

func (a *AdminService) DeletePermission(ctx context.Context, id string) error {
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Permissions().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.permission.deleted", map[string]any{"permission_id": id})
	return nil
}

// EnsurePermissions creates missing catalog entries and refreshes
// descriptions of existing ones. It returns how many were created.
func (a *AdminService) EnsurePermissions(ctx context.Context, catalog []PermissionInput) (int, error) {
	for _, in := range catalog {
		if err := validateInput(in); err != nil {
			return 0, err
		}
	}
	now := a.now()
	created := 0
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		created = 0
		for _, in := range catalog {
			existing, err := repos.Permissions().GetByCode(ctx, in.Code)
			switch {
			case errors.Is(err, ErrNotFound):
				p := &Permission{ID: ids.New(), Code: in.Code, Description: in.Description, CreatedAt: now}
				if err := repos.Permissions().Create(ctx, p); err != nil {
					return err
				}
				created++
			case err != nil:
				return err
			case in.Description != "" && existing.Description != in.Description:
				existing.Description = in.Description
				if err := repos.Permissions().Update(ctx, existing); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		a.opts.log.Info("permissions seeded", zap.Int("created", created), zap.Int("catalog", len(catalog)))
	}
	return created, nil
}

// Clients

// CreateClient registers a machine client. The returned secret is shown
// once and only its digest is stored.
func (a *AdminService) CreateClient(ctx context.Context, in ClientInput) (*Client, string, error) {
	in.Name = trimmed(in.Name)
	if err := validateInput(in); err != nil {
		return nil, "", err
	}
	secret, digest, err := a.newClientSecret()
	if err != nil {
		return nil, "", err
	}
	now := a.now()
	c := &Client{
		ID:              ids.New(),
		Name:            in.Name,
		SecretHash:      digest.Hash,
		SecretAlgorithm: digest.Algorithm,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Clients().Create(ctx, c)
	}); err != nil {
		return nil, "", err
	}
	a.record(ctx, "admin.client.created", map[string]any{"client_id": c.ID, "name": c.Name})
	return c, secret, nil
}

func (a *AdminService) GetClient(ctx context.Context, id string) (*Client, error) {
	var c *Client
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		c, err = repos.Clients().Get(ctx, id)
		return err
	})
	return c, err
}

func (a *AdminService) ListClients(ctx context.Context, f ClientFilter) ([]*Client, error) {
	var out []*Client
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		out, err = repos.Clients().List(ctx, f)
		return err
	})
	return out, err
}

func (a *AdminService) RenameClient(ctx context.Context, id string, in ClientInput) (*Client, error) {
	in.Name = trimmed(in.Name)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	now := a.now()
	var c *Client
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		c, err = repos.Clients().Get(ctx, id)
		if err != nil {
			return err
		}
		c.Name, c.UpdatedAt = in.Name, now
		return repos.Clients().Update(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	a.record(ctx, "admin.client.updated", map[string]any{"client_id": id})
	return c, nil
}

// SetClientActive toggles the client. Deactivation ends every session.
func (a *AdminService) SetClientActive(ctx context.Context, id string, active bool) error {
	now := a.now()
	var revoked int64
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		c, err := repos.Clients().Get(ctx, id)
		if err != nil {
			return err
		}
		if c.Active == active {
			return nil
		}
		c.Active, c.UpdatedAt = active, now
		if err := repos.Clients().Update(ctx, c); err != nil {
			return err
		}
		if !active {
			revoked, err = repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindClient, ID: id}, now, ReasonDeactivated)
		}
		return err
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.client.active", map[string]any{"client_id": id, "active": active, "revoked": revoked})
	return nil
}

// RotateClientSecret issues a new secret and ends every session of the client.
func (a *AdminService) RotateClientSecret(ctx context.Context, id string) (string, error) {
	secret, digest, err := a.newClientSecret()
	if err != nil {
		return "", err
	}
	now := a.now()
	err = a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		c, err := repos.Clients().Get(ctx, id)
		if err != nil {
			return err
		}
		c.SecretHash, c.SecretAlgorithm, c.UpdatedAt = digest.Hash, digest.Algorithm, now
		if err := repos.Clients().Update(ctx, c); err != nil {
			return err
		}
		_, err = repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindClient, ID: id}, now, ReasonSecretRotated)
		return err
	})
	if err != nil {
		return "", err
	}
	a.record(ctx, "admin.client.secret_rotated", map[string]any{"client_id": id})
	return secret, nil
}

// DeleteClient revokes the client's refresh tokens, then removes it along with
// its permission grants and token rows.
func (a *AdminService) DeleteClient(ctx context.Context, id string) error {
	now := a.now()
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Clients().Get(ctx, id); err != nil {
			return err
		}
		if _, err := repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindClient, ID: id}, now, ReasonPrincipalDelete); err != nil {
			return err
		}
		return repos.Clients().Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.client.deleted", map[string]any{"client_id": id})
	return nil
}

func (a *AdminService) GrantClientPermission(ctx context.Context, clientID, permissionID string) error {
	now := a.now()
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.ClientPermissions().Add(ctx, ClientPermission{ClientID: clientID, PermissionID: permissionID, CreatedAt: now})
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.client.permission_granted", map[string]any{"client_id": clientID, "permission_id": permissionID})
	return nil
}

func (a *AdminService) RevokeClientPermission(ctx context.Context, clientID, permissionID string) error {
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.ClientPermissions().Remove(ctx, clientID, permissionID)
	})
	if err != nil {
		return err
	}
	a.record(ctx, "admin.client.permission_revoked", map[string]any{"client_id": clientID, "permission_id": permissionID})
	return nil
}

// ClientPermissions lists the permissions granted directly to a client.
func (a *AdminService) ClientPermissions(ctx context.Context, clientID string) ([]*Permission, error) {
	var out []*Permission
	err := a.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if _, err := repos.Clients().Get(ctx, clientID); err != nil {
			return err
		}
		var err error
		out, err = repos.Permissions().List(ctx, PermissionFilter{ClientID: clientID})
		return err
	})
	return out, err
}

func (a *AdminService) newClientSecret() (string, password.Digest, error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", password.Digest{}, err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	digest, err := a.hasher.Hash(secret)
	if err != nil {
		return "", password.Digest{}, err
	}
	return secret, digest, nil
}
