package pg

import (
	"context"

	"github.com/jmoiron/sqlx"

	"warden.dev/internal/auth"
)

const roleColumns = `id, name, description, created_at, updated_at`

type roleRepo struct{ tx *sqlx.Tx }

func (r roleRepo) Get(ctx context.Context, id string) (*auth.Role, error) {
	var role auth.Role
	if err := r.tx.GetContext(ctx, &role, `select `+roleColumns+` from roles where id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &role, nil
}

func (r roleRepo) GetByName(ctx context.Context, name string) (*auth.Role, error) {
	var role auth.Role
	if err := r.tx.GetContext(ctx, &role, `select `+roleColumns+` from roles where name = $1`, name); err != nil {
		return nil, mapError(err)
	}
	return &role, nil
}

func (r roleRepo) List(ctx context.Context, f auth.RoleFilter) ([]*auth.Role, error) {
	var q filter
	if f.NameContains != "" {
		q.where("name ilike %s", contains(f.NameContains))
	}
	if f.UserID != "" {
		q.where("exists (select 1 from user_roles ur where ur.role_id = roles.id and ur.user_id = %s)", f.UserID)
	}
	query := `select ` + roleColumns + ` from roles` + q.String() + ` order by name` + q.page(f.Page)
	var out []*auth.Role
	if err := r.tx.SelectContext(ctx, &out, query, q.args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r roleRepo) Create(ctx context.Context, role *auth.Role) error {
	if role.ID == "" || role.Name == "" {
		return auth.ErrInvalidInput
	}
	_, err := r.tx.NamedExecContext(ctx, `
		insert into roles (id, name, description, created_at, updated_at)
		values (:id, :name, :description, :created_at, :updated_at)
	`, role)
	return mapError(err)
}

func (r roleRepo) Update(ctx context.Context, role *auth.Role) error {
	return affected(r.tx.NamedExecContext(ctx, `
		update roles set name = :name, description = :description, updated_at = :updated_at
		where id = :id
	`, role))
}

func (r roleRepo) Delete(ctx context.Context, id string) error {
	return affected(r.tx.ExecContext(ctx, `delete from roles where id = $1`, id))
}

const permissionColumns = `p.id, p.code, p.description, p.created_at`

type permissionRepo struct{ tx *sqlx.Tx }

func (r permissionRepo) Get(ctx context.Context, id string) (*auth.Permission, error) {
	var p auth.Permission
	if err := r.tx.GetContext(ctx, &p, `select `+permissionColumns+` from permissions p where p.id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func (r permissionRepo) GetByCode(ctx context.Context, code string) (*auth.Permission, error) {
	var p auth.Permission
	if err := r.tx.GetContext(ctx, &p, `select `+permissionColumns+` from permissions p where p.code = $1`, code); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

// List resolves user filters through role assignments and client filters
// through direct grants. Each permission appears once.
func (r permissionRepo) List(ctx context.Context, f auth.PermissionFilter) ([]*auth.Permission, error) {
	var q filter
	if len(f.Codes) > 0 {
		q.in("p.code", f.Codes)
	}
	if f.RoleID != "" {
		q.where("exists (select 1 from role_permissions rp where rp.permission_id = p.id and rp.role_id = %s)", f.RoleID)
	}
	if f.UserID != "" {
		q.where(`exists (
			select 1 from role_permissions rp
			join user_roles ur on ur.role_id = rp.role_id
			where rp.permission_id = p.id and ur.user_id = %s)`, f.UserID)
	}
	if f.ClientID != "" {
		q.where("exists (select 1 from client_permissions cp where cp.permission_id = p.id and cp.client_id = %s)", f.ClientID)
	}
	query := `select ` + permissionColumns + ` from permissions p` + q.String() + ` order by p.code` + q.page(f.Page)
	var out []*auth.Permission
	if err := r.tx.SelectContext(ctx, &out, query, q.args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r permissionRepo) Create(ctx context.Context, p *auth.Permission) error {
	if p.ID == "" || p.Code == "" {
		return auth.ErrInvalidInput
	}
	_, err := r.tx.NamedExecContext(ctx, `
		insert into permissions (id, code, description, created_at)
		values (:id, :code, :description, :created_at)
	`, p)
	return mapError(err)
}

func (r permissionRepo) Update(ctx context.Context, p *auth.Permission) error {
	return affected(r.tx.NamedExecContext(ctx, `
		update permissions set code = :code, description = :description where id = :id
	`, p))
}

// Delete removes the permission; role and client grants cascade.
func (r permissionRepo) Delete(ctx context.Context, id string) error {
	return affected(r.tx.ExecContext(ctx, `delete from permissions where id = $1`, id))
}

type userRoleRepo struct{ tx *sqlx.Tx }

func (r userRoleRepo) Add(ctx context.Context, ur auth.UserRole) error {
	_, err := r.tx.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, created_at) values ($1, $2, $3)
	`, ur.UserID, ur.RoleID, ur.CreatedAt)
	return mapError(err)
}

func (r userRoleRepo) Remove(ctx context.Context, userID, roleID string) error {
	return affected(r.tx.ExecContext(ctx, `delete from user_roles where user_id = $1 and role_id = $2`, userID, roleID))
}

func (r userRoleRepo) ListByUser(ctx context.Context, userID string) ([]auth.UserRole, error) {
	var out []auth.UserRole
	err := r.tx.SelectContext(ctx, &out, `
		select user_id, role_id, created_at from user_roles where user_id = $1 order by role_id
	`, userID)
	return out, mapError(err)
}

func (r userRoleRepo) ListByRole(ctx context.Context, roleID string) ([]auth.UserRole, error) {
	var out []auth.UserRole
	err := r.tx.SelectContext(ctx, &out, `
		select user_id, role_id, created_at from user_roles where role_id = $1 order by user_id
	`, roleID)
	return out, mapError(err)
}

type rolePermissionRepo struct{ tx *sqlx.Tx }

func (r rolePermissionRepo) Add(ctx context.Context, rp auth.RolePermission) error {
	_, err := r.tx.ExecContext(ctx, `
		insert into role_permissions (role_id, permission_id, created_at) values ($1, $2, $3)
	`, rp.RoleID, rp.PermissionID, rp.CreatedAt)
	return mapError(err)
}

func (r rolePermissionRepo) Remove(ctx context.Context, roleID, permissionID string) error {
	return affected(r.tx.ExecContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2
	`, roleID, permissionID))
}

func (r rolePermissionRepo) ListByRole(ctx context.Context, roleID string) ([]auth.RolePermission, error) {
	var out []auth.RolePermission
	err := r.tx.SelectContext(ctx, &out, `
		select role_id, permission_id, created_at from role_permissions where role_id = $1 order by permission_id
	`, roleID)
	return out, mapError(err)
}

type clientPermissionRepo struct{ tx *sqlx.Tx }

func (r clientPermissionRepo) Add(ctx context.Context, cp auth.ClientPermission) error {
	_, err := r.tx.ExecContext(ctx, `
		insert into client_permissions (client_id, permission_id, created_at) values ($1, $2, $3)
	`, cp.ClientID, cp.PermissionID, cp.CreatedAt)
	return mapError(err)
}

func (r clientPermissionRepo) Remove(ctx context.Context, clientID, permissionID string) error {
	return affected(r.tx.ExecContext(ctx, `
		delete from client_permissions where client_id = $1 and permission_id = $2
	`, clientID, permissionID))
}

func (r clientPermissionRepo) ListByClient(ctx context.Context, clientID string) ([]auth.ClientPermission, error) {
	var out []auth.ClientPermission
	err := r.tx.SelectContext(ctx, &out, `
		select client_id, permission_id, created_at from client_permissions where client_id = $1 order by permission_id
	`, clientID)
	return out, mapError(err)
}
