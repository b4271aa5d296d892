package pg

import (
	"context"

	"github.com/jmoiron/sqlx"

	"warden.dev/internal/auth"
)

const userColumns = `id, email, full_name, password_hash, password_algo, is_active, is_superuser,
	must_change_password, last_login_at, created_at, updated_at`

type userRepo struct{ tx *sqlx.Tx }

func (r userRepo) Get(ctx context.Context, id string) (*auth.User, error) {
	var u auth.User
	if err := r.tx.GetContext(ctx, &u, `select `+userColumns+` from users where id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r userRepo) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	var u auth.User
	if err := r.tx.GetContext(ctx, &u, `select `+userColumns+` from users where lower(email) = lower($1)`, email); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

func (r userRepo) List(ctx context.Context, f auth.UserFilter) ([]*auth.User, error) {
	var q filter
	if f.EmailContains != "" {
		q.where("email ilike %s", contains(f.EmailContains))
	}
	if f.Active != nil {
		q.where("is_active = %s", *f.Active)
	}
	if f.Superuser != nil {
		q.where("is_superuser = %s", *f.Superuser)
	}
	if f.RoleID != "" {
		q.where("exists (select 1 from user_roles ur where ur.user_id = users.id and ur.role_id = %s)", f.RoleID)
	}
	query := `select ` + userColumns + ` from users` + q.String() + ` order by created_at, id` + q.page(f.Page)
	var out []*auth.User
	if err := r.tx.SelectContext(ctx, &out, query, q.args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r userRepo) Create(ctx context.Context, u *auth.User) error {
	if u.ID == "" || u.Email == "" {
		return auth.ErrInvalidInput
	}
	_, err := r.tx.NamedExecContext(ctx, `
		insert into users (id, email, full_name, password_hash, password_algo, is_active, is_superuser,
			must_change_password, last_login_at, created_at, updated_at)
		values (:id, :email, :full_name, :password_hash, :password_algo, :is_active, :is_superuser,
			:must_change_password, :last_login_at, :created_at, :updated_at)
	`, u)
	return mapError(err)
}

func (r userRepo) Update(ctx context.Context, u *auth.User) error {
	return affected(r.tx.NamedExecContext(ctx, `
		update users set
			email = :email,
			full_name = :full_name,
			password_hash = :password_hash,
			password_algo = :password_algo,
			is_active = :is_active,
			is_superuser = :is_superuser,
			must_change_password = :must_change_password,
			last_login_at = :last_login_at,
			updated_at = :updated_at
		where id = :id
	`, u))
}

// Delete removes the user; role assignments cascade in the schema.
func (r userRepo) Delete(ctx context.Context, id string) error {
	return affected(r.tx.ExecContext(ctx, `delete from users where id = $1`, id))
}

const clientColumns = `id, name, secret_hash, secret_algo, is_active, created_at, updated_at`

type clientRepo struct{ tx *sqlx.Tx }

func (r clientRepo) Get(ctx context.Context, id string) (*auth.Client, error) {
	var c auth.Client
	if err := r.tx.GetContext(ctx, &c, `select `+clientColumns+` from clients where id = $1`, id); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (r clientRepo) GetByName(ctx context.Context, name string) (*auth.Client, error) {
	var c auth.Client
	if err := r.tx.GetContext(ctx, &c, `select `+clientColumns+` from clients where name = $1`, name); err != nil {
		return nil, mapError(err)
	}
	return &c, nil
}

func (r clientRepo) List(ctx context.Context, f auth.ClientFilter) ([]*auth.Client, error) {
	var q filter
	if f.NameContains != "" {
		q.where("name ilike %s", contains(f.NameContains))
	}
	if f.Active != nil {
		q.where("is_active = %s", *f.Active)
	}
	query := `select ` + clientColumns + ` from clients` + q.String() + ` order by name` + q.page(f.Page)
	var out []*auth.Client
	if err := r.tx.SelectContext(ctx, &out, query, q.args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r clientRepo) Create(ctx context.Context, c *auth.Client) error {
	if c.ID == "" || c.Name == "" {
		return auth.ErrInvalidInput
	}
	_, err := r.tx.NamedExecContext(ctx, `
		insert into clients (id, name, secret_hash, secret_algo, is_active, created_at, updated_at)
		values (:id, :name, :secret_hash, :secret_algo, :is_active, :created_at, :updated_at)
	`, c)
	return mapError(err)
}

func (r clientRepo) Update(ctx context.Context, c *auth.Client) error {
	return affected(r.tx.NamedExecContext(ctx, `
		update clients set
			name = :name,
			secret_hash = :secret_hash,
			secret_algo = :secret_algo,
			is_active = :is_active,
			updated_at = :updated_at
		where id = :id
	`, c))
}

// Delete removes the client; permission grants cascade in the schema.
func (r clientRepo) Delete(ctx context.Context, id string) error {
	return affected(r.tx.ExecContext(ctx, `delete from clients where id = $1`, id))
}
