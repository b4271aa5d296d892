// Package pg implements the identity repositories on PostgreSQL through the
// pgx stdlib driver and sqlx.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"warden.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrSerialization       = "40001"
	pgErrDeadlock            = "40P01"
	pgErrCheckViolation      = "23514"
	pgErrBadEncoding         = "22021"
)

// PoolConfig tunes the connection pool. Zero values keep the defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store implements auth.UnitOfWork. Every Run is one READ COMMITTED
// transaction; refresh rows are serialized with SELECT ... FOR UPDATE.
type Store struct {
	db *sqlx.DB
}

var _ auth.UnitOfWork = (*Store)(nil)

// Open connects with the pgx driver.
func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(orInt(pool.MaxOpenConns, 50))
	db.SetMaxIdleConns(orInt(pool.MaxIdleConns, 25))
	db.SetConnMaxLifetime(orDuration(pool.ConnMaxLifetime, 15*time.Minute))
	db.SetConnMaxIdleTime(orDuration(pool.ConnMaxIdleTime, 5*time.Minute))
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db.DB }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Run executes fn inside a transaction. It commits when fn returns nil and
// rolls back otherwise.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, repos auth.Repositories) error) error {
	ctx, err := auth.BeginUnitOfWork(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", auth.ErrTransactionFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &repos{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", auth.ErrTransactionFailure, err)
	}
	return nil
}

type repos struct {
	tx *sqlx.Tx
}

func (r *repos) Users() auth.UserRepository { return userRepo{r.tx} }
func (r *repos) Clients() auth.ClientRepository { return clientRepo{r.tx} }
func (r *repos) Roles() auth.RoleRepository { return roleRepo{r.tx} }
func (r *repos) Permissions() auth.PermissionRepository { return permissionRepo{r.tx} }
func (r *repos) UserRoles() auth.UserRoleRepository { return userRoleRepo{r.tx} }
func (r *repos) RolePermissions() auth.RolePermissionRepository { return rolePermissionRepo{r.tx} }
func (r *repos) ClientPermissions() auth.ClientPermissionRepository { return clientPermissionRepo{r.tx} }
func (r *repos) RefreshTokens() auth.RefreshTokenRepository { return tokenRepo{r.tx} }

// mapError translates driver errors into auth sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", auth.ErrNotFound, pgErr.ConstraintName)
		case pgErrCheckViolation, pgErrBadEncoding:
			return fmt.Errorf("%w: %s", auth.ErrInvalidInput, pgErr.Message)
		case pgErrSerialization, pgErrDeadlock:
			return fmt.Errorf("%w: %s", auth.ErrTransactionFailure, pgErr.Message)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// affected returns ErrNotFound when res touched no row.
func affected(res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
