package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"warden.dev/internal/auth"
)

// tokenColumns folds the user_id/client_id pair back into owner_kind and
// owner_id; the table check guarantees exactly one is set.
const tokenColumns = `id,
	case when user_id is not null then 'user' else 'client' end as owner_kind,
	coalesce(user_id, client_id) as owner_id,
	token_hash, family_id, parent_id, replaced_by, issued_at,
	expires_at, revoked_at, revoke_reason, last_used_at, ip, user_agent`

// currentRow matches rows that are neither replaced nor revoked.
const currentRow = `replaced_by is null and revoked_at is null`

type tokenRepo struct{ tx *sqlx.Tx }

func (r tokenRepo) Create(ctx context.Context, t *auth.RefreshToken) error {
	if t.ID == "" || t.TokenHash == "" || t.FamilyID == "" || !t.OwnerKind.Valid() || t.OwnerID == "" {
		return auth.ErrInvalidInput
	}
	userID, clientID := ownerColumns(t.Owner())
	_, err := r.tx.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, client_id, token_hash, family_id, parent_id, replaced_by,
			issued_at, expires_at, revoked_at, revoke_reason, last_used_at, ip, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.ID, userID, clientID, t.TokenHash, t.FamilyID, t.ParentID, t.ReplacedByID,
		t.IssuedAt, t.ExpiresAt, t.RevokedAt, t.RevokeReason, t.LastUsedAt, t.IP, t.UserAgent)
	return mapError(err)
}

// ownerColumns splits owner into the user_id and client_id values; the one
// not matching owner.Kind stays NULL.
func ownerColumns(owner auth.PrincipalRef) (userID, clientID *string) {
	id := owner.ID
	if owner.Kind == auth.KindClient {
		return nil, &id
	}
	return &id, nil
}

// ownerColumn names the column holding ids of kind.
func ownerColumn(kind auth.PrincipalKind) string {
	if kind == auth.KindClient {
		return "client_id"
	}
	return "user_id"
}

func (r tokenRepo) Get(ctx context.Context, id string) (*auth.RefreshToken, error) {
	return r.one(ctx, `select `+tokenColumns+` from refresh_tokens where id = $1`, id)
}

func (r tokenRepo) GetByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	return r.one(ctx, `select `+tokenColumns+` from refresh_tokens where token_hash = $1`, hash)
}

// LockByHash holds the row lock until the transaction ends, so concurrent
// refreshes of one token serialize and the loser sees the row rotated.
func (r tokenRepo) LockByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	return r.one(ctx, `select `+tokenColumns+` from refresh_tokens where token_hash = $1 for update`, hash)
}

func (r tokenRepo) one(ctx context.Context, query string, args ...any) (*auth.RefreshToken, error) {
	var t auth.RefreshToken
	if err := r.tx.GetContext(ctx, &t, query, args...); err != nil {
		return nil, mapError(err)
	}
	return &t, nil
}

func (r tokenRepo) List(ctx context.Context, f auth.RefreshTokenFilter) ([]*auth.RefreshToken, error) {
	var q filter
	if f.Owner != nil {
		q.where(ownerColumn(f.Owner.Kind)+" = %s", f.Owner.ID)
	}
	if f.FamilyID != "" {
		q.where("family_id = %s", f.FamilyID)
	}
	if f.CurrentOnly {
		q.clauses = append(q.clauses, currentRow)
	}
	query := `select ` + tokenColumns + ` from refresh_tokens` + q.String() + ` order by issued_at, id`
	var out []*auth.RefreshToken
	if err := r.tx.SelectContext(ctx, &out, query, q.args...); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (r tokenRepo) MarkRotated(ctx context.Context, id, replacedBy string, at time.Time) error {
	res, err := r.tx.ExecContext(ctx, `
		update refresh_tokens
		set replaced_by = $2, revoked_at = $3, revoke_reason = $4, last_used_at = $3
		where id = $1 and `+currentRow, id, replacedBy, at, auth.ReasonRotated)
	return r.changed(ctx, id, res, err)
}

func (r tokenRepo) Revoke(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := r.tx.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2, revoke_reason = $3
		where id = $1 and `+currentRow, id, at, reason)
	return r.changed(ctx, id, res, err)
}

// changed tells a missing row (ErrNotFound) from a terminal one (ErrConflict)
// after a conditional update touched nothing.
func (r tokenRepo) changed(ctx context.Context, id string, res sql.Result, err error) error {
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := r.tx.GetContext(ctx, &exists, `select exists (select 1 from refresh_tokens where id = $1)`, id); err != nil {
		return mapError(err)
	}
	if !exists {
		return auth.ErrNotFound
	}
	return auth.ErrConflict
}

func (r tokenRepo) RevokeFamily(ctx context.Context, familyID string, at time.Time, reason string) (int64, error) {
	return r.count(r.tx.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2, revoke_reason = $3
		where family_id = $1 and `+currentRow, familyID, at, reason))
}

func (r tokenRepo) RevokeByOwner(ctx context.Context, owner auth.PrincipalRef, at time.Time, reason string) (int64, error) {
	return r.count(r.tx.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2, revoke_reason = $3
		where `+ownerColumn(owner.Kind)+` = $1 and `+currentRow, owner.ID, at, reason))
}

// DeleteExpired relies on parent_id being declared on delete set null.
func (r tokenRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return r.count(r.tx.ExecContext(ctx, `
		delete from refresh_tokens where expires_at < $1 or revoked_at < $1
	`, cutoff))
}

func (r tokenRepo) count(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}
