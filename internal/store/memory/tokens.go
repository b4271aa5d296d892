package memory

import (
	"context"
	"sort"
	"time"

	"warden.dev/internal/auth"
)

type tokenRepo struct{ d *dataset }

func (r tokenRepo) Create(_ context.Context, t *auth.RefreshToken) error {
	if t.ID == "" || t.TokenHash == "" || t.FamilyID == "" || !t.OwnerKind.Valid() || t.OwnerID == "" {
		return auth.ErrInvalidInput
	}
	if !r.d.ownerExists(t.Owner()) {
		return auth.ErrNotFound
	}
	if _, ok := r.d.tokens[t.ID]; ok {
		return auth.ErrConflict
	}
	for _, existing := range r.d.tokens {
		if existing.TokenHash == t.TokenHash {
			return auth.ErrConflict
		}
	}
	if t.ParentID != nil {
		if _, ok := r.d.tokens[*t.ParentID]; !ok {
			return auth.ErrNotFound
		}
	}
	r.d.tokens[t.ID] = copyToken(t)
	return nil
}

func (r tokenRepo) Get(_ context.Context, id string) (*auth.RefreshToken, error) {
	t, ok := r.d.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyToken(t), nil
}

func (r tokenRepo) GetByHash(_ context.Context, hash string) (*auth.RefreshToken, error) {
	for _, t := range r.d.tokens {
		if t.TokenHash == hash {
			return copyToken(t), nil
		}
	}
	return nil, auth.ErrNotFound
}

// LockByHash is GetByHash: the unit of work already holds the store lock.
func (r tokenRepo) LockByHash(ctx context.Context, hash string) (*auth.RefreshToken, error) {
	return r.GetByHash(ctx, hash)
}

func (r tokenRepo) List(_ context.Context, f auth.RefreshTokenFilter) ([]*auth.RefreshToken, error) {
	var out []*auth.RefreshToken
	for _, t := range r.d.tokens {
		if f.Owner != nil && t.Owner() != *f.Owner {
			continue
		}
		if f.FamilyID != "" && t.FamilyID != f.FamilyID {
			continue
		}
		if f.CurrentOnly && !current(t) {
			continue
		}
		out = append(out, copyToken(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r tokenRepo) MarkRotated(_ context.Context, id, replacedBy string, at time.Time) error {
	t, ok := r.d.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	if !current(t) {
		return auth.ErrConflict
	}
	reason := auth.ReasonRotated
	t.ReplacedByID = &replacedBy
	t.RevokedAt = &at
	t.RevokeReason = &reason
	t.LastUsedAt = &at
	return nil
}

func (r tokenRepo) Revoke(_ context.Context, id string, at time.Time, reason string) error {
	t, ok := r.d.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	if !current(t) {
		return auth.ErrConflict
	}
	revoke(t, at, reason)
	return nil
}

func (r tokenRepo) RevokeFamily(_ context.Context, familyID string, at time.Time, reason string) (int64, error) {
	var n int64
	for _, t := range r.d.tokens {
		if t.FamilyID == familyID && current(t) {
			revoke(t, at, reason)
			n++
		}
	}
	return n, nil
}

func (r tokenRepo) RevokeByOwner(_ context.Context, owner auth.PrincipalRef, at time.Time, reason string) (int64, error) {
	var n int64
	for _, t := range r.d.tokens {
		if t.Owner() == owner && current(t) {
			revoke(t, at, reason)
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes rows that expired or were revoked before cutoff and
// clears parent links pointing at them.
func (r tokenRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, t := range r.d.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.RevokedAt != nil && t.RevokedAt.Before(cutoff)) {
			delete(r.d.tokens, id)
			n++
		}
	}
	if n > 0 {
		r.d.unlinkMissingParents()
	}
	return n, nil
}

func (d *dataset) ownerExists(owner auth.PrincipalRef) bool {
	switch owner.Kind {
	case auth.KindUser:
		_, ok := d.users[owner.ID]
		return ok
	case auth.KindClient:
		_, ok := d.clients[owner.ID]
		return ok
	}
	return false
}

// dropTokensOf deletes every row owned by owner, like the owner foreign keys
// do in Postgres.
func (d *dataset) dropTokensOf(owner auth.PrincipalRef) {
	for id, t := range d.tokens {
		if t.Owner() == owner {
			delete(d.tokens, id)
		}
	}
	d.unlinkMissingParents()
}

func (d *dataset) unlinkMissingParents() {
	for _, t := range d.tokens {
		if t.ParentID != nil {
			if _, ok := d.tokens[*t.ParentID]; !ok {
				t.ParentID = nil
			}
		}
	}
}

func current(t *auth.RefreshToken) bool {
	return t.ReplacedByID == nil && t.RevokedAt == nil
}

func revoke(t *auth.RefreshToken, at time.Time, reason string) {
	t.RevokedAt = &at
	t.RevokeReason = &reason
}
