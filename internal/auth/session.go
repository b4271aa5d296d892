package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"warden.dev/internal/ids"
	"warden.dev/internal/obs"
	"warden.dev/internal/password"
)

const (
	defaultRefreshTTL        = 14 * 24 * time.Hour
	defaultRefreshTokenBytes = 32
	maxRefreshTokenLen       = 512
)

// CredentialHasher is the subset of the password hasher the session core needs.
type CredentialHasher interface {
	Hash(secret string) (password.Digest, error)
	Verify(secret, digest string, alg password.Algorithm) (bool, error)
	NeedsRehash(digest string, alg password.Algorithm) bool
	VerifyDummy(secret string)
}

// SessionConfig configures refresh-token issuance.
type SessionConfig struct {
	RefreshTTL        time.Duration
	RefreshTokenBytes int
	// RefreshPepper keys the HMAC used to hash refresh tokens at rest.
	// Without it a plain SHA-256 is stored.
	RefreshPepper []byte
}

// ClientMeta describes the device presenting a credential.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// LoginRequest authenticates a user (by email) or a client (by id).
type LoginRequest struct {
	Identifier string
	Secret     string
	Kind       PrincipalKind
	ClientMeta
}

// RefreshRequest presents an opaque refresh token for rotation.
type RefreshRequest struct {
	Token string
	ClientMeta
}

// Session is the outcome of a login or refresh.
type Session struct {
	Principal        Principal
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	FamilyID         string
	// Restricted sessions carry a password-change-only access token and no
	// refresh token.
	Restricted bool
}

// SessionManager owns the refresh-token state machine: issuance on login,
// rotation with reuse detection, and revocation.
type SessionManager struct {
	uow    UnitOfWork
	hasher CredentialHasher
	tokens *TokenIssuer
	cfg    SessionConfig
	opts   options
}

// NewSessionManager wires the session core.
func NewSessionManager(uow UnitOfWork, hasher CredentialHasher, tokens *TokenIssuer, cfg SessionConfig, opts ...Option) *SessionManager {
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.RefreshTokenBytes < 16 {
		cfg.RefreshTokenBytes = defaultRefreshTokenBytes
	}
	return &SessionManager{
		uow:    uow,
		hasher: hasher,
		tokens: tokens,
		cfg:    cfg,
		opts:   buildOptions(opts),
	}
}

// Login verifies the secret and starts a new token family.
func (m *SessionManager) Login(ctx context.Context, req LoginRequest) (Session, error) {
	kind := req.Kind
	if kind == "" {
		kind = KindUser
	}
	identifier := strings.TrimSpace(req.Identifier)
	if !kind.Valid() || identifier == "" || req.Secret == "" {
		m.hasher.VerifyDummy(req.Secret)
		obs.RecordLogin(string(kind), "invalid_credential")
		return Session{}, ErrInvalidCredential
	}

	now := m.opts.now().UTC()
	var out Session
	err := m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var (
			p   Principal
			err error
		)
		switch kind {
		case KindUser:
			p, err = m.authenticateUser(ctx, repos, identifier, req.Secret, now)
		default:
			p, err = m.authenticateClient(ctx, repos, identifier, req.Secret, now)
		}
		if err != nil {
			return err
		}

		if p.Restricted {
			out, err = m.session(p, ScopePasswordChange, nil, "", now)
			return err
		}

		row, plain, err := m.newRow(p.Ref(), ids.NewFamily(), nil, now, req.ClientMeta)
		if err != nil {
			return err
		}
		if err := repos.RefreshTokens().Create(ctx, row); err != nil {
			return err
		}
		out, err = m.session(p, "", row, plain, now)
		return err
	})
	if err != nil {
		obs.RecordLogin(string(kind), outcomeOf(err))
		m.opts.audit.Record(ctx, "auth.login.failure", map[string]any{
			"kind":   string(kind),
			"reason": outcomeOf(err),
		})
		return Session{}, err
	}

	obs.RecordLogin(string(kind), "success")
	m.opts.audit.Record(ctx, "auth.login.success", map[string]any{
		"kind":         string(kind),
		"principal_id": out.Principal.ID,
		"family_id":    out.FamilyID,
		"restricted":   out.Restricted,
		"ip":           req.IP,
	})
	return out, nil
}

func (m *SessionManager) authenticateUser(ctx context.Context, repos Repositories, email, secret string, now time.Time) (Principal, error) {
	u, err := repos.Users().GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		m.hasher.VerifyDummy(secret)
		return Principal{}, ErrInvalidCredential
	}
	if err != nil {
		return Principal{}, err
	}
	if !m.verify(secret, u.PasswordHash, u.PasswordAlgorithm, "user", u.ID) {
		return Principal{}, ErrInvalidCredential
	}
	if !u.Active {
		return Principal{}, ErrAccountInactive
	}

	if m.hasher.NeedsRehash(u.PasswordHash, u.PasswordAlgorithm) {
		if d, err := m.hasher.Hash(secret); err != nil {
			m.opts.log.Warn("password rehash failed", zap.String("user_id", u.ID), zap.Error(err))
		} else {
			obs.RecordRehash(string(u.PasswordAlgorithm))
			m.opts.log.Info("password digest upgraded",
				zap.String("user_id", u.ID),
				zap.String("from", string(u.PasswordAlgorithm)),
				zap.String("to", string(d.Algorithm)))
			u.PasswordHash, u.PasswordAlgorithm = d.Hash, d.Algorithm
		}
	}
	u.LastLoginAt = &now
	u.UpdatedAt = now
	if err := repos.Users().Update(ctx, u); err != nil {
		return Principal{}, err
	}

	if u.MustChangePassword {
		return Principal{ID: u.ID, Kind: KindUser, Restricted: true}, nil
	}
	return userPrincipal(ctx, repos, u)
}

func (m *SessionManager) authenticateClient(ctx context.Context, repos Repositories, clientID, secret string, now time.Time) (Principal, error) {
	c, err := repos.Clients().Get(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		m.hasher.VerifyDummy(secret)
		return Principal{}, ErrInvalidCredential
	}
	if err != nil {
		return Principal{}, err
	}
	if !m.verify(secret, c.SecretHash, c.SecretAlgorithm, "client", c.ID) {
		return Principal{}, ErrInvalidCredential
	}
	if !c.Active {
		return Principal{}, ErrAccountInactive
	}
	if m.hasher.NeedsRehash(c.SecretHash, c.SecretAlgorithm) {
		if d, err := m.hasher.Hash(secret); err != nil {
			m.opts.log.Warn("client secret rehash failed", zap.String("client_id", c.ID), zap.Error(err))
		} else {
			obs.RecordRehash(string(c.SecretAlgorithm))
			m.opts.log.Info("client secret digest upgraded",
				zap.String("client_id", c.ID),
				zap.String("from", string(c.SecretAlgorithm)),
				zap.String("to", string(d.Algorithm)))
			c.SecretHash, c.SecretAlgorithm = d.Hash, d.Algorithm
			c.UpdatedAt = now
			if err := repos.Clients().Update(ctx, c); err != nil {
				return Principal{}, err
			}
		}
	}
	return clientPrincipal(ctx, repos, c)
}

func (m *SessionManager) verify(secret, digest string, alg password.Algorithm, kind, id string) bool {
	ok, err := m.hasher.Verify(secret, digest, alg)
	if err != nil {
		m.opts.log.Error("stored digest unusable",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.String("algorithm", string(alg)),
			zap.Error(err))
		return false
	}
	return ok
}

// Refresh rotates the presented token. Presenting a token that is not ACTIVE
// revokes its whole family and fails with ErrTokenReuseDetected.
func (m *SessionManager) Refresh(ctx context.Context, req RefreshRequest) (Session, error) {
	raw := strings.TrimSpace(req.Token)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		obs.RecordRefresh("invalid")
		return Session{}, ErrInvalidToken
	}
	hash := m.hashToken(raw)
	now := m.opts.now().UTC()

	var (
		out     Session
		reused  *RefreshToken
		revoked int64
	)
	err := m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		cur, err := repos.RefreshTokens().LockByHash(ctx, hash)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}

		if cur.State(now) != TokenActive {
			n, err := repos.RefreshTokens().RevokeFamily(ctx, cur.FamilyID, now, ReasonReuseDetected)
			if err != nil {
				return err
			}
			reused, revoked = cur, n
			return nil
		}

		p, err := refreshPrincipal(ctx, repos, cur.Owner())
		if err != nil {
			return err
		}

		next, plain, err := m.newRow(cur.Owner(), cur.FamilyID, &cur.ID, now, req.ClientMeta)
		if err != nil {
			return err
		}
		if err := repos.RefreshTokens().MarkRotated(ctx, cur.ID, next.ID, now); err != nil {
			return err
		}
		if err := repos.RefreshTokens().Create(ctx, next); err != nil {
			return err
		}
		out, err = m.session(p, "", next, plain, now)
		return err
	})
	if err != nil {
		obs.RecordRefresh(outcomeOf(err))
		return Session{}, err
	}

	if reused != nil {
		obs.RecordRefresh("reuse_detected")
		obs.RecordRevocations(ReasonReuseDetected, revoked)
		m.opts.log.Warn("refresh token reuse detected",
			zap.String("family_id", reused.FamilyID),
			zap.String("token_id", reused.ID),
			zap.String("owner_kind", string(reused.OwnerKind)),
			zap.String("owner_id", reused.OwnerID),
			zap.String("state", string(reused.State(now))),
			zap.Int64("revoked", revoked),
			zap.String("ip", req.IP))
		m.opts.audit.Record(ctx, "auth.refresh.reuse_detected", map[string]any{
			"family_id":    reused.FamilyID,
			"principal_id": reused.OwnerID,
			"kind":         string(reused.OwnerKind),
			"revoked":      revoked,
		})
		return Session{}, ErrTokenReuseDetected
	}

	obs.RecordRefresh("rotated")
	return out, nil
}

func refreshPrincipal(ctx context.Context, repos Repositories, ref PrincipalRef) (Principal, error) {
	switch ref.Kind {
	case KindUser:
		u, err := repos.Users().Get(ctx, ref.ID)
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		if err != nil {
			return Principal{}, err
		}
		if !u.Active {
			return Principal{}, ErrAccountInactive
		}
		if u.MustChangePassword {
			return Principal{}, ErrMustChangePassword
		}
		return userPrincipal(ctx, repos, u)
	case KindClient:
		c, err := repos.Clients().Get(ctx, ref.ID)
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		if err != nil {
			return Principal{}, err
		}
		if !c.Active {
			return Principal{}, ErrAccountInactive
		}
		return clientPrincipal(ctx, repos, c)
	default:
		return Principal{}, ErrInvalidToken
	}
}

// Logout revokes the presented token only. Already terminal rows are left
// untouched and the call succeeds.
func (m *SessionManager) Logout(ctx context.Context, refreshToken string) error {
	raw := strings.TrimSpace(refreshToken)
	if raw == "" || len(raw) > maxRefreshTokenLen {
		return ErrInvalidToken
	}
	hash := m.hashToken(raw)
	now := m.opts.now().UTC()

	var row *RefreshToken
	err := m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		cur, err := repos.RefreshTokens().LockByHash(ctx, hash)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidToken
		}
		if err != nil {
			return err
		}
		row = cur
		if cur.State(now) != TokenActive {
			return nil
		}
		return repos.RefreshTokens().Revoke(ctx, cur.ID, now, ReasonLogout)
	})
	if err != nil {
		return err
	}
	if state := row.State(now); state != TokenActive {
		m.opts.log.Info("logout with terminal refresh token",
			zap.String("token_id", row.ID),
			zap.String("state", string(state)))
		return nil
	}
	obs.RecordRevocations(ReasonLogout, 1)
	m.opts.audit.Record(ctx, "auth.logout", map[string]any{
		"principal_id": row.OwnerID,
		"kind":         string(row.OwnerKind),
		"family_id":    row.FamilyID,
	})
	return nil
}

// LogoutAllDevices revokes every current row owned by ref.
func (m *SessionManager) LogoutAllDevices(ctx context.Context, ref PrincipalRef) (int64, error) {
	now := m.opts.now().UTC()
	var n int64
	err := m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		if err := principalExists(ctx, repos, ref); err != nil {
			return err
		}
		var err error
		n, err = repos.RefreshTokens().RevokeByOwner(ctx, ref, now, ReasonLogoutAll)
		return err
	})
	if err != nil {
		return 0, err
	}
	obs.RecordRevocations(ReasonLogoutAll, n)
	m.opts.audit.Record(ctx, "auth.logout_all", map[string]any{
		"principal_id": ref.ID,
		"kind":         string(ref.Kind),
		"revoked":      n,
	})
	return n, nil
}

// Sessions lists the current refresh-token rows of ref.
func (m *SessionManager) Sessions(ctx context.Context, ref PrincipalRef) ([]*RefreshToken, error) {
	now := m.opts.now().UTC()
	var rows []*RefreshToken
	err := m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		list, err := repos.RefreshTokens().List(ctx, RefreshTokenFilter{Owner: &ref, CurrentOnly: true})
		if err != nil {
			return err
		}
		for _, r := range list {
			if r.State(now) == TokenActive {
				rows = append(rows, r)
			}
		}
		return nil
	})
	return rows, err
}

// RevokeSession revokes one row of ref by id. Rows owned by someone else are
// reported as not found.
func (m *SessionManager) RevokeSession(ctx context.Context, ref PrincipalRef, tokenID string) error {
	now := m.opts.now().UTC()
	return m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		row, err := repos.RefreshTokens().Get(ctx, tokenID)
		if err != nil {
			return err
		}
		if row.Owner() != ref {
			return ErrNotFound
		}
		if row.State(now) != TokenActive {
			return nil
		}
		return repos.RefreshTokens().Revoke(ctx, row.ID, now, ReasonLogout)
	})
}

// PurgeExpired deletes rows that expired or were revoked before cutoff.
func (m *SessionManager) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := m.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		n, err = repos.RefreshTokens().DeleteExpired(ctx, cutoff)
		return err
	})
	return n, err
}

func (m *SessionManager) newRow(owner PrincipalRef, familyID string, parentID *string, now time.Time, meta ClientMeta) (*RefreshToken, string, error) {
	buf := make([]byte, m.cfg.RefreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", err
	}
	plain := base64.RawURLEncoding.EncodeToString(buf)
	return &RefreshToken{
		ID:        ids.New(),
		OwnerKind: owner.Kind,
		OwnerID:   owner.ID,
		TokenHash: m.hashToken(plain),
		FamilyID:  familyID,
		ParentID:  parentID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.cfg.RefreshTTL),
		IP:        truncate(meta.IP, 45),
		UserAgent: truncate(meta.UserAgent, 512),
	}, plain, nil
}

func (m *SessionManager) session(p Principal, scope string, row *RefreshToken, plain string, now time.Time) (Session, error) {
	access, exp, err := m.tokens.Issue(p, scope, now)
	if err != nil {
		return Session{}, err
	}
	s := Session{
		Principal:       p,
		AccessToken:     access,
		AccessExpiresAt: exp,
		Restricted:      p.Restricted,
	}
	if row != nil {
		s.RefreshToken = plain
		s.RefreshExpiresAt = row.ExpiresAt
		s.FamilyID = row.FamilyID
	}
	return s, nil
}

func (m *SessionManager) hashToken(plain string) string {
	if len(m.cfg.RefreshPepper) > 0 {
		mac := hmac.New(sha256.New, m.cfg.RefreshPepper)
		mac.Write([]byte(plain))
		return hex.EncodeToString(mac.Sum(nil))
	}
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

func principalExists(ctx context.Context, repos Repositories, ref PrincipalRef) error {
	switch ref.Kind {
	case KindUser:
		_, err := repos.Users().Get(ctx, ref.ID)
		return err
	case KindClient:
		_, err := repos.Clients().Get(ctx, ref.ID)
		return err
	default:
		return invalidField("kind", "must be user or client")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrAccountInactive):
		return "inactive"
	case errors.Is(err, ErrMustChangePassword):
		return "password_change_required"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	case errors.Is(err, ErrTokenReuseDetected):
		return "reuse_detected"
	case errors.Is(err, ErrTransactionFailure):
		return "transaction_failure"
	default:
		return "error"
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// truncate cuts s to at most n bytes without splitting a rune, and drops
// invalid sequences so the result is always valid UTF-8.
func truncate(s string, n int) string {
	if len(s) > n {
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.ToValidUTF8(s, "")
}
