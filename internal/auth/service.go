package auth

import (
	"context"
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"go.uber.org/zap"

	"warden.dev/internal/ids"
	"warden.dev/internal/password"
)

// ServiceConfig configures Service.
type ServiceConfig struct {
	Session SessionConfig
	Policy  password.Policy
	// VerifyClaimsPerRequest makes Authenticate re-resolve the principal from
	// storage instead of trusting the permission snapshot in the token.
	VerifyClaimsPerRequest bool
}

// Service is the API exposed to the routing layer.
type Service struct {
	uow              UnitOfWork
	hasher           CredentialHasher
	tokens           *TokenIssuer
	sessions         *SessionManager
	resolver         *Resolver
	policy           password.Policy
	verifyPerRequest bool
	opts             options
}

// NewService wires the session core with the given collaborators.
func NewService(uow UnitOfWork, hasher CredentialHasher, tokens *TokenIssuer, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if uow == nil {
		return nil, errors.New("auth: unit of work is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: credential hasher is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	policy := cfg.Policy
	if policy.MinLength == 0 && policy.MaxLength == 0 {
		policy = password.DefaultPolicy()
	}
	return &Service{
		uow:              uow,
		hasher:           hasher,
		tokens:           tokens,
		sessions:         NewSessionManager(uow, hasher, tokens, cfg.Session, opts...),
		resolver:         NewResolver(uow),
		policy:           policy,
		verifyPerRequest: cfg.VerifyClaimsPerRequest,
		opts:             buildOptions(opts),
	}, nil
}

// Sessions exposes the refresh-token state machine.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Resolver exposes the permission resolver.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Register creates an active user and returns its id.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (string, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = trimmed(req.FullName)
	if err := validateInput(req); err != nil {
		return "", err
	}
	if err := s.checkPolicy("password", req.Password); err != nil {
		return "", err
	}
	digest, err := hashPassword(s.hasher, "password", req.Password)
	if err != nil {
		return "", err
	}

	now := s.opts.now().UTC()
	u := &User{
		ID:                ids.New(),
		Email:             req.Email,
		FullName:          req.FullName,
		PasswordHash:      digest.Hash,
		PasswordAlgorithm: digest.Algorithm,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = s.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		return repos.Users().Create(ctx, u)
	})
	if err != nil {
		return "", err
	}
	s.opts.audit.Record(ctx, "auth.register", map[string]any{"user_id": u.ID})
	return u.ID, nil
}

// Login authenticates a user or client and starts a session.
func (s *Service) Login(ctx context.Context, req LoginRequest) (Session, error) {
	return s.sessions.Login(ctx, req)
}

// Refresh rotates a refresh token.
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (Session, error) {
	return s.sessions.Refresh(ctx, req)
}

// Logout ends the session behind refreshToken.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Logout(ctx, refreshToken)
}

// LogoutAllDevices ends every session of ref.
func (s *Service) LogoutAllDevices(ctx context.Context, ref PrincipalRef) (int64, error) {
	return s.sessions.LogoutAllDevices(ctx, ref)
}

// Authorize evaluates required against the principal's permissions.
// Restricted principals are never authorized.
func (s *Service) Authorize(p Principal, required []string, mode Mode) bool {
	if p.Restricted {
		return false
	}
	if p.Superuser {
		return true
	}
	return Authorize(p.Permissions, required, mode)
}

// Require is Authorize returning typed errors.
func (s *Service) Require(p Principal, required []string, mode Mode) error {
	if p.Restricted {
		return ErrMustChangePassword
	}
	if !s.Authorize(p, required, mode) {
		return ErrPermissionDenied
	}
	return nil
}

// Authenticate verifies an access token. By default the token snapshot is
// trusted until expiry; with VerifyClaimsPerRequest the principal is
// re-resolved so deactivation and grant changes apply immediately.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Verify(accessToken, s.opts.now())
	if err != nil {
		return Principal{}, err
	}
	p := claims.Principal()
	if p.Restricted || !s.verifyPerRequest {
		return p, nil
	}
	fresh, err := s.resolver.Principal(ctx, p.Ref())
	if errors.Is(err, ErrNotFound) {
		return Principal{}, ErrInvalidToken
	}
	if err != nil {
		return Principal{}, err
	}
	if fresh.Kind == KindUser {
		if err := s.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
			u, err := repos.Users().Get(ctx, fresh.ID)
			if err != nil {
				return err
			}
			if u.MustChangePassword {
				fresh.Restricted = true
			}
			return nil
		}); err != nil {
			return Principal{}, err
		}
	}
	return fresh, nil
}

// ChangePassword replaces the user's password after verifying the current
// one. It clears the must-change flag and ends every session of the user.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if current == "" {
		return invalidField("current_password", "cannot be blank")
	}
	if current == next {
		return invalidField("new_password", "must differ from the current password")
	}
	if err := s.checkPolicy("new_password", next); err != nil {
		return err
	}
	digest, err := hashPassword(s.hasher, "new_password", next)
	if err != nil {
		return err
	}

	now := s.opts.now().UTC()
	var revoked int64
	err = s.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		u, err := repos.Users().Get(ctx, userID)
		if err != nil {
			return err
		}
		ok, err := s.hasher.Verify(current, u.PasswordHash, u.PasswordAlgorithm)
		if err != nil || !ok {
			return ErrInvalidCredential
		}
		if !u.Active {
			return ErrAccountInactive
		}
		u.PasswordHash, u.PasswordAlgorithm = digest.Hash, digest.Algorithm
		u.MustChangePassword = false
		u.UpdatedAt = now
		if err := repos.Users().Update(ctx, u); err != nil {
			return err
		}
		revoked, err = repos.RefreshTokens().RevokeByOwner(ctx, PrincipalRef{Kind: KindUser, ID: u.ID}, now, ReasonPasswordChanged)
		return err
	})
	if err != nil {
		return err
	}
	s.opts.log.Info("password changed", zap.String("user_id", userID), zap.Int64("sessions_revoked", revoked))
	s.opts.audit.Record(ctx, "auth.password_changed", map[string]any{
		"user_id": userID,
		"revoked": revoked,
	})
	return nil
}

// ChangeEmail moves the user to a new email after verifying the password.
func (s *Service) ChangeEmail(ctx context.Context, userID, currentPassword, newEmail string) error {
	newEmail = normalizeEmail(newEmail)
	if err := validation.Validate(newEmail, validation.Required, validation.Length(3, 254), is.Email); err != nil {
		return invalidField("email", err.Error())
	}
	now := s.opts.now().UTC()
	err := s.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		u, err := repos.Users().Get(ctx, userID)
		if err != nil {
			return err
		}
		ok, err := s.hasher.Verify(currentPassword, u.PasswordHash, u.PasswordAlgorithm)
		if err != nil || !ok {
			return ErrInvalidCredential
		}
		if u.Email == newEmail {
			return nil
		}
		u.Email = newEmail
		u.UpdatedAt = now
		return repos.Users().Update(ctx, u)
	})
	if err != nil {
		return err
	}
	s.opts.audit.Record(ctx, "auth.email_changed", map[string]any{"user_id": userID})
	return nil
}

func (s *Service) checkPolicy(field, pw string) error {
	if err := s.policy.Validate(pw); err != nil {
		return invalidField(field, err.Error())
	}
	return nil
}

// hashPassword reports a secret the primary algorithm cannot take as a field
// error on field.
func hashPassword(h CredentialHasher, field, pw string) (password.Digest, error) {
	d, err := h.Hash(pw)
	if errors.Is(err, password.ErrSecretTooLong) {
		return password.Digest{}, invalidField(field, err.Error())
	}
	return d, err
}
