package auth

import (
	"context"
	"fmt"
	"sort"
)

// Mode selects how required permission codes are matched.
type Mode int

const (
	// MatchAll requires every code.
	MatchAll Mode = iota
	// MatchAny requires at least one code.
	MatchAny
)

func (m Mode) String() string {
	if m == MatchAny {
		return "any"
	}
	return "all"
}

// PermissionSet is a set of permission codes. The universal set contains
// every code, including ones that do not exist yet.
type PermissionSet struct {
	universal bool
	codes     map[string]struct{}
}

// NewPermissionSet builds a set from codes; duplicates collapse.
func NewPermissionSet(codes ...string) PermissionSet {
	set := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		if c != "" {
			set.codes[c] = struct{}{}
		}
	}
	return set
}

// UniversalPermissionSet returns the set held by superusers.
func UniversalPermissionSet() PermissionSet {
	return PermissionSet{universal: true}
}

// Universal reports whether the set contains every code.
func (s PermissionSet) Universal() bool { return s.universal }

// Has reports whether code is in the set.
func (s PermissionSet) Has(code string) bool {
	if s.universal {
		return true
	}
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of explicit codes.
func (s PermissionSet) Len() int { return len(s.codes) }

// Codes returns the explicit codes in sorted order.
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for k := range s.codes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Principal is an authenticated user or client with its resolved permissions.
type Principal struct {
	ID          string
	Kind        PrincipalKind
	Superuser   bool
	Permissions PermissionSet
	// Restricted principals may only change their password.
	Restricted bool
}

// Ref returns the reference of p.
func (p Principal) Ref() PrincipalRef { return PrincipalRef{Kind: p.Kind, ID: p.ID} }

// HasPermission reports whether the principal holds code.
func (p Principal) HasPermission(code string) bool {
	if p.Restricted {
		return false
	}
	if p.Superuser {
		return true
	}
	return p.Permissions.Has(code)
}

// Authorize evaluates required against set. An empty requirement passes.
// A missing code is a normal deny, never an error.
func Authorize(set PermissionSet, required []string, mode Mode) bool {
	if len(required) == 0 || set.universal {
		return true
	}
	switch mode {
	case MatchAny:
		for _, code := range required {
			if set.Has(code) {
				return true
			}
		}
		return false
	default:
		for _, code := range required {
			if !set.Has(code) {
				return false
			}
		}
		return true
	}
}

// Resolver computes effective permissions from current storage state.
// It only reads and keeps no cache.
type Resolver struct {
	uow UnitOfWork
}

// NewResolver returns a Resolver reading through uow.
func NewResolver(uow UnitOfWork) *Resolver {
	return &Resolver{uow: uow}
}

// EffectivePermissions returns the permission set of ref at this moment.
func (r *Resolver) EffectivePermissions(ctx context.Context, ref PrincipalRef) (PermissionSet, error) {
	var set PermissionSet
	err := r.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		p, err := resolvePrincipal(ctx, repos, ref)
		if err != nil {
			return err
		}
		set = p.Permissions
		return nil
	})
	return set, err
}

// Principal loads ref and resolves its permissions. Inactive principals
// yield ErrAccountInactive.
func (r *Resolver) Principal(ctx context.Context, ref PrincipalRef) (Principal, error) {
	var p Principal
	err := r.uow.Run(ctx, func(ctx context.Context, repos Repositories) error {
		var err error
		p, err = resolvePrincipal(ctx, repos, ref)
		return err
	})
	return p, err
}

// Authorize resolves ref freshly and evaluates required against it.
func (r *Resolver) Authorize(ctx context.Context, ref PrincipalRef, required []string, mode Mode) (bool, error) {
	p, err := r.Principal(ctx, ref)
	if err != nil {
		return false, err
	}
	return Authorize(p.Permissions, required, mode), nil
}

// resolvePrincipal runs inside an existing unit of work.
func resolvePrincipal(ctx context.Context, repos Repositories, ref PrincipalRef) (Principal, error) {
	switch ref.Kind {
	case KindUser:
		u, err := repos.Users().Get(ctx, ref.ID)
		if err != nil {
			return Principal{}, err
		}
		if !u.Active {
			return Principal{}, ErrAccountInactive
		}
		return userPrincipal(ctx, repos, u)
	case KindClient:
		c, err := repos.Clients().Get(ctx, ref.ID)
		if err != nil {
			return Principal{}, err
		}
		if !c.Active {
			return Principal{}, ErrAccountInactive
		}
		return clientPrincipal(ctx, repos, c)
	default:
		return Principal{}, fmt.Errorf("%w: unknown principal kind %q", ErrInvalidInput, ref.Kind)
	}
}

func userPrincipal(ctx context.Context, repos Repositories, u *User) (Principal, error) {
	p := Principal{ID: u.ID, Kind: KindUser, Superuser: u.Superuser}
	if u.Superuser {
		p.Permissions = UniversalPermissionSet()
		return p, nil
	}
	perms, err := repos.Permissions().List(ctx, PermissionFilter{UserID: u.ID})
	if err != nil {
		return Principal{}, err
	}
	p.Permissions = setOf(perms)
	return p, nil
}

func clientPrincipal(ctx context.Context, repos Repositories, c *Client) (Principal, error) {
	perms, err := repos.Permissions().List(ctx, PermissionFilter{ClientID: c.ID})
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: c.ID, Kind: KindClient, Permissions: setOf(perms)}, nil
}

func setOf(perms []*Permission) PermissionSet {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}
	return NewPermissionSet(codes...)
}
