// Package memory is an in-process implementation of the identity
// repositories. It is meant for tests and single-instance development: every
// unit of work runs under one mutex against a private copy of the data that
// replaces the shared copy on commit.
package memory

import (
	"context"
	"fmt"
	"sync"

	"warden.dev/internal/auth"
)

type pair struct{ left, right string }

type dataset struct {
	users       map[string]*auth.User
	clients     map[string]*auth.Client
	roles       map[string]*auth.Role
	perms       map[string]*auth.Permission
	userRoles   map[pair]auth.UserRole
	rolePerms   map[pair]auth.RolePermission
	clientPerms map[pair]auth.ClientPermission
	tokens      map[string]*auth.RefreshToken
}

func newDataset() *dataset {
	return &dataset{
		users:       map[string]*auth.User{},
		clients:     map[string]*auth.Client{},
		roles:       map[string]*auth.Role{},
		perms:       map[string]*auth.Permission{},
		userRoles:   map[pair]auth.UserRole{},
		rolePerms:   map[pair]auth.RolePermission{},
		clientPerms: map[pair]auth.ClientPermission{},
		tokens:      map[string]*auth.RefreshToken{},
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.users {
		c.users[k] = copyUser(v)
	}
	for k, v := range d.clients {
		c.clients[k] = copyClient(v)
	}
	for k, v := range d.roles {
		r := *v
		c.roles[k] = &r
	}
	for k, v := range d.perms {
		p := *v
		c.perms[k] = &p
	}
	for k, v := range d.userRoles {
		c.userRoles[k] = v
	}
	for k, v := range d.rolePerms {
		c.rolePerms[k] = v
	}
	for k, v := range d.clientPerms {
		c.clientPerms[k] = v
	}
	for k, v := range d.tokens {
		c.tokens[k] = copyToken(v)
	}
	return c
}

// Store implements auth.UnitOfWork in memory.
type Store struct {
	mu   sync.Mutex
	data *dataset
}

var _ auth.UnitOfWork = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: newDataset()}
}

// Run executes fn against a private copy of the data and publishes the copy
// only if fn succeeds and ctx is still live.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, repos auth.Repositories) error) error {
	ctx, err := auth.BeginUnitOfWork(ctx)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: begin: %v", auth.ErrTransactionFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &repos{d: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: commit: %v", auth.ErrTransactionFailure, err)
	}
	s.data = tx.d
	return nil
}

type repos struct {
	d *dataset
}

func (r *repos) Users() auth.UserRepository { return userRepo{r.d} }
func (r *repos) Clients() auth.ClientRepository { return clientRepo{r.d} }
func (r *repos) Roles() auth.RoleRepository { return roleRepo{r.d} }
func (r *repos) Permissions() auth.PermissionRepository { return permissionRepo{r.d} }
func (r *repos) UserRoles() auth.UserRoleRepository { return userRoleRepo{r.d} }
func (r *repos) RolePermissions() auth.RolePermissionRepository { return rolePermissionRepo{r.d} }
func (r *repos) ClientPermissions() auth.ClientPermissionRepository { return clientPermissionRepo{r.d} }
func (r *repos) RefreshTokens() auth.RefreshTokenRepository { return tokenRepo{r.d} }

func copyUser(u *auth.User) *auth.User {
	c := *u
	return &c
}

func copyClient(cl *auth.Client) *auth.Client {
	c := *cl
	return &c
}

func copyToken(t *auth.RefreshToken) *auth.RefreshToken {
	c := *t
	return &c
}

func paginate[T any](items []T, p auth.Page) []T {
	if p.Offset > 0 {
		if p.Offset >= len(items) {
			return items[:0]
		}
		items = items[p.Offset:]
	}
	if p.Limit > 0 && p.Limit < len(items) {
		items = items[:p.Limit]
	}
	return items
}
