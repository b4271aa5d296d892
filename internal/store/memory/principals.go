package memory

import (
	"context"
	"sort"
	"strings"

	"warden.dev/internal/auth"
)

type userRepo struct{ d *dataset }

func (r userRepo) Get(_ context.Context, id string) (*auth.User, error) {
	u, ok := r.d.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyUser(u), nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range r.d.users {
		if strings.EqualFold(u.Email, email) {
			return copyUser(u), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r userRepo) List(_ context.Context, f auth.UserFilter) ([]*auth.User, error) {
	needle := strings.ToLower(f.EmailContains)
	var out []*auth.User
	for _, u := range r.d.users {
		if needle != "" && !strings.Contains(strings.ToLower(u.Email), needle) {
			continue
		}
		if f.Active != nil && u.Active != *f.Active {
			continue
		}
		if f.Superuser != nil && u.Superuser != *f.Superuser {
			continue
		}
		if f.RoleID != "" {
			if _, ok := r.d.userRoles[pair{u.ID, f.RoleID}]; !ok {
				continue
			}
		}
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, f.Page), nil
}

func (r userRepo) Create(_ context.Context, u *auth.User) error {
	if u.ID == "" {
		return auth.ErrInvalidInput
	}
	if _, ok := r.d.users[u.ID]; ok {
		return auth.ErrConflict
	}
	if r.emailTaken(u.Email, "") {
		return auth.ErrConflict
	}
	r.d.users[u.ID] = copyUser(u)
	return nil
}

func (r userRepo) Update(_ context.Context, u *auth.User) error {
	if _, ok := r.d.users[u.ID]; !ok {
		return auth.ErrNotFound
	}
	if r.emailTaken(u.Email, u.ID) {
		return auth.ErrConflict
	}
	r.d.users[u.ID] = copyUser(u)
	return nil
}

// Delete removes the user with its role assignments and refresh tokens.
func (r userRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.d.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.users, id)
	r.d.dropTokensOf(auth.PrincipalRef{Kind: auth.KindUser, ID: id})
	for k := range r.d.userRoles {
		if k.left == id {
			delete(r.d.userRoles, k)
		}
	}
	return nil
}

func (r userRepo) emailTaken(email, exceptID string) bool {
	for id, u := range r.d.users {
		if id != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

type clientRepo struct{ d *dataset }

func (r clientRepo) Get(_ context.Context, id string) (*auth.Client, error) {
	c, ok := r.d.clients[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyClient(c), nil
}

func (r clientRepo) GetByName(_ context.Context, name string) (*auth.Client, error) {
	for _, c := range r.d.clients {
		if c.Name == name {
			return copyClient(c), nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r clientRepo) List(_ context.Context, f auth.ClientFilter) ([]*auth.Client, error) {
	needle := strings.ToLower(f.NameContains)
	var out []*auth.Client
	for _, c := range r.d.clients {
		if needle != "" && !strings.Contains(strings.ToLower(c.Name), needle) {
			continue
		}
		if f.Active != nil && c.Active != *f.Active {
			continue
		}
		out = append(out, copyClient(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, f.Page), nil
}

func (r clientRepo) Create(_ context.Context, c *auth.Client) error {
	if c.ID == "" {
		return auth.ErrInvalidInput
	}
	if _, ok := r.d.clients[c.ID]; ok || r.nameTaken(c.Name, "") {
		return auth.ErrConflict
	}
	r.d.clients[c.ID] = copyClient(c)
	return nil
}

func (r clientRepo) Update(_ context.Context, c *auth.Client) error {
	if _, ok := r.d.clients[c.ID]; !ok {
		return auth.ErrNotFound
	}
	if r.nameTaken(c.Name, c.ID) {
		return auth.ErrConflict
	}
	r.d.clients[c.ID] = copyClient(c)
	return nil
}

// Delete removes the client with its permission grants and refresh tokens.
func (r clientRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.d.clients[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.clients, id)
	r.d.dropTokensOf(auth.PrincipalRef{Kind: auth.KindClient, ID: id})
	for k := range r.d.clientPerms {
		if k.left == id {
			delete(r.d.clientPerms, k)
		}
	}
	return nil
}

func (r clientRepo) nameTaken(name, exceptID string) bool {
	for id, c := range r.d.clients {
		if id != exceptID && c.Name == name {
			return true
		}
	}
	return false
}
