package memory

import (
	"context"
	"sort"
	"strings"

	"warden.dev/internal/auth"
)

type roleRepo struct{ d *dataset }

func (r roleRepo) Get(_ context.Context, id string) (*auth.Role, error) {
	role, ok := r.d.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *role
	return &c, nil
}

func (r roleRepo) GetByName(_ context.Context, name string) (*auth.Role, error) {
	for _, role := range r.d.roles {
		if role.Name == name {
			c := *role
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (r roleRepo) List(_ context.Context, f auth.RoleFilter) ([]*auth.Role, error) {
	needle := strings.ToLower(f.NameContains)
	var out []*auth.Role
	for _, role := range r.d.roles {
		if needle != "" && !strings.Contains(strings.ToLower(role.Name), needle) {
			continue
		}
		if f.UserID != "" {
			if _, ok := r.d.userRoles[pair{f.UserID, role.ID}]; !ok {
				continue
			}
		}
		c := *role
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, f.Page), nil
}

func (r roleRepo) Create(_ context.Context, role *auth.Role) error {
	if role.ID == "" {
		return auth.ErrInvalidInput
	}
	if _, ok := r.d.roles[role.ID]; ok || r.nameTaken(role.Name, "") {
		return auth.ErrConflict
	}
	c := *role
	r.d.roles[role.ID] = &c
	return nil
}

func (r roleRepo) Update(_ context.Context, role *auth.Role) error {
	if _, ok := r.d.roles[role.ID]; !ok {
		return auth.ErrNotFound
	}
	if r.nameTaken(role.Name, role.ID) {
		return auth.ErrConflict
	}
	c := *role
	r.d.roles[role.ID] = &c
	return nil
}

// Delete removes the role with its user and permission associations.
func (r roleRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.d.roles[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.roles, id)
	for k := range r.d.userRoles {
		if k.right == id {
			delete(r.d.userRoles, k)
		}
	}
	for k := range r.d.rolePerms {
		if k.left == id {
			delete(r.d.rolePerms, k)
		}
	}
	return nil
}

func (r roleRepo) nameTaken(name, exceptID string) bool {
	for id, role := range r.d.roles {
		if id != exceptID && role.Name == name {
			return true
		}
	}
	return false
}

type permissionRepo struct{ d *dataset }

func (r permissionRepo) Get(_ context.Context, id string) (*auth.Permission, error) {
	p, ok := r.d.perms[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r permissionRepo) GetByCode(_ context.Context, code string) (*auth.Permission, error) {
	for _, p := range r.d.perms {
		if p.Code == code {
			c := *p
			return &c, nil
		}
	}
	return nil, auth.ErrNotFound
}

// List resolves the filter to a distinct set of permissions ordered by code.
// Every non-empty criterion narrows the result.
func (r permissionRepo) List(_ context.Context, f auth.PermissionFilter) ([]*auth.Permission, error) {
	var codes map[string]struct{}
	if len(f.Codes) > 0 {
		codes = make(map[string]struct{}, len(f.Codes))
		for _, c := range f.Codes {
			codes[c] = struct{}{}
		}
	}
	var viaUser map[string]struct{}
	if f.UserID != "" {
		viaUser = map[string]struct{}{}
		for k := range r.d.userRoles {
			if k.left != f.UserID {
				continue
			}
			for rp := range r.d.rolePerms {
				if rp.left == k.right {
					viaUser[rp.right] = struct{}{}
				}
			}
		}
	}

	var out []*auth.Permission
	for id, p := range r.d.perms {
		if codes != nil {
			if _, ok := codes[p.Code]; !ok {
				continue
			}
		}
		if f.RoleID != "" {
			if _, ok := r.d.rolePerms[pair{f.RoleID, id}]; !ok {
				continue
			}
		}
		if viaUser != nil {
			if _, ok := viaUser[id]; !ok {
				continue
			}
		}
		if f.ClientID != "" {
			if _, ok := r.d.clientPerms[pair{f.ClientID, id}]; !ok {
				continue
			}
		}
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return paginate(out, f.Page), nil
}

func (r permissionRepo) Create(_ context.Context, p *auth.Permission) error {
	if p.ID == "" {
		return auth.ErrInvalidInput
	}
	if _, ok := r.d.perms[p.ID]; ok || r.codeTaken(p.Code, "") {
		return auth.ErrConflict
	}
	c := *p
	r.d.perms[p.ID] = &c
	return nil
}

func (r permissionRepo) Update(_ context.Context, p *auth.Permission) error {
	if _, ok := r.d.perms[p.ID]; !ok {
		return auth.ErrNotFound
	}
	if r.codeTaken(p.Code, p.ID) {
		return auth.ErrConflict
	}
	c := *p
	r.d.perms[p.ID] = &c
	return nil
}

// Delete removes the permission with its role and client grants.
func (r permissionRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.d.perms[id]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.perms, id)
	for k := range r.d.rolePerms {
		if k.right == id {
			delete(r.d.rolePerms, k)
		}
	}
	for k := range r.d.clientPerms {
		if k.right == id {
			delete(r.d.clientPerms, k)
		}
	}
	return nil
}

func (r permissionRepo) codeTaken(code, exceptID string) bool {
	for id, p := range r.d.perms {
		if id != exceptID && p.Code == code {
			return true
		}
	}
	return false
}

type userRoleRepo struct{ d *dataset }

func (r userRoleRepo) Add(_ context.Context, ur auth.UserRole) error {
	if _, ok := r.d.users[ur.UserID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := r.d.roles[ur.RoleID]; !ok {
		return auth.ErrNotFound
	}
	k := pair{ur.UserID, ur.RoleID}
	if _, ok := r.d.userRoles[k]; ok {
		return auth.ErrConflict
	}
	r.d.userRoles[k] = ur
	return nil
}

func (r userRoleRepo) Remove(_ context.Context, userID, roleID string) error {
	k := pair{userID, roleID}
	if _, ok := r.d.userRoles[k]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.userRoles, k)
	return nil
}

func (r userRoleRepo) ListByUser(_ context.Context, userID string) ([]auth.UserRole, error) {
	var out []auth.UserRole
	for k, v := range r.d.userRoles {
		if k.left == userID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (r userRoleRepo) ListByRole(_ context.Context, roleID string) ([]auth.UserRole, error) {
	var out []auth.UserRole
	for k, v := range r.d.userRoles {
		if k.right == roleID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

type rolePermissionRepo struct{ d *dataset }

func (r rolePermissionRepo) Add(_ context.Context, rp auth.RolePermission) error {
	if _, ok := r.d.roles[rp.RoleID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := r.d.perms[rp.PermissionID]; !ok {
		return auth.ErrNotFound
	}
	k := pair{rp.RoleID, rp.PermissionID}
	if _, ok := r.d.rolePerms[k]; ok {
		return auth.ErrConflict
	}
	r.d.rolePerms[k] = rp
	return nil
}

func (r rolePermissionRepo) Remove(_ context.Context, roleID, permissionID string) error {
	k := pair{roleID, permissionID}
	if _, ok := r.d.rolePerms[k]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.rolePerms, k)
	return nil
}

func (r rolePermissionRepo) ListByRole(_ context.Context, roleID string) ([]auth.RolePermission, error) {
	var out []auth.RolePermission
	for k, v := range r.d.rolePerms {
		if k.left == roleID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out, nil
}

type clientPermissionRepo struct{ d *dataset }

func (r clientPermissionRepo) Add(_ context.Context, cp auth.ClientPermission) error {
	if _, ok := r.d.clients[cp.ClientID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := r.d.perms[cp.PermissionID]; !ok {
		return auth.ErrNotFound
	}
	k := pair{cp.ClientID, cp.PermissionID}
	if _, ok := r.d.clientPerms[k]; ok {
		return auth.ErrConflict
	}
	r.d.clientPerms[k] = cp
	return nil
}

func (r clientPermissionRepo) Remove(_ context.Context, clientID, permissionID string) error {
	k := pair{clientID, permissionID}
	if _, ok := r.d.clientPerms[k]; !ok {
		return auth.ErrNotFound
	}
	delete(r.d.clientPerms, k)
	return nil
}

func (r clientPermissionRepo) ListByClient(_ context.Context, clientID string) ([]auth.ClientPermission, error) {
	var out []auth.ClientPermission
	for k, v := range r.d.clientPerms {
		if k.left == clientID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PermissionID < out[j].PermissionID })
	return out, nil
}
