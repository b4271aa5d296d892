package httpapi

import (
	"net/http"
	"strings"
	"time"

	"warden.dev/internal/auth"
)

type userView struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name,omitempty"`
	Active             bool       `json:"is_active"`
	Superuser          bool       `json:"is_superuser"`
	MustChangePassword bool       `json:"must_change_password"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

type clientView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// Secret is only set on creation and rotation.
	Secret string `json:"client_secret,omitempty"`
}

type roleView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type permissionView struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type superuserRequest struct {
	Superuser bool `json:"is_superuser"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type grantPermissionRequest struct {
	PermissionID string `json:"permission_id"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

type updatePermissionRequest struct {
	Description string `json:"description"`
}

type clientActiveRequest struct {
	Active bool `json:"is_active"`
}

func (a *API) adminRoutes() {
	var (
		usersRead    = a.guard(auth.MatchAll, auth.PermUsersRead)
		usersWrite   = a.guard(auth.MatchAll, auth.PermUsersWrite)
		usersDelete  = a.guard(auth.MatchAll, auth.PermUsersDelete)
		rolesRead    = a.guard(auth.MatchAll, auth.PermRolesRead)
		rolesWrite   = a.guard(auth.MatchAll, auth.PermRolesWrite)
		permsRead    = a.guard(auth.MatchAll, auth.PermPermissionsRead)
		permsWrite   = a.guard(auth.MatchAll, auth.PermPermissionsWrite)
		clientsRead  = a.guard(auth.MatchAll, auth.PermClientsRead)
		clientsWrite = a.guard(auth.MatchAll, auth.PermClientsWrite)
		revoke       = a.guard(auth.MatchAll, auth.PermSessionsRevoke)
		sessionsRead = a.guard(auth.MatchAny, auth.PermUsersRead, auth.PermSessionsRevoke)
	)
	m := a.mux

	m.Handle("GET /v1/admin/users", usersRead(a.handleListUsers))
	m.Handle("POST /v1/admin/users", usersWrite(a.handleCreateUser))
	m.Handle("GET /v1/admin/users/{id}", usersRead(a.handleGetUser))
	m.Handle("PATCH /v1/admin/users/{id}", usersWrite(a.handleUpdateUser))
	m.Handle("DELETE /v1/admin/users/{id}", usersDelete(a.handleDeleteUser))
	m.Handle("PUT /v1/admin/users/{id}/superuser", usersWrite(a.handleSetSuperuser))
	m.Handle("POST /v1/admin/users/{id}/password", usersWrite(a.handleResetPassword))
	m.Handle("GET /v1/admin/users/{id}/roles", usersRead(a.handleUserRoles))
	m.Handle("POST /v1/admin/users/{id}/roles", usersWrite(a.handleAssignRole))
	m.Handle("DELETE /v1/admin/users/{id}/roles/{roleID}", usersWrite(a.handleRemoveRole))
	m.Handle("GET /v1/admin/users/{id}/permissions", usersRead(a.handleUserPermissions))
	m.Handle("GET /v1/admin/users/{id}/sessions", sessionsRead(a.handleUserSessions))
	m.Handle("DELETE /v1/admin/users/{id}/sessions", revoke(a.handleRevokeUserSessions))

	m.Handle("GET /v1/admin/roles", rolesRead(a.handleListRoles))
	m.Handle("POST /v1/admin/roles", rolesWrite(a.handleCreateRole))
	m.Handle("GET /v1/admin/roles/{id}", rolesRead(a.handleGetRole))
	m.Handle("PUT /v1/admin/roles/{id}", rolesWrite(a.handleUpdateRole))
	m.Handle("DELETE /v1/admin/roles/{id}", rolesWrite(a.handleDeleteRole))
	m.Handle("GET /v1/admin/roles/{id}/permissions", rolesRead(a.handleRolePermissions))
	m.Handle("PUT /v1/admin/roles/{id}/permissions", rolesWrite(a.handleSetRolePermissions))
	m.Handle("POST /v1/admin/roles/{id}/permissions", rolesWrite(a.handleGrantRolePermission))
	m.Handle("DELETE /v1/admin/roles/{id}/permissions/{permissionID}", rolesWrite(a.handleRevokeRolePermission))

	m.Handle("GET /v1/admin/permissions", permsRead(a.handleListPermissions))
	m.Handle("POST /v1/admin/permissions", permsWrite(a.handleCreatePermission))
	m.Handle("GET /v1/admin/permissions/{id}", permsRead(a.handleGetPermission))
	m.Handle("PATCH /v1/admin/permissions/{id}", permsWrite(a.handleUpdatePermission))
	m.Handle("DELETE /v1/admin/permissions/{id}", permsWrite(a.handleDeletePermission))

	m.Handle("GET /v1/admin/clients", clientsRead(a.handleListClients))
	m.Handle("POST /v1/admin/clients", clientsWrite(a.handleCreateClient))
	m.Handle("GET /v1/admin/clients/{id}", clientsRead(a.handleGetClient))
	m.Handle("PATCH /v1/admin/clients/{id}", clientsWrite(a.handleRenameClient))
	m.Handle("DELETE /v1/admin/clients/{id}", clientsWrite(a.handleDeleteClient))
	m.Handle("PUT /v1/admin/clients/{id}/active", clientsWrite(a.handleSetClientActive))
	m.Handle("POST /v1/admin/clients/{id}/secret", clientsWrite(a.handleRotateClientSecret))
	m.Handle("GET /v1/admin/clients/{id}/permissions", clientsRead(a.handleClientPermissions))
	m.Handle("POST /v1/admin/clients/{id}/permissions", clientsWrite(a.handleGrantClientPermission))
	m.Handle("DELETE /v1/admin/clients/{id}/permissions/{permissionID}", clientsWrite(a.handleRevokeClientPermission))
	m.Handle("DELETE /v1/admin/clients/{id}/sessions", revoke(a.handleRevokeClientSessions))
}

// Users

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	pg, err := page(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	q := r.URL.Query()
	f := auth.UserFilter{EmailContains: strings.TrimSpace(q.Get("email")), RoleID: q.Get("role_id"), Page: pg}
	if f.Active, err = optionalBool(q.Get("active")); err != nil {
		badRequest(w, r, err)
		return
	}
	if f.Superuser, err = optionalBool(q.Get("superuser")); err != nil {
		badRequest(w, r, err)
		return
	}
	users, err := a.admin.ListUsers(r.Context(), f)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if req.Superuser && !principalOf(r).Superuser {
		writeError(w, r, http.StatusForbidden, "forbidden", "only superusers create superusers")
		return
	}
	u, err := a.admin.CreateUser(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/users/"+u.ID)
	writeJSON(w, http.StatusCreated, viewUser(u))
}

func (a *API) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := a.admin.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(u))
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req auth.UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	u, err := a.admin.UpdateUser(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewUser(u))
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if p := principalOf(r); p.Kind == auth.KindUser && p.ID == id {
		writeError(w, r, http.StatusConflict, "conflict", "cannot delete the calling user")
		return
	}
	if err := a.admin.DeleteUser(r.Context(), id); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetSuperuser is reserved to superusers regardless of grants.
func (a *API) handleSetSuperuser(w http.ResponseWriter, r *http.Request) {
	if !principalOf(r).Superuser {
		writeError(w, r, http.StatusForbidden, "forbidden", "only superusers change the superuser flag")
		return
	}
	var req superuserRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.SetSuperuser(r.Context(), r.PathValue("id"), req.Superuser); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.ResetPassword(r.Context(), r.PathValue("id"), req.Password); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.admin.UserRoles(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewRoles(roles)})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.AssignRole(r.Context(), r.PathValue("id"), strings.TrimSpace(req.RoleID)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.RemoveRole(r.Context(), r.PathValue("id"), r.PathValue("roleID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	set, err := a.svc.Resolver().EffectivePermissions(r.Context(), auth.PrincipalRef{Kind: auth.KindUser, ID: r.PathValue("id")})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	codes := set.Codes()
	writeJSON(w, http.StatusOK, map[string]any{"universal": set.Universal(), "permissions": codes})
}

func (a *API) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	a.listSessions(w, r, auth.PrincipalRef{Kind: auth.KindUser, ID: r.PathValue("id")})
}

func (a *API) handleRevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	a.revokeSessions(w, r, auth.PrincipalRef{Kind: auth.KindUser, ID: r.PathValue("id")})
}

// Roles

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	pg, err := page(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	roles, err := a.admin.ListRoles(r.Context(), auth.RoleFilter{NameContains: r.URL.Query().Get("name"), Page: pg})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewRoles(roles)})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var in auth.RoleInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	role, err := a.admin.CreateRole(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/roles/"+role.ID)
	writeJSON(w, http.StatusCreated, viewRole(role))
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.admin.GetRole(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRole(role))
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var in auth.RoleInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	role, err := a.admin.UpdateRole(r.Context(), r.PathValue("id"), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewRole(role))
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteRole(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRolePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.admin.RolePermissions(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewPermissions(perms)})
}

// handleSetRolePermissions replaces the role's grants with the given codes.
func (a *API) handleSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req setRolePermissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.SetRolePermissions(r.Context(), r.PathValue("id"), req.Permissions); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleGrantRolePermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.GrantRolePermission(r.Context(), r.PathValue("id"), strings.TrimSpace(req.PermissionID)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeRolePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.RevokeRolePermission(r.Context(), r.PathValue("id"), r.PathValue("permissionID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Permissions

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	pg, err := page(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	f := auth.PermissionFilter{RoleID: r.URL.Query().Get("role_id"), Page: pg}
	if raw := r.URL.Query().Get("codes"); raw != "" {
		for _, c := range strings.Split(raw, ",") {
			if c = strings.TrimSpace(c); c != "" {
				f.Codes = append(f.Codes, c)
			}
		}
	}
	perms, err := a.admin.ListPermissions(r.Context(), f)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewPermissions(perms)})
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var in auth.PermissionInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	p, err := a.admin.CreatePermission(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/permissions/"+p.ID)
	writeJSON(w, http.StatusCreated, viewPermission(p))
}

func (a *API) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	p, err := a.admin.GetPermission(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPermission(p))
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	p, err := a.admin.UpdatePermission(r.Context(), r.PathValue("id"), req.Description)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewPermission(p))
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeletePermission(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Clients

func (a *API) handleListClients(w http.ResponseWriter, r *http.Request) {
	pg, err := page(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}
	f := auth.ClientFilter{NameContains: r.URL.Query().Get("name"), Page: pg}
	if f.Active, err = optionalBool(r.URL.Query().Get("active")); err != nil {
		badRequest(w, r, err)
		return
	}
	clients, err := a.admin.ListClients(r.Context(), f)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	out := make([]clientView, 0, len(clients))
	for _, c := range clients {
		out = append(out, viewClient(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var in auth.ClientInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	c, secret, err := a.admin.CreateClient(r.Context(), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	out := viewClient(c)
	out.Secret = secret
	w.Header().Set("Location", "/v1/admin/clients/"+c.ID)
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) handleGetClient(w http.ResponseWriter, r *http.Request) {
	c, err := a.admin.GetClient(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewClient(c))
}

func (a *API) handleRenameClient(w http.ResponseWriter, r *http.Request) {
	var in auth.ClientInput
	if err := decodeJSON(r, &in); err != nil {
		badRequest(w, r, err)
		return
	}
	c, err := a.admin.RenameClient(r.Context(), r.PathValue("id"), in)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewClient(c))
}

func (a *API) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.DeleteClient(r.Context(), r.PathValue("id")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetClientActive(w http.ResponseWriter, r *http.Request) {
	var req clientActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.SetClientActive(r.Context(), r.PathValue("id"), req.Active); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRotateClientSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := a.admin.RotateClientSecret(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"client_secret": secret})
}

func (a *API) handleClientPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.admin.ClientPermissions(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewPermissions(perms)})
}

func (a *API) handleGrantClientPermission(w http.ResponseWriter, r *http.Request) {
	var req grantPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err)
		return
	}
	if err := a.admin.GrantClientPermission(r.Context(), r.PathValue("id"), strings.TrimSpace(req.PermissionID)); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeClientPermission(w http.ResponseWriter, r *http.Request) {
	if err := a.admin.RevokeClientPermission(r.Context(), r.PathValue("id"), r.PathValue("permissionID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRevokeClientSessions(w http.ResponseWriter, r *http.Request) {
	a.revokeSessions(w, r, auth.PrincipalRef{Kind: auth.KindClient, ID: r.PathValue("id")})
}

// Sessions

func (a *API) listSessions(w http.ResponseWriter, r *http.Request, ref auth.PrincipalRef) {
	rows, err := a.svc.Sessions().Sessions(r.Context(), ref)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": viewSessions(rows)})
}

func (a *API) revokeSessions(w http.ResponseWriter, r *http.Request, ref auth.PrincipalRef) {
	n, err := a.svc.LogoutAllDevices(r.Context(), ref)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"revoked": n})
}

// --- views ---

func viewUser(u *auth.User) userView {
	return userView{
		ID:                 u.ID,
		Email:              u.Email,
		FullName:           u.FullName,
		Active:             u.Active,
		Superuser:          u.Superuser,
		MustChangePassword: u.MustChangePassword,
		LastLoginAt:        u.LastLoginAt,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func viewClient(c *auth.Client) clientView {
	return clientView{ID: c.ID, Name: c.Name, Active: c.Active, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

func viewRole(r *auth.Role) roleView {
	return roleView{ID: r.ID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
}

func viewRoles(roles []*auth.Role) []roleView {
	out := make([]roleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, viewRole(r))
	}
	return out
}

func viewPermission(p *auth.Permission) permissionView {
	return permissionView{ID: p.ID, Code: p.Code, Description: p.Description, CreatedAt: p.CreatedAt}
}

func viewPermissions(perms []*auth.Permission) []permissionView {
	out := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, viewPermission(p))
	}
	return out
}
