package auth

const (
	PermUsersRead        = "users.read"
	PermUsersWrite       = "users.write"
	PermUsersDelete      = "users.delete"
	PermRolesRead        = "roles.read"
	PermRolesWrite       = "roles.write"
	PermPermissionsRead  = "permissions.read"
	PermPermissionsWrite = "permissions.write"
	PermClientsRead      = "clients.read"
	PermClientsWrite     = "clients.write"
	PermSessionsRevoke   = "sessions.revoke"
)

// BuiltinPermissions is seeded at startup and by the bootstrap command.
var BuiltinPermissions = []PermissionInput{
	{Code: PermUsersRead, Description: "List and inspect users"},
	{Code: PermUsersWrite, Description: "Create and modify users and their roles"},
	{Code: PermUsersDelete, Description: "Delete users"},
	{Code: PermRolesRead, Description: "List and inspect roles"},
	{Code: PermRolesWrite, Description: "Create, modify and delete roles"},
	{Code: PermPermissionsRead, Description: "List permissions"},
	{Code: PermPermissionsWrite, Description: "Create, modify and delete permissions"},
	{Code: PermClientsRead, Description: "List and inspect machine clients"},
	{Code: PermClientsWrite, Description: "Manage machine clients and their grants"},
	{Code: PermSessionsRevoke, Description: "Revoke sessions of other principals"},
}
