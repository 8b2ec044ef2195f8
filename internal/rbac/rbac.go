package rbac

// Role constants. A role is the type of actor making a request.
const (
	RoleUser   = "user"
	RoleAdmin  = "admin"
	RoleAPIKey = "api_key"
	RoleSystem = "system"
)

// Permission constants
const (
	PermViewBroadcast   = "view_broadcast"
	PermCreateBroadcast = "create_broadcast"
	PermChangeStatus    = "change_broadcast_status"
	PermCancelBroadcast = "cancel_broadcast"
)

// RolePermissions defines what each role can do on a service it belongs to.
var RolePermissions = map[string][]string{
	RoleUser: {
		PermViewBroadcast, PermCreateBroadcast, PermChangeStatus, PermCancelBroadcast,
	},
	RoleAdmin: {
		PermViewBroadcast, PermCreateBroadcast, PermChangeStatus, PermCancelBroadcast,
	},
	RoleAPIKey: {
		PermViewBroadcast, PermCreateBroadcast, PermCancelBroadcast,
		// API keys CANNOT approve, reject or submit
	},
	RoleSystem: {
		PermViewBroadcast, PermChangeStatus, PermCancelBroadcast,
	},
}

// membershipExempt lists permissions a role holds on every service, member or not.
var membershipExempt = map[string][]string{
	RoleAdmin:  {PermViewBroadcast, PermCancelBroadcast},
	RoleSystem: {PermViewBroadcast, PermChangeStatus, PermCancelBroadcast},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	return contains(RolePermissions[role], permission)
}

// IsMembershipExempt reports whether role may use permission on a service it
// does not belong to.
func IsMembershipExempt(role, permission string) bool {
	return contains(membershipExempt[role], permission)
}

func contains(perms []string, permission string) bool {
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}
