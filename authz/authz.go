// Package authz decides what an authenticated admin API caller may do.
// Roles come from the bearer token (or are fixed for API keys); agency
// scoping is applied separately by the handlers.
package authz

// Role represents the caller's role in the admin API
type Role string

const (
	RoleAdmin       Role = "admin"       // Platform operator, every agency
	RoleManager     Role = "manager"     // Agency manager, maintains rules
	RoleAgent       Role = "agent"       // Reads rules and history
	RoleIntegration Role = "integration" // API keys: announces events, routes leads
)

// Action represents an operation on automation resources
type Action string

const (
	ActionView    Action = "view"    // Read rules and execution history
	ActionCreate  Action = "create"  // Create rules
	ActionUpdate  Action = "update"  // Modify rules
	ActionDelete  Action = "delete"  // Remove rules
	ActionExecute Action = "execute" // Fire triggers and route leads
)

// RulePermissions defines what actions each role can perform
var RulePermissions = map[Role]map[Action]bool{
	RoleAdmin: {
		ActionView:    true,
		ActionCreate:  true,
		ActionUpdate:  true,
		ActionDelete:  true,
		ActionExecute: true,
	},
	RoleManager: {
		ActionView:    true,
		ActionCreate:  true,
		ActionUpdate:  true,
		ActionDelete:  true,
		ActionExecute: true,
	},
	RoleAgent: {
		ActionView:    true,
		ActionCreate:  false,
		ActionUpdate:  false,
		ActionDelete:  false,
		ActionExecute: false,
	},
	RoleIntegration: {
		ActionView:    true,
		ActionCreate:  false,
		ActionUpdate:  false,
		ActionDelete:  false,
		ActionExecute: true,
	},
}

// HasPermission checks a role against a permission matrix. Unknown roles have no permissions.
func HasPermission(permissions map[Role]map[Action]bool, role Role, action Action) bool {
	if rolePerms, ok := permissions[role]; ok {
		if allowed, ok := rolePerms[action]; ok {
			return allowed
		}
	}
	return false
}

// Can is HasPermission over RulePermissions
func Can(role Role, action Action) bool {
	return HasPermission(RulePermissions, role, action)
}

// ActionForMethod maps an HTTP method to the action it performs on a rule resource
func ActionForMethod(method string) Action {
	switch method {
	case "POST":
		return ActionCreate
	case "PUT", "PATCH":
		return ActionUpdate
	case "DELETE":
		return ActionDelete
	default:
		return ActionView
	}
}
