package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionWrite   Action = "write"
	ActionPublish Action = "publish"
	// ActionAny lets the holder act on scopes owned by other users.
	ActionAny Action = "any"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionPublish
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Allowed reports whether role may perform action on a scope owned by owner
// when the caller is subject.
func Allowed(role Role, action Action, subject, owner string) bool {
	if !Can(role, action) {
		return false
	}
	return subject == owner || Can(role, ActionAny)
}
