package rbac

type Role string
type Action string

const (
	RoleStandard Role = "standard"
	RolePro      Role = "pro"
	RoleAdmin    Role = "admin"
)

const (
	ActionClassify Action = "classify"
	ActionReview   Action = "review"
	ActionExport   Action = "export"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RolePro:
		return action == ActionClassify || action == ActionReview || action == ActionExport
	case RoleStandard:
		return action == ActionClassify
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStandard, RolePro, RoleAdmin:
		return Role(role)
	default:
		return RoleStandard
	}
}

// IsPro reports whether the role can consume the escalation pool. Admin is
// a superset of pro.
func IsPro(role Role) bool {
	return role == RolePro || role == RoleAdmin
}
