package rbac

type Role string
type Action string

const (
	RoleStaff     Role = "staff"
	RoleDesigner  Role = "designer"
	RoleTreasurer Role = "treasurer"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead       Action = "read"
	ActionCreate     Action = "create"
	ActionComment    Action = "comment"
	ActionEdit       Action = "edit"
	ActionUpload     Action = "upload"
	ActionTransition Action = "transition"
	ActionEmergency  Action = "emergency"
	ActionDeadline   Action = "deadline"
	ActionApprove    Action = "approve"
	ActionAssign     Action = "assign"
	// ActionOversee reads the cross-task activity feed.
	ActionOversee    Action = "oversee"
	ActionAudit      Action = "audit"
)

// Roles lists every role, in the order receiver sets are rendered.
var Roles = []Role{RoleStaff, RoleTreasurer, RoleDesigner, RoleAdmin}

func Can(role Role, action Action) bool {
	switch action {
	case ActionRead, ActionComment, ActionUpload:
		return Valid(string(role))
	}
	switch role {
	case RoleAdmin:
		return action != ActionApprove
	case RoleTreasurer:
		return action == ActionCreate || action == ActionEdit || action == ActionApprove || action == ActionAssign || action == ActionOversee
	case RoleStaff:
		return action == ActionCreate || action == ActionEdit || action == ActionAssign
	case RoleDesigner:
		return action == ActionTransition || action == ActionEmergency || action == ActionDeadline
	default:
		return false
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleStaff, RoleDesigner, RoleTreasurer, RoleAdmin:
		return true
	default:
		return false
	}
}

func Normalize(role string) Role {
	if Valid(role) {
		return Role(role)
	}
	return RoleStaff
}
