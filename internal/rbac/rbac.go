package rbac

type Role string
type Action string

const (
	RoleMember  Role = "member"
	RoleExpert  Role = "expert"
	RoleCouncil Role = "council"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionSubmit   Action = "submit"
	ActionComment  Action = "comment"
	ActionVote     Action = "vote"
	ActionOverride Action = "override"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleCouncil:
		return action == ActionRead || action == ActionSubmit || action == ActionComment || action == ActionVote
	case RoleExpert:
		return action == ActionRead || action == ActionSubmit || action == ActionComment || action == ActionOverride
	case RoleMember:
		return action == ActionRead || action == ActionSubmit || action == ActionComment
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleExpert, RoleCouncil, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
