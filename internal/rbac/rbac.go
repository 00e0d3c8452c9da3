package rbac

type Permission string

const (
	// PermissionBoardAdmin grants visibility of every entry regardless of assignment.
	PermissionBoardAdmin Permission = "workflow_board_admin"
	// PermissionBoard grants general access to the board.
	PermissionBoard Permission = "workflow_board"
)

// Principal is the acting user as far as access checks are concerned.
type Principal struct {
	UserID      int64
	Admin       bool
	Permissions []Permission
}

func (p Principal) Has(permission Permission) bool {
	for _, granted := range p.Permissions {
		if granted == permission {
			return true
		}
	}
	return false
}

// Authorizer answers capability questions about a principal.
type Authorizer interface {
	CanSeeAll(Principal) bool
	CanAccess(Principal) bool
}

// PermissionAuthorizer grants capabilities from the admin flag and the
// principal's permission list.
type PermissionAuthorizer struct{}

func (PermissionAuthorizer) CanSeeAll(p Principal) bool {
	return p.Admin || p.Has(PermissionBoardAdmin)
}

func (a PermissionAuthorizer) CanAccess(p Principal) bool {
	return a.CanSeeAll(p) || p.Has(PermissionBoard)
}

// Normalize converts raw permission names, dropping empty values.
func Normalize(names []string) []Permission {
	out := make([]Permission, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		out = append(out, Permission(name))
	}
	return out
}
