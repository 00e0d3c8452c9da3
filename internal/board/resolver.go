package board

import (
	"context"
	"fmt"
)

// Resolver expands a user or an assignment into the ids it stands for.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// ResolveRoles returns the roles userID belongs to.
func (r *Resolver) ResolveRoles(ctx context.Context, userID int64) ([]int64, error) {
	user, err := r.dir.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve roles of user %d: %w", userID, err)
	}
	return append([]int64(nil), user.RoleIDs...), nil
}

// Audience returns the user ids an assignment reaches: the user itself, or
// every member of the role.
func (r *Resolver) Audience(ctx context.Context, assignType AssignType, assignID int64) ([]int64, error) {
	switch assignType {
	case AssignUser:
		return []int64{assignID}, nil
	case AssignRole:
		members, err := r.dir.ListRoleMemberIDs(ctx, assignID)
		if err != nil {
			return nil, fmt.Errorf("list members of role %d: %w", assignID, err)
		}
		return members, nil
	default:
		return nil, fmt.Errorf("%w: unknown assign type %q", ErrValidation, assignType)
	}
}
