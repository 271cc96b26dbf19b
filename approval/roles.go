package approval

import (
	"context"

	"github.com/mohitkumar/grcflow/model"
)

// RoleResolver expands an approver role into user ids.
type RoleResolver interface {
	Resolve(ctx context.Context, role string, entity model.EntityRef) ([]string, error)
}

type StaticRoleResolver map[string][]string

func (r StaticRoleResolver) Resolve(ctx context.Context, role string, entity model.EntityRef) ([]string, error) {
	return r[role], nil
}
