package delegation

import (
	"context"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
)

type Registry struct {
	store persistence.DelegationStore
	clock util.Clock
}

func NewRegistry(store persistence.DelegationStore, clock util.Clock) *Registry {
	return &Registry{
		store: store,
		clock: clock,
	}
}

// SetDelegation hands user's approval authority to delegate for [start, end).
// An empty scope covers every workflow template.
func (r *Registry) SetDelegation(ctx context.Context, user, delegate string, start, end time.Time, reason string, scope []string) (*model.UserDelegation, error) {
	if len(user) == 0 || len(delegate) == 0 {
		return nil, api.Invalidf("delegate", "delegator and delegate are required")
	}
	if user == delegate {
		return nil, api.Invalidf("delegate", "user %s can not delegate to themselves", user)
	}
	if !end.After(start) {
		return nil, api.Invalidf("ends_at", "must be after starts_at")
	}
	d := &model.UserDelegation{
		Id:        uuid.NewString(),
		Delegator: user,
		Delegate:  delegate,
		StartsAt:  start,
		EndsAt:    end,
		Scope:     util.Dedup(scope),
		Reason:    reason,
		Active:    true,
		CreatedAt: r.clock.Now(),
	}
	if err := r.store.SaveDelegation(ctx, d); err != nil {
		return nil, err
	}
	logger.Info("delegation created", zap.String("delegator", user), zap.String("delegate", delegate), zap.Time("endsAt", end))
	return d, nil
}

// ActiveDelegations returns the delegations of user in force at now.
func (r *Registry) ActiveDelegations(ctx context.Context, user string, now time.Time) ([]*model.UserDelegation, error) {
	all, err := r.store.ListDelegations(ctx, user)
	if err != nil {
		return nil, err
	}
	out := make([]*model.UserDelegation, 0, len(all))
	for _, d := range all {
		if d.Covers(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

// CanActFor reports whether actor holds an active delegation from approver
// covering templateCode. Any one matching delegation is sufficient.
func (r *Registry) CanActFor(ctx context.Context, actor, approver, templateCode string, now time.Time) (bool, error) {
	if actor == approver {
		return true, nil
	}
	active, err := r.ActiveDelegations(ctx, approver, now)
	if err != nil {
		return false, err
	}
	for _, d := range active {
		if d.Delegate == actor && d.InScope(templateCode) {
			return true, nil
		}
	}
	return false, nil
}

// Revoke deactivates a delegation. Only its delegator may revoke it.
func (r *Registry) Revoke(ctx context.Context, user, delegationId string) error {
	d, err := r.store.GetDelegation(ctx, delegationId)
	if err != nil {
		return err
	}
	if d.Delegator != user {
		return api.PermissionDeniedError{Actor: user, Message: "only the delegator can revoke a delegation"}
	}
	if !d.Active {
		return nil
	}
	d.Active = false
	return r.store.SaveDelegation(ctx, d)
}
