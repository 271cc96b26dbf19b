package delegation

import (
	"context"
	"testing"
	"time"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/persistence/memory"
	"github.com/mohitkumar/grcflow/util"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func TestRegistry(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, r *Registry){
		"window is half open":     testWindow,
		"scope limits templates":  testScope,
		"overlapping delegations": testOverlap,
		"validation":              testValidation,
		"revoke":                  testRevoke,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewRegistry(memory.NewStore(), util.NewFakeClock(base)))
		})
	}
}

func testWindow(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, err := r.SetDelegation(ctx, "alice", "bob", base, base.Add(48*time.Hour), "vacation", nil)
	require.NoError(t, err)

	active, err := r.ActiveDelegations(ctx, "alice", base)
	require.NoError(t, err)
	require.Len(t, active, 1)

	active, err = r.ActiveDelegations(ctx, "alice", base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Empty(t, active)

	active, err = r.ActiveDelegations(ctx, "alice", base.Add(-time.Second))
	require.NoError(t, err)
	require.Empty(t, active)
}

func testScope(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, err := r.SetDelegation(ctx, "alice", "bob", base, base.Add(time.Hour), "", []string{"vendor_onboarding"})
	require.NoError(t, err)

	ok, err := r.CanActFor(ctx, "bob", "alice", "vendor_onboarding", base)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.CanActFor(ctx, "bob", "alice", "policy_review", base)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.CanActFor(ctx, "carol", "alice", "vendor_onboarding", base)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.CanActFor(ctx, "alice", "alice", "anything", base)
	require.NoError(t, err)
	require.True(t, ok)
}

func testOverlap(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, err := r.SetDelegation(ctx, "alice", "bob", base, base.Add(2*time.Hour), "", nil)
	require.NoError(t, err)
	_, err = r.SetDelegation(ctx, "alice", "carol", base.Add(time.Hour), base.Add(3*time.Hour), "", nil)
	require.NoError(t, err)

	active, err := r.ActiveDelegations(ctx, "alice", base.Add(90*time.Minute))
	require.NoError(t, err)
	require.Len(t, active, 2)

	for _, actor := range []string{"bob", "carol"} {
		ok, err := r.CanActFor(ctx, actor, "alice", "any", base.Add(90*time.Minute))
		require.NoError(t, err)
		require.True(t, ok, actor)
	}
}

func testValidation(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, err := r.SetDelegation(ctx, "alice", "alice", base, base.Add(time.Hour), "", nil)
	require.True(t, api.IsValidation(err))
	_, err = r.SetDelegation(ctx, "alice", "bob", base, base, "", nil)
	require.True(t, api.IsValidation(err))
}

func testRevoke(t *testing.T, r *Registry) {
	ctx := context.Background()
	d, err := r.SetDelegation(ctx, "alice", "bob", base, base.Add(time.Hour), "", nil)
	require.NoError(t, err)

	require.True(t, api.IsPermissionDenied(r.Revoke(ctx, "bob", d.Id)))
	require.NoError(t, r.Revoke(ctx, "alice", d.Id))

	ok, err := r.CanActFor(ctx, "bob", "alice", "any", base)
	require.NoError(t, err)
	require.False(t, ok)

	require.True(t, api.IsNotFound(r.Revoke(ctx, "alice", "missing")))
}
