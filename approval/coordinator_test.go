package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/grcflow/action"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/delegation"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence/memory"
	"github.com/mohitkumar/grcflow/util"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type fakeExecutor struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (f *fakeExecutor) Execute(ctx context.Context, kind model.ActionKind, config map[string]any, entity model.EntityRef, snapshot map[string]any) (action.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, config)
	return action.Result{Success: true, Kind: kind}, nil
}

type fixture struct {
	store       *memory.Store
	clock       *util.FakeClock
	executor    *fakeExecutor
	delegations *delegation.Registry
	coordinator *Coordinator
}

func newFixture() *fixture {
	store := memory.NewStore()
	clock := util.NewFakeClock(base)
	exec := &fakeExecutor{}
	reg := delegation.NewRegistry(store, clock)
	roles := StaticRoleResolver{"risk_committee": {"dana", "erin", "dana"}}
	return &fixture{
		store:       store,
		clock:       clock,
		executor:    exec,
		delegations: reg,
		coordinator: NewCoordinator(store, store, reg, roles, exec, clock, util.NewKeyedMutex(8), Config{MaxReminders: 2}),
	}
}

func (f *fixture) step(t *testing.T, approvalType model.ApprovalType, approvers ...string) *model.StepExecution {
	due := base.Add(24 * time.Hour)
	step := &model.StepExecution{
		Id:                uuid.NewString(),
		InstanceId:        "inst-1",
		StepName:          "review",
		StepType:          model.STEP_APPROVAL,
		ApprovalType:      approvalType,
		RequireAll:        true,
		RequiredApprovers: approvers,
		Status:            model.STEP_AWAITING_APPROVAL,
		DueAt:             &due,
	}
	require.NoError(t, f.store.CreateSteps(context.Background(), []*model.StepExecution{step}))
	return step
}

// createRequests issues the first requests of step and writes them.
func (f *fixture) createRequests(ctx context.Context, step *model.StepExecution, templateCode string) ([]*model.ApprovalRequest, error) {
	ch := NewChanges(f.store)
	reqs, err := f.coordinator.CreateRequests(ch, step, templateCode)
	if err != nil {
		return nil, err
	}
	return reqs, ch.Flush(ctx)
}

// respond records a decision and saves it the way a transition does.
func (f *fixture) respond(ctx context.Context, requestId string, actor string, decision model.Decision, comments string) (*Verdict, error) {
	ch := NewChanges(f.store)
	v, err := f.coordinator.Respond(ctx, ch, requestId, actor, decision, comments)
	if err != nil {
		return nil, err
	}
	if err := f.store.UpdateStep(ctx, v.Step); err != nil {
		return nil, err
	}
	return v, ch.Flush(ctx)
}

func TestCoordinator(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, f *fixture){
		"sequential issues one request at a time": testSequential,
		"parallel waits for all":                  testParallel,
		"stranger is denied":                      testPermissionDenied,
		"delegate registry authorizes":            testDelegateRegistry,
		"request delegation":                      testRequestDelegation,
		"duplicate response conflicts":            testDuplicateResponse,
		"bulk respond isolates failures":          testBulk,
		"writes wait for flush":                   testBufferedWrites,
		"reminders are capped":                    testReminders,
		"role resolution":                         testRoles,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newFixture())
		})
	}
}

func testSequential(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_SEQUENTIAL, "alice", "bob")
	reqs, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, "alice", reqs[0].Approver)
	require.Equal(t, step.DueAt, reqs[0].DueAt)

	v, err := f.respond(ctx, reqs[0].Id, "alice", model.DECISION_APPROVE, "ok")
	require.NoError(t, err)
	require.False(t, v.Decided)

	all, err := f.store.ListRequestsByStep(ctx, step.Id)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "bob", all[1].Approver)
	require.Equal(t, 1, all[1].Sequence)

	v, err = f.respond(ctx, all[1].Id, "bob", model.DECISION_APPROVE, "")
	require.NoError(t, err)
	require.True(t, v.Decided)
	require.Equal(t, model.OUTCOME_APPROVED, v.Outcome)
	require.Equal(t, []string{"alice", "bob"}, v.Step.ActualApprovers)
}

func testParallel(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_PARALLEL, "alice", "bob", "carol")
	reqs, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)
	require.Len(t, reqs, 3)

	v, err := f.respond(ctx, reqs[0].Id, "alice", model.DECISION_REJECT, "")
	require.NoError(t, err)
	require.False(t, v.Decided)
	v, err = f.respond(ctx, reqs[1].Id, "bob", model.DECISION_APPROVE, "")
	require.NoError(t, err)
	require.False(t, v.Decided)
	v, err = f.respond(ctx, reqs[2].Id, "carol", model.DECISION_APPROVE, "")
	require.NoError(t, err)
	require.True(t, v.Decided)
	require.Equal(t, model.OUTCOME_REJECTED, v.Outcome)
}

func testPermissionDenied(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_ANY, "alice")
	reqs, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)
	_, err = f.respond(ctx, reqs[0].Id, "mallory", model.DECISION_APPROVE, "")
	require.True(t, api.IsPermissionDenied(err))

	req, err := f.store.GetRequest(ctx, reqs[0].Id)
	require.NoError(t, err)
	require.Equal(t, model.REQUEST_PENDING, req.Status)
}

func testDelegateRegistry(t *testing.T, f *fixture) {
	ctx := context.Background()
	_, err := f.delegations.SetDelegation(ctx, "alice", "bob", base.Add(-time.Hour), base.Add(time.Hour), "leave", []string{"vendor"})
	require.NoError(t, err)
	step := f.step(t, model.APPROVAL_ANY, "alice")
	reqs, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)

	v, err := f.respond(ctx, reqs[0].Id, "bob", model.DECISION_APPROVE, "on behalf of alice")
	require.NoError(t, err)
	require.True(t, v.Decided)
	require.Equal(t, "bob", v.Request.RespondedBy)
	require.Equal(t, "alice", v.Request.Approver)
}

func testRequestDelegation(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_ANY, "alice")
	reqs, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)

	_, err = f.coordinator.Delegate(ctx, reqs[0].Id, "bob", "carol", "")
	require.True(t, api.IsPermissionDenied(err))

	req, err := f.coordinator.Delegate(ctx, reqs[0].Id, "alice", "carol", "travelling")
	require.NoError(t, err)
	require.Equal(t, "carol", req.DelegateTo)
	require.Equal(t, reqs[0].DueAt, req.DueAt)

	_, err = f.respond(ctx, reqs[0].Id, "alice", model.DECISION_APPROVE, "")
	require.True(t, api.IsPermissionDenied(err))
	v, err := f.respond(ctx, reqs[0].Id, "carol", model.DECISION_APPROVE, "")
	require.NoError(t, err)
	require.True(t, v.Decided)
}

func testDuplicateResponse(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_PARALLEL, "alice", "bob")
	reqs, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)
	_, err = f.respond(ctx, reqs[0].Id, "alice", model.DECISION_APPROVE, "")
	require.NoError(t, err)
	_, err = f.respond(ctx, reqs[0].Id, "alice", model.DECISION_APPROVE, "")
	require.True(t, api.IsConflict(err))
	_, err = f.respond(ctx, reqs[1].Id, "bob", "maybe", "")
	require.True(t, api.IsValidation(err))
}

func testBulk(t *testing.T, f *fixture) {
	ctx := context.Background()
	a := f.step(t, model.APPROVAL_ANY, "alice")
	b := f.step(t, model.APPROVAL_ANY, "bob")
	ra, err := f.createRequests(ctx, a, "vendor")
	require.NoError(t, err)
	rb, err := f.createRequests(ctx, b, "vendor")
	require.NoError(t, err)

	results := Bulk(ctx, []string{ra[0].Id, rb[0].Id, "missing"}, func(ctx context.Context, id string) error {
		_, err := f.respond(ctx, id, "alice", model.DECISION_APPROVE, "")
		return err
	})
	require.Len(t, results, 3)
	require.NoError(t, results[0].Error)
	require.True(t, api.IsPermissionDenied(results[1].Error))
	require.True(t, api.IsNotFound(results[2].Error))
	require.NotEmpty(t, results[2].Message)
}

func testBufferedWrites(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_SEQUENTIAL, "alice", "bob")
	ch := NewChanges(f.store)
	reqs, err := f.coordinator.CreateRequests(ch, step, "vendor")
	require.NoError(t, err)
	stored, err := f.store.ListRequestsByStep(ctx, step.Id)
	require.NoError(t, err)
	require.Empty(t, stored)
	require.NoError(t, ch.Flush(ctx))

	ch = NewChanges(f.store)
	v, err := f.coordinator.Respond(ctx, ch, reqs[0].Id, "alice", model.DECISION_APPROVE, "")
	require.NoError(t, err)
	require.False(t, v.Decided)
	require.Equal(t, 2, ch.Len())

	buffered, err := ch.ByStep(ctx, step.Id)
	require.NoError(t, err)
	require.Len(t, buffered, 2)
	require.Equal(t, model.REQUEST_APPROVED, buffered[0].Status)
	require.Equal(t, "bob", buffered[1].Approver)

	// dropped without a flush, as when the instance save conflicts
	stored, err = f.store.ListRequestsByStep(ctx, step.Id)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, model.REQUEST_PENDING, stored[0].Status)

	v, err = f.respond(ctx, reqs[0].Id, "alice", model.DECISION_APPROVE, "retry")
	require.NoError(t, err)
	require.Equal(t, "retry", v.Request.Comments)
	stored, err = f.store.ListRequestsByStep(ctx, step.Id)
	require.NoError(t, err)
	require.Len(t, stored, 2)
}

func testReminders(t *testing.T, f *fixture) {
	ctx := context.Background()
	step := f.step(t, model.APPROVAL_ANY, "alice")
	_, err := f.createRequests(ctx, step, "vendor")
	require.NoError(t, err)

	sent, err := f.coordinator.SendReminders(ctx, time.Hour, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, sent)

	f.clock.Advance(23 * time.Hour)
	sent, err = f.coordinator.SendReminders(ctx, 2*time.Hour, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, sent)

	sent, err = f.coordinator.SendReminders(ctx, 2*time.Hour, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 0, sent)

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Hour)
		_, err = f.coordinator.SendReminders(ctx, 2*time.Hour, time.Hour)
		require.NoError(t, err)
	}
	require.Len(t, f.executor.calls, 2)
	require.Equal(t, "alice", f.executor.calls[0]["to"])
}

func testRoles(t *testing.T, f *fixture) {
	ctx := context.Background()
	users, err := f.coordinator.ResolveApprovers(ctx, &model.StepDefinition{ApproverRole: "risk_committee"}, model.EntityRef{})
	require.NoError(t, err)
	require.Equal(t, []string{"dana", "erin"}, users)

	users, err = f.coordinator.ResolveApprovers(ctx, &model.StepDefinition{ApproverRole: "risk_committee", Approvers: []string{"zoe"}}, model.EntityRef{})
	require.NoError(t, err)
	require.Equal(t, []string{"zoe"}, users)
}
