package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/grcflow/action"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/persistence/memory"
	"github.com/mohitkumar/grcflow/util"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

type templates map[string]*model.WorkflowTemplate

func (t templates) GetVersion(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error) {
	tmpl, ok := t[code]
	if !ok {
		return nil, api.NotFoundError{Kind: "template", Id: code}
	}
	return tmpl, nil
}

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

type countingRecorder struct {
	logs []*model.EscalationLog
}

func (c *countingRecorder) RecordEscalation(log *model.EscalationLog) {
	c.logs = append(c.logs, log)
}

type fixture struct {
	store    *memory.Store
	clock    *util.FakeClock
	executor *fakeExecutor
	recorder *countingRecorder
	manager  *Manager
}

func newFixture(rules ...model.EscalationRule) *fixture {
	store := memory.NewStore()
	repo := &persistence.Repository{
		Templates:   store,
		Instances:   store,
		Steps:       store,
		Approvals:   store,
		Escalations: store,
		Delegations: store,
		SLA:         store,
	}
	tmpls := templates{"VENDOR_REVIEW": {Code: "VENDOR_REVIEW", Version: 1, EscalationRules: rules}}
	clock := util.NewFakeClock(base)
	exec := &fakeExecutor{}
	rec := &countingRecorder{}
	return &fixture{
		store:    store,
		clock:    clock,
		executor: exec,
		recorder: rec,
		manager:  NewManager(repo, tmpls, exec, clock, util.NewKeyedMutex(8), 100, rec),
	}
}

func (f *fixture) instance(t *testing.T, id string, dueIn time.Duration) *model.WorkflowInstance {
	due := base.Add(dueIn)
	inst := &model.WorkflowInstance{
		Id:              id,
		TemplateCode:    "VENDOR_REVIEW",
		TemplateVersion: 1,
		EntityType:      "vendor",
		EntityId:        "v-" + id,
		Status:          model.INSTANCE_AWAITING_APPROVAL,
		CurrentStep:     1,
		Priority:        model.PRIORITY_MEDIUM,
		InitiatedBy:     "alice",
		SLADueAt:        &due,
		Context:         map[string]any{"risk_score": 80},
		StartedAt:       base,
		UpdatedAt:       base,
	}
	ctx := context.Background()
	require.NoError(t, f.store.CreateInstance(ctx, inst))
	require.NoError(t, f.store.CreateSteps(ctx, []*model.StepExecution{{
		Id:         id + "-s1",
		InstanceId: id,
		StepNumber: 1,
		StepName:   "review",
		StepType:   model.STEP_APPROVAL,
		Status:     model.STEP_AWAITING_APPROVAL,
	}}))
	return inst
}

func TestManager(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"breach escalates exactly once":        testBreachOnce,
		"breach applies matching rule":         testBreachRule,
		"terminal instances are skipped":       testTerminalSkipped,
		"time elapsed rule fires once":         testTimeElapsed,
		"no response rule names the approver":  testNoResponse,
		"manual escalation raises priority":    testManual,
		"manual escalation of terminal fails":  testManualTerminal,
		"manual escalation validates priority": testManualInvalidPriority,
		"rejection rule":                       testRejection,
		"sweep reaches every active instance":  testActiveRotation,
	} {
		t.Run(scenario, fn)
	}
}

func testBreachOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.instance(t, "i1", 2*time.Hour)
	f.instance(t, "i2", 10*time.Hour)

	f.clock.Advance(3 * time.Hour)
	events, err := f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "i1", events[0].InstanceId)
	require.Equal(t, "review", events[0].StepName)
	require.Equal(t, 1, events[0].Level)
	require.InDelta(t, 1.0, events[0].HoursOverdue, 0.001)
	require.Equal(t, RECOMMEND_SEND_REMINDER, events[0].RecommendedAction)

	inst, err := f.store.GetInstance(ctx, "i1")
	require.NoError(t, err)
	require.True(t, inst.SLABreached)
	require.True(t, inst.Escalated)
	require.Equal(t, 1, inst.EscalationLevel)
	require.Equal(t, model.PRIORITY_HIGH, inst.Priority)

	f.clock.Advance(time.Hour)
	events, err = f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Empty(t, events)

	logs, err := f.manager.History(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, model.TRIGGER_SLA_BREACH, logs[0].Trigger)
	require.Len(t, f.recorder.logs, 1)
}

func testBreachRule(t *testing.T) {
	f := newFixture(
		model.EscalationRule{
			Name:             "low risk",
			Trigger:          model.TRIGGER_SLA_BREACH,
			Condition:        model.Condition{"field": "risk_score", "operator": "less_than", "value": 50},
			PriorityOverride: model.PRIORITY_LOW,
		},
		model.EscalationRule{
			Name:             "high risk",
			Trigger:          model.TRIGGER_SLA_BREACH,
			Condition:        model.Condition{"field": "risk_score", "operator": "greater_than", "value": 50},
			EscalateToRole:   "ciso",
			PriorityOverride: model.PRIORITY_CRITICAL,
			Notify:           true,
		},
	)
	ctx := context.Background()
	f.instance(t, "i1", time.Hour)
	f.clock.Advance(2 * time.Hour)

	events, err := f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "high risk", events[0].Log.Rule)
	require.Equal(t, "ciso", events[0].Log.ToRole)
	require.Equal(t, model.PRIORITY_CRITICAL, events[0].Log.NewPriority)
	require.Equal(t, model.PRIORITY_MEDIUM, events[0].Log.PreviousPriority)
	require.Equal(t, RECOMMEND_REASSIGN, events[0].RecommendedAction)
	require.Len(t, f.executor.calls, 1)
	require.Equal(t, "ciso", f.executor.calls[0]["to"])
}

func testTerminalSkipped(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inst := f.instance(t, "i1", time.Hour)
	inst.Status = model.INSTANCE_COMPLETED
	require.NoError(t, f.store.UpdateInstance(ctx, inst))

	f.clock.Advance(5 * time.Hour)
	events, err := f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Empty(t, events)
}

func testTimeElapsed(t *testing.T) {
	f := newFixture(model.EscalationRule{
		Name:           "two days open",
		Trigger:        model.TRIGGER_TIME_ELAPSED,
		TriggerValue:   2,
		TriggerUnit:    model.UNIT_DAYS,
		EscalateToUser: "head_of_risk",
	})
	ctx := context.Background()
	f.instance(t, "i1", 100*time.Hour)

	f.clock.Advance(47 * time.Hour)
	events, err := f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Empty(t, events)

	f.clock.Advance(2 * time.Hour)
	events, err = f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, model.TRIGGER_TIME_ELAPSED, events[0].Trigger)
	require.Equal(t, "head_of_risk", events[0].Log.ToActor)

	f.clock.Advance(2 * time.Hour)
	events, err = f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Empty(t, events)
}

func testNoResponse(t *testing.T) {
	f := newFixture(model.EscalationRule{
		Name:         "silent approver",
		Trigger:      model.TRIGGER_NO_RESPONSE,
		TriggerValue: 30,
		TriggerUnit:  model.UNIT_MINUTES,
	})
	ctx := context.Background()
	f.instance(t, "i1", 100*time.Hour)
	require.NoError(t, f.store.CreateRequest(ctx, &model.ApprovalRequest{
		Id:         "r1",
		StepId:     "i1-s1",
		InstanceId: "i1",
		Approver:   "bob",
		Status:     model.REQUEST_PENDING,
		CreatedAt:  base,
	}))

	f.clock.Advance(31 * time.Minute)
	events, err := f.manager.CheckEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "bob", events[0].Log.FromActor)
}

func testManual(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	inst := f.instance(t, "i1", time.Hour)

	log, err := f.manager.Escalate(ctx, inst, "carol", "vendor unresponsive", "")
	require.NoError(t, err)
	require.Equal(t, model.TRIGGER_MANUAL, log.Trigger)
	require.Equal(t, "carol", log.FromActor)
	require.Equal(t, model.PRIORITY_HIGH, log.NewPriority)

	log, err = f.manager.Escalate(ctx, inst, "carol", "still nothing", model.PRIORITY_CRITICAL)
	require.NoError(t, err)
	require.Equal(t, 2, log.Level)

	stored, err := f.store.GetInstance(ctx, "i1")
	require.NoError(t, err)
	require.Equal(t, model.PRIORITY_CRITICAL, stored.Priority)
	require.Equal(t, 2, stored.EscalationLevel)
	require.Equal(t, model.INSTANCE_AWAITING_APPROVAL, stored.Status)
}

func testManualTerminal(t *testing.T) {
	f := newFixture()
	inst := f.instance(t, "i1", time.Hour)
	inst.Status = model.INSTANCE_REJECTED

	_, err := f.manager.Escalate(context.Background(), inst, "carol", "late", "")
	require.True(t, api.IsConflict(err))
}

func testManualInvalidPriority(t *testing.T) {
	f := newFixture()
	inst := f.instance(t, "i1", time.Hour)

	_, err := f.manager.Escalate(context.Background(), inst, "carol", "late", "urgent")
	require.True(t, api.IsValidation(err))
}

func testRejection(t *testing.T) {
	f := newFixture(model.EscalationRule{Name: "notify owner", Trigger: model.TRIGGER_REJECTION, EscalateToUser: "owner", Notify: true})
	ctx := context.Background()
	inst := f.instance(t, "i1", time.Hour)
	inst.Status = model.INSTANCE_REJECTED

	staged, err := f.manager.StageRejection(ctx, inst, "review", "bob", "missing soc2 report")
	require.NoError(t, err)
	require.NotNil(t, staged)
	require.Equal(t, "owner", staged.Log.ToActor)
	require.Equal(t, "review", staged.Log.StepName)
	require.Equal(t, 1, inst.EscalationLevel)

	logs, err := f.manager.History(ctx, "i1")
	require.NoError(t, err)
	require.Empty(t, logs)
	require.Empty(t, f.executor.calls)

	require.NoError(t, f.manager.Commit(ctx, inst, staged))
	logs, err = f.manager.History(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Len(t, f.executor.calls, 1)
	require.Len(t, f.recorder.logs, 1)

	g := newFixture()
	staged, err = g.manager.StageRejection(ctx, g.instance(t, "i2", time.Hour), "review", "bob", "no")
	require.NoError(t, err)
	require.Nil(t, staged)
}

func testActiveRotation(t *testing.T) {
	f := newFixture(model.EscalationRule{
		Name:         "one day open",
		Trigger:      model.TRIGGER_TIME_ELAPSED,
		TriggerValue: 1,
		TriggerUnit:  model.UNIT_DAYS,
	})
	f.manager.batchSize = 1
	ctx := context.Background()
	f.instance(t, "old", 100*time.Hour)
	f.clock.Advance(time.Minute)
	late := f.instance(t, "new", 100*time.Hour)
	late.StartedAt = f.clock.Now()
	require.NoError(t, f.store.UpdateInstance(ctx, late))

	f.clock.Advance(25 * time.Hour)
	fired := make(map[string]int)
	for i := 0; i < 4; i++ {
		events, err := f.manager.CheckEscalations(ctx)
		require.NoError(t, err)
		for _, e := range events {
			fired[e.InstanceId]++
		}
	}
	require.Equal(t, map[string]int{"old": 1, "new": 1}, fired)

	for _, id := range []string{"old", "new"} {
		logs, err := f.manager.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		require.Equal(t, "one day open", logs[0].Rule)
	}
}
