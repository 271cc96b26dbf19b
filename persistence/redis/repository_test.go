package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/stretchr/testify/require"
)

func TestRedisRepository(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, repo *persistence.Repository,
	){
		"template versions":          testTemplateVersions,
		"optimistic instance update": testOptimisticUpdate,
		"overdue index":              testOverdueIndex,
		"pending request index":      testPendingRequests,
		"steps and logs":             testStepsAndLogs,
		"due sla trackings":          testDueTrackings,
	} {
		t.Run(scenario, func(t *testing.T) {
			client := NewClient(Config{
				Addrs:     []string{"localhost:6379"},
				Namespace: "grcflow-test-" + uuid.NewString(),
			})
			ctx := context.Background()
			if err := client.Ping(ctx); err != nil {
				t.Skipf("redis not reachable: %v", err)
			}
			defer func() {
				require.NoError(t, client.FlushNamespace(ctx))
				client.Close()
			}()
			fn(t, client.Repository())
		})
	}
}

func testTemplateVersions(t *testing.T, repo *persistence.Repository) {
	ctx := context.Background()
	require.NoError(t, repo.Templates.SaveTemplate(ctx, &model.WorkflowTemplate{Code: "vendor", Name: "v1", Version: 1}))
	require.NoError(t, repo.Templates.SaveTemplate(ctx, &model.WorkflowTemplate{Code: "vendor", Name: "v2", Version: 2}))

	latest, err := repo.Templates.GetTemplate(ctx, "vendor", 0)
	require.NoError(t, err)
	require.Equal(t, "v2", latest.Name)

	first, err := repo.Templates.GetTemplate(ctx, "vendor", 1)
	require.NoError(t, err)
	require.Equal(t, "v1", first.Name)

	_, err = repo.Templates.GetTemplate(ctx, "missing", 0)
	require.True(t, api.IsNotFound(err))

	all, err := repo.Templates.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func testOptimisticUpdate(t *testing.T, repo *persistence.Repository) {
	ctx := context.Background()
	inst := &model.WorkflowInstance{Id: uuid.NewString(), Status: model.INSTANCE_IN_PROGRESS, StartedAt: time.Now()}
	require.NoError(t, repo.Instances.CreateInstance(ctx, inst))

	stale := *inst
	inst.CurrentStep = 1
	require.NoError(t, repo.Instances.UpdateInstance(ctx, inst))
	require.Equal(t, int64(1), inst.Version)

	stale.CurrentStep = 5
	err := repo.Instances.UpdateInstance(ctx, &stale)
	require.True(t, api.IsConflict(err))

	got, err := repo.Instances.GetInstance(ctx, inst.Id)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentStep)
}

func testOverdueIndex(t *testing.T, repo *persistence.Repository) {
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	overdue := &model.WorkflowInstance{Id: uuid.NewString(), Status: model.INSTANCE_AWAITING_APPROVAL, SLADueAt: &past, StartedAt: now}
	onTime := &model.WorkflowInstance{Id: uuid.NewString(), Status: model.INSTANCE_AWAITING_APPROVAL, SLADueAt: &future, StartedAt: now}
	require.NoError(t, repo.Instances.CreateInstance(ctx, overdue))
	require.NoError(t, repo.Instances.CreateInstance(ctx, onTime))

	found, err := repo.Instances.FindOverdue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, overdue.Id, found[0].Id)

	overdue.SLABreached = true
	require.NoError(t, repo.Instances.UpdateInstance(ctx, overdue))
	found, err = repo.Instances.FindOverdue(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, found)

	active, err := repo.Instances.ListActive(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, active, 2)
	active, err = repo.Instances.ListActive(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func testDueTrackings(t *testing.T, repo *persistence.Repository) {
	ctx := context.Background()
	now := time.Now().UTC()
	warnAt := now.Add(-2 * time.Hour)
	fresh := &model.SLATracking{InstanceId: uuid.NewString(), WarningAt: &warnAt, ResolutionDue: now.Add(-time.Hour)}
	require.NoError(t, repo.SLA.SaveTracking(ctx, fresh))

	due, err := repo.SLA.ListDueTrackings(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	fresh.WarningSent = true
	fresh.IsBreached = true
	require.NoError(t, repo.SLA.SaveTracking(ctx, fresh))
	due, err = repo.SLA.ListDueTrackings(ctx, now, 10)
	require.NoError(t, err)
	require.Empty(t, due)

	stored, err := repo.SLA.GetTracking(ctx, fresh.InstanceId)
	require.NoError(t, err)
	require.True(t, stored.IsBreached)
}

func testPendingRequests(t *testing.T, repo *persistence.Repository) {
	ctx := context.Background()
	now := time.Now().UTC()
	due := now.Add(30 * time.Minute)
	req := &model.ApprovalRequest{Id: uuid.NewString(), StepId: "s1", InstanceId: "i1", Approver: "alice", Status: model.REQUEST_PENDING, DueAt: &due, CreatedAt: now}
	require.NoError(t, repo.Approvals.CreateRequest(ctx, req))

	pending, err := repo.Approvals.FindPendingDueBefore(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	req.Status = model.REQUEST_APPROVED
	require.NoError(t, repo.Approvals.UpdateRequest(ctx, req))
	pending, err = repo.Approvals.FindPendingDueBefore(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, pending)

	byStep, err := repo.Approvals.ListRequestsByStep(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, byStep, 1)
	require.Equal(t, model.REQUEST_APPROVED, byStep[0].Status)
}

func testStepsAndLogs(t *testing.T, repo *persistence.Repository) {
	ctx := context.Background()
	steps := []*model.StepExecution{
		{Id: uuid.NewString(), InstanceId: "i1", StepNumber: 1, Path: "1", Status: model.STEP_PENDING},
		{Id: uuid.NewString(), InstanceId: "i1", StepNumber: 0, Path: "0", Status: model.STEP_STARTED},
	}
	require.NoError(t, repo.Steps.CreateSteps(ctx, steps))
	list, err := repo.Steps.ListSteps(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 0, list[0].StepNumber)

	steps[0].Status = model.STEP_COMPLETED
	require.NoError(t, repo.Steps.UpdateStep(ctx, steps[0]))
	got, err := repo.Steps.GetStep(ctx, steps[0].Id)
	require.NoError(t, err)
	require.Equal(t, model.STEP_COMPLETED, got.Status)

	require.NoError(t, repo.Escalations.AppendLog(ctx, &model.EscalationLog{Id: "l1", InstanceId: "i1", Level: 1}))
	require.NoError(t, repo.Escalations.AppendLog(ctx, &model.EscalationLog{Id: "l2", InstanceId: "i1", Level: 2}))
	logs, err := repo.Escalations.ListLogs(ctx, "i1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, 2, logs[1].Level)
}
