package persistence

import (
	"context"
	"sort"
	"time"

	"github.com/mohitkumar/grcflow/model"
)

const STORAGE_MEMORY = "memory"
const STORAGE_REDIS = "redis"

type TemplateStorage interface {
	// SaveTemplate stores a template under its (code, version) pair.
	SaveTemplate(ctx context.Context, tmpl *model.WorkflowTemplate) error
	// GetTemplate returns the given version, or the latest one when version is 0.
	GetTemplate(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error)
	// ListTemplates returns the latest version of every template code.
	ListTemplates(ctx context.Context) ([]*model.WorkflowTemplate, error)
}

type InstanceStore interface {
	CreateInstance(ctx context.Context, inst *model.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	// UpdateInstance fails with a ConflictError when inst.Version does not match
	// the stored version. On success inst.Version is incremented.
	UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error
	// FindOverdue returns active, not yet breached instances whose sla_due_at is before now.
	FindOverdue(ctx context.Context, now time.Time, limit int) ([]*model.WorkflowInstance, error)
	// ListActive pages through active instances, oldest first, skipping offset of them.
	ListActive(ctx context.Context, offset int, limit int) ([]*model.WorkflowInstance, error)
}

type StepStore interface {
	CreateSteps(ctx context.Context, steps []*model.StepExecution) error
	GetStep(ctx context.Context, id string) (*model.StepExecution, error)
	UpdateStep(ctx context.Context, step *model.StepExecution) error
	// ListSteps returns the steps of an instance ordered by step number and path.
	ListSteps(ctx context.Context, instanceId string) ([]*model.StepExecution, error)
}

type ApprovalStore interface {
	CreateRequest(ctx context.Context, req *model.ApprovalRequest) error
	GetRequest(ctx context.Context, id string) (*model.ApprovalRequest, error)
	UpdateRequest(ctx context.Context, req *model.ApprovalRequest) error
	// ListRequestsByStep returns requests ordered by sequence.
	ListRequestsByStep(ctx context.Context, stepId string) ([]*model.ApprovalRequest, error)
	ListRequestsByInstance(ctx context.Context, instanceId string) ([]*model.ApprovalRequest, error)
	// FindPendingDueBefore returns pending requests with a due date before t.
	FindPendingDueBefore(ctx context.Context, t time.Time, limit int) ([]*model.ApprovalRequest, error)
}

type EscalationLogStore interface {
	AppendLog(ctx context.Context, log *model.EscalationLog) error
	// ListLogs returns an instance's escalation history, oldest first.
	ListLogs(ctx context.Context, instanceId string) ([]*model.EscalationLog, error)
}

type DelegationStore interface {
	SaveDelegation(ctx context.Context, d *model.UserDelegation) error
	GetDelegation(ctx context.Context, id string) (*model.UserDelegation, error)
	ListDelegations(ctx context.Context, delegator string) ([]*model.UserDelegation, error)
}

type SLAStore interface {
	SaveConfig(ctx context.Context, cfg *model.SLAConfiguration) error
	FindConfig(ctx context.Context, entityType string, priority model.Priority) (*model.SLAConfiguration, error)
	SaveTracking(ctx context.Context, tracking *model.SLATracking) error
	GetTracking(ctx context.Context, instanceId string) (*model.SLATracking, error)
	// ListDueTrackings returns pending trackings whose next flip is before now, earliest first.
	ListDueTrackings(ctx context.Context, now time.Time, limit int) ([]*model.SLATracking, error)
}

// Repository groups the stores the engine reads and writes.
type Repository struct {
	Templates   TemplateStorage
	Instances   InstanceStore
	Steps       StepStore
	Approvals   ApprovalStore
	Escalations EscalationLogStore
	Delegations DelegationStore
	SLA         SLAStore
}

func SLAConfigKey(entityType string, priority model.Priority) string {
	return entityType + ":" + string(priority)
}

func SortSteps(steps []*model.StepExecution) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].StepNumber != steps[j].StepNumber {
			return steps[i].StepNumber < steps[j].StepNumber
		}
		return steps[i].Path < steps[j].Path
	})
}

func SortRequests(reqs []*model.ApprovalRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].Sequence < reqs[j].Sequence
	})
}
