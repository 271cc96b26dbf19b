package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/grcflow/action"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/approval"
	"github.com/mohitkumar/grcflow/escalation"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/sla"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const SYSTEM_ACTOR = "system"
const DEFAULT_POST_ACTION_QUEUE = 1024

// Templates resolves workflow templates, the latest active one for new
// instances and a pinned version for running ones.
type Templates interface {
	Get(ctx context.Context, code string) (*model.WorkflowTemplate, error)
	GetVersion(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error)
}

// Observer is told about transitions after they have been persisted.
type Observer interface {
	InstanceStarted(inst *model.WorkflowInstance)
	StepFinished(inst *model.WorkflowInstance, step *model.StepExecution)
	InstanceFinished(inst *model.WorkflowInstance)
	ActionFailed(inst *model.WorkflowInstance, kind model.ActionKind, err error)
}

type Options struct {
	Repository  *persistence.Repository
	Templates   Templates
	Approvals   *approval.Coordinator
	Escalations *escalation.Manager
	SLA         *sla.Tracker
	Executor    action.Executor
	Clock       util.Clock
	Locks       *util.KeyedMutex
	Observers   []Observer
	QueueSize   int
}

type Engine struct {
	instances   persistence.InstanceStore
	steps       persistence.StepStore
	requests    persistence.ApprovalStore
	templates   Templates
	approvals   *approval.Coordinator
	escalations *escalation.Manager
	sla         *sla.Tracker
	executor    action.Executor
	clock       util.Clock
	locks       *util.KeyedMutex
	observers   []Observer
	handlers    map[model.StepType]stepHandler
	postActions *util.Worker
	wg          *sync.WaitGroup
}

func NewEngine(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = util.NewSystemClock()
	}
	if opts.Locks == nil {
		opts.Locks = util.NewKeyedMutex(0)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DEFAULT_POST_ACTION_QUEUE
	}
	e := &Engine{
		instances:   opts.Repository.Instances,
		steps:       opts.Repository.Steps,
		requests:    opts.Repository.Approvals,
		templates:   opts.Templates,
		approvals:   opts.Approvals,
		escalations: opts.Escalations,
		sla:         opts.SLA,
		executor:    opts.Executor,
		clock:       opts.Clock,
		locks:       opts.Locks,
		observers:   opts.Observers,
		wg:          &sync.WaitGroup{},
	}
	e.handlers = map[model.StepType]stepHandler{
		model.STEP_APPROVAL:     e.handleApproval,
		model.STEP_TASK:         e.handleTask,
		model.STEP_NOTIFICATION: e.handleImmediate(model.OUTCOME_COMPLETED),
		model.STEP_AUTOMATIC:    e.handleImmediate(model.OUTCOME_COMPLETED),
		model.STEP_CONDITIONAL:  e.handleImmediate(model.OUTCOME_CONDITION_MET),
		model.STEP_PARALLEL:     e.handleParallel,
	}
	e.postActions = util.NewWorker("post-actions", e.wg, e.runPostAction, opts.QueueSize)
	return e
}

// StartWorkers starts the queue that runs on_complete and on_reject actions.
func (e *Engine) StartWorkers() {
	e.postActions.Start()
}

func (e *Engine) Stop() {
	e.postActions.Stop()
	e.wg.Wait()
}

type StartResult struct {
	InstanceId      string               `json:"instance_id"`
	CurrentStepName string               `json:"current_step_name"`
	Status          model.InstanceStatus `json:"status"`
}

// Start creates an instance of the latest version of a template and runs it
// up to its first waiting step. A "priority" key in attrs sets the initial priority.
func (e *Engine) Start(ctx context.Context, templateCode string, entityType string, entityId string, initiator string, attrs map[string]any) (*StartResult, error) {
	tmpl, err := e.templates.Get(ctx, templateCode)
	if err != nil {
		return nil, err
	}
	if len(entityType) == 0 || len(entityId) == 0 {
		return nil, api.Invalidf("entity", "entity type and id are required")
	}
	if attrs == nil {
		attrs = make(map[string]any)
	}
	priority := model.PRIORITY_MEDIUM
	if p, ok := attrs["priority"].(string); ok && slices.Contains(model.PRIORITY_ORDER, model.Priority(p)) {
		priority = model.Priority(p)
	}

	now := e.clock.Now()
	inst := &model.WorkflowInstance{
		Id:              uuid.NewString(),
		TemplateCode:    tmpl.Code,
		TemplateVersion: tmpl.Version,
		EntityType:      entityType,
		EntityId:        entityId,
		Status:          model.INSTANCE_PENDING,
		Priority:        priority,
		InitiatedBy:     initiator,
		Context:         attrs,
		StartedAt:       now,
		UpdatedAt:       now,
	}
	unlock := e.locks.Lock(inst.Id)
	defer unlock()

	r := newRun(inst, tmpl, e.requests)
	r.fresh = true
	if err := e.computeSLA(ctx, r); err != nil {
		return nil, err
	}
	for _, step := range NewStepExecutions(inst, tmpl, now) {
		r.add(step)
	}
	// tracking follows the priority the instance started with
	started := *inst
	r.after(func() {
		if _, err := e.sla.Begin(ctx, &started); err != nil {
			logger.Error("error creating sla tracking", zap.String("instance", inst.Id), zap.Error(err))
		}
		logger.Info("workflow started", zap.String("template", tmpl.Code), zap.Int("version", tmpl.Version),
			zap.String("instance", inst.Id), zap.String("entity", entityType+"/"+entityId))
		for _, o := range e.observers {
			o.InstanceStarted(inst)
		}
	})

	inst.Status = model.INSTANCE_IN_PROGRESS
	if err := e.processCurrentStep(ctx, r); err != nil {
		return nil, err
	}
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	return &StartResult{InstanceId: inst.Id, CurrentStepName: r.currentStepName(), Status: inst.Status}, nil
}

// NewStepExecutions builds one record per top-level step of tmpl. The first
// is STARTED, the rest PENDING.
func NewStepExecutions(inst *model.WorkflowInstance, tmpl *model.WorkflowTemplate, now time.Time) []*model.StepExecution {
	steps := make([]*model.StepExecution, 0, len(tmpl.Steps))
	for i := range tmpl.Steps {
		def := &tmpl.Steps[i]
		step := newStepExecution(inst, tmpl, def, nil, i)
		if i == 0 {
			step.Status = model.STEP_STARTED
			step.StartedAt = &now
		}
		steps = append(steps, step)
	}
	return steps
}

func (e *Engine) computeSLA(ctx context.Context, r *run) error {
	if r.tmpl.SLAHours <= 0 {
		return nil
	}
	cfg, err := r.slaConfig(ctx, e.sla)
	if err != nil {
		return err
	}
	start := r.inst.StartedAt
	due := sla.DueTime(start, r.tmpl.SLAHours, cfg)
	r.inst.SLADueAt = &due
	switch {
	case r.tmpl.SLAWarningHours > 0:
		warn := sla.DueTime(start, r.tmpl.SLAWarningHours, cfg)
		r.inst.SLAWarningAt = &warn
	case cfg != nil && cfg.WarningThresholdPercent > 0:
		warn := sla.DueTime(start, r.tmpl.SLAHours*cfg.WarningThresholdPercent/100, cfg)
		r.inst.SLAWarningAt = &warn
	}
	return nil
}

// lockInstance loads an instance with its template and steps under the
// instance lock. The returned func releases the lock.
func (e *Engine) lockInstance(ctx context.Context, instanceId string) (*run, func(), error) {
	unlock := e.locks.Lock(instanceId)
	inst, err := e.instances.GetInstance(ctx, instanceId)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	tmpl, err := e.templates.GetVersion(ctx, inst.TemplateCode, inst.TemplateVersion)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	steps, err := e.steps.ListSteps(ctx, instanceId)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	r := newRun(inst, tmpl, e.requests)
	r.load(steps)
	return r, unlock, nil
}

// save persists everything the run touched, then fires its deferred effects.
// The instance is written first, so a version conflict leaves the steps and
// requests of the failed transition unwritten.
func (e *Engine) save(ctx context.Context, r *run) error {
	refreshStatus(r)
	r.inst.UpdatedAt = e.clock.Now()
	if r.fresh {
		if err := e.instances.CreateInstance(ctx, r.inst); err != nil {
			return err
		}
		r.fresh = false
	} else if err := e.instances.UpdateInstance(ctx, r.inst); err != nil {
		return err
	}
	if len(r.created) > 0 {
		if err := e.steps.CreateSteps(ctx, r.created); err != nil {
			return err
		}
	}
	for _, id := range r.dirtyOrder {
		if r.isCreated(id) {
			continue
		}
		if err := e.steps.UpdateStep(ctx, r.byId[id]); err != nil {
			return err
		}
	}
	if err := r.requests.Flush(ctx); err != nil {
		return err
	}
	r.created = nil
	r.dirtyOrder = nil
	r.dirty = make(map[string]bool)
	for _, fn := range r.effects {
		fn()
	}
	r.effects = nil
	return nil
}

func (e *Engine) GetInstance(ctx context.Context, instanceId string) (*model.WorkflowInstance, error) {
	return e.instances.GetInstance(ctx, instanceId)
}

func (e *Engine) ListSteps(ctx context.Context, instanceId string) ([]*model.StepExecution, error) {
	if _, err := e.instances.GetInstance(ctx, instanceId); err != nil {
		return nil, err
	}
	return e.steps.ListSteps(ctx, instanceId)
}

func (e *Engine) ListRequests(ctx context.Context, instanceId string) ([]*model.ApprovalRequest, error) {
	if _, err := e.instances.GetInstance(ctx, instanceId); err != nil {
		return nil, err
	}
	return e.requests.ListRequestsByInstance(ctx, instanceId)
}

func (e *Engine) GetRequest(ctx context.Context, requestId string) (*model.ApprovalRequest, error) {
	return e.requests.GetRequest(ctx, requestId)
}

func (e *Engine) EscalationHistory(ctx context.Context, instanceId string) ([]*model.EscalationLog, error) {
	if _, err := e.instances.GetInstance(ctx, instanceId); err != nil {
		return nil, err
	}
	return e.escalations.History(ctx, instanceId)
}
