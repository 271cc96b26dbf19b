package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/grcflow/action"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// TemplateSource looks up the template version an instance runs.
type TemplateSource interface {
	GetVersion(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error)
}

// Recorder observes every persisted escalation.
type Recorder interface {
	RecordEscalation(log *model.EscalationLog)
}

type EscalationEvent struct {
	InstanceId        string
	TemplateCode      string
	StepName          string
	Trigger           model.EscalationTrigger
	Level             int
	HoursOverdue      float64
	RecommendedAction string
	Log               *model.EscalationLog
}

type Manager struct {
	instances persistence.InstanceStore
	steps     persistence.StepStore
	requests  persistence.ApprovalStore
	logs      persistence.EscalationLogStore
	templates TemplateSource
	executor  action.Executor
	clock     util.Clock
	locks     *util.KeyedMutex
	recorders []Recorder
	batchSize int

	mu           sync.Mutex
	activeOffset int
}

func NewManager(repo *persistence.Repository, templates TemplateSource, executor action.Executor, clock util.Clock,
	locks *util.KeyedMutex, batchSize int, recorders ...Recorder) *Manager {
	return &Manager{
		instances: repo.Instances,
		steps:     repo.Steps,
		requests:  repo.Approvals,
		logs:      repo.Escalations,
		templates: templates,
		executor:  executor,
		clock:     clock,
		locks:     locks,
		recorders: recorders,
		batchSize: batchSize,
	}
}

// CheckEscalations flags every overdue active instance as breached and logs
// one escalation for it, then fires time_elapsed and no_response rules. An
// error on one instance is collected and the remaining ones are processed.
func (m *Manager) CheckEscalations(ctx context.Context) ([]EscalationEvent, error) {
	now := m.clock.Now()
	events := make([]EscalationEvent, 0)
	var errs error

	overdue, err := m.instances.FindOverdue(ctx, now, m.batchSize)
	if err != nil {
		return nil, err
	}
	for _, candidate := range overdue {
		event, err := m.breach(ctx, candidate.Id, now)
		if err != nil {
			logger.Error("error escalating overdue instance", zap.String("instance", candidate.Id), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("instance %s: %w", candidate.Id, err))
			continue
		}
		if event != nil {
			events = append(events, *event)
		}
	}

	active, err := m.nextActivePage(ctx)
	if err != nil {
		return events, multierr.Append(errs, err)
	}
	for _, candidate := range active {
		fired, err := m.applyTimedRules(ctx, candidate.Id, now)
		if err != nil {
			logger.Error("error applying escalation rules", zap.String("instance", candidate.Id), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("instance %s: %w", candidate.Id, err))
			continue
		}
		events = append(events, fired...)
	}
	return events, errs
}

// nextActivePage walks the active set one batch per sweep. A short page means
// the end was reached and the next sweep starts over from the oldest.
func (m *Manager) nextActivePage(ctx context.Context) ([]*model.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page, err := m.instances.ListActive(ctx, m.activeOffset, m.batchSize)
	if err != nil {
		return nil, err
	}
	if len(page) == 0 && m.activeOffset > 0 {
		m.activeOffset = 0
		if page, err = m.instances.ListActive(ctx, 0, m.batchSize); err != nil {
			return nil, err
		}
	}
	m.activeOffset += len(page)
	if m.batchSize <= 0 || len(page) < m.batchSize {
		m.activeOffset = 0
	}
	return page, nil
}

func (m *Manager) breach(ctx context.Context, instanceId string, now time.Time) (*EscalationEvent, error) {
	unlock := m.locks.Lock(instanceId)
	defer unlock()
	inst, err := m.instances.GetInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	// re-check under the lock, another sweep or a response may have won
	if !inst.Status.IsActive() || inst.SLABreached || inst.SLADueAt == nil || !inst.SLADueAt.Before(now) {
		return nil, nil
	}
	tmpl, err := m.templates.GetVersion(ctx, inst.TemplateCode, inst.TemplateVersion)
	if err != nil {
		return nil, err
	}
	overdue := now.Sub(*inst.SLADueAt)
	hoursOverdue := overdue.Hours()
	rule := FirstMatch(tmpl.EscalationRules, model.TRIGGER_SLA_BREACH, overdue, inst.Context)

	stepName, err := m.currentStepName(ctx, inst)
	if err != nil {
		return nil, err
	}

	inst.SLABreached = true
	log := m.apply(inst, rule, stepName, model.TRIGGER_SLA_BREACH, "", "", fmt.Sprintf("sla overdue by %.1f hours", hoursOverdue))
	log.HoursOverdue = hoursOverdue
	log.RecommendedAction = Recommend(rule, hoursOverdue)
	if err := m.persist(ctx, inst, log, rule); err != nil {
		return nil, err
	}
	return toEvent(inst, log), nil
}

func (m *Manager) applyTimedRules(ctx context.Context, instanceId string, now time.Time) ([]EscalationEvent, error) {
	unlock := m.locks.Lock(instanceId)
	defer unlock()
	inst, err := m.instances.GetInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	if !inst.Status.IsActive() {
		return nil, nil
	}
	tmpl, err := m.templates.GetVersion(ctx, inst.TemplateCode, inst.TemplateVersion)
	if err != nil {
		return nil, err
	}
	if len(tmpl.EscalationRules) == 0 {
		return nil, nil
	}
	history, err := m.logs.ListLogs(ctx, inst.Id)
	if err != nil {
		return nil, err
	}
	fired := make([]string, 0, len(history))
	for _, h := range history {
		fired = append(fired, h.Rule)
	}
	oldestPending, err := m.oldestPendingRequest(ctx, inst.Id)
	if err != nil {
		return nil, err
	}

	events := make([]EscalationEvent, 0)
	for i := range tmpl.EscalationRules {
		rule := &tmpl.EscalationRules[i]
		if slices.Contains(fired, rule.Name) {
			continue
		}
		var matched bool
		switch rule.Trigger {
		case model.TRIGGER_TIME_ELAPSED:
			matched = Matches(rule, rule.Trigger, now.Sub(inst.StartedAt), inst.Context)
		case model.TRIGGER_NO_RESPONSE:
			matched = oldestPending != nil && Matches(rule, rule.Trigger, now.Sub(oldestPending.CreatedAt), inst.Context)
		}
		if !matched {
			continue
		}
		from := ""
		if rule.Trigger == model.TRIGGER_NO_RESPONSE {
			from = oldestPending.Approver
		}
		stepName, err := m.currentStepName(ctx, inst)
		if err != nil {
			return events, err
		}
		log := m.apply(inst, rule, stepName, rule.Trigger, from, "", fmt.Sprintf("rule %s fired", rule.Name))
		log.RecommendedAction = Recommend(rule, 0)
		if err := m.persist(ctx, inst, log, rule); err != nil {
			return events, err
		}
		fired = append(fired, rule.Name)
		events = append(events, *toEvent(inst, log))
	}
	return events, nil
}

func (m *Manager) oldestPendingRequest(ctx context.Context, instanceId string) (*model.ApprovalRequest, error) {
	reqs, err := m.requests.ListRequestsByInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	var oldest *model.ApprovalRequest
	for _, r := range reqs {
		if r.Status == model.REQUEST_PENDING && (oldest == nil || r.CreatedAt.Before(oldest.CreatedAt)) {
			oldest = r
		}
	}
	return oldest, nil
}

// Staged is an escalation applied to an instance in memory only. Its log is
// written by Commit once the caller has saved the instance.
type Staged struct {
	Log  *model.EscalationLog
	rule *model.EscalationRule
}

// Escalate raises an instance manually and saves it. The caller holds the instance lock.
// newPriority may be empty, in which case the priority moves up one tier.
func (m *Manager) Escalate(ctx context.Context, inst *model.WorkflowInstance, actor string, reason string, newPriority model.Priority) (*model.EscalationLog, error) {
	stepName, err := m.currentStepName(ctx, inst)
	if err != nil {
		return nil, err
	}
	staged, err := m.Stage(ctx, inst, stepName, actor, reason, newPriority)
	if err != nil {
		return nil, err
	}
	if err := m.instances.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}
	if err := m.Commit(ctx, inst, staged); err != nil {
		return nil, err
	}
	return staged.Log, nil
}

// Stage applies a manual escalation to inst without writing anything, for a
// caller that saves inst as part of a larger transition.
func (m *Manager) Stage(ctx context.Context, inst *model.WorkflowInstance, stepName string, actor string, reason string, newPriority model.Priority) (*Staged, error) {
	if inst.Status.IsTerminal() {
		return nil, api.Conflictf("instance %s is %s and can not be escalated", inst.Id, inst.Status)
	}
	if len(newPriority) > 0 && !slices.Contains(model.PRIORITY_ORDER, newPriority) {
		return nil, api.Invalidf("priority", "unknown priority %q", newPriority)
	}
	tmpl, err := m.templates.GetVersion(ctx, inst.TemplateCode, inst.TemplateVersion)
	if err != nil {
		return nil, err
	}
	rule := FirstMatch(tmpl.EscalationRules, model.TRIGGER_MANUAL, 0, inst.Context)
	return &Staged{Log: m.apply(inst, rule, stepName, model.TRIGGER_MANUAL, actor, newPriority, reason), rule: rule}, nil
}

// StageRejection applies the template's rejection rule to an instance that
// was just rejected. It returns nil when no rule matches.
func (m *Manager) StageRejection(ctx context.Context, inst *model.WorkflowInstance, stepName string, actor string, reason string) (*Staged, error) {
	tmpl, err := m.templates.GetVersion(ctx, inst.TemplateCode, inst.TemplateVersion)
	if err != nil {
		return nil, err
	}
	rule := FirstMatch(tmpl.EscalationRules, model.TRIGGER_REJECTION, 0, inst.Context)
	if rule == nil {
		return nil, nil
	}
	return &Staged{Log: m.apply(inst, rule, stepName, model.TRIGGER_REJECTION, actor, "", reason), rule: rule}, nil
}

// Commit appends the log of a staged escalation whose instance has been saved.
func (m *Manager) Commit(ctx context.Context, inst *model.WorkflowInstance, staged *Staged) error {
	if err := m.logs.AppendLog(ctx, staged.Log); err != nil {
		return err
	}
	m.recorded(ctx, inst, staged.Log, staged.rule)
	return nil
}

// apply bumps the escalation overlay on inst and builds the log entry. Nothing is persisted.
func (m *Manager) apply(inst *model.WorkflowInstance, rule *model.EscalationRule, stepName string, trigger model.EscalationTrigger,
	from string, newPriority model.Priority, reason string) *model.EscalationLog {
	previous := inst.Priority
	switch {
	case len(newPriority) > 0:
	case rule != nil && len(rule.PriorityOverride) > 0:
		newPriority = rule.PriorityOverride
	default:
		newPriority = previous.Raise()
	}
	inst.Priority = newPriority
	inst.Escalated = true
	inst.EscalationLevel++
	inst.UpdatedAt = m.clock.Now()

	log := &model.EscalationLog{
		Id:               uuid.NewString(),
		InstanceId:       inst.Id,
		Level:            inst.EscalationLevel,
		Trigger:          trigger,
		StepName:         stepName,
		FromActor:        from,
		PreviousPriority: previous,
		NewPriority:      newPriority,
		Reason:           reason,
		CreatedAt:        m.clock.Now(),
	}
	if rule != nil {
		log.Rule = rule.Name
		log.ToActor = rule.EscalateToUser
		log.ToRole = rule.EscalateToRole
	}
	return log
}

func (m *Manager) persist(ctx context.Context, inst *model.WorkflowInstance, log *model.EscalationLog, rule *model.EscalationRule) error {
	if err := m.instances.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	if err := m.logs.AppendLog(ctx, log); err != nil {
		return err
	}
	m.recorded(ctx, inst, log, rule)
	return nil
}

func (m *Manager) recorded(ctx context.Context, inst *model.WorkflowInstance, log *model.EscalationLog, rule *model.EscalationRule) {
	logger.Info("instance escalated", zap.String("instance", inst.Id), zap.String("trigger", string(log.Trigger)),
		zap.Int("level", log.Level), zap.String("priority", string(log.NewPriority)))
	for _, r := range m.recorders {
		r.RecordEscalation(log)
	}
	if rule != nil && rule.Notify {
		m.notify(ctx, inst, log)
	}
}

// notify is best effort, a failed notification never undoes the escalation.
func (m *Manager) notify(ctx context.Context, inst *model.WorkflowInstance, log *model.EscalationLog) {
	to := log.ToActor
	if len(to) == 0 {
		to = log.ToRole
	}
	if len(to) == 0 {
		to = inst.InitiatedBy
	}
	_, err := m.executor.Execute(ctx, model.ACTION_SEND_EMAIL, map[string]any{
		"to":       to,
		"subject":  fmt.Sprintf("Workflow %s escalated to level %d", inst.TemplateCode, log.Level),
		"template": "workflow_escalated",
		"reason":   log.Reason,
	}, inst.EntityRef(), inst.Context)
	if err != nil {
		logger.Warn("escalation notification failed", zap.String("instance", inst.Id), zap.Error(err))
	}
}

func (m *Manager) currentStepName(ctx context.Context, inst *model.WorkflowInstance) (string, error) {
	steps, err := m.steps.ListSteps(ctx, inst.Id)
	if err != nil {
		return "", err
	}
	for _, s := range steps {
		if s.IsTopLevel() && s.StepNumber == inst.CurrentStep {
			return s.StepName, nil
		}
	}
	return "", nil
}

func (m *Manager) History(ctx context.Context, instanceId string) ([]*model.EscalationLog, error) {
	return m.logs.ListLogs(ctx, instanceId)
}

func toEvent(inst *model.WorkflowInstance, log *model.EscalationLog) *EscalationEvent {
	return &EscalationEvent{
		InstanceId:        inst.Id,
		TemplateCode:      inst.TemplateCode,
		StepName:          log.StepName,
		Trigger:           log.Trigger,
		Level:             log.Level,
		HoursOverdue:      log.HoursOverdue,
		RecommendedAction: log.RecommendedAction,
		Log:               log,
	}
}
