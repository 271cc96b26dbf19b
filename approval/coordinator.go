package approval

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/grcflow/action"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/delegation"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DEFAULT_MAX_REMINDERS = 3

type Coordinator struct {
	requests     persistence.ApprovalStore
	steps        persistence.StepStore
	delegations  *delegation.Registry
	roles        RoleResolver
	executor     action.Executor
	clock        util.Clock
	locks        *util.KeyedMutex
	maxReminders int
	batchSize    int
}

type Config struct {
	MaxReminders int
	BatchSize    int
}

func NewCoordinator(requests persistence.ApprovalStore, steps persistence.StepStore, delegations *delegation.Registry,
	roles RoleResolver, executor action.Executor, clock util.Clock, locks *util.KeyedMutex, conf Config) *Coordinator {
	if roles == nil {
		roles = StaticRoleResolver{}
	}
	if conf.MaxReminders <= 0 {
		conf.MaxReminders = DEFAULT_MAX_REMINDERS
	}
	return &Coordinator{
		requests:     requests,
		steps:        steps,
		delegations:  delegations,
		roles:        roles,
		executor:     executor,
		clock:        clock,
		locks:        locks,
		maxReminders: conf.MaxReminders,
		batchSize:    conf.BatchSize,
	}
}

// Verdict is the effect of one response on its step.
type Verdict struct {
	Decided bool
	Outcome string
	Request *model.ApprovalRequest
	Step    *model.StepExecution
}

// ResolveApprovers returns the explicit approvers of a step definition, or
// the members of its role when none are listed.
func (c *Coordinator) ResolveApprovers(ctx context.Context, def *model.StepDefinition, entity model.EntityRef) ([]string, error) {
	if len(def.Approvers) > 0 {
		return util.Dedup(def.Approvers), nil
	}
	if len(def.ApproverRole) == 0 {
		return nil, nil
	}
	users, err := c.roles.Resolve(ctx, def.ApproverRole, entity)
	if err != nil {
		return nil, err
	}
	return util.Dedup(users), nil
}

// CreateRequest stores one request right away, outside any transition.
func (c *Coordinator) CreateRequest(ctx context.Context, step *model.StepExecution, templateCode string, approver string, sequence int) (*model.ApprovalRequest, error) {
	req := c.newRequest(step, templateCode, approver, sequence)
	if err := c.requests.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Coordinator) newRequest(step *model.StepExecution, templateCode string, approver string, sequence int) *model.ApprovalRequest {
	req := &model.ApprovalRequest{
		Id:           uuid.NewString(),
		StepId:       step.Id,
		InstanceId:   step.InstanceId,
		TemplateCode: templateCode,
		Sequence:     sequence,
		Approver:     approver,
		Status:       model.REQUEST_PENDING,
		DueAt:        step.DueAt,
		CreatedAt:    c.clock.Now(),
	}
	return req
}

// CreateRequests issues the first round of requests for a step: the first
// approver only for sequential steps, everyone at once otherwise.
func (c *Coordinator) CreateRequests(ch *Changes, step *model.StepExecution, templateCode string) ([]*model.ApprovalRequest, error) {
	approvers := step.RequiredApprovers
	if len(approvers) == 0 {
		return nil, api.Invalidf("approvers", "step %s has no approvers", step.StepName)
	}
	if step.ApprovalType == model.APPROVAL_SEQUENTIAL || len(step.ApprovalType) == 0 {
		approvers = approvers[:1]
	}
	out := make([]*model.ApprovalRequest, 0, len(approvers))
	for i, approver := range approvers {
		req := c.newRequest(step, templateCode, approver, i)
		ch.create(req)
		out = append(out, req)
	}
	return out, nil
}

// EffectiveResponder is the user a request currently waits on.
func EffectiveResponder(req *model.ApprovalRequest) string {
	if len(req.DelegateTo) > 0 {
		return req.DelegateTo
	}
	return req.Approver
}

// Authorize fails with PermissionDenied unless actor is the request's
// effective responder or holds an active delegation from them.
func (c *Coordinator) Authorize(ctx context.Context, req *model.ApprovalRequest, actor string) error {
	responder := EffectiveResponder(req)
	ok, err := c.delegations.CanActFor(ctx, actor, responder, req.TemplateCode, c.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return api.PermissionDeniedError{Actor: actor, Message: "not the approver or an active delegate of " + responder}
	}
	return nil
}

// Respond records actor's decision on a request and applies the step's
// approval policy. The caller holds the instance lock and saves Verdict.Step
// along with ch.
func (c *Coordinator) Respond(ctx context.Context, ch *Changes, requestId string, actor string, decision model.Decision, comments string) (*Verdict, error) {
	if !decision.Valid() {
		return nil, api.Invalidf("decision", "unknown decision %q", decision)
	}
	req, err := ch.Get(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if req.Status != model.REQUEST_PENDING {
		return nil, api.Conflictf("request %s is already %s", req.Id, req.Status)
	}
	if err := c.Authorize(ctx, req, actor); err != nil {
		return nil, err
	}
	step, err := c.steps.GetStep(ctx, req.StepId)
	if err != nil {
		return nil, err
	}
	if step.Status != model.STEP_AWAITING_APPROVAL {
		return nil, api.Conflictf("step %s is %s, not awaiting approval", step.StepName, step.Status)
	}

	now := c.clock.Now()
	req.Status = decision.RequestStatus()
	req.Response = string(decision)
	req.Comments = comments
	req.RespondedBy = actor
	req.RespondedAt = &now
	ch.update(req)
	step.ActualApprovers = append(step.ActualApprovers, actor)

	all, err := ch.ByStep(ctx, step.Id)
	if err != nil {
		return nil, err
	}
	verdict := &Verdict{Request: req, Step: step}
	verdict.Decided, verdict.Outcome = Decide(step.ApprovalType, step.RequireAll, Count(all, len(step.RequiredApprovers)))
	logger.Info("approval response recorded", zap.String("request", req.Id), zap.String("step", step.StepName),
		zap.String("actor", actor), zap.String("decision", string(decision)), zap.Bool("decided", verdict.Decided))

	if verdict.Decided {
		return verdict, c.CancelPending(ctx, ch, step.Id)
	}
	if step.ApprovalType == model.APPROVAL_SEQUENTIAL || len(step.ApprovalType) == 0 {
		next := req.Sequence + 1
		if next < len(step.RequiredApprovers) {
			ch.create(c.newRequest(step, req.TemplateCode, step.RequiredApprovers[next], next))
		}
	}
	return verdict, nil
}

// CancelPending closes the requests of a step that no longer need an answer.
func (c *Coordinator) CancelPending(ctx context.Context, ch *Changes, stepId string) error {
	all, err := ch.ByStep(ctx, stepId)
	if err != nil {
		return err
	}
	for _, r := range all {
		if r.Status != model.REQUEST_PENDING {
			continue
		}
		r.Status = model.REQUEST_CANCELLED
		ch.update(r)
	}
	return nil
}

// Delegate hands an in-flight request to another user. The due date is kept.
func (c *Coordinator) Delegate(ctx context.Context, requestId string, from string, to string, reason string) (*model.ApprovalRequest, error) {
	req, err := c.requests.GetRequest(ctx, requestId)
	if err != nil {
		return nil, err
	}
	if req.Status != model.REQUEST_PENDING {
		return nil, api.Conflictf("request %s is already %s", req.Id, req.Status)
	}
	if from != EffectiveResponder(req) {
		return nil, api.PermissionDeniedError{Actor: from, Message: "only the current approver can delegate this request"}
	}
	if len(to) == 0 || to == from {
		return nil, api.Invalidf("to", "delegate must be another user")
	}
	req.DelegateTo = to
	req.DelegateReason = reason
	if err := c.requests.UpdateRequest(ctx, req); err != nil {
		return nil, err
	}
	logger.Info("approval request delegated", zap.String("request", req.Id), zap.String("from", from), zap.String("to", to))
	return req, nil
}

type BulkResult struct {
	RequestId string `json:"request_id"`
	Error     error  `json:"-"`
	Message   string `json:"error,omitempty"`
}

// Bulk applies fn to every id. A failing item is reported and never stops the batch.
func Bulk(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) []BulkResult {
	out := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		res := BulkResult{RequestId: id}
		if err := fn(ctx, id); err != nil {
			res.Error = err
			res.Message = err.Error()
		}
		out = append(out, res)
	}
	return out
}

// SendReminders nudges the responders of pending requests due within the
// window, at most maxReminders times and once per interval per request.
func (c *Coordinator) SendReminders(ctx context.Context, within time.Duration, interval time.Duration) (int, error) {
	now := c.clock.Now()
	pending, err := c.requests.FindPendingDueBefore(ctx, now.Add(within), c.batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	var errs error
	for _, p := range pending {
		ok, err := c.remind(ctx, p.Id, p.InstanceId, now, interval)
		if err != nil {
			logger.Error("error sending reminder", zap.String("request", p.Id), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, errs
}

func (c *Coordinator) remind(ctx context.Context, requestId string, instanceId string, now time.Time, interval time.Duration) (bool, error) {
	unlock := c.locks.Lock(instanceId)
	defer unlock()
	req, err := c.requests.GetRequest(ctx, requestId)
	if err != nil {
		return false, err
	}
	if req.Status != model.REQUEST_PENDING || req.ReminderCount >= c.maxReminders {
		return false, nil
	}
	if req.LastReminderAt != nil && now.Sub(*req.LastReminderAt) < interval {
		return false, nil
	}
	due := ""
	if req.DueAt != nil {
		due = req.DueAt.Format(time.RFC3339)
	}
	_, err = c.executor.Execute(ctx, model.ACTION_SEND_EMAIL, map[string]any{
		"to":         EffectiveResponder(req),
		"subject":    "Reminder: approval pending",
		"template":   "approval_reminder",
		"request_id": req.Id,
		"due_at":     due,
	}, model.EntityRef{Type: "approval_request", Id: req.Id}, map[string]any{"instance_id": req.InstanceId})
	if err != nil {
		return false, err
	}
	req.ReminderCount++
	req.LastReminderAt = &now
	return true, c.requests.UpdateRequest(ctx, req)
}
