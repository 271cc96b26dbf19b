package engine

import (
	"context"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/approval"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"go.uber.org/zap"
)

func terminalConflict(inst *model.WorkflowInstance) error {
	return api.Conflictf("instance %s is %s", inst.Id, inst.Status)
}

// Advance completes the current step by hand and moves on. Only a step that
// is in progress or awaiting approval can be advanced.
func (e *Engine) Advance(ctx context.Context, instanceId string, outcome string, actor string, notes string) (*model.WorkflowInstance, error) {
	switch outcome {
	case "":
		outcome = model.OUTCOME_COMPLETED
	case model.OUTCOME_COMPLETED, model.OUTCOME_APPROVED:
	default:
		return nil, api.Invalidf("outcome", "advance outcome must be %s or %s, use reject to reject", model.OUTCOME_COMPLETED, model.OUTCOME_APPROVED)
	}
	r, unlock, err := e.lockInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if r.inst.Status.IsTerminal() {
		return nil, terminalConflict(r.inst)
	}
	step := r.current()
	if step == nil || !step.Status.IsWaiting() {
		return nil, api.Conflictf("current step of instance %s is not in progress", instanceId)
	}
	if err := e.decide(ctx, r, step, outcome, actor, notes); err != nil {
		return nil, err
	}
	e.markResponded(r)
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	logger.Info("step advanced", zap.String("instance", instanceId), zap.String("step", step.StepName), zap.String("actor", actor))
	return r.inst, nil
}

// Reject closes the current step as rejected and ends the instance.
func (e *Engine) Reject(ctx context.Context, instanceId string, actor string, reason string) (*model.WorkflowInstance, error) {
	r, unlock, err := e.lockInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if r.inst.Status.IsTerminal() {
		return nil, terminalConflict(r.inst)
	}
	if step := r.current(); step != nil && step.Status.IsOpen() {
		waiting := step.Status == model.STEP_AWAITING_APPROVAL
		e.closeStep(r, step, model.OUTCOME_REJECTED, actor, reason)
		if waiting {
			if err := e.approvals.CancelPending(ctx, r.requests, step.Id); err != nil {
				return nil, err
			}
		}
		if err := e.cancelOpen(ctx, r, step, actor); err != nil {
			return nil, err
		}
	}
	if err := e.rejectInstance(ctx, r, actor, reason); err != nil {
		return nil, err
	}
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	return r.inst, nil
}

// Cancel ends the instance and force-closes every open step with outcome cancelled.
func (e *Engine) Cancel(ctx context.Context, instanceId string, actor string, reason string) (*model.WorkflowInstance, error) {
	r, unlock, err := e.lockInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if r.inst.Status.IsTerminal() {
		return nil, terminalConflict(r.inst)
	}
	for _, step := range r.steps {
		if !step.Status.IsOpen() {
			continue
		}
		waiting := step.Status == model.STEP_AWAITING_APPROVAL
		e.closeStep(r, step, model.OUTCOME_CANCELLED, actor, reason)
		if waiting {
			if err := e.approvals.CancelPending(ctx, r.requests, step.Id); err != nil {
				return nil, err
			}
		}
	}
	e.finishInstance(r, model.INSTANCE_CANCELLED, actor)
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	return r.inst, nil
}

// CompleteTask signals that the work behind a task step is done. It serves
// both top-level task steps and task branches of a parallel step.
func (e *Engine) CompleteTask(ctx context.Context, stepId string, actor string, outcome string, notes string) (*model.WorkflowInstance, error) {
	switch outcome {
	case "":
		outcome = model.OUTCOME_COMPLETED
	case model.OUTCOME_COMPLETED, model.OUTCOME_REJECTED:
	default:
		return nil, api.Invalidf("outcome", "task outcome must be %s or %s", model.OUTCOME_COMPLETED, model.OUTCOME_REJECTED)
	}
	stored, err := e.steps.GetStep(ctx, stepId)
	if err != nil {
		return nil, err
	}
	r, unlock, err := e.lockInstance(ctx, stored.InstanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if r.inst.Status.IsTerminal() {
		return nil, terminalConflict(r.inst)
	}
	step := r.byId[stepId]
	if step.StepType != model.STEP_TASK {
		return nil, api.Invalidf("step", "step %s is a %s step, not a task", step.StepName, step.StepType)
	}
	if step.Status != model.STEP_IN_PROGRESS || step.StepNumber != r.inst.CurrentStep {
		return nil, api.Conflictf("task %s is %s", step.StepName, step.Status)
	}
	if err := e.decide(ctx, r, step, outcome, actor, notes); err != nil {
		return nil, err
	}
	e.markResponded(r)
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	return r.inst, nil
}

type RespondResult struct {
	RequestId       string               `json:"request_id"`
	StepName        string               `json:"step_name"`
	StepDecided     bool                 `json:"step_decided"`
	StepOutcome     string               `json:"step_outcome,omitempty"`
	InstanceStatus  model.InstanceStatus `json:"instance_status"`
	CurrentStepName string               `json:"current_step_name,omitempty"`
}

// Respond records an approver's decision and, when it decides the step,
// moves the instance on.
func (e *Engine) Respond(ctx context.Context, requestId string, actor string, decision model.Decision, comments string) (*RespondResult, error) {
	req, err := e.requests.GetRequest(ctx, requestId)
	if err != nil {
		return nil, err
	}
	r, unlock, err := e.lockInstance(ctx, req.InstanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if r.inst.Status.IsTerminal() {
		return nil, terminalConflict(r.inst)
	}
	verdict, err := e.approvals.Respond(ctx, r.requests, requestId, actor, decision, comments)
	if err != nil {
		return nil, err
	}
	step := r.replace(verdict.Step)
	r.markDirty(step)
	if verdict.Decided {
		if err := e.decide(ctx, r, step, verdict.Outcome, actor, comments); err != nil {
			return nil, err
		}
	}
	e.markResponded(r)
	if err := e.save(ctx, r); err != nil {
		return nil, err
	}
	return &RespondResult{
		RequestId:       requestId,
		StepName:        step.StepName,
		StepDecided:     verdict.Decided,
		StepOutcome:     verdict.Outcome,
		InstanceStatus:  r.inst.Status,
		CurrentStepName: r.currentStepName(),
	}, nil
}

// BulkRespond responds to each request on its own. One failure never aborts the rest.
func (e *Engine) BulkRespond(ctx context.Context, requestIds []string, actor string, decision model.Decision, comments string) []approval.BulkResult {
	return approval.Bulk(ctx, requestIds, func(ctx context.Context, id string) error {
		_, err := e.Respond(ctx, id, actor, decision, comments)
		return err
	})
}

// Delegate hands a pending request to another user. Its due date is unchanged.
func (e *Engine) Delegate(ctx context.Context, requestId string, from string, to string, reason string) (*model.ApprovalRequest, error) {
	req, err := e.requests.GetRequest(ctx, requestId)
	if err != nil {
		return nil, err
	}
	r, unlock, err := e.lockInstance(ctx, req.InstanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if r.inst.Status.IsTerminal() {
		return nil, terminalConflict(r.inst)
	}
	delegated, err := e.approvals.Delegate(ctx, requestId, from, to, reason)
	if err != nil {
		return nil, err
	}
	if err := e.sla.Acknowledge(ctx, r.inst.Id); err != nil {
		logger.Error("error acknowledging sla", zap.String("instance", r.inst.Id), zap.Error(err))
	}
	return delegated, nil
}

// Escalate raises an instance's priority by hand.
func (e *Engine) Escalate(ctx context.Context, instanceId string, actor string, reason string, priority model.Priority) (*model.EscalationLog, error) {
	r, unlock, err := e.lockInstance(ctx, instanceId)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.escalations.Escalate(ctx, r.inst, actor, reason, priority)
}

func (e *Engine) markResponded(r *run) {
	id := r.inst.Id
	r.after(func() {
		if err := e.sla.MarkResponded(context.Background(), id); err != nil {
			logger.Error("error marking sla response", zap.String("instance", id), zap.Error(err))
		}
	})
}
