package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mohitkumar/grcflow/condition"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/sla"
	"go.uber.org/zap"
)

// stepHandler starts a step of one type. It returns the step's outcome when
// the step finished immediately, or "" when it now waits on someone.
type stepHandler func(ctx context.Context, r *run, def *model.StepDefinition, step *model.StepExecution) (string, error)

func isNegative(outcome string) bool {
	return outcome == model.OUTCOME_REJECTED || outcome == model.OUTCOME_FAILED
}

// processCurrentStep runs steps from the instance's current one until a step
// waits or the instance reaches a terminal state. Each pass either returns or
// moves past one step, so the loop is bounded by the template length.
func (e *Engine) processCurrentStep(ctx context.Context, r *run) error {
	for guard := 0; guard <= len(r.tmpl.Steps); guard++ {
		if r.inst.Status.IsTerminal() {
			return nil
		}
		if r.inst.CurrentStep >= len(r.tmpl.Steps) {
			e.completeInstance(r)
			return nil
		}
		step := r.current()
		if step == nil {
			return fmt.Errorf("instance %s has no record for step %d", r.inst.Id, r.inst.CurrentStep)
		}
		outcome, err := e.activate(ctx, r, &r.tmpl.Steps[r.inst.CurrentStep], step)
		if err != nil {
			return err
		}
		switch {
		case outcome == "":
			return nil
		case outcome == model.OUTCOME_FAILED:
			e.finishInstance(r, model.INSTANCE_FAILED, SYSTEM_ACTOR)
			return nil
		case outcome == model.OUTCOME_REJECTED:
			return e.rejectInstance(ctx, r, SYSTEM_ACTOR, "step "+step.StepName+" rejected")
		}
		r.inst.CurrentStep++
	}
	return fmt.Errorf("instance %s: step processing did not settle within %d steps", r.inst.Id, len(r.tmpl.Steps))
}

// activate begins a step, skipping it when its condition does not hold.
func (e *Engine) activate(ctx context.Context, r *run, def *model.StepDefinition, step *model.StepExecution) (string, error) {
	now := e.clock.Now()
	if step.Status == model.STEP_PENDING {
		step.Status = model.STEP_STARTED
	}
	if step.StartedAt == nil {
		step.StartedAt = &now
	}
	if step.DueAt == nil {
		due, err := e.stepDue(ctx, r, def, *step.StartedAt)
		if err != nil {
			return "", err
		}
		step.DueAt = due
	}
	r.markDirty(step)

	if !condition.Evaluate(def.Condition, r.inst.Context) {
		e.closeStep(r, step, model.OUTCOME_SKIPPED, SYSTEM_ACTOR, "condition not met")
		return model.OUTCOME_SKIPPED, nil
	}
	handler, ok := e.handlers[def.Type]
	if !ok {
		logger.Error("no handler for step type", zap.String("instance", r.inst.Id), zap.String("type", string(def.Type)))
		e.closeStep(r, step, model.OUTCOME_FAILED, SYSTEM_ACTOR, "unknown step type "+string(def.Type))
		return model.OUTCOME_FAILED, nil
	}
	outcome, err := handler(ctx, r, def, step)
	if err != nil {
		return "", err
	}
	if len(outcome) > 0 && step.Status.IsOpen() {
		e.closeStep(r, step, outcome, SYSTEM_ACTOR, "")
	}
	return outcome, nil
}

// stepDue is the step's own budget when it has one, else the instance due time.
func (e *Engine) stepDue(ctx context.Context, r *run, def *model.StepDefinition, start time.Time) (*time.Time, error) {
	if def.SLAHours > 0 {
		cfg, err := r.slaConfig(ctx, e.sla)
		if err != nil {
			return nil, err
		}
		due := sla.DueTime(start, def.SLAHours, cfg)
		return &due, nil
	}
	if r.inst.SLADueAt == nil {
		return nil, nil
	}
	due := *r.inst.SLADueAt
	if due.Before(start) {
		due = start
	}
	return &due, nil
}

func (e *Engine) closeStep(r *run, step *model.StepExecution, outcome string, actor string, notes string) {
	now := e.clock.Now()
	step.Status = model.STEP_COMPLETED
	if outcome == model.OUTCOME_SKIPPED {
		step.Status = model.STEP_SKIPPED
	}
	step.Outcome = outcome
	step.OutcomeBy = actor
	step.OutcomeAt = &now
	if len(notes) > 0 {
		step.Notes = notes
	}
	r.markDirty(step)
	inst := r.inst
	r.after(func() {
		for _, o := range e.observers {
			o.StepFinished(inst, step)
		}
	})
}

func (e *Engine) handleApproval(ctx context.Context, r *run, def *model.StepDefinition, step *model.StepExecution) (string, error) {
	approvers, err := e.approvals.ResolveApprovers(ctx, def, r.inst.EntityRef())
	if err != nil {
		return "", err
	}
	if len(approvers) == 0 {
		logger.Warn("approval step resolved no approvers", zap.String("instance", r.inst.Id), zap.String("step", step.StepName),
			zap.String("role", def.ApproverRole))
		step.Notes = "no approvers resolved"
		return model.OUTCOME_FAILED, nil
	}
	step.RequiredApprovers = approvers
	step.Status = model.STEP_AWAITING_APPROVAL
	r.markDirty(step)
	if _, err := e.approvals.CreateRequests(r.requests, step, r.tmpl.Code); err != nil {
		return "", err
	}
	return "", nil
}

// handleTask parks the step until CompleteTask or Advance is called for it.
func (e *Engine) handleTask(ctx context.Context, r *run, def *model.StepDefinition, step *model.StepExecution) (string, error) {
	step.Status = model.STEP_IN_PROGRESS
	r.markDirty(step)
	return "", nil
}

func (e *Engine) handleImmediate(outcome string) stepHandler {
	return func(ctx context.Context, r *run, def *model.StepDefinition, step *model.StepExecution) (string, error) {
		e.runActions(ctx, r, def.Actions)
		return outcome, nil
	}
}

// handleParallel creates one child record per nested definition and starts
// them all. The parent closes as soon as its closure policy is met.
func (e *Engine) handleParallel(ctx context.Context, r *run, def *model.StepDefinition, step *model.StepExecution) (string, error) {
	if step.Depth+1 >= model.MAX_STEP_DEPTH {
		step.Notes = fmt.Sprintf("steps nested deeper than %d", model.MAX_STEP_DEPTH)
		return model.OUTCOME_FAILED, nil
	}
	step.Status = model.STEP_IN_PROGRESS
	r.markDirty(step)
	e.runActions(ctx, r, def.Actions)

	children := r.children(step.Id)
	if len(children) == 0 {
		for i := range def.ParallelSteps {
			child := newStepExecution(r.inst, r.tmpl, &def.ParallelSteps[i], step, i)
			r.add(child)
			children = append(children, child)
		}
	}
	for i, child := range children {
		if !child.Status.IsOpen() {
			continue
		}
		if _, err := e.activate(ctx, r, &def.ParallelSteps[i], child); err != nil {
			return "", err
		}
		if closed, outcome := closure(step, r.children(step.Id)); closed {
			if err := e.cancelOpen(ctx, r, step, SYSTEM_ACTOR); err != nil {
				return "", err
			}
			return outcome, nil
		}
	}
	refreshParent(r, step)
	return "", nil
}

// closure applies a parallel step's policy to its children. Require-all waits
// for every child and rejects when any child was rejected. Require-any lets
// the first finished child decide. Skipped children never decide.
func closure(parent *model.StepExecution, children []*model.StepExecution) (bool, string) {
	finished, rejected, approved, decided := 0, 0, 0, 0
	first := ""
	for _, c := range children {
		if c.Status.IsOpen() {
			continue
		}
		finished++
		if c.Status == model.STEP_SKIPPED || c.Outcome == model.OUTCOME_CANCELLED {
			continue
		}
		decided++
		if len(first) == 0 {
			first = c.Outcome
		}
		switch {
		case isNegative(c.Outcome):
			rejected++
		case c.Outcome == model.OUTCOME_APPROVED:
			approved++
		}
	}
	if parent.RequireAll {
		if finished < len(children) {
			return false, ""
		}
		if rejected > 0 {
			return true, model.OUTCOME_REJECTED
		}
		if decided > 0 && approved == decided {
			return true, model.OUTCOME_APPROVED
		}
		return true, model.OUTCOME_COMPLETED
	}
	if decided > 0 {
		switch {
		case isNegative(first):
			return true, model.OUTCOME_REJECTED
		case first == model.OUTCOME_APPROVED:
			return true, model.OUTCOME_APPROVED
		}
		return true, model.OUTCOME_COMPLETED
	}
	if finished == len(children) {
		return true, model.OUTCOME_COMPLETED
	}
	return false, ""
}

// refreshParent shows a parallel step as awaiting approval while any open child is.
func refreshParent(r *run, parent *model.StepExecution) {
	if !parent.Status.IsOpen() {
		return
	}
	status := model.STEP_IN_PROGRESS
	for _, c := range r.children(parent.Id) {
		if c.Status == model.STEP_AWAITING_APPROVAL {
			status = model.STEP_AWAITING_APPROVAL
			break
		}
	}
	if parent.Status != status {
		parent.Status = status
		r.markDirty(parent)
	}
}

// cancelOpen force-closes every open descendant of step and withdraws their pending requests.
func (e *Engine) cancelOpen(ctx context.Context, r *run, step *model.StepExecution, actor string) error {
	for _, c := range r.children(step.Id) {
		if err := e.cancelOpen(ctx, r, c, actor); err != nil {
			return err
		}
		if !c.Status.IsOpen() {
			continue
		}
		waiting := c.Status == model.STEP_AWAITING_APPROVAL
		e.closeStep(r, c, model.OUTCOME_CANCELLED, actor, "")
		if waiting {
			if err := e.approvals.CancelPending(ctx, r.requests, c.Id); err != nil {
				return err
			}
		}
	}
	return nil
}

// decide closes a waiting step with outcome and carries the result upward:
// into the parent's closure for a child, into the instance for a top-level step.
func (e *Engine) decide(ctx context.Context, r *run, step *model.StepExecution, outcome string, actor string, notes string) error {
	waiting := step.Status == model.STEP_AWAITING_APPROVAL
	e.closeStep(r, step, outcome, actor, notes)
	if waiting {
		if err := e.approvals.CancelPending(ctx, r.requests, step.Id); err != nil {
			return err
		}
	}
	if err := e.cancelOpen(ctx, r, step, actor); err != nil {
		return err
	}
	if !step.IsTopLevel() {
		parent, ok := r.byId[step.ParentId]
		if !ok {
			return fmt.Errorf("step %s has no parent record %s", step.Id, step.ParentId)
		}
		closed, parentOutcome := closure(parent, r.children(parent.Id))
		if !closed {
			refreshParent(r, parent)
			return nil
		}
		return e.decide(ctx, r, parent, parentOutcome, actor, "")
	}
	if isNegative(outcome) {
		return e.rejectInstance(ctx, r, actor, notes)
	}
	r.inst.CurrentStep++
	return e.processCurrentStep(ctx, r)
}

// runActions executes actions in order. Kinds that only shape the instance run
// inline. The rest reach outside the engine and go to the post-action worker
// once the transition is saved. A failed action is logged and reported to
// observers, it never undoes the transition that ran it.
func (e *Engine) runActions(ctx context.Context, r *run, actions []model.ActionDef) {
	for _, a := range actions {
		if !inline(a.Kind) {
			e.queuePostActions(r, []model.ActionDef{a})
			continue
		}
		res, err := e.executor.Execute(ctx, a.Kind, a.Config, r.inst.EntityRef(), r.snapshot())
		if err != nil {
			logger.Error("action failed", zap.String("instance", r.inst.Id), zap.String("kind", string(a.Kind)), zap.Error(err))
			inst, kind := r.inst, a.Kind
			r.after(func() {
				for _, o := range e.observers {
					o.ActionFailed(inst, kind, err)
				}
			})
			continue
		}
		if len(res.Context) > 0 {
			if r.inst.Context == nil {
				r.inst.Context = make(map[string]any)
			}
			for k, v := range res.Context {
				if k == "workflow" {
					continue
				}
				r.inst.Context[k] = v
			}
		}
		if a.Kind == model.ACTION_ESCALATE {
			e.escalateFromAction(ctx, r, a.Config)
		}
	}
}

func inline(kind model.ActionKind) bool {
	switch kind {
	case model.ACTION_CHANGE_STATUS, model.ACTION_SCRIPT, model.ACTION_ESCALATE:
		return true
	}
	return false
}

func (e *Engine) escalateFromAction(ctx context.Context, r *run, config map[string]any) {
	reason, _ := config["reason"].(string)
	if len(reason) == 0 {
		reason = "escalated by workflow step"
	}
	priority, _ := config["priority"].(string)
	staged, err := e.escalations.Stage(ctx, r.inst, r.currentStepName(), SYSTEM_ACTOR, reason, model.Priority(priority))
	if err != nil {
		logger.Error("escalation action failed", zap.String("instance", r.inst.Id), zap.Error(err))
		return
	}
	e.commitEscalation(r, staged)
}
