package engine

import (
	"context"

	"github.com/mohitkumar/grcflow/escalation"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
)

type postAction struct {
	inst     model.WorkflowInstance
	action   model.ActionDef
	entity   model.EntityRef
	snapshot map[string]any
}

func (e *Engine) completeInstance(r *run) {
	e.finishInstance(r, model.INSTANCE_COMPLETED, SYSTEM_ACTOR)
	e.queuePostActions(r, r.tmpl.OnComplete)
}

// rejectInstance ends the instance as rejected. Steps after the current one stay pending.
func (e *Engine) rejectInstance(ctx context.Context, r *run, actor string, reason string) error {
	e.finishInstance(r, model.INSTANCE_REJECTED, actor)
	e.queuePostActions(r, r.tmpl.OnReject)
	staged, err := e.escalations.StageRejection(ctx, r.inst, r.currentStepName(), actor, reason)
	if err != nil {
		logger.Error("error applying rejection escalation", zap.String("instance", r.inst.Id), zap.Error(err))
		return nil
	}
	if staged != nil {
		e.commitEscalation(r, staged)
	}
	return nil
}

// commitEscalation writes a staged escalation's log once the instance carrying it is saved.
func (e *Engine) commitEscalation(r *run, staged *escalation.Staged) {
	inst := r.inst
	r.after(func() {
		if err := e.escalations.Commit(context.Background(), inst, staged); err != nil {
			logger.Error("error writing escalation log", zap.String("instance", inst.Id), zap.Error(err))
		}
	})
}

func (e *Engine) finishInstance(r *run, status model.InstanceStatus, actor string) {
	now := e.clock.Now()
	r.inst.Status = status
	r.inst.CompletedAt = &now
	inst := r.inst
	logger.Info("workflow finished", zap.String("instance", inst.Id), zap.String("template", inst.TemplateCode),
		zap.String("status", string(status)), zap.String("actor", actor))
	r.after(func() {
		if err := e.sla.Resolve(context.Background(), inst.Id); err != nil {
			logger.Error("error resolving sla tracking", zap.String("instance", inst.Id), zap.Error(err))
		}
		for _, o := range e.observers {
			o.InstanceFinished(inst)
		}
	})
}

// queuePostActions hands actions to the post-action worker once the
// transition is saved. They run best effort and outside the instance lock.
func (e *Engine) queuePostActions(r *run, actions []model.ActionDef) {
	if len(actions) == 0 {
		return
	}
	snapshot := r.snapshot()
	entity := r.inst.EntityRef()
	inst := r.inst
	r.after(func() {
		for _, a := range actions {
			e.postActions.Send(postAction{inst: *inst, action: a, entity: entity, snapshot: snapshot})
		}
	})
}

func (e *Engine) runPostAction(task util.Task) error {
	pa := task.(postAction)
	_, err := e.executor.Execute(context.Background(), pa.action.Kind, pa.action.Config, pa.entity, pa.snapshot)
	if err != nil {
		logger.Warn("post action failed", zap.String("instance", pa.inst.Id), zap.String("kind", string(pa.action.Kind)), zap.Error(err))
		for _, o := range e.observers {
			o.ActionFailed(&pa.inst, pa.action.Kind, err)
		}
	}
	return nil
}

// refreshStatus derives the live status of a non-terminal instance from its current step.
func refreshStatus(r *run) {
	if r.inst.Status.IsTerminal() {
		return
	}
	r.inst.Status = model.INSTANCE_IN_PROGRESS
	if step := r.current(); step != nil && step.Status == model.STEP_AWAITING_APPROVAL {
		r.inst.Status = model.INSTANCE_AWAITING_APPROVAL
	}
}
