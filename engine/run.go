package engine

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/mohitkumar/grcflow/approval"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/sla"
)

// run is the in-memory working set of one operation on one instance. It is
// only touched while the instance lock is held. Nothing it collects reaches
// the store before save.
type run struct {
	inst       *model.WorkflowInstance
	tmpl       *model.WorkflowTemplate
	fresh      bool
	steps      []*model.StepExecution
	byId       map[string]*model.StepExecution
	created    []*model.StepExecution
	dirty      map[string]bool
	dirtyOrder []string
	requests   *approval.Changes
	effects    []func()
	cfg        *model.SLAConfiguration
	cfgLoaded  bool
}

func newRun(inst *model.WorkflowInstance, tmpl *model.WorkflowTemplate, requests persistence.ApprovalStore) *run {
	return &run{
		inst:     inst,
		tmpl:     tmpl,
		byId:     make(map[string]*model.StepExecution),
		dirty:    make(map[string]bool),
		requests: approval.NewChanges(requests),
	}
}

func (r *run) load(steps []*model.StepExecution) {
	for _, s := range steps {
		r.steps = append(r.steps, s)
		r.byId[s.Id] = s
	}
	persistence.SortSteps(r.steps)
}

func (r *run) add(step *model.StepExecution) {
	r.steps = append(r.steps, step)
	r.byId[step.Id] = step
	r.created = append(r.created, step)
	r.markDirty(step)
}

// replace swaps in a fresher copy of a step that another component has written.
func (r *run) replace(step *model.StepExecution) *model.StepExecution {
	for i, s := range r.steps {
		if s.Id == step.Id {
			r.steps[i] = step
		}
	}
	r.byId[step.Id] = step
	return step
}

func (r *run) markDirty(step *model.StepExecution) {
	if !r.dirty[step.Id] {
		r.dirty[step.Id] = true
		r.dirtyOrder = append(r.dirtyOrder, step.Id)
	}
}

func (r *run) isCreated(id string) bool {
	for _, s := range r.created {
		if s.Id == id {
			return true
		}
	}
	return false
}

func (r *run) after(fn func()) {
	r.effects = append(r.effects, fn)
}

// topLevel returns the record of top-level step number n.
func (r *run) topLevel(n int) *model.StepExecution {
	for _, s := range r.steps {
		if s.IsTopLevel() && s.StepNumber == n {
			return s
		}
	}
	return nil
}

func (r *run) current() *model.StepExecution {
	return r.topLevel(r.inst.CurrentStep)
}

func (r *run) currentStepName() string {
	if s := r.current(); s != nil {
		return s.StepName
	}
	return ""
}

func (r *run) children(parentId string) []*model.StepExecution {
	out := make([]*model.StepExecution, 0)
	for _, s := range r.steps {
		if s.ParentId == parentId {
			out = append(out, s)
		}
	}
	return out
}

// definition returns the template definition a step record was created from.
func (r *run) definition(step *model.StepExecution) *model.StepDefinition {
	if step.IsTopLevel() {
		if step.StepNumber < len(r.tmpl.Steps) {
			return &r.tmpl.Steps[step.StepNumber]
		}
		return nil
	}
	parent, ok := r.byId[step.ParentId]
	if !ok {
		return nil
	}
	def := r.definition(parent)
	if def == nil {
		return nil
	}
	idx := childIndex(step.Path)
	if idx < 0 || idx >= len(def.ParallelSteps) {
		return nil
	}
	return &def.ParallelSteps[idx]
}

func (r *run) slaConfig(ctx context.Context, tracker *sla.Tracker) (*model.SLAConfiguration, error) {
	if r.cfgLoaded {
		return r.cfg, nil
	}
	cfg, err := tracker.ConfigFor(ctx, r.inst.EntityType, r.inst.Priority)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg
	r.cfgLoaded = true
	return cfg, nil
}

// snapshot is the view of the instance handed to actions: its context plus a
// "workflow" entry describing the instance itself.
func (r *run) snapshot() map[string]any {
	out := make(map[string]any, len(r.inst.Context)+1)
	for k, v := range r.inst.Context {
		out[k] = v
	}
	out["workflow"] = map[string]any{
		"id":            r.inst.Id,
		"template_code": r.inst.TemplateCode,
		"status":        string(r.inst.Status),
		"priority":      string(r.inst.Priority),
		"initiated_by":  r.inst.InitiatedBy,
		"entity_type":   r.inst.EntityType,
		"entity_id":     r.inst.EntityId,
		"current_step":  r.currentStepName(),
	}
	return out
}

func newStepExecution(inst *model.WorkflowInstance, tmpl *model.WorkflowTemplate, def *model.StepDefinition, parent *model.StepExecution, idx int) *model.StepExecution {
	step := &model.StepExecution{
		Id:           uuid.NewString(),
		InstanceId:   inst.Id,
		StepNumber:   idx,
		Path:         strconv.Itoa(idx),
		StepName:     def.Name,
		StepType:     def.Type,
		ApprovalType: def.ApprovalType,
		RequireAll:   tmpl.RequireAll(def),
		Status:       model.STEP_PENDING,
	}
	if step.StepType == model.STEP_APPROVAL && len(step.ApprovalType) == 0 {
		step.ApprovalType = model.APPROVAL_SEQUENTIAL
	}
	if parent != nil {
		step.ParentId = parent.Id
		step.StepNumber = parent.StepNumber
		step.Path = parent.Path + "." + strconv.Itoa(idx)
		step.Depth = parent.Depth + 1
	}
	return step
}

func childIndex(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			n, err := strconv.Atoi(path[i+1:])
			if err != nil {
				return -1
			}
			return n
		}
	}
	return -1
}
