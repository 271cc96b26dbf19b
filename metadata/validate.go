package metadata

import (
	"errors"
	"fmt"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/condition"
	"github.com/mohitkumar/grcflow/model"
	"golang.org/x/exp/slices"
)

// ActionValidator checks an action's configuration before a template referencing it is stored.
type ActionValidator interface {
	Validate(kind model.ActionKind, config map[string]any) error
}

type validator struct {
	actions ActionValidator
}

func (v validator) validateTemplate(tmpl *model.WorkflowTemplate) error {
	if len(tmpl.Code) == 0 {
		return api.Invalidf("code", "template code is required")
	}
	if len(tmpl.Steps) == 0 {
		return api.Invalidf("steps", "template %s has no steps", tmpl.Code)
	}
	if tmpl.SLAHours < 0 || tmpl.SLAWarningHours < 0 {
		return api.Invalidf("sla_hours", "sla hours must not be negative")
	}
	if tmpl.SLAWarningHours > 0 && tmpl.SLAHours > 0 && tmpl.SLAWarningHours > tmpl.SLAHours {
		return api.Invalidf("sla_warning_hours", "warning after the sla budget")
	}
	names := make([]string, 0, len(tmpl.Steps))
	for i := range tmpl.Steps {
		step := &tmpl.Steps[i]
		if slices.Contains(names, step.Name) {
			return api.Invalidf(fmt.Sprintf("steps[%d].name", i), "duplicate step name %q", step.Name)
		}
		names = append(names, step.Name)
		if err := v.validateStep(step, fmt.Sprintf("steps[%d]", i), 1); err != nil {
			return err
		}
	}
	for i := range tmpl.EscalationRules {
		if err := v.validateRule(&tmpl.EscalationRules[i], fmt.Sprintf("escalation_rules[%d]", i)); err != nil {
			return err
		}
	}
	if err := v.validateActions(tmpl.OnComplete, "on_complete"); err != nil {
		return err
	}
	return v.validateActions(tmpl.OnReject, "on_reject")
}

func (v validator) validateStep(step *model.StepDefinition, path string, depth int) error {
	if depth > model.MAX_STEP_DEPTH {
		return api.Invalidf(path, "steps nested deeper than %d", model.MAX_STEP_DEPTH)
	}
	if len(step.Name) == 0 {
		return api.Invalidf(path+".name", "step name is required")
	}
	if !slices.Contains(model.VALID_STEP_TYPES, step.Type) {
		return api.Invalidf(path+".type", "unknown step type %q", step.Type)
	}
	if step.SLAHours < 0 {
		return api.Invalidf(path+".sla_hours", "sla hours must not be negative")
	}
	if err := condition.Validate(step.Condition); err != nil {
		return nested(path, err)
	}
	if err := v.validateActions(step.Actions, path+".actions"); err != nil {
		return err
	}
	switch step.Type {
	case model.STEP_APPROVAL:
		if len(step.ApprovalType) > 0 && !slices.Contains(model.VALID_APPROVAL_TYPES, step.ApprovalType) {
			return api.Invalidf(path+".approval_type", "unknown approval type %q", step.ApprovalType)
		}
		if len(step.Approvers) == 0 && len(step.ApproverRole) == 0 {
			return api.Invalidf(path, "approval step %s names no approvers", step.Name)
		}
	case model.STEP_PARALLEL:
		if len(step.ParallelSteps) == 0 {
			return api.Invalidf(path+".parallel_steps", "parallel step %s has no branches", step.Name)
		}
		for i := range step.ParallelSteps {
			if err := v.validateStep(&step.ParallelSteps[i], fmt.Sprintf("%s.parallel_steps[%d]", path, i), depth+1); err != nil {
				return err
			}
		}
	}
	if step.Type != model.STEP_PARALLEL && len(step.ParallelSteps) > 0 {
		return api.Invalidf(path+".parallel_steps", "only parallel steps may nest steps")
	}
	return nil
}

func (v validator) validateRule(rule *model.EscalationRule, path string) error {
	if len(rule.Name) == 0 {
		return api.Invalidf(path+".name", "escalation rule name is required")
	}
	if !slices.Contains(model.VALID_TRIGGERS, rule.Trigger) {
		return api.Invalidf(path+".trigger", "unknown trigger %q", rule.Trigger)
	}
	switch rule.TriggerUnit {
	case "", model.UNIT_MINUTES, model.UNIT_HOURS, model.UNIT_DAYS:
	default:
		return api.Invalidf(path+".trigger_unit", "unknown trigger unit %q", rule.TriggerUnit)
	}
	if rule.TriggerValue < 0 {
		return api.Invalidf(path+".trigger_value", "trigger value must not be negative")
	}
	if len(rule.PriorityOverride) > 0 && !slices.Contains(model.PRIORITY_ORDER, rule.PriorityOverride) {
		return api.Invalidf(path+".priority_override", "unknown priority %q", rule.PriorityOverride)
	}
	if err := condition.Validate(rule.Condition); err != nil {
		return nested(path, err)
	}
	return nil
}

func (v validator) validateActions(actions []model.ActionDef, path string) error {
	for i, a := range actions {
		if !slices.Contains(model.VALID_ACTION_KINDS, a.Kind) {
			return api.Invalidf(fmt.Sprintf("%s[%d].kind", path, i), "unknown action kind %q", a.Kind)
		}
		if v.actions == nil {
			continue
		}
		if err := v.actions.Validate(a.Kind, a.Config); err != nil {
			return nested(fmt.Sprintf("%s[%d]", path, i), err)
		}
	}
	return nil
}

// nested prefixes a validation error's field with the path of the element holding it.
func nested(path string, err error) error {
	var ve api.ValidationError
	if errors.As(err, &ve) {
		return api.Invalidf(path+"."+ve.Field, "%s", ve.Message)
	}
	return api.Invalidf(path, "%s", err.Error())
}
