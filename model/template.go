package model

import "time"

type StepType string

const STEP_APPROVAL StepType = "approval"
const STEP_TASK StepType = "task"
const STEP_NOTIFICATION StepType = "notification"
const STEP_AUTOMATIC StepType = "automatic"
const STEP_PARALLEL StepType = "parallel"
const STEP_CONDITIONAL StepType = "conditional"

var VALID_STEP_TYPES = []StepType{STEP_APPROVAL, STEP_TASK, STEP_NOTIFICATION, STEP_AUTOMATIC, STEP_PARALLEL, STEP_CONDITIONAL}

type ApprovalType string

const APPROVAL_SEQUENTIAL ApprovalType = "sequential"
const APPROVAL_PARALLEL ApprovalType = "parallel"
const APPROVAL_ANY ApprovalType = "any"
const APPROVAL_MAJORITY ApprovalType = "majority"

var VALID_APPROVAL_TYPES = []ApprovalType{APPROVAL_SEQUENTIAL, APPROVAL_PARALLEL, APPROVAL_ANY, APPROVAL_MAJORITY}

// MAX_STEP_DEPTH bounds nested parallel step definitions.
const MAX_STEP_DEPTH = 5

type WorkflowTemplate struct {
	Code                string           `json:"code" yaml:"code"`
	Name                string           `json:"name" yaml:"name"`
	Description         string           `json:"description,omitempty" yaml:"description,omitempty"`
	Category            string           `json:"category,omitempty" yaml:"category,omitempty"`
	TriggerEntityType   string           `json:"trigger_entity_type,omitempty" yaml:"trigger_entity_type,omitempty"`
	TriggerEvent        string           `json:"trigger_event,omitempty" yaml:"trigger_event,omitempty"`
	Steps               []StepDefinition `json:"steps" yaml:"steps"`
	SLAHours            float64          `json:"sla_hours,omitempty" yaml:"sla_hours,omitempty"`
	SLAWarningHours     float64          `json:"sla_warning_hours,omitempty" yaml:"sla_warning_hours,omitempty"`
	EscalationRules     []EscalationRule `json:"escalation_rules,omitempty" yaml:"escalation_rules,omitempty"`
	RequireAllApprovals *bool            `json:"require_all_approvals,omitempty" yaml:"require_all_approvals,omitempty"`
	OnComplete          []ActionDef      `json:"on_complete,omitempty" yaml:"on_complete,omitempty"`
	OnReject            []ActionDef      `json:"on_reject,omitempty" yaml:"on_reject,omitempty"`
	Version             int              `json:"version" yaml:"version,omitempty"`
	Active              bool             `json:"active" yaml:"active,omitempty"`
	CreatedAt           time.Time        `json:"created_at" yaml:"-"`
}

type StepDefinition struct {
	Name                string           `json:"name" yaml:"name"`
	Type                StepType         `json:"type" yaml:"type"`
	ApprovalType        ApprovalType     `json:"approval_type,omitempty" yaml:"approval_type,omitempty"`
	ApproverRole        string           `json:"approver_role,omitempty" yaml:"approver_role,omitempty"`
	Approvers           []string         `json:"approvers,omitempty" yaml:"approvers,omitempty"`
	SLAHours            float64          `json:"sla_hours,omitempty" yaml:"sla_hours,omitempty"`
	Condition           Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions             []ActionDef      `json:"actions,omitempty" yaml:"actions,omitempty"`
	ParallelSteps       []StepDefinition `json:"parallel_steps,omitempty" yaml:"parallel_steps,omitempty"`
	RequireAllApprovals *bool            `json:"require_all_approvals,omitempty" yaml:"require_all_approvals,omitempty"`
}

// Condition is the raw condition tree, either a leaf {field, operator, value}
// or a combinator {and: [...]}, {or: [...]}, {not: {...}}.
type Condition map[string]any

type ActionDef struct {
	Kind   ActionKind     `json:"kind" yaml:"kind"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// RequireAll resolves the parallel closure policy, the step overriding the template.
func (t *WorkflowTemplate) RequireAll(step *StepDefinition) bool {
	if step != nil && step.RequireAllApprovals != nil {
		return *step.RequireAllApprovals
	}
	if t.RequireAllApprovals != nil {
		return *t.RequireAllApprovals
	}
	return true
}

type EntityRef struct {
	Type string `json:"type"`
	Id   string `json:"id"`
}
