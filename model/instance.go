package model

import "time"

type InstanceStatus string

const INSTANCE_PENDING InstanceStatus = "pending"
const INSTANCE_IN_PROGRESS InstanceStatus = "in_progress"
const INSTANCE_AWAITING_APPROVAL InstanceStatus = "awaiting_approval"
const INSTANCE_COMPLETED InstanceStatus = "completed"
const INSTANCE_REJECTED InstanceStatus = "rejected"
const INSTANCE_CANCELLED InstanceStatus = "cancelled"
const INSTANCE_FAILED InstanceStatus = "failed"

func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case INSTANCE_COMPLETED, INSTANCE_REJECTED, INSTANCE_CANCELLED, INSTANCE_FAILED:
		return true
	}
	return false
}

func (s InstanceStatus) IsActive() bool {
	return s == INSTANCE_IN_PROGRESS || s == INSTANCE_AWAITING_APPROVAL
}

type Priority string

const PRIORITY_LOW Priority = "low"
const PRIORITY_MEDIUM Priority = "medium"
const PRIORITY_HIGH Priority = "high"
const PRIORITY_CRITICAL Priority = "critical"

var PRIORITY_ORDER = []Priority{PRIORITY_LOW, PRIORITY_MEDIUM, PRIORITY_HIGH, PRIORITY_CRITICAL}

// Raise returns the next priority tier, critical stays critical.
func (p Priority) Raise() Priority {
	for i, pr := range PRIORITY_ORDER {
		if pr == p && i+1 < len(PRIORITY_ORDER) {
			return PRIORITY_ORDER[i+1]
		}
	}
	if len(p) == 0 {
		return PRIORITY_HIGH
	}
	return PRIORITY_CRITICAL
}

type WorkflowInstance struct {
	Id              string         `json:"id"`
	TemplateCode    string         `json:"template_code"`
	TemplateVersion int            `json:"template_version"`
	EntityType      string         `json:"entity_type"`
	EntityId        string         `json:"entity_id"`
	Status          InstanceStatus `json:"status"`
	CurrentStep     int            `json:"current_step"`
	Priority        Priority       `json:"priority"`
	InitiatedBy     string         `json:"initiated_by"`
	SLADueAt        *time.Time     `json:"sla_due_at,omitempty"`
	SLAWarningAt    *time.Time     `json:"sla_warning_at,omitempty"`
	SLABreached     bool           `json:"sla_breached"`
	Escalated       bool           `json:"escalated"`
	EscalationLevel int            `json:"escalation_level"`
	Context         map[string]any `json:"context"`
	StartedAt       time.Time      `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Version         int64          `json:"version"`
}

func (i *WorkflowInstance) EntityRef() EntityRef {
	return EntityRef{Type: i.EntityType, Id: i.EntityId}
}

type StepStatus string

const STEP_PENDING StepStatus = "pending"
const STEP_STARTED StepStatus = "started"
const STEP_IN_PROGRESS StepStatus = "in_progress"
const STEP_AWAITING_APPROVAL StepStatus = "awaiting_approval"
const STEP_COMPLETED StepStatus = "completed"
const STEP_SKIPPED StepStatus = "skipped"

func (s StepStatus) IsOpen() bool {
	switch s {
	case STEP_PENDING, STEP_STARTED, STEP_IN_PROGRESS, STEP_AWAITING_APPROVAL:
		return true
	}
	return false
}

// IsWaiting reports whether the step is blocked on an external actor.
func (s StepStatus) IsWaiting() bool {
	return s == STEP_IN_PROGRESS || s == STEP_AWAITING_APPROVAL
}

const OUTCOME_APPROVED = "approved"
const OUTCOME_REJECTED = "rejected"
const OUTCOME_COMPLETED = "completed"
const OUTCOME_CANCELLED = "cancelled"
const OUTCOME_SKIPPED = "skipped"
const OUTCOME_CONDITION_MET = "condition_met"
const OUTCOME_FAILED = "failed"

type StepExecution struct {
	Id                string       `json:"id"`
	InstanceId        string       `json:"instance_id"`
	ParentId          string       `json:"parent_id,omitempty"`
	Path              string       `json:"path"`
	Depth             int          `json:"depth"`
	StepNumber        int          `json:"step_number"`
	StepName          string       `json:"step_name"`
	StepType          StepType     `json:"step_type"`
	ApprovalType      ApprovalType `json:"approval_type,omitempty"`
	RequireAll        bool         `json:"require_all"`
	RequiredApprovers []string     `json:"required_approvers,omitempty"`
	ActualApprovers   []string     `json:"actual_approvers,omitempty"`
	Status            StepStatus   `json:"status"`
	StartedAt         *time.Time   `json:"started_at,omitempty"`
	DueAt             *time.Time   `json:"due_at,omitempty"`
	Outcome           string       `json:"outcome,omitempty"`
	OutcomeBy         string       `json:"outcome_by,omitempty"`
	OutcomeAt         *time.Time   `json:"outcome_at,omitempty"`
	Notes             string       `json:"notes,omitempty"`
}

func (s *StepExecution) IsTopLevel() bool {
	return len(s.ParentId) == 0
}
