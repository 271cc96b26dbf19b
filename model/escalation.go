package model

import "time"

type EscalationTrigger string

const TRIGGER_TIME_ELAPSED EscalationTrigger = "time_elapsed"
const TRIGGER_SLA_BREACH EscalationTrigger = "sla_breach"
const TRIGGER_NO_RESPONSE EscalationTrigger = "no_response"
const TRIGGER_REJECTION EscalationTrigger = "rejection"
const TRIGGER_MANUAL EscalationTrigger = "manual"

var VALID_TRIGGERS = []EscalationTrigger{TRIGGER_TIME_ELAPSED, TRIGGER_SLA_BREACH, TRIGGER_NO_RESPONSE, TRIGGER_REJECTION, TRIGGER_MANUAL}

type TriggerUnit string

const UNIT_MINUTES TriggerUnit = "minutes"
const UNIT_HOURS TriggerUnit = "hours"
const UNIT_DAYS TriggerUnit = "days"

func (u TriggerUnit) Duration(value float64) time.Duration {
	switch u {
	case UNIT_MINUTES:
		return time.Duration(value * float64(time.Minute))
	case UNIT_DAYS:
		return time.Duration(value * 24 * float64(time.Hour))
	default:
		return time.Duration(value * float64(time.Hour))
	}
}

type EscalationRule struct {
	Name             string            `json:"name" yaml:"name"`
	Trigger          EscalationTrigger `json:"trigger" yaml:"trigger"`
	TriggerValue     float64           `json:"trigger_value,omitempty" yaml:"trigger_value,omitempty"`
	TriggerUnit      TriggerUnit       `json:"trigger_unit,omitempty" yaml:"trigger_unit,omitempty"`
	Condition        Condition         `json:"condition,omitempty" yaml:"condition,omitempty"`
	EscalateToRole   string            `json:"escalate_to_role,omitempty" yaml:"escalate_to_role,omitempty"`
	EscalateToUser   string            `json:"escalate_to_user,omitempty" yaml:"escalate_to_user,omitempty"`
	PriorityOverride Priority          `json:"priority_override,omitempty" yaml:"priority_override,omitempty"`
	Notify           bool              `json:"notify,omitempty" yaml:"notify,omitempty"`
}

type EscalationLog struct {
	Id                string            `json:"id"`
	InstanceId        string            `json:"instance_id"`
	Level             int               `json:"level"`
	Trigger           EscalationTrigger `json:"trigger"`
	Rule              string            `json:"rule,omitempty"`
	StepName          string            `json:"step_name,omitempty"`
	FromActor         string            `json:"from_actor,omitempty"`
	ToActor           string            `json:"to_actor,omitempty"`
	ToRole            string            `json:"to_role,omitempty"`
	PreviousPriority  Priority          `json:"previous_priority,omitempty"`
	NewPriority       Priority          `json:"new_priority,omitempty"`
	Reason            string            `json:"reason"`
	HoursOverdue      float64           `json:"hours_overdue,omitempty"`
	RecommendedAction string            `json:"recommended_action,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}
