package model

import "time"

type RequestStatus string

const REQUEST_PENDING RequestStatus = "pending"
const REQUEST_APPROVED RequestStatus = "approved"
const REQUEST_REJECTED RequestStatus = "rejected"
const REQUEST_CANCELLED RequestStatus = "cancelled"

type Decision string

const DECISION_APPROVE Decision = "approve"
const DECISION_REJECT Decision = "reject"

func (d Decision) Valid() bool {
	return d == DECISION_APPROVE || d == DECISION_REJECT
}

func (d Decision) RequestStatus() RequestStatus {
	if d == DECISION_APPROVE {
		return REQUEST_APPROVED
	}
	return REQUEST_REJECTED
}

func (d Decision) Outcome() string {
	if d == DECISION_APPROVE {
		return OUTCOME_APPROVED
	}
	return OUTCOME_REJECTED
}

type ApprovalRequest struct {
	Id             string        `json:"id"`
	StepId         string        `json:"step_id"`
	InstanceId     string        `json:"instance_id"`
	TemplateCode   string        `json:"template_code"`
	Sequence       int           `json:"sequence"`
	Approver       string        `json:"approver"`
	DelegateTo     string        `json:"delegate_to,omitempty"`
	DelegateReason string        `json:"delegate_reason,omitempty"`
	Status         RequestStatus `json:"status"`
	Response       string        `json:"response,omitempty"`
	Comments       string        `json:"comments,omitempty"`
	RespondedBy    string        `json:"responded_by,omitempty"`
	RespondedAt    *time.Time    `json:"responded_at,omitempty"`
	DueAt          *time.Time    `json:"due_at,omitempty"`
	ReminderCount  int           `json:"reminder_count"`
	LastReminderAt *time.Time    `json:"last_reminder_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
