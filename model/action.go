package model

type ActionKind string

const ACTION_SEND_EMAIL ActionKind = "send_email"
const ACTION_CHANGE_STATUS ActionKind = "change_status"
const ACTION_CREATE_TASK ActionKind = "create_task"
const ACTION_WEBHOOK ActionKind = "webhook"
const ACTION_ESCALATE ActionKind = "escalate"
const ACTION_CREATE_ACTIONS ActionKind = "create_actions"
const ACTION_SCRIPT ActionKind = "script"

var VALID_ACTION_KINDS = []ActionKind{
	ACTION_SEND_EMAIL,
	ACTION_CHANGE_STATUS,
	ACTION_CREATE_TASK,
	ACTION_WEBHOOK,
	ACTION_ESCALATE,
	ACTION_CREATE_ACTIONS,
	ACTION_SCRIPT,
}
