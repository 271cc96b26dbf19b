package escalation

import (
	"time"

	"github.com/mohitkumar/grcflow/condition"
	"github.com/mohitkumar/grcflow/model"
)

// Matches reports whether rule fires for trigger once elapsed has reached the
// rule's threshold and its condition holds against attrs. Manual and
// rejection rules have no threshold.
func Matches(rule *model.EscalationRule, trigger model.EscalationTrigger, elapsed time.Duration, attrs map[string]any) bool {
	if rule.Trigger != trigger {
		return false
	}
	switch trigger {
	case model.TRIGGER_MANUAL, model.TRIGGER_REJECTION:
	default:
		if elapsed < rule.TriggerUnit.Duration(rule.TriggerValue) {
			return false
		}
	}
	return condition.Evaluate(rule.Condition, attrs)
}

// FirstMatch returns the first rule in template order that fires.
func FirstMatch(rules []model.EscalationRule, trigger model.EscalationTrigger, elapsed time.Duration, attrs map[string]any) *model.EscalationRule {
	for i := range rules {
		if Matches(&rules[i], trigger, elapsed, attrs) {
			return &rules[i]
		}
	}
	return nil
}

const RECOMMEND_SEND_REMINDER = "send_reminder"
const RECOMMEND_REASSIGN = "reassign_approver"
const RECOMMEND_MANAGEMENT = "escalate_to_management"

// Recommend suggests a follow-up for an instance overdue by hoursOverdue.
func Recommend(rule *model.EscalationRule, hoursOverdue float64) string {
	switch {
	case rule != nil && (len(rule.EscalateToUser) > 0 || len(rule.EscalateToRole) > 0):
		return RECOMMEND_REASSIGN
	case hoursOverdue >= 24:
		return RECOMMEND_MANAGEMENT
	default:
		return RECOMMEND_SEND_REMINDER
	}
}
