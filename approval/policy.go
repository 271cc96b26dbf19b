package approval

import "github.com/mohitkumar/grcflow/model"

type Tally struct {
	Approved int
	Rejected int
	Pending  int
	// Total is the number of approvers the step addresses.
	Total int
}

func Count(requests []*model.ApprovalRequest, total int) Tally {
	t := Tally{Total: total}
	for _, r := range requests {
		switch r.Status {
		case model.REQUEST_APPROVED:
			t.Approved++
		case model.REQUEST_REJECTED:
			t.Rejected++
		case model.REQUEST_PENDING:
			t.Pending++
		}
	}
	return t
}

func (t Tally) Responded() int {
	return t.Approved + t.Rejected
}

// Decide applies an approval policy to the responses collected so far. It
// returns the step outcome once the policy is satisfied.
//
//	sequential  any rejection ends the step, the last approval completes it
//	parallel    waits for every approver, rejected if anyone rejected;
//	            without requireAll the first response decides
//	any         the first response decides
//	majority    strictly more than half with the same decision; a tie once
//	            everyone responded is a rejection
func Decide(approvalType model.ApprovalType, requireAll bool, t Tally) (bool, string) {
	switch approvalType {
	case model.APPROVAL_PARALLEL:
		if !requireAll {
			return decideAny(t)
		}
		if t.Responded() < t.Total {
			return false, ""
		}
		if t.Rejected > 0 {
			return true, model.OUTCOME_REJECTED
		}
		return true, model.OUTCOME_APPROVED
	case model.APPROVAL_ANY:
		return decideAny(t)
	case model.APPROVAL_MAJORITY:
		threshold := t.Total/2 + 1
		if t.Approved >= threshold {
			return true, model.OUTCOME_APPROVED
		}
		if t.Rejected >= threshold {
			return true, model.OUTCOME_REJECTED
		}
		if t.Responded() >= t.Total {
			return true, model.OUTCOME_REJECTED
		}
		return false, ""
	default:
		if t.Rejected > 0 {
			return true, model.OUTCOME_REJECTED
		}
		if t.Approved >= t.Total {
			return true, model.OUTCOME_APPROVED
		}
		return false, ""
	}
}

func decideAny(t Tally) (bool, string) {
	if t.Rejected > 0 {
		return true, model.OUTCOME_REJECTED
	}
	if t.Approved > 0 {
		return true, model.OUTCOME_APPROVED
	}
	return false, ""
}
