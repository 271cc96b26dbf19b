package sla

import (
	"time"

	"github.com/mohitkumar/grcflow/model"
)

const DEFAULT_BUSINESS_START_HOUR = 9
const DEFAULT_BUSINESS_END_HOUR = 17
const DEFAULT_WARNING_THRESHOLD_PERCENT = model.DEFAULT_WARNING_THRESHOLD_PERCENT

// maxBusinessDays stops the window walk on budgets that could never be consumed.
const maxBusinessDays = 3660

// DueTime adds budgetHours to start. Without business hours the result is a
// flat offset. Otherwise the budget is consumed only inside each business
// day's [start hour, end hour) window, weekends skipped when excluded, and
// whatever does not fit rolls into the next business day at its start hour.
func DueTime(start time.Time, budgetHours float64, cfg *model.SLAConfiguration) time.Time {
	budget := hoursToDuration(budgetHours)
	if cfg == nil || !cfg.BusinessHoursOnly {
		return start.Add(budget)
	}
	return addBusinessTime(start, budget, cfg)
}

func addBusinessTime(start time.Time, budget time.Duration, cfg *model.SLAConfiguration) time.Time {
	startHour, endHour := window(cfg)
	cur := start
	remaining := budget
	if remaining <= 0 {
		return start
	}
	for day := 0; day < maxBusinessDays; day++ {
		if !isBusinessDay(cur, cfg) {
			cur = nextDayAt(cur, startHour)
			continue
		}
		open := atHour(cur, startHour)
		closing := atHour(cur, endHour)
		if cur.Before(open) {
			cur = open
		}
		if !cur.Before(closing) {
			cur = nextDayAt(cur, startHour)
			continue
		}
		available := closing.Sub(cur)
		if remaining <= available {
			return cur.Add(remaining)
		}
		remaining -= available
		cur = nextDayAt(cur, startHour)
	}
	return cur.Add(remaining)
}

// BusinessElapsed measures the business time between from and to under cfg.
func BusinessElapsed(from, to time.Time, cfg *model.SLAConfiguration) time.Duration {
	if !to.After(from) {
		return 0
	}
	if cfg == nil || !cfg.BusinessHoursOnly {
		return to.Sub(from)
	}
	startHour, endHour := window(cfg)
	var elapsed time.Duration
	cur := from
	for day := 0; day < maxBusinessDays && cur.Before(to); day++ {
		if isBusinessDay(cur, cfg) {
			open := atHour(cur, startHour)
			closing := atHour(cur, endHour)
			if cur.Before(open) {
				cur = open
			}
			end := closing
			if to.Before(end) {
				end = to
			}
			if end.After(cur) {
				elapsed += end.Sub(cur)
			}
		}
		cur = nextDayAt(cur, startHour)
	}
	return elapsed
}

func window(cfg *model.SLAConfiguration) (int, int) {
	startHour, endHour := cfg.BusinessStartHour, cfg.BusinessEndHour
	if startHour < 0 || endHour > 24 || endHour <= startHour {
		return DEFAULT_BUSINESS_START_HOUR, DEFAULT_BUSINESS_END_HOUR
	}
	return startHour, endHour
}

func isBusinessDay(t time.Time, cfg *model.SLAConfiguration) bool {
	if !cfg.ExcludeWeekends {
		return true
	}
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func atHour(t time.Time, hour int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, hour, 0, 0, 0, t.Location())
}

func nextDayAt(t time.Time, hour int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, hour, 0, 0, 0, t.Location())
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
