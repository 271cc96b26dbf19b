package model

import "time"

type SLAConfiguration struct {
	Id                      string   `json:"id" yaml:"id"`
	EntityType              string   `json:"entity_type" yaml:"entity_type"`
	Priority                Priority `json:"priority" yaml:"priority"`
	AcknowledgmentHours     float64  `json:"acknowledgment_hours,omitempty" yaml:"acknowledgment_hours,omitempty"`
	ResponseHours           float64  `json:"response_hours,omitempty" yaml:"response_hours,omitempty"`
	ResolutionHours         float64  `json:"resolution_hours" yaml:"resolution_hours"`
	BusinessHoursOnly       bool     `json:"business_hours_only" yaml:"business_hours_only"`
	BusinessStartHour       int      `json:"business_start_hour" yaml:"business_start_hour"`
	BusinessEndHour         int      `json:"business_end_hour" yaml:"business_end_hour"`
	ExcludeWeekends         bool     `json:"exclude_weekends" yaml:"exclude_weekends"`
	WarningThresholdPercent float64  `json:"warning_threshold_percent" yaml:"warning_threshold_percent"`
}

type SLATracking struct {
	Id                string     `json:"id"`
	InstanceId        string     `json:"instance_id"`
	ConfigId          string     `json:"config_id"`
	StartedAt         time.Time  `json:"started_at"`
	AcknowledgmentDue *time.Time `json:"acknowledgment_due,omitempty"`
	ResponseDue       *time.Time `json:"response_due,omitempty"`
	ResolutionDue     time.Time  `json:"resolution_due"`
	WarningAt         *time.Time `json:"warning_at,omitempty"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty"`
	RespondedAt       *time.Time `json:"responded_at,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	WarningSent       bool       `json:"warning_sent"`
	BreachSent        bool       `json:"breach_sent"`
	IsBreached        bool       `json:"is_breached"`
}

const DEFAULT_WARNING_THRESHOLD_PERCENT = 80

func (t *SLATracking) IsOpen() bool {
	return t.ResolvedAt == nil
}

// WarnAt falls back to the default threshold of the resolution budget when
// WarningAt was never computed.
func (t *SLATracking) WarnAt() time.Time {
	if t.WarningAt != nil {
		return *t.WarningAt
	}
	budget := t.ResolutionDue.Sub(t.StartedAt)
	return t.StartedAt.Add(budget * DEFAULT_WARNING_THRESHOLD_PERCENT / 100)
}

// Pending reports whether the warning or the breach flag can still flip.
func (t *SLATracking) Pending() bool {
	return t.IsOpen() && !(t.WarningSent && t.IsBreached)
}

// NextCheck is the time the next flag flips.
func (t *SLATracking) NextCheck() time.Time {
	if !t.WarningSent {
		return t.WarnAt()
	}
	return t.ResolutionDue
}
