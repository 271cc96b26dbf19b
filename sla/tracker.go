package sla

import (
	"context"
	"time"

	"github.com/google/uuid"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type Budget string

const BUDGET_ACKNOWLEDGMENT Budget = "acknowledgment"
const BUDGET_RESPONSE Budget = "response"
const BUDGET_RESOLUTION Budget = "resolution"

// Listener is told about a warning or a breach once per tracking record.
type Listener interface {
	OnWarning(ctx context.Context, tracking *model.SLATracking)
	OnBreach(ctx context.Context, tracking *model.SLATracking)
}

type noopListener struct{}

func (noopListener) OnWarning(context.Context, *model.SLATracking) {}
func (noopListener) OnBreach(context.Context, *model.SLATracking)  {}

// Listeners fans each event out to every listener in order.
type Listeners []Listener

func (ls Listeners) OnWarning(ctx context.Context, tracking *model.SLATracking) {
	for _, l := range ls {
		l.OnWarning(ctx, tracking)
	}
}

func (ls Listeners) OnBreach(ctx context.Context, tracking *model.SLATracking) {
	for _, l := range ls {
		l.OnBreach(ctx, tracking)
	}
}

type Tracker struct {
	store     persistence.SLAStore
	clock     util.Clock
	locks     *util.KeyedMutex
	listener  Listener
	batchSize int
}

// NewTracker shares locks with the engine so a scan never interleaves with a
// transition on the same instance.
func NewTracker(store persistence.SLAStore, clock util.Clock, locks *util.KeyedMutex, listener Listener, batchSize int) *Tracker {
	if listener == nil {
		listener = noopListener{}
	}
	if locks == nil {
		locks = util.NewKeyedMutex(0)
	}
	return &Tracker{
		store:     store,
		clock:     clock,
		locks:     locks,
		listener:  listener,
		batchSize: batchSize,
	}
}

// NewTracking computes the independent due times of every budget cfg defines.
func NewTracking(instanceId string, cfg *model.SLAConfiguration, start time.Time) *model.SLATracking {
	t := &model.SLATracking{
		Id:            uuid.NewString(),
		InstanceId:    instanceId,
		ConfigId:      cfg.Id,
		StartedAt:     start,
		ResolutionDue: DueTime(start, cfg.ResolutionHours, cfg),
	}
	if cfg.AcknowledgmentHours > 0 {
		due := DueTime(start, cfg.AcknowledgmentHours, cfg)
		t.AcknowledgmentDue = &due
	}
	if cfg.ResponseHours > 0 {
		due := DueTime(start, cfg.ResponseHours, cfg)
		t.ResponseDue = &due
	}
	threshold := cfg.WarningThresholdPercent
	if threshold <= 0 || threshold > 100 {
		threshold = DEFAULT_WARNING_THRESHOLD_PERCENT
	}
	warnAt := DueTime(start, cfg.ResolutionHours*threshold/100, cfg)
	t.WarningAt = &warnAt
	return t
}

// CheckWarning sets WarningSent once the elapsed share of the resolution
// budget passes the warning threshold. It reports whether this call flipped it.
func CheckWarning(t *model.SLATracking, now time.Time) bool {
	if t.WarningSent || t.ResolvedAt != nil {
		return false
	}
	if !now.After(t.WarnAt()) {
		return false
	}
	t.WarningSent = true
	return true
}

// CheckBreach sets IsBreached once now is past the resolution due time.
// Repeated calls after the flip return false.
func CheckBreach(t *model.SLATracking, now time.Time) bool {
	if t.IsBreached || t.ResolvedAt != nil {
		return false
	}
	if !now.After(t.ResolutionDue) {
		return false
	}
	t.IsBreached = true
	return true
}

// OverdueBudgets lists the budgets whose due time passed without being met.
func OverdueBudgets(t *model.SLATracking, now time.Time) []Budget {
	out := make([]Budget, 0, 3)
	if t.AcknowledgmentDue != nil && t.AcknowledgedAt == nil && now.After(*t.AcknowledgmentDue) {
		out = append(out, BUDGET_ACKNOWLEDGMENT)
	}
	if t.ResponseDue != nil && t.RespondedAt == nil && now.After(*t.ResponseDue) {
		out = append(out, BUDGET_RESPONSE)
	}
	if t.ResolvedAt == nil && now.After(t.ResolutionDue) {
		out = append(out, BUDGET_RESOLUTION)
	}
	return out
}

// ConfigFor returns the configuration for an entity type and priority, nil when none exists.
func (tr *Tracker) ConfigFor(ctx context.Context, entityType string, priority model.Priority) (*model.SLAConfiguration, error) {
	cfg, err := tr.store.FindConfig(ctx, entityType, priority)
	if err != nil {
		if api.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return cfg, nil
}

func (tr *Tracker) SaveConfig(ctx context.Context, cfg *model.SLAConfiguration) error {
	if len(cfg.EntityType) == 0 {
		return api.Invalidf("entity_type", "required")
	}
	if cfg.ResolutionHours <= 0 {
		return api.Invalidf("resolution_hours", "must be positive")
	}
	if cfg.BusinessHoursOnly && (cfg.BusinessEndHour <= cfg.BusinessStartHour || cfg.BusinessStartHour < 0 || cfg.BusinessEndHour > 24) {
		return api.Invalidf("business_hours", "window %d-%d is invalid", cfg.BusinessStartHour, cfg.BusinessEndHour)
	}
	if len(cfg.Id) == 0 {
		cfg.Id = uuid.NewString()
	}
	return tr.store.SaveConfig(ctx, cfg)
}

// Begin creates the tracking record of an instance when a configuration matches it.
func (tr *Tracker) Begin(ctx context.Context, inst *model.WorkflowInstance) (*model.SLATracking, error) {
	cfg, err := tr.ConfigFor(ctx, inst.EntityType, inst.Priority)
	if err != nil || cfg == nil {
		return nil, err
	}
	t := NewTracking(inst.Id, cfg, inst.StartedAt)
	if err := tr.store.SaveTracking(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (tr *Tracker) Acknowledge(ctx context.Context, instanceId string) error {
	return tr.stamp(ctx, instanceId, func(t *model.SLATracking, now time.Time) {
		if t.AcknowledgedAt == nil {
			t.AcknowledgedAt = &now
		}
	})
}

func (tr *Tracker) MarkResponded(ctx context.Context, instanceId string) error {
	return tr.stamp(ctx, instanceId, func(t *model.SLATracking, now time.Time) {
		if t.AcknowledgedAt == nil {
			t.AcknowledgedAt = &now
		}
		if t.RespondedAt == nil {
			t.RespondedAt = &now
		}
	})
}

// Resolve closes the tracking record, it leaves the open set.
func (tr *Tracker) Resolve(ctx context.Context, instanceId string) error {
	return tr.stamp(ctx, instanceId, func(t *model.SLATracking, now time.Time) {
		if t.ResolvedAt == nil {
			t.ResolvedAt = &now
		}
	})
}

// stamp is only called by the engine, which already holds the instance lock.
func (tr *Tracker) stamp(ctx context.Context, instanceId string, fn func(*model.SLATracking, time.Time)) error {
	t, err := tr.store.GetTracking(ctx, instanceId)
	if err != nil {
		if api.IsNotFound(err) {
			return nil
		}
		return err
	}
	fn(t, tr.clock.Now())
	return tr.store.SaveTracking(ctx, t)
}

type ScanResult struct {
	Scanned  int
	Warnings int
	Breaches int
}

// Scan flips the warning and breach flags of trackings whose next flip is
// due. A flipped tracking drops out of the due set, so a batch smaller than
// the backlog still reaches every record over successive scans. A failure on
// one record is collected and the rest are still processed.
func (tr *Tracker) Scan(ctx context.Context) (ScanResult, error) {
	var result ScanResult
	now := tr.clock.Now()
	due, err := tr.store.ListDueTrackings(ctx, now, tr.batchSize)
	if err != nil {
		return result, err
	}
	var errs error
	for _, candidate := range due {
		result.Scanned++
		t, warned, breached, err := tr.check(ctx, candidate.InstanceId, now)
		if err != nil {
			logger.Error("error checking sla tracking", zap.String("instance", candidate.InstanceId), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		if warned {
			result.Warnings++
			tr.listener.OnWarning(ctx, t)
		}
		if breached {
			result.Breaches++
			logger.Info("sla breached", zap.String("instance", t.InstanceId), zap.Any("overdue", OverdueBudgets(t, now)))
			tr.listener.OnBreach(ctx, t)
		}
	}
	return result, errs
}

// check re-reads the tracking under the instance lock before flipping it, the
// listed copy may be older than a stamp written since.
func (tr *Tracker) check(ctx context.Context, instanceId string, now time.Time) (*model.SLATracking, bool, bool, error) {
	unlock := tr.locks.Lock(instanceId)
	defer unlock()
	t, err := tr.store.GetTracking(ctx, instanceId)
	if err != nil {
		return nil, false, false, err
	}
	warned := CheckWarning(t, now)
	breached := CheckBreach(t, now)
	if !warned && !breached {
		return t, false, false, nil
	}
	if breached {
		t.BreachSent = true
	}
	if err := tr.store.SaveTracking(ctx, t); err != nil {
		return nil, false, false, err
	}
	return t, warned, breached, nil
}
