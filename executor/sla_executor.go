package executor

import (
	"context"

	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/sla"
	"go.uber.org/zap"
)

// SLAExecutor scans open SLA trackings on a cron schedule.
type SLAExecutor struct {
	tracker  *sla.Tracker
	recorder SweepRecorder
	job      *cronJob
}

var _ Executor = new(SLAExecutor)

func NewSLAExecutor(tracker *sla.Tracker, schedule string, recorder SweepRecorder) (*SLAExecutor, error) {
	ex := &SLAExecutor{
		tracker:  tracker,
		recorder: recorderOrNoop(recorder),
	}
	job, err := newCronJob(ex.Name(), schedule, ex.RunOnce)
	if err != nil {
		return nil, err
	}
	ex.job = job
	return ex, nil
}

func (ex *SLAExecutor) Name() string {
	return "sla-executor"
}

func (ex *SLAExecutor) RunOnce(ctx context.Context) {
	res, err := ex.tracker.Scan(ctx)
	ex.recorder.RecordSweep("sla", err)
	if err != nil {
		logger.Error("error scanning sla trackings", zap.Error(err))
	}
	if res.Warnings > 0 || res.Breaches > 0 {
		logger.Info("sla scan", zap.Int("scanned", res.Scanned), zap.Int("warnings", res.Warnings), zap.Int("breaches", res.Breaches))
	}
}

func (ex *SLAExecutor) Start() error {
	return ex.job.Start()
}

func (ex *SLAExecutor) Stop() error {
	return ex.job.Stop()
}
