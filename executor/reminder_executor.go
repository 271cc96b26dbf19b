package executor

import (
	"context"
	"time"

	"github.com/mohitkumar/grcflow/approval"
	"github.com/mohitkumar/grcflow/logger"
	"go.uber.org/zap"
)

const DEFAULT_REMINDER_WINDOW = 24 * time.Hour
const DEFAULT_REMINDER_INTERVAL = 24 * time.Hour

// ReminderExecutor nudges approvers whose requests fall due within the window.
type ReminderExecutor struct {
	coordinator *approval.Coordinator
	within      time.Duration
	interval    time.Duration
	recorder    SweepRecorder
	job         *cronJob
}

var _ Executor = new(ReminderExecutor)

func NewReminderExecutor(coordinator *approval.Coordinator, schedule string, within time.Duration, interval time.Duration, recorder SweepRecorder) (*ReminderExecutor, error) {
	if within <= 0 {
		within = DEFAULT_REMINDER_WINDOW
	}
	if interval <= 0 {
		interval = DEFAULT_REMINDER_INTERVAL
	}
	ex := &ReminderExecutor{
		coordinator: coordinator,
		within:      within,
		interval:    interval,
		recorder:    recorderOrNoop(recorder),
	}
	job, err := newCronJob(ex.Name(), schedule, ex.RunOnce)
	if err != nil {
		return nil, err
	}
	ex.job = job
	return ex, nil
}

func (ex *ReminderExecutor) Name() string {
	return "reminder-executor"
}

func (ex *ReminderExecutor) RunOnce(ctx context.Context) {
	sent, err := ex.coordinator.SendReminders(ctx, ex.within, ex.interval)
	ex.recorder.RecordSweep("reminders", err)
	if err != nil {
		logger.Error("error sending reminders", zap.Error(err))
	}
	if sent > 0 {
		logger.Info("reminders sent", zap.Int("count", sent))
	}
}

func (ex *ReminderExecutor) Start() error {
	return ex.job.Start()
}

func (ex *ReminderExecutor) Stop() error {
	return ex.job.Stop()
}
