package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/mohitkumar/grcflow/logger"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Executor is a background job started and stopped by the agent.
type Executor interface {
	Name() string
	Start() error
	Stop() error
}

// SweepRecorder counts sweep runs.
type SweepRecorder interface {
	RecordSweep(job string, err error)
}

type noopRecorder struct{}

func (noopRecorder) RecordSweep(string, error) {}

func recorderOrNoop(r SweepRecorder) SweepRecorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

// cronJob runs fn on a cron schedule. Overlapping runs are skipped.
type cronJob struct {
	name     string
	schedule string
	fn       func(ctx context.Context)
	cron     *cron.Cron
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
}

func newCronJob(name string, schedule string, fn func(ctx context.Context)) (*cronJob, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	return &cronJob{
		name:     name,
		schedule: schedule,
		fn:       fn,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}, nil
}

func (j *cronJob) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if _, err := j.cron.AddFunc(j.schedule, func() { j.fn(ctx) }); err != nil {
		cancel()
		return err
	}
	j.cancel = cancel
	j.cron.Start()
	j.running = true
	logger.Info("executor started", zap.String("executor", j.name), zap.String("schedule", j.schedule))
	return nil
}

func (j *cronJob) Stop() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return nil
	}
	j.cancel()
	<-j.cron.Stop().Done()
	j.running = false
	logger.Info("executor stopped", zap.String("executor", j.name))
	return nil
}
