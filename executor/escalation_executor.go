package executor

import (
	"context"
	"sync"
	"time"

	"github.com/mohitkumar/grcflow/escalation"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
)

type EscalationExecutor struct {
	manager  *escalation.Manager
	recorder SweepRecorder
	tw       *util.TickWorker
}

var _ Executor = new(EscalationExecutor)

func NewEscalationExecutor(manager *escalation.Manager, interval time.Duration, recorder SweepRecorder, wg *sync.WaitGroup) *EscalationExecutor {
	ex := &EscalationExecutor{
		manager:  manager,
		recorder: recorderOrNoop(recorder),
	}
	ex.tw = util.NewTickWorker("escalation-worker", interval, ex.RunOnce, wg)
	return ex
}

func (ex *EscalationExecutor) Name() string {
	return "escalation-executor"
}

// RunOnce performs a single escalation sweep.
func (ex *EscalationExecutor) RunOnce() {
	events, err := ex.manager.CheckEscalations(context.Background())
	ex.recorder.RecordSweep("escalations", err)
	if err != nil {
		logger.Error("error checking escalations", zap.Error(err))
	}
	if len(events) > 0 {
		logger.Info("escalation sweep", zap.Int("escalated", len(events)))
	}
}

func (ex *EscalationExecutor) Start() error {
	ex.tw.Start()
	return nil
}

func (ex *EscalationExecutor) Stop() error {
	ex.tw.Stop()
	return nil
}
