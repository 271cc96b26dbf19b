package analytics

import (
	"fmt"

	"github.com/mohitkumar/grcflow/engine"
	"github.com/mohitkumar/grcflow/escalation"
	"github.com/mohitkumar/grcflow/model"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "LOG_FILE_DATA_COLLECTOR"
const NOOP_DATA_COLLECTOR DataCollectorType = "NOOP_DATA_COLLECTOR"

// WorkflowDataCollector receives lifecycle events of workflow instances and
// the escalations raised against them.
type WorkflowDataCollector interface {
	engine.Observer
	escalation.Recorder
	Close() error
}

var _ WorkflowDataCollector = new(LogFileDataCollector)
var _ WorkflowDataCollector = new(noopCollector)

func NewDataCollector(config DataCollectorConfig) (WorkflowDataCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		return NewLogFileDataCollector(config.FileName)
	case NOOP_DATA_COLLECTOR, "":
		return noopCollector{}, nil
	}
	return nil, fmt.Errorf("unknown data collector %q", config.CollectorType)
}

type noopCollector struct{}

func (noopCollector) InstanceStarted(*model.WorkflowInstance)                       {}
func (noopCollector) StepFinished(*model.WorkflowInstance, *model.StepExecution)    {}
func (noopCollector) InstanceFinished(*model.WorkflowInstance)                      {}
func (noopCollector) ActionFailed(*model.WorkflowInstance, model.ActionKind, error) {}
func (noopCollector) RecordEscalation(*model.EscalationLog)                         {}
func (noopCollector) Close() error                                                  { return nil }
