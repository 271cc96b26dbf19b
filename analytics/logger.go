package analytics

import (
	"os"

	"github.com/mohitkumar/grcflow/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFileDataCollector appends one JSON line per event to a file.
type LogFileDataCollector struct {
	fileName string
	file     *os.File
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(fileEncoder, zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		file:     logFile,
		logger:   zap.New(core),
	}, nil
}

func instanceFields(inst *model.WorkflowInstance) []zap.Field {
	return []zap.Field{
		zap.String("instance", inst.Id),
		zap.String("template", inst.TemplateCode),
		zap.Int("version", inst.TemplateVersion),
		zap.String("entity_type", inst.EntityType),
		zap.String("entity_id", inst.EntityId),
		zap.String("priority", string(inst.Priority)),
	}
}

func (lc *LogFileDataCollector) InstanceStarted(inst *model.WorkflowInstance) {
	lc.logger.Info("instance_started", append(instanceFields(inst), zap.String("initiated_by", inst.InitiatedBy))...)
}

func (lc *LogFileDataCollector) StepFinished(inst *model.WorkflowInstance, step *model.StepExecution) {
	fields := append(instanceFields(inst), zap.String("step", step.StepName), zap.String("path", step.Path),
		zap.String("outcome", step.Outcome), zap.String("by", step.OutcomeBy))
	if step.StartedAt != nil && step.OutcomeAt != nil {
		fields = append(fields, zap.Duration("duration", step.OutcomeAt.Sub(*step.StartedAt)))
	}
	lc.logger.Info("step_finished", fields...)
}

func (lc *LogFileDataCollector) InstanceFinished(inst *model.WorkflowInstance) {
	fields := append(instanceFields(inst), zap.String("status", string(inst.Status)), zap.Bool("sla_breached", inst.SLABreached),
		zap.Int("escalation_level", inst.EscalationLevel))
	if inst.CompletedAt != nil {
		fields = append(fields, zap.Duration("duration", inst.CompletedAt.Sub(inst.StartedAt)))
	}
	lc.logger.Info("instance_finished", fields...)
}

func (lc *LogFileDataCollector) ActionFailed(inst *model.WorkflowInstance, kind model.ActionKind, err error) {
	lc.logger.Info("action_failed", append(instanceFields(inst), zap.String("action", string(kind)), zap.String("reason", err.Error()))...)
}

func (lc *LogFileDataCollector) RecordEscalation(log *model.EscalationLog) {
	lc.logger.Info("escalation", zap.String("instance", log.InstanceId), zap.String("trigger", string(log.Trigger)),
		zap.String("rule", log.Rule), zap.Int("level", log.Level), zap.String("from_priority", string(log.PreviousPriority)),
		zap.String("to_priority", string(log.NewPriority)), zap.Float64("hours_overdue", log.HoursOverdue))
}

func (lc *LogFileDataCollector) Close() error {
	_ = lc.logger.Sync()
	return lc.file.Close()
}
