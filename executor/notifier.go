package executor

import (
	"context"
	"time"

	"github.com/mohitkumar/grcflow/action"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/sla"
	"go.uber.org/zap"
)

// SLANotifier emails the initiator of an instance when its SLA warns or breaches.
type SLANotifier struct {
	instances persistence.InstanceStore
	executor  action.Executor
}

var _ sla.Listener = new(SLANotifier)

func NewSLANotifier(instances persistence.InstanceStore, executor action.Executor) *SLANotifier {
	return &SLANotifier{instances: instances, executor: executor}
}

func (n *SLANotifier) OnWarning(ctx context.Context, tracking *model.SLATracking) {
	n.send(ctx, tracking, "sla_warning", "SLA warning: resolution due soon")
}

func (n *SLANotifier) OnBreach(ctx context.Context, tracking *model.SLATracking) {
	n.send(ctx, tracking, "sla_breach", "SLA breached")
}

func (n *SLANotifier) send(ctx context.Context, tracking *model.SLATracking, template string, subject string) {
	inst, err := n.instances.GetInstance(ctx, tracking.InstanceId)
	if err != nil {
		logger.Error("error loading instance for sla notification", zap.String("instance", tracking.InstanceId), zap.Error(err))
		return
	}
	config := map[string]any{
		"to":             inst.InitiatedBy,
		"subject":        subject,
		"template":       template,
		"resolution_due": tracking.ResolutionDue.Format(time.RFC3339),
	}
	snapshot := map[string]any{"instance_id": inst.Id, "template_code": inst.TemplateCode, "priority": string(inst.Priority)}
	if _, err := n.executor.Execute(ctx, model.ACTION_SEND_EMAIL, config, inst.EntityRef(), snapshot); err != nil {
		logger.Error("error sending sla notification", zap.String("instance", inst.Id), zap.String("template", template), zap.Error(err))
	}
}
