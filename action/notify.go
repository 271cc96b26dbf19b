package action

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type Notification struct {
	To       []string
	Subject  string
	Body     string
	Template string
	Entity   model.EntityRef
	Data     map[string]any
}

// Notifier delivers notifications, real transports live outside the engine.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger.Info("notification", zap.Strings("to", n.To), zap.String("subject", n.Subject), zap.String("template", n.Template), zap.String("entity", n.Entity.Id))
	return nil
}

type Task struct {
	Id          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Assignee    string          `json:"assignee,omitempty"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
	Entity      model.EntityRef `json:"entity"`
}

// TaskSink creates follow-up tasks or remediation actions in the host application.
type TaskSink interface {
	CreateTasks(ctx context.Context, tasks []Task) error
}

type LogTaskSink struct{}

func (LogTaskSink) CreateTasks(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		logger.Info("task created", zap.String("id", t.Id), zap.String("title", t.Title), zap.String("assignee", t.Assignee))
	}
	return nil
}

type sendEmailHandler struct {
	notifier Notifier
}

func NewSendEmailHandler(notifier Notifier) *sendEmailHandler {
	return &sendEmailHandler{notifier: notifier}
}

func (h *sendEmailHandler) Validate(config map[string]any) error {
	return requireKey(config, "to")
}

func (h *sendEmailHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	n := Notification{
		To:       stringList(req.Config, "to"),
		Subject:  stringValue(req.Config, "subject"),
		Body:     stringValue(req.Config, "body"),
		Template: stringValue(req.Config, "template"),
		Entity:   req.Entity,
		Data:     req.Snapshot,
	}
	if len(n.To) == 0 {
		return Result{}, errMissing("to")
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		return Result{}, err
	}
	return Result{Output: map[string]any{"recipients": len(n.To)}}, nil
}

type changeStatusHandler struct{}

func NewChangeStatusHandler() *changeStatusHandler {
	return &changeStatusHandler{}
}

func (h *changeStatusHandler) Validate(config map[string]any) error {
	return requireKey(config, "status")
}

// Execute never touches the entity itself, the new status flows back through the context.
func (h *changeStatusHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	status := stringValue(req.Config, "status")
	if len(status) == 0 {
		return Result{}, errMissing("status")
	}
	field := stringValue(req.Config, "field")
	if len(field) == 0 {
		field = "status"
	}
	return Result{
		Output:  map[string]any{"previous_status": req.Snapshot[field]},
		Context: map[string]any{field: status},
	}, nil
}

type createTaskHandler struct {
	sink  TaskSink
	clock util.Clock
}

func NewCreateTaskHandler(sink TaskSink, clock util.Clock) *createTaskHandler {
	return &createTaskHandler{sink: sink, clock: clock}
}

func (h *createTaskHandler) Validate(config map[string]any) error {
	return requireKey(config, "title")
}

func (h *createTaskHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	task, err := toTask(req.Config, req.Entity, h.clock.Now())
	if err != nil {
		return Result{}, err
	}
	if err := h.sink.CreateTasks(ctx, []Task{task}); err != nil {
		return Result{}, err
	}
	return Result{Output: map[string]any{"task_id": task.Id}}, nil
}

type createActionsHandler struct {
	sink  TaskSink
	clock util.Clock
}

func NewCreateActionsHandler(sink TaskSink, clock util.Clock) *createActionsHandler {
	return &createActionsHandler{sink: sink, clock: clock}
}

func (h *createActionsHandler) Validate(config map[string]any) error {
	items, ok := config["actions"].([]any)
	if !ok || len(items) == 0 {
		return errMissing("actions")
	}
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return errMissing("actions.title")
		}
		if err := requireKey(m, "title"); err != nil {
			return err
		}
	}
	return nil
}

func (h *createActionsHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	if err := h.Validate(req.Config); err != nil {
		return Result{}, err
	}
	items := req.Config["actions"].([]any)
	now := h.clock.Now()
	tasks := make([]Task, 0, len(items))
	ids := make([]any, 0, len(items))
	for _, item := range items {
		task, err := toTask(item.(map[string]any), req.Entity, now)
		if err != nil {
			return Result{}, err
		}
		tasks = append(tasks, task)
		ids = append(ids, task.Id)
	}
	if err := h.sink.CreateTasks(ctx, tasks); err != nil {
		return Result{}, err
	}
	return Result{Output: map[string]any{"task_ids": ids}}, nil
}

func toTask(config map[string]any, entity model.EntityRef, now time.Time) (Task, error) {
	title := stringValue(config, "title")
	if len(title) == 0 {
		return Task{}, errMissing("title")
	}
	task := Task{
		Id:          uuid.NewString(),
		Title:       title,
		Description: stringValue(config, "description"),
		Assignee:    stringValue(config, "assignee"),
		Entity:      entity,
	}
	if hours, ok := floatValue(config, "due_hours"); ok {
		due := now.Add(time.Duration(hours * float64(time.Hour)))
		task.DueAt = &due
	}
	return task, nil
}

type escalateHandler struct{}

func NewEscalateHandler() *escalateHandler {
	return &escalateHandler{}
}

func (h *escalateHandler) Validate(config map[string]any) error {
	if p := stringValue(config, "priority"); len(p) > 0 && !slices.Contains(model.PRIORITY_ORDER, model.Priority(p)) {
		return errInvalid("priority", p)
	}
	return nil
}

// Execute only echoes, the engine applies the escalation under the instance lock.
func (h *escalateHandler) Execute(ctx context.Context, req *Request) (Result, error) {
	return Result{Output: map[string]any{"escalate": true}}, nil
}
