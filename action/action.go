package action

import (
	"context"
	"fmt"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
)

type Result struct {
	Success bool             `json:"success"`
	Kind    model.ActionKind `json:"action_kind"`
	Output  map[string]any   `json:"output,omitempty"`
	// Context holds values to merge into the instance context.
	Context map[string]any `json:"context,omitempty"`
}

// Executor runs one side-effecting action against an entity. Delivery behind it is replaceable.
type Executor interface {
	Execute(ctx context.Context, kind model.ActionKind, config map[string]any, entity model.EntityRef, snapshot map[string]any) (Result, error)
}

type Request struct {
	Kind     model.ActionKind
	Config   map[string]any
	Entity   model.EntityRef
	Snapshot map[string]any
}

type Handler interface {
	Validate(config map[string]any) error
	Execute(ctx context.Context, req *Request) (Result, error)
}

var _ Executor = new(Dispatcher)

// Dispatcher maps every action kind to its handler.
type Dispatcher struct {
	handlers map[model.ActionKind]Handler
}

type Options struct {
	Notifier Notifier
	Tasks    TaskSink
	Webhook  WebhookConfig
	Script   ScriptConfig
	Clock    util.Clock
}

func NewDispatcher(opts Options) *Dispatcher {
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{}
	}
	if opts.Tasks == nil {
		opts.Tasks = LogTaskSink{}
	}
	if opts.Clock == nil {
		opts.Clock = util.NewSystemClock()
	}
	d := &Dispatcher{handlers: make(map[model.ActionKind]Handler)}
	d.Register(model.ACTION_SEND_EMAIL, NewSendEmailHandler(opts.Notifier))
	d.Register(model.ACTION_CHANGE_STATUS, NewChangeStatusHandler())
	d.Register(model.ACTION_CREATE_TASK, NewCreateTaskHandler(opts.Tasks, opts.Clock))
	d.Register(model.ACTION_CREATE_ACTIONS, NewCreateActionsHandler(opts.Tasks, opts.Clock))
	d.Register(model.ACTION_WEBHOOK, NewWebhookHandler(opts.Webhook))
	d.Register(model.ACTION_ESCALATE, NewEscalateHandler())
	d.Register(model.ACTION_SCRIPT, NewScriptHandler(opts.Script))
	return d
}

func (d *Dispatcher) Register(kind model.ActionKind, h Handler) {
	d.handlers[kind] = h
}

// Validate checks an action definition when its template is registered.
func (d *Dispatcher) Validate(kind model.ActionKind, config map[string]any) error {
	h, ok := d.handlers[kind]
	if !ok {
		return api.Invalidf("kind", "unknown action kind %q", kind)
	}
	return h.Validate(config)
}

func (d *Dispatcher) Execute(ctx context.Context, kind model.ActionKind, config map[string]any, entity model.EntityRef, snapshot map[string]any) (Result, error) {
	h, ok := d.handlers[kind]
	if !ok {
		return Result{Kind: kind}, api.Invalidf("kind", "unknown action kind %q", kind)
	}
	resolved := config
	if kind != model.ACTION_SCRIPT {
		resolved = util.ResolveParams(snapshot, config)
	}
	req := &Request{Kind: kind, Config: resolved, Entity: entity, Snapshot: snapshot}
	res, err := h.Execute(ctx, req)
	res.Kind = kind
	if err != nil {
		res.Success = false
		logger.Error("action failed", zap.String("kind", string(kind)), zap.String("entity", entity.Id), zap.Error(err))
		return res, fmt.Errorf("action %s failed: %w", kind, err)
	}
	res.Success = true
	res.Output = echo(resolved, res.Output)
	return res, nil
}

// echo returns the resolved config overlaid with the handler's output.
func echo(config map[string]any, output map[string]any) map[string]any {
	out := make(map[string]any, len(config)+len(output))
	for k, v := range config {
		out[k] = v
	}
	for k, v := range output {
		out[k] = v
	}
	return out
}

func stringValue(config map[string]any, key string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func stringList(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case string:
		if len(v) == 0 {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && len(s) > 0 {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func floatValue(config map[string]any, key string) (float64, bool) {
	switch v := config[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func requireKey(config map[string]any, key string) error {
	if len(stringValue(config, key)) == 0 && len(stringList(config, key)) == 0 {
		return errMissing(key)
	}
	return nil
}

func errMissing(key string) error {
	return api.Invalidf(key, "required")
}

func errInvalid(key string, value string) error {
	return api.Invalidf(key, "invalid value %q", value)
}
