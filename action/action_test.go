package action

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

type recordingSink struct {
	tasks []Task
}

func (r *recordingSink) CreateTasks(ctx context.Context, tasks []Task) error {
	r.tasks = append(r.tasks, tasks...)
	return nil
}

var entity = model.EntityRef{Type: "vendor", Id: "v-1"}

func newTestDispatcher(n Notifier, s TaskSink) *Dispatcher {
	return NewDispatcher(Options{
		Notifier: n,
		Tasks:    s,
		Webhook:  WebhookConfig{MaxRetries: 3, InitialInterval: time.Millisecond},
		Script:   ScriptConfig{Timeout: 100 * time.Millisecond},
		Clock:    util.NewFakeClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)),
	})
}

func TestDispatcher(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"send email resolves params":    testSendEmail,
		"change status updates context": testChangeStatus,
		"create task and actions":       testCreateTasks,
		"unknown kind":                  testUnknownKind,
		"escalate echoes":               testEscalate,
		"validate":                      testValidate,
	} {
		t.Run(scenario, fn)
	}
}

func testSendEmail(t *testing.T) {
	n := &recordingNotifier{}
	d := newTestDispatcher(n, nil)
	snapshot := map[string]any{"owner": "alice", "title": "Acme"}
	res, err := d.Execute(context.Background(), model.ACTION_SEND_EMAIL, map[string]any{
		"to":      "{$.owner}",
		"subject": "Review {$.title}",
	}, entity, snapshot)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, model.ACTION_SEND_EMAIL, res.Kind)
	require.Equal(t, "Review Acme", res.Output["subject"])
	require.Len(t, n.sent, 1)
	require.Equal(t, []string{"alice"}, n.sent[0].To)
	require.Equal(t, "Review Acme", n.sent[0].Subject)
}

func testChangeStatus(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	res, err := d.Execute(context.Background(), model.ACTION_CHANGE_STATUS, map[string]any{"status": "approved"}, entity, map[string]any{"status": "draft"})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"status": "approved"}, res.Context)
	require.Equal(t, "draft", res.Output["previous_status"])
}

func testCreateTasks(t *testing.T) {
	sink := &recordingSink{}
	d := newTestDispatcher(nil, sink)
	_, err := d.Execute(context.Background(), model.ACTION_CREATE_TASK, map[string]any{"title": "Collect SOC2 report", "due_hours": 24}, entity, nil)
	require.NoError(t, err)
	res, err := d.Execute(context.Background(), model.ACTION_CREATE_ACTIONS, map[string]any{
		"actions": []any{
			map[string]any{"title": "Patch host", "assignee": "ops"},
			map[string]any{"title": "Rotate keys"},
		},
	}, entity, nil)
	require.NoError(t, err)
	require.Len(t, res.Output["task_ids"], 2)
	require.Len(t, sink.tasks, 3)
	require.NotNil(t, sink.tasks[0].DueAt)
	require.Equal(t, time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), *sink.tasks[0].DueAt)
	require.Equal(t, "ops", sink.tasks[1].Assignee)
}

func testUnknownKind(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	res, err := d.Execute(context.Background(), "carrier_pigeon", nil, entity, nil)
	require.Error(t, err)
	require.False(t, res.Success)
}

func testEscalate(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	res, err := d.Execute(context.Background(), model.ACTION_ESCALATE, map[string]any{"priority": "critical"}, entity, nil)
	require.NoError(t, err)
	require.Equal(t, "critical", res.Output["priority"])
	require.Equal(t, true, res.Output["escalate"])
}

func testValidate(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	require.True(t, api.IsValidation(d.Validate(model.ACTION_SEND_EMAIL, map[string]any{})))
	require.NoError(t, d.Validate(model.ACTION_SEND_EMAIL, map[string]any{"to": []any{"a", "b"}}))
	require.True(t, api.IsValidation(d.Validate(model.ACTION_WEBHOOK, map[string]any{"url": "ftp:/x"})))
	require.NoError(t, d.Validate(model.ACTION_WEBHOOK, map[string]any{"url": "{$.callback}"}))
	require.True(t, api.IsValidation(d.Validate(model.ACTION_SCRIPT, map[string]any{"script": "var = ;"})))
	require.True(t, api.IsValidation(d.Validate(model.ACTION_ESCALATE, map[string]any{"priority": "urgent"})))
	require.True(t, api.IsValidation(d.Validate(model.ACTION_CREATE_ACTIONS, map[string]any{"actions": []any{}})))
	require.True(t, api.IsValidation(d.Validate("nope", nil)))
}

func TestWebhook(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"retries server errors": func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "secret", r.Header.Get("X-Token"))
				if atomic.AddInt32(&calls, 1) < 3 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))
			defer srv.Close()
			d := newTestDispatcher(nil, nil)
			res, err := d.Execute(context.Background(), model.ACTION_WEBHOOK, map[string]any{
				"url":     srv.URL,
				"headers": map[string]any{"X-Token": "secret"},
			}, entity, map[string]any{"a": 1})
			require.NoError(t, err)
			require.Equal(t, 3, res.Output["attempts"])
			require.Equal(t, http.StatusOK, res.Output["status_code"])
		},
		"client errors are permanent": func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusBadRequest)
			}))
			defer srv.Close()
			d := newTestDispatcher(nil, nil)
			res, err := d.Execute(context.Background(), model.ACTION_WEBHOOK, map[string]any{"url": srv.URL}, entity, nil)
			require.Error(t, err)
			require.False(t, res.Success)
			require.Equal(t, int32(1), atomic.LoadInt32(&calls))
		},
		"gives up after max retries": func(t *testing.T) {
			var calls int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer srv.Close()
			d := newTestDispatcher(nil, nil)
			_, err := d.Execute(context.Background(), model.ACTION_WEBHOOK, map[string]any{"url": srv.URL}, entity, nil)
			require.Error(t, err)
			require.Equal(t, int32(4), atomic.LoadInt32(&calls))
		},
	} {
		t.Run(scenario, fn)
	}
}

func TestScript(t *testing.T) {
	d := newTestDispatcher(nil, nil)
	res, err := d.Execute(context.Background(), model.ACTION_SCRIPT, map[string]any{
		"script": "$.risk_score = $.likelihood * $.impact; $.reviewed = true;",
	}, entity, map[string]any{"likelihood": 3, "impact": 4})
	require.NoError(t, err)
	require.Equal(t, float64(12), res.Context["risk_score"])
	require.Equal(t, true, res.Context["reviewed"])

	_, err = d.Execute(context.Background(), model.ACTION_SCRIPT, map[string]any{"script": "while (true) {}"}, entity, nil)
	require.Error(t, err)
}
