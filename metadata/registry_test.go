package metadata

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/grcflow/action"
	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/cache"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence/memory"
	"github.com/mohitkumar/grcflow/util"
	"github.com/stretchr/testify/require"
)

func newRegistry() *Registry {
	clock := util.NewFakeClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	dispatcher := action.NewDispatcher(action.Options{Clock: clock})
	return NewRegistry(memory.NewStore(), cache.NewTemplateCache(time.Minute), dispatcher, clock)
}

func vendorReview() *model.WorkflowTemplate {
	return &model.WorkflowTemplate{
		Code:     "VENDOR_REVIEW",
		Name:     "Vendor review",
		Category: "third_party",
		SLAHours: 48,
		Steps: []model.StepDefinition{
			{Name: "security", Type: model.STEP_APPROVAL, ApprovalType: model.APPROVAL_SEQUENTIAL, Approvers: []string{"bob", "carol"}},
			{
				Name:      "notify",
				Type:      model.STEP_NOTIFICATION,
				Condition: model.Condition{"field": "risk.level", "operator": "equals", "value": "high"},
				Actions:   []model.ActionDef{{Kind: model.ACTION_SEND_EMAIL, Config: map[string]any{"to": "ciso", "subject": "high risk vendor"}}},
			},
		},
	}
}

func TestRegistry(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, r *Registry){
		"seed and get":                 testSeedAndGet,
		"unchanged seed keeps version": testSeedUnchanged,
		"changed seed adds version":    testSeedNewVersion,
		"unknown template":             testUnknownTemplate,
		"list filters category":        testListCategory,
		"deactivate hides template":    testDeactivate,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newRegistry())
		})
	}
}

func testSeedAndGet(t *testing.T, r *Registry) {
	ctx := context.Background()
	seeded, created, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 1, seeded.Version)
	require.True(t, seeded.Active)

	tmpl, err := r.Get(ctx, "VENDOR_REVIEW")
	require.NoError(t, err)
	require.Len(t, tmpl.Steps, 2)
	require.Equal(t, "high", tmpl.Steps[1].Condition["value"])

	cached, err := r.Get(ctx, "VENDOR_REVIEW")
	require.NoError(t, err)
	require.Same(t, tmpl, cached)
}

func testSeedUnchanged(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, _, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	again, created, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, 1, again.Version)
}

func testSeedNewVersion(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, _, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	_, err = r.Get(ctx, "VENDOR_REVIEW")
	require.NoError(t, err)

	changed := vendorReview()
	changed.SLAHours = 24
	v2, created, err := r.Seed(ctx, changed)
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 2, v2.Version)

	latest, err := r.Get(ctx, "VENDOR_REVIEW")
	require.NoError(t, err)
	require.Equal(t, 2, latest.Version)
	require.Equal(t, 24.0, latest.SLAHours)

	v1, err := r.GetVersion(ctx, "VENDOR_REVIEW", 1)
	require.NoError(t, err)
	require.Equal(t, 48.0, v1.SLAHours)
}

func testUnknownTemplate(t *testing.T, r *Registry) {
	_, err := r.Get(context.Background(), "NOPE")
	require.True(t, api.IsNotFound(err))
}

func testListCategory(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, _, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	policy := &model.WorkflowTemplate{
		Code:     "POLICY_EXCEPTION",
		Category: "policy",
		Steps:    []model.StepDefinition{{Name: "review", Type: model.STEP_TASK}},
	}
	_, _, err = r.Seed(ctx, policy)
	require.NoError(t, err)

	all, err := r.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "POLICY_EXCEPTION", all[0].Code)

	thirdParty, err := r.List(ctx, "third_party")
	require.NoError(t, err)
	require.Len(t, thirdParty, 1)
	require.Equal(t, "VENDOR_REVIEW", thirdParty[0].Code)
}

func testDeactivate(t *testing.T, r *Registry) {
	ctx := context.Background()
	_, _, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	_, err = r.Get(ctx, "VENDOR_REVIEW")
	require.NoError(t, err)

	require.NoError(t, r.Deactivate(ctx, "VENDOR_REVIEW"))
	_, err = r.Get(ctx, "VENDOR_REVIEW")
	require.True(t, api.IsNotFound(err))
	all, err := r.List(ctx, "")
	require.NoError(t, err)
	require.Empty(t, all)

	pinned, err := r.GetVersion(ctx, "VENDOR_REVIEW", 1)
	require.NoError(t, err)
	require.Equal(t, "VENDOR_REVIEW", pinned.Code)

	reseeded, created, err := r.Seed(ctx, vendorReview())
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 2, reseeded.Version)
}

func nest(depth int) model.StepDefinition {
	step := model.StepDefinition{Name: "leaf", Type: model.STEP_TASK}
	for i := 1; i < depth; i++ {
		step = model.StepDefinition{Name: "branch", Type: model.STEP_PARALLEL, ParallelSteps: []model.StepDefinition{step}}
	}
	return step
}

func TestSeedValidation(t *testing.T) {
	for scenario, mutate := range map[string]func(tmpl *model.WorkflowTemplate){
		"missing code":               func(tmpl *model.WorkflowTemplate) { tmpl.Code = "" },
		"no steps":                   func(tmpl *model.WorkflowTemplate) { tmpl.Steps = nil },
		"unknown step type":          func(tmpl *model.WorkflowTemplate) { tmpl.Steps[0].Type = "review" },
		"unknown approval type":      func(tmpl *model.WorkflowTemplate) { tmpl.Steps[0].ApprovalType = "consensus" },
		"approval without approvers": func(tmpl *model.WorkflowTemplate) { tmpl.Steps[0].Approvers = nil },
		"duplicate step name":        func(tmpl *model.WorkflowTemplate) { tmpl.Steps[1].Name = "security" },
		"malformed condition":        func(tmpl *model.WorkflowTemplate) { tmpl.Steps[1].Condition = model.Condition{"and": "risk"} },
		"unknown operator":           func(tmpl *model.WorkflowTemplate) { tmpl.Steps[1].Condition = model.Condition{"field": "risk", "operator": "resembles", "value": 1} },
		"unknown action kind":        func(tmpl *model.WorkflowTemplate) { tmpl.Steps[1].Actions = []model.ActionDef{{Kind: "fax"}} },
		"action missing config":      func(tmpl *model.WorkflowTemplate) { tmpl.Steps[1].Actions = []model.ActionDef{{Kind: model.ACTION_WEBHOOK, Config: map[string]any{}}} },
		"nesting too deep":           func(tmpl *model.WorkflowTemplate) { tmpl.Steps = append(tmpl.Steps, nest(model.MAX_STEP_DEPTH+1)) },
		"unknown trigger":            func(tmpl *model.WorkflowTemplate) { tmpl.EscalationRules = []model.EscalationRule{{Name: "r", Trigger: "lunar_phase"}} },
		"unknown override priority":  func(tmpl *model.WorkflowTemplate) { tmpl.EscalationRules = []model.EscalationRule{{Name: "r", Trigger: model.TRIGGER_SLA_BREACH, PriorityOverride: "urgent"}} },
	} {
		t.Run(scenario, func(t *testing.T) {
			tmpl := vendorReview()
			mutate(tmpl)
			_, _, err := newRegistry().Seed(context.Background(), tmpl)
			require.True(t, api.IsValidation(err), "got %v", err)
		})
	}

	t.Run("nesting at the limit", func(t *testing.T) {
		tmpl := vendorReview()
		tmpl.Steps = append(tmpl.Steps, nest(model.MAX_STEP_DEPTH))
		_, _, err := newRegistry().Seed(context.Background(), tmpl)
		require.NoError(t, err)
	})
}

const vendorYaml = `
templates:
  - code: VENDOR_REVIEW
    name: Vendor review
    sla_hours: 48
    steps:
      - name: security
        type: approval
        approval_type: any
        approvers: [bob, carol]
      - name: legal
        type: approval
        approver_role: legal
        condition:
          and:
            - field: contract.value
              operator: greater_than
              value: 100000
            - not:
                field: contract.renewal
                operator: equals
                value: true
`

func TestParseTemplates(t *testing.T) {
	list, err := ParseTemplates([]byte(vendorYaml))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Steps, 2)
	require.Equal(t, model.APPROVAL_ANY, list[0].Steps[0].ApprovalType)
	require.Equal(t, []string{"bob", "carol"}, list[0].Steps[0].Approvers)
	require.Contains(t, list[0].Steps[1].Condition, "and")

	single, err := ParseTemplates([]byte(`{"code": "A", "steps": [{"name": "t", "type": "task"}]}`))
	require.NoError(t, err)
	require.Len(t, single, 1)
	require.Equal(t, "A", single[0].Code)

	seq, err := ParseTemplates([]byte("- code: A\n  steps: [{name: t, type: task}]\n- code: B\n  steps: [{name: t, type: task}]\n"))
	require.NoError(t, err)
	require.Len(t, seq, 2)

	_, err = ParseTemplates([]byte("just a string"))
	require.True(t, api.IsValidation(err))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor.yaml"), []byte(vendorYaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("code: BROKEN\nsteps:\n  - name: x\n    type: teleport\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := newRegistry()
	ctx := context.Background()
	n, err := r.LoadDir(ctx, dir)
	require.Error(t, err)
	require.Equal(t, 1, n)

	tmpl, err := r.Get(ctx, "VENDOR_REVIEW")
	require.NoError(t, err)
	require.Equal(t, "legal", tmpl.Steps[1].ApproverRole)

	evaluated := tmpl.Steps[1].Condition
	require.NotEmpty(t, evaluated)

	_, err = r.Get(ctx, "BROKEN")
	require.True(t, api.IsNotFound(err))
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	r := newRegistry()
	wg := &sync.WaitGroup{}
	w, err := NewWatcher(r, dir, 20*time.Millisecond, wg)
	require.NoError(t, err)
	w.Start()
	defer func() {
		require.NoError(t, w.Stop())
		wg.Wait()
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor.yaml"), []byte(vendorYaml), 0o644))
	require.Eventually(t, func() bool {
		_, err := r.Get(context.Background(), "VENDOR_REVIEW")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.GreaterOrEqual(t, w.Reloads(), 1)
}
