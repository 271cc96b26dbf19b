package metadata

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/cache"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"github.com/mohitkumar/grcflow/persistence"
	"github.com/mohitkumar/grcflow/util"
	"go.uber.org/zap"
)

// Registry is the versioned store of workflow templates. Reads go through
// the template cache, every mutation invalidates the affected code.
type Registry struct {
	storage persistence.TemplateStorage
	cache   *cache.TemplateCache
	valid   validator
	clock   util.Clock
	codec   *util.JsonEncDec[model.WorkflowTemplate]
	mu      sync.Mutex
}

func NewRegistry(storage persistence.TemplateStorage, templateCache *cache.TemplateCache, actions ActionValidator, clock util.Clock) *Registry {
	return &Registry{
		storage: storage,
		cache:   templateCache,
		valid:   validator{actions: actions},
		clock:   clock,
		codec:   util.NewJsonEncoderDecoder[model.WorkflowTemplate](),
	}
}

// Get returns the latest version of an active template.
func (r *Registry) Get(ctx context.Context, code string) (*model.WorkflowTemplate, error) {
	if tmpl, found := r.cache.GetLatest(code); found {
		return tmpl, nil
	}
	tmpl, err := r.storage.GetTemplate(ctx, code, 0)
	if err != nil {
		return nil, err
	}
	if !tmpl.Active {
		return nil, api.NotFoundError{Kind: "template", Id: code}
	}
	r.cache.Put(tmpl, true)
	return tmpl, nil
}

// GetVersion returns a specific version whether or not it is still active,
// running instances stay pinned to the version they started on.
func (r *Registry) GetVersion(ctx context.Context, code string, version int) (*model.WorkflowTemplate, error) {
	if version == 0 {
		return r.Get(ctx, code)
	}
	if tmpl, found := r.cache.GetVersion(code, version); found {
		return tmpl, nil
	}
	tmpl, err := r.storage.GetTemplate(ctx, code, version)
	if err != nil {
		return nil, err
	}
	r.cache.Put(tmpl, false)
	return tmpl, nil
}

// List returns active templates, optionally restricted to one category.
func (r *Registry) List(ctx context.Context, category string) ([]*model.WorkflowTemplate, error) {
	all, err := r.storage.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.WorkflowTemplate, 0, len(all))
	for _, tmpl := range all {
		if !tmpl.Active {
			continue
		}
		if len(category) > 0 && tmpl.Category != category {
			continue
		}
		out = append(out, tmpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Seed validates tmpl and stores it as a new version when its definition differs
// from the latest stored one. The returned template carries the effective version.
func (r *Registry) Seed(ctx context.Context, tmpl *model.WorkflowTemplate) (*model.WorkflowTemplate, bool, error) {
	if err := r.valid.validateTemplate(tmpl); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.storage.GetTemplate(ctx, tmpl.Code, 0)
	if err != nil && !api.IsNotFound(err) {
		return nil, false, err
	}
	if current != nil {
		same, err := r.sameDefinition(current, tmpl)
		if err != nil {
			return nil, false, err
		}
		if same && current.Active {
			return current, false, nil
		}
	}

	next, err := r.codec.Clone(tmpl)
	if err != nil {
		return nil, false, err
	}
	next.Version = 1
	if current != nil {
		next.Version = current.Version + 1
	}
	next.Active = true
	next.CreatedAt = r.clock.Now()
	if err := r.storage.SaveTemplate(ctx, next); err != nil {
		return nil, false, err
	}
	r.cache.Invalidate(next.Code)
	logger.Info("template seeded", zap.String("code", next.Code), zap.Int("version", next.Version))
	return next, true, nil
}

// Deactivate hides a template from Get and List. Stored versions stay readable.
func (r *Registry) Deactivate(ctx context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, err := r.storage.GetTemplate(ctx, code, 0)
	if err != nil {
		return err
	}
	if !current.Active {
		return nil
	}
	current.Active = false
	if err := r.storage.SaveTemplate(ctx, current); err != nil {
		return err
	}
	r.cache.Invalidate(code)
	logger.Info("template deactivated", zap.String("code", code), zap.Int("version", current.Version))
	return nil
}

func (r *Registry) sameDefinition(a *model.WorkflowTemplate, b *model.WorkflowTemplate) (bool, error) {
	fa, err := r.fingerprint(*a)
	if err != nil {
		return false, err
	}
	fb, err := r.fingerprint(*b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(fa, fb), nil
}

func (r *Registry) fingerprint(tmpl model.WorkflowTemplate) ([]byte, error) {
	tmpl.Version = 0
	tmpl.Active = false
	tmpl.CreatedAt = time.Time{}
	return r.codec.Encode(tmpl)
}
