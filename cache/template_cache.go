package cache

import (
	"fmt"
	"time"

	"github.com/mohitkumar/grcflow/model"
	c "github.com/patrickmn/go-cache"
)

const DEFAULT_TEMPLATE_TTL = 10 * time.Minute

// TemplateCache holds decoded templates keyed by code (latest active version)
// and by code and version. Cached templates are shared, callers must not mutate them.
type TemplateCache struct {
	cache *c.Cache
}

func NewTemplateCache(ttl time.Duration) *TemplateCache {
	if ttl <= 0 {
		ttl = DEFAULT_TEMPLATE_TTL
	}
	return &TemplateCache{
		cache: c.New(ttl, 2*ttl),
	}
}

func latestKey(code string) string {
	return "latest:" + code
}

func versionKey(code string, version int) string {
	return fmt.Sprintf("version:%s:%d", code, version)
}

func (ch *TemplateCache) GetLatest(code string) (*model.WorkflowTemplate, bool) {
	return ch.get(latestKey(code))
}

func (ch *TemplateCache) GetVersion(code string, version int) (*model.WorkflowTemplate, bool) {
	return ch.get(versionKey(code, version))
}

func (ch *TemplateCache) get(key string) (*model.WorkflowTemplate, bool) {
	v, found := ch.cache.Get(key)
	if !found {
		return nil, false
	}
	tmpl, ok := v.(*model.WorkflowTemplate)
	return tmpl, ok
}

func (ch *TemplateCache) Put(tmpl *model.WorkflowTemplate, latest bool) {
	ch.cache.SetDefault(versionKey(tmpl.Code, tmpl.Version), tmpl)
	if latest {
		ch.cache.SetDefault(latestKey(tmpl.Code), tmpl)
	}
}

// Invalidate drops the latest entry for code. Versioned entries are immutable and stay.
func (ch *TemplateCache) Invalidate(code string) {
	ch.cache.Delete(latestKey(code))
}

func (ch *TemplateCache) Flush() {
	ch.cache.Flush()
}

func (ch *TemplateCache) Len() int {
	return ch.cache.ItemCount()
}
