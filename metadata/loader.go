package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	api "github.com/mohitkumar/grcflow/api/v1"
	"github.com/mohitkumar/grcflow/logger"
	"github.com/mohitkumar/grcflow/model"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var TEMPLATE_EXTENSIONS = []string{".yaml", ".yml", ".json"}

type templateFile struct {
	Templates []*model.WorkflowTemplate `yaml:"templates"`
}

// ParseTemplates decodes a template document. A document is either a single
// template, a list of templates, or a mapping with a "templates" list. JSON
// documents are accepted as YAML.
func ParseTemplates(data []byte) ([]*model.WorkflowTemplate, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, api.Invalidf("document", "malformed template document: %v", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []*model.WorkflowTemplate
		if err := root.Decode(&list); err != nil {
			return nil, api.Invalidf("document", "malformed template list: %v", err)
		}
		return list, nil
	case yaml.MappingNode:
		var file templateFile
		if err := root.Decode(&file); err == nil && len(file.Templates) > 0 {
			return file.Templates, nil
		}
		var tmpl model.WorkflowTemplate
		if err := root.Decode(&tmpl); err != nil {
			return nil, api.Invalidf("document", "malformed template: %v", err)
		}
		return []*model.WorkflowTemplate{&tmpl}, nil
	default:
		return nil, api.Invalidf("document", "expected a template mapping or list")
	}
}

func hasTemplateExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range TEMPLATE_EXTENSIONS {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadDir seeds every template found in dir. A bad file is reported in the
// returned error and does not stop the remaining files from loading.
func (r *Registry) LoadDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read template dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || !hasTemplateExtension(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	seeded := 0
	var errs error
	for _, name := range names {
		path := filepath.Join(dir, name)
		n, err := r.LoadFile(ctx, path)
		seeded += n
		if err != nil {
			logger.Error("error loading template file", zap.String("file", path), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return seeded, errs
}

// LoadFile seeds the templates of one file and returns how many new versions were stored.
func (r *Registry) LoadFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	templates, err := ParseTemplates(data)
	if err != nil {
		return 0, err
	}
	seeded := 0
	var errs error
	for _, tmpl := range templates {
		_, created, err := r.Seed(ctx, tmpl)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("template %s: %w", tmpl.Code, err))
			continue
		}
		if created {
			seeded++
		}
	}
	return seeded, errs
}
