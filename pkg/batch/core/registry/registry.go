// Package registry loads the read-only vocabulary and template registry of a
// profile: axis templates, placeholder vocabularies and optional domains.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/serendip/pkg/batch/support/util/exception"
)

const moduleName = "registry"

// File names read from a profile directory.
const (
	AxisTemplatesFile = "axis_templates.yaml"
	VocabFile         = "vocab.yaml"
	DomainsFile       = "domains.yaml"
)

// AxisTemplate is the prompt template of one axis.
type AxisTemplate struct {
	ID       string `yaml:"-"`
	Template string `yaml:"template"`
	// Placeholders lists the vocabulary fields of Template. When omitted it is
	// derived from the template's non-reserved fields.
	Placeholders []string `yaml:"placeholders"`
}

// Domain is a contextual setting that can be injected into prompts.
type Domain struct {
	DomainID string   `yaml:"domain_id"`
	Bundle   string   `yaml:"bundle"`
	Context  string   `yaml:"context"`
	Hints    []string `yaml:"hints"`
}

// Registry is the immutable view of a profile's templates and vocabulary.
type Registry struct {
	axes    map[string]AxisTemplate
	order   []string
	vocab   map[string]*Category
	domains []Domain
}

type axisTemplatesDoc struct {
	AxisTemplates yaml.Node `yaml:"axis_templates"`
}

type vocabDoc struct {
	Vocab map[string]*Category `yaml:"vocab"`
}

type domainsDoc struct {
	Domains []Domain `yaml:"domains"`
}

// Load reads axis_templates.yaml, vocab.yaml and the optional domains.yaml from dir.
func Load(dir string) (*Registry, error) {
	axes, err := os.ReadFile(filepath.Join(dir, AxisTemplatesFile))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to read axis templates", err, false)
	}
	vocab, err := os.ReadFile(filepath.Join(dir, VocabFile))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to read vocabulary", err, false)
	}
	domains, err := os.ReadFile(filepath.Join(dir, DomainsFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, exception.NewBatchError(moduleName, "failed to read domains", err, false)
	}
	return Parse(axes, vocab, domains)
}

// Parse builds a Registry from raw YAML documents. domains may be nil.
func Parse(axesYAML, vocabYAML, domainsYAML []byte) (*Registry, error) {
	r := &Registry{axes: map[string]AxisTemplate{}, vocab: map[string]*Category{}}

	var axesDoc axisTemplatesDoc
	if err := yaml.Unmarshal(axesYAML, &axesDoc); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to parse axis templates", err, false)
	}
	if axesDoc.AxisTemplates.Kind != yaml.MappingNode {
		return nil, exception.NewBatchError(moduleName, "axis_templates must be a mapping of axis id to template", nil, false)
	}
	var result *multierror.Error
	content := axesDoc.AxisTemplates.Content
	for i := 0; i+1 < len(content); i += 2 {
		id := content[i].Value
		var axis AxisTemplate
		if err := content[i+1].Decode(&axis); err != nil {
			result = multierror.Append(result, fmt.Errorf("axis %q: %w", id, err))
			continue
		}
		axis.ID = id
		if axis.Placeholders == nil {
			fields, err := Fields(axis.Template)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("axis %q: %w", id, err))
				continue
			}
			for _, f := range fields {
				if !IsReservedField(f) {
					axis.Placeholders = append(axis.Placeholders, f)
				}
			}
		}
		r.axes[id] = axis
		r.order = append(r.order, id)
	}

	var vDoc vocabDoc
	if err := yaml.Unmarshal(vocabYAML, &vDoc); err != nil {
		result = multierror.Append(result, fmt.Errorf("vocab: %w", err))
	}
	for name, cat := range vDoc.Vocab {
		if cat == nil {
			cat = &Category{}
		}
		cat.Name = name
		r.vocab[name] = cat
	}

	if len(domainsYAML) > 0 {
		var dDoc domainsDoc
		if err := yaml.Unmarshal(domainsYAML, &dDoc); err != nil {
			result = multierror.Append(result, fmt.Errorf("domains: %w", err))
		}
		r.domains = dDoc.Domains
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, exception.NewBatchError(moduleName, "malformed registry", err, false)
	}
	return r, nil
}

// Axis returns the template of an axis.
func (r *Registry) Axis(id string) (AxisTemplate, bool) {
	a, ok := r.axes[id]
	return a, ok
}

// AxisIDs returns every axis id in declaration order.
func (r *Registry) AxisIDs() []string {
	return append([]string(nil), r.order...)
}

// Category returns the vocabulary of a placeholder.
func (r *Registry) Category(name string) (*Category, bool) {
	c, ok := r.vocab[name]
	return c, ok
}

// CategoryNames returns the vocabulary category names, sorted.
func (r *Registry) CategoryNames() []string {
	names := make([]string, 0, len(r.vocab))
	for n := range r.vocab {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Domains returns every domain in declaration order.
func (r *Registry) Domains() []Domain {
	return r.domains
}

// Domain looks up a domain by id.
func (r *Registry) Domain(id string) (Domain, bool) {
	for _, d := range r.domains {
		if d.DomainID == id {
			return d, true
		}
	}
	return Domain{}, false
}

// Validate checks that every listed axis exists, that each of its placeholders
// has a non-empty vocabulary and a well-formed template, and, when domains are
// injected, that they are usable. All problems are reported together.
func (r *Registry) Validate(axisIDs []string, injectDomains, requireHints bool) error {
	var result *multierror.Error
	if len(axisIDs) == 0 {
		result = multierror.Append(result, errors.New("no axis ids configured"))
	}
	for _, id := range axisIDs {
		axis, ok := r.axes[id]
		if !ok {
			result = multierror.Append(result, fmt.Errorf("axis %q has no template", id))
			continue
		}
		if axis.Template == "" {
			result = multierror.Append(result, fmt.Errorf("axis %q has an empty template", id))
		}
		fields, err := Fields(axis.Template)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("axis %q: %w", id, err))
		}
		declared := map[string]bool{}
		for _, ph := range axis.Placeholders {
			declared[ph] = true
			cat, ok := r.vocab[ph]
			if !ok || cat.Empty() {
				result = multierror.Append(result, fmt.Errorf("axis %q: vocab missing for placeholder %s", id, ph))
				continue
			}
			for tag := range cat.Weights {
				if !hasTag(cat, tag) {
					result = multierror.Append(result, fmt.Errorf("vocab %s: weight for unknown tag %q", ph, tag))
				}
			}
		}
		for _, f := range fields {
			if !IsReservedField(f) && !declared[f] {
				result = multierror.Append(result, fmt.Errorf("axis %q: template field {%s} is not a declared placeholder", id, f))
			}
		}
	}
	if injectDomains {
		if len(r.domains) == 0 {
			result = multierror.Append(result, errors.New("domain injection is enabled but no domains are defined"))
		}
		for _, d := range r.domains {
			if d.DomainID == "" {
				result = multierror.Append(result, errors.New("domain without domain_id"))
			}
			if requireHints && len(d.Hints) < 2 {
				result = multierror.Append(result, fmt.Errorf("domain %s must have at least 2 hints", d.DomainID))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return exception.NewBatchError(moduleName, "invalid registry", err, false)
	}
	return nil
}

func hasTag(c *Category, name string) bool {
	for _, t := range c.Tags {
		if t.Name == name {
			return true
		}
	}
	return false
}
