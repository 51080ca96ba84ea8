// Package kinds is the catalogue of entity kinds shown on a profile page.
package kinds

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"linkdeck/internal/collection"
	"linkdeck/internal/field"
)

const (
	Link        = "link"
	Data        = "data"
	Device      = "device"
	FAQCategory = "faq_category"
	FAQQuestion = "faq_question"
	Demo        = "demo"
)

// Builtin returns the default kinds keyed by name.
func Builtin() map[string]collection.Kind {
	return map[string]collection.Kind{
		Link: {
			Name: Link,
			Fields: []field.Descriptor{
				{Key: "title", Label: "Title", MaxLength: 100},
				{Key: "url", Label: "URL", MaxLength: 2048, Rule: "url", Validate: httpOnly},
			},
			MaxItems: 50,
			Label: func(it collection.Item) string {
				return it.Value("title")
			},
		},
		Data: {
			Name: Data,
			Fields: []field.Descriptor{
				{Key: "label", Label: "Label", MaxLength: 60},
				{Key: "value", Label: "Value", Input: field.MultiLine, MaxLength: 500},
			},
			MaxItems: 30,
			Label: func(it collection.Item) string {
				return it.Value("label") + ": " + it.Value("value")
			},
		},
		Device: {
			Name: Device,
			Fields: []field.Descriptor{
				{Key: "name", Label: "Name", MaxLength: 80},
				{Key: "description", Label: "Description", Input: field.MultiLine, MaxLength: 300},
			},
			MaxItems: 20,
		},
		FAQCategory: {
			Name:     FAQCategory,
			Fields:   []field.Descriptor{{Key: "name", Label: "Category", MaxLength: 120}},
			MaxItems: 25,
			Child:    FAQQuestion,
		},
		FAQQuestion: {
			Name: FAQQuestion,
			Fields: []field.Descriptor{
				{Key: "question", Label: "Question", MaxLength: 300},
				{Key: "answer", Label: "Answer", Input: field.MultiLine, MaxLength: 5000},
			},
			MaxItems: 100,
		},
		Demo: {
			Name: Demo,
			Fields: []field.Descriptor{
				{Key: "title", Label: "Title", MaxLength: 100},
				{Key: "content", Label: "Content", Input: field.MultiLine, MaxLength: 1000},
			},
			MaxItems: 10,
		},
	}
}

func httpOnly(value string) string {
	lower := strings.ToLower(value)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return ""
	}
	return "URL must start with http:// or https://"
}

// Registry resolves kinds by name.
type Registry struct {
	kinds map[string]collection.Kind
}

func NewRegistry() *Registry {
	return &Registry{kinds: Builtin()}
}

// Load returns the builtin registry with the overrides of the YAML file at
// path applied. An empty path yields the builtins.
func Load(path string) (*Registry, error) {
	r := NewRegistry()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kinds file: %w", err)
	}
	if err := r.Apply(raw); err != nil {
		return nil, err
	}
	return r, nil
}

type overrideFile struct {
	Kinds map[string]kindOverride `yaml:"kinds"`
}

type kindOverride struct {
	MaxItems *int                     `yaml:"max_items"`
	Fields   map[string]fieldOverride `yaml:"fields"`
}

type fieldOverride struct {
	Label     string `yaml:"label"`
	MaxLength *int   `yaml:"max_length"`
	Multiline *bool  `yaml:"multiline"`
}

// Apply merges YAML overrides into the registry. Unknown kinds and fields are
// rejected so typos surface at startup.
func (r *Registry) Apply(raw []byte) error {
	var file overrideFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse kinds file: %w", err)
	}
	for name, ov := range file.Kinds {
		kind, ok := r.kinds[name]
		if !ok {
			return fmt.Errorf("unknown kind %q", name)
		}
		if ov.MaxItems != nil {
			if *ov.MaxItems < 0 {
				return fmt.Errorf("kind %q: max_items must not be negative", name)
			}
			kind.MaxItems = *ov.MaxItems
		}
		fields := append([]field.Descriptor(nil), kind.Fields...)
		for key, fo := range ov.Fields {
			i := indexOfField(fields, key)
			if i < 0 {
				return fmt.Errorf("kind %q: unknown field %q", name, key)
			}
			if fo.Label != "" {
				fields[i].Label = fo.Label
			}
			if fo.MaxLength != nil {
				fields[i].MaxLength = *fo.MaxLength
			}
			if fo.Multiline != nil {
				fields[i].Input = field.SingleLine
				if *fo.Multiline {
					fields[i].Input = field.MultiLine
				}
			}
		}
		kind.Fields = fields
		r.kinds[name] = kind
	}
	return nil
}

func indexOfField(fields []field.Descriptor, key string) int {
	for i, d := range fields {
		if d.Key == key {
			return i
		}
	}
	return -1
}

func (r *Registry) Lookup(name string) (collection.Kind, bool) {
	k, ok := r.kinds[name]
	return k, ok
}

// Names returns every kind name in a stable order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ParentOf returns the kind whose items own scopes of child, if any.
func (r *Registry) ParentOf(child string) (collection.Kind, bool) {
	for _, name := range r.Names() {
		if k := r.kinds[name]; k.Child == child {
			return k, true
		}
	}
	return collection.Kind{}, false
}

// Info is the JSON shape of a kind for clients.
type Info struct {
	Name     string      `json:"name"`
	MaxItems int         `json:"maxItems"`
	Child    string      `json:"child,omitempty"`
	Fields   []FieldInfo `json:"fields"`
}

type FieldInfo struct {
	Key       string `json:"key"`
	Label     string `json:"label"`
	Multiline bool   `json:"multiline"`
	MaxLength int    `json:"maxLength"`
	Rule      string `json:"rule,omitempty"`
}

func Describe(k collection.Kind) Info {
	info := Info{Name: k.Name, MaxItems: k.MaxItems, Child: k.Child}
	for _, d := range k.Fields {
		info.Fields = append(info.Fields, FieldInfo{
			Key:       d.Key,
			Label:     d.DisplayLabel(),
			Multiline: d.Input == field.MultiLine,
			MaxLength: d.MaxLength,
			Rule:      d.Rule,
		})
	}
	return info
}

// FromInfo rebuilds a kind from its client description. Custom validators
// and label callbacks do not travel, and rules this build does not know are
// dropped; the server still enforces them.
func FromInfo(info Info) collection.Kind {
	k := collection.Kind{Name: info.Name, MaxItems: info.MaxItems, Child: info.Child}
	for _, f := range info.Fields {
		d := field.Descriptor{Key: f.Key, Label: f.Label, MaxLength: f.MaxLength}
		if f.Rule != "" && field.KnownRule(f.Rule) {
			d.Rule = f.Rule
		}
		if f.Multiline {
			d.Input = field.MultiLine
		}
		k.Fields = append(k.Fields, d)
	}
	return k
}
