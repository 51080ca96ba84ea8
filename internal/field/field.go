// Package field declares editable entity attributes and the rules used to
// accept or reject candidate values for them.
package field

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Input is the kind of editor a field is rendered with.
type Input int

const (
	SingleLine Input = iota
	MultiLine
)

func (i Input) String() string {
	if i == MultiLine {
		return "multi-line"
	}
	return "single-line"
}

// Descriptor is the immutable definition of one editable attribute of an
// entity kind.
type Descriptor struct {
	Key       string
	Label     string
	Input     Input
	MaxLength int
	// Rule is an optional validator tag ("url", "email", ...) checked before
	// Validate.
	Rule string
	// Validate returns a non-empty message to reject the value.
	Validate func(value string) string
}

// DisplayLabel falls back to the key when no label is set.
func (d Descriptor) DisplayLabel() string {
	if strings.TrimSpace(d.Label) != "" {
		return d.Label
	}
	return d.Key
}

var validate = validator.New()

// Result is the outcome of validating one value.
type Result struct {
	Value  string
	Reason string
	ok     bool
}

func Accepted(value string) Result {
	return Result{Value: value, ok: true}
}

func Rejected(reason string) Result {
	return Result{Reason: reason}
}

func (r Result) OK() bool {
	return r.ok
}

// Validate checks raw against d in a fixed order: trim, required, length,
// rule, custom. The first failure is returned.
func Validate(d Descriptor, raw string) Result {
	value := strings.TrimSpace(raw)
	label := d.DisplayLabel()

	if err := validate.Var(value, "required"); err != nil {
		return Rejected(fmt.Sprintf("%s is required", label))
	}
	if d.MaxLength > 0 {
		if err := validate.Var(value, fmt.Sprintf("max=%d", d.MaxLength)); err != nil {
			return Rejected(fmt.Sprintf("%s must be at most %d characters", label, d.MaxLength))
		}
	}
	if d.Rule != "" && KnownRule(d.Rule) {
		if err := validate.Var(value, d.Rule); err != nil {
			return Rejected(fmt.Sprintf("%s must be a valid %s", label, ruleName(d.Rule)))
		}
	}
	if d.Validate != nil {
		if reason := d.Validate(value); reason != "" {
			return Rejected(reason)
		}
	}
	return Accepted(value)
}

// KnownRule reports whether rule parses as a validator tag. Unknown tags make
// the validator panic, so rules from another version are checked first.
func KnownRule(rule string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	_ = validate.Var("", rule)
	return true
}

func ruleName(rule string) string {
	name, _, _ := strings.Cut(rule, "=")
	name, _, _ = strings.Cut(name, ",")
	return name
}

// ValidationError reports every rejected field of an entity, keyed by field key.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ValidateAll validates values against every descriptor and returns the
// sanitized values. Keys without a descriptor are dropped.
func ValidateAll(descriptors []Descriptor, values map[string]string) (map[string]string, error) {
	sanitized := make(map[string]string, len(descriptors))
	var failed map[string]string
	for _, d := range descriptors {
		res := Validate(d, values[d.Key])
		if !res.OK() {
			if failed == nil {
				failed = map[string]string{}
			}
			failed[d.Key] = res.Reason
			continue
		}
		sanitized[d.Key] = res.Value
	}
	if failed != nil {
		return nil, &ValidationError{Fields: failed}
	}
	return sanitized, nil
}

// Lookup finds the descriptor for key.
func Lookup(descriptors []Descriptor, key string) (Descriptor, bool) {
	for _, d := range descriptors {
		if d.Key == key {
			return d, true
		}
	}
	return Descriptor{}, false
}
