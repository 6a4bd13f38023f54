// Package filter is the multi-criteria record filter. A Set is a conjunction
// of per-field criteria evaluated against schema-agnostic record.Doc trees;
// a criterion without a usable value is never applied.
package filter

import (
	"slices"
	"strings"

	"github.com/casfos/registry/internal/record"
)

// Op selects how a criterion compares its values against a record field.
type Op int

const (
	// OpContains passes when any value reached by the field contains the
	// criterion value, ignoring case.
	OpContains Op = iota
	// OpEquals passes when any value reached by the field equals the
	// criterion value exactly.
	OpEquals
	// OpAll passes when every criterion value is present in the field.
	OpAll
)

func (o Op) String() string {
	switch o {
	case OpContains:
		return "contains"
	case OpEquals:
		return "equals"
	case OpAll:
		return "all"
	default:
		return "unknown"
	}
}

// Criterion constrains one field. Field may be a dotted path.
type Criterion struct {
	Field  string   `json:"field"`
	Op     Op       `json:"op"`
	Values []string `json:"values"`
}

// Contains builds an OpContains criterion.
func Contains(field, value string) Criterion {
	return Criterion{Field: field, Op: OpContains, Values: []string{value}}
}

// Equals builds an OpEquals criterion.
func Equals(field, value string) Criterion {
	return Criterion{Field: field, Op: OpEquals, Values: []string{value}}
}

// All builds an OpAll criterion.
func All(field string, values ...string) Criterion {
	return Criterion{Field: field, Op: OpAll, Values: values}
}

// active returns the trimmed non-blank values.
func (c Criterion) active() []string {
	var out []string
	for _, v := range c.Values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Applied reports whether the criterion constrains anything. Empty strings,
// whitespace and empty lists are not applied.
func (c Criterion) Applied() bool {
	return c.Field != "" && len(c.active()) > 0
}

// Match evaluates the criterion against d. An unapplied criterion matches
// every record.
func (c Criterion) Match(d record.Doc) bool {
	values := c.active()
	if c.Field == "" || len(values) == 0 {
		return true
	}
	have := d.Strings(c.Field)
	switch c.Op {
	case OpContains:
		for _, want := range values {
			want = strings.ToLower(want)
			if !slices.ContainsFunc(have, func(s string) bool {
				return strings.Contains(strings.ToLower(s), want)
			}) {
				return false
			}
		}
		return true
	case OpEquals, OpAll:
		for _, want := range values {
			if !slices.Contains(have, want) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Set is a conjunction of criteria.
type Set []Criterion

// Applied returns only the criteria that constrain something. A minor-domain
// criterion counts only while some major-domain criterion is applied.
func (s Set) Applied() Set {
	out := make(Set, 0, len(s))
	hasMajor := false
	for _, c := range s {
		if c.Applied() {
			out = append(out, c)
			hasMajor = hasMajor || c.Field == FieldMajorDomains
		}
	}
	if !hasMajor {
		out = slices.DeleteFunc(out, func(c Criterion) bool { return c.Field == FieldMinorDomains })
	}
	return out
}

// IsEmpty reports whether no criterion in s is applied.
func (s Set) IsEmpty() bool {
	return len(s.Applied()) == 0
}

// Match reports whether d passes every criterion.
func (s Set) Match(d record.Doc) bool {
	for _, c := range s {
		if !c.Match(d) {
			return false
		}
	}
	return true
}

// Fields lists the distinct fields of the applied criteria in order.
func (s Set) Fields() []string {
	var out []string
	for _, c := range s.Applied() {
		if !slices.Contains(out, c.Field) {
			out = append(out, c.Field)
		}
	}
	return out
}

// Merge combines sets with AND semantics.
func Merge(sets ...Set) Set {
	var out Set
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// Filter returns the records that pass every criterion of s, in input order.
// The input slice is not modified.
func Filter(records []record.Doc, s Set) []record.Doc {
	applied := s.Applied()
	out := make([]record.Doc, 0, len(records))
	for _, d := range records {
		if applied.Match(d) {
			out = append(out, d)
		}
	}
	return out
}
