// Package pattern implements the matching rule sets used to route outbound
// requests: anchored regular expressions for hosts and paths, and exact
// literals for WS-Addressing URIs.
//
// An empty set matches every value. A non-empty set never matches an empty value.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Set is an immutable, named set of compiled patterns.
type Set struct {
	name     string
	raw      []string
	compiled []*regexp.Regexp
}

// InvalidPatternError reports a pattern that failed to compile.
type InvalidPatternError struct {
	Set     string
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern %q: %v", e.Set, e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error {
	return e.Err
}

// Compile builds a Set from raw pattern strings. Blank entries are ignored.
// Patterns that fail to compile are excluded from the returned set and each is
// reported in the returned slice; callers decide what an invalid entry means
// for the rule as a whole.
func Compile(name string, raw []string) (*Set, []error) {
	s := &Set{name: name}
	var errs []error

	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		// The raw pattern must be valid on its own; "a)(b" only compiles once wrapped.
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, &InvalidPatternError{Set: name, Pattern: p, Err: err})
			continue
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			errs = append(errs, &InvalidPatternError{Set: name, Pattern: p, Err: err})
			continue
		}

		s.raw = append(s.raw, p)
		s.compiled = append(s.compiled, re)
	}

	return s, errs
}

// MustCompile is like Compile but panics on any invalid pattern.
func MustCompile(name string, raw ...string) *Set {
	s, errs := Compile(name, raw)
	if len(errs) > 0 {
		panic(errs[0])
	}
	return s
}

// Matches reports whether value is accepted by the set.
func (s *Set) Matches(value string) bool {
	if s == nil || len(s.compiled) == 0 {
		return true
	}
	if value == "" {
		return false
	}
	for _, re := range s.compiled {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no patterns (and so matches everything).
func (s *Set) Empty() bool {
	return s == nil || len(s.compiled) == 0
}

// Name returns the set name ("host", "path").
func (s *Set) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Patterns returns a copy of the source patterns that were accepted.
func (s *Set) Patterns() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.raw))
	copy(out, s.raw)
	return out
}

// Literals is an immutable set of exact strings with the same
// empty-matches-all semantics as Set.
type Literals struct {
	values []string
	index  map[string]struct{}
}

// NewLiterals builds a Literals set. Blank entries are ignored.
func NewLiterals(values []string) *Literals {
	l := &Literals{index: make(map[string]struct{}, len(values))}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := l.index[v]; dup {
			continue
		}
		l.index[v] = struct{}{}
		l.values = append(l.values, v)
	}
	return l
}

// Matches reports whether value is one of the literals.
func (l *Literals) Matches(value string) bool {
	if l == nil || len(l.values) == 0 {
		return true
	}
	if value == "" {
		return false
	}
	_, ok := l.index[value]
	return ok
}

// Empty reports whether the set has no literals.
func (l *Literals) Empty() bool {
	return l == nil || len(l.values) == 0
}

// Values returns a copy of the literals in declaration order.
func (l *Literals) Values() []string {
	if l == nil {
		return nil
	}
	out := make([]string, len(l.values))
	copy(out, l.values)
	return out
}
