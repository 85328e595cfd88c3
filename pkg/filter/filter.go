// Package filter implements the include/exclude precedence shared by every
// filter axis (watch-exclude, uncache, reload, special reload).
package filter

import (
	"sync"

	"github.com/samber/lo"
	"github.com/yaklabco/hotreload/pkg/pattern"
)

// Default is the answer an axis gives when it has no rules at all.
type Default bool

const (
	MatchNone Default = false
	MatchAll  Default = true
)

// Entry is an include rule with the value it yields on a match.
type Entry[T any] struct {
	Matcher pattern.Matcher
	Value   T
}

// Set is an ordered collection of include rules and a parallel collection
// of exclude rules for one axis. Rules are append-only. Adding rules while
// another goroutine evaluates the set is safe, but whether an in-flight
// evaluation sees the new rule is unspecified.
type Set[T any] struct {
	name string
	def  Default

	mu       sync.RWMutex
	includes []Entry[T]
	excludes []pattern.Matcher
}

// New returns an empty set for the named axis.
func New[T any](name string, def Default) *Set[T] {
	return &Set[T]{name: name, def: def}
}

// Name returns the axis name.
func (s *Set[T]) Name() string { return s.name }

// Include appends include rules that all yield value.
func (s *Set[T]) Include(value T, matchers ...pattern.Matcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range matchers {
		s.includes = append(s.includes, Entry[T]{Matcher: m, Value: value})
	}
}

// Exclude appends exclude rules.
func (s *Set[T]) Exclude(matchers ...pattern.Matcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excludes = append(s.excludes, matchers...)
}

// Test decides whether path matches the axis:
//  1. no rules at all: the axis default;
//  2. any exclude matches: no match;
//  3. excludes present but no includes: match;
//  4. any include matches: match;
//  5. otherwise: no match.
func (s *Set[T]) Test(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.includes) == 0 && len(s.excludes) == 0 {
		return bool(s.def)
	}
	if s.excludedLocked(path) {
		return false
	}
	if len(s.includes) == 0 {
		return true
	}
	for _, entry := range s.includes {
		if entry.Matcher.Match(path) {
			return true
		}
	}
	return false
}

// Matches returns the value of every include rule matching path, in
// insertion order. Any exclude match yields nothing.
func (s *Set[T]) Matches(path string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.excludedLocked(path) {
		return nil
	}
	var values []T
	for _, entry := range s.includes {
		if entry.Matcher.Match(path) {
			values = append(values, entry.Value)
		}
	}
	return values
}

func (s *Set[T]) excludedLocked(path string) bool {
	for _, m := range s.excludes {
		if m.Match(path) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no rules.
func (s *Set[T]) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.includes) == 0 && len(s.excludes) == 0
}

// Description is a printable snapshot of a set.
type Description struct {
	Name     string
	Default  Default
	Includes []string
	Excludes []string
}

// Describe returns a snapshot of the rules for display.
func (s *Set[T]) Describe() Description {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Description{
		Name:    s.name,
		Default: s.def,
		Includes: lo.Map(s.includes, func(entry Entry[T], _ int) string {
			return entry.Matcher.String()
		}),
		Excludes: lo.Map(s.excludes, func(m pattern.Matcher, _ int) string {
			return m.String()
		}),
	}
}
