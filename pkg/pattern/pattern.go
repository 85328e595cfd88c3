// Package pattern compiles filter specifications (literal paths, globs,
// regular expressions and predicates) into reusable matchers.
package pattern

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"github.com/gobwas/glob"
)

// Kind tags the variant held by a Spec.
type Kind int

const (
	KindLiteral Kind = iota
	KindGlob
	KindRegex
	KindPredicate
	KindShell
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindGlob:
		return "glob"
	case KindRegex:
		return "regex"
	case KindPredicate:
		return "predicate"
	case KindShell:
		return "shell"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Config string prefixes recognized by Parse.
const (
	RegexPrefix = "re:"
	ShellPrefix = "glob:"
)

// globMeta are the characters that turn a config string into a Glob.
const globMeta = "*?"

// matchTimeout bounds a single regular expression evaluation.
const matchTimeout = 250 * time.Millisecond

// Spec is an uncompiled filter specification.
type Spec struct {
	Kind      Kind
	Value     string
	Predicate func(path string) bool

	// Recursive makes the compiled matcher also accept any candidate lying
	// below a path the spec matches.
	Recursive bool
}

func Literal(path string) Spec { return Spec{Kind: KindLiteral, Value: path} }

func Glob(pattern string) Spec { return Spec{Kind: KindGlob, Value: pattern} }

func Regex(expr string) Spec { return Spec{Kind: KindRegex, Value: expr} }

// Shell is a conventional shell glob (`**`, `{a,b}`, `[...]`) with `/` as the
// separator.
func Shell(pattern string) Spec { return Spec{Kind: KindShell, Value: pattern} }

func Predicate(fn func(path string) bool) Spec {
	return Spec{Kind: KindPredicate, Predicate: fn, Value: "<predicate>"}
}

// WithRecursive returns a copy of s with Recursive set.
func (s Spec) WithRecursive(recursive bool) Spec {
	s.Recursive = recursive
	return s
}

func (s Spec) String() string {
	if s.Kind == KindLiteral {
		return s.Value
	}
	return s.Kind.String() + ":" + s.Value
}

// Parse turns a config string into a Spec. "re:" selects a regular
// expression, "glob:" a shell glob; strings containing `*` or `?` are globs
// and everything else is a literal.
func Parse(s string) Spec {
	switch {
	case strings.HasPrefix(s, RegexPrefix):
		return Regex(strings.TrimPrefix(s, RegexPrefix))
	case strings.HasPrefix(s, ShellPrefix):
		return Shell(strings.TrimPrefix(s, ShellPrefix))
	case strings.ContainsAny(s, globMeta):
		return Glob(s)
	default:
		return Literal(s)
	}
}

// ParseAll parses every string with Parse.
func ParseAll(values ...string) []Spec {
	specs := make([]Spec, 0, len(values))
	for _, v := range values {
		specs = append(specs, Parse(v))
	}
	return specs
}

// ErrInvalidPattern is matched by every InvalidPatternError.
var ErrInvalidPattern = errors.New("invalid pattern")

// InvalidPatternError reports a specification that cannot be compiled.
type InvalidPatternError struct {
	Spec Spec
	Err  error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern %q: %v", e.Spec.Kind, e.Spec.Value, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

func (e *InvalidPatternError) Is(target error) bool { return target == ErrInvalidPattern }

// Resolver maps a logical name (for example a package-style name) to a
// canonical path.
type Resolver interface {
	Resolve(name, fromDir string) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name, fromDir string) (string, error)

func (f ResolverFunc) Resolve(name, fromDir string) (string, error) { return f(name, fromDir) }

// Matcher is a compiled Spec. Match has no side effects.
type Matcher interface {
	Match(path string) bool
	String() string
}

type compileOptions struct {
	resolver Resolver
	baseDir  string
}

// Option configures Compile.
type Option func(*compileOptions)

// WithResolver sets the resolver consulted for literal specs.
func WithResolver(r Resolver) Option {
	return func(o *compileOptions) { o.resolver = r }
}

// WithBaseDir sets the directory literal names are resolved from.
func WithBaseDir(dir string) Option {
	return func(o *compileOptions) { o.baseDir = dir }
}

// Compile turns spec into a Matcher. It fails with *InvalidPatternError when
// a regular expression or shell glob does not parse, or a predicate is nil.
func Compile(spec Spec, opts ...Option) (Matcher, error) {
	var options compileOptions
	for _, opt := range opts {
		opt(&options)
	}

	var (
		m   Matcher
		err error
	)
	switch spec.Kind {
	case KindLiteral:
		m = compileLiteral(spec, options)
	case KindGlob:
		m, err = compileGlob(spec)
	case KindRegex:
		m, err = compileRegex(spec)
	case KindShell:
		m, err = compileShell(spec)
	case KindPredicate:
		if spec.Predicate == nil {
			err = errors.New("nil predicate")
		}
		m = predicateMatcher{spec: spec}
	default:
		err = fmt.Errorf("unknown kind %d", int(spec.Kind))
	}
	if err != nil {
		return nil, &InvalidPatternError{Spec: spec, Err: err}
	}

	if spec.Recursive {
		m = recursiveMatcher{inner: m}
	}
	return m, nil
}

// CompileAll compiles every spec, failing on the first invalid one.
func CompileAll(specs []Spec, opts ...Option) ([]Matcher, error) {
	matchers := make([]Matcher, 0, len(specs))
	for _, spec := range specs {
		m, err := Compile(spec, opts...)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

// GlobToRegex translates a glob into an anchored expression: `*` matches zero
// or more characters (lazily), `?` matches zero or one character, and every
// other character is literal.
func GlobToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*?")
		case '?':
			b.WriteString(".?")
		default:
			b.WriteString(regexp2.Escape(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

type literalMatcher struct {
	raw      string
	resolved string
}

func compileLiteral(spec Spec, options compileOptions) Matcher {
	m := literalMatcher{raw: spec.Value}
	if options.resolver == nil {
		return m
	}
	resolved, err := options.resolver.Resolve(spec.Value, options.baseDir)
	if err == nil && resolved != "" {
		m.resolved = resolved
	}
	return m
}

// Match compares against the resolved path when resolution succeeded, and
// against the raw value otherwise.
func (m literalMatcher) Match(path string) bool {
	if m.resolved != "" {
		return path == m.resolved
	}
	return path == m.raw
}

func (m literalMatcher) String() string {
	if m.resolved != "" && m.resolved != m.raw {
		return m.raw + " (" + m.resolved + ")"
	}
	return m.raw
}

type regexMatcher struct {
	source string
	re     *regexp2.Regexp
}

func compileGlob(spec Spec) (Matcher, error) {
	re, err := regexp2.Compile(GlobToRegex(spec.Value), regexp2.Singleline)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	return regexMatcher{source: spec.Value, re: re}, nil
}

func compileRegex(spec Spec) (Matcher, error) {
	re, err := regexp2.Compile(spec.Value, regexp2.ECMAScript)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = matchTimeout
	return regexMatcher{source: "/" + spec.Value + "/", re: re}, nil
}

// Match reports an evaluation error (a timeout) as no match.
func (m regexMatcher) Match(path string) bool {
	ok, err := m.re.MatchString(path)
	return err == nil && ok
}

func (m regexMatcher) String() string { return m.source }

type shellMatcher struct {
	source string
	g      glob.Glob
}

func compileShell(spec Spec) (Matcher, error) {
	g, err := glob.Compile(filepath.ToSlash(spec.Value), '/')
	if err != nil {
		return nil, err
	}
	return shellMatcher{source: spec.Value, g: g}, nil
}

func (m shellMatcher) Match(path string) bool { return m.g.Match(filepath.ToSlash(path)) }

func (m shellMatcher) String() string { return ShellPrefix + m.source }

type predicateMatcher struct {
	spec Spec
}

func (m predicateMatcher) Match(path string) bool { return m.spec.Predicate(path) }

func (m predicateMatcher) String() string { return m.spec.Value }

type recursiveMatcher struct {
	inner Matcher
}

func (m recursiveMatcher) Match(path string) bool {
	if m.inner.Match(path) {
		return true
	}
	for current := filepath.Clean(path); ; {
		parent := filepath.Dir(current)
		if parent == current || parent == "." {
			return false
		}
		if m.inner.Match(parent) {
			return true
		}
		current = parent
	}
}

func (m recursiveMatcher) String() string { return m.inner.String() + " (recursive)" }
