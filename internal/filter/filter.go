// Package filter decides which paths a deployment ignores or keeps.
package filter

import (
	"fmt"
	"regexp"
)

// Set is a compiled list of path patterns. Each pattern is a regular
// expression anchored at the start of the path only, so a match on any
// prefix counts: ".git" covers ".git/HEAD" and "build/" covers everything
// below build but not "builder.txt".
type Set struct {
	res   []*regexp.Regexp
	exact map[string]bool
}

// Compile builds a Set from patterns. Empty patterns are skipped.
func Compile(patterns []string) (*Set, error) {
	s := &Set{exact: map[string]bool{}}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		s.res = append(s.res, re)
	}
	return s, nil
}

// MustCompile is Compile for patterns known to be valid.
func MustCompile(patterns ...string) *Set {
	s, err := Compile(patterns)
	if err != nil {
		panic(err)
	}
	return s
}

// WithPaths returns a copy of s that also matches each of paths literally.
func (s *Set) WithPaths(paths ...string) *Set {
	if s == nil {
		s = &Set{}
	}
	out := &Set{
		res:   s.res,
		exact: make(map[string]bool, len(s.exact)+len(paths)),
	}
	for p := range s.exact {
		out.exact[p] = true
	}
	for _, p := range paths {
		if p != "" {
			out.exact[p] = true
		}
	}
	return out
}

// Match reports whether path is covered by any pattern.
func (s *Set) Match(path string) bool {
	if s == nil {
		return false
	}
	if s.exact[path] {
		return true
	}
	for _, re := range s.res {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Rules combines the ignore and keep sets of one deployment.
type Rules struct {
	ignore *Set
	keep   *Set
}

// NewRules compiles ignore and keep patterns. The implicit paths (the
// manifest, the change log and the local configuration file) are always
// ignored.
func NewRules(ignore, keep []string, implicit ...string) (*Rules, error) {
	ig, err := Compile(ignore)
	if err != nil {
		return nil, fmt.Errorf("ignore: %w", err)
	}
	kp, err := Compile(keep)
	if err != nil {
		return nil, fmt.Errorf("keep: %w", err)
	}
	return &Rules{ignore: ig.WithPaths(implicit...), keep: kp}, nil
}

// IsIgnored reports whether path takes no part in the deployment.
func (r *Rules) IsIgnored(path string) bool {
	return r != nil && r.ignore.Match(path)
}

// IsKept reports whether an existing remote copy of path must not be
// overwritten.
func (r *Rules) IsKept(path string) bool {
	return r != nil && r.keep.Match(path)
}

// Ignoring returns a copy of r that also ignores each of paths literally.
func (r *Rules) Ignoring(paths ...string) *Rules {
	if r == nil {
		r = &Rules{}
	}
	return &Rules{ignore: r.ignore.WithPaths(paths...), keep: r.keep}
}
