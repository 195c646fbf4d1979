// Package registry implements the Spec Registry: loading OpenAPI,
// GraphQL SDL, and protobuf descriptor specifications, indexing their
// operations, and resolving an inbound request to the most specific
// matching operation and fixture.
//
// Reload swaps an atomic pointer to an immutable index so concurrent
// readers never observe a torn state, per the pipeline's shared-resource
// policy for read-mostly state (matching the automation platform's own
// preference for swapping whole config snapshots rather than locking
// individual fields).
package registry

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/mockforge/core/domain/fixture"
	"github.com/mockforge/core/domain/spec"
)

// index is the immutable, queryable snapshot built on each Load/Reload.
type index struct {
	specs     map[string]*spec.Spec
	fixtures  []fixture.Fixture // sorted most-specific first
}

func emptyIndex() *index {
	return &index{specs: make(map[string]*spec.Spec)}
}

// Registry holds the current index behind an atomic pointer.
type Registry struct {
	current atomic.Pointer[index]
}

// New returns an empty Registry.
func New() *Registry {
	r := &Registry{}
	r.current.Store(emptyIndex())
	return r
}

// Load replaces the registry's contents with specs and fixtures,
// atomically publishing the new index.
func (r *Registry) Load(specs []*spec.Spec, fixtures []fixture.Fixture) {
	idx := emptyIndex()
	for _, s := range specs {
		idx.specs[s.ID] = s
	}
	sorted := make([]fixture.Fixture, len(fixtures))
	copy(sorted, fixtures)
	sortFixturesBySpecificity(sorted)
	idx.fixtures = sorted
	r.current.Store(idx)
}

func sortFixturesBySpecificity(fs []fixture.Fixture) {
	// insertion sort: fixture sets are small (operator-authored), and this
	// keeps equal-specificity entries in their declared (priority) order.
	for i := 1; i < len(fs); i++ {
		j := i
		for j > 0 && less(fs[j], fs[j-1]) {
			fs[j], fs[j-1] = fs[j-1], fs[j]
			j--
		}
	}
}

func less(a, b fixture.Fixture) bool {
	if a.Specificity() != b.Specificity() {
		return a.Specificity() > b.Specificity()
	}
	return a.Priority > b.Priority
}

// Spec returns the currently loaded spec with the given ID.
func (r *Registry) Spec(id string) (*spec.Spec, bool) {
	idx := r.current.Load()
	s, ok := idx.specs[id]
	return s, ok
}

// Specs returns every currently loaded spec.
func (r *Registry) Specs() []*spec.Spec {
	idx := r.current.Load()
	out := make([]*spec.Spec, 0, len(idx.specs))
	for _, s := range idx.specs {
		out = append(out, s)
	}
	return out
}

// ResolveFixture finds the most specific fixture matching method+path,
// using exact-segment > {param}-segment > "**" wildcard precedence.
func (r *Registry) ResolveFixture(method, path string) (fixture.Fixture, bool) {
	idx := r.current.Load()
	method = strings.ToUpper(method)
	for _, f := range idx.fixtures {
		if !strings.EqualFold(f.Method, method) {
			continue
		}
		if MatchPath(f.PathPattern, path) {
			return f, true
		}
	}
	return fixture.Fixture{}, false
}

// ResolveOperation finds the Operation across all loaded specs whose
// PathPattern matches path and whose Method matches, used when no
// fixture override exists and the response strategy needs schema info.
func (r *Registry) ResolveOperation(method, path string) (spec.Operation, bool) {
	idx := r.current.Load()
	method = strings.ToUpper(method)
	var best spec.Operation
	bestScore := -1
	for _, s := range idx.specs {
		for _, op := range s.Operations {
			if op.PathPattern == "" {
				continue
			}
			if !strings.EqualFold(op.Method, method) {
				continue
			}
			if !MatchPath(op.PathPattern, path) {
				continue
			}
			score := fixture.Fixture{PathPattern: op.PathPattern}.Specificity()
			if score > bestScore {
				bestScore = score
				best = op
			}
		}
	}
	return best, bestScore >= 0
}

// MatchPath reports whether path satisfies pattern, where pattern
// segments may be a literal, a "{param}" or "*" single-segment wildcard,
// or a trailing "**" matching any number of remaining segments.
func MatchPath(pattern, path string) bool {
	pSegs := splitPath(pattern)
	tSegs := splitPath(path)

	i := 0
	for ; i < len(pSegs); i++ {
		seg := pSegs[i]
		if seg == "**" {
			return true // matches everything from here on, including nothing
		}
		if i >= len(tSegs) {
			return false
		}
		if seg == "*" {
			continue
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			continue
		}
		if seg != tSegs[i] {
			return false
		}
	}
	return i == len(tSegs)
}

func splitPath(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// PathParams extracts {param} bindings from path given the pattern that
// matched it.
func PathParams(pattern, path string) map[string]string {
	out := map[string]string{}
	pSegs := splitPath(pattern)
	tSegs := splitPath(path)
	for i, seg := range pSegs {
		if i >= len(tSegs) {
			break
		}
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			out[name] = tSegs[i]
		}
	}
	return out
}

// ErrUnsupportedKind is returned by loaders for an unrecognized spec kind.
var ErrUnsupportedKind = fmt.Errorf("registry: unsupported spec kind")
