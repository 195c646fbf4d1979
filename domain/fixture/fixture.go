// Package fixture defines the domain type for a stored mock response
// fixture: the explicit override an operator attaches to a path/method
// pair, which the Response Strategy consults before falling back to
// schema synthesis or proxying.
package fixture

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fixture is a single operator-authored mock response bound to a method
// and path pattern (which may contain {param} segments or a trailing
// "**" double wildcard).
type Fixture struct {
	ID          string
	Method      string
	PathPattern string
	Status      int
	Headers     map[string]string
	BodyTemplate string // raw body, possibly containing template tokens
	Priority    int     // higher wins on ties after specificity ranking
}

// Fingerprint returns a stable content hash of the fixture.
func (f Fixture) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%d\n", strings.ToUpper(f.Method), f.PathPattern, f.Status)
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, f.Headers[k])
	}
	h.Write([]byte(f.BodyTemplate))
	return hex.EncodeToString(h.Sum(nil))
}

// Specificity scores how specific PathPattern is, for precedence ranking:
// exact literal segments outrank {param} segments, which outrank a
// single-segment "*" wildcard, which outranks a trailing "**" wildcard.
// Higher is more specific.
func (f Fixture) Specificity() int {
	segs := strings.Split(strings.Trim(f.PathPattern, "/"), "/")
	score := 0
	for _, s := range segs {
		switch {
		case s == "**":
			score += 1
		case s == "*":
			score += 5
		case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
			score += 10
		case s == "":
			// root, no contribution
		default:
			score += 100
		}
	}
	return score
}
