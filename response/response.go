// Package response implements the Response Strategy: a priority-ordered
// composition of overrides, behavior-engine output, declared examples,
// schema synthesis, and proxy fall-through, ending in a generic fallback
// when nothing else applies.
//
// Schema-driven synthesis walks a compiled santhosh-tekuri/jsonschema/v5
// schema and produces a conforming value from its own math/rand source,
// seeded by the seed passed to FromSchema and separate from the template
// engine's faker; "uuid"-format strings come from google/uuid and do not
// depend on that seed. Proxy fall-through issues its
// outbound call through the resilience package's retry + circuit-breaker
// wrapper.
package response

import (
	"context"
	"encoding/base64"
	"fmt"
	"math/rand"
	"regexp"
	"sort"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mockforge/core/domain/fixture"
	"github.com/mockforge/core/resilience"
	"github.com/mockforge/core/template"
)

// Source names which composition stage produced a response, surfaced for
// analytics/audit.
type Source string

const (
	SourceOverride Source = "OVERRIDE"
	SourceBehavior Source = "BEHAVIOR"
	SourceExample  Source = "EXAMPLE"
	SourceSchema   Source = "SCHEMA_SYNTHESIS"
	SourceProxy    Source = "PROXY"
	SourceGeneric  Source = "GENERIC_FALLBACK"
)

// Candidate is one possible response a stage in the strategy can
// contribute; the first non-nil Candidate wins.
type Candidate struct {
	Status  int
	Headers map[string]string
	Body    any
	Source  Source
}

// ProxyClient issues the outbound call for proxy fall-through.
type ProxyClient interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, err error)
}

// Strategy composes the final response for a resolved request.
type Strategy struct {
	tplEngine *template.Engine
	breaker   *resilience.CircuitBreaker
	retryCfg  resilience.RetryConfig
	strict    bool // stored from New; Compose and the stage builders do not read it
}

// New builds a Strategy and stores strict on it. No composed body is
// validated against a response schema, whatever the value of strict.
func New(tplEngine *template.Engine, strict bool) *Strategy {
	return &Strategy{
		tplEngine: tplEngine,
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("proxy-fallthrough")),
		retryCfg:  resilience.DefaultRetryConfig(),
		strict:    strict,
	}
}

// Compose walks the priority chain (override, behavior, example, schema
// synthesis, proxy, generic), returning the first stage's Candidate.
// Each stage function may return (nil, nil) to decline and fall through.
func (s *Strategy) Compose(ctx context.Context, stages ...func(ctx context.Context) (*Candidate, error)) (*Candidate, error) {
	for _, stage := range stages {
		cand, err := stage(ctx)
		if err != nil {
			return nil, err
		}
		if cand != nil {
			return cand, nil
		}
	}
	return &Candidate{Status: 200, Source: SourceGeneric, Body: map[string]any{}}, nil
}

// FromFixture builds a stage that expands a fixture's body template and
// returns it as an override candidate.
func (s *Strategy) FromFixture(f fixture.Fixture, tplCtx template.Context) func(context.Context) (*Candidate, error) {
	return func(context.Context) (*Candidate, error) {
		if f.BodyTemplate == "" {
			return &Candidate{Status: f.Status, Headers: f.Headers, Source: SourceOverride}, nil
		}
		expanded, err := s.tplEngine.Expand(f.BodyTemplate, tplCtx)
		if err != nil {
			return nil, fmt.Errorf("response: expand fixture body: %w", err)
		}
		return &Candidate{Status: f.Status, Headers: f.Headers, Body: expanded, Source: SourceOverride}, nil
	}
}

// FromSchema builds a stage that synthesizes a conforming value for the
// given compiled JSON schema.
func (s *Strategy) FromSchema(schema *jsonschema.Schema, seed int64) func(context.Context) (*Candidate, error) {
	return func(context.Context) (*Candidate, error) {
		if schema == nil {
			return nil, nil
		}
		val := synthesize(schema, rand.New(rand.NewSource(seed)), 0)
		return &Candidate{Status: 200, Body: val, Source: SourceSchema}, nil
	}
}

// FromProxy builds a stage that issues an outbound call through the
// resilience-wrapped ProxyClient.
func (s *Strategy) FromProxy(client ProxyClient, method, url string, headers map[string]string, body []byte) func(context.Context) (*Candidate, error) {
	return func(ctx context.Context) (*Candidate, error) {
		if client == nil || url == "" {
			return nil, nil
		}
		var status int
		var respHeaders map[string]string
		var respBody []byte

		_, err := s.breaker.Execute(func() (any, error) {
			return nil, resilience.Retry(ctx, s.retryCfg, func() error {
				var callErr error
				status, respHeaders, respBody, callErr = client.Do(ctx, method, url, headers, body)
				return callErr
			})
		})
		if err != nil {
			if resilience.IsCircuitOpen(err) {
				return nil, nil // breaker open: fall through to generic
			}
			return nil, err
		}
		return &Candidate{Status: status, Headers: respHeaders, Body: respBody, Source: SourceProxy}, nil
	}
}

// synthesize produces a value conforming to schema's declared
// constraints, walking minimum/maximum, minLength/maxLength,
// minItems/maxItems, uniqueItems, enum, pattern, format, multipleOf,
// exclusiveMinimum/Maximum, contentEncoding, and allOf/anyOf/oneOf.
func synthesize(schema *jsonschema.Schema, rnd *rand.Rand, depth int) any {
	if depth > 8 {
		return nil
	}
	if len(schema.Constant) == 1 {
		return schema.Constant[0]
	}
	if schema.Enum != nil && len(schema.Enum.Values) > 0 {
		return schema.Enum.Values[rnd.Intn(len(schema.Enum.Values))]
	}
	if len(schema.AllOf) > 0 {
		merged := map[string]any{}
		for _, sub := range schema.AllOf {
			if m, ok := synthesize(sub, rnd, depth+1).(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
		}
		if len(merged) > 0 {
			return merged
		}
	}
	if len(schema.AnyOf) > 0 {
		return synthesize(schema.AnyOf[rnd.Intn(len(schema.AnyOf))], rnd, depth+1)
	}
	if len(schema.OneOf) > 0 {
		return synthesize(schema.OneOf[rnd.Intn(len(schema.OneOf))], rnd, depth+1)
	}

	types := schema.Types
	if len(types) == 0 {
		if len(schema.Properties) > 0 {
			types = []string{"object"}
		} else if schema.Items2020 != nil {
			types = []string{"array"}
		} else {
			types = []string{"string"}
		}
	}

	switch types[0] {
	case "object":
		out := map[string]any{}
		keys := make([]string, 0, len(schema.Properties))
		for k := range schema.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out[k] = synthesize(schema.Properties[k], rnd, depth+1)
		}
		return out
	case "array":
		minItems := 1
		if schema.MinItems != nil {
			minItems = int(*schema.MinItems)
		}
		maxItems := minItems + 2
		if schema.MaxItems != nil && int(*schema.MaxItems) < maxItems {
			maxItems = int(*schema.MaxItems)
		}
		n := minItems
		if maxItems > minItems {
			n = minItems + rnd.Intn(maxItems-minItems+1)
		}
		items := make([]any, 0, n)
		seen := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			var item any
			if schema.Items2020 != nil {
				item = synthesize(schema.Items2020, rnd, depth+1)
			}
			if schema.UniqueItems {
				key := fmt.Sprint(item)
				for attempt := 0; seen[key] && attempt < 10; attempt++ {
					if schema.Items2020 != nil {
						item = synthesize(schema.Items2020, rnd, depth+1)
					}
					key = fmt.Sprint(item)
				}
				seen[key] = true
			}
			items = append(items, item)
		}
		return items
	case "integer", "number":
		min, max := 0.0, 100.0
		if schema.Minimum != nil {
			f, _ := schema.Minimum.Float64()
			min = f
		}
		if schema.Maximum != nil {
			f, _ := schema.Maximum.Float64()
			max = f
		}
		if schema.ExclusiveMinimum != nil {
			f, _ := schema.ExclusiveMinimum.Float64()
			if f >= min {
				min = f + 1
			}
		}
		if schema.ExclusiveMaximum != nil {
			f, _ := schema.ExclusiveMaximum.Float64()
			if f <= max {
				max = f - 1
			}
		}
		if max < min {
			max = min + 1
		}
		v := min + rnd.Float64()*(max-min)
		if schema.MultipleOf != nil {
			mult, _ := schema.MultipleOf.Float64()
			if mult > 0 {
				v = float64(int(v/mult)) * mult
			}
		}
		if types[0] == "integer" {
			return int(v)
		}
		return v
	case "boolean":
		return rnd.Intn(2) == 0
	default: // string
		return synthesizeString(schema, rnd)
	}
}

// synthesizeString produces a string honoring format, pattern,
// contentEncoding, and length bounds, in that priority order: a declared
// format wins over a bare length-bound random string, and pattern is
// attempted best-effort against the declared regular expression.
func synthesizeString(schema *jsonschema.Schema, rnd *rand.Rand) any {
	minLen := 3
	if schema.MinLength != nil {
		minLen = int(*schema.MinLength)
	}
	maxLen := minLen + 5
	if schema.MaxLength != nil && int(*schema.MaxLength) < maxLen {
		maxLen = int(*schema.MaxLength)
	}

	var s string
	switch {
	case schema.Format != nil:
		s = formatValue(schema.Format.Name, rnd)
	case schema.Pattern != nil:
		s = matchPattern(schema.Pattern, rnd, minLen, maxLen)
	default:
		s = randomString(rnd, minLen, maxLen)
	}

	if schema.ContentEncoding != nil && schema.ContentEncoding.Name == "base64" {
		return base64.StdEncoding.EncodeToString([]byte(s))
	}
	return s
}

// formatValue produces a value for a known JSON Schema "format" keyword.
func formatValue(name string, rnd *rand.Rand) string {
	switch name {
	case "uuid":
		return uuid.NewString()
	case "email":
		return randomString(rnd, 5, 10) + "@example.com"
	case "date-time":
		return "2024-01-01T00:00:00Z"
	case "date":
		return "2024-01-01"
	case "time":
		return "00:00:00Z"
	case "hostname":
		return randomString(rnd, 5, 10) + ".example.com"
	case "ipv4":
		return "192.0.2.1"
	case "ipv6":
		return "2001:db8::1"
	case "uri", "uri-reference":
		return "https://example.com/" + randomString(rnd, 3, 8)
	default:
		return randomString(rnd, 5, 10)
	}
}

// matchPattern makes a bounded number of attempts to produce a random
// string accepted by re before giving up and returning an unconstrained
// random string; solving arbitrary regex generation exactly is out of
// scope for a mock response body.
func matchPattern(re *regexp.Regexp, rnd *rand.Rand, minLen, maxLen int) string {
	for attempt := 0; attempt < 25; attempt++ {
		candidate := randomString(rnd, minLen, maxLen)
		if re.MatchString(candidate) {
			return candidate
		}
	}
	return randomString(rnd, minLen, maxLen)
}

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomString(rnd *rand.Rand, minLen, maxLen int) string {
	n := minLen
	if maxLen > minLen {
		n = minLen + rnd.Intn(maxLen-minLen+1)
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rnd.Intn(len(alphabet))]
	}
	return string(b)
}
