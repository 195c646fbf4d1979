// Package template implements the Template Engine: expansion of
// "{{token}}" placeholders inside fixture bodies, headers, and chain
// link templates against a request/variable context, plus deterministic
// synthetic-value generation via a seeded faker.
//
// Faker support uses github.com/jaswdr/faker, chosen for its seedable
// generator so that two expansions given the same seed produce identical output, a
// requirement shared with the Response Strategy's schema synthesis path.
// Dotted-path resolution into request/variable JSON uses
// github.com/tidwall/gjson, the same library the marble dispatcher
// exercises for exactly this purpose.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"github.com/tidwall/gjson"

	"github.com/mockforge/core/vclock"
)

// ErrUnknownToken is returned (in strict mode) when a "{{token}}" cannot
// be resolved against the context or faker namespace.
var ErrUnknownToken = errors.New("template: unknown token")

var tokenPattern = regexp.MustCompile(`\{\{\s*([^}]+?)\s*\}\}`)

// ChainResponse is the materialized record of one executed chain link,
// addressable from a later link's template under both its link id and its
// store_as name.
type ChainResponse struct {
	Status  int
	Headers map[string]string
	Body    any
}

// ChainContext is the execution-scoped bag a running chain threads through
// template expansion: resolved variables plus every link response stored
// so far, keyed by link id or store_as name per spec.md's "flat mapping
// from a stable key to a fully materialized response record" design.
type ChainContext struct {
	Variables map[string]any
	Responses map[string]ChainResponse
}

// Context supplies values a template expansion can reference: request/chain
// variables, the in-flight ChainContext (if expansion happens inside a
// chain link), and environment reads.
type Context struct {
	// Vars holds decoded request fields and ad hoc variables, addressed by
	// dotted gjson path, e.g. "request.body.user.id".
	Vars map[string]any
	// Chain is non-nil when expansion happens inside a chain execution,
	// making "{{chain.<id|store_as>.body.<path>}}" tokens resolvable.
	Chain *ChainContext
}

// Engine expands templates against a Context, using a seeded faker
// namespace for synthetic values (faker.name, faker.uuid, faker.email,
// ...) and the pipeline's virtual clock for time tokens.
type Engine struct {
	seed   int64
	faker  faker.Faker
	strict bool
	clock  *vclock.Clock
}

// New builds an Engine with the given deterministic seed, reading
// "{{now}}" from clock rather than wall time (spec invariant: time tokens
// always read from the supplied virtual clock). If strict is true, Expand
// returns ErrUnknownToken for any token it cannot resolve; otherwise
// unresolved tokens are left verbatim in the output.
func New(seed int64, strict bool, clock *vclock.Clock) *Engine {
	if clock == nil {
		clock = vclock.New()
	}
	return &Engine{seed: seed, faker: faker.NewWithSeed(rand.NewSource(seed)), strict: strict, clock: clock}
}

// Expand resolves every "{{token}}" occurrence in tpl against ctx and the
// faker namespace, returning the expanded string.
func (e *Engine) Expand(tpl string, ctx Context) (string, error) {
	var firstErr error
	out := tokenPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		sub := tokenPattern.FindStringSubmatch(m)
		if len(sub) != 2 {
			return m
		}
		token := strings.TrimSpace(sub[1])
		val, ok := e.resolve(token, ctx)
		if !ok {
			if e.strict && firstErr == nil {
				firstErr = fmt.Errorf("%w: %q", ErrUnknownToken, token)
			}
			return m
		}
		return stringify(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ExpandJSON expands every string leaf of a decoded JSON value in place,
// returning a new value with the same shape.
func (e *Engine) ExpandJSON(v any, ctx Context) (any, error) {
	switch t := v.(type) {
	case string:
		return e.Expand(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			ev, err := e.ExpandJSON(vv, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			ev, err := e.ExpandJSON(vv, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v, nil
	}
}

func (e *Engine) resolve(token string, ctx Context) (any, bool) {
	switch {
	case strings.HasPrefix(token, "faker."):
		return e.resolveFaker(strings.TrimPrefix(token, "faker."))
	case token == "uuid":
		return uuid.NewString(), true
	case token == "now":
		return e.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00"), true
	case strings.HasPrefix(token, "chain."):
		return resolveChain(strings.TrimPrefix(token, "chain."), ctx)
	case strings.HasPrefix(token, "env."):
		return os.LookupEnv(strings.TrimPrefix(token, "env."))
	default:
		return resolveVar(token, ctx)
	}
}

func resolveVar(path string, ctx Context) (any, bool) {
	if ctx.Vars == nil {
		return nil, false
	}
	raw, err := json.Marshal(ctx.Vars)
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// resolveChain resolves a "<id|store_as>.<rest>" path against the
// in-flight ChainContext's stored link responses, e.g. "A.body.token"
// reads the "token" field of link A's JSON response body.
func resolveChain(path string, ctx Context) (any, bool) {
	if ctx.Chain == nil {
		return nil, false
	}
	key, rest, found := strings.Cut(path, ".")
	resp, ok := ctx.Chain.Responses[key]
	if !ok {
		return nil, false
	}
	if !found {
		return resp.Body, true
	}
	raw, err := json.Marshal(map[string]any{
		"status":  resp.Status,
		"headers": resp.Headers,
		"body":    resp.Body,
	})
	if err != nil {
		return nil, false
	}
	res := gjson.GetBytes(raw, rest)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func (e *Engine) resolveFaker(name string) (any, bool) {
	switch name {
	case "uuid":
		return e.faker.UUID().V4(), true
	case "name":
		return e.faker.Person().Name(), true
	case "firstName":
		return e.faker.Person().FirstName(), true
	case "lastName":
		return e.faker.Person().LastName(), true
	case "email":
		return e.faker.Internet().Email(), true
	case "url":
		return e.faker.Internet().URL(), true
	case "ipv4":
		return e.faker.Internet().Ipv4(), true
	case "word":
		return e.faker.Lorem().Word(), true
	case "sentence":
		return e.faker.Lorem().Sentence(6), true
	case "paragraph":
		return e.faker.Lorem().Paragraph(3), true
	case "number":
		return strconv.Itoa(e.faker.IntBetween(1, 1000)), true
	case "boolean":
		return e.faker.Bool(), true
	case "phone":
		return e.faker.Phone().Number(), true
	case "company":
		return e.faker.Company().Name(), true
	case "address":
		return e.faker.Address().Address(), true
	case "now":
		return e.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00"), true
	default:
		return nil, false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		s := string(b)
		return strings.Trim(s, `"`)
	}
}
