// Package behavior implements the Behavior & Mutation Engine: classifies
// a request's effect on session-held resource state by HTTP method,
// applies the resulting mutation to produce a shaped response body, and
// evaluates operator-declared consistency invariants against it.
//
// Invariants are expr-lang/expr programs, compiled once when a
// Rules snapshot is published and evaluated per request. Structural
// mutation of the stored resource body uses tidwall/sjson, gjson's
// write-side counterpart, matching the JSON reshaping style used
// elsewhere in this pipeline's request-handling path.
package behavior

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/tidwall/sjson"

	domain "github.com/mockforge/core/domain/behavior"
)

// CompiledInvariant pairs an Invariant's declaration with its compiled
// expr program.
type CompiledInvariant struct {
	domain.Invariant
	program *vm.Program
}

// CompileRules compiles every invariant expression in rules, returning an
// error naming the first one that fails to compile.
func CompileRules(rules domain.Rules) ([]CompiledInvariant, error) {
	out := make([]CompiledInvariant, 0, len(rules.Invariants))
	for _, inv := range rules.Invariants {
		prog, err := expr.Compile(inv.Expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("behavior: compile invariant %q: %w", inv.Name, err)
		}
		out = append(out, CompiledInvariant{Invariant: inv, program: prog})
	}
	return out, nil
}

// ClassifyMutation maps an HTTP method (and whether a prior resource
// exists) to a domain.MutationType.
func ClassifyMutation(method string, exists bool) domain.MutationType {
	switch method {
	case "POST":
		return domain.MutationCreate
	case "PUT":
		if exists {
			return domain.MutationUpdate
		}
		return domain.MutationCreate
	case "PATCH":
		return domain.MutationPartialUpdate
	case "DELETE":
		return domain.MutationDelete
	default:
		return domain.MutationNone
	}
}

// Engine runs mutation classification, body shaping, and invariant
// evaluation against a Session.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// Apply classifies the request, shapes the resulting body, and runs the
// compiled invariants against it, producing an Outcome. When method
// carries no body-shaping semantics the engine sets Defer so the
// Response Strategy composes the reply itself, per the pipeline's
// explicit defer signal (no empty-body sentinel).
func (e *Engine) Apply(sess *domain.Session, resourcePath, resourceID, method string, requestBody any, invariants []CompiledInvariant, blockOnError bool) (domain.Outcome, error) {
	existing, exists := sess.Get(resourcePath, resourceID)
	mutation := ClassifyMutation(method, exists)

	var body, resource any
	defer_ := false

	switch mutation {
	case domain.MutationCreate:
		sess.Put(resourcePath, resourceID, requestBody)
		resource = requestBody
		body = shapedBody(resourceID, "created", requestBody)
	case domain.MutationUpdate:
		sess.Put(resourcePath, resourceID, requestBody)
		resource = requestBody
		body = shapedBody(resourceID, "updated", requestBody)
	case domain.MutationPartialUpdate:
		merged, err := mergePatch(existing, requestBody)
		if err != nil {
			return domain.Outcome{}, err
		}
		sess.Put(resourcePath, resourceID, merged)
		resource = merged
		body = shapedBody(resourceID, "updated", merged)
	case domain.MutationDelete:
		sess.Delete(resourcePath, resourceID)
		body = nil
	default:
		resource = existing
		body = existing
		defer_ = true
	}

	var issues []domain.ValidationIssue
	if resource != nil {
		issues = evaluateInvariants(invariants, resource)
	}

	if blockOnError {
		for _, iss := range issues {
			if iss.Severity == domain.SeverityError {
				defer_ = false
			}
		}
	}

	return domain.Outcome{Mutation: mutation, Body: body, Issues: issues, Defer: defer_}, nil
}

// shapedBody wraps a mutated resource in the envelope the Response
// Strategy surfaces to the caller: the resource id, a status verb naming
// the mutation, and the stored data itself.
func shapedBody(resourceID, status string, data any) map[string]any {
	return map[string]any{
		"id":     resourceID,
		"status": status,
		"data":   data,
	}
}

func evaluateInvariants(invariants []CompiledInvariant, body any) []domain.ValidationIssue {
	var issues []domain.ValidationIssue
	env := map[string]any{"body": body}
	for _, inv := range invariants {
		out, err := expr.Run(inv.program, env)
		if err != nil {
			issues = append(issues, domain.ValidationIssue{
				Rule: inv.Name, Severity: domain.SeverityError,
				Message: fmt.Sprintf("evaluation error: %v", err),
			})
			continue
		}
		ok, isBool := out.(bool)
		if isBool && ok {
			continue
		}
		issues = append(issues, domain.ValidationIssue{
			Rule: inv.Name, Severity: inv.Severity, Message: inv.Message,
		})
	}
	return issues
}

// mergePatch shallow-merges patch's JSON-shaped fields onto base using
// sjson, matching PATCH's partial-update semantics.
func mergePatch(base, patch any) (any, error) {
	baseBytes, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	patchMap, ok := patch.(map[string]any)
	if !ok {
		return patch, nil
	}
	result := baseBytes
	for k, v := range patchMap {
		result, err = sjson.SetBytes(result, k, v)
		if err != nil {
			return nil, err
		}
	}
	var out any
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Diff is the structural diff ComputeDiff produces between before and
// after: the keys whose values changed, were added, or were removed.
type Diff struct {
	ChangedFields []string
	AddedFields   []string
	RemovedFields []string
}

// ComputeDiff compares two JSON-shaped maps one level deep.
func ComputeDiff(before, after map[string]any) Diff {
	var d Diff
	for k, av := range after {
		bv, existed := before[k]
		if !existed {
			d.AddedFields = append(d.AddedFields, k)
			continue
		}
		if !jsonEqual(bv, av) {
			d.ChangedFields = append(d.ChangedFields, k)
		}
	}
	for k := range before {
		if _, stillThere := after[k]; !stillThere {
			d.RemovedFields = append(d.RemovedFields, k)
		}
	}
	return d
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(ab) == string(bb)
}
