// Package spec defines the domain types for imported API specifications:
// the unit the Spec Registry indexes and resolves requests against.
package spec

import "time"

// Kind identifies which specification format an Operation was parsed from.
type Kind string

const (
	KindOpenAPI  Kind = "OPENAPI"
	KindGraphQL  Kind = "GRAPHQL"
	KindProtobuf Kind = "PROTOBUF"
)

// Operation is one resolvable unit within a Spec: an HTTP path template
// plus method for OpenAPI, a field within a GraphQL type for GraphQL SDL,
// or an RPC method for protobuf descriptors.
type Operation struct {
	ID          string // stable identifier, e.g. "GET /pets/{id}" or "Query.pet"
	Method      string // HTTP method, or "QUERY"/"MUTATION"/"SUBSCRIPTION", or RPC name
	PathPattern string // path template with {param} placeholders; empty for non-path kinds
	Summary     string
	RequestSchema  map[string]any // JSON schema, when known
	ResponseSchema map[string]any
	Examples map[string]any // status-or-name keyed example bodies
	Tags     []string
}

// Spec is a single imported specification document.
type Spec struct {
	ID         string
	Kind       Kind
	Name       string
	Version    string
	Operations []Operation
	LoadedAt   time.Time
	SourcePath string
}

// FindOperation returns the Operation with the given ID, if present.
func (s *Spec) FindOperation(id string) (Operation, bool) {
	for _, op := range s.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}
