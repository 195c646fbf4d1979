package registry

import (
	"fmt"
	"time"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/mockforge/core/domain/spec"
)

// LoadGraphQL parses a GraphQL SDL document with vektah/gqlparser/v2 and
// turns each Query/Mutation/Subscription field into an Operation keyed
// "graphql:<Type>.<Field>", as described in the registry's component
// design.
func LoadGraphQL(id, name string, sdl string) (*spec.Spec, error) {
	source := &ast.Source{Name: id, Input: sdl}
	schema, err := gqlparser.LoadSchema(source)
	if err != nil {
		return nil, fmt.Errorf("registry: parse graphql sdl: %w", err)
	}

	s := &spec.Spec{ID: id, Kind: spec.KindGraphQL, Name: name, LoadedAt: time.Now()}

	roots := []struct {
		typeName string
		def      *ast.Definition
		verb     string
	}{
		{"Query", schema.Query, "QUERY"},
		{"Mutation", schema.Mutation, "MUTATION"},
		{"Subscription", schema.Subscription, "SUBSCRIPTION"},
	}

	for _, root := range roots {
		if root.def == nil {
			continue
		}
		for _, field := range root.def.Fields {
			s.Operations = append(s.Operations, spec.Operation{
				ID:      fmt.Sprintf("graphql:%s.%s", root.typeName, field.Name),
				Method:  root.verb,
				Summary: field.Description,
			})
		}
	}
	return s, nil
}
