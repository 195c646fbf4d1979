package chainexec

import "github.com/mockforge/core/domain/chain"

// levelGroups builds the dependency graph, topologically sorts it, and
// groups nodes into dependency levels, directly mirroring the original
// core's build_dependency_graph / topological_sort / topo_sort_util /
// collect_dependency_level. A CircularDependencyError is returned if the
// graph is not a DAG.
//
// Unlike the original, which used the topological order only to decide
// what has "already been processed" and otherwise executed every node's
// level independently, this port computes each node's level as one plus
// the maximum level of its dependencies, so that links sharing no
// dependency relationship at all still end up batched together when
// possible, while any link is only ever dispatched after every link it
// depends on has completed.
func levelGroups(links []chain.Link) ([][]string, error) {
	graph := make(map[string][]string, len(links))
	for _, l := range links {
		graph[l.ID] = append([]string(nil), l.DependsOn...)
	}

	order, err := topoSort(graph)
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(order))
	for _, id := range order {
		maxDepLevel := -1
		for _, dep := range graph[id] {
			if l, ok := level[dep]; ok && l > maxDepLevel {
				maxDepLevel = l
			}
		}
		level[id] = maxDepLevel + 1
	}

	maxLevel := 0
	for _, l := range level {
		if l > maxLevel {
			maxLevel = l
		}
	}

	groups := make([][]string, maxLevel+1)
	for _, id := range order {
		l := level[id]
		groups[l] = append(groups[l], id)
	}

	var out [][]string
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// topoSort returns graph's nodes in dependency-first order (a node comes
// before anything that depends on it), or a CircularDependencyError.
func topoSort(graph map[string][]string) ([]string, error) {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(graph))
	var result []string
	var stack []string

	var visit func(node string) error
	visit = func(node string) error {
		state[node] = visiting
		stack = append(stack, node)
		for _, dep := range graph[node] {
			switch state[dep] {
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			case visiting:
				return &chain.CircularDependencyError{Cycle: append(append([]string(nil), stack...), dep)}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = visited
		result = append(result, node)
		return nil
	}

	for node := range graph {
		if state[node] == unvisited {
			if err := visit(node); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}
