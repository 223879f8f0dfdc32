package graph

import (
	"context"
	"fmt"
)

// subgraphNode runs a compiled graph as the body of a parent node.
//
// The sub-graph starts from its own entry with the parent input restricted
// to the sub-graph schema and runs to End in one call. Nothing is
// checkpointed inside it: a failure fails the parent step, which reruns the
// whole sub-graph. The node's delta is the accumulated update of every
// sub-graph node, merged with the sub-graph's policies.
type subgraphNode struct {
	g *Graph
}

func (n subgraphNode) Run(ctx context.Context, input State) NodeResult {
	delta, err := runSubgraph(ctx, n.g, input)
	if err != nil {
		return NodeResult{Err: err}
	}
	return NodeResult{Delta: delta}
}

func runSubgraph(ctx context.Context, g *Graph, input State) (State, error) {
	st := g.schema.Restrict(input.Clone())
	delta := State{}
	current := g.entry

	for current != End {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		spec, ok := g.node(current)
		if !ok {
			return nil, fmt.Errorf("sub-graph node %s not found", current)
		}

		res := executeNodeWithTimeout(ctx, spec, st.Clone(), 0)
		if res.Err != nil {
			return nil, fmt.Errorf("sub-graph node %s: %w", current, res.Err)
		}
		if len(res.Sends) > 0 {
			return nil, fmt.Errorf("sub-graph node %s returned sends: nested fan-out is not supported", current)
		}

		var err error
		if st, err = g.schema.Merge(st, res.Delta); err != nil {
			return nil, fmt.Errorf("sub-graph node %s: %w", current, err)
		}
		if delta, err = g.schema.Merge(delta, res.Delta); err != nil {
			return nil, fmt.Errorf("sub-graph node %s: %w", current, err)
		}

		route, ok := g.route(current)
		if !ok {
			return nil, fmt.Errorf("sub-graph node %s has no route", current)
		}
		if !route.conditional() {
			current = route.to
			continue
		}

		next, err := callRouter(ctx, route.router, st.Clone())
		if err != nil {
			return nil, fmt.Errorf("sub-graph router on %s: %w", current, err)
		}
		if next.IsFanOut() {
			return nil, fmt.Errorf("sub-graph router on %s returned a fan-out: nested fan-out is not supported", current)
		}
		if !contains(route.targets, next.To) {
			return nil, fmt.Errorf("sub-graph router on %s returned undeclared target %q", current, next.To)
		}
		current = next.To
	}

	return delta, nil
}
