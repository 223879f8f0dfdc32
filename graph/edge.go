package graph

import "context"

// edge is one outgoing route of a node: either a fixed target or a router
// with the set of targets it may return.
type edge struct {
	from    string
	to      string
	router  Router
	targets []string
}

func (e edge) conditional() bool {
	return e.router != nil
}

// Predicate is a read-only test on state.
type Predicate func(state State) bool

// Branch builds a router that goes to ifTrue when pred holds and to ifFalse
// otherwise. Declare both targets on the conditional edge.
//
// Example:
//
//	b.AddConditionalEdge("review", graph.Branch(approved, graph.End, "revise"), graph.End, "revise")
func Branch(pred Predicate, ifTrue, ifFalse string) Router {
	return func(_ context.Context, s State) (Next, error) {
		if pred(s) {
			return Goto(ifTrue), nil
		}
		return Goto(ifFalse), nil
	}
}
