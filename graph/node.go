package graph

import "context"

// Start and End are the reserved sentinels of every graph.
//
// Start is the implicit entry: exactly one edge must leave it. End is the
// terminal: routing to End completes the thread.
const (
	Start = "__start__"
	End   = "__end__"
)

// Node is a named unit of work in a graph.
//
// A node body receives its own copy of the current state and returns a
// partial update. It must be deterministic for a given input and safe to run
// again: the engine re-invokes a node whose step failed or whose checkpoint
// was never written.
type Node interface {
	// Run executes the node's logic with the given context and state.
	Run(ctx context.Context, state State) NodeResult
}

// NodeResult is what a node body returns.
type NodeResult struct {
	// Delta is the partial state update produced by this node. It is merged
	// into the running state using each field's merge policy.
	Delta State

	// Sends requests a fan-out: one independent sub-execution per Send. Only
	// nodes declared with FanOutTo may return Sends.
	Sends []Send

	// Err fails the step. The thread keeps its last good checkpoint and the
	// same node runs again on the next Resume.
	Err error
}

// NodeFunc is a function adapter for Node.
//
// Example:
//
//	greet := graph.NodeFunc(func(ctx context.Context, s graph.State) graph.NodeResult {
//	    return graph.NodeResult{Delta: graph.State{"greeting": "hello " + s.String("name")}}
//	})
type NodeFunc func(ctx context.Context, state State) NodeResult

// Run implements Node.
func (f NodeFunc) Run(ctx context.Context, state State) NodeResult {
	return f(ctx, state)
}

// Passthrough returns a node that changes nothing. Interrupt points whose
// only job is to collect feedback are usually passthrough nodes.
func Passthrough() Node {
	return NodeFunc(func(context.Context, State) NodeResult {
		return NodeResult{}
	})
}

// Send addresses one fan-out sub-task.
type Send struct {
	// Target is the node (usually a sub-graph node) to run.
	Target string

	// State is the narrowed input for the sub-task. It is copied before the
	// sub-task starts.
	State State
}

// Next is a routing decision. It holds either a single node id or a set of
// fan-out sends, never both.
type Next struct {
	// To is the next node. End terminates the thread.
	To string

	// Sends are the dynamic fan-out targets.
	Sends []Send
}

// IsFanOut reports whether the decision is a fan-out.
func (n Next) IsFanOut() bool {
	return n.To == "" && n.Sends != nil
}

// Goto routes to a single node.
func Goto(nodeID string) Next {
	return Next{To: nodeID}
}

// Stop routes to End.
func Stop() Next {
	return Next{To: End}
}

// FanOut routes to a set of dynamic sub-tasks.
func FanOut(sends ...Send) Next {
	if sends == nil {
		sends = []Send{}
	}
	return Next{Sends: sends}
}

// Router chooses where a node's thread goes next. It reads the merged state
// after the node ran and must not modify it.
type Router func(ctx context.Context, state State) (Next, error)
