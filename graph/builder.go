package graph

import (
	"fmt"
	"sort"
	"time"
)

// nodeSpec is a registered node and its per-node configuration.
type nodeSpec struct {
	id        string
	node      Node
	sub       *Graph
	interrupt bool
	fanOut    []string
	timeout   time.Duration
}

// NodeOption configures a node at registration time.
type NodeOption func(*nodeSpec)

// InterruptBefore marks the node as an interrupt point. Every time execution
// arrives at the node it pauses before running the body, until the caller
// supplies a state update attributed to the node.
func InterruptBefore() NodeOption {
	return func(n *nodeSpec) {
		n.interrupt = true
	}
}

// FanOutTo declares the targets this node's body may address with Sends.
func FanOutTo(targets ...string) NodeOption {
	return func(n *nodeSpec) {
		n.fanOut = append(n.fanOut, targets...)
	}
}

// Builder accumulates a graph definition. Problems found while adding nodes
// and edges are recorded and reported together by Compile.
//
// Example:
//
//	b := graph.NewBuilder(schema)
//	b.AddNode("draft", draftNode, graph.InterruptBefore())
//	b.AddNode("publish", publishNode)
//	b.AddEdge(graph.Start, "draft")
//	b.AddConditionalEdge("draft", reviewRouter, "draft", "publish")
//	b.AddEdge("publish", graph.End)
//	g, err := b.Compile()
type Builder struct {
	schema   *Schema
	nodes    map[string]*nodeSpec
	order    []string
	edges    []edge
	problems []string
}

// NewBuilder starts a graph over the given state schema.
func NewBuilder(schema *Schema) *Builder {
	b := &Builder{nodes: make(map[string]*nodeSpec)}
	if schema == nil {
		b.problem("schema is required")
		schema = MustSchema()
	}
	b.schema = schema
	return b
}

func (b *Builder) problem(format string, args ...any) {
	b.problems = append(b.problems, fmt.Sprintf(format, args...))
}

func (b *Builder) register(spec *nodeSpec) *Builder {
	switch {
	case spec.id == "":
		b.problem("node id cannot be empty")
		return b
	case spec.id == Start || spec.id == End:
		b.problem("node id %s is reserved", spec.id)
		return b
	}
	if _, exists := b.nodes[spec.id]; exists {
		b.problem("duplicate node id %s", spec.id)
		return b
	}
	b.nodes[spec.id] = spec
	b.order = append(b.order, spec.id)
	return b
}

// AddNode registers a node body.
func (b *Builder) AddNode(id string, n Node, opts ...NodeOption) *Builder {
	spec := &nodeSpec{id: id, node: n}
	for _, opt := range opts {
		opt(spec)
	}
	if n == nil {
		b.problem("node %s has no body", id)
	}
	return b.register(spec)
}

// AddSubgraph registers a compiled graph as a node. When the node runs, the
// sub-graph executes from its own start against a copy of the input and its
// accumulated updates become the node's delta.
//
// Sub-graphs cannot contain interrupt points, fan-out nodes, or further
// sub-graphs.
func (b *Builder) AddSubgraph(id string, sub *Graph, opts ...NodeOption) *Builder {
	spec := &nodeSpec{id: id, sub: sub}
	for _, opt := range opts {
		opt(spec)
	}
	if sub == nil {
		b.problem("sub-graph %s is nil", id)
	} else {
		spec.node = subgraphNode{g: sub}
	}
	return b.register(spec)
}

// AddEdge adds an unconditional edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, edge{from: from, to: to})
	return b
}

// AddConditionalEdge adds a router with the complete set of targets it may
// return, including fan-out targets. A decision outside targets fails the
// step with a RoutingError.
func (b *Builder) AddConditionalEdge(from string, router Router, targets ...string) *Builder {
	b.edges = append(b.edges, edge{from: from, router: router, targets: targets})
	return b
}

// Compile validates the definition and returns an immutable Graph.
//
// Compile reports every problem it finds in one GraphValidationError:
//   - node ids that are empty, reserved, or duplicated
//   - edges that reference unknown nodes
//   - router targets that are neither nodes nor End
//   - anything other than exactly one unconditional edge from Start
//   - nodes without an outgoing route, or with more than one
//   - fan-out targets that are unknown or interrupt points
//   - interrupt points, fan-out nodes, or nesting inside sub-graphs
func (b *Builder) Compile() (*Graph, error) {
	problems := append([]string(nil), b.problems...)
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	known := func(id string) bool {
		_, ok := b.nodes[id]
		return ok
	}

	routes := make(map[string]edge)
	routeCount := make(map[string]int)
	var entries []edge

	for _, e := range b.edges {
		if e.from == Start {
			entries = append(entries, e)
			if e.conditional() {
				add("edge from %s must be unconditional", Start)
			} else if !known(e.to) {
				add("edge %s -> %s: unknown target node %s", Start, e.to, e.to)
			}
			continue
		}

		if e.from == End {
			add("edges cannot leave %s", End)
			continue
		}
		if !known(e.from) {
			add("edge from unknown node %s", e.from)
			continue
		}

		routeCount[e.from]++
		routes[e.from] = e

		if e.conditional() {
			if len(e.targets) == 0 {
				add("conditional edge from %s declares no targets", e.from)
			}
			for _, t := range e.targets {
				if t != End && !known(t) {
					add("router on %s declares unknown target %s", e.from, t)
				}
			}
			continue
		}

		if e.to != End && !known(e.to) {
			add("edge %s -> %s: unknown target node %s", e.from, e.to, e.to)
		}
	}

	switch len(entries) {
	case 0:
		add("no edge from %s", Start)
	case 1:
	default:
		add("%d edges from %s, expected exactly one", len(entries), Start)
	}

	for _, id := range b.order {
		spec := b.nodes[id]

		switch {
		case routeCount[id] > 1:
			add("node %s has %d outgoing routes, expected one", id, routeCount[id])
		case routeCount[id] == 0 && len(spec.fanOut) == 0:
			add("node %s has no outgoing route", id)
		}

		for _, t := range spec.fanOut {
			target, ok := b.nodes[t]
			switch {
			case !ok:
				add("node %s fans out to unknown node %s", id, t)
			case target.interrupt:
				add("node %s fans out to interrupt node %s", id, t)
			case len(target.fanOut) > 0:
				add("node %s fans out to fan-out node %s", id, t)
			}
		}

		if spec.sub != nil {
			for _, subID := range spec.sub.order {
				inner := spec.sub.nodes[subID]
				if inner.interrupt {
					add("sub-graph %s contains interrupt node %s", id, subID)
				}
				if len(inner.fanOut) > 0 {
					add("sub-graph %s contains fan-out node %s", id, subID)
				}
				if inner.sub != nil {
					add("sub-graph %s nests sub-graph %s", id, subID)
				}
			}
		}
	}

	if len(problems) > 0 {
		return nil, &GraphValidationError{Problems: problems}
	}

	g := &Graph{
		schema: b.schema,
		nodes:  make(map[string]*nodeSpec, len(b.nodes)),
		order:  append([]string(nil), b.order...),
		entry:  entries[0].to,
		routes: routes,
	}
	for id, spec := range b.nodes {
		cp := *spec
		cp.fanOut = append([]string(nil), spec.fanOut...)
		g.nodes[id] = &cp
	}
	return g, nil
}

// Graph is a compiled, immutable graph definition. It is safe to share
// between engines and threads.
type Graph struct {
	schema *Schema
	nodes  map[string]*nodeSpec
	order  []string
	entry  string
	routes map[string]edge
}

// Schema returns the state schema of the graph.
func (g *Graph) Schema() *Schema {
	return g.schema
}

// Entry returns the first node after Start.
func (g *Graph) Entry() string {
	return g.entry
}

// Nodes returns node ids in registration order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// IsInterrupt reports whether the node is an interrupt point.
func (g *Graph) IsInterrupt(id string) bool {
	spec, ok := g.nodes[id]
	return ok && spec.interrupt
}

// Interrupts lists the interrupt points, sorted.
func (g *Graph) Interrupts() []string {
	var ids []string
	for id, spec := range g.nodes {
		if spec.interrupt {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) node(id string) (*nodeSpec, bool) {
	spec, ok := g.nodes[id]
	return spec, ok
}

func (g *Graph) route(id string) (edge, bool) {
	e, ok := g.routes[id]
	return e, ok
}
