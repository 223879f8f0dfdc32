package graph

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func noopRouter(context.Context, State) (Next, error) {
	return Stop(), nil
}

func TestCompile_Valid(t *testing.T) {
	g, err := NewBuilder(MustSchema()).
		AddNode("a", Passthrough()).
		AddNode("b", Passthrough(), InterruptBefore()).
		AddNode("c", Passthrough(), FanOutTo("d")).
		AddNode("d", Passthrough()).
		AddEdge(Start, "a").
		AddEdge("a", "b").
		AddConditionalEdge("b", noopRouter, "c", "b", End).
		AddEdge("d", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	if g.Entry() != "a" {
		t.Errorf("Entry = %q", g.Entry())
	}
	if !reflect.DeepEqual(g.Nodes(), []string{"a", "b", "c", "d"}) {
		t.Errorf("Nodes = %v", g.Nodes())
	}
	if !g.IsInterrupt("b") || g.IsInterrupt("a") {
		t.Error("IsInterrupt")
	}
	if !reflect.DeepEqual(g.Interrupts(), []string{"b"}) {
		t.Errorf("Interrupts = %v", g.Interrupts())
	}
}

func TestCompile_CollectsEveryProblem(t *testing.T) {
	_, err := NewBuilder(MustSchema()).
		AddNode("", Passthrough()).
		AddNode(End, Passthrough()).
		AddNode("a", Passthrough()).
		AddNode("a", Passthrough()).
		AddNode("b", nil).
		AddNode("lonely", Passthrough()).
		AddNode("gate", Passthrough(), InterruptBefore()).
		AddNode("spread", Passthrough(), FanOutTo("gate", "ghost")).
		AddEdge("a", "missing").
		AddEdge("b", End).
		AddEdge("b", "a").
		AddConditionalEdge("gate", noopRouter, "nowhere").
		AddEdge("ghost", "a").
		Compile()

	var verr *GraphValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected GraphValidationError, got %v", err)
	}

	wantFragments := []string{
		"node id cannot be empty",
		"node id __end__ is reserved",
		"duplicate node id a",
		"node b has no body",
		"unknown target node missing",
		"edge from unknown node ghost",
		"declares unknown target nowhere",
		"no edge from __start__",
		"node b has 2 outgoing routes",
		"node lonely has no outgoing route",
		"fans out to interrupt node gate",
		"fans out to unknown node ghost",
	}
	joined := strings.Join(verr.Problems, "\n")
	for _, frag := range wantFragments {
		if !strings.Contains(joined, frag) {
			t.Errorf("missing problem %q in:\n%s", frag, joined)
		}
	}
}

func TestCompile_StartEdges(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
		want  string
	}{
		{
			name: "two start edges",
			build: func(b *Builder) {
				b.AddEdge(Start, "a").AddEdge(Start, "a")
			},
			want: "2 edges from __start__",
		},
		{
			name: "conditional start",
			build: func(b *Builder) {
				b.AddConditionalEdge(Start, noopRouter, "a")
			},
			want: "must be unconditional",
		},
		{
			name: "edge leaving end",
			build: func(b *Builder) {
				b.AddEdge(Start, "a").AddEdge(End, "a")
			},
			want: "edges cannot leave",
		},
		{
			name: "empty target list",
			build: func(b *Builder) {
				b.AddEdge(Start, "a").AddConditionalEdge("a", noopRouter)
			},
			want: "declares no targets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(MustSchema()).AddNode("a", Passthrough())
			tt.build(b)
			if !b.hasEdgeFrom("a") {
				b.AddEdge("a", End)
			}
			_, err := b.Compile()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

// hasEdgeFrom reports whether the builder already has a route from id.
func (b *Builder) hasEdgeFrom(id string) bool {
	for _, e := range b.edges {
		if e.from == id {
			return true
		}
	}
	return false
}

func TestCompile_Subgraph(t *testing.T) {
	_, err := NewBuilder(MustSchema()).
		AddNode("x", Passthrough(), InterruptBefore()).
		AddNode("y", Passthrough(), FanOutTo("x")).
		AddEdge(Start, "x").
		AddEdge("x", "y").
		AddEdge("y", End).
		Compile()
	if err == nil {
		t.Fatal("fan-out to an interrupt node should not compile")
	}

	inner, err := NewBuilder(MustSchema()).
		AddNode("x", Passthrough(), InterruptBefore()).
		AddEdge(Start, "x").
		AddEdge("x", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile inner: %v", err)
	}

	_, err = NewBuilder(MustSchema()).
		AddSubgraph("sub", inner).
		AddSubgraph("nil", nil).
		AddEdge(Start, "sub").
		AddEdge("sub", End).
		AddEdge("nil", End).
		Compile()

	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, frag := range []string{"sub-graph sub contains interrupt node x", "sub-graph nil is nil"} {
		if !strings.Contains(err.Error(), frag) {
			t.Errorf("missing %q in %v", frag, err)
		}
	}
}

func TestNewBuilder_NilSchema(t *testing.T) {
	_, err := NewBuilder(nil).
		AddNode("a", Passthrough()).
		AddEdge(Start, "a").
		AddEdge("a", End).
		Compile()
	if err == nil || !strings.Contains(err.Error(), "schema is required") {
		t.Errorf("error = %v", err)
	}
}

func TestBranch(t *testing.T) {
	router := Branch(func(s State) bool { return s.Bool("done") }, End, "again")

	next, err := router(context.Background(), State{"done": true})
	if err != nil || next.To != End {
		t.Errorf("true branch = %+v, %v", next, err)
	}
	next, err = router(context.Background(), State{})
	if err != nil || next.To != "again" {
		t.Errorf("false branch = %+v, %v", next, err)
	}
}

func TestNext(t *testing.T) {
	if Goto("a").IsFanOut() {
		t.Error("Goto is not a fan-out")
	}
	if !FanOut().IsFanOut() {
		t.Error("an empty FanOut is still a fan-out decision")
	}
	if Stop().To != End {
		t.Error("Stop routes to End")
	}
	if (Next{}).IsFanOut() {
		t.Error("zero Next is not a fan-out")
	}
}
