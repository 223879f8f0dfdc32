package graph

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/tripgraph/graph/store"
)

var subSchema = MustSchema(
	Field{Name: "topic", Kind: KindString},
	Field{Name: "notes", Kind: KindList, Policy: Accumulate},
	Field{Name: "rounds", Kind: KindNumber},
)

func buildNotesSubgraph(t *testing.T, fail bool) *Graph {
	t.Helper()
	note := NodeFunc(func(_ context.Context, s State) NodeResult {
		if fail {
			return NodeResult{Err: errors.New("search backend down")}
		}
		round := s.Int("rounds") + 1
		return NodeResult{Delta: State{
			"notes":  []any{s.String("topic") + " note"},
			"rounds": round,
		}}
	})
	more := func(_ context.Context, s State) (Next, error) {
		if s.Int("rounds") < 2 {
			return Goto("note"), nil
		}
		return Stop(), nil
	}
	g, err := NewBuilder(subSchema).
		AddNode("note", note).
		AddEdge(Start, "note").
		AddConditionalEdge("note", more, "note", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

func TestSubgraph_RoutedDirectly(t *testing.T) {
	parent := MustSchema(
		Field{Name: "topic", Kind: KindString},
		Field{Name: "notes", Kind: KindList, Policy: Accumulate},
	)
	g, err := NewBuilder(parent).
		AddSubgraph("research", buildNotesSubgraph(t, false)).
		AddEdge(Start, "research").
		AddEdge("research", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	engine := newTestEngine(t, g, store.NewMemStore[State]())
	res, err := engine.Start(context.Background(), "s", State{"topic": "food", "notes": []any{"seed"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := res.State.Strings("notes")
	want := []string{"seed", "food note", "food note"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("notes = %v, want %v", got, want)
	}
	if res.State.Has("rounds") {
		t.Error("sub-graph only field leaked into parent state")
	}
	// The sub-graph runs as one step: input, research.
	if n := historyLen(t, engine, "s"); n != 2 {
		t.Errorf("history length = %d, want 2", n)
	}
}

func TestSubgraph_Failure(t *testing.T) {
	g, err := NewBuilder(subSchema).
		AddSubgraph("research", buildNotesSubgraph(t, true)).
		AddEdge(Start, "research").
		AddEdge("research", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	engine := newTestEngine(t, g, store.NewMemStore[State]())
	_, err = engine.Start(context.Background(), "f", State{"topic": "food"})

	var nodeErr *NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "research" {
		t.Fatalf("expected NodeExecutionError on research, got %v", err)
	}
	if !strings.Contains(err.Error(), "sub-graph node note") {
		t.Errorf("error should name the inner node: %v", err)
	}
}

func TestRunSubgraph_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runSubgraph(ctx, buildNotesSubgraph(t, false), State{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSubgraph_InnerNodeTimeout(t *testing.T) {
	slow := NodeFunc(func(ctx context.Context, _ State) NodeResult {
		select {
		case <-time.After(200 * time.Millisecond):
			return NodeResult{Delta: State{"notes": []any{"late"}}}
		case <-ctx.Done():
			return NodeResult{Err: ctx.Err()}
		}
	})
	inner, err := NewBuilder(subSchema).
		AddNode("slow", slow, NodeTimeout(10*time.Millisecond)).
		AddEdge(Start, "slow").
		AddEdge("slow", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile inner: %v", err)
	}
	g, err := NewBuilder(subSchema).
		AddSubgraph("research", inner).
		AddEdge(Start, "research").
		AddEdge("research", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	engine := newTestEngine(t, g, store.NewMemStore[State]())
	res, err := engine.Start(context.Background(), "slow", State{"topic": "museums"})

	var nodeErr *NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "research" {
		t.Fatalf("expected NodeExecutionError on research, got %v", err)
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != "NODE_TIMEOUT" {
		t.Errorf("expected NODE_TIMEOUT from the inner node, got %v", err)
	}
	if res.Status != store.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if n := historyLen(t, engine, "slow"); n != 1 {
		t.Errorf("history length = %d, want 1", n)
	}
}
