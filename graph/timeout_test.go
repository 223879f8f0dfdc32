package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/tripgraph/graph/store"
)

func slowNode(d time.Duration) Node {
	return NodeFunc(func(ctx context.Context, _ State) NodeResult {
		select {
		case <-time.After(d):
			return NodeResult{}
		case <-ctx.Done():
			return NodeResult{Err: ctx.Err()}
		}
	})
}

func TestGetNodeTimeout(t *testing.T) {
	tests := []struct {
		name string
		spec *nodeSpec
		def  time.Duration
		want time.Duration
	}{
		{"node timeout wins", &nodeSpec{timeout: time.Second}, time.Minute, time.Second},
		{"engine default", &nodeSpec{}, time.Minute, time.Minute},
		{"none", &nodeSpec{}, 0, 0},
		{"nil spec", nil, 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getNodeTimeout(tt.spec, tt.def); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNodeTimeout_FailsStep(t *testing.T) {
	g, err := NewBuilder(MustSchema()).
		AddNode("slow", slowNode(time.Second), NodeTimeout(20*time.Millisecond)).
		AddEdge(Start, "slow").
		AddEdge("slow", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine := newTestEngine(t, g, store.NewMemStore[State]())

	res, err := engine.Start(context.Background(), "slow", nil)

	var nodeErr *NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "slow" {
		t.Fatalf("expected NodeExecutionError for slow, got %v", err)
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != "NODE_TIMEOUT" {
		t.Errorf("expected NODE_TIMEOUT, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("timeout should unwrap to DeadlineExceeded: %v", err)
	}
	if res.Status != store.StatusFailed {
		t.Errorf("status = %s", res.Status)
	}
}

func TestDefaultNodeTimeout(t *testing.T) {
	g, err := NewBuilder(MustSchema()).
		AddNode("slow", slowNode(time.Second)).
		AddNode("fast", slowNode(time.Millisecond), NodeTimeout(time.Second)).
		AddEdge(Start, "fast").
		AddEdge("fast", "slow").
		AddEdge("slow", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine := newTestEngine(t, g, store.NewMemStore[State](), WithDefaultNodeTimeout(20*time.Millisecond))

	_, err = engine.Start(context.Background(), "d", nil)
	var nodeErr *NodeExecutionError
	if !errors.As(err, &nodeErr) || nodeErr.Node != "slow" {
		t.Fatalf("expected slow to time out, got %v", err)
	}
}

func TestCancelledContextIsNotATimeout(t *testing.T) {
	g, err := NewBuilder(MustSchema()).
		AddNode("slow", slowNode(time.Second), NodeTimeout(time.Minute)).
		AddEdge(Start, "slow").
		AddEdge("slow", End).
		Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	engine := newTestEngine(t, g, store.NewMemStore[State]())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = engine.Start(ctx, "c", nil)
	var engErr *EngineError
	if errors.As(err, &engErr) && engErr.Code == "NODE_TIMEOUT" {
		t.Errorf("caller cancellation reported as node timeout: %v", err)
	}

	// The initial checkpoint survives and the thread can be resumed later.
	if _, err := engine.State(context.Background(), "c"); err != nil {
		t.Errorf("State: %v", err)
	}
}
