package tool

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMockTool_Responses(t *testing.T) {
	mock := &MockTool{
		ToolName: "search",
		Responses: []map[string]interface{}{
			{"page": 1},
			{"page": 2},
		},
	}
	ctx := context.Background()

	for i, want := range []int{1, 2, 2} {
		out, err := mock.Call(ctx, map[string]interface{}{"i": i})
		if err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		if out["page"] != want {
			t.Errorf("call %d: page = %v, want %d", i, out["page"], want)
		}
	}

	if mock.Name() != "search" {
		t.Errorf("Name() = %q", mock.Name())
	}
	if mock.CallCount() != 3 {
		t.Errorf("CallCount() = %d, want 3", mock.CallCount())
	}

	mock.Reset()
	out, _ := mock.Call(ctx, nil)
	if out["page"] != 1 || mock.CallCount() != 1 {
		t.Errorf("after Reset: out = %v, calls = %d", out, mock.CallCount())
	}
}

func TestMockTool_NoResponses(t *testing.T) {
	mock := &MockTool{ToolName: "noop"}
	out, err := mock.Call(context.Background(), nil)
	if err != nil || out == nil || len(out) != 0 {
		t.Errorf("expected empty non-nil output, got %v, %v", out, err)
	}
}

func TestMockTool_Err(t *testing.T) {
	boom := errors.New("upstream down")
	mock := &MockTool{ToolName: "search", Err: boom, Responses: []map[string]interface{}{{"ok": true}}}

	if _, err := mock.Call(context.Background(), map[string]interface{}{"q": "x"}); !errors.Is(err, boom) {
		t.Errorf("expected injected error, got %v", err)
	}
	if mock.Calls[0].Input["q"] != "x" {
		t.Error("failed call was not recorded")
	}
}

func TestMockTool_Respond(t *testing.T) {
	mock := &MockTool{
		ToolName: "echo",
		Respond: func(input map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echo": input["q"]}, nil
		},
	}

	out, err := mock.Call(context.Background(), map[string]interface{}{"q": "Kyoto"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["echo"] != "Kyoto" {
		t.Errorf("echo = %v, want Kyoto", out["echo"])
	}
}

func TestMockTool_ContextCancelled(t *testing.T) {
	mock := &MockTool{ToolName: "search"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := mock.Call(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if mock.CallCount() != 0 {
		t.Error("cancelled call should not be recorded")
	}
}

func TestMockTool_Concurrency(t *testing.T) {
	mock := &MockTool{ToolName: "search", Responses: []map[string]interface{}{{"ok": true}}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = mock.Call(context.Background(), nil)
		}()
	}
	wg.Wait()

	if mock.CallCount() != 20 {
		t.Errorf("CallCount() = %d, want 20", mock.CallCount())
	}
}
