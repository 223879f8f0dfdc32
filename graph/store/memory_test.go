package store

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store[testState] {
		return NewMemStore[testState]()
	})
}

func TestMemStore_JSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemStore[testState]()

	for seq := 0; seq < 3; seq++ {
		if err := st.Append(ctx, checkpointAt("t1", seq, "v")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	data, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}

	restored := NewMemStore[testState]()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}

	latest, err := restored.Latest(ctx, "t1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Seq != 2 {
		t.Errorf("expected seq 2 after restore, got %d", latest.Seq)
	}

	// The restored store keeps enforcing sequence order.
	if err := restored.Append(ctx, checkpointAt("t1", 2, "dup")); err != ErrSequenceConflict {
		t.Errorf("expected ErrSequenceConflict, got %v", err)
	}
	if err := restored.Append(ctx, checkpointAt("t1", 3, "next")); err != nil {
		t.Errorf("Append after restore failed: %v", err)
	}
}

func TestMemStore_UnmarshalEmpty(t *testing.T) {
	var st MemStore[testState]
	if err := json.Unmarshal([]byte(`{}`), &st); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	ids, err := st.Threads(context.Background())
	if err != nil {
		t.Fatalf("Threads failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no threads, got %v", ids)
	}
	if err := st.Append(context.Background(), checkpointAt("t1", 0, "v")); err != nil {
		t.Errorf("Append on restored empty store failed: %v", err)
	}
}
