package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// testState is the state type used across store tests.
type testState struct {
	Value   string   `json:"value"`
	Counter int      `json:"counter"`
	Items   []string `json:"items,omitempty"`
}

func checkpointAt(thread string, seq int, value string) Checkpoint[testState] {
	return Checkpoint[testState]{
		ThreadID:  thread,
		Seq:       seq,
		State:     testState{Value: value, Counter: seq},
		Pending:   []Task[testState]{{Node: "next"}},
		Status:    StatusRunning,
		Node:      fmt.Sprintf("node-%d", seq),
		Source:    SourceLoop,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, seq, time.UTC),
	}
}

// runStoreContract exercises the behavior every Store implementation must
// share. Backend-specific tests live next to each backend.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store[testState]) {
	t.Helper()

	t.Run("latest on unknown thread", func(t *testing.T) {
		st := newStore(t)
		_, err := st.Latest(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		_, err = st.History(context.Background(), "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound from History, got %v", err)
		}
	})

	t.Run("append and read back", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)

		for seq := 0; seq < 3; seq++ {
			if err := st.Append(ctx, checkpointAt("t1", seq, fmt.Sprintf("v%d", seq))); err != nil {
				t.Fatalf("Append(%d) failed: %v", seq, err)
			}
		}

		latest, err := st.Latest(ctx, "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if latest.Seq != 2 || latest.State.Value != "v2" {
			t.Errorf("expected seq 2 value v2, got seq %d value %q", latest.Seq, latest.State.Value)
		}
		if latest.Node != "node-2" || latest.Status != StatusRunning || latest.Source != SourceLoop {
			t.Errorf("metadata not preserved: %+v", latest)
		}
		if len(latest.Pending) != 1 || latest.Pending[0].Node != "next" {
			t.Errorf("pending not preserved: %+v", latest.Pending)
		}
		if !latest.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 2, time.UTC)) {
			t.Errorf("created_at not preserved: %v", latest.CreatedAt)
		}

		history, err := st.History(ctx, "t1")
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(history) != 3 {
			t.Fatalf("expected 3 checkpoints, got %d", len(history))
		}
		for i, cp := range history {
			if cp.Seq != i {
				t.Errorf("history[%d].Seq = %d", i, cp.Seq)
			}
		}
	})

	t.Run("sequence must advance", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)

		if err := st.Append(ctx, checkpointAt("t1", 0, "first")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if err := st.Append(ctx, checkpointAt("t1", 1, "second")); err != nil {
			t.Fatalf("Append failed: %v", err)
		}

		for _, seq := range []int{0, 1} {
			err := st.Append(ctx, checkpointAt("t1", seq, "dup"))
			if !errors.Is(err, ErrSequenceConflict) {
				t.Errorf("Append(seq=%d) expected ErrSequenceConflict, got %v", seq, err)
			}
		}

		latest, err := st.Latest(ctx, "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if latest.State.Value != "second" {
			t.Errorf("rejected append changed latest: %q", latest.State.Value)
		}
	})

	t.Run("threads are isolated", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)

		_ = st.Append(ctx, checkpointAt("a", 0, "a0"))
		_ = st.Append(ctx, checkpointAt("b", 0, "b0"))
		_ = st.Append(ctx, checkpointAt("b", 1, "b1"))

		a, err := st.Latest(ctx, "a")
		if err != nil || a.State.Value != "a0" {
			t.Errorf("thread a: got %+v, %v", a.State, err)
		}
		b, err := st.Latest(ctx, "b")
		if err != nil || b.State.Value != "b1" {
			t.Errorf("thread b: got %+v, %v", b.State, err)
		}

		ids, err := st.Threads(ctx)
		if err != nil {
			t.Fatalf("Threads failed: %v", err)
		}
		if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("expected [a b], got %v", ids)
		}
	})

	t.Run("stored checkpoints are not aliased", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)

		cp := checkpointAt("t1", 0, "orig")
		cp.State.Items = []string{"x"}
		if err := st.Append(ctx, cp); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		cp.State.Items[0] = "mutated"

		got, err := st.Latest(ctx, "t1")
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if got.State.Items[0] != "x" {
			t.Errorf("store observed caller mutation: %v", got.State.Items)
		}
	})

	t.Run("lock serializes same thread", func(t *testing.T) {
		ctx := context.Background()
		st := newStore(t)

		var (
			mu      sync.Mutex
			holders int
			maxSeen int
			wg      sync.WaitGroup
		)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := st.Lock(ctx, "t1")
				if err != nil {
					t.Errorf("Lock failed: %v", err)
					return
				}
				mu.Lock()
				holders++
				if holders > maxSeen {
					maxSeen = holders
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				holders--
				mu.Unlock()
				_ = unlock(ctx)
			}()
		}
		wg.Wait()

		if maxSeen != 1 {
			t.Errorf("expected at most one lock holder, saw %d", maxSeen)
		}
	})

	t.Run("lock honors context", func(t *testing.T) {
		st := newStore(t)

		unlock, err := st.Lock(context.Background(), "t1")
		if err != nil {
			t.Fatalf("Lock failed: %v", err)
		}
		defer func() { _ = unlock(context.Background()) }()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		if _, err := st.Lock(ctx, "t1"); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected DeadlineExceeded, got %v", err)
		}

		other, err := st.Lock(context.Background(), "t2")
		if err != nil {
			t.Fatalf("lock on a different thread should not block: %v", err)
		}
		_ = other(context.Background())
	})
}
