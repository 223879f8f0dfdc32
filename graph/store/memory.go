package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store[S].
//
// It is intended for tests, single-process tools, and short-lived threads.
// All data lives in process memory and is lost when the process exits unless
// it is exported with MarshalJSON and restored with UnmarshalJSON.
//
// MemStore is safe for concurrent use. Checkpoints are copied through JSON on
// the way in and out, so callers can never mutate stored history through a
// shared map or slice.
//
// Example:
//
//	st := store.NewMemStore[graph.State]()
//	engine, err := graph.NewEngine(g, st)
type MemStore[S any] struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint[S] // threadID -> checkpoints ordered by Seq
	locks   *threadLocks
}

// serializableMemStore is the JSON shape of a MemStore.
type serializableMemStore[S any] struct {
	Threads map[string][]Checkpoint[S] `json:"threads"`
}

// NewMemStore creates an empty in-memory store.
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{
		threads: make(map[string][]Checkpoint[S]),
		locks:   newThreadLocks(),
	}
}

// Append adds a checkpoint to the thread's log.
//
// Returns ErrSequenceConflict if cp.Seq does not advance the thread.
func (m *MemStore[S]) Append(_ context.Context, cp Checkpoint[S]) error {
	stored, err := cloneCheckpoint(cp)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.threads[cp.ThreadID]
	if n := len(history); n > 0 && history[n-1].Seq >= cp.Seq {
		return ErrSequenceConflict
	}

	m.threads[cp.ThreadID] = append(history, stored)
	return nil
}

// Latest returns the highest-sequence checkpoint of a thread.
func (m *MemStore[S]) Latest(_ context.Context, threadID string) (Checkpoint[S], error) {
	m.mu.RLock()
	history := m.threads[threadID]
	if len(history) == 0 {
		m.mu.RUnlock()
		var zero Checkpoint[S]
		return zero, ErrNotFound
	}
	latest := history[len(history)-1]
	m.mu.RUnlock()

	return cloneCheckpoint(latest)
}

// History returns all checkpoints of a thread in ascending Seq order.
func (m *MemStore[S]) History(_ context.Context, threadID string) ([]Checkpoint[S], error) {
	m.mu.RLock()
	history := m.threads[threadID]
	if len(history) == 0 {
		m.mu.RUnlock()
		return nil, ErrNotFound
	}
	snapshot := make([]Checkpoint[S], len(history))
	copy(snapshot, history)
	m.mu.RUnlock()

	out := make([]Checkpoint[S], 0, len(snapshot))
	for _, cp := range snapshot {
		c, err := cloneCheckpoint(cp)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Lock acquires the in-process lock for a thread.
func (m *MemStore[S]) Lock(ctx context.Context, threadID string) (UnlockFunc, error) {
	return m.locks.lock(ctx, threadID)
}

// Threads lists every thread with at least one checkpoint.
func (m *MemStore[S]) Threads(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// MarshalJSON serializes the whole store.
//
// The result can be written to disk and loaded into a fresh MemStore with
// UnmarshalJSON, which is how a paused thread moves between processes when no
// durable backend is configured.
func (m *MemStore[S]) MarshalJSON() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return json.Marshal(serializableMemStore[S]{Threads: m.threads})
}

// UnmarshalJSON replaces the store contents with the serialized data.
func (m *MemStore[S]) UnmarshalJSON(data []byte) error {
	var s serializableMemStore[S]
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Threads == nil {
		s.Threads = make(map[string][]Checkpoint[S])
	}
	for id := range s.Threads {
		sort.SliceStable(s.Threads[id], func(i, j int) bool {
			return s.Threads[id][i].Seq < s.Threads[id][j].Seq
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.threads = s.Threads
	if m.locks == nil {
		m.locks = newThreadLocks()
	}
	return nil
}

// cloneCheckpoint deep-copies a checkpoint through its JSON form.
func cloneCheckpoint[S any](cp Checkpoint[S]) (Checkpoint[S], error) {
	data, err := json.Marshal(cp)
	if err != nil {
		var zero Checkpoint[S]
		return zero, err
	}
	var out Checkpoint[S]
	if err := json.Unmarshal(data, &out); err != nil {
		var zero Checkpoint[S]
		return zero, err
	}
	return out, nil
}
