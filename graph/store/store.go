// Package store provides durable checkpoint logs for graph threads.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a thread has no checkpoints.
var ErrNotFound = errors.New("not found")

// ErrSequenceConflict is returned by Append when the checkpoint's sequence
// number is not strictly greater than the thread's latest sequence number.
//
// Seeing this error means two writers raced on the same thread, or a step is
// being replayed after its checkpoint was already committed.
var ErrSequenceConflict = errors.New("checkpoint sequence conflict")

// ErrClosed is returned by operations on a store after Close.
var ErrClosed = errors.New("store is closed")

// Status is the execution status recorded with a checkpoint.
type Status string

const (
	// StatusRunning means the thread has pending work and can be stepped.
	StatusRunning Status = "running"

	// StatusAwaitingInterrupt means the thread is paused before an
	// interrupt node and needs an external state update to proceed.
	StatusAwaitingInterrupt Status = "awaiting_interrupt"

	// StatusCompleted means the thread reached the terminal node.
	StatusCompleted Status = "completed"

	// StatusFailed is reported for a step that failed. Failed steps are never
	// persisted; the status only appears in engine results.
	StatusFailed Status = "failed"
)

// Source describes what produced a checkpoint.
type Source string

const (
	// SourceInput marks the initial checkpoint of a thread.
	SourceInput Source = "input"

	// SourceLoop marks a checkpoint appended after a node or fan-out step.
	SourceLoop Source = "loop"

	// SourceUpdate marks a checkpoint appended by an external state update.
	SourceUpdate Source = "update"
)

// Task is one unit of pending work recorded in a checkpoint.
//
// A task with a nil Input runs against the thread state. A task with an Input
// is a fan-out sub-task that runs in isolation against that narrowed state.
type Task[S any] struct {
	Node  string `json:"node"`
	Input *S     `json:"input,omitempty"`
}

// Checkpoint is an immutable snapshot of a thread after a step.
//
// Checkpoints for one thread form a total order by Seq. Resuming a thread
// always starts from the checkpoint with the highest Seq.
type Checkpoint[S any] struct {
	// ThreadID identifies the thread the checkpoint belongs to.
	ThreadID string `json:"thread_id"`

	// Seq is the monotonically increasing sequence number within the thread.
	Seq int `json:"seq"`

	// State is the full merged state after the step.
	State S `json:"state"`

	// Pending lists the work the next step will execute. Empty when the
	// thread has completed.
	Pending []Task[S] `json:"pending,omitempty"`

	// Status is the thread status at this checkpoint.
	Status Status `json:"status"`

	// Node is the node (or attributed node for updates) that produced the
	// checkpoint. Empty for the initial checkpoint.
	Node string `json:"node,omitempty"`

	// Source describes what produced the checkpoint.
	Source Source `json:"source"`

	// Resumed is set when an external update has released the pending
	// interrupt node, so the next step runs it instead of pausing.
	Resumed bool `json:"resumed,omitempty"`

	// CreatedAt is when the checkpoint was produced.
	CreatedAt time.Time `json:"created_at"`
}

// UnlockFunc releases a thread lock acquired with Store.Lock.
type UnlockFunc func(ctx context.Context) error

// Store is the append-only checkpoint log shared by every thread.
//
// Implementations must guarantee:
//   - A checkpoint is visible to Latest only after it has been durably written
//   - Appends for different threads never interleave state
//   - Lock serializes callers working on the same thread
//
// Type parameter S is the state type (must be JSON-serializable for durable
// backends).
type Store[S any] interface {
	// Append adds a checkpoint to its thread's log. It returns
	// ErrSequenceConflict if cp.Seq is not greater than the latest Seq.
	Append(ctx context.Context, cp Checkpoint[S]) error

	// Latest returns the highest-sequence checkpoint for a thread, or
	// ErrNotFound if the thread has none.
	Latest(ctx context.Context, threadID string) (Checkpoint[S], error)

	// History returns every checkpoint of a thread in ascending Seq order,
	// or ErrNotFound if the thread has none.
	History(ctx context.Context, threadID string) ([]Checkpoint[S], error)

	// Lock acquires the per-thread execution lock, blocking until it is
	// available or ctx is done.
	Lock(ctx context.Context, threadID string) (UnlockFunc, error)

	// Threads lists every thread id with at least one checkpoint, sorted.
	Threads(ctx context.Context) ([]string, error)
}
