// Package graph provides the resumable task-graph engine for tripgraph.
package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/tripgraph/graph/store"
)

// ErrThreadNotFound is returned when an operation names a thread with no
// checkpoints.
var ErrThreadNotFound = errors.New("thread not found")

// ErrThreadExists is returned by Start when the thread already has history.
var ErrThreadExists = errors.New("thread already exists")

// ErrThreadCompleted is returned when stepping a thread that reached End.
var ErrThreadCompleted = errors.New("thread already completed")

// EngineError reports a failure of the engine's own plumbing (configuration,
// persistence) rather than of a node or router.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// GraphValidationError lists every problem Compile found.
type GraphValidationError struct {
	Problems []string
}

func (e *GraphValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid graph: " + e.Problems[0]
	}
	return fmt.Sprintf("invalid graph: %d problems:\n  - %s", len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

// NodeExecutionError reports a node body failure. The thread keeps the
// checkpoint at Seq and the node runs again on the next Resume.
type NodeExecutionError struct {
	Node  string
	Seq   int
	Cause error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed (last checkpoint %d): %v", e.Node, e.Seq, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Cause
}

// RoutingError reports a routing decision the graph does not allow: a target
// not declared on the edge, an empty fan-out, or a router failure.
type RoutingError struct {
	Node   string
	Target string
	Seq    int
	Reason string
	Cause  error
}

func (e *RoutingError) Error() string {
	msg := fmt.Sprintf("routing from %s failed (last checkpoint %d): %s", e.Node, e.Seq, e.Reason)
	if e.Target != "" {
		msg += " (target " + e.Target + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RoutingError) Unwrap() error {
	return e.Cause
}

// TaskError is one failed fan-out sub-task.
type TaskError struct {
	Index  int
	Target string
	Err    error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("task %d (%s): %v", e.Index, e.Target, e.Err)
}

// FanOutPartialFailure reports that at least one fan-out sub-task failed.
// No sub-task results are merged; Failures lists every failed task in spawn
// order. Node is the node that spawned the fan-out.
type FanOutPartialFailure struct {
	Node     string
	Seq      int
	Total    int
	Failures []TaskError
}

func (e *FanOutPartialFailure) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("fan-out from %s failed: %d of %d tasks (last checkpoint %d): %s",
		e.Node, len(e.Failures), e.Total, e.Seq, strings.Join(parts, "; "))
}

// Unwrap exposes the sub-task errors to errors.Is and errors.As.
func (e *FanOutPartialFailure) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// InterruptProtocolError rejects an UpdateState call that does not match the
// thread's pause. Nothing is written when it is returned.
type InterruptProtocolError struct {
	Thread   string
	Status   store.Status
	Expected string
	Got      string
	Reason   string
}

func (e *InterruptProtocolError) Error() string {
	return fmt.Sprintf("interrupt protocol violation on thread %s (status %s, awaiting %q, attributed %q): %s",
		e.Thread, e.Status, e.Expected, e.Got, e.Reason)
}
