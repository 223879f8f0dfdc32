package graph

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/tripgraph/graph/emit"
)

// runFanOut executes the fan-out tasks pending in cp as one logical step.
//
// Tasks run concurrently, at most maxConcurrent at a time, each on its own
// copy of its narrowed input. A failing task does not cancel its siblings:
// every task runs to completion so the failure report is complete. Results
// are merged into the parent state in spawn order, after every task has
// finished, and only if none failed.
func (e *Engine) runFanOut(ctx context.Context, cp Checkpoint) (Checkpoint, error) {
	tasks := cp.Pending
	deltas := make([]State, len(tasks))
	errs := make([]error, len(tasks))

	if e.cfg.metrics != nil {
		e.cfg.metrics.ObserveFanOut(len(tasks))
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.maxConcurrent)

	for i, task := range tasks {
		g.Go(func() error {
			if e.cfg.metrics != nil {
				e.cfg.metrics.TaskStarted()
				defer e.cfg.metrics.TaskFinished()
			}

			started := time.Now()
			deltas[i], errs[i] = e.runTask(ctx, task)

			meta := map[string]interface{}{"index": i, "duration_ms": time.Since(started).Milliseconds()}
			if errs[i] != nil {
				meta["error"] = errs[i].Error()
			}
			e.cfg.emitter.Emit(emit.Event{
				ThreadID: cp.ThreadID,
				Seq:      cp.Seq,
				NodeID:   task.Node,
				Msg:      emit.MsgTaskCompleted,
				Meta:     meta,
			})
			return nil
		})
	}
	_ = g.Wait()

	var failures []TaskError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, TaskError{Index: i, Target: tasks[i].Node, Err: err})
		}
	}
	if len(failures) > 0 {
		if e.cfg.metrics != nil {
			e.cfg.metrics.IncFanOutFailures(cp.Node)
		}
		return cp, &FanOutPartialFailure{Node: cp.Node, Seq: cp.Seq, Total: len(tasks), Failures: failures}
	}

	merged := cp.State
	for i, delta := range deltas {
		var err error
		merged, err = e.graph.schema.Merge(merged, e.graph.schema.Restrict(delta))
		if err != nil {
			return cp, &NodeExecutionError{Node: tasks[i].Node, Seq: cp.Seq, Cause: fmt.Errorf("task %d: %w", i, err)}
		}
	}

	decision, target, err := e.continuation(ctx, cp, tasks, merged)
	if err != nil {
		return cp, err
	}

	next := e.successor(cp, tasks[0].Node, merged)
	route, _ := e.graph.route(target)
	return e.apply(next, decision, target, cp.Seq, route.targets)
}

// runTask executes one fan-out task and returns its delta.
func (e *Engine) runTask(ctx context.Context, task Task) (State, error) {
	spec, ok := e.graph.node(task.Node)
	if !ok {
		return nil, fmt.Errorf("unknown target %s", task.Node)
	}

	var input State
	if task.Input != nil {
		input = task.Input.Clone()
	}

	res := e.invoke(ctx, spec, input)
	if res.Err != nil {
		return nil, res.Err
	}
	if len(res.Sends) > 0 {
		return nil, fmt.Errorf("node %s returned sends inside a fan-out task", task.Node)
	}
	return res.Delta, nil
}

// continuation decides where the thread goes after a fan-out: the route of
// the task target, evaluated on the merged state. When tasks address several
// targets, each target's route must reach the same decision.
func (e *Engine) continuation(ctx context.Context, cp Checkpoint, tasks []Task, merged State) (Next, string, error) {
	var (
		decision Next
		first    string
	)
	seen := make(map[string]bool)
	for _, task := range tasks {
		if seen[task.Node] {
			continue
		}
		seen[task.Node] = true

		route, ok := e.graph.route(task.Node)
		if !ok {
			return Next{}, "", &RoutingError{Node: task.Node, Seq: cp.Seq, Reason: "fan-out target has no outgoing route"}
		}
		d, err := e.resolve(ctx, route, task.Node, cp.Seq, merged)
		if err != nil {
			return Next{}, "", err
		}

		if first == "" {
			decision, first = d, task.Node
			continue
		}
		if d.IsFanOut() || decision.IsFanOut() || d.To != decision.To {
			return Next{}, "", &RoutingError{
				Node:   cp.Node,
				Target: task.Node,
				Seq:    cp.Seq,
				Reason: fmt.Sprintf("fan-out targets %s and %s disagree on the continuation", first, task.Node),
			}
		}
	}
	return decision, first, nil
}
