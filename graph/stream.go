package graph

import (
	"context"
	"iter"
	"reflect"

	"github.com/dshills/tripgraph/graph/store"
)

// StepEvent describes one committed checkpoint.
type StepEvent struct {
	ThreadID string
	Seq      int
	Node     string
	Source   store.Source
	Status   store.Status

	// Delta holds the fields that changed relative to the previous
	// checkpoint. A field removed by the step appears with a nil value.
	Delta State

	// Pending lists the node ids the next step will run.
	Pending []string
}

// Stream resumes the thread and yields one event per committed step while
// it runs. The sequence ends when the thread pauses, completes, or fails; a
// failure is yielded as the final error.
//
// The thread lock is held for one step at a time and released before the
// event is yielded, so the loop body may call UpdateState or Resume on the
// same thread. Every step reloads the latest checkpoint: an interrupt
// released from inside the loop lets the stream carry on past it.
//
// Stopping the iteration early stops the thread after the current step. The
// stream cannot be restarted: use Replay to observe steps already taken.
//
// Example:
//
//	for ev, err := range engine.Stream(ctx, id) {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Status == store.StatusAwaitingInterrupt {
//	        _, err = engine.UpdateState(ctx, id, ask(ev.Pending[0]), ev.Pending[0])
//	    }
//	}
func (e *Engine) Stream(ctx context.Context, threadID string) iter.Seq2[StepEvent, error] {
	return func(yield func(StepEvent, error) bool) {
		for {
			ev, ok, err := e.streamStep(ctx, threadID)
			if err != nil {
				yield(StepEvent{ThreadID: threadID}, err)
				return
			}
			if !ok || !yield(ev, nil) {
				return
			}
		}
	}
}

// streamStep takes one step of the thread under its lock. ok is false once
// the latest checkpoint is no longer running.
func (e *Engine) streamStep(ctx context.Context, threadID string) (ev StepEvent, ok bool, err error) {
	_, err = e.withLock(ctx, threadID, func(ctx context.Context) (Result, error) {
		cp, err := e.latest(ctx, threadID)
		if err != nil || cp.Status != store.StatusRunning {
			return Result{}, err
		}
		next, advanced, err := e.step(ctx, cp)
		if err != nil {
			return e.failed(cp, err), err
		}
		if advanced {
			ev, ok = stepEvent(cp.State, next), true
		}
		return e.result(next), nil
	})
	return ev, ok, err
}

// Replay yields the thread's stored history as step events, starting with
// the initial checkpoint whose delta is the whole initial state.
func (e *Engine) Replay(ctx context.Context, threadID string) iter.Seq2[StepEvent, error] {
	return func(yield func(StepEvent, error) bool) {
		history, err := e.History(ctx, threadID)
		if err != nil {
			yield(StepEvent{ThreadID: threadID}, err)
			return
		}

		prev := State{}
		for _, cp := range history {
			if !yield(stepEvent(prev, cp), nil) {
				return
			}
			prev = cp.State
		}
	}
}

func stepEvent(prev State, cp Checkpoint) StepEvent {
	ev := StepEvent{
		ThreadID: cp.ThreadID,
		Seq:      cp.Seq,
		Node:     cp.Node,
		Source:   cp.Source,
		Status:   cp.Status,
		Delta:    stateDelta(prev, cp.State),
	}
	for _, t := range cp.Pending {
		ev.Pending = append(ev.Pending, t.Node)
	}
	return ev
}

// stateDelta returns the fields of next that differ from prev, plus a nil
// entry for every field next no longer holds.
func stateDelta(prev, next State) State {
	delta := State{}
	for k, v := range next {
		if old, ok := prev[k]; !ok || !reflect.DeepEqual(old, v) {
			delta[k] = v
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			delta[k] = nil
		}
	}
	return delta.Clone()
}
