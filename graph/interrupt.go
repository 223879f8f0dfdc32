package graph

import (
	"context"

	"github.com/dshills/tripgraph/graph/emit"
	"github.com/dshills/tripgraph/graph/store"
)

// UpdateState applies an external patch to a thread paused before an
// interrupt point and releases the pause.
//
// asNode must name the node the thread is awaiting. An empty asNode with an
// empty patch means "proceed without changes"; a non-empty patch must always
// be attributed. The patch is merged like a node delta and recorded as a new
// checkpoint with Status running, so the next Step or Resume enters the
// interrupt node and runs its body against the patched state.
//
// Any violation returns an InterruptProtocolError and writes nothing.
//
// Example:
//
//	res, _ := engine.Start(ctx, id, initial)
//	if res.Status == store.StatusAwaitingInterrupt {
//	    _, err := engine.UpdateState(ctx, id, graph.State{"feedback": "satisfied"}, res.Awaiting)
//	    ...
//	    res, err = engine.Resume(ctx, id)
//	}
func (e *Engine) UpdateState(ctx context.Context, threadID string, patch State, asNode string) (Result, error) {
	return e.withLock(ctx, threadID, func(ctx context.Context) (Result, error) {
		cp, err := e.latest(ctx, threadID)
		if err != nil {
			return Result{}, err
		}

		reject := func(expected, reason string) (Result, error) {
			return e.result(cp), &InterruptProtocolError{
				Thread:   threadID,
				Status:   cp.Status,
				Expected: expected,
				Got:      asNode,
				Reason:   reason,
			}
		}

		if cp.Status != store.StatusAwaitingInterrupt {
			return reject("", "thread is not awaiting an interrupt")
		}
		awaiting := cp.Pending[0].Node

		switch {
		case asNode == "" && len(patch) > 0:
			return reject(awaiting, "a non-empty patch must be attributed to the awaiting node")
		case asNode != "" && asNode != awaiting:
			return reject(awaiting, "patch attributed to a node that is not awaiting")
		}

		merged, err := e.graph.schema.Merge(cp.State, patch)
		if err != nil {
			return reject(awaiting, "invalid patch: "+err.Error())
		}

		next := Checkpoint{
			ThreadID:  threadID,
			Seq:       cp.Seq + 1,
			State:     merged,
			Pending:   cp.Pending,
			Status:    store.StatusRunning,
			Node:      awaiting,
			Source:    store.SourceUpdate,
			Resumed:   true,
			CreatedAt: e.now(),
		}
		if err := e.store.Append(ctx, next); err != nil {
			return e.result(cp), storeError("failed to append update", err)
		}

		e.cfg.logger.Info("interrupt released", "thread", threadID, "seq", next.Seq, "node", awaiting, "fields", patch.Keys())
		e.cfg.emitter.Emit(emit.Event{
			ThreadID: threadID,
			Seq:      next.Seq,
			NodeID:   awaiting,
			Msg:      emit.MsgStateUpdated,
			Meta:     map[string]interface{}{"fields": patch.Keys()},
		})

		return e.result(next), nil
	})
}
