package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/tripgraph/graph/emit"
	"github.com/dshills/tripgraph/graph/store"
)

// Checkpoint is a checkpoint of a graph thread.
type Checkpoint = store.Checkpoint[State]

// Task is a pending unit of work recorded in a checkpoint.
type Task = store.Task[State]

// Engine executes threads of a compiled graph against a checkpoint store.
//
// The Engine is the stepping loop that:
//   - Runs the pending node (or fan-out tasks) of a thread's latest checkpoint
//   - Merges the partial update through the graph's schema
//   - Evaluates the node's route on the merged state
//   - Appends exactly one checkpoint per successful step
//   - Pauses before interrupt points until UpdateState releases them
//
// An Engine holds no per-thread state. Every call reloads the latest
// checkpoint under the store's thread lock, so any number of engines, in one
// process or several, can serve the same store.
//
// Example:
//
//	st := store.NewMemStore[graph.State]()
//	engine, err := graph.NewEngine(g, st, graph.WithMaxConcurrent(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := engine.Start(ctx, "trip-42", graph.State{"user_query": "Lisbon in May"})
//	for err == nil && res.Status == store.StatusAwaitingInterrupt {
//	    feedback := ask(res.Awaiting)
//	    if _, err = engine.UpdateState(ctx, "trip-42", feedback, res.Awaiting); err == nil {
//	        res, err = engine.Resume(ctx, "trip-42")
//	    }
//	}
type Engine struct {
	graph *Graph
	store store.Store[State]
	cfg   engineConfig
}

// Result describes a thread after an engine call.
type Result struct {
	// ThreadID identifies the thread.
	ThreadID string

	// Status is the thread status. StatusFailed is reported when the call
	// failed; the thread itself stays at its last checkpoint.
	Status store.Status

	// Seq is the latest durable checkpoint sequence number.
	Seq int

	// Node is the node that produced the latest checkpoint, or the node that
	// failed when Status is StatusFailed.
	Node string

	// Awaiting is the interrupt node the thread is paused before. Empty
	// unless Status is StatusAwaitingInterrupt.
	Awaiting string

	// Pending lists the node ids the next step will run.
	Pending []string

	// State is the thread state at Seq.
	State State
}

// NewEngine creates an engine for g backed by st.
func NewEngine(g *Graph, st store.Store[State], opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, &EngineError{Message: "graph is required", Code: "INVALID_ENGINE"}
	}
	if st == nil {
		return nil, &EngineError{Message: "store is required", Code: "INVALID_ENGINE"}
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{graph: g, store: st, cfg: cfg}, nil
}

// Graph returns the compiled graph the engine runs.
func (e *Engine) Graph() *Graph {
	return e.graph
}

// Start creates a thread with the initial state and runs it until it pauses,
// completes, or fails.
//
// The initial state is validated against the schema and recorded as
// checkpoint 0 with the entry node pending. Returns ErrThreadExists if the
// thread already has history.
func (e *Engine) Start(ctx context.Context, threadID string, initial State) (Result, error) {
	if threadID == "" {
		return Result{}, &EngineError{Message: "thread id cannot be empty", Code: "INVALID_THREAD"}
	}

	return e.withLock(ctx, threadID, func(ctx context.Context) (Result, error) {
		_, err := e.store.Latest(ctx, threadID)
		switch {
		case err == nil:
			return Result{}, &EngineError{Message: "thread " + threadID, Code: "THREAD_EXISTS", Cause: ErrThreadExists}
		case !errors.Is(err, store.ErrNotFound):
			return Result{}, storeError("failed to load thread", err)
		}

		st, err := e.graph.schema.Merge(State{}, initial)
		if err != nil {
			return Result{}, &EngineError{Message: "invalid initial state", Code: "INVALID_STATE", Cause: err}
		}

		cp := Checkpoint{
			ThreadID:  threadID,
			Seq:       0,
			State:     st,
			Pending:   []Task{{Node: e.graph.entry}},
			Source:    store.SourceInput,
			CreatedAt: e.now(),
		}
		cp.Status = e.statusFor(cp.Pending, false)

		if err := e.store.Append(ctx, cp); err != nil {
			return Result{}, storeError("failed to append initial checkpoint", err)
		}

		e.cfg.logger.Info("thread started", "thread", threadID, "entry", e.graph.entry)
		e.cfg.emitter.Emit(emit.Event{ThreadID: threadID, Seq: 0, Msg: emit.MsgThreadStarted})
		e.announce(cp)

		return e.run(ctx, cp)
	})
}

// Step executes exactly one step from the thread's latest checkpoint.
//
// A thread paused before an interrupt is returned unchanged. Stepping a
// completed thread returns ErrThreadCompleted.
func (e *Engine) Step(ctx context.Context, threadID string) (Result, error) {
	return e.withLock(ctx, threadID, func(ctx context.Context) (Result, error) {
		cp, err := e.latest(ctx, threadID)
		if err != nil {
			return Result{}, err
		}
		if cp.Status == store.StatusCompleted {
			return e.result(cp), ErrThreadCompleted
		}

		next, _, err := e.step(ctx, cp)
		if err != nil {
			return e.failed(cp, err), err
		}
		return e.result(next), nil
	})
}

// Resume runs the thread from its latest checkpoint until it pauses,
// completes, or fails.
//
// After a failure, Resume re-invokes only the node (or fan-out) that failed;
// the steps before it are not executed again. Resuming a completed thread
// returns its final result.
func (e *Engine) Resume(ctx context.Context, threadID string) (Result, error) {
	return e.withLock(ctx, threadID, func(ctx context.Context) (Result, error) {
		cp, err := e.latest(ctx, threadID)
		if err != nil {
			return Result{}, err
		}
		return e.run(ctx, cp)
	})
}

// State returns the thread's latest checkpoint as a Result.
func (e *Engine) State(ctx context.Context, threadID string) (Result, error) {
	cp, err := e.latest(ctx, threadID)
	if err != nil {
		return Result{}, err
	}
	return e.result(cp), nil
}

// History returns every checkpoint of the thread in sequence order.
func (e *Engine) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	history, err := e.store.History(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, threadNotFound(threadID)
	}
	if err != nil {
		return nil, storeError("failed to load history", err)
	}
	return history, nil
}

// Threads lists the threads in the engine's store.
func (e *Engine) Threads(ctx context.Context) ([]string, error) {
	ids, err := e.store.Threads(ctx)
	if err != nil {
		return nil, storeError("failed to list threads", err)
	}
	return ids, nil
}

// run steps from cp until the thread leaves StatusRunning.
func (e *Engine) run(ctx context.Context, cp Checkpoint) (Result, error) {
	for cp.Status == store.StatusRunning {
		next, advanced, err := e.step(ctx, cp)
		if err != nil {
			return e.failed(cp, err), err
		}
		if !advanced {
			break
		}
		cp = next
	}
	return e.result(cp), nil
}

// step runs the pending work of cp and appends the resulting checkpoint.
// advanced is false when cp is paused before an interrupt.
func (e *Engine) step(ctx context.Context, cp Checkpoint) (Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return cp, false, err
	}

	switch {
	case cp.Status == store.StatusAwaitingInterrupt:
		return cp, false, nil
	case cp.Status == store.StatusCompleted || len(cp.Pending) == 0:
		return cp, false, ErrThreadCompleted
	}

	started := e.cfg.now()

	var (
		next Checkpoint
		err  error
	)
	if isFanOut(cp.Pending) {
		next, err = e.runFanOut(ctx, cp)
	} else {
		next, err = e.runNode(ctx, cp, cp.Pending[0].Node)
	}

	elapsed := e.cfg.now().Sub(started)
	if err != nil {
		node := failedNode(cp, err)
		e.cfg.logger.Warn("step failed", "thread", cp.ThreadID, "seq", cp.Seq, "node", node, "error", err)
		e.cfg.emitter.Emit(emit.Event{
			ThreadID: cp.ThreadID,
			Seq:      cp.Seq,
			NodeID:   node,
			Msg:      emit.MsgStepFailed,
			Meta:     map[string]interface{}{"error": err.Error(), "duration_ms": elapsed.Milliseconds()},
		})
		if e.cfg.metrics != nil {
			e.cfg.metrics.RecordStep(node, "error", elapsed)
		}
		return cp, false, err
	}

	if err := e.store.Append(ctx, next); err != nil {
		return cp, false, storeError(fmt.Sprintf("failed to append checkpoint %d", next.Seq), err)
	}

	e.cfg.logger.Debug("step completed", "thread", next.ThreadID, "seq", next.Seq, "node", next.Node, "status", next.Status)
	e.cfg.emitter.Emit(emit.Event{
		ThreadID: next.ThreadID,
		Seq:      next.Seq,
		NodeID:   next.Node,
		Msg:      emit.MsgStepCompleted,
		Meta:     map[string]interface{}{"status": string(next.Status), "duration_ms": elapsed.Milliseconds()},
	})
	if e.cfg.metrics != nil {
		e.cfg.metrics.RecordStep(next.Node, "success", elapsed)
	}
	e.announce(next)

	return next, true, nil
}

// runNode executes a single node against the thread state and resolves its
// route.
func (e *Engine) runNode(ctx context.Context, cp Checkpoint, nodeID string) (Checkpoint, error) {
	spec, ok := e.graph.node(nodeID)
	if !ok {
		return cp, &RoutingError{Node: cp.Node, Target: nodeID, Seq: cp.Seq, Reason: "pending node is not in the graph"}
	}

	res := e.invoke(ctx, spec, cp.State.Clone())
	if res.Err != nil {
		return cp, &NodeExecutionError{Node: nodeID, Seq: cp.Seq, Cause: res.Err}
	}

	delta := res.Delta
	if spec.sub != nil {
		delta = e.graph.schema.Restrict(delta)
	}
	merged, err := e.graph.schema.Merge(cp.State, delta)
	if err != nil {
		return cp, &NodeExecutionError{Node: nodeID, Seq: cp.Seq, Cause: err}
	}

	next := e.successor(cp, nodeID, merged)

	if len(res.Sends) > 0 {
		if len(spec.fanOut) == 0 {
			return cp, &RoutingError{Node: nodeID, Seq: cp.Seq, Reason: "node returned sends but declares no fan-out targets"}
		}
		tasks, err := e.sendTasks(nodeID, cp.Seq, res.Sends, spec.fanOut)
		if err != nil {
			return cp, err
		}
		next.Pending = tasks
		next.Status = store.StatusRunning
		return next, nil
	}

	route, ok := e.graph.route(nodeID)
	if !ok {
		return cp, &RoutingError{Node: nodeID, Seq: cp.Seq, Reason: "fan-out node produced no tasks and has no edge"}
	}

	decision, err := e.resolve(ctx, route, nodeID, cp.Seq, merged)
	if err != nil {
		return cp, err
	}
	return e.apply(next, decision, nodeID, cp.Seq, route.targets)
}

// resolve evaluates a route on the merged state and checks the decision
// against the targets declared at compile time.
func (e *Engine) resolve(ctx context.Context, route edge, nodeID string, seq int, merged State) (Next, error) {
	if !route.conditional() {
		return Goto(route.to), nil
	}

	decision, err := callRouter(ctx, route.router, merged.Clone())
	if err != nil {
		return Next{}, &RoutingError{Node: nodeID, Seq: seq, Reason: "router failed", Cause: err}
	}

	if decision.IsFanOut() {
		if len(decision.Sends) == 0 {
			return Next{}, &RoutingError{Node: nodeID, Seq: seq, Reason: "router returned an empty fan-out"}
		}
		return decision, nil
	}

	if decision.To == "" {
		return Next{}, &RoutingError{Node: nodeID, Seq: seq, Reason: "router returned no decision"}
	}
	if !contains(route.targets, decision.To) {
		return Next{}, &RoutingError{Node: nodeID, Target: decision.To, Seq: seq, Reason: "target not declared on the edge"}
	}
	return decision, nil
}

// apply turns a routing decision into the pending work of next.
func (e *Engine) apply(next Checkpoint, decision Next, nodeID string, seq int, declared []string) (Checkpoint, error) {
	if decision.IsFanOut() {
		tasks, err := e.sendTasks(nodeID, seq, decision.Sends, declared)
		if err != nil {
			return next, err
		}
		next.Pending = tasks
		next.Status = store.StatusRunning
		return next, nil
	}

	if decision.To == End {
		next.Pending = nil
		next.Status = store.StatusCompleted
		return next, nil
	}

	next.Pending = []Task{{Node: decision.To}}
	next.Status = e.statusFor(next.Pending, false)
	return next, nil
}

// sendTasks converts sends into pending fan-out tasks, in spawn order.
func (e *Engine) sendTasks(nodeID string, seq int, sends []Send, declared []string) ([]Task, error) {
	tasks := make([]Task, 0, len(sends))
	for i, s := range sends {
		switch {
		case s.Target == End:
			return nil, &RoutingError{Node: nodeID, Target: s.Target, Seq: seq, Reason: fmt.Sprintf("send %d targets %s", i, End)}
		case !contains(declared, s.Target):
			return nil, &RoutingError{Node: nodeID, Target: s.Target, Seq: seq, Reason: fmt.Sprintf("send %d target not declared", i)}
		case e.graph.IsInterrupt(s.Target):
			return nil, &RoutingError{Node: nodeID, Target: s.Target, Seq: seq, Reason: fmt.Sprintf("send %d targets an interrupt node", i)}
		}
		if _, ok := e.graph.node(s.Target); !ok {
			return nil, &RoutingError{Node: nodeID, Target: s.Target, Seq: seq, Reason: fmt.Sprintf("send %d target is not in the graph", i)}
		}

		input, err := normalizeState(s.State)
		if err != nil {
			return nil, &RoutingError{Node: nodeID, Target: s.Target, Seq: seq, Reason: fmt.Sprintf("send %d state is not serializable", i), Cause: err}
		}
		tasks = append(tasks, Task{Node: s.Target, Input: &input})
	}
	return tasks, nil
}

// successor starts the checkpoint that follows cp.
func (e *Engine) successor(cp Checkpoint, nodeID string, st State) Checkpoint {
	return Checkpoint{
		ThreadID:  cp.ThreadID,
		Seq:       cp.Seq + 1,
		State:     st,
		Node:      nodeID,
		Source:    store.SourceLoop,
		CreatedAt: e.now(),
	}
}

// statusFor derives the status of a checkpoint from its pending work.
func (e *Engine) statusFor(pending []Task, resumed bool) store.Status {
	switch {
	case len(pending) == 0:
		return store.StatusCompleted
	case len(pending) == 1 && pending[0].Input == nil && e.graph.IsInterrupt(pending[0].Node) && !resumed:
		return store.StatusAwaitingInterrupt
	default:
		return store.StatusRunning
	}
}

// invoke runs a node body under its timeout, turning a panic into an error.
func (e *Engine) invoke(ctx context.Context, spec *nodeSpec, st State) (res NodeResult) {
	defer func() {
		if r := recover(); r != nil {
			res = NodeResult{Err: fmt.Errorf("node %s panicked: %v", spec.id, r)}
		}
	}()
	return executeNodeWithTimeout(ctx, spec, st, e.cfg.defaultNodeTimeout)
}

func callRouter(ctx context.Context, r Router, st State) (next Next, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("router panicked: %v", p)
		}
	}()
	return r(ctx, st)
}

// announce emits the thread-level events for a freshly appended checkpoint.
func (e *Engine) announce(cp Checkpoint) {
	switch cp.Status {
	case store.StatusAwaitingInterrupt:
		node := cp.Pending[0].Node
		e.cfg.logger.Info("thread awaiting interrupt", "thread", cp.ThreadID, "seq", cp.Seq, "node", node)
		e.cfg.emitter.Emit(emit.Event{ThreadID: cp.ThreadID, Seq: cp.Seq, NodeID: node, Msg: emit.MsgInterrupted})
		if e.cfg.metrics != nil {
			e.cfg.metrics.IncInterrupts(node)
		}
	case store.StatusCompleted:
		e.cfg.logger.Info("thread completed", "thread", cp.ThreadID, "seq", cp.Seq)
		e.cfg.emitter.Emit(emit.Event{ThreadID: cp.ThreadID, Seq: cp.Seq, Msg: emit.MsgThreadComplete})
	default:
		if isFanOut(cp.Pending) {
			e.cfg.emitter.Emit(emit.Event{
				ThreadID: cp.ThreadID,
				Seq:      cp.Seq,
				NodeID:   cp.Node,
				Msg:      emit.MsgFanOut,
				Meta:     map[string]interface{}{"tasks": len(cp.Pending)},
			})
		}
	}
}

func (e *Engine) latest(ctx context.Context, threadID string) (Checkpoint, error) {
	cp, err := e.store.Latest(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return Checkpoint{}, threadNotFound(threadID)
	}
	if err != nil {
		return Checkpoint{}, storeError("failed to load latest checkpoint", err)
	}
	return cp, nil
}

// withLock runs fn while holding the store's lock for the thread. The lock
// is released even if ctx has been cancelled.
func (e *Engine) withLock(ctx context.Context, threadID string, fn func(ctx context.Context) (Result, error)) (Result, error) {
	unlock, err := e.store.Lock(ctx, threadID)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, storeError("failed to lock thread", err)
	}
	defer func() {
		if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
			e.cfg.logger.Error("failed to release thread lock", "thread", threadID, "error", uerr)
		}
	}()
	return fn(ctx)
}

func (e *Engine) result(cp Checkpoint) Result {
	r := Result{
		ThreadID: cp.ThreadID,
		Status:   cp.Status,
		Seq:      cp.Seq,
		Node:     cp.Node,
		State:    cp.State.Clone(),
	}
	for _, t := range cp.Pending {
		r.Pending = append(r.Pending, t.Node)
	}
	if cp.Status == store.StatusAwaitingInterrupt {
		r.Awaiting = cp.Pending[0].Node
	}
	return r
}

func (e *Engine) failed(cp Checkpoint, err error) Result {
	r := e.result(cp)
	r.Status = store.StatusFailed
	r.Node = failedNode(cp, err)
	r.Awaiting = ""
	return r
}

func (e *Engine) now() time.Time {
	return e.cfg.now().UTC()
}

// failedNode names the node a step failure is attributed to.
func failedNode(cp Checkpoint, err error) string {
	var nodeErr *NodeExecutionError
	if errors.As(err, &nodeErr) {
		return nodeErr.Node
	}
	var routeErr *RoutingError
	if errors.As(err, &routeErr) {
		return routeErr.Node
	}
	var fanErr *FanOutPartialFailure
	if errors.As(err, &fanErr) {
		return fanErr.Node
	}
	if len(cp.Pending) > 0 {
		return cp.Pending[0].Node
	}
	return cp.Node
}

func isFanOut(pending []Task) bool {
	return len(pending) > 0 && pending[0].Input != nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func storeError(msg string, err error) error {
	return &EngineError{Message: msg, Code: "STORE_ERROR", Cause: err}
}

func threadNotFound(threadID string) error {
	return &EngineError{Message: "thread " + threadID, Code: "THREAD_NOT_FOUND", Cause: ErrThreadNotFound}
}
