// Package emit provides event emission and observability for graph execution.
package emit

// Event messages emitted by the engine.
const (
	MsgThreadStarted  = "thread_started"
	MsgStepCompleted  = "step_completed"
	MsgStepFailed     = "step_failed"
	MsgFanOut         = "fan_out"
	MsgTaskCompleted  = "task_completed"
	MsgInterrupted    = "interrupted"
	MsgStateUpdated   = "state_updated"
	MsgThreadComplete = "thread_completed"
)

// Event represents an observability event emitted while a thread executes.
//
// Events describe:
//   - Steps that committed a checkpoint or failed
//   - Fan-outs and their individual sub-tasks
//   - Pauses at interrupt points and the updates that released them
//
// Events are advisory. The checkpoint log is the source of truth; a dropped
// event never changes what a thread does.
type Event struct {
	// ThreadID identifies the thread that emitted this event.
	ThreadID string

	// Seq is the checkpoint sequence number the event refers to. For a
	// failed step it is the last committed sequence.
	Seq int

	// NodeID identifies which node emitted this event.
	// Empty string for thread-level events.
	NodeID string

	// Msg names the event, one of the Msg constants.
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "duration_ms": Execution duration in milliseconds
	//   - "error": Error details
	//   - "status": Thread status after the step
	//   - "tasks": Number of fan-out sub-tasks
	//   - "index": Position of a sub-task in spawn order
	Meta map[string]interface{}
}
