package emit

// Emitter receives observability events from the engine.
//
// Implementations should be:
//   - Non-blocking: Avoid slowing down execution
//   - Thread-safe: Fan-out sub-tasks emit concurrently
//
// Emit should not panic. Errors should be handled internally.
type Emitter interface {
	// Emit sends an observability event to the configured backend.
	Emit(event Event)
}

// MultiEmitter forwards every event to each of its emitters in order.
type MultiEmitter []Emitter

// Emit implements Emitter.
func (m MultiEmitter) Emit(event Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(event)
		}
	}
}
