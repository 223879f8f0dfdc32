package emit

import (
	"context"
	"log/slog"
	"sort"
)

// LogEmitter writes events to a structured logger.
//
// Every event becomes one record with the attributes thread, seq and node,
// followed by the event's metadata in key order. Events carrying an "error"
// key are logged at Error level, the rest at Info (or Debug for sub-task
// events, which are numerous during a fan-out).
//
// Example:
//
//	logger := logging.New(os.Stderr, "info", "json")
//	engine, _ := graph.NewEngine(g, st, graph.WithEmitter(emit.NewLogEmitter(logger)))
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a LogEmitter. A nil logger uses slog.Default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit implements Emitter.
func (l *LogEmitter) Emit(event Event) {
	level := slog.LevelInfo
	if event.Msg == MsgTaskCompleted {
		level = slog.LevelDebug
	}
	if _, ok := event.Meta["error"]; ok {
		level = slog.LevelError
	}

	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs,
		slog.String("thread", event.ThreadID),
		slog.Int("seq", event.Seq),
	)
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	l.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
