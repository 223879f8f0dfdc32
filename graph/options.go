package graph

import (
	"log/slog"
	"time"

	"github.com/dshills/tripgraph/graph/emit"
)

// Option configures an Engine using the functional options pattern.
//
// Options are applied in order by NewEngine; an option that returns an error
// aborts construction.
//
// Example:
//
//	engine, err := graph.NewEngine(g, st,
//	    graph.WithMaxConcurrent(4),
//	    graph.WithDefaultNodeTimeout(30*time.Second),
//	    graph.WithEmitter(emit.NewLogEmitter(logger)),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	// maxConcurrent bounds the fan-out sub-tasks running at once.
	maxConcurrent int

	// defaultNodeTimeout applies to nodes without their own timeout.
	defaultNodeTimeout time.Duration

	emitter emit.Emitter
	metrics *PrometheusMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// defaultMaxConcurrent is the fan-out limit used when none is configured.
const defaultMaxConcurrent = 8

func defaultEngineConfig() engineConfig {
	return engineConfig{
		maxConcurrent: defaultMaxConcurrent,
		emitter:       emit.NewNullEmitter(),
		logger:        slog.New(slog.DiscardHandler),
		now:           time.Now,
	}
}

// WithMaxConcurrent limits how many fan-out sub-tasks run in parallel.
// Values below 1 are rejected.
func WithMaxConcurrent(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 1 {
			return &EngineError{Message: "max concurrent must be at least 1", Code: "INVALID_OPTION"}
		}
		cfg.maxConcurrent = n
		return nil
	}
}

// WithDefaultNodeTimeout bounds every node body that has no timeout of its
// own. A body that overruns fails its step like any other node error.
func WithDefaultNodeTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d < 0 {
			return &EngineError{Message: "node timeout cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.defaultNodeTimeout = d
		return nil
	}
}

// WithEmitter sets the receiver of step events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			e = emit.NewNullEmitter()
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
//
// Example:
//
//	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	engine, err := graph.NewEngine(g, st, graph.WithMetrics(metrics))
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithLogger sets the structured logger for engine diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used for checkpoint timestamps.
// Tests use it to make histories byte-for-byte reproducible.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: "INVALID_OPTION"}
		}
		cfg.now = now
		return nil
	}
}
