package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/dshills/tripgraph/graph"
	"github.com/dshills/tripgraph/graph/emit"
	"github.com/dshills/tripgraph/graph/model"
	"github.com/dshills/tripgraph/graph/model/anthropic"
	"github.com/dshills/tripgraph/graph/model/google"
	"github.com/dshills/tripgraph/graph/model/openai"
	"github.com/dshills/tripgraph/graph/store"
	"github.com/dshills/tripgraph/graph/tool"
	"github.com/dshills/tripgraph/internal/config"
	"github.com/dshills/tripgraph/internal/logging"
	"github.com/dshills/tripgraph/planner"
)

// Option replaces one of the dependencies the commands build from the
// configuration.
type Option func(*deps)

type deps struct {
	getenv   func(string) string
	stdin    io.Reader
	model    model.ChatModel
	store    store.Store[graph.State]
	registry *prometheus.Registry
}

// WithGetenv replaces os.Getenv when loading the configuration.
func WithGetenv(getenv func(string) string) Option {
	return func(d *deps) { d.getenv = getenv }
}

// WithStdin sets where interactive feedback is read from.
func WithStdin(r io.Reader) Option {
	return func(d *deps) { d.stdin = r }
}

// WithModel uses m instead of the configured provider.
func WithModel(m model.ChatModel) Option {
	return func(d *deps) { d.model = m }
}

// WithStore uses st instead of the configured backend. The caller keeps
// ownership of st.
func WithStore(st store.Store[graph.State]) Option {
	return func(d *deps) { d.store = st }
}

func newDeps(opts []Option) *deps {
	d := &deps{getenv: os.Getenv, stdin: os.Stdin, registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// app is everything a command needs to drive planner threads.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *graph.Engine
	stdin  io.Reader
	out    io.Writer

	closers []func() error
}

// newApp loads the configuration named by the global flags and wires the
// store, model, planner and engine it describes.
func newApp(cmd *cobra.Command, d *deps) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, d.getenv)
	if err != nil {
		return nil, exitError(exitConfig, "loading configuration: %v", err)
	}
	if backend, _ := cmd.Flags().GetString("store"); backend != "" {
		cfg.Store.Backend = backend
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, exitError(exitConfig, "invalid configuration: %v", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}
	logger, err := logging.New(cmd.ErrOrStderr(), level, cfg.Log.Format)
	if err != nil {
		return nil, exitError(exitConfig, "%v", err)
	}

	a := &app{cfg: cfg, logger: logger, stdin: d.stdin, out: cmd.OutOrStdout()}

	st := d.store
	if st == nil {
		var closeStore func() error
		st, closeStore, err = openStore(cfg.Store)
		if err != nil {
			return nil, exitError(exitRuntime, "opening %s store: %v", cfg.Store.Backend, err)
		}
		a.onClose(closeStore)
	}

	m := d.model
	if m == nil {
		if m, err = newChatModel(cfg); err != nil {
			a.Close()
			return nil, exitError(exitConfig, "%v", err)
		}
	}

	g, err := newPlanner(cfg, m, logger).Graph()
	if err != nil {
		a.Close()
		return nil, exitError(exitRuntime, "building planner graph: %v", err)
	}

	metrics := graph.NewPrometheusMetrics(d.registry)
	a.engine, err = graph.NewEngine(g, st,
		graph.WithMaxConcurrent(cfg.Engine.MaxConcurrent),
		graph.WithDefaultNodeTimeout(cfg.Engine.NodeTimeout),
		graph.WithLogger(logger),
		graph.WithMetrics(metrics),
		graph.WithEmitter(emit.MultiEmitter{
			emit.NewLogEmitter(logger),
			emit.NewOTelEmitter(otel.Tracer("tripgraph")),
		}),
	)
	if err != nil {
		a.Close()
		return nil, exitError(exitConfig, "creating engine: %v", err)
	}

	if cfg.Metrics.Listen != "" {
		if err := a.serveMetrics(d.registry); err != nil {
			a.Close()
			return nil, exitError(exitConfig, "metrics listener: %v", err)
		}
	}
	return a, nil
}

func (a *app) onClose(fn func() error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close releases the store and stops the metrics server, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	a.closers = nil
}

// serveMetrics exposes registry on /metrics at the configured address.
func (a *app) serveMetrics(registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", a.cfg.Metrics.Listen)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())

	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	return nil
}

// openStore opens the configured checkpoint store and returns its closer.
func openStore(cfg config.StoreConfig) (store.Store[graph.State], func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemStore[graph.State](), nil, nil
	case config.BackendSQLite:
		s, err := store.NewSQLiteStore[graph.State](cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendMySQL:
		s, err := store.NewMySQLStore[graph.State](cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendRedis:
		var opts []store.RedisOption
		if cfg.Prefix != "" {
			opts = append(opts, store.WithRedisPrefix(cfg.Prefix))
		}
		if cfg.LockTTL > 0 {
			opts = append(opts, store.WithRedisLockTTL(cfg.LockTTL))
		}
		s := store.NewRedisStore[graph.State](cfg.Addr, cfg.Password, cfg.DB, opts...)
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// newChatModel creates the configured provider's chat model.
func newChatModel(cfg *config.Config) (model.ChatModel, error) {
	key := cfg.ModelKey()
	if key == "" {
		return nil, fmt.Errorf("no API key set for model provider %q", cfg.Model.Provider)
	}

	switch cfg.Model.Provider {
	case config.ProviderOpenAI:
		return openai.NewChatModel(key, cfg.Model.Name), nil
	case config.ProviderAnthropic:
		return anthropic.NewChatModel(key, cfg.Model.Name), nil
	case config.ProviderGoogle:
		return google.NewChatModel(key, cfg.Model.Name), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
}

// newPlanner wires the weather and search clients over one HTTP tool.
func newPlanner(cfg *config.Config, m model.ChatModel, logger *slog.Logger) *planner.Planner {
	h := tool.NewHTTPTool(
		tool.WithUserAgent(cfg.Services.UserAgent),
		tool.WithTimeout(cfg.Services.HTTPTimeout),
	)

	var weatherOpts []planner.WeatherOption
	if cfg.Services.GeocodeURL != "" {
		weatherOpts = append(weatherOpts, planner.WithGeocodeURL(cfg.Services.GeocodeURL))
	}
	if cfg.Services.ForecastURL != "" {
		weatherOpts = append(weatherOpts, planner.WithForecastURL(cfg.Services.ForecastURL))
	}

	return planner.New(m,
		planner.WithWeather(planner.NewWeatherClient(h, cfg.Keys.OpenWeather, weatherOpts...)),
		planner.WithSearch(planner.NewSearchClient(h, cfg.Keys.Tavily, cfg.Services.SearchURL)),
		planner.WithLogger(logger),
	)
}
