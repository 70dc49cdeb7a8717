package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aretw0/interplay"
	"github.com/aretw0/interplay/internal/config"
	"github.com/aretw0/interplay/pkg/adapters/file"
	"github.com/aretw0/interplay/pkg/adapters/memory"
	"github.com/aretw0/interplay/pkg/adapters/redis"
	"github.com/aretw0/interplay/pkg/adapters/sqlite"
	"github.com/aretw0/interplay/pkg/loader"
	"github.com/aretw0/interplay/pkg/modules"
	"github.com/aretw0/interplay/pkg/modules/process"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/persistence/middleware"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/aretw0/interplay/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// OpenBackend returns the state backend named by cfg.Backend and the function
// that releases it. The backend encrypts the state when cfg carries a key.
func OpenBackend(cfg config.Config) (ports.StateBackend, func() error, error) {
	backend, release, err := openBackend(cfg)
	if err != nil {
		return nil, nil, err
	}
	active, fallback, err := cfg.Keys()
	if err != nil {
		return nil, nil, errors.Join(err, release())
	}
	if active == nil {
		return backend, release, nil
	}
	mw, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
	if err != nil {
		return nil, nil, errors.Join(err, release())
	}
	return mw(backend), release, nil
}

func openBackend(cfg config.Config) (ports.StateBackend, func() error, error) {
	nop := func() error { return nil }
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewStore(), nop, nil
	case config.BackendFile:
		if err := os.MkdirAll(filepath.Dir(cfg.StatePath()), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		return file.New(cfg.StatePath()), nop, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath()), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create state directory: %w", err)
		}
		s, err := sqlite.Open(cfg.DatabasePath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.BackendRedis:
		s := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, redis.WithKey(cfg.RedisKey))
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func loadTools(cfg config.Config) (map[string]process.Tool, error) {
	if cfg.ToolsFile == "" {
		return nil, nil
	}
	return process.LoadTools(cfg.ToolsFile)
}

// Runtime is an orchestrator wired to the backend, metrics and plugins of a config.
type Runtime struct {
	*interplay.Orchestrator
	// Registry holds the runtime collectors plus the Go and process ones.
	Registry *prometheus.Registry

	release func() error
}

// Open builds a Runtime from cfg. The persisted state is restored and its
// instances are started.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, err
	}

	tools, err := loadTools(cfg)
	if err != nil {
		return nil, err
	}
	backend, release, err := OpenBackend(cfg)
	if err != nil {
		return nil, err
	}
	o, err := interplay.New(ctx, backend,
		interplay.WithTools(tools, cfg.ToolsDir()),
		interplay.WithLogger(logger),
		interplay.WithMetrics(metrics),
		interplay.WithPluginDir(cfg.PluginDir),
		interplay.WithWatch(cfg.Watch),
		interplay.WithDebounce(cfg.Debounce.Std()),
		interplay.WithRouteTimeout(cfg.RouteTimeout.Std()),
		interplay.WithOutboxSize(cfg.OutboxSize),
	)
	if err != nil {
		return nil, errors.Join(err, release())
	}
	logger.Info("runtime ready", "backend", cfg.Backend, "plugin_dir", cfg.PluginDir, "modules", len(o.ListModules()))
	return &Runtime{Orchestrator: o, Registry: reg, release: release}, nil
}

// Close shuts the orchestrator down and releases the backend.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(r.Shutdown(ctx), r.release())
}

// Catalog loads the built-in modules and the plugins of cfg into a registry
// without touching any persisted state.
func Catalog(ctx context.Context, cfg config.Config, logger *slog.Logger) (*registry.Registry, loader.Report, error) {
	tools, err := loadTools(cfg)
	if err != nil {
		return nil, loader.Report{}, err
	}
	reg := registry.NewRegistry(registry.WithLogger(logger))
	catalog := loader.NewCatalog()
	modules.Register(catalog,
		modules.WithLogger(logger),
		modules.WithTools(tools),
		modules.WithWorkDir(cfg.ToolsDir()),
	)
	l := loader.New(reg, catalog, loader.WithLogger(logger))

	if _, err := modules.LoadBuiltins(ctx, l); err != nil {
		return nil, loader.Report{}, err
	}
	if cfg.PluginDir == "" {
		return reg, loader.Report{}, nil
	}
	report, err := l.LoadDir(ctx, cfg.PluginDir)
	return reg, report, err
}
