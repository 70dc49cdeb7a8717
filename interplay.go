package interplay

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/events"
	"github.com/aretw0/interplay/pkg/instance"
	"github.com/aretw0/interplay/pkg/keylock"
	"github.com/aretw0/interplay/pkg/loader"
	"github.com/aretw0/interplay/pkg/modules"
	"github.com/aretw0/interplay/pkg/modules/process"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/aretw0/interplay/pkg/registry"
	"github.com/aretw0/interplay/pkg/router"
	"github.com/aretw0/interplay/pkg/store"
)

// ErrClosed is returned by every call made after Shutdown.
var ErrClosed = errors.New("interplay: orchestrator is shut down")

// Orchestrator owns the module runtime: the registry and loader, the live
// instances, the router between them and the persisted state.
type Orchestrator struct {
	registry *registry.Registry
	loader   *loader.Loader
	store    *store.Store
	router   *router.Router
	hub      *events.Hub
	locks    *keylock.Locker

	// graph is held exclusively by whole-graph operations and shared by
	// per-instance ones, which also lock their instance keys.
	graph sync.RWMutex

	mu        sync.RWMutex
	instances map[string]*instance.Instance
	closed    bool

	routesMu sync.Mutex

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	cfg settings
}

type settings struct {
	logger       *slog.Logger
	metrics      *observability.Metrics
	pluginDir    string
	plugins      fs.FS
	watch        bool
	debounce     time.Duration
	routeTimeout time.Duration
	outboxSize   int
	adapters     map[string]ports.AdapterFunc
	manifests    []domain.Manifest
	tools        map[string]process.Tool
	toolsDir     string
}

// Option configures the Orchestrator.
type Option func(*settings)

// WithLogger sets a custom structured logger for the orchestrator and everything it builds.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) { s.logger = logger }
}

// WithMetrics enables instrumentation of every component.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// WithPluginDir loads manifests from dir on top of the built-in ones.
func WithPluginDir(dir string) Option {
	return func(s *settings) { s.pluginDir = dir }
}

// WithPlugins loads manifests from fsys on top of the built-in ones. Types
// loaded this way cannot be watched.
func WithPlugins(fsys fs.FS) Option {
	return func(s *settings) { s.plugins = fsys }
}

// WithWatch reloads plugin manifests when they change on disk.
func WithWatch(enabled bool) Option {
	return func(s *settings) { s.watch = enabled }
}

// WithDebounce sets the delay of coalesced runtime metadata writes.
func WithDebounce(d time.Duration) Option {
	return func(s *settings) { s.debounce = d }
}

// WithRouteTimeout bounds a single route delivery.
func WithRouteTimeout(d time.Duration) Option {
	return func(s *settings) { s.routeTimeout = d }
}

// WithOutboxSize sets the trigger queue capacity of each instance.
func WithOutboxSize(n int) Option {
	return func(s *settings) { s.outboxSize = n }
}

// WithAdapter adds an adapter constructor to the catalog, next to the built-in ones.
func WithAdapter(name string, fn ports.AdapterFunc) Option {
	return func(s *settings) { s.adapters[name] = fn }
}

// WithManifest registers m at startup, before persisted instances are restored.
func WithManifest(m domain.Manifest) Option {
	return func(s *settings) { s.manifests = append(s.manifests, m) }
}

// WithTools sets the commands process-output instances may run, by name.
// Commands run in dir, or in the working directory when dir is empty.
func WithTools(tools map[string]process.Tool, dir string) Option {
	return func(s *settings) { s.tools, s.toolsDir = tools, dir }
}

// New builds the runtime over backend: it registers the built-in and plugin
// module types, opens the state store and brings the persisted instances and
// routes back to life.
func New(ctx context.Context, backend ports.StateBackend, opts ...Option) (*Orchestrator, error) {
	cfg := settings{
		logger:   logging.NewNop(),
		adapters: make(map[string]ports.AdapterFunc),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	o := &Orchestrator{
		registry:  registry.NewRegistry(registry.WithLogger(cfg.logger)),
		hub:       events.NewHub(events.WithMetrics(cfg.metrics)),
		locks:     keylock.New(),
		instances: make(map[string]*instance.Instance),
		cfg:       cfg,
	}

	catalog := loader.NewCatalog()
	modules.Register(catalog,
		modules.WithLogger(cfg.logger),
		modules.WithTools(cfg.tools),
		modules.WithWorkDir(cfg.toolsDir),
	)
	for name, fn := range cfg.adapters {
		catalog.Add(name, fn)
	}
	o.loader = loader.New(o.registry, catalog,
		loader.WithLogger(cfg.logger),
		loader.WithMetrics(cfg.metrics),
	)
	if err := o.loadModules(ctx); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, backend,
		store.WithLogger(cfg.logger),
		store.WithMetrics(cfg.metrics),
		store.WithDebounce(cfg.debounce),
	)
	if err != nil {
		return nil, err
	}
	o.store = st

	o.router = router.New(
		router.WithLogger(cfg.logger),
		router.WithMetrics(cfg.metrics),
		router.WithPublisher(o.hub),
		router.WithTimeout(cfg.routeTimeout),
	)

	o.restore(ctx)

	if cfg.watch && cfg.pluginDir != "" {
		if err := o.startWatch(); err != nil {
			cfg.logger.Warn("manifest watch disabled", "dir", cfg.pluginDir, "err", err)
		}
	}
	return o, nil
}

func (o *Orchestrator) loadModules(ctx context.Context) error {
	if _, err := modules.LoadBuiltins(ctx, o.loader); err != nil {
		return fmt.Errorf("load built-in modules: %w", err)
	}
	for _, m := range o.cfg.manifests {
		if _, err := o.loader.Load(m, "option:"+m.TypeName); err != nil {
			return err
		}
	}
	if o.cfg.plugins != nil {
		if _, err := o.loader.Scan(ctx, o.cfg.plugins); err != nil {
			return fmt.Errorf("load plugins: %w", err)
		}
	}
	if o.cfg.pluginDir != "" {
		_, err := o.loader.LoadDir(ctx, o.cfg.pluginDir)
		if errors.Is(err, fs.ErrNotExist) {
			o.cfg.logger.Warn("plugin directory not found", "dir", o.cfg.pluginDir)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load plugin directory: %w", err)
		}
	}
	return nil
}

// restore rebuilds live instances from the persisted state. Instances whose
// type is no longer registered stay persisted but are not brought up.
func (o *Orchestrator) restore(ctx context.Context) {
	snap := o.store.Snapshot()

	ids := make([]string, 0, len(snap.Instances))
	for id := range snap.Instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sum := snap.Instances[id]
		f, err := o.registry.Get(sum.TypeName)
		if err != nil {
			o.cfg.logger.Warn("persisted instance not restored", "instance_id", id, "type", sum.TypeName, "err", err)
			continue
		}
		inst := instance.New(id, f, sum.Config, o.instanceOptions(sum.InteractionID,
			instance.WithCreatedAt(sum.CreatedAt),
			instance.WithRuntime(sum.Runtime),
		)...)
		o.router.Attach(inst)
		o.mu.Lock()
		o.instances[id] = inst
		o.mu.Unlock()

		if err := inst.Init(ctx); err != nil {
			o.cfg.logger.Warn("persisted instance failed to initialize", "instance_id", id, "err", err)
			continue
		}
		if o.autostart(snap, sum.InteractionID) {
			// a start failure is already reported through the status event
			_ = inst.Start(ctx)
		}
	}
	o.syncRoutes()
	o.cfg.logger.Info("state restored", "instances", len(ids), "routes", len(snap.Routes))
}

// autostart reports whether a member of interactionID should be running:
// standalone instances always are, members only while their interaction is enabled.
func (o *Orchestrator) autostart(st *domain.AppState, interactionID string) bool {
	if interactionID == "" {
		return true
	}
	ia, ok := st.Interactions[interactionID]
	return ok && ia.Enabled
}

func (o *Orchestrator) instanceOptions(interactionID string, extra ...instance.Option) []instance.Option {
	opts := []instance.Option{
		instance.WithLogger(o.cfg.logger),
		instance.WithPublisher(o.hub),
		instance.WithMetrics(o.cfg.metrics),
		instance.WithInteraction(interactionID),
		instance.WithRuntimeHook(o.store.UpdateRuntime),
	}
	if o.cfg.outboxSize > 0 {
		opts = append(opts, instance.WithOutboxSize(o.cfg.outboxSize))
	}
	return append(opts, extra...)
}

func (o *Orchestrator) startWatch() error {
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := o.loader.Watch(ctx)
	if err != nil {
		cancel()
		return err
	}
	o.watchCancel = cancel
	o.watchDone = make(chan struct{})

	go func() {
		defer close(o.watchDone)
		for ev := range ch {
			payload := map[string]any{"typeName": ev.TypeName, "path": ev.Path}
			if ev.Err != nil {
				payload["err"] = ev.Err.Error()
			}
			o.hub.Publish(domain.Event{
				Source:  "loader",
				Name:    domain.EventModuleReload,
				Kind:    domain.KindTrigger,
				Payload: payload,
				Time:    time.Now(),
			})
		}
	}()
	return nil
}

// live returns the running instance with id.
func (o *Orchestrator) live(id string) (*instance.Instance, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inst, ok := o.instances[id]
	return inst, ok
}

func (o *Orchestrator) checkOpen() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	return nil
}

// syncRoutes pushes the persisted routing table to the router.
func (o *Orchestrator) syncRoutes() {
	o.routesMu.Lock()
	defer o.routesMu.Unlock()

	snap := o.store.Snapshot()
	routes := make([]domain.Route, 0, len(snap.Routes))
	for _, r := range snap.Routes {
		routes = append(routes, r)
	}
	o.router.SetRoutes(routes)
}

// ListModules returns the manifests of every registered module type.
func (o *Orchestrator) ListModules() []domain.Manifest {
	return o.registry.List()
}

// Module returns the manifest registered for typeName.
func (o *Orchestrator) Module(typeName string) (domain.Manifest, error) {
	f, err := o.registry.Get(typeName)
	if err != nil {
		return domain.Manifest{}, err
	}
	return f.Manifest, nil
}

// Reload reads typeName's manifest again. Existing instances keep the version
// they were created with; new instances use the reloaded one.
func (o *Orchestrator) Reload(ctx context.Context, typeName string) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	return o.loader.Reload(ctx, typeName)
}

// Subscribe streams every status and output event published from now on. The
// channel is closed when ctx is done or on Shutdown.
func (o *Orchestrator) Subscribe(ctx context.Context) <-chan domain.Event {
	return o.hub.Subscribe(ctx, 0)
}

// Settings returns a copy of the free-form application settings.
func (o *Orchestrator) Settings() map[string]any {
	return o.store.Settings()
}

// UpdateSettings merges partial into the settings; a nil value deletes a key.
func (o *Orchestrator) UpdateSettings(ctx context.Context, partial map[string]any) error {
	if err := o.checkOpen(); err != nil {
		return err
	}
	return o.store.UpdateSettings(ctx, partial)
}

// Snapshot returns a deep copy of the persisted state.
func (o *Orchestrator) Snapshot() *domain.AppState {
	return o.store.Snapshot()
}

// Quarantined reports where an unreadable state found at startup was moved.
func (o *Orchestrator) Quarantined() string {
	return o.store.Quarantined()
}

// Shutdown stops watching manifests, detaches routing, destroys every live
// instance and flushes the state one last time. Persisted state is kept.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.graph.Lock()
	defer o.graph.Unlock()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	live := make([]*instance.Instance, 0, len(o.instances))
	for _, inst := range o.instances {
		live = append(live, inst)
	}
	o.instances = make(map[string]*instance.Instance)
	o.mu.Unlock()

	if o.watchCancel != nil {
		o.watchCancel()
		<-o.watchDone
	}

	o.router.Close()

	var errs []error
	for _, inst := range live {
		if err := inst.Destroy(ctx); err != nil && !errors.Is(err, domain.ErrInstanceDestroyed) {
			o.cfg.logger.Warn("instance did not shut down cleanly", "instance_id", inst.ID(), "err", err)
			errs = append(errs, err)
		}
	}

	if err := o.store.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	o.hub.Close()
	o.cfg.logger.Info("runtime shut down", "instances", len(live))
	return errors.Join(errs...)
}
