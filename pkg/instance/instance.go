package instance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/aretw0/interplay/pkg/registry"
	"github.com/aretw0/interplay/pkg/schema"
)

// ErrOutboxFull is returned by Emit when a trigger event had to be dropped.
var ErrOutboxFull = errors.New("outbox full, event dropped")

// Instance is one live, configured copy of a module type.
//
// Lifecycle calls (Init, Start, Stop, Destroy, UpdateConfig) are serialized.
// Handle and Emit only read the current state and never wait for a lifecycle
// call to finish.
type Instance struct {
	id            string
	interactionID string
	createdAt     time.Time
	factory       *registry.Factory
	adapter       ports.Adapter
	outbox        *Outbox

	opMu sync.Mutex // serializes lifecycle operations

	mu        sync.RWMutex // guards the fields below
	state     domain.InstanceState
	rawConfig domain.ModuleConfig
	config    domain.ModuleConfig
	runtime   map[string]any
	lastErr   error
	runCancel context.CancelFunc

	seqMu sync.Mutex
	seq   map[string]uint64

	logger    *slog.Logger
	publisher ports.EventPublisher
	metrics   *observability.Metrics
	onRuntime func(id string, meta map[string]any)
}

// Option configures an Instance.
type Option func(*Instance)

// WithLogger configures a logger for the Instance.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Instance) { i.logger = logger }
}

// WithPublisher sets where status events go.
func WithPublisher(p ports.EventPublisher) Option {
	return func(i *Instance) { i.publisher = p }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Instance) { i.metrics = m }
}

// WithOutboxSize sets the trigger queue capacity.
func WithOutboxSize(n int) Option {
	return func(i *Instance) { i.outbox = NewOutbox(n) }
}

// WithInteraction records the interaction the instance belongs to.
func WithInteraction(id string) Option {
	return func(i *Instance) { i.interactionID = id }
}

// WithCreatedAt overrides the creation time, used when restoring persisted instances.
func WithCreatedAt(t time.Time) Option {
	return func(i *Instance) { i.createdAt = t }
}

// WithRuntime seeds runtime metadata, used when restoring persisted instances.
func WithRuntime(meta map[string]any) Option {
	return func(i *Instance) { i.runtime = domain.ClonePayload(meta) }
}

// WithRuntimeHook is called with a copy of the merged runtime metadata every
// time the adapter reports some.
func WithRuntimeHook(fn func(id string, meta map[string]any)) Option {
	return func(i *Instance) { i.onRuntime = fn }
}

type nopPublisher struct{}

func (nopPublisher) Publish(domain.Event) {}

// New creates an instance in the created state. The adapter is built from
// factory right away, so the instance stays bound to this factory even if the
// registry entry is later replaced.
func New(id string, factory *registry.Factory, cfg domain.ModuleConfig, opts ...Option) *Instance {
	i := &Instance{
		id:        id,
		createdAt: time.Now().UTC(),
		factory:   factory,
		adapter:   factory.New(),
		state:     domain.StateCreated,
		rawConfig: cfg.Clone(),
		seq:       make(map[string]uint64),
		logger:    logging.NewNop(),
		publisher: nopPublisher{},
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.outbox == nil {
		i.outbox = NewOutbox(DefaultOutboxSize)
	}
	i.logger = i.logger.With("instance_id", id, "type", factory.Manifest.TypeName)
	i.metrics.Transition("", domain.StateCreated)
	return i
}

// CheckConfig runs cfg through the schema of factory and the Configure of a
// throwaway adapter. No live instance is touched.
func CheckConfig(id string, factory *registry.Factory, cfg domain.ModuleConfig) error {
	scratch := &Instance{id: id, factory: factory, adapter: factory.New()}
	effective, err := scratch.validate(cfg)
	if err != nil {
		return err
	}
	err = scratch.configure(effective)
	if c, ok := scratch.adapter.(io.Closer); ok {
		_ = safeCall(c.Close)
	}
	return err
}

// ID returns the instance id.
func (i *Instance) ID() string { return i.id }

// TypeName returns the module type name.
func (i *Instance) TypeName() string { return i.factory.Manifest.TypeName }

// Manifest returns the manifest the instance was created from.
func (i *Instance) Manifest() domain.Manifest { return i.factory.Manifest }

// Factory returns the factory the instance was created from.
func (i *Instance) Factory() *registry.Factory { return i.factory }

// Adapter exposes the underlying adapter, mostly for tests and introspection.
func (i *Instance) Adapter() ports.Adapter { return i.adapter }

// Outbox returns the outbound queue drained by the router.
func (i *Instance) Outbox() *Outbox { return i.outbox }

// InteractionID returns the owning interaction, empty for standalone instances.
func (i *Instance) InteractionID() string { return i.interactionID }

// State returns the current lifecycle state.
func (i *Instance) State() domain.InstanceState {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Err returns the error that moved the instance to failed, if any.
func (i *Instance) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastErr
}

// Config returns a copy of the effective config (defaults applied). Before Init
// succeeds it returns the config the instance was created with.
func (i *Instance) Config() domain.ModuleConfig {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.config == nil {
		return i.rawConfig.Clone()
	}
	return i.config.Clone()
}

// Summary returns the persisted view of the instance.
func (i *Instance) Summary() domain.InstanceSummary {
	i.mu.RLock()
	defer i.mu.RUnlock()
	cfg := i.config
	if cfg == nil {
		cfg = i.rawConfig
	}
	return domain.InstanceSummary{
		ID:            i.id,
		TypeName:      i.factory.Manifest.TypeName,
		Version:       i.factory.Manifest.Version,
		InteractionID: i.interactionID,
		Config:        cfg.Clone(),
		Runtime:       domain.ClonePayload(i.runtime),
		CreatedAt:     i.createdAt,
	}
}

// Init validates the config against the manifest schema and configures the adapter.
func (i *Instance) Init(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	switch st := i.State(); st {
	case domain.StateDestroyed:
		return domain.ErrInstanceDestroyed
	case domain.StateCreated:
	default:
		return fmt.Errorf("%w: init from %s", domain.ErrInvalidState, st)
	}

	i.setState(domain.StateInitializing, nil)

	cfg, err := i.validate(i.rawConfig)
	if err == nil {
		err = i.configure(cfg)
	}
	if err != nil {
		i.setState(domain.StateFailed, err)
		return err
	}

	i.mu.Lock()
	i.config = cfg
	i.mu.Unlock()
	i.setState(domain.StateIdle, nil)
	return nil
}

// Start acquires the adapter's resources. Starting a running instance is a no-op.
// A failure moves the instance to failed and returns a *domain.ResourceError.
func (i *Instance) Start(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	switch st := i.State(); st {
	case domain.StateDestroyed:
		return domain.ErrInstanceDestroyed
	case domain.StateRunning:
		return nil
	case domain.StateIdle:
		return i.startLocked(ctx)
	default:
		return fmt.Errorf("%w: start from %s", domain.ErrInvalidState, st)
	}
}

func (i *Instance) startLocked(ctx context.Context) error {
	// the run context outlives the caller's request, it ends at Stop
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	err := safeCall(func() error {
		return i.adapter.Start(runCtx, &emitter{inst: i})
	})
	if err != nil {
		cancel()
		re := &domain.ResourceError{InstanceID: i.id, Op: "start", Err: err}
		i.logger.Error("instance failed to start", "err", err)
		i.setState(domain.StateFailed, re)
		return re
	}

	i.mu.Lock()
	i.runCancel = cancel
	i.mu.Unlock()
	i.setState(domain.StateRunning, nil)
	return nil
}

// Stop releases the adapter's resources. Stopping an instance that is not
// running is a no-op.
func (i *Instance) Stop(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	switch i.State() {
	case domain.StateDestroyed:
		return domain.ErrInstanceDestroyed
	case domain.StateRunning:
		return i.stopLocked(ctx)
	default:
		return nil
	}
}

func (i *Instance) stopLocked(ctx context.Context) error {
	i.setState(domain.StateStopping, nil)

	err := safeCall(func() error { return i.adapter.Stop(ctx) })

	i.mu.Lock()
	cancel := i.runCancel
	i.runCancel = nil
	i.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	if err != nil {
		re := &domain.ResourceError{InstanceID: i.id, Op: "stop", Err: err}
		i.logger.Error("instance failed to stop cleanly", "err", err)
		i.setState(domain.StateFailed, re)
		return re
	}
	i.setState(domain.StateIdle, nil)
	return nil
}

// Destroy stops the instance if needed, releases the adapter and closes the
// outbox. Every later call on the instance returns domain.ErrInstanceDestroyed.
func (i *Instance) Destroy(ctx context.Context) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	if i.State() == domain.StateDestroyed {
		return domain.ErrInstanceDestroyed
	}

	var errs []error
	if i.State() == domain.StateRunning {
		if err := i.stopLocked(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := i.adapter.(io.Closer); ok {
		if err := safeCall(c.Close); err != nil {
			i.logger.Warn("adapter close failed", "err", err)
			errs = append(errs, &domain.ResourceError{InstanceID: i.id, Op: "close", Err: err})
		}
	}
	i.outbox.Close()
	i.setState(domain.StateDestroyed, nil)
	return errors.Join(errs...)
}

// UpdateConfig replaces the instance config. It is allowed only while idle or
// running. On any failure the previous config stays in effect and, if the
// instance was running, it keeps running with it.
func (i *Instance) UpdateConfig(ctx context.Context, newCfg domain.ModuleConfig) error {
	i.opMu.Lock()
	defer i.opMu.Unlock()

	st := i.State()
	switch st {
	case domain.StateDestroyed:
		return domain.ErrInstanceDestroyed
	case domain.StateIdle, domain.StateRunning:
	default:
		return fmt.Errorf("%w: update config in %s", domain.ErrInvalidState, st)
	}

	cfg, err := i.validate(newCfg)
	if err != nil {
		return err
	}
	old := i.Config()

	if r, ok := i.adapter.(ports.Reconfigurer); ok {
		var restart bool
		err := safeCall(func() error {
			var rerr error
			restart, rerr = r.Reconfigure(old, cfg)
			return rerr
		})
		if err != nil {
			return &domain.ValidationError{Subject: "config", ID: i.id, Reason: err.Error()}
		}
		if !restart {
			i.commitConfig(newCfg, cfg)
			i.logger.Debug("config applied live")
			return nil
		}
	}

	wasRunning := st == domain.StateRunning
	if wasRunning {
		if err := i.stopLocked(ctx); err != nil {
			return err
		}
	}

	if cerr := i.configure(cfg); cerr != nil {
		// the adapter kept its previous config; bring it back as it was
		if wasRunning {
			if serr := i.startLocked(ctx); serr != nil {
				return errors.Join(cerr, serr)
			}
		}
		return cerr
	}
	i.commitConfig(newCfg, cfg)

	if wasRunning {
		return i.startLocked(ctx)
	}
	return nil
}

// Handle delivers an input event to the adapter.
func (i *Instance) Handle(ctx context.Context, input string, ev domain.Event) error {
	switch i.State() {
	case domain.StateDestroyed:
		return domain.ErrInstanceDestroyed
	case domain.StateRunning:
	default:
		return domain.ErrNotRunning
	}
	if _, ok := i.factory.Manifest.Event(input, domain.DirectionInput); !ok {
		return domain.NewValidationError("input", i.id, "%s does not declare input %q", i.TypeName(), input)
	}
	return i.adapter.Handle(ctx, input, ev)
}

func (i *Instance) commitConfig(raw, effective domain.ModuleConfig) {
	i.mu.Lock()
	i.rawConfig = raw.Clone()
	i.config = effective
	i.mu.Unlock()
}

func (i *Instance) validate(cfg domain.ModuleConfig) (domain.ModuleConfig, error) {
	out, err := i.factory.Schema.Apply(cfg)
	if err != nil {
		return nil, &domain.ValidationError{
			Subject: "config",
			ID:      i.id,
			Fields:  fieldErrors(err),
		}
	}
	return out, nil
}

func (i *Instance) configure(cfg domain.ModuleConfig) error {
	if err := safeCall(func() error { return i.adapter.Configure(cfg.Clone()) }); err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return err
		}
		return &domain.ValidationError{Subject: "config", ID: i.id, Reason: err.Error()}
	}
	return nil
}

func (i *Instance) setState(to domain.InstanceState, err error) {
	i.mu.Lock()
	from := i.state
	i.state = to
	if err != nil {
		i.lastErr = err
	} else if to != domain.StateFailed {
		i.lastErr = nil
	}
	i.mu.Unlock()

	i.metrics.Transition(from, to)
	i.logger.Debug("instance state changed", "from", from, "to", to)
	i.publisher.Publish(domain.NewStatusEvent(i.id, to, i.statusFor(to), err))
}

// statusFor maps a lifecycle state to the coarse status shown to operators.
// A running module without inputs is a pure source waiting on the outside world.
func (i *Instance) statusFor(st domain.InstanceState) domain.Status {
	switch st {
	case domain.StateRunning:
		if len(i.factory.Manifest.Inputs()) == 0 {
			return domain.StatusListening
		}
		return domain.StatusRunning
	case domain.StateFailed:
		return domain.StatusFailed
	case domain.StateDestroyed:
		return domain.StatusDestroyed
	default:
		return domain.StatusStopped
	}
}

func (i *Instance) nextSeq(event string) uint64 {
	i.seqMu.Lock()
	defer i.seqMu.Unlock()
	i.seq[event]++
	return i.seq[event]
}

func (i *Instance) reportRuntime(meta map[string]any) {
	i.mu.Lock()
	if i.runtime == nil {
		i.runtime = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		i.runtime[k] = v
	}
	snapshot := domain.ClonePayload(i.runtime)
	i.mu.Unlock()

	if i.onRuntime != nil {
		i.onRuntime(i.id, snapshot)
	}
}

// safeCall runs fn and converts a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func fieldErrors(err error) []error {
	if fields := schema.ValidationErrors(err); fields != nil {
		return fields
	}
	return []error{err}
}
