package instance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/events"
	"github.com/aretw0/interplay/pkg/instance"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/aretw0/interplay/pkg/registry"
	"github.com/aretw0/interplay/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter counts lifecycle calls and simulated open resources.
type fakeAdapter struct {
	mu        sync.Mutex
	cfg       domain.ModuleConfig
	starts    int
	stops     int
	closed    bool
	resources int
	emit      ports.Emitter
	handled   []domain.Event

	failStart     error
	panicStart    bool
	rejectLevel   string
	configureSeen int
}

func (f *fakeAdapter) Configure(cfg domain.ModuleConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configureSeen++
	if f.rejectLevel != "" && cfg["level"] == f.rejectLevel {
		return errors.New("level not supported by this device")
	}
	f.cfg = cfg
	return nil
}

func (f *fakeAdapter) Start(ctx context.Context, emit ports.Emitter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicStart {
		panic("driver exploded")
	}
	if f.failStart != nil {
		return f.failStart
	}
	f.starts++
	f.resources++
	f.emit = emit
	return nil
}

func (f *fakeAdapter) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resources > 0 {
		f.resources--
	}
	f.stops++
	return nil
}

func (f *fakeAdapter) Handle(ctx context.Context, input string, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled = append(f.handled, ev)
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeAdapter) level() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg["level"]
}

// liveAdapter applies "level" changes without a restart.
type liveAdapter struct {
	fakeAdapter
}

func (l *liveAdapter) Reconfigure(old, new domain.ModuleConfig) (bool, error) {
	if old["mode"] != new["mode"] {
		return true, nil
	}
	l.mu.Lock()
	l.cfg = new
	l.mu.Unlock()
	return false, nil
}

func testManifest() domain.Manifest {
	return domain.Manifest{
		TypeName: "fake",
		Version:  "1.0.0",
		ConfigSchema: domain.ConfigSchema{
			Required: []string{"level"},
			Properties: map[string]domain.Property{
				"level": {Type: "string"},
				"mode":  {Type: "string", Default: "normal"},
			},
		},
		Events: []domain.EventDecl{
			{Name: "in", Direction: domain.DirectionInput},
			{Name: "out", Direction: domain.DirectionOutput, Kind: domain.KindTrigger},
			{Name: "value", Direction: domain.DirectionOutput, Kind: domain.KindStream},
		},
	}
}

func newFactory(t *testing.T, a ports.Adapter) *registry.Factory {
	t.Helper()
	m := testManifest()
	s, err := schema.Compile(m.ConfigSchema)
	require.NoError(t, err)
	return &registry.Factory{Manifest: m, Schema: s, New: func() ports.Adapter { return a }, Source: "test"}
}

func newRunning(t *testing.T, a ports.Adapter, opts ...instance.Option) *instance.Instance {
	t.Helper()
	inst := instance.New("inst-1", newFactory(t, a), domain.ModuleConfig{"level": "info"}, opts...)
	require.NoError(t, inst.Init(context.Background()))
	require.NoError(t, inst.Start(context.Background()))
	return inst
}

func TestInit_AppliesDefaults(t *testing.T) {
	a := &fakeAdapter{}
	inst := instance.New("inst-1", newFactory(t, a), domain.ModuleConfig{"level": "info"})
	require.NoError(t, inst.Init(context.Background()))

	assert.Equal(t, domain.StateIdle, inst.State())
	assert.Equal(t, "normal", inst.Config()["mode"])
}

func TestInit_InvalidConfigFails(t *testing.T) {
	pub := events.NewMemoryPublisher()
	inst := instance.New("inst-1", newFactory(t, &fakeAdapter{}), domain.ModuleConfig{}, instance.WithPublisher(pub))

	err := inst.Init(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.Equal(t, domain.StateFailed, inst.State())

	statuses := pub.Named(domain.EventStatus)
	require.NotEmpty(t, statuses)
	assert.Equal(t, string(domain.StatusFailed), statuses[len(statuses)-1].Payload["status"])
}

func TestStop_OnIdleIsNoop(t *testing.T) {
	a := &fakeAdapter{}
	inst := instance.New("inst-1", newFactory(t, a), domain.ModuleConfig{"level": "info"})
	require.NoError(t, inst.Init(context.Background()))

	require.NoError(t, inst.Stop(context.Background()))
	assert.Equal(t, domain.StateIdle, inst.State())
	assert.Equal(t, 0, a.stops)
}

func TestStartStopStart_NoLeaks(t *testing.T) {
	a := &fakeAdapter{}
	inst := newRunning(t, a)
	ctx := context.Background()

	require.NoError(t, inst.Stop(ctx))
	assert.Equal(t, domain.StateIdle, inst.State())
	assert.Equal(t, 0, a.resources)

	require.NoError(t, inst.Start(ctx))
	assert.Equal(t, domain.StateRunning, inst.State())
	assert.Equal(t, 1, a.resources, "exactly one resource held after restart")
	assert.Equal(t, 2, a.starts)

	// starting twice is a no-op
	require.NoError(t, inst.Start(ctx))
	assert.Equal(t, 2, a.starts)
}

func TestStart_FailureIsResourceError(t *testing.T) {
	pub := events.NewMemoryPublisher()
	a := &fakeAdapter{failStart: errors.New("address already in use")}
	inst := instance.New("inst-1", newFactory(t, a), domain.ModuleConfig{"level": "info"}, instance.WithPublisher(pub))
	require.NoError(t, inst.Init(context.Background()))

	err := inst.Start(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsResource(err))
	assert.Equal(t, domain.StateFailed, inst.State())
	assert.ErrorIs(t, inst.Err(), a.failStart)

	last := pub.Named(domain.EventStatus)
	assert.Equal(t, string(domain.StatusFailed), last[len(last)-1].Payload["status"])

	// failed is terminal
	assert.ErrorIs(t, inst.Start(context.Background()), domain.ErrInvalidState)
}

func TestStart_PanicIsContained(t *testing.T) {
	a := &fakeAdapter{panicStart: true}
	inst := instance.New("inst-1", newFactory(t, a), domain.ModuleConfig{"level": "info"})
	require.NoError(t, inst.Init(context.Background()))

	var err error
	assert.NotPanics(t, func() { err = inst.Start(context.Background()) })
	assert.True(t, domain.IsResource(err))
	assert.Equal(t, domain.StateFailed, inst.State())
}

func TestUpdateConfig_SchemaFailureKeepsConfig(t *testing.T) {
	a := &fakeAdapter{}
	inst := newRunning(t, a)

	err := inst.UpdateConfig(context.Background(), domain.ModuleConfig{"level": 42})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	assert.Equal(t, "info", inst.Config()["level"])
	assert.Equal(t, "info", a.level())
	assert.Equal(t, domain.StateRunning, inst.State())
	assert.Equal(t, 1, a.starts, "no restart on schema failure")
}

func TestUpdateConfig_AdapterRejectsKeepsConfig(t *testing.T) {
	a := &fakeAdapter{rejectLevel: "trace"}
	inst := newRunning(t, a)

	err := inst.UpdateConfig(context.Background(), domain.ModuleConfig{"level": "trace"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	assert.Equal(t, "info", inst.Config()["level"])
	assert.Equal(t, "info", a.level())
	assert.Equal(t, domain.StateRunning, inst.State(), "restarted with the old config")
	assert.Equal(t, 1, a.resources)
}

func TestUpdateConfig_RestartPath(t *testing.T) {
	a := &fakeAdapter{}
	inst := newRunning(t, a)

	require.NoError(t, inst.UpdateConfig(context.Background(), domain.ModuleConfig{"level": "debug"}))
	assert.Equal(t, "debug", a.level())
	assert.Equal(t, 2, a.starts)
	assert.Equal(t, domain.StateRunning, inst.State())
}

func TestUpdateConfig_LiveReconfigure(t *testing.T) {
	a := &liveAdapter{}
	inst := newRunning(t, a)

	require.NoError(t, inst.UpdateConfig(context.Background(), domain.ModuleConfig{"level": "debug"}))
	assert.Equal(t, "debug", a.level())
	assert.Equal(t, 1, a.starts, "live change must not restart")

	require.NoError(t, inst.UpdateConfig(context.Background(), domain.ModuleConfig{"level": "debug", "mode": "fast"}))
	assert.Equal(t, 2, a.starts, "mode change asks for a restart")
}

func TestUpdateConfig_InvalidState(t *testing.T) {
	inst := instance.New("inst-1", newFactory(t, &fakeAdapter{}), domain.ModuleConfig{"level": "info"})
	err := inst.UpdateConfig(context.Background(), domain.ModuleConfig{"level": "debug"})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestDestroy_IsFinal(t *testing.T) {
	a := &fakeAdapter{}
	inst := newRunning(t, a)
	ctx := context.Background()

	require.NoError(t, inst.Destroy(ctx))
	assert.Equal(t, domain.StateDestroyed, inst.State())
	assert.True(t, a.closed)
	assert.Equal(t, 0, a.resources)

	assert.ErrorIs(t, inst.Start(ctx), domain.ErrInstanceDestroyed)
	assert.ErrorIs(t, inst.Stop(ctx), domain.ErrInstanceDestroyed)
	assert.ErrorIs(t, inst.Destroy(ctx), domain.ErrInstanceDestroyed)
	assert.ErrorIs(t, inst.UpdateConfig(ctx, domain.ModuleConfig{"level": "x"}), domain.ErrInstanceDestroyed)
	assert.ErrorIs(t, inst.Handle(ctx, "in", domain.Event{}), domain.ErrInstanceDestroyed)
}

func TestHandle(t *testing.T) {
	a := &fakeAdapter{}
	inst := instance.New("inst-1", newFactory(t, a), domain.ModuleConfig{"level": "info"})
	ctx := context.Background()
	require.NoError(t, inst.Init(ctx))

	assert.ErrorIs(t, inst.Handle(ctx, "in", domain.Event{}), domain.ErrNotRunning)

	require.NoError(t, inst.Start(ctx))
	require.NoError(t, inst.Handle(ctx, "in", domain.Event{Name: "out"}))
	assert.Len(t, a.handled, 1)

	err := inst.Handle(ctx, "nope", domain.Event{})
	assert.True(t, domain.IsValidation(err))
}

func TestEmit_AssignsSequence(t *testing.T) {
	a := &fakeAdapter{}
	inst := newRunning(t, a)

	require.NoError(t, a.emit.Emit("out", map[string]any{"n": 1}))
	require.NoError(t, a.emit.Emit("out", map[string]any{"n": 2}))
	assert.Error(t, a.emit.Emit("undeclared", nil))

	var got []domain.Event
	inst.Outbox().Close()
	inst.Outbox().Drain(context.Background(), func(ev domain.Event) { got = append(got, ev) })

	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, "inst-1", got[0].Source)
	assert.Equal(t, domain.KindTrigger, got[0].Kind)
}

func TestEmit_DropsWhenOutboxFull(t *testing.T) {
	a := &fakeAdapter{}
	newRunning(t, a, instance.WithOutboxSize(1))

	require.NoError(t, a.emit.Emit("out", nil))
	assert.ErrorIs(t, a.emit.Emit("out", nil), instance.ErrOutboxFull)
}

func TestEmit_AfterStopFails(t *testing.T) {
	a := &fakeAdapter{}
	inst := newRunning(t, a)
	emit := a.emit
	require.NoError(t, inst.Stop(context.Background()))

	assert.ErrorIs(t, emit.Emit("out", nil), domain.ErrNotRunning)
}

func TestRuntimeHook(t *testing.T) {
	a := &fakeAdapter{}
	var (
		mu  sync.Mutex
		got map[string]any
	)
	inst := newRunning(t, a, instance.WithRuntimeHook(func(id string, meta map[string]any) {
		mu.Lock()
		got = meta
		mu.Unlock()
	}))

	reporter, ok := a.emit.(ports.RuntimeReporter)
	require.True(t, ok, "emitter should accept runtime metadata")
	reporter.ReportRuntime(map[string]any{"frames": 10})
	reporter.ReportRuntime(map[string]any{"lastSeen": "now"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]any{"frames": 10, "lastSeen": "now"}, got)
	assert.Equal(t, 10, inst.Summary().Runtime["frames"])
}

func TestSummary(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	inst := instance.New("inst-9", newFactory(t, &fakeAdapter{}), domain.ModuleConfig{"level": "info"},
		instance.WithInteraction("ia"), instance.WithCreatedAt(created))

	s := inst.Summary()
	assert.Equal(t, "inst-9", s.ID)
	assert.Equal(t, "fake", s.TypeName)
	assert.Equal(t, "1.0.0", s.Version)
	assert.Equal(t, "ia", s.InteractionID)
	assert.Equal(t, created, s.CreatedAt)
}

func TestCheckConfig(t *testing.T) {
	f := newFactory(t, nil)
	var built []*fakeAdapter
	f.New = func() ports.Adapter {
		a := &fakeAdapter{rejectLevel: "trace"}
		built = append(built, a)
		return a
	}

	require.NoError(t, instance.CheckConfig("x", f, domain.ModuleConfig{"level": "info"}))

	err := instance.CheckConfig("x", f, domain.ModuleConfig{"level": "trace"})
	assert.True(t, domain.IsValidation(err), "adapter rejection: %v", err)

	err = instance.CheckConfig("x", f, domain.ModuleConfig{})
	assert.True(t, domain.IsValidation(err), "schema rejection: %v", err)

	require.Len(t, built, 3)
	for _, a := range built {
		assert.Zero(t, a.starts)
	}
	assert.True(t, built[0].closed)
	assert.Equal(t, 0, built[2].configureSeen, "schema failures never reach the adapter")
}
