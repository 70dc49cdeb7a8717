package interplay_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/interplay"
	"github.com/aretw0/interplay/pkg/adapters/memory"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/clock"
	"github.com/aretw0/interplay/pkg/modules/logout"
	"github.com/aretw0/interplay/pkg/modules/process"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at1430 = time.Date(2026, 3, 1, 14, 30, 5, 0, time.Local)

func newRuntime(t *testing.T, backend ports.StateBackend, opts ...interplay.Option) *interplay.Orchestrator {
	t.Helper()
	opts = append([]interplay.Option{interplay.WithDebounce(10 * time.Millisecond)}, opts...)
	rt, err := interplay.New(context.Background(), backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Shutdown(context.Background()) })
	return rt
}

// clockConfig never ticks on its own during a test; Tick drives it.
func clockConfig(target string) domain.ModuleConfig {
	return domain.ModuleConfig{"targetTime": target, "tickInterval": "1h"}
}

func clockOf(t *testing.T, rt *interplay.Orchestrator, id string) *clock.Adapter {
	t.Helper()
	a, err := rt.Adapter(id)
	require.NoError(t, err)
	return a.(*clock.Adapter)
}

func logOf(t *testing.T, rt *interplay.Orchestrator, id string) *logout.Adapter {
	t.Helper()
	a, err := rt.Adapter(id)
	require.NoError(t, err)
	return a.(*logout.Adapter)
}

func TestScenario_ClockTriggersLog(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	clockID, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	logID, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)
	_, err = rt.CreateRoute(ctx, clockID, "trigger", logID, interplay.ToInput("log"))
	require.NoError(t, err)

	clockOf(t, rt, clockID).Tick(at1430)

	sink := logOf(t, rt, logID)
	require.Eventually(t, func() bool { return len(sink.Received()) == 1 }, time.Second, 5*time.Millisecond)
	got := sink.Received()[0]
	assert.Equal(t, "14:30", got.Payload["targetTime"])
	assert.Equal(t, clockID, got.Source)

	// same day, same minute: the trigger does not fire twice
	clockOf(t, rt, clockID).Tick(at1430.Add(10 * time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.Received(), 1)
}

func TestScenario_RouteToOnlyInput(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	clockID, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	logID, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)
	routeID, err := rt.CreateRoute(ctx, clockID, "trigger", logID)
	require.NoError(t, err)

	routes := rt.ListRoutes()
	require.Len(t, routes, 1)
	assert.Equal(t, routeID, routes[0].ID)
	assert.Equal(t, "log", routes[0].TargetInput)

	clockOf(t, rt, clockID).Tick(at1430)

	sink := logOf(t, rt, logID)
	require.Eventually(t, func() bool { return len(sink.Received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "14:30", sink.Received()[0].Payload["targetTime"])
}

func TestCreateRoute_InputResolution(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore(), interplay.WithManifest(domain.Manifest{
		TypeName: "mixer",
		Version:  "1.0.0",
		Adapter:  "log-output",
		ConfigSchema: domain.ConfigSchema{Properties: map[string]domain.Property{
			"level": {Type: "string", Default: "info"},
		}},
		Events: []domain.EventDecl{
			{Name: "log", Direction: domain.DirectionInput},
			{Name: "trigger", Direction: domain.DirectionInput},
			{Name: "aux", Direction: domain.DirectionInput},
		},
	}))

	clockID, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	mixerID, err := rt.CreateInstance(ctx, "mixer", nil)
	require.NoError(t, err)
	counterID, err := rt.CreateInstance(ctx, "frame-counter", nil, interplay.Stopped())
	require.NoError(t, err)

	// an input named like the event wins
	_, err = rt.CreateRoute(ctx, clockID, "trigger", mixerID)
	require.NoError(t, err)
	assert.Equal(t, "trigger", rt.ListRoutes()[0].TargetInput)

	// several inputs and none named like the event: the caller must pick one
	_, err = rt.CreateRoute(ctx, counterID, "frame", mixerID)
	assert.True(t, domain.IsValidation(err), "got %v", err)
	assert.Len(t, rt.ListRoutes(), 1)
}

func TestScenario_ClockRunsTool(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx := context.Background()
	tools := map[string]process.Tool{
		"stamp": {Name: "stamp", Command: "sh", Args: []string{"-c", `printf 'fired at %s' "$INTERPLAY_ARG_TARGETTIME"`}},
	}
	rt := newRuntime(t, memory.NewStore(), interplay.WithTools(tools, t.TempDir()))

	clockID, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	procID, err := rt.CreateInstance(ctx, "process-output", domain.ModuleConfig{"tool": "stamp"})
	require.NoError(t, err)
	logID, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)
	_, err = rt.CreateRoute(ctx, clockID, "trigger", procID, interplay.ToInput("run"))
	require.NoError(t, err)
	_, err = rt.CreateRoute(ctx, procID, "result", logID, interplay.ToInput("log"))
	require.NoError(t, err)

	_, err = rt.CreateInstance(ctx, "process-output", domain.ModuleConfig{"tool": "rm"})
	assert.True(t, domain.IsValidation(err), "unknown tool: %v", err)

	clockOf(t, rt, clockID).Tick(at1430)

	sink := logOf(t, rt, logID)
	require.Eventually(t, func() bool { return len(sink.Received()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fired at 14:30", sink.Received()[0].Payload["output"])
}

func TestCreateInstance_Validation(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	rt := newRuntime(t, backend)

	_, err := rt.CreateInstance(ctx, "no-such-type", nil)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, domain.ErrModuleNotFound)

	_, err = rt.CreateInstance(ctx, "clock-input", domain.ModuleConfig{})
	assert.True(t, domain.IsValidation(err), "targetTime is required")

	_, err = rt.CreateInstance(ctx, "clock-input", clockConfig("noon"))
	assert.True(t, domain.IsValidation(err), "the adapter rejects the format")

	_, err = rt.CreateInstance(ctx, "log-output", nil, interplay.InInteraction("missing"))
	assert.ErrorIs(t, err, domain.ErrInteractionNotFound)

	assert.Empty(t, rt.ListInstances())
	assert.Zero(t, backend.Saves(), "rejected creations are never persisted")
}

func TestUpdateInstanceConfig_FailureKeepsLiveConfig(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	id, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	before := clockOf(t, rt, id)

	err = rt.UpdateInstanceConfig(ctx, id, domain.ModuleConfig{"targetTime": "25:99"})
	assert.True(t, domain.IsValidation(err), "got %v", err)
	err = rt.UpdateInstanceConfig(ctx, id, domain.ModuleConfig{"tickInterval": true})
	assert.True(t, domain.IsValidation(err), "got %v", err)

	info, err := rt.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, "14:30", info.Config["targetTime"])
	assert.Equal(t, domain.StateRunning, info.State)
	assert.Equal(t, "14:30", rt.Snapshot().Instances[id].Config["targetTime"])

	require.NoError(t, rt.UpdateInstanceConfig(ctx, id, domain.ModuleConfig{"targetTime": "09:00"}))
	info, err = rt.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, "09:00", info.Config["targetTime"])
	assert.Equal(t, domain.StateRunning, info.State)
	assert.Equal(t, "09:00", rt.Snapshot().Instances[id].Config["targetTime"])
	assert.Same(t, before, clockOf(t, rt, id), "a new target time applies live")
}

func TestCreateRoute_Validation(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	clockID, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	logID, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)
	ia, err := rt.CreateInteraction(ctx, "show", true)
	require.NoError(t, err)
	memberID, err := rt.CreateInstance(ctx, "log-output", nil, interplay.InInteraction(ia))
	require.NoError(t, err)

	cases := map[string]func() (string, error){
		"undeclared output":     func() (string, error) { return rt.CreateRoute(ctx, clockID, "nope", logID, interplay.ToInput("log")) },
		"undeclared input":      func() (string, error) { return rt.CreateRoute(ctx, clockID, "trigger", logID, interplay.ToInput("nope")) },
		"unknown target":        func() (string, error) { return rt.CreateRoute(ctx, clockID, "trigger", "ghost", interplay.ToInput("log")) },
		"self route":            func() (string, error) { return rt.CreateRoute(ctx, clockID, "trigger", clockID) },
		"across interactions":   func() (string, error) { return rt.CreateRoute(ctx, clockID, "trigger", memberID, interplay.ToInput("log")) },
		"malformed condition": func() (string, error) {
			return rt.CreateRoute(ctx, clockID, "trigger", logID, interplay.ToInput("log"), interplay.When(domain.Condition{Field: "x", Op: "like"}))
		},
	}
	for name, create := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := create()
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}
	assert.Empty(t, rt.ListRoutes())
}

func TestCreateRoute_ReferencingDeletedInstance(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	rt := newRuntime(t, backend)

	src, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	dst, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)
	require.NoError(t, rt.DestroyInstance(ctx, dst))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rt.CreateRoute(ctx, src, "trigger", dst, interplay.ToInput("log"))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.True(t, domain.IsValidation(err), "got %v", err)
		assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	}
	assert.Empty(t, rt.ListRoutes())

	persisted, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted.Routes)
}

func TestCreateRoute_RacingDestroyLeavesNoDanglingRoute(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	src, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	dst, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rt.CreateRoute(ctx, src, "trigger", dst, interplay.ToInput("log"))
			if err != nil {
				assert.True(t, domain.IsValidation(err), "got %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, rt.DestroyInstance(ctx, dst))
	}()
	wg.Wait()

	assert.Empty(t, rt.ListRoutes())
	assert.Empty(t, rt.Snapshot().Routes)
}

func TestDestroyInstance(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	src, err := rt.CreateInstance(ctx, "clock-input", clockConfig("14:30"))
	require.NoError(t, err)
	dst, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)
	_, err = rt.CreateRoute(ctx, src, "trigger", dst, interplay.ToInput("log"))
	require.NoError(t, err)

	require.NoError(t, rt.DestroyInstance(ctx, src))
	assert.Empty(t, rt.ListRoutes())
	_, err = rt.Instance(src)
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
	assert.ErrorIs(t, rt.DestroyInstance(ctx, src), domain.ErrInstanceNotFound)
	assert.ErrorIs(t, rt.StartInstance(ctx, src), domain.ErrInstanceNotFound)
}

func TestStartStopInstance(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	id, err := rt.CreateInstance(ctx, "log-output", nil, interplay.Stopped())
	require.NoError(t, err)
	info, err := rt.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateIdle, info.State)

	require.NoError(t, rt.StopInstance(ctx, id), "stopping an idle instance is a no-op")
	require.NoError(t, rt.StartInstance(ctx, id))
	require.NoError(t, rt.StartInstance(ctx, id))
	info, _ = rt.Instance(id)
	assert.Equal(t, domain.StateRunning, info.State)
	require.NoError(t, rt.StopInstance(ctx, id))
	info, _ = rt.Instance(id)
	assert.Equal(t, domain.StateIdle, info.State)
}

func TestCreateInstance_StartFailureIsReported(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())
	sub := rt.Subscribe(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	id, err := rt.CreateInstance(ctx, "http-input", domain.ModuleConfig{"port": port})
	require.Error(t, err)
	assert.True(t, domain.IsResource(err), "got %v", err)
	require.NotEmpty(t, id)

	info, err := rt.Instance(id)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, info.State)
	assert.NotEmpty(t, info.Error)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Name == domain.EventStatus && ev.Source == id && ev.Payload["status"] == string(domain.StatusFailed) {
				assert.NotEmpty(t, ev.Payload["err"])
				require.NoError(t, rt.DestroyInstance(ctx, id))
				return
			}
		case <-deadline:
			t.Fatal("no failed status event")
		}
	}
}

func TestRestoreAfterRestart(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()

	first, err := interplay.New(ctx, backend)
	require.NoError(t, err)
	ia, err := first.CreateInteraction(ctx, "afternoon", true)
	require.NoError(t, err)
	clockID, err := first.CreateInstance(ctx, "clock-input", clockConfig("14:30"), interplay.InInteraction(ia))
	require.NoError(t, err)
	logID, err := first.CreateInstance(ctx, "log-output", nil, interplay.InInteraction(ia))
	require.NoError(t, err)
	idleID, err := first.CreateInstance(ctx, "frame-counter", nil, interplay.Stopped())
	require.NoError(t, err)
	_, err = first.CreateRoute(ctx, clockID, "trigger", logID, interplay.ToInput("log"))
	require.NoError(t, err)
	require.NoError(t, first.Shutdown(ctx))

	_, err = first.CreateInstance(ctx, "log-output", nil)
	assert.ErrorIs(t, err, interplay.ErrClosed)

	rt := newRuntime(t, backend)
	assert.Len(t, rt.ListInstances(), 3)
	assert.Len(t, rt.ListRoutes(), 1)
	interactions := rt.ListInteractions(ctx)
	require.Len(t, interactions, 1)
	assert.ElementsMatch(t, []string{clockID, logID}, interactions[0].InstanceIDs)

	info, err := rt.Instance(clockID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, info.State)
	assert.Equal(t, "14:30", info.Config["targetTime"])
	info, err = rt.Instance(idleID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, info.State, "standalone instances come back running")

	clockOf(t, rt, clockID).Tick(at1430)
	sink := logOf(t, rt, logID)
	require.Eventually(t, func() bool { return len(sink.Received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRestore_CorruptStateStartsEmpty(t *testing.T) {
	backend := memory.NewStore()
	backend.SetRaw([]byte(`{"version": 1, "instances": {`))

	rt := newRuntime(t, backend)
	assert.Empty(t, rt.ListInstances())
	assert.NotEmpty(t, rt.Quarantined())
	assert.Len(t, backend.Quarantined(), 1)
}

func TestEnableInteraction(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	ia, err := rt.CreateInteraction(ctx, "night", false)
	require.NoError(t, err)
	id, err := rt.CreateInstance(ctx, "log-output", nil, interplay.InInteraction(ia))
	require.NoError(t, err)

	info, _ := rt.Instance(id)
	assert.Equal(t, domain.StateIdle, info.State, "members of a disabled interaction start idle")

	require.NoError(t, rt.EnableInteraction(ctx, ia, true))
	info, _ = rt.Instance(id)
	assert.Equal(t, domain.StateRunning, info.State)

	require.NoError(t, rt.EnableInteraction(ctx, ia, false))
	info, _ = rt.Instance(id)
	assert.Equal(t, domain.StateIdle, info.State)

	require.NoError(t, rt.DeleteInteraction(ctx, ia))
	assert.Empty(t, rt.ListInstances())
	assert.Empty(t, rt.ListInteractions(ctx))
}

func showSpec(target string) []domain.InteractionSpec {
	return []domain.InteractionSpec{{
		ID:      "show",
		Name:    "Show",
		Enabled: true,
		Instances: []domain.InstanceSpec{
			{ID: "clk", TypeName: "clock-input", Config: clockConfig(target)},
			{ID: "log", TypeName: "log-output"},
		},
		Routes: []domain.Route{
			{ID: "r1", SourceInstanceID: "clk", SourceEvent: "trigger", TargetInstanceID: "log", TargetInput: "log"},
		},
	}}
}

func TestSaveInteractions(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	standalone, err := rt.CreateInstance(ctx, "frame-counter", nil, interplay.Stopped())
	require.NoError(t, err)

	require.NoError(t, rt.SaveInteractions(ctx, showSpec("14:30")))
	interactions := rt.ListInteractions(ctx)
	require.Len(t, interactions, 1)
	assert.Equal(t, []string{"clk", "log"}, interactions[0].InstanceIDs)
	assert.Equal(t, []string{"r1"}, interactions[0].RouteIDs)
	info, err := rt.Instance("clk")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, info.State)

	clk, sink := clockOf(t, rt, "clk"), logOf(t, rt, "log")

	// a config change is applied in place
	require.NoError(t, rt.SaveInteractions(ctx, showSpec("15:00")))
	assert.Same(t, clk, clockOf(t, rt, "clk"))
	assert.Same(t, sink, logOf(t, rt, "log"))
	info, _ = rt.Instance("clk")
	assert.Equal(t, "15:00", info.Config["targetTime"])

	clk.Tick(time.Date(2026, 3, 1, 15, 0, 0, 0, time.Local))
	require.Eventually(t, func() bool { return len(sink.Received()) == 1 }, time.Second, 5*time.Millisecond)

	// invalid graphs change nothing
	bad := showSpec("15:00")
	bad[0].Routes[0].TargetInput = "missing"
	assert.True(t, domain.IsValidation(rt.SaveInteractions(ctx, bad)))
	bad = showSpec("15:00")
	bad[0].Instances = append(bad[0].Instances, domain.InstanceSpec{ID: "clk2", TypeName: "clock-input", Config: clockConfig("bad")})
	assert.True(t, domain.IsValidation(rt.SaveInteractions(ctx, bad)))
	bad = showSpec("15:00")
	bad[0].Routes[0].TargetInstanceID = standalone
	assert.True(t, domain.IsValidation(rt.SaveInteractions(ctx, bad)))
	assert.Len(t, rt.ListInstances(), 3)
	assert.Same(t, sink, logOf(t, rt, "log"))

	// an adapter rejecting the new config of an existing member leaves the whole graph as it was
	bad = showSpec("99:99")
	bad[0].Name = "Renamed"
	bad[0].Routes = nil
	assert.True(t, domain.IsValidation(rt.SaveInteractions(ctx, bad)))
	interactions = rt.ListInteractions(ctx)
	require.Len(t, interactions, 1)
	assert.Equal(t, "Show", interactions[0].Name)
	assert.Equal(t, []string{"r1"}, interactions[0].RouteIDs)
	assert.Len(t, rt.Snapshot().Routes, 1)
	info, _ = rt.Instance("clk")
	assert.Equal(t, "15:00", info.Config["targetTime"])
	assert.Equal(t, domain.StateRunning, info.State)

	// an empty graph removes every interaction but keeps standalone instances
	require.NoError(t, rt.SaveInteractions(ctx, nil))
	assert.Empty(t, rt.ListInteractions(ctx))
	assert.Empty(t, rt.ListRoutes())
	instances := rt.ListInstances()
	require.Len(t, instances, 1)
	assert.Equal(t, standalone, instances[0].ID)
}

const pulseManifest = `{
  "typeName": "pulse",
  "version": "%s",
  "adapter": "frame-counter",
  "configSchema": {
    "properties": {
      "fps": {"type": "int", "default": %d},
      "universe": {"type": "int", "default": 1}
    }
  },
  "events": [
    {"name": "frame", "direction": "output", "kind": "stream"},
    {"name": "reset", "direction": "input"}
  ]
}`

func writePulse(t *testing.T, dir, version string, fps int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pulse"), 0o755))
	data := []byte(fmt.Sprintf(pulseManifest, version, fps))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pulse", "manifest.json"), data, 0o644))
}

func TestReload_KeepsExistingInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writePulse(t, dir, "1.0.0", 10)

	rt := newRuntime(t, memory.NewStore(), interplay.WithPluginDir(dir))
	m, err := rt.Module("pulse")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Version)

	oldID, err := rt.CreateInstance(ctx, "pulse", nil, interplay.Stopped())
	require.NoError(t, err)

	writePulse(t, dir, "2.0.0", 20)
	require.NoError(t, rt.Reload(ctx, "pulse"))
	newID, err := rt.CreateInstance(ctx, "pulse", nil, interplay.Stopped())
	require.NoError(t, err)

	oldInfo, err := rt.Instance(oldID)
	require.NoError(t, err)
	newInfo, err := rt.Instance(newID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", oldInfo.Version)
	assert.Equal(t, json.Number("10"), oldInfo.Config["fps"])
	assert.Equal(t, "2.0.0", newInfo.Version)
	assert.Equal(t, json.Number("20"), newInfo.Config["fps"])

	// a broken manifest is rejected and the last good version stays registered
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pulse", "manifest.json"), []byte(`{"typeName": "pulse"}`), 0o644))
	assert.Error(t, rt.Reload(ctx, "pulse"))
	m, err = rt.Module("pulse")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", m.Version)

	assert.ErrorIs(t, rt.Reload(ctx, "unknown"), domain.ErrModuleNotFound)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, memory.NewStore())

	require.NoError(t, rt.UpdateSettings(ctx, map[string]any{"theme": "dark", "grid": true}))
	require.NoError(t, rt.UpdateSettings(ctx, map[string]any{"grid": nil}))
	assert.Equal(t, map[string]any{"theme": "dark"}, rt.Settings())
}

func TestListModules(t *testing.T) {
	rt := newRuntime(t, memory.NewStore())
	names := make([]string, 0)
	for _, m := range rt.ListModules() {
		names = append(names, m.TypeName)
	}
	assert.Equal(t, []string{"clock-input", "frame-counter", "http-input", "http-output", "log-output", "process-output"}, names)
}
