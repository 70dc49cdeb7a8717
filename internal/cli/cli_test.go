package cli_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/interplay/internal/cli"
	"github.com/aretw0/interplay/internal/config"
	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/adapters/memory"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	for _, name := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite, config.BackendRedis} {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Backend = name
			cfg.DataDir = filepath.Join(t.TempDir(), "nested")
			cfg.RedisAddr = mr.Addr()
			cfg.RedisKey = "interplay:test:" + name

			backend, release, err := cli.OpenBackend(cfg)
			require.NoError(t, err)
			defer func() { assert.NoError(t, release()) }()

			st := domain.NewAppState()
			st.Settings["theme"] = "dark"
			require.NoError(t, backend.Save(ctx, st))

			loaded, err := backend.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, "dark", loaded.Settings["theme"])
		})
	}

	t.Run("unknown", func(t *testing.T) {
		cfg := config.Default()
		cfg.Backend = "etcd"
		_, _, err := cli.OpenBackend(cfg)
		assert.ErrorContains(t, err, "etcd")
	})
}

func TestOpenBackend_Encrypted(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{9}, 32))

	backend, release, err := cli.OpenBackend(cfg)
	require.NoError(t, err)
	defer release()

	require.NoError(t, backend.Save(ctx, sampleState()))
	raw, err := os.ReadFile(cfg.StatePath())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "clock-input")

	loaded, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "clock-input", loaded.Instances["clk"].TypeName)

	cfg.EncryptionKey = "broken"
	_, _, err = cli.OpenBackend(cfg)
	assert.ErrorContains(t, err, "encryption_key")
}

const manifestTemplate = `{
  "typeName": %q,
  "version": "1.0.0",
  "adapter": %q,
  "configSchema": {"properties": {"fps": {"type": "int", "default": 30}}},
  "events": [{"name": "frame", "direction": "output", "kind": "stream"}]
}`

func writeManifest(t *testing.T, dir, typeName, adapter string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, typeName), 0o755))
	data := []byte(fmt.Sprintf(manifestTemplate, typeName, adapter))
	require.NoError(t, os.WriteFile(filepath.Join(dir, typeName, "manifest.json"), data, 0o644))
}

func TestValidateDir(t *testing.T) {
	ctx := context.Background()

	t.Run("all valid", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, "pulse", "frame-counter")

		var out bytes.Buffer
		require.NoError(t, cli.ValidateDir(ctx, &out, dir))
		assert.Contains(t, out.String(), ">>> ok      pulse")
	})

	t.Run("unknown adapter", func(t *testing.T) {
		dir := t.TempDir()
		writeManifest(t, dir, "pulse", "frame-counter")
		writeManifest(t, dir, "ghost", "no-such-adapter")

		var out bytes.Buffer
		err := cli.ValidateDir(ctx, &out, dir)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 manifests rejected")
		assert.Contains(t, out.String(), "invalid")
		assert.Contains(t, out.String(), "ghost")
	})
}

func sampleState() *domain.AppState {
	st := domain.NewAppState()
	st.Instances["clk"] = domain.InstanceSummary{
		ID: "clk", TypeName: "clock-input", Version: "1.0.0", InteractionID: "show",
		Config: domain.ModuleConfig{"targetTime": "14:30"},
	}
	st.Instances["log"] = domain.InstanceSummary{ID: "log", TypeName: "log-output", Version: "1.0.0", InteractionID: "show"}
	st.Interactions["show"] = domain.Interaction{
		ID: "show", Name: "Show", Enabled: true,
		InstanceIDs: []string{"clk", "log"}, RouteIDs: []string{"r1"},
	}
	st.Routes["r1"] = domain.Route{
		ID: "r1", InteractionID: "show",
		SourceInstanceID: "clk", SourceEvent: "trigger",
		TargetInstanceID: "log", TargetInput: "log",
	}
	return st
}

func TestInspectState(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	require.NoError(t, backend.Save(ctx, sampleState()))

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, cli.InspectState(ctx, &out, backend, cli.FormatTable, false))
		assert.Contains(t, out.String(), "## Instances")
		assert.Contains(t, out.String(), "| `clk` | clock-input | 1.0.0 | show |")
		assert.Contains(t, out.String(), "| `r1` | clk.trigger | log.log | - |")
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, cli.InspectState(ctx, &out, backend, cli.FormatJSON, false))
		var st domain.AppState
		require.NoError(t, json.Unmarshal(out.Bytes(), &st))
		assert.Len(t, st.Instances, 2)
		assert.Equal(t, "clk", st.Routes["r1"].SourceInstanceID)
	})

	t.Run("mermaid", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, cli.InspectState(ctx, &out, backend, cli.FormatMermaid, false))
		assert.True(t, strings.HasPrefix(out.String(), "graph LR\n"))
		assert.Contains(t, out.String(), "n_clk -- \"trigger → log\" --> n_log")
	})

	t.Run("unknown format", func(t *testing.T) {
		err := cli.InspectState(ctx, io.Discard, backend, "yaml", false)
		assert.ErrorContains(t, err, "yaml")
	})

	t.Run("redacted", func(t *testing.T) {
		secret := memory.NewStore()
		st := sampleState()
		st.Instances["clk"].Config["apiKey"] = "hunter2"
		require.NoError(t, secret.Save(ctx, st))

		var out bytes.Buffer
		require.NoError(t, cli.InspectState(ctx, &out, cli.Redacted(secret), cli.FormatJSON, false))
		assert.NotContains(t, out.String(), "hunter2")
		assert.Contains(t, out.String(), `"apiKey": "***"`)
	})

	t.Run("no state", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, cli.InspectState(ctx, &out, memory.NewStore(), cli.FormatTable, false))
		assert.Contains(t, out.String(), "_None._")
	})
}

func TestResetState(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewStore()
	require.NoError(t, backend.Save(ctx, sampleState()))

	var out bytes.Buffer
	require.NoError(t, cli.ResetState(ctx, &out, backend))
	assert.Contains(t, out.String(), "State deleted.")

	_, err := backend.Load(ctx)
	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}

func TestServeListener(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.Debounce = config.Duration(10 * time.Millisecond)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- cli.ServeListener(ctx, ln, cfg, logging.NewNop(), &out) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	body := strings.NewReader(`{"typeName": "log-output"}`)
	resp, err := http.Post(base+"/instances", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	assert.Contains(t, out.String(), ">>> Listening on http://")
	assert.Contains(t, out.String(), " running")
	assert.Contains(t, out.String(), ">>> Stopped.")
}

func TestServe_AddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := config.Default()
	cfg.Backend = config.BackendMemory
	cfg.HTTPAddr = ln.Addr().String()

	err = cli.Serve(context.Background(), cfg, logging.NewNop(), nil)
	assert.ErrorContains(t, err, "listen on")
}

func TestSignalContext_Cancel(t *testing.T) {
	ctx := cli.NewSignalContext(context.Background())
	ctx.Cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled")
	}
	assert.Nil(t, ctx.Signal())
}
