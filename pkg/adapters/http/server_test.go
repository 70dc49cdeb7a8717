package http_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/interplay"
	httpadapter "github.com/aretw0/interplay/pkg/adapters/http"
	"github.com/aretw0/interplay/pkg/adapters/memory"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *interplay.Orchestrator) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewMetrics(reg)
	require.NoError(t, err)

	rt, err := interplay.New(context.Background(), memory.NewStore(), interplay.WithMetrics(metrics))
	require.NoError(t, err)
	srv := httptest.NewServer(httpadapter.NewHandler(rt, httpadapter.WithGatherer(reg)))
	t.Cleanup(func() {
		srv.Close()
		_ = rt.Shutdown(context.Background())
	})
	return srv, rt
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorOf(t *testing.T, data []byte) httpadapter.ErrorResponse {
	t.Helper()
	var e httpadapter.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestInstances(t *testing.T) {
	srv, _ := newServer(t)

	resp, data := do(t, srv, http.MethodPost, "/instances", httpadapter.CreateInstanceRequest{
		TypeName: "clock-input",
		Config:   domain.ModuleConfig{"targetTime": "14:30", "tickInterval": "1h"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created httpadapter.CreatedResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.NotEmpty(t, created.ID)

	resp, data = do(t, srv, http.MethodGet, "/instances/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info interplay.InstanceInfo
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, domain.StateRunning, info.State)
	assert.Equal(t, "14:30", info.Config["targetTime"])

	resp, data = do(t, srv, http.MethodPatch, "/instances/"+created.ID+"/config", map[string]any{"targetTime": "25:99"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	e := errorOf(t, data)
	assert.Equal(t, "validation", e.Kind)
	assert.Equal(t, created.ID, e.ID)

	resp, data = do(t, srv, http.MethodPatch, "/instances/"+created.ID+"/config", map[string]any{"targetTime": "09:15"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, "09:15", info.Config["targetTime"])

	resp, data = do(t, srv, http.MethodPost, "/instances/"+created.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, domain.StateIdle, info.State)

	resp, _ = do(t, srv, http.MethodGet, "/instances", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, srv, http.MethodDelete, "/instances/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, data = do(t, srv, http.MethodGet, "/instances/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorOf(t, data).Kind)
}

func TestCreateInstance_Errors(t *testing.T) {
	srv, _ := newServer(t)

	resp, data := do(t, srv, http.MethodPost, "/instances", httpadapter.CreateInstanceRequest{TypeName: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errorOf(t, data).Kind)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/instances", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := srv.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestRoutes(t *testing.T) {
	srv, rt := newServer(t)
	ctx := context.Background()

	src, err := rt.CreateInstance(ctx, "clock-input", domain.ModuleConfig{"targetTime": "14:30", "tickInterval": "1h"})
	require.NoError(t, err)
	dst, err := rt.CreateInstance(ctx, "log-output", nil)
	require.NoError(t, err)

	resp, data := do(t, srv, http.MethodPost, "/routes", domain.Route{
		SourceInstanceID: src,
		SourceEvent:      "trigger",
		TargetInstanceID: dst,
		TargetInput:      "trigger",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "log-output has no trigger input")
	assert.Equal(t, "validation", errorOf(t, data).Kind)

	resp, data = do(t, srv, http.MethodPost, "/routes", domain.Route{
		SourceInstanceID: src,
		SourceEvent:      "trigger",
		TargetInstanceID: dst,
		TargetInput:      "log",
		Transform:        &domain.Transform{Pick: []string{"targetTime"}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created httpadapter.CreatedResponse
	require.NoError(t, json.Unmarshal(data, &created))

	resp, data = do(t, srv, http.MethodGet, "/routes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var routes []domain.Route
	require.NoError(t, json.Unmarshal(data, &routes))
	require.Len(t, routes, 1)
	assert.Equal(t, "log", routes[0].TargetInput)

	resp, _ = do(t, srv, http.MethodDelete, "/routes/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodDelete, "/routes/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInteractions(t *testing.T) {
	srv, _ := newServer(t)

	specs := []domain.InteractionSpec{{
		ID:      "show",
		Name:    "Show",
		Enabled: true,
		Instances: []domain.InstanceSpec{
			{ID: "clk", TypeName: "clock-input", Config: domain.ModuleConfig{"targetTime": "14:30", "tickInterval": "1h"}},
			{ID: "log", TypeName: "log-output"},
		},
		Routes: []domain.Route{{ID: "r1", SourceInstanceID: "clk", SourceEvent: "trigger", TargetInstanceID: "log", TargetInput: "log"}},
	}}
	resp, data := do(t, srv, http.MethodPut, "/interactions", specs)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var got []domain.Interaction
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"clk", "log"}, got[0].InstanceIDs)

	specs[0].Routes[0].SourceEvent = "missing"
	resp, _ = do(t, srv, http.MethodPut, "/interactions", specs)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = do(t, srv, http.MethodGet, "/interactions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"r1"}, got[0].RouteIDs)
}

func TestModules(t *testing.T) {
	srv, _ := newServer(t)

	resp, data := do(t, srv, http.MethodGet, "/modules", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var manifests []domain.Manifest
	require.NoError(t, json.Unmarshal(data, &manifests))
	assert.Len(t, manifests, 6)

	resp, _ = do(t, srv, http.MethodPost, "/modules/clock-input/reload", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = do(t, srv, http.MethodPost, "/modules/unknown/reload", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, rt := newServer(t)
	_, err := rt.CreateInstance(context.Background(), "log-output", nil)
	require.NoError(t, err)

	resp, data := do(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	resp, data = do(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "interplay_instances")
}

func TestSubscribeEvents(t *testing.T) {
	srv, rt := newServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?name=status", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// wait for the subscription before creating anything
	require.Equal(t, "event: ping", <-lines)

	id, err := rt.CreateInstance(context.Background(), "log-output", nil)
	require.NoError(t, err)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended early")
			if !strings.HasPrefix(line, "data: {") {
				continue
			}
			var ev domain.Event
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
			assert.Equal(t, domain.EventStatus, ev.Name)
			if ev.Source == id && ev.Payload["status"] == string(domain.StatusRunning) {
				return
			}
		case <-timeout:
			t.Fatal("no running status on the stream")
		}
	}
}
