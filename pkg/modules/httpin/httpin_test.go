package httpin_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/httpin"
	"github.com/aretw0/interplay/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func post(t *testing.T, a *httpin.Adapter, path, body string) int {
	t.Helper()
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Post(fmt.Sprintf("http://%s%s", a.Addr(), path), "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestHTTPInput_Contract(t *testing.T) {
	tests.AdapterContractTest(t, httpin.New, domain.ModuleConfig{"port": 0, "host": "127.0.0.1", "path": "/"})
}

func TestHTTPInput_EmitsRequest(t *testing.T) {
	a := httpin.New().(*httpin.Adapter)
	require.NoError(t, a.Configure(domain.ModuleConfig{"port": 0, "host": "127.0.0.1", "path": "/hook"}))
	rec := &tests.RecordingEmitter{}
	require.NoError(t, a.Start(context.Background(), rec))
	defer a.Stop(context.Background())

	assert.Equal(t, http.StatusAccepted, post(t, a, "/hook", `{"cue": 7}`))
	assert.Equal(t, http.StatusAccepted, post(t, a, "/hook", `"go"`))
	assert.Equal(t, http.StatusBadRequest, post(t, a, "/hook", `{broken`))
	assert.Equal(t, http.StatusNotFound, post(t, a, "/other", `{}`))

	evs := rec.Snapshot()
	require.Len(t, evs, 2)
	assert.Equal(t, "request", evs[0].Name)
	assert.Equal(t, json.Number("7"), evs[0].Payload["cue"])
	assert.Equal(t, "go", evs[1].Payload["value"])
}

func TestHTTPInput_RebindsSamePortAfterRestart(t *testing.T) {
	port := freePort(t)
	a := httpin.New().(*httpin.Adapter)
	require.NoError(t, a.Configure(domain.ModuleConfig{"port": port, "host": "127.0.0.1", "path": "/"}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &tests.RecordingEmitter{}
		require.NoError(t, a.Start(ctx, rec), "start #%d", i+1)
		assert.Equal(t, port, a.Addr().(*net.TCPAddr).Port)
		assert.Equal(t, http.StatusAccepted, post(t, a, "/", `{}`))
		require.NoError(t, a.Stop(ctx), "stop #%d", i+1)
		assert.Nil(t, a.Addr())
	}
}

func TestHTTPInput_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	a := httpin.New()
	require.NoError(t, a.Configure(domain.ModuleConfig{"port": ln.Addr().(*net.TCPAddr).Port, "host": "127.0.0.1", "path": "/"}))
	assert.Error(t, a.Start(context.Background(), &tests.RecordingEmitter{}))
	assert.NoError(t, a.Stop(context.Background()))
}

func TestHTTPInput_InvalidPort(t *testing.T) {
	a := httpin.New()
	assert.Error(t, a.Configure(domain.ModuleConfig{"port": 70000}))
}
