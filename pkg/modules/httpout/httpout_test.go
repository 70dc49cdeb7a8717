package httpout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/httpout"
	"github.com/aretw0/interplay/pkg/ports/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu      sync.Mutex
	method  string
	headers http.Header
	body    map[string]any
	status  int
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.headers = r.Header.Clone()
	c.body = nil
	_ = json.NewDecoder(r.Body).Decode(&c.body)
	w.WriteHeader(c.status)
}

func start(t *testing.T, cfg domain.ModuleConfig) *httpout.Adapter {
	t.Helper()
	a := httpout.New().(*httpout.Adapter)
	require.NoError(t, a.Configure(cfg))
	require.NoError(t, a.Start(context.Background(), &tests.RecordingEmitter{}))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func TestHTTPOutput_Contract(t *testing.T) {
	tests.AdapterContractTest(t, httpout.New, domain.ModuleConfig{"url": "http://127.0.0.1:9/hook", "method": "POST", "timeout": "1s"})
}

func TestHTTPOutput_SendsPayload(t *testing.T) {
	c := &capture{status: http.StatusNoContent}
	srv := httptest.NewServer(c)
	defer srv.Close()

	a := start(t, domain.ModuleConfig{"url": srv.URL + "/hook", "method": "PUT", "timeout": "1s"})
	ev := domain.Event{Source: "clock-1", Name: "trigger", Payload: map[string]any{"targetTime": "14:30"}}
	require.NoError(t, a.Handle(context.Background(), "request", ev))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, http.MethodPut, c.method)
	assert.Equal(t, "application/json", c.headers.Get("Content-Type"))
	assert.Equal(t, "clock-1", c.headers.Get("X-Interplay-Source"))
	assert.Equal(t, "14:30", c.body["targetTime"])
}

func TestHTTPOutput_Headers(t *testing.T) {
	c := &capture{status: http.StatusOK}
	srv := httptest.NewServer(c)
	defer srv.Close()

	a := start(t, domain.ModuleConfig{
		"url":     srv.URL,
		"timeout": "1s",
		"headers": map[string]any{"Authorization": "Bearer s3cr3t", "Content-Type": "text/plain"},
	})
	require.NoError(t, a.Handle(context.Background(), "request", domain.Event{Source: "clk", Name: "trigger"}))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, "Bearer s3cr3t", c.headers.Get("Authorization"))
	assert.Equal(t, "application/json", c.headers.Get("Content-Type"), "the JSON content type always wins")
}

func TestHTTPOutput_Non2xxIsAnError(t *testing.T) {
	c := &capture{status: http.StatusInternalServerError}
	srv := httptest.NewServer(c)
	defer srv.Close()

	a := start(t, domain.ModuleConfig{"url": srv.URL, "method": "POST", "timeout": "1s"})
	err := a.Handle(context.Background(), "request", domain.Event{Payload: map[string]any{"x": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestHTTPOutput_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	a := start(t, domain.ModuleConfig{"url": srv.URL, "method": "POST", "timeout": "50ms"})
	begin := time.Now()
	assert.Error(t, a.Handle(context.Background(), "request", domain.Event{}))
	assert.Less(t, time.Since(begin), time.Second)
}

func TestHTTPOutput_Validation(t *testing.T) {
	a := httpout.New()
	assert.Error(t, a.Configure(domain.ModuleConfig{"url": "not a url", "method": "POST"}))
	assert.Error(t, a.Configure(domain.ModuleConfig{"url": "ftp://example.com", "method": "POST"}))
	assert.ErrorIs(t, a.Handle(context.Background(), "request", domain.Event{}), domain.ErrNotRunning)
}
