// Package httpout implements the http-output module: each event received on the
// "request" input is sent as a JSON body to a configured URL.
package httpout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/internal/decode"
	"github.com/aretw0/interplay/pkg/ports"
)

// TypeName is the adapter name in the catalog.
const TypeName = "http-output"

type settings struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Headers map[string]string `mapstructure:"headers"`
}

// Adapter forwards events over HTTP. A response outside 2xx is a delivery error.
type Adapter struct {
	mu     sync.Mutex
	cfg    settings
	client *http.Client
	emit   ports.Emitter
}

// New creates an http-output adapter.
func New() ports.Adapter {
	return &Adapter{}
}

func parse(cfg domain.ModuleConfig) (settings, error) {
	var s settings
	if err := decode.Config(cfg, &s); err != nil {
		return s, err
	}
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return s, fmt.Errorf("url %q must be an absolute http(s) URL", s.URL)
	}
	if s.Method == "" {
		s.Method = http.MethodPost
	}
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
	return s, nil
}

func (a *Adapter) Configure(cfg domain.ModuleConfig) error {
	s, err := parse(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = s
	if a.client != nil {
		a.client.Timeout = s.Timeout
	}
	return nil
}

// Reconfigure applies every change live.
func (a *Adapter) Reconfigure(old, new domain.ModuleConfig) (bool, error) {
	return false, a.Configure(new)
}

func (a *Adapter) Start(ctx context.Context, emit ports.Emitter) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.client = &http.Client{Timeout: a.cfg.Timeout}
	a.emit = emit
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	client := a.client
	a.client, a.emit = nil, nil
	a.mu.Unlock()

	if client != nil {
		client.CloseIdleConnections()
	}
	return nil
}

func (a *Adapter) Handle(ctx context.Context, input string, ev domain.Event) error {
	if input != "request" {
		return fmt.Errorf("unknown input %q", input)
	}

	a.mu.Lock()
	cfg, client, emit := a.cfg, a.client, a.emit
	a.mu.Unlock()
	if client == nil {
		return domain.ErrNotRunning
	}

	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Interplay-Source", ev.Source)
	req.Header.Set("X-Interplay-Event", ev.Name)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if r, ok := emit.(ports.RuntimeReporter); ok {
		r.ReportRuntime(map[string]any{"lastStatus": resp.StatusCode})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %s", cfg.Method, cfg.URL, resp.Status)
	}
	return nil
}
