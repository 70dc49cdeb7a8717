// Package httpin implements the http-input module: an HTTP listener that turns
// each JSON request body into a "request" event.
package httpin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/internal/decode"
	"github.com/aretw0/interplay/pkg/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TypeName is the adapter name in the catalog.
const TypeName = "http-input"

// MaxBodySize caps accepted request bodies.
const MaxBodySize = 1 << 20

type settings struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
	Path string `mapstructure:"path"`
}

// Adapter owns one listener between Start and Stop.
type Adapter struct {
	mu   sync.Mutex
	cfg  settings
	srv  *http.Server
	ln   net.Listener
	done chan struct{}
}

// New creates an http-input adapter.
func New() ports.Adapter {
	return &Adapter{}
}

func parse(cfg domain.ModuleConfig) (settings, error) {
	var s settings
	if err := decode.Config(cfg, &s); err != nil {
		return s, err
	}
	if s.Port < 0 || s.Port > 65535 {
		return s, fmt.Errorf("port %d out of range", s.Port)
	}
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if !strings.HasPrefix(s.Path, "/") {
		s.Path = "/" + s.Path
	}
	return s, nil
}

func (a *Adapter) Configure(cfg domain.ModuleConfig) error {
	s, err := parse(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.cfg = s
	a.mu.Unlock()
	return nil
}

// Start binds the listener. A port already in use fails the start.
func (a *Adapter) Start(ctx context.Context, emit ports.Emitter) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	addr := net.JoinHostPort(a.cfg.Host, strconv.Itoa(a.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post(a.cfg.Path, func(w http.ResponseWriter, req *http.Request) {
		payload, err := readPayload(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := emit.Emit("request", payload); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()

	a.srv, a.ln, a.done = srv, ln, done
	return nil
}

// Stop shuts the server down and frees the port.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv, done := a.srv, a.done
	a.srv, a.ln, a.done = nil, nil, nil
	a.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	<-done
	return err
}

func (a *Adapter) Handle(ctx context.Context, input string, ev domain.Event) error {
	return fmt.Errorf("%s has no inputs", TypeName)
}

// Addr returns the bound address while running.
func (a *Adapter) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// readPayload decodes the body. Objects become the payload as is; any other
// JSON value is wrapped as {"value": v}. An empty body is an empty payload.
func readPayload(req *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(req.Body, MaxBodySize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > MaxBodySize {
		return nil, fmt.Errorf("body larger than %d bytes", MaxBodySize)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return map[string]any{}, nil
	}
	var v any
	if err := domain.DecodeJSON(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{"value": v}, nil
}
