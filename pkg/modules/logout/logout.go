// Package logout implements the log-output module: every event received on the
// "log" input is written to the process log and kept in a bounded history.
package logout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/internal/decode"
	"github.com/aretw0/interplay/pkg/ports"
)

// TypeName is the adapter name in the catalog.
const TypeName = "log-output"

type settings struct {
	Level   string `mapstructure:"level"`
	History int    `mapstructure:"history"`
}

// Adapter logs received events. All config changes apply live.
type Adapter struct {
	mu       sync.Mutex
	level    slog.Level
	limit    int
	history  []domain.Event
	received int
	emit     ports.Emitter

	logger *slog.Logger
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger sets where received events are written.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New creates a log-output adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{logger: logging.NewNop(), level: slog.LevelInfo}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory returns a constructor for the adapter catalog.
func Factory(opts ...Option) ports.AdapterFunc {
	return func() ports.Adapter { return New(opts...) }
}

func parse(cfg domain.ModuleConfig) (slog.Level, int, error) {
	var s settings
	if err := decode.Config(cfg, &s); err != nil {
		return 0, 0, err
	}
	lvl, err := logging.ParseLevel(s.Level)
	if err != nil {
		return 0, 0, err
	}
	if s.History < 0 {
		return 0, 0, fmt.Errorf("history must not be negative")
	}
	return lvl, s.History, nil
}

func (a *Adapter) Configure(cfg domain.ModuleConfig) error {
	lvl, limit, err := parse(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.level, a.limit = lvl, limit
	a.trimLocked()
	return nil
}

func (a *Adapter) Reconfigure(old, new domain.ModuleConfig) (bool, error) {
	return false, a.Configure(new)
}

func (a *Adapter) Start(ctx context.Context, emit ports.Emitter) error {
	a.mu.Lock()
	a.emit = emit
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.emit = nil
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Handle(ctx context.Context, input string, ev domain.Event) error {
	if input != "log" {
		return fmt.Errorf("unknown input %q", input)
	}

	a.mu.Lock()
	a.history = append(a.history, domain.Event{
		Source:  ev.Source,
		Name:    ev.Name,
		Kind:    ev.Kind,
		Seq:     ev.Seq,
		Payload: domain.ClonePayload(ev.Payload),
		Time:    ev.Time,
	})
	a.trimLocked()
	a.received++
	count := a.received
	lvl := a.level
	emit := a.emit
	a.mu.Unlock()

	a.logger.Log(ctx, lvl, "event received",
		"source", ev.Source,
		"event", ev.Name,
		"seq", ev.Seq,
		"payload", ev.Payload,
	)
	if r, ok := emit.(ports.RuntimeReporter); ok {
		r.ReportRuntime(map[string]any{"received": count})
	}
	return nil
}

// Received returns the retained events, oldest first.
func (a *Adapter) Received() []domain.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Event(nil), a.history...)
}

func (a *Adapter) trimLocked() {
	if over := len(a.history) - a.limit; over > 0 {
		a.history = append(a.history[:0:0], a.history[over:]...)
	}
}
