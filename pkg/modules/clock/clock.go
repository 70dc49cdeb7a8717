// Package clock implements the clock-input module: a daily trigger at a wall
// clock time plus a stream of the current time.
package clock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/internal/decode"
	"github.com/aretw0/interplay/pkg/ports"
)

// TypeName is the adapter name in the catalog.
const TypeName = "clock-input"

type settings struct {
	TargetTime   string        `mapstructure:"targetTime"`
	TickInterval time.Duration `mapstructure:"tickInterval"`
}

// Adapter fires "trigger" once per day at targetTime.
type Adapter struct {
	mu        sync.Mutex
	cfg       settings
	hour, min int
	emit      ports.Emitter
	lastFired string // date of the last trigger, YYYY-MM-DD

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

// New creates a clock adapter.
func New() ports.Adapter {
	return &Adapter{now: time.Now}
}

func parse(cfg domain.ModuleConfig) (settings, int, int, error) {
	var s settings
	if err := decode.Config(cfg, &s); err != nil {
		return s, 0, 0, err
	}
	t, err := time.Parse("15:04", s.TargetTime)
	if err != nil {
		return s, 0, 0, fmt.Errorf("targetTime %q must be HH:MM", s.TargetTime)
	}
	if s.TickInterval <= 0 {
		s.TickInterval = time.Second
	}
	return s, t.Hour(), t.Minute(), nil
}

func (a *Adapter) Configure(cfg domain.ModuleConfig) error {
	s, h, m, err := parse(cfg)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.TargetTime != a.cfg.TargetTime {
		a.lastFired = ""
	}
	a.cfg, a.hour, a.min = s, h, m
	return nil
}

// Reconfigure applies a new targetTime live; a new tickInterval needs a restart.
func (a *Adapter) Reconfigure(old, new domain.ModuleConfig) (bool, error) {
	s, h, m, err := parse(new)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.TickInterval != a.cfg.TickInterval {
		return true, nil
	}
	if s.TargetTime != a.cfg.TargetTime {
		a.lastFired = ""
	}
	a.cfg, a.hour, a.min = s, h, m
	return false, nil
}

func (a *Adapter) Start(ctx context.Context, emit ports.Emitter) error {
	a.mu.Lock()
	a.emit = emit
	interval := a.cfg.TickInterval
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	stop, done := a.stop, a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				a.Tick(a.now())
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.emit = nil
	a.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Handle(ctx context.Context, input string, ev domain.Event) error {
	return fmt.Errorf("%s has no inputs", TypeName)
}

// Running reports whether the ticker goroutine is alive.
func (a *Adapter) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stop != nil
}

// Tick samples the clock at now. It streams the time and fires the trigger the
// first time now reaches targetTime on a given day. Ticks while stopped are ignored.
func (a *Adapter) Tick(now time.Time) {
	a.mu.Lock()
	emit := a.emit
	if emit == nil {
		a.mu.Unlock()
		return
	}
	fire := false
	day := now.Format("2006-01-02")
	if now.Hour() == a.hour && now.Minute() == a.min && a.lastFired != day {
		a.lastFired = day
		fire = true
	}
	target := a.cfg.TargetTime
	a.mu.Unlock()

	_ = emit.Emit("time", map[string]any{"now": now.Format(time.RFC3339)})
	if !fire {
		return
	}
	_ = emit.Emit("trigger", map[string]any{
		"targetTime": target,
		"firedAt":    now.Format(time.RFC3339),
	})
	if r, ok := emit.(ports.RuntimeReporter); ok {
		r.ReportRuntime(map[string]any{"lastFired": day})
	}
}
