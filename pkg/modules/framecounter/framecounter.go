// Package framecounter implements the frame-counter module, a stand-in for an
// sACN/DMX receiver that streams a frame number at a fixed rate.
package framecounter

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
const TypeName = "frame-counter"

type settings struct {
	FPS      int `mapstructure:"fps"`
	Universe int `mapstructure:"universe"`
}

// Adapter streams {universe, frame} at fps frames per second.
type Adapter struct {
	mu    sync.Mutex
	cfg   settings
	frame int
	emit  ports.Emitter
	stop  chan struct{}
	done  chan struct{}
}

// New creates a frame counter.
func New() ports.Adapter {
	return &Adapter{}
}

func parse(cfg domain.ModuleConfig) (settings, error) {
	var s settings
	if err := decode.Config(cfg, &s); err != nil {
		return s, err
	}
	if s.FPS <= 0 || s.FPS > 1000 {
		return s, fmt.Errorf("fps must be between 1 and 1000, got %d", s.FPS)
	}
	if s.Universe < 0 {
		return s, fmt.Errorf("universe must not be negative")
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

// Reconfigure switches universes live; a new rate needs a restart.
func (a *Adapter) Reconfigure(old, new domain.ModuleConfig) (bool, error) {
	s, err := parse(new)
	if err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if s.FPS != a.cfg.FPS {
		return true, nil
	}
	a.cfg = s
	return false, nil
}

func (a *Adapter) Start(ctx context.Context, emit ports.Emitter) error {
	a.mu.Lock()
	a.emit = emit
	period := time.Second / time.Duration(a.cfg.FPS)
	a.stop = make(chan struct{})
	a.done = make(chan struct{})
	stop, done := a.stop, a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				a.Step()
			}
		}
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done, a.emit = nil, nil, nil
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

// Handle accepts "reset", which restarts counting from zero.
func (a *Adapter) Handle(ctx context.Context, input string, ev domain.Event) error {
	if input != "reset" {
		return fmt.Errorf("unknown input %q", input)
	}
	a.mu.Lock()
	a.frame = 0
	a.mu.Unlock()
	return nil
}

// Step emits the current frame and advances the counter. Frame 0 is a real
// frame and is emitted as such.
func (a *Adapter) Step() {
	a.mu.Lock()
	emit := a.emit
	if emit == nil {
		a.mu.Unlock()
		return
	}
	payload := map[string]any{"universe": a.cfg.Universe, "frame": a.frame}
	a.frame++
	a.mu.Unlock()

	_ = emit.Emit("frame", payload)
}

// Frame returns the next frame number.
func (a *Adapter) Frame() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frame
}
