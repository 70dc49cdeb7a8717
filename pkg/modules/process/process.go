// Package process implements the process-output module: each event received on
// the "run" input executes an allow-listed command.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/modules/internal/decode"
	"github.com/aretw0/interplay/pkg/ports"
)

// TypeName is the adapter name in the catalog.
const TypeName = "process-output"

// EnvPrefix prefixes the payload fields passed to the command.
const EnvPrefix = "INTERPLAY_ARG_"

type settings struct {
	Tool    string        `mapstructure:"tool"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Adapter runs one registered tool per received event.
//
// The payload is written as JSON to the command's stdin and each top-level
// field is also exported as INTERPLAY_ARG_<FIELD>. Arguments are never built
// from the payload, which keeps flag injection out of reach. A successful run
// emits "result" with the trimmed stdout, decoded when it is JSON.
type Adapter struct {
	tools   map[string]Tool
	baseDir string

	mu   sync.Mutex
	cfg  settings
	tool Tool
	emit ports.Emitter
	runs int
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithTools sets the allow-list.
func WithTools(tools map[string]Tool) Option {
	return func(a *Adapter) { a.tools = tools }
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) Option {
	return func(a *Adapter) { a.baseDir = dir }
}

// New creates a process-output adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{tools: map[string]Tool{}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory returns a constructor for the adapter catalog.
func Factory(opts ...Option) ports.AdapterFunc {
	return func() ports.Adapter { return New(opts...) }
}

func (a *Adapter) Configure(cfg domain.ModuleConfig) error {
	var s settings
	if err := decode.Config(cfg, &s); err != nil {
		return err
	}
	tool, ok := a.tools[s.Tool]
	if !ok {
		return fmt.Errorf("tool %q is not registered (known: %s)", s.Tool, strings.Join(a.names(), ", "))
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg, a.tool = s, tool
	return nil
}

// Reconfigure applies every change live; the next run uses the new tool.
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
	if input != "run" {
		return fmt.Errorf("unknown input %q", input)
	}

	a.mu.Lock()
	cfg, tool, emit := a.cfg, a.tool, a.emit
	a.mu.Unlock()
	if emit == nil {
		return domain.ErrNotRunning
	}

	stdin, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, tool.Command, tool.Args...)
	cmd.Dir = a.baseDir
	cmd.Env = append(cmd.Environ(), environment(tool, ev)...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tool %s: %w: %s", tool.Name, err, msg)
		}
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	a.mu.Lock()
	a.runs++
	runs := a.runs
	a.mu.Unlock()
	if r, ok := emit.(ports.RuntimeReporter); ok {
		r.ReportRuntime(map[string]any{"runs": runs})
	}

	return emit.Emit("result", map[string]any{
		"tool":       tool.Name,
		"output":     parseOutput(stdout.String()),
		"durationMs": time.Since(started).Milliseconds(),
	})
}

func (a *Adapter) names() []string {
	names := make([]string, 0, len(a.tools))
	for name := range a.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// environment lists the tool's own variables, then the event metadata and
// the payload fields.
func environment(tool Tool, ev domain.Event) []string {
	env := make([]string, 0, len(tool.Environment)+len(ev.Payload)+2)
	for k, v := range tool.Environment {
		env = append(env, k+"="+v)
	}
	env = append(env, "INTERPLAY_SOURCE="+ev.Source, "INTERPLAY_EVENT="+ev.Name)
	for k, v := range ev.Payload {
		env = append(env, EnvPrefix+envKey(k)+"="+envValue(v))
	}
	return env
}

func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}

// envValue writes primitives as-is and everything else as JSON.
func envValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number, int, int64, float64, bool:
		return fmt.Sprintf("%v", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}

func parseOutput(out string) any {
	trimmed := strings.TrimSpace(out)
	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return trimmed
}
