// Package modules bundles the built-in module types: their adapters and the
// manifests that describe them.
package modules

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/loader"
	"github.com/aretw0/interplay/pkg/modules/clock"
	"github.com/aretw0/interplay/pkg/modules/framecounter"
	"github.com/aretw0/interplay/pkg/modules/httpin"
	"github.com/aretw0/interplay/pkg/modules/httpout"
	"github.com/aretw0/interplay/pkg/modules/logout"
	"github.com/aretw0/interplay/pkg/modules/process"
)

//go:embed manifests
var embedded embed.FS

// Manifests holds one directory per built-in module type, each with its manifest.
var Manifests fs.FS = mustSub(embedded, "manifests")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

type options struct {
	logger  *slog.Logger
	tools   map[string]process.Tool
	workDir string
}

// Option configures the built-in adapters.
type Option func(*options)

// WithLogger is handed to adapters that write to the log.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTools sets the commands process-output instances may run. Without it
// no process-output instance can be configured.
func WithTools(tools map[string]process.Tool) Option {
	return func(o *options) { o.tools = tools }
}

// WithWorkDir sets the working directory of process-output commands.
func WithWorkDir(dir string) Option {
	return func(o *options) { o.workDir = dir }
}

// Register installs every built-in adapter constructor into c.
func Register(c *loader.Catalog, opts ...Option) {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	c.Add(clock.TypeName, clock.New)
	c.Add(framecounter.TypeName, framecounter.New)
	c.Add(logout.TypeName, logout.Factory(logout.WithLogger(o.logger.With("module", logout.TypeName))))
	c.Add(httpout.TypeName, httpout.New)
	c.Add(httpin.TypeName, httpin.New)
	c.Add(process.TypeName, process.Factory(process.WithTools(o.tools), process.WithBaseDir(o.workDir)))
}

// LoadBuiltins registers the embedded manifests through l.
func LoadBuiltins(ctx context.Context, l *loader.Loader) (loader.Report, error) {
	return l.ScanBuiltin(ctx, Manifests)
}
