// Package loader discovers module manifests, validates them and registers the
// resulting factories. It also reloads manifests on demand or when they change
// on disk.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/aretw0/interplay/internal/logging"
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/observability"
	"github.com/aretw0/interplay/pkg/registry"
	"golang.org/x/sync/singleflight"
)

// Skipped records a plugin directory whose manifest was rejected.
type Skipped struct {
	Dir string
	Err error
}

// Report summarizes one scan.
type Report struct {
	// Loaded holds the registered type names, in directory order.
	Loaded  []string
	Skipped []Skipped
}

// source remembers where a type's manifest lives so it can be read again.
type source struct {
	fsys fs.FS
	path string
	// label is what gets logged and stored as Factory.Source.
	label string
}

// Loader validates manifests and registers factories for them.
type Loader struct {
	registry *registry.Registry
	catalog  *Catalog
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu      sync.Mutex
	dir     string
	sources map[string]source // typeName -> manifest location

	group singleflight.Group
}

// Option configures the Loader.
type Option func(*Loader)

// WithLogger configures a logger for the Loader.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a loader that registers into reg and binds adapters from catalog.
func New(reg *registry.Registry, catalog *Catalog, opts ...Option) *Loader {
	l := &Loader{
		registry: reg,
		catalog:  catalog,
		logger:   logging.NewNop(),
		sources:  make(map[string]source),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Catalog returns the adapter catalog.
func (l *Loader) Catalog() *Catalog { return l.catalog }

// Load validates m and registers a factory for it. An invalid manifest leaves
// the registry untouched and returns a *domain.ValidationError.
func (l *Loader) Load(m domain.Manifest, src string) (*registry.Factory, error) {
	compiled, err := Validate(m)
	if err != nil {
		return nil, err
	}
	ctor, ok := l.catalog.Lookup(m.AdapterName())
	if !ok {
		return nil, &domain.ValidationError{
			Subject: "manifest",
			ID:      m.TypeName,
			Reason:  fmt.Sprintf("unknown adapter %q", m.AdapterName()),
		}
	}

	f := &registry.Factory{
		Manifest: m,
		Schema:   compiled,
		New:      ctor,
		Source:   src,
	}
	l.registry.Register(f)
	return f, nil
}

// Scan loads every plugin directory found at the top level of fsys. Directories
// without a manifest are ignored; rejected manifests are logged and reported
// but never stop the scan.
func (l *Loader) Scan(ctx context.Context, fsys fs.FS) (Report, error) {
	return l.scan(ctx, fsys, func(p string) string { return p })
}

// ScanBuiltin is Scan for manifests compiled into the binary. Their factories
// are labelled "builtin:<path>".
func (l *Loader) ScanBuiltin(ctx context.Context, fsys fs.FS) (Report, error) {
	return l.scan(ctx, fsys, func(p string) string { return "builtin:" + p })
}

// LoadDir scans dir and remembers it for Watch and Reload.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Report, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Report{}, err
	}
	// watcher events carry resolved paths
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	l.mu.Lock()
	l.dir = abs
	l.mu.Unlock()
	return l.scan(ctx, os.DirFS(abs), func(p string) string {
		return filepath.Join(abs, filepath.FromSlash(p))
	})
}

// Dir returns the plugin directory set by LoadDir.
func (l *Loader) Dir() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dir
}

func (l *Loader) scan(ctx context.Context, fsys fs.FS, label func(string) string) (Report, error) {
	var report Report

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return report, fmt.Errorf("read plugin directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}
		file, ok := findManifest(fsys, entry.Name())
		if !ok {
			continue
		}

		src := source{fsys: fsys, path: file, label: label(file)}
		typeName, err := l.loadSource(src)
		if err != nil {
			l.logger.Warn("manifest skipped", "dir", entry.Name(), "path", src.label, "err", err)
			report.Skipped = append(report.Skipped, Skipped{Dir: entry.Name(), Err: err})
			continue
		}
		report.Loaded = append(report.Loaded, typeName)
	}

	l.logger.Info("module scan finished", "loaded", len(report.Loaded), "skipped", len(report.Skipped))
	return report, nil
}

// Reload reads the manifest that produced typeName again and swaps the
// registry entry when it is still valid. Instances created earlier keep the
// factory they were built with. Concurrent reloads of the same manifest share
// one read and one result.
func (l *Loader) Reload(ctx context.Context, typeName string) error {
	l.mu.Lock()
	src, ok := l.sources[typeName]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrModuleNotFound, typeName)
	}
	_, err := l.reload(ctx, src)
	return err
}

func (l *Loader) reload(ctx context.Context, src source) (string, error) {
	ch := l.group.DoChan(src.label, func() (any, error) {
		typeName, err := l.loadSource(src)
		l.metrics.Reload(err)
		if err != nil {
			l.logger.Warn("reload rejected, keeping previous version", "path", src.label, "err", err)
			return typeName, err
		}
		l.logger.Info("module reloaded", "type", typeName, "path", src.label)
		return typeName, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		typeName, _ := res.Val.(string)
		return typeName, res.Err
	}
}

// loadSource reads, validates and registers one manifest file.
func (l *Loader) loadSource(src source) (string, error) {
	data, err := fs.ReadFile(src.fsys, src.path)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(src.path, data)
	if err != nil {
		return "", &domain.ValidationError{Subject: "manifest", ID: src.label, Reason: err.Error()}
	}
	if _, err := l.Load(m, src.label); err != nil {
		return m.TypeName, err
	}

	l.mu.Lock()
	l.sources[m.TypeName] = src
	l.mu.Unlock()
	return m.TypeName, nil
}

func findManifest(fsys fs.FS, dir string) (string, bool) {
	for _, name := range ManifestNames {
		p := path.Join(dir, name)
		if info, err := fs.Stat(fsys, p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}

// errNoDir is returned by Watch before LoadDir was called.
var errNoDir = errors.New("loader: no plugin directory to watch")
