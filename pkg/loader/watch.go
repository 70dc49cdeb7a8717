package loader

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/aretw0/interplay/pkg/ports"
	"github.com/fsnotify/fsnotify"
)

// WatchDebounce is how long a manifest must stay quiet before it is reloaded.
const WatchDebounce = 100 * time.Millisecond

var _ ports.Watchable = (*Loader)(nil)

// Watch reloads manifests under the directory given to LoadDir whenever they
// are created or written. The outcome of each reload is sent on the returned
// channel, which is closed when ctx is done.
func (l *Loader) Watch(ctx context.Context) (<-chan ports.ReloadEvent, error) {
	dir := l.Dir()
	if dir == "" {
		return nil, errNoDir
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(dir, e.Name())); err != nil {
				l.logger.Warn("cannot watch plugin directory", "dir", e.Name(), "err", err)
			}
		}
	}

	out := make(chan ports.ReloadEvent, 8)
	go l.watchLoop(ctx, w, dir, out)
	l.logger.Info("watching plugin directory", "dir", dir)
	return out, nil
}

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, dir string, out chan<- ports.ReloadEvent) {
	fire := make(chan string)
	done := make(chan struct{})
	timers := make(map[string]*time.Timer)

	defer func() {
		close(done)
		for _, t := range timers {
			t.Stop()
		}
		w.Close()
		close(out)
	}()

	schedule := func(name string) {
		if t, ok := timers[name]; ok {
			t.Reset(WatchDebounce)
			return
		}
		timers[name] = time.AfterFunc(WatchDebounce, func() {
			select {
			case fire <- name:
			case <-done:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			l.handleFSEvent(w, dir, ev, schedule)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("watcher error", "err", err)

		case name := <-fire:
			delete(timers, name)
			res := l.reloadFile(ctx, dir, name)
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (l *Loader) handleFSEvent(w *fsnotify.Watcher, dir string, ev fsnotify.Event, schedule func(string)) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	// a new plugin directory: watch it and pick up a manifest copied in with it
	if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == dir {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Add(ev.Name); err != nil {
				l.logger.Warn("cannot watch plugin directory", "dir", ev.Name, "err", err)
			}
			for _, name := range ManifestNames {
				p := filepath.Join(ev.Name, name)
				if _, err := os.Stat(p); err == nil {
					schedule(p)
					break
				}
			}
			return
		}
	}

	if IsManifestFile(ev.Name) && filepath.Dir(filepath.Dir(ev.Name)) == dir {
		schedule(ev.Name)
	}
}

func (l *Loader) reloadFile(ctx context.Context, dir, name string) ports.ReloadEvent {
	rel, err := filepath.Rel(dir, name)
	if err != nil {
		return ports.ReloadEvent{Path: name, Err: err}
	}
	src := source{fsys: os.DirFS(dir), path: filepath.ToSlash(rel), label: filepath.Join(dir, rel)}
	typeName, err := l.reload(ctx, src)
	return ports.ReloadEvent{TypeName: typeName, Path: name, Err: err}
}
