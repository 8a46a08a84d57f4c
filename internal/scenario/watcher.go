package scenario

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/signalsfoundry/mosmo/internal/logging"
)

// Watcher reloads a scenario file whenever it is written or replaced.
type Watcher struct {
	path     string
	onChange func(*Scenario, error)
	debounce time.Duration
	log      logging.Logger
	ready    chan struct{}
}

// NewWatcher creates a watcher calling onChange with each reload result.
func NewWatcher(path string, onChange func(*Scenario, error)) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: 500 * time.Millisecond,
		log:      logging.Noop(),
		ready:    make(chan struct{}),
	}
}

// WithDebounce sets the debounce duration.
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	if d > 0 {
		w.debounce = d
	}
	return w
}

func (w *Watcher) WithLogger(l logging.Logger) *Watcher {
	if l != nil {
		w.log = l
	}
	return w
}

// Ready is closed once the watch is established.
func (w *Watcher) Ready() <-chan struct{} { return w.ready }

// Watch blocks until ctx is cancelled or the watch fails. Bursts of events
// inside the debounce window produce a single reload.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}
	close(w.ready)
	w.log.Info(ctx, "watching scenario", logging.String("path", w.path))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			sc, err := LoadFile(w.path)
			if err != nil {
				w.log.Warn(ctx, "scenario reload failed", logging.String("path", w.path), logging.Err(err))
			} else {
				w.log.Info(ctx, "scenario reloaded", logging.String("path", w.path), logging.String("name", sc.Name))
			}
			w.onChange(sc, err)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn(ctx, "scenario watcher error", logging.Err(err))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
