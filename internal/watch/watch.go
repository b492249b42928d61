// Package watch observes a vault directory and triggers syncs on change.
// Events are debounced so a burst of writes produces one sync.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher debounces filesystem events into trigger calls.
type Watcher struct {
	root       string
	extensions []string
	debounce   time.Duration
	trigger    func()
	logger     *zap.Logger

	fsw *fsnotify.Watcher
}

// New creates a watcher over the vault root. trigger is called after
// each debounced burst of relevant changes.
func New(root string, extensions []string, debounce time.Duration, trigger func(), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:       root,
		extensions: extensions,
		debounce:   debounce,
		trigger:    trigger,
		logger:     logger,
		fsw:        fsw,
	}, nil
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// relevant filters events down to tracked files. Directory events pass
// so new subdirectories get registered.
func (w *Watcher) relevant(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return true
	}
	for _, e := range w.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

// Run watches until the context is cancelled. New directories are added
// to the watch set as they appear.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev.Name) {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						w.logger.Warn("cannot watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			w.logger.Debug("vault change", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))

		case <-fire:
			w.trigger()
		}
	}
}
