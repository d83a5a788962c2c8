package manifest

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the manifest file when it changes on disk.
type Watcher struct {
	path     string
	holder   *Holder
	onReload func(*Manifest)
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher creates and starts a watcher on the manifest file. onReload is
// called after every successful reload and may be nil.
func NewWatcher(path string, holder *Holder, onReload func(*Manifest)) (*Watcher, error) {
	return newWatcher(path, holder, onReload, time.Second)
}

func newWatcher(path string, holder *Holder, onReload func(*Manifest), debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		holder:   holder,
		onReload: onReload,
		debounce: debounce,
		watcher:  fw,
	}

	// Watch the directory: editors often replace the file by rename, which
	// drops a watch placed on the file itself.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				if !pending {
					timer.Reset(w.debounce)
					pending = true
				}
			}
		case <-timer.C:
			pending = false
			m, err := w.holder.Reload(w.path)
			if err != nil {
				slog.Error("reload manifest", "path", w.path, "err", err)
				continue
			}
			slog.Info("manifest reloaded", "paths", len(m.Paths), "items", m.ItemCount())
			if w.onReload != nil {
				w.onReload(m)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("fsnotify error", "err", err)
		}
	}
}
