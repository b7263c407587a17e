package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce groups the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a knowledge-base file when it changes and publishes the new
// snapshot through a Holder. A file that fails to load is logged and the
// previous snapshot keeps serving.
type Watcher struct {
	logger   *logrus.Logger
	loader   *Loader
	holder   *Holder
	path     string
	debounce time.Duration
}

// NewWatcher creates a watcher for path.
func NewWatcher(logger *logrus.Logger, loader *Loader, holder *Holder, path string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		logger:   logger,
		loader:   loader,
		holder:   holder,
		path:     filepath.Clean(path),
		debounce: debounce,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched rather
// than the file so that atomic rename-on-save is seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.WithField("path", w.path).Info("Watching knowledge base for changes")

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Knowledge base watcher error")
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	kb, err := w.loader.LoadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("Knowledge base reload failed, keeping previous snapshot")
		return
	}

	previous := w.holder.Swap(kb)
	fields := logrus.Fields{"path": w.path, "fingerprint": kb.Fingerprint()[:12]}
	if previous != nil {
		fields["previous"] = previous.Fingerprint()[:12]
	}
	w.logger.WithFields(fields).Info("Knowledge base reloaded")
}
