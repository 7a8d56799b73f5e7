package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watcher invalidates cache entries when project files change outside the
// store (operator edits, external tooling). The durable value on disk is
// authoritative either way; the watcher only keeps the cache from serving
// an externally replaced value until its next write-time invalidation.
type watcher struct {
	store  *Store
	fs     *fsnotify.Watcher
	logger *zap.Logger
	stop   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	watched map[string]struct{}
}

func newWatcher(store *Store, logger *zap.Logger) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		store:   store,
		fs:      fsw,
		logger:  logger.Named("watcher"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		watched: make(map[string]struct{}),
	}

	// Watch the root for project directories appearing; project
	// directories themselves are added as they are written to.
	if err := fsw.Add(store.Root()); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.processEvents()
	return w, nil
}

// watchProject starts watching a project directory. Idempotent.
func (w *watcher) watchProject(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watched[dir]; ok {
		return
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return
	}
	if err := w.fs.Add(dir); err != nil {
		w.logger.Warn("failed to watch project directory",
			zap.String("dir", dir), zap.Error(err))
		return
	}
	w.watched[dir] = struct{}{}
}

func (w *watcher) close() error {
	select {
	case <-w.stop:
		return nil
	default:
	}
	close(w.stop)
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *watcher) processEvents() {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *watcher) handleEvent(event fsnotify.Event) {
	rel, err := filepath.Rel(w.store.Root(), event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = filepath.ToSlash(rel)

	// Transient write-protocol files and the root itself are noise.
	if strings.HasSuffix(rel, tmpSuffix) || !strings.Contains(rel, "/") {
		if event.Op&fsnotify.Create != 0 {
			// A new project directory: start covering it.
			w.watchProject(event.Name)
		}
		return
	}

	projectID, relPath, _ := strings.Cut(rel, "/")
	key := cacheKey(projectID, relPath)

	switch {
	case event.Op&fsnotify.Remove != 0:
		w.store.cache.invalidate(key)
		w.logger.Warn("file removed outside store",
			zap.String("project_id", projectID),
			zap.String("path", relPath))
	case event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
		// Fires for the store's own renames too; the extra
		// invalidation is harmless.
		w.store.cache.invalidate(key)
		w.logger.Debug("file changed on disk, cache entry dropped",
			zap.String("project_id", projectID),
			zap.String("path", relPath))
	}
}
