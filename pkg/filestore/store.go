package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const instrumentationName = "github.com/BretMeraki/forestd/pkg/filestore"

// tmpSuffix marks the transient sibling file used by the write protocol.
const tmpSuffix = ".tmp"

// Config configures the store.
type Config struct {
	// Root is the data directory. One subdirectory per project.
	Root string

	// CacheMaxEntries bounds the in-memory document cache.
	CacheMaxEntries int

	// WatchExternal enables fsnotify-based cache invalidation for files
	// modified outside the store.
	WatchExternal bool
}

// FileInfo describes a committed document.
type FileInfo struct {
	ProjectID string
	Path      string
	Size      int64
	ModTime   time.Time
}

// Store is the atomic file-backed document store.
type Store struct {
	root    string
	cache   *cache
	group   singleflight.Group
	logger  *zap.Logger
	watcher *watcher

	tracer     trace.Tracer
	writeCount metric.Int64Counter
	readCount  metric.Int64Counter
	cacheHits  metric.Int64Counter
}

// New creates a store rooted at cfg.Root, creating the directory if
// needed. logger may be nil.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}

	c, err := newCache(cfg.CacheMaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	s := &Store{
		root:   cfg.Root,
		cache:  c,
		logger: logger.Named("filestore"),
		tracer: otel.Tracer(instrumentationName),
	}

	meter := otel.Meter(instrumentationName)
	if s.writeCount, err = meter.Int64Counter("forestd.filestore.writes",
		metric.WithDescription("Committed document writes")); err != nil {
		return nil, fmt.Errorf("failed to create write counter: %w", err)
	}
	if s.readCount, err = meter.Int64Counter("forestd.filestore.reads",
		metric.WithDescription("Document reads, durable or cached")); err != nil {
		return nil, fmt.Errorf("failed to create read counter: %w", err)
	}
	if s.cacheHits, err = meter.Int64Counter("forestd.filestore.cache_hits",
		metric.WithDescription("Reads served from cache")); err != nil {
		return nil, fmt.Errorf("failed to create cache hit counter: %w", err)
	}

	if cfg.WatchExternal {
		w, err := newWatcher(s, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to start watcher: %w", err)
		}
		s.watcher = w
	}

	return s, nil
}

// Close releases the watcher, if any.
func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.close()
	}
	return nil
}

// Root returns the data root directory.
func (s *Store) Root() string {
	return s.root
}

// Write durably commits value under (projectID, relPath).
//
// Protocol: invalidate the cache entry, write a temp sibling, fsync,
// rename onto the final path, invalidate the cache entry again. The
// rename is the only externally visible mutation; a failure at any
// earlier step leaves the previously committed value intact.
func (s *Store) Write(ctx context.Context, projectID, relPath string, value []byte) error {
	path, err := s.resolve(projectID, relPath)
	if err != nil {
		return err
	}

	ctx, span := s.tracer.Start(ctx, "filestore.write", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("path", relPath),
	))
	defer span.End()

	key := cacheKey(projectID, relPath)

	// First invalidation: a reader must not cache the outgoing value
	// while the durable value is about to change.
	s.cache.invalidate(key)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return s.writeFailed(ctx, span, key, "", fmt.Errorf("failed to create project directory: %w", err))
	}
	if s.watcher != nil {
		s.watcher.watchProject(filepath.Join(s.root, projectID))
	}

	tmp := path + tmpSuffix
	if err := writeFileSync(tmp, value); err != nil {
		return s.writeFailed(ctx, span, key, tmp, fmt.Errorf("failed to write temp file: %w", err))
	}

	if err := os.Rename(tmp, path); err != nil {
		return s.writeFailed(ctx, span, key, tmp, fmt.Errorf("failed to commit %s: %w", relPath, err))
	}

	// Second invalidation: defends against a reader that repopulated
	// the entry between the first invalidation and the rename.
	s.cache.invalidate(key)

	s.writeCount.Add(ctx, 1)
	s.logger.Debug("document committed",
		zap.String("project_id", projectID),
		zap.String("path", relPath),
		zap.Int("bytes", len(value)))
	return nil
}

// writeFailed cleans up the temp file and records the failure.
func (s *Store) writeFailed(ctx context.Context, span trace.Span, key, tmp string, err error) error {
	if tmp != "" {
		// Best effort; the committed value is untouched either way.
		_ = os.Remove(tmp)
	}
	s.cache.invalidate(key)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Read returns the committed value for (projectID, relPath). A cache hit
// returns without I/O; a miss reads the durable value and populates the
// cache. Absence is reported as ErrNotFound. Callers must not modify the
// returned slice.
func (s *Store) Read(ctx context.Context, projectID, relPath string) ([]byte, error) {
	path, err := s.resolve(projectID, relPath)
	if err != nil {
		return nil, err
	}

	key := cacheKey(projectID, relPath)
	s.readCount.Add(ctx, 1)

	if value, ok := s.cache.get(key); ok {
		s.cacheHits.Add(ctx, 1)
		return value, nil
	}

	// Collapse concurrent misses for the same key into one disk read.
	v, err, _ := s.group.Do(key, func() (any, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
		}
		s.cache.put(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Remove deletes the committed value for (projectID, relPath). Removing
// an absent key is a no-op.
func (s *Store) Remove(ctx context.Context, projectID, relPath string) error {
	path, err := s.resolve(projectID, relPath)
	if err != nil {
		return err
	}

	key := cacheKey(projectID, relPath)
	s.cache.invalidate(key)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", relPath, err)
	}

	s.cache.invalidate(key)
	return nil
}

// Stat returns metadata for a committed document.
func (s *Store) Stat(ctx context.Context, projectID, relPath string) (*FileInfo, error) {
	path, err := s.resolve(projectID, relPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", relPath, err)
	}

	return &FileInfo{
		ProjectID: projectID,
		Path:      relPath,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}, nil
}

// DeleteProject removes a project's entire subtree and purges its cache
// entries. Deleting an unknown project is a no-op.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	if err := ValidateName(projectID); err != nil {
		return fmt.Errorf("project id: %w", err)
	}

	s.cache.invalidateProject(projectID)

	dir := filepath.Join(s.root, projectID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}

	s.cache.invalidateProject(projectID)
	s.logger.Info("project deleted", zap.String("project_id", projectID))
	return nil
}

// ListProjects returns the IDs of all projects with a directory under the
// data root, sorted.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read data root: %w", err)
	}

	var projects []string
	for _, e := range entries {
		if e.IsDir() {
			projects = append(projects, e.Name())
		}
	}
	sort.Strings(projects)
	return projects, nil
}

// ListFiles returns the relative paths of all committed documents in a
// project, sorted. Transient temp files are skipped.
func (s *Store) ListFiles(ctx context.Context, projectID string) ([]string, error) {
	if err := ValidateName(projectID); err != nil {
		return nil, fmt.Errorf("project id: %w", err)
	}

	dir := filepath.Join(s.root, projectID)
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) == tmpSuffix {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// CacheLen reports the number of cached documents.
func (s *Store) CacheLen() int {
	return s.cache.len()
}

// resolve validates a key and maps it onto the filesystem.
func (s *Store) resolve(projectID, relPath string) (string, error) {
	if err := ValidateName(projectID); err != nil {
		return "", fmt.Errorf("project id: %w", err)
	}
	if err := ValidatePath(relPath); err != nil {
		return "", err
	}
	return filepath.Join(s.root, projectID, filepath.FromSlash(relPath)), nil
}

func cacheKey(projectID, relPath string) string {
	return projectID + "/" + relPath
}

// writeFileSync writes data and flushes it to stable storage before
// returning, so the subsequent rename commits a fully durable value.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// IsNotFound reports whether err is the absence of a committed value.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
