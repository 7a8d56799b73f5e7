// Package core wires the forestd storage layer together and exposes the
// API surface collaborators consume.
//
// A Core is constructed once at process start and passed by reference;
// there are no package-level singletons. Project file operations should
// run inside RunSerialized; session operations deliberately bypass the
// per-project lock, since the session store's upsert semantics provide
// the durability it needs and it is keyed independently of project file
// state.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/BretMeraki/forestd/internal/config"
	"github.com/BretMeraki/forestd/pkg/dialogue"
	"github.com/BretMeraki/forestd/pkg/filestore"
	"github.com/BretMeraki/forestd/pkg/locker"
	"github.com/BretMeraki/forestd/pkg/txn"
)

// Core is the durable state and concurrency-control layer.
type Core struct {
	logger   *zap.Logger
	locker   *locker.Locker
	files    *filestore.Store
	txns     *txn.Coordinator
	sessions dialogue.Store
}

// New builds a Core from configuration. The session store degrades to
// in-memory when its database cannot be opened; every other failure is
// fatal. logger may be nil.
func New(cfg *config.Config, logger *zap.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	files, err := filestore.New(filestore.Config{
		Root:            cfg.DataDir,
		CacheMaxEntries: cfg.Cache.MaxEntries,
		WatchExternal:   cfg.Watcher.Enabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create file store: %w", err)
	}

	sessions := dialogue.NewStoreOrFallback(filepath.Join(cfg.DataDir, cfg.SessionDB), logger)

	return &Core{
		logger:   logger.Named("core"),
		locker:   locker.New(logger),
		files:    files,
		txns:     txn.New(files, logger),
		sessions: sessions,
	}, nil
}

// Close releases the session store and the file store's watcher.
func (c *Core) Close() error {
	var firstErr error
	if err := c.sessions.Close(); err != nil {
		firstErr = err
	}
	if err := c.files.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Files exposes the underlying file store for maintenance tooling.
func (c *Core) Files() *filestore.Store {
	return c.files
}

// Sessions exposes the underlying session store for maintenance tooling.
func (c *Core) Sessions() dialogue.Store {
	return c.sessions
}

// RunSerialized executes fn under the project's exclusive slot. See
// pkg/locker for ordering and failure semantics.
func (c *Core) RunSerialized(ctx context.Context, projectID string, fn locker.Op) (any, error) {
	return c.locker.Run(ctx, projectID, fn)
}

// ReadFile returns the committed document at (projectID, path).
// filestore.ErrNotFound reports an absent document.
func (c *Core) ReadFile(ctx context.Context, projectID, path string) ([]byte, error) {
	return c.files.Read(ctx, projectID, path)
}

// WriteFile atomically commits a document at (projectID, path).
func (c *Core) WriteFile(ctx context.Context, projectID, path string, value []byte) error {
	return c.files.Write(ctx, projectID, path, value)
}

// ReadJSON decodes the committed document at (projectID, path) into v.
func (c *Core) ReadJSON(ctx context.Context, projectID, path string, v any) error {
	data, err := c.files.Read(ctx, projectID, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s/%s: %w", projectID, path, err)
	}
	return nil
}

// WriteJSON encodes v and atomically commits it at (projectID, path).
func (c *Core) WriteJSON(ctx context.Context, projectID, path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", projectID, path, err)
	}
	return c.files.Write(ctx, projectID, path, data)
}

// Transact runs an all-or-nothing batch of writes for one project,
// serialized under that project's slot. Ops naming a different project
// are rejected before any I/O.
func (c *Core) Transact(ctx context.Context, projectID string, ops []txn.Op) (txn.Result, error) {
	for _, op := range ops {
		if op.ProjectID != projectID {
			return txn.Result{}, fmt.Errorf("op for project %q inside transaction for %q", op.ProjectID, projectID)
		}
	}
	return locker.Do(ctx, c.locker, projectID, func(ctx context.Context) (txn.Result, error) {
		return c.txns.Transact(ctx, ops)
	})
}

// DeleteProject removes a project's files and cache entries, serialized
// under the project's slot. Session records are left for the operator;
// they are keyed independently.
func (c *Core) DeleteProject(ctx context.Context, projectID string) error {
	_, err := c.locker.Run(ctx, projectID, func(ctx context.Context) (any, error) {
		return nil, c.files.DeleteProject(ctx, projectID)
	})
	return err
}

// SaveSession durably upserts a dialogue session. Safe to call every
// round.
func (c *Core) SaveSession(ctx context.Context, session *dialogue.Session) error {
	return c.sessions.Save(ctx, session)
}

// LoadSession retrieves a dialogue session by id.
func (c *Core) LoadSession(ctx context.Context, sessionID string) (*dialogue.Session, error) {
	return c.sessions.Load(ctx, sessionID)
}

// ListActiveSessions returns active sessions, newest first. An empty
// projectID means all projects.
func (c *Core) ListActiveSessions(ctx context.Context, projectID string) ([]*dialogue.Session, error) {
	return c.sessions.ListActive(ctx, projectID)
}

// CompleteSession marks a session terminal with its result.
func (c *Core) CompleteSession(ctx context.Context, sessionID string, result json.RawMessage, finalConfidence float64) error {
	return c.sessions.Complete(ctx, sessionID, result, finalConfidence)
}
