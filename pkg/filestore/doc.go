// Package filestore provides atomic, cached, file-backed document storage.
//
// Documents are keyed by (project ID, relative path) and stored under a
// single data root, one subdirectory per project. Every write goes through
// a temp-file-plus-rename protocol so a reader can only ever observe a
// complete, previously committed value, and every write invalidates the
// in-memory cache both before and after the rename to close the window
// where a concurrent reader could repopulate the cache with a stale value.
//
// A missing document is a normal result (ErrNotFound), not a failure.
//
// The store assumes per-project write exclusivity is enforced by the
// caller (see pkg/locker); the cache is the only structure it touches
// concurrently, and cache entries are only ever removed or fully
// replaced, never partially mutated.
package filestore
