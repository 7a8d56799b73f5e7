// Package dialogue provides durable, restart-resumable storage for
// goal-clarification dialogue sessions.
//
// Sessions live in an embedded SQLite database, independent of the
// project file store: they are written every round and looked up by
// project and status rather than by path. Save is an idempotent upsert,
// so a host process can persist after every round and replay nothing on
// restart; ListActive rebuilds in-memory state after a crash.
//
// Storage failures are fatal to the session feature, never to the host:
// NewStoreOrFallback degrades to an in-memory store with a logged
// warning when the database cannot be opened.
package dialogue
