// Package locker serializes logical operations per project.
//
// At most one operation runs per project ID at a time; operations for the
// same project run in strict submission order, while operations on
// distinct projects never block each other. This is the only mutual
// exclusion primitive in forestd: file writes and transactions rely on it
// for per-project exclusivity instead of taking their own locks.
//
// The lock table is scoped to a single process. Multiple processes
// sharing a data directory are not coordinated.
package locker
