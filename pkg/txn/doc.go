// Package txn composes multiple file store writes into an all-or-nothing
// transaction.
//
// Before any write is applied, the coordinator captures a backup of every
// touched key (the current committed value, or an explicit absent
// marker). Writes are applied in order; the first failure triggers a
// rollback that restores every applied key in reverse order and
// read-verifies each restored value. Rollback failures are logged as
// integrity warnings rather than returned, so the primary failure cause
// is never masked.
//
// The coordinator assumes the caller already holds the project's
// serialized slot (pkg/locker); transactions touching distinct projects
// are fully independent and have no ordering guarantee.
package txn
