package txn

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BretMeraki/forestd/pkg/filestore"
)

// Store is the subset of the file store a transaction needs.
type Store interface {
	Read(ctx context.Context, projectID, relPath string) ([]byte, error)
	Write(ctx context.Context, projectID, relPath string, value []byte) error
	Remove(ctx context.Context, projectID, relPath string) error
}

// Op is one write inside a transaction.
type Op struct {
	ProjectID string
	Path      string
	Value     []byte
}

// Result reports a transaction's outcome.
type Result struct {
	// Committed is the number of writes durably applied. Zero after a
	// rolled-back failure.
	Committed int
}

// backup holds a key's pre-transaction state.
type backup struct {
	value   []byte
	present bool
}

// Coordinator applies transactions against a Store.
type Coordinator struct {
	store  Store
	logger *zap.Logger
}

// New creates a Coordinator. logger may be nil.
func New(store Store, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:  store,
		logger: logger.Named("txn"),
	}
}

// Transact applies ops in order with all-or-nothing semantics. On success
// it reports len(ops) committed; on failure every touched key is restored
// to its pre-transaction value and the primary error is returned with
// zero committed.
func (c *Coordinator) Transact(ctx context.Context, ops []Op) (Result, error) {
	if len(ops) == 0 {
		return Result{}, nil
	}

	// Capture backups for every key before applying anything. A failure
	// here aborts the transaction with no writes issued.
	backups := make(map[string]backup, len(ops))
	for _, op := range ops {
		key := op.key()
		if _, ok := backups[key]; ok {
			continue
		}
		value, err := c.store.Read(ctx, op.ProjectID, op.Path)
		if err != nil {
			if filestore.IsNotFound(err) {
				backups[key] = backup{present: false}
				continue
			}
			return Result{}, fmt.Errorf("failed to capture backup for %s: %w", key, err)
		}
		backups[key] = backup{value: value, present: true}
	}

	applied := make([]Op, 0, len(ops))
	for _, op := range ops {
		if err := c.store.Write(ctx, op.ProjectID, op.Path, op.Value); err != nil {
			c.rollback(ctx, applied, backups)
			return Result{}, fmt.Errorf("transaction failed at %s, rolled back: %w", op.key(), err)
		}
		applied = append(applied, op)
	}

	return Result{Committed: len(applied)}, nil
}

// rollback restores applied keys in reverse application order. Each key
// is restored once, to its pre-transaction state, and read-verified.
// Failures here are integrity warnings for the operator; they are never
// re-raised because they would mask the primary cause and the caller
// cannot act on them.
func (c *Coordinator) rollback(ctx context.Context, applied []Op, backups map[string]backup) {
	restored := make(map[string]struct{}, len(applied))
	for i := len(applied) - 1; i >= 0; i-- {
		op := applied[i]
		key := op.key()
		if _, ok := restored[key]; ok {
			continue
		}
		restored[key] = struct{}{}

		b := backups[key]
		var err error
		if b.present {
			err = c.store.Write(ctx, op.ProjectID, op.Path, b.value)
		} else {
			err = c.store.Remove(ctx, op.ProjectID, op.Path)
		}
		if err != nil {
			c.logger.Error("rollback failed, manual repair required",
				zap.Bool("integrity_warning", true),
				zap.String("key", key),
				zap.Error(err))
			continue
		}

		c.verify(ctx, op, b)
	}
}

// verify re-reads a restored key and confirms it matches the backup.
func (c *Coordinator) verify(ctx context.Context, op Op, b backup) {
	value, err := c.store.Read(ctx, op.ProjectID, op.Path)
	switch {
	case !b.present:
		if err == nil {
			c.logger.Error("rollback verification failed: key should be absent",
				zap.Bool("integrity_warning", true),
				zap.String("key", op.key()))
		} else if !filestore.IsNotFound(err) {
			c.logVerifyError(op, err)
		}
	case err != nil:
		c.logVerifyError(op, err)
	case !bytes.Equal(value, b.value):
		c.logger.Error("rollback verification failed: restored value differs from backup",
			zap.Bool("integrity_warning", true),
			zap.String("key", op.key()))
	}
}

func (c *Coordinator) logVerifyError(op Op, err error) {
	c.logger.Error("rollback verification failed",
		zap.Bool("integrity_warning", true),
		zap.String("key", op.key()),
		zap.Error(err))
}

func (op Op) key() string {
	return op.ProjectID + "/" + op.Path
}
