package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BretMeraki/forestd/pkg/filestore"
)

func newTestStore(t *testing.T) *filestore.Store {
	t.Helper()
	s, err := filestore.New(filestore.Config{Root: t.TempDir()}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// failingStore wraps a Store and fails the Nth write.
type failingStore struct {
	Store
	failAt  int
	written int
}

func (f *failingStore) Write(ctx context.Context, projectID, relPath string, value []byte) error {
	f.written++
	if f.written == f.failAt {
		return errors.New("disk full")
	}
	return f.Store.Write(ctx, projectID, relPath, value)
}

func TestTransactCommitsAll(t *testing.T) {
	store := newTestStore(t)
	c := New(store, zaptest.NewLogger(t))
	ctx := context.Background()

	res, err := c.Transact(ctx, []Op{
		{ProjectID: "p1", Path: "config.json", Value: []byte(`{"goal":"X"}`)},
		{ProjectID: "p1", Path: "hta.json", Value: []byte(`{"root":{}}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Committed)

	got, err := store.Read(ctx, "p1", "config.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"goal":"X"}`), got)

	got, err = store.Read(ctx, "p1", "hta.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"root":{}}`), got)
}

func TestTransactEmptyIsNoop(t *testing.T) {
	c := New(newTestStore(t), nil)

	res, err := c.Transact(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Committed)
}

func TestTransactRollsBackOnFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Pre-transaction committed state for k1; k2 absent.
	require.NoError(t, store.Write(ctx, "p1", "config.json", []byte(`{"goal":"learn X"}`)))

	c := New(&failingStore{Store: store, failAt: 2}, zaptest.NewLogger(t))

	res, err := c.Transact(ctx, []Op{
		{ProjectID: "p1", Path: "config.json", Value: []byte(`{"goal":"Y"}`)},
		{ProjectID: "p1", Path: "hta.json", Value: []byte(`{"bad":true}`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rolled back")
	assert.Equal(t, 0, res.Committed)

	// k1 restored to its pre-transaction value.
	got, err := store.Read(ctx, "p1", "config.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"goal":"learn X"}`), got)

	// k2 was never committed.
	_, err = store.Read(ctx, "p1", "hta.json")
	assert.True(t, filestore.IsNotFound(err))
}

func TestTransactRollbackRemovesKeysAbsentBeforehand(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	c := New(&failingStore{Store: store, failAt: 3}, zaptest.NewLogger(t))

	res, err := c.Transact(ctx, []Op{
		{ProjectID: "p1", Path: "a.json", Value: []byte(`{}`)},
		{ProjectID: "p1", Path: "b.json", Value: []byte(`{}`)},
		{ProjectID: "p1", Path: "c.json", Value: []byte(`{}`)},
	})
	require.Error(t, err)
	assert.Equal(t, 0, res.Committed)

	for _, path := range []string{"a.json", "b.json", "c.json"} {
		_, err := store.Read(ctx, "p1", path)
		assert.True(t, filestore.IsNotFound(err), path)
	}
}

func TestTransactRepeatedKeyRestoresOriginalValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "p1", "doc.json", []byte(`{"v":"orig"}`)))

	c := New(&failingStore{Store: store, failAt: 3}, zaptest.NewLogger(t))

	// The same key is written twice before the failure; rollback must
	// restore the pre-transaction value, not the intermediate one.
	res, err := c.Transact(ctx, []Op{
		{ProjectID: "p1", Path: "doc.json", Value: []byte(`{"v":"first"}`)},
		{ProjectID: "p1", Path: "doc.json", Value: []byte(`{"v":"second"}`)},
		{ProjectID: "p1", Path: "other.json", Value: []byte(`{}`)},
	})
	require.Error(t, err)
	assert.Equal(t, 0, res.Committed)

	got, err := store.Read(ctx, "p1", "doc.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":"orig"}`), got)
}

func TestTransactBackupFailureAbortsBeforeAnyWrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "p1", "config.json", []byte(`{"v":1}`)))

	c := New(store, zaptest.NewLogger(t))

	// An invalid key fails backup capture; nothing is written.
	res, err := c.Transact(ctx, []Op{
		{ProjectID: "p1", Path: "config.json", Value: []byte(`{"v":2}`)},
		{ProjectID: "p1", Path: "../escape.json", Value: []byte(`{}`)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to capture backup")
	assert.Equal(t, 0, res.Committed)

	got, err := store.Read(ctx, "p1", "config.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)
}

// brokenRollbackStore also fails the restore write, forcing the
// integrity-warning path.
type brokenRollbackStore struct {
	Store
	writes int
}

func (b *brokenRollbackStore) Write(ctx context.Context, projectID, relPath string, value []byte) error {
	b.writes++
	if b.writes >= 2 {
		return errors.New("device gone")
	}
	return b.Store.Write(ctx, projectID, relPath, value)
}

func TestRollbackFailureLogsIntegrityWarning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Write(ctx, "p1", "doc.json", []byte(`{"v":"orig"}`)))

	core, logs := observer.New(zap.ErrorLevel)
	c := New(&brokenRollbackStore{Store: store}, zap.New(core))

	_, err := c.Transact(ctx, []Op{
		{ProjectID: "p1", Path: "doc.json", Value: []byte(`{"v":"new"}`)},
		{ProjectID: "p1", Path: "other.json", Value: []byte(`{}`)},
	})
	require.Error(t, err)
	// The primary cause is returned, not the rollback failure.
	assert.Contains(t, err.Error(), "device gone")

	entries := logs.FilterField(zap.Bool("integrity_warning", true)).All()
	require.NotEmpty(t, entries, "rollback failure must be logged for the operator")
}
