package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger/ledgertest"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) domain.Ledger {
		return NewLedger(openStore(t))
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestReopenKeepsStateAndSkipsAppliedMigrations(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	alice := ledgertest.Addr("alice")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, NewLedger(s).Fund(ctx, alice, 42))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	acct, err := NewLedger(s).Account(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), acct.Balance)

	var applied int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestReplayDetectedAfterReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "replay.db")
	a, b := ledgertest.Addr("a"), ledgertest.Addr("b")
	move := func(tx domain.LedgerTx) error { return tx.Transfer(a, b, 1) }

	s, err := Open(ctx, path)
	require.NoError(t, err)
	l := NewLedger(s)
	require.NoError(t, l.Fund(ctx, a, 5))
	_, err = l.Execute(ctx, ledgertest.TxID("persisted"), []domain.Address{a, b}, move)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	_, err = NewLedger(s).Execute(ctx, ledgertest.TxID("persisted"), []domain.Address{a, b}, move)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)
}

func TestAuditStore(t *testing.T) {
	ctx := context.Background()
	audit := NewAuditStore(openStore(t))

	require.NoError(t, audit.Log(ctx, "tx.settle_match", map[string]any{"match_id": float64(1)}))
	require.NoError(t, audit.Log(ctx, "archive.matches", map[string]any{"count": float64(3)}))

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "archive.matches", entries[0].Event)
	assert.Equal(t, float64(3), entries[0].Detail["count"])

	future := time.Now().Add(time.Hour)
	none, err := audit.List(ctx, domain.ListOpts{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, none)

	page, err := audit.List(ctx, domain.ListOpts{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "tx.settle_match", page[0].Event)
}
