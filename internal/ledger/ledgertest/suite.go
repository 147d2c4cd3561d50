// Package ledgertest is a conformance suite every domain.Ledger backend must
// pass.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger"
)

// Factory returns a fresh, empty ledger for one subtest.
type Factory func(t *testing.T) domain.Ledger

// TxID derives a deterministic transaction id from a label.
func TxID(label string) domain.Hash {
	return domain.Hash(ethcrypto.Keccak256Hash([]byte(label)))
}

// Addr derives a deterministic address from a label.
func Addr(label string) domain.Address {
	return domain.Address(ethcrypto.Keccak256Hash([]byte("addr:" + label)))
}

var program = Addr("program")

// Run executes the suite against ledgers produced by newLedger.
func Run(t *testing.T, newLedger Factory) {
	t.Run("fund and read", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		alice := Addr("alice")

		_, err := l.Account(ctx, alice)
		require.ErrorIs(t, err, domain.ErrNotFound)

		require.NoError(t, l.Fund(ctx, alice, 500))
		require.NoError(t, l.Fund(ctx, alice, 250))

		acct, err := l.Account(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, uint64(750), acct.Balance)
		assert.True(t, acct.IsSystem())
	})

	t.Run("create then duplicate create", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		rec := Addr("record")

		_, err := l.Execute(ctx, TxID("create-1"), []domain.Address{rec}, func(tx domain.LedgerTx) error {
			return tx.Create(rec, program, []byte{1, 2, 3})
		})
		require.NoError(t, err)

		_, err = l.Execute(ctx, TxID("create-2"), []domain.Address{rec}, func(tx domain.LedgerTx) error {
			return tx.Create(rec, program, []byte{9})
		})
		require.ErrorIs(t, err, domain.ErrAlreadyExists)

		acct, err := l.Account(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, program, acct.Owner)
		assert.Equal(t, []byte{1, 2, 3}, acct.Data)
	})

	t.Run("create adopts a prefunded system balance", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		rec := Addr("prefunded")
		require.NoError(t, l.Fund(ctx, rec, 9))

		_, err := l.Execute(ctx, TxID("adopt"), []domain.Address{rec}, func(tx domain.LedgerTx) error {
			return tx.Create(rec, program, []byte{4})
		})
		require.NoError(t, err)

		acct, err := l.Account(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, program, acct.Owner)
		assert.Equal(t, uint64(9), acct.Balance)
		assert.Equal(t, []byte{4}, acct.Data)
	})

	t.Run("undeclared access fails", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		declared, other := Addr("declared"), Addr("other")
		require.NoError(t, l.Fund(ctx, declared, 10))

		_, err := l.Execute(ctx, TxID("undeclared"), []domain.Address{declared}, func(tx domain.LedgerTx) error {
			return tx.Transfer(declared, other, 5)
		})
		require.ErrorIs(t, err, domain.ErrAccountNotDeclared)

		acct, err := l.Account(ctx, declared)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), acct.Balance)
	})

	t.Run("failure discards every staged write", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		payer, rec := Addr("payer"), Addr("escrow")
		require.NoError(t, l.Fund(ctx, payer, 100))

		_, err := l.Execute(ctx, TxID("partial"), []domain.Address{payer, rec}, func(tx domain.LedgerTx) error {
			if err := tx.Create(rec, program, []byte{7}); err != nil {
				return err
			}
			if err := tx.Transfer(payer, rec, 60); err != nil {
				return err
			}
			return tx.Transfer(payer, rec, 60)
		})
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		_, err = l.Account(ctx, rec)
		require.ErrorIs(t, err, domain.ErrNotFound)
		acct, err := l.Account(ctx, payer)
		require.NoError(t, err)
		assert.Equal(t, uint64(100), acct.Balance)
	})

	t.Run("receipt lists transfers and events", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		a, b := Addr("a"), Addr("b")
		require.NoError(t, l.Fund(ctx, a, 40))

		receipt, err := l.Execute(ctx, TxID("receipt"), []domain.Address{b, a}, func(tx domain.LedgerTx) error {
			tx.Emit(domain.Event{Kind: domain.EventTransfer, Actor: a, Amount: 15})
			return tx.Transfer(a, b, 15)
		})
		require.NoError(t, err)
		assert.Equal(t, TxID("receipt"), receipt.TxID)
		assert.Equal(t, []domain.Transfer{{From: a, To: b, Amount: 15}}, receipt.Transfers)
		require.Len(t, receipt.Events, 1)
		assert.False(t, receipt.ExecutedAt.IsZero())

		acct, err := l.Account(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, uint64(15), acct.Balance)
		assert.True(t, acct.IsSystem())
	})

	t.Run("replayed transaction id is rejected", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		a, b := Addr("a"), Addr("b")
		require.NoError(t, l.Fund(ctx, a, 40))

		move := func(tx domain.LedgerTx) error { return tx.Transfer(a, b, 10) }
		_, err := l.Execute(ctx, TxID("once"), []domain.Address{a, b}, move)
		require.NoError(t, err)
		_, err = l.Execute(ctx, TxID("once"), []domain.Address{a, b}, move)
		require.ErrorIs(t, err, domain.ErrDuplicateTransaction)

		acct, err := l.Account(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, uint64(30), acct.Balance)
	})

	t.Run("failed transaction id may be resubmitted", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		a, b := Addr("a"), Addr("b")

		move := func(tx domain.LedgerTx) error { return tx.Transfer(a, b, 10) }
		_, err := l.Execute(ctx, TxID("retry"), []domain.Address{a, b}, move)
		require.Error(t, err)

		require.NoError(t, l.Fund(ctx, a, 10))
		_, err = l.Execute(ctx, TxID("retry"), []domain.Address{a, b}, move)
		require.NoError(t, err)
	})

	t.Run("close tombstones and reserves the address", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		rec, holder := Addr("closing"), Addr("holder")
		require.NoError(t, l.Fund(ctx, holder, 5))

		_, err := l.Execute(ctx, TxID("open"), []domain.Address{rec, holder}, func(tx domain.LedgerTx) error {
			if err := tx.Create(rec, program, []byte{1}); err != nil {
				return err
			}
			return tx.Transfer(holder, rec, 5)
		})
		require.NoError(t, err)

		_, err = l.Execute(ctx, TxID("close-full"), []domain.Address{rec}, func(tx domain.LedgerTx) error {
			return tx.Close(rec)
		})
		require.ErrorIs(t, err, domain.ErrAccountNotEmpty)

		_, err = l.Execute(ctx, TxID("drain-close"), []domain.Address{rec, holder}, func(tx domain.LedgerTx) error {
			if err := tx.Transfer(rec, holder, 5); err != nil {
				return err
			}
			return tx.Close(rec)
		})
		require.NoError(t, err)

		acct, err := l.Account(ctx, rec)
		require.NoError(t, err)
		assert.True(t, acct.Closed)
		assert.Empty(t, acct.Data)

		listed, err := l.ProgramAccounts(ctx, program, domain.ListOpts{})
		require.NoError(t, err)
		assert.Empty(t, listed)

		_, err = l.Execute(ctx, TxID("recreate"), []domain.Address{rec}, func(tx domain.LedgerTx) error {
			return tx.Create(rec, program, []byte{2})
		})
		require.ErrorIs(t, err, domain.ErrAlreadyExists)

		_, err = l.Execute(ctx, TxID("credit-closed"), []domain.Address{rec, holder}, func(tx domain.LedgerTx) error {
			return tx.Transfer(holder, rec, 1)
		})
		require.ErrorIs(t, err, domain.ErrAccountClosed)
	})

	t.Run("program accounts are ordered and paginated", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		var addrs []domain.Address
		for i := range 5 {
			addrs = append(addrs, Addr(fmt.Sprintf("rec-%d", i)))
		}
		_, err := l.Execute(ctx, TxID("bulk"), addrs, func(tx domain.LedgerTx) error {
			for _, a := range addrs {
				if err := tx.Create(a, program, []byte{0}); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
		require.NoError(t, l.Fund(ctx, Addr("wallet"), 1))

		all, err := l.ProgramAccounts(ctx, program, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i := 1; i < len(all); i++ {
			assert.Less(t, all[i-1].Address.Hex(), all[i].Address.Hex())
		}

		page, err := l.ProgramAccounts(ctx, program, domain.ListOpts{Offset: 1, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, all[1:3], page)
	})

	t.Run("fund overflow is rejected", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		a := Addr("whale")
		require.NoError(t, l.Fund(ctx, a, ledger.MaxBalance))
		err := l.Fund(ctx, a, 1)
		require.True(t, errors.Is(err, domain.ErrArithmeticOverflow), "got %v", err)
	})

	t.Run("concurrent transfers conserve balance", func(t *testing.T) {
		ctx := context.Background()
		l := newLedger(t)
		a, b, c := Addr("a"), Addr("b"), Addr("c")
		require.NoError(t, l.Fund(ctx, a, 1000))
		require.NoError(t, l.Fund(ctx, b, 1000))

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				from, to := a, b
				if i%2 == 1 {
					from, to = b, a
				}
				_, err := l.Execute(ctx, TxID(fmt.Sprintf("c-%d", i)), []domain.Address{from, to, c}, func(tx domain.LedgerTx) error {
					if err := tx.Transfer(from, to, 10); err != nil {
						return err
					}
					return tx.Transfer(to, c, 1)
				})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		var total uint64
		for _, addr := range []domain.Address{a, b, c} {
			acct, err := l.Account(ctx, addr)
			require.NoError(t, err)
			total += acct.Balance
		}
		assert.Equal(t, uint64(2000), total)
		acct, err := l.Account(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, uint64(workers), acct.Balance)
	})
}
