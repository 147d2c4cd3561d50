package escrow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger/ledgertest"
	"github.com/alanyoungcy/stakeescrow/internal/ledger/memory"
)

const startingBalance = 1_000_000_000

var (
	admin     = ledgertest.Addr("admin")
	alice     = ledgertest.Addr("alice")
	bob       = ledgertest.Addr("bob")
	carol     = ledgertest.Addr("carol")
	resolver  = ledgertest.Addr("resolver")
	programID = ledgertest.Addr("escrow-program")
)

type harness struct {
	t       *testing.T
	ctx     context.Context
	ledger  *memory.Ledger
	program *Program
	seq     int
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	cfg.ProgramID = programID
	p, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		ledger:  memory.New(memory.WithClock(func() time.Time { return clock })),
		program: p,
	}
	for _, id := range []domain.Address{admin, alice, bob, carol, resolver} {
		require.NoError(t, h.ledger.Fund(h.ctx, id, startingBalance))
	}
	return h
}

// submit signs ins as its authority unless explicit signers are given.
func (h *harness) submit(ins domain.Instruction, signers ...domain.Address) (*domain.Receipt, error) {
	h.seq++
	if len(signers) == 0 {
		signers = []domain.Address{ins.Authority}
	}
	return h.program.Submit(h.ctx, h.ledger, domain.Transaction{
		ID:          ledgertest.TxID(fmt.Sprintf("%s-%d", h.t.Name(), h.seq)),
		Instruction: ins,
		Signers:     signers,
	})
}

func (h *harness) must(ins domain.Instruction, signers ...domain.Address) *domain.Receipt {
	h.t.Helper()
	receipt, err := h.submit(ins, signers...)
	require.NoError(h.t, err)
	return receipt
}

func (h *harness) balance(addr domain.Address) uint64 {
	h.t.Helper()
	acct, err := h.ledger.Account(h.ctx, addr)
	require.NoError(h.t, err)
	return acct.Balance
}

func (h *harness) match(id uint64) domain.MatchView {
	h.t.Helper()
	view, err := h.program.Match(h.ctx, h.ledger, id)
	require.NoError(h.t, err)
	return view
}

func (h *harness) config() domain.ConfigView {
	h.t.Helper()
	view, err := h.program.Config(h.ctx, h.ledger)
	require.NoError(h.t, err)
	return view
}

func initialize(fee uint8) domain.Instruction {
	return domain.Instruction{Op: domain.OpInitialize, Authority: admin, FeePercentage: fee}
}

func create(by domain.Address, id, stake uint64) domain.Instruction {
	return domain.Instruction{Op: domain.OpCreateMatch, Authority: by, MatchID: id, Amount: stake}
}

func join(by domain.Address, id uint64) domain.Instruction {
	return domain.Instruction{Op: domain.OpJoinMatch, Authority: by, MatchID: id}
}

func settle(by domain.Address, id uint64, winner domain.Address) domain.Instruction {
	return domain.Instruction{Op: domain.OpSettleMatch, Authority: by, MatchID: id, Winner: winner}
}

func cancel(by domain.Address, id uint64) domain.Instruction {
	return domain.Instruction{Op: domain.OpCancelMatch, Authority: by, MatchID: id}
}

func withdraw(by domain.Address, amount uint64) domain.Instruction {
	return domain.Instruction{Op: domain.OpWithdrawFees, Authority: by, Amount: amount}
}

func TestNewRequiresProgramID(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	p, err := New(Config{ProgramID: programID}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultMinStake, p.MinStake())
	assert.Equal(t, domain.ConfigAddress(programID), p.ConfigAddress())
}

func TestInitialize(t *testing.T) {
	for _, fee := range []uint8{0, 1, 5, 50, 99, 100} {
		t.Run(fmt.Sprintf("fee %d accepted", fee), func(t *testing.T) {
			h := newHarness(t, Config{})
			receipt := h.must(initialize(fee))
			assert.Equal(t, domain.OpInitialize, receipt.Op)

			cfg := h.config()
			assert.Equal(t, admin, cfg.Admin)
			assert.Equal(t, fee, cfg.FeePercentage)
			assert.Zero(t, cfg.TotalMatches)
			assert.Zero(t, cfg.TotalFeesAccrued)
		})
	}

	for _, fee := range []uint8{101, 200, 255} {
		t.Run(fmt.Sprintf("fee %d rejected", fee), func(t *testing.T) {
			h := newHarness(t, Config{})
			_, err := h.submit(initialize(fee))
			require.ErrorIs(t, err, domain.ErrInvalidFeePercentage)

			_, err = h.program.Config(h.ctx, h.ledger)
			require.ErrorIs(t, err, domain.ErrNotFound)
		})
	}

	t.Run("second initialize fails", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(initialize(5))
		_, err := h.submit(domain.Instruction{Op: domain.OpInitialize, Authority: carol, FeePercentage: 10})
		require.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.Equal(t, admin, h.config().Admin)
	})
}

func TestCreateMatch(t *testing.T) {
	tests := []struct {
		name  string
		stake uint64
		want  error
	}{
		{name: "zero stake", stake: 0, want: domain.ErrInvalidStakeAmount},
		{name: "one below floor", stake: domain.DefaultMinStake - 1, want: domain.ErrStakeTooLow},
		{name: "tiny stake", stake: 1, want: domain.ErrStakeTooLow},
		{name: "more than balance", stake: startingBalance + 1, want: domain.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			_, err := h.submit(create(alice, 7, tt.stake))
			require.ErrorIs(t, err, tt.want)

			_, err = h.program.Match(h.ctx, h.ledger, 7)
			require.ErrorIs(t, err, domain.ErrNotFound)
			assert.Equal(t, uint64(startingBalance), h.balance(alice))
		})
	}

	t.Run("exactly the floor", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 7, domain.DefaultMinStake))

		m := h.match(7)
		assert.Equal(t, domain.DefaultMinStake, m.Balance)
		assert.Equal(t, alice, m.Depositor)
		assert.True(t, m.Opponent.IsZero())
		assert.True(t, m.Winner.IsZero())
		assert.Equal(t, domain.MatchStatusWaitingForOpponent, m.Status)
		assert.Equal(t, int64(1767323045), m.CreatedAt)
		assert.Equal(t, uint64(startingBalance)-domain.DefaultMinStake, h.balance(alice))
	})

	t.Run("configured floor", func(t *testing.T) {
		h := newHarness(t, Config{MinStake: 50})
		_, err := h.submit(create(alice, 1, 49))
		require.ErrorIs(t, err, domain.ErrStakeTooLow)
		h.must(create(alice, 1, 50))
	})

	t.Run("duplicate id", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 9, domain.DefaultMinStake))
		_, err := h.submit(create(bob, 9, domain.DefaultMinStake))
		require.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.Equal(t, uint64(startingBalance), h.balance(bob))
	})

	t.Run("prefunded address", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(initialize(5))
		h.must(domain.Instruction{Op: domain.OpTransfer, Authority: carol, To: h.program.MatchAddress(1), Amount: 7})

		_, err := h.submit(create(alice, 1, domain.DefaultMinStake))
		require.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.Equal(t, uint64(startingBalance), h.balance(alice))
		assert.Equal(t, uint64(7), h.balance(h.program.MatchAddress(1)))

		// A fresh id settles with the record drained to zero.
		h.must(create(alice, 2, domain.DefaultMinStake))
		h.must(join(bob, 2))
		h.must(settle(resolver, 2, alice))
		m := h.match(2)
		assert.Equal(t, domain.MatchStatusSettled, m.Status)
		assert.Zero(t, m.Balance)
	})

	t.Run("unsigned", func(t *testing.T) {
		h := newHarness(t, Config{})
		_, err := h.submit(create(alice, 9, domain.DefaultMinStake), bob)
		require.ErrorIs(t, err, domain.ErrMissingSignature)
	})
}

func TestJoinMatch(t *testing.T) {
	t.Run("depositor cannot join own match", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		_, err := h.submit(join(alice, 1))
		require.ErrorIs(t, err, domain.ErrCannotPlaySelf)
	})

	t.Run("in progress match is not available", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(join(bob, 1))
		_, err := h.submit(join(carol, 1))
		require.ErrorIs(t, err, domain.ErrGameNotAvailable)
		assert.Equal(t, bob, h.match(1).Opponent)
	})

	t.Run("join moves the matching stake", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, 2*domain.DefaultMinStake))
		h.must(join(bob, 1))

		m := h.match(1)
		assert.Equal(t, domain.MatchStatusInProgress, m.Status)
		assert.Equal(t, 4*domain.DefaultMinStake, m.Balance)
		assert.Equal(t, uint64(startingBalance)-2*domain.DefaultMinStake, h.balance(bob))
	})

	t.Run("unknown match", func(t *testing.T) {
		h := newHarness(t, Config{})
		_, err := h.submit(join(bob, 404))
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("concurrent joins admit exactly one opponent", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))

		var wg sync.WaitGroup
		results := make(chan error, 2)
		for i, who := range []domain.Address{bob, carol} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := h.program.Submit(h.ctx, h.ledger, domain.Transaction{
					ID:          ledgertest.TxID(fmt.Sprintf("race-%d", i)),
					Instruction: join(who, 1),
					Signers:     []domain.Address{who},
				})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var ok, unavailable int
		for err := range results {
			if err == nil {
				ok++
				continue
			}
			require.ErrorIs(t, err, domain.ErrGameNotAvailable)
			unavailable++
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, unavailable)
		assert.Equal(t, 2*domain.DefaultMinStake, h.match(1).Balance)
	})
}

func TestSettleMatch(t *testing.T) {
	setup := func(t *testing.T, cfg Config) *harness {
		h := newHarness(t, cfg)
		h.must(initialize(10))
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(join(bob, 1))
		return h
	}

	t.Run("winner must be a participant", func(t *testing.T) {
		h := setup(t, Config{})
		_, err := h.submit(settle(resolver, 1, carol))
		require.ErrorIs(t, err, domain.ErrInvalidWinner)
		_, err = h.submit(settle(resolver, 1, domain.ZeroAddress))
		require.ErrorIs(t, err, domain.ErrInvalidWinner)
		assert.Equal(t, domain.MatchStatusInProgress, h.match(1).Status)
	})

	t.Run("waiting match is not in progress", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(initialize(10))
		h.must(create(alice, 2, domain.DefaultMinStake))
		_, err := h.submit(settle(resolver, 2, alice))
		require.ErrorIs(t, err, domain.ErrGameNotInProgress)
	})

	t.Run("settled match cannot settle again", func(t *testing.T) {
		h := setup(t, Config{})
		h.must(settle(resolver, 1, bob))
		_, err := h.submit(settle(resolver, 1, alice))
		require.ErrorIs(t, err, domain.ErrGameNotInProgress)
		assert.Equal(t, uint64(1), h.config().TotalMatches)
	})

	t.Run("any signer may resolve by default", func(t *testing.T) {
		h := setup(t, Config{})
		h.must(settle(carol, 1, bob))
		assert.Equal(t, bob, h.match(1).Winner)
	})

	t.Run("resolver must sign", func(t *testing.T) {
		h := setup(t, Config{})
		_, err := h.submit(settle(resolver, 1, bob), carol)
		require.ErrorIs(t, err, domain.ErrMissingSignature)
	})

	t.Run("trusted resolvers restrict settlement", func(t *testing.T) {
		h := setup(t, Config{TrustedResolvers: []domain.Address{resolver}})
		_, err := h.submit(settle(carol, 1, bob))
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		h.must(settle(resolver, 1, bob))
	})

	t.Run("settlement without configuration fails", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(join(bob, 1))
		_, err := h.submit(settle(resolver, 1, bob))
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("winner equal to admin receives both amounts", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(initialize(10))
		h.must(create(admin, 3, domain.DefaultMinStake))
		h.must(join(bob, 3))
		h.must(settle(resolver, 3, admin))
		assert.Equal(t, uint64(startingBalance)+domain.DefaultMinStake, h.balance(admin))
		assert.Zero(t, h.match(3).Balance)
	})
}

func TestCancelMatch(t *testing.T) {
	t.Run("in progress match cannot be cancelled", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(join(bob, 1))
		_, err := h.submit(cancel(alice, 1))
		require.ErrorIs(t, err, domain.ErrCannotCancelInProgress)
	})

	t.Run("only the depositor may cancel", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		_, err := h.submit(cancel(bob, 1))
		require.ErrorIs(t, err, domain.ErrUnauthorized)
		assert.Equal(t, domain.MatchStatusWaitingForOpponent, h.match(1).Status)
	})

	t.Run("cancelled match cannot be cancelled again", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(cancel(alice, 1))
		_, err := h.submit(cancel(alice, 1))
		require.ErrorIs(t, err, domain.ErrCannotCancelInProgress)
		assert.Equal(t, uint64(startingBalance), h.balance(alice))
	})
}

func TestWithdrawFees(t *testing.T) {
	setup := func(t *testing.T) *harness {
		h := newHarness(t, Config{})
		h.must(initialize(5))
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(join(bob, 1))
		h.must(settle(resolver, 1, alice))
		// Fees are paid straight to the admin at settlement; the
		// configuration record only holds what is sent to it.
		h.must(domain.Instruction{Op: domain.OpTransfer, Authority: carol, To: h.program.ConfigAddress(), Amount: 5_000_000})
		return h
	}

	t.Run("only admin", func(t *testing.T) {
		h := setup(t)
		_, err := h.submit(withdraw(carol, 1))
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("bounded by accrued fees even when balance covers", func(t *testing.T) {
		h := setup(t)
		require.Equal(t, uint64(1_000_000), h.config().TotalFeesAccrued)
		_, err := h.submit(withdraw(admin, 1_000_001))
		require.ErrorIs(t, err, domain.ErrInsufficientFees)
	})

	t.Run("bounded by record balance", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(initialize(5))
		h.must(create(alice, 1, domain.DefaultMinStake))
		h.must(join(bob, 1))
		h.must(settle(resolver, 1, alice))
		_, err := h.submit(withdraw(admin, 1))
		require.ErrorIs(t, err, domain.ErrInsufficientFees)
	})

	t.Run("withdrawal leaves the accrued counter untouched", func(t *testing.T) {
		h := setup(t)
		before := h.balance(admin)
		h.must(withdraw(admin, 1_000_000))
		h.must(withdraw(admin, 1_000_000))

		cfg := h.config()
		assert.Equal(t, uint64(1_000_000), cfg.TotalFeesAccrued)
		assert.Equal(t, uint64(3_000_000), cfg.Balance)
		assert.Equal(t, before+2_000_000, h.balance(admin))
	})
}

func TestTransfer(t *testing.T) {
	t.Run("wallet to wallet", func(t *testing.T) {
		h := newHarness(t, Config{})
		fresh := ledgertest.Addr("fresh")
		h.must(domain.Instruction{Op: domain.OpTransfer, Authority: alice, To: fresh, Amount: 42})
		assert.Equal(t, uint64(42), h.balance(fresh))
	})

	t.Run("program record cannot be a source", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		m := h.program.MatchAddress(1)
		_, err := h.submit(domain.Instruction{Op: domain.OpTransfer, Authority: m, To: bob, Amount: 1})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("match record cannot be a destination", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.must(create(alice, 1, domain.DefaultMinStake))
		_, err := h.submit(domain.Instruction{Op: domain.OpTransfer, Authority: bob, To: h.program.MatchAddress(1), Amount: 1})
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("zero amount", func(t *testing.T) {
		h := newHarness(t, Config{})
		_, err := h.submit(domain.Instruction{Op: domain.OpTransfer, Authority: alice, To: bob})
		require.ErrorIs(t, err, domain.ErrInvalidInstruction)
	})
}

func TestSubmitRejectsReplay(t *testing.T) {
	h := newHarness(t, Config{})
	tx := domain.Transaction{
		ID:          ledgertest.TxID("replay"),
		Instruction: create(alice, 1, domain.DefaultMinStake),
		Signers:     []domain.Address{alice},
	}
	_, err := h.program.Submit(h.ctx, h.ledger, tx)
	require.NoError(t, err)
	_, err = h.program.Submit(h.ctx, h.ledger, tx)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)
}

func TestSubmitRejectsMalformedInstruction(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.submit(domain.Instruction{Op: "mint", Authority: alice})
	require.ErrorIs(t, err, domain.ErrInvalidInstruction)
	_, err = h.submit(domain.Instruction{Op: domain.OpJoinMatch})
	require.ErrorIs(t, err, domain.ErrInvalidInstruction)
}

func TestReclaim(t *testing.T) {
	h := newHarness(t, Config{})
	h.must(initialize(5))
	h.must(create(alice, 1, domain.DefaultMinStake))
	h.must(create(alice, 2, domain.DefaultMinStake))
	h.must(cancel(alice, 1))

	_, err := h.program.Reclaim(h.ctx, h.ledger, 2)
	require.ErrorIs(t, err, domain.ErrInvalidInstruction)

	receipt, err := h.program.Reclaim(h.ctx, h.ledger, 1)
	require.NoError(t, err)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, domain.EventMatchArchived, receipt.Events[0].Kind)

	_, err = h.program.Match(h.ctx, h.ledger, 1)
	require.ErrorIs(t, err, domain.ErrAccountClosed)

	_, err = h.program.Reclaim(h.ctx, h.ledger, 1)
	require.ErrorIs(t, err, domain.ErrDuplicateTransaction)

	_, err = h.submit(create(bob, 1, domain.DefaultMinStake))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	_, err = h.submit(join(bob, 1))
	require.ErrorIs(t, err, domain.ErrAccountClosed)
}

func TestQueries(t *testing.T) {
	h := newHarness(t, Config{})
	h.must(initialize(5))
	h.must(create(alice, 3, domain.DefaultMinStake))
	h.must(create(alice, 1, domain.DefaultMinStake))
	h.must(create(bob, 2, domain.DefaultMinStake))
	h.must(join(carol, 2))

	all, err := h.program.Matches(h.ctx, h.ledger, domain.MatchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{all[0].MatchID, all[1].MatchID, all[2].MatchID})

	inProgress := domain.MatchStatusInProgress
	live, err := h.program.Matches(h.ctx, h.ledger, domain.MatchFilter{Status: &inProgress})
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.NotNil(t, live[0].Preview)
	assert.Equal(t, domain.Settlement{Pool: 20_000_000, Fee: 1_000_000, Payout: 19_000_000}, *live[0].Preview)

	assert.Nil(t, h.match(1).Preview)

	page, err := h.program.Matches(h.ctx, h.ledger, domain.MatchFilter{ListOpts: domain.ListOpts{Offset: 1, Limit: 1}})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, uint64(2), page[0].MatchID)

	acct, err := h.program.Account(h.ctx, h.ledger, h.program.MatchAddress(2))
	require.NoError(t, err)
	assert.Equal(t, programID, acct.Owner)
}
