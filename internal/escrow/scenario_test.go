package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func TestScenarioSettleToDepositor(t *testing.T) {
	h := newHarness(t, Config{})
	const stake = 10_000_000

	h.must(initialize(5))
	h.must(create(alice, 1, stake))
	h.must(join(bob, 1))
	assert.Equal(t, domain.MatchStatusInProgress, h.match(1).Status)

	adminBefore := h.balance(admin)
	receipt := h.must(settle(resolver, 1, alice))

	matchAddr := h.program.MatchAddress(1)
	assert.Equal(t, []domain.Transfer{
		{From: matchAddr, To: alice, Amount: 19_000_000},
		{From: matchAddr, To: admin, Amount: 1_000_000},
	}, receipt.Transfers)
	require.Len(t, receipt.Events, 1)
	assert.Equal(t, domain.EventMatchSettled, receipt.Events[0].Kind)
	assert.Equal(t, uint64(19_000_000), receipt.Events[0].Amount)
	assert.Equal(t, uint64(1_000_000), receipt.Events[0].Fee)

	m := h.match(1)
	assert.Equal(t, domain.MatchStatusSettled, m.Status)
	assert.Equal(t, alice, m.Winner)
	assert.Zero(t, m.Balance)

	cfg := h.config()
	assert.Equal(t, uint64(1), cfg.TotalMatches)
	assert.Equal(t, uint64(1_000_000), cfg.TotalFeesAccrued)

	assert.Equal(t, uint64(startingBalance)-stake+19_000_000, h.balance(alice))
	assert.Equal(t, uint64(startingBalance)-stake, h.balance(bob))
	assert.Equal(t, adminBefore+1_000_000, h.balance(admin))
}

func TestScenarioCancelBeforeJoin(t *testing.T) {
	h := newHarness(t, Config{})
	const stake = 10_000_000

	h.must(create(alice, 2, stake))
	before := h.balance(alice)

	receipt := h.must(cancel(alice, 2))
	assert.Equal(t, before+stake, h.balance(alice))
	assert.Equal(t, []domain.Transfer{{From: h.program.MatchAddress(2), To: alice, Amount: stake}}, receipt.Transfers)

	m := h.match(2)
	assert.Equal(t, domain.MatchStatusCancelled, m.Status)
	assert.Zero(t, m.Balance)

	_, err := h.submit(join(bob, 2))
	require.ErrorIs(t, err, domain.ErrGameNotAvailable)
	assert.Equal(t, uint64(startingBalance), h.balance(bob))
}
