package escrow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func TestComputeSettlement(t *testing.T) {
	tests := []struct {
		name  string
		stake uint64
		fee   uint8
		want  domain.Settlement
	}{
		{name: "five percent", stake: 10_000_000, fee: 5, want: domain.Settlement{Pool: 20_000_000, Fee: 1_000_000, Payout: 19_000_000}},
		{name: "no fee", stake: 10_000_000, fee: 0, want: domain.Settlement{Pool: 20_000_000, Fee: 0, Payout: 20_000_000}},
		{name: "whole pool", stake: 10_000_000, fee: 100, want: domain.Settlement{Pool: 20_000_000, Fee: 20_000_000, Payout: 0}},
		{name: "fee rounds down", stake: 33, fee: 3, want: domain.Settlement{Pool: 66, Fee: 1, Payout: 65}},
		{name: "largest stake without fee", stake: math.MaxUint64 / 2, fee: 0, want: domain.Settlement{Pool: math.MaxUint64 - 1, Fee: 0, Payout: math.MaxUint64 - 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ComputeSettlement(tt.stake, tt.fee)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeSettlementConservesPool(t *testing.T) {
	stakes := []uint64{1, 7, 999, domain.DefaultMinStake, 123_456_789, 1 << 40}
	for fee := 0; fee <= domain.MaxFeePercentage; fee++ {
		for _, stake := range stakes {
			got, err := ComputeSettlement(stake, uint8(fee))
			require.NoError(t, err)
			require.Equal(t, stake*2, got.Payout+got.Fee, "stake %d fee %d", stake, fee)
			require.Equal(t, stake*2*uint64(fee)/100, got.Fee, "stake %d fee %d", stake, fee)
		}
	}
}

func TestComputeSettlementOverflow(t *testing.T) {
	_, err := ComputeSettlement(math.MaxUint64/2+1, 0)
	require.ErrorIs(t, err, domain.ErrArithmeticOverflow)

	_, err = ComputeSettlement(math.MaxUint64/4, 5)
	require.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}

func TestComputeSettlementRejectsFeeAboveHundred(t *testing.T) {
	_, err := ComputeSettlement(10, 101)
	require.ErrorIs(t, err, domain.ErrInvalidFeePercentage)
}

func TestCheckedAdd(t *testing.T) {
	sum, err := checkedAdd(math.MaxUint64-1, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), sum)

	_, err = checkedAdd(math.MaxUint64, 1)
	require.ErrorIs(t, err, domain.ErrArithmeticOverflow)
}
