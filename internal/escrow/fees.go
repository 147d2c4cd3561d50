package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// ComputeSettlement splits the pooled stakes of a match:
//
//	pool   = stake * 2
//	fee    = floor(pool * feePercentage / 100)
//	payout = pool - fee
//
// Any intermediate overflow fails with domain.ErrArithmeticOverflow.
func ComputeSettlement(stake uint64, feePercentage uint8) (domain.Settlement, error) {
	if feePercentage > domain.MaxFeePercentage {
		return domain.Settlement{}, domain.ErrInvalidFeePercentage
	}
	pool, overflow := math.SafeMul(stake, 2)
	if overflow {
		return domain.Settlement{}, fmt.Errorf("escrow: pool of stake %d: %w", stake, domain.ErrArithmeticOverflow)
	}
	scaled, overflow := math.SafeMul(pool, uint64(feePercentage))
	if overflow {
		return domain.Settlement{}, fmt.Errorf("escrow: fee on pool %d: %w", pool, domain.ErrArithmeticOverflow)
	}
	fee := scaled / 100
	return domain.Settlement{Pool: pool, Fee: fee, Payout: pool - fee}, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := math.SafeAdd(a, b)
	if overflow {
		return 0, domain.ErrArithmeticOverflow
	}
	return sum, nil
}
