package ledger

import (
	"fmt"
	"math"

	gmath "github.com/ethereum/go-ethereum/common/math"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// MaxBalance is the largest balance any account may hold. SQL backends store
// balances in signed 64-bit columns, so every backend shares their ceiling.
const MaxBalance uint64 = math.MaxInt64

// Credit adds amount to balance, failing instead of exceeding MaxBalance.
func Credit(balance, amount uint64) (uint64, error) {
	sum, overflow := gmath.SafeAdd(balance, amount)
	if overflow || sum > MaxBalance {
		return 0, fmt.Errorf("ledger: credit %d: %w", amount, domain.ErrArithmeticOverflow)
	}
	return sum, nil
}

// Page applies offset and limit to an already ordered slice.
func Page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
