package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func TestCredit(t *testing.T) {
	tests := []struct {
		name    string
		balance uint64
		amount  uint64
		want    uint64
		wantErr bool
	}{
		{name: "plain", balance: 10, amount: 5, want: 15},
		{name: "up to ceiling", balance: MaxBalance - 1, amount: 1, want: MaxBalance},
		{name: "past ceiling", balance: MaxBalance, amount: 1, wantErr: true},
		{name: "wraps uint64", balance: math.MaxUint64, amount: 2, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Credit(tt.balance, tt.amount)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrArithmeticOverflow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{2, 3}, Page(items, domain.ListOpts{Offset: 1, Limit: 2}))
	assert.Nil(t, Page(items, domain.ListOpts{Offset: 5}))
	assert.Equal(t, items, Page(items, domain.ListOpts{}))
}
