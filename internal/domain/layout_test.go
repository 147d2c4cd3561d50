package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 57, GlobalConfigSize)
	assert.Equal(t, 129, MatchRecordSize)
	assert.Len(t, GlobalConfig{}.Encode(), GlobalConfigSize)
	assert.Len(t, MatchRecord{}.Encode(), MatchRecordSize)
}

func TestMatchRecordLayout(t *testing.T) {
	m := MatchRecord{
		MatchID:     0x0102030405060708,
		Depositor:   Address{0xaa},
		Opponent:    Address{0xbb},
		StakeAmount: 10_000_000,
		Status:      MatchStatusSettled,
		Winner:      Address{0xbb},
		CreatedAt:   1_700_000_000,
	}
	data := m.Encode()

	// match id is little-endian right after the discriminator
	assert.Equal(t, byte(0x08), data[DiscriminatorLength])
	assert.Equal(t, byte(0x01), data[DiscriminatorLength+7])
	assert.Equal(t, byte(MatchStatusSettled), data[DiscriminatorLength+8+32+32+8])
	assert.True(t, IsMatchRecord(data))
	assert.False(t, IsGlobalConfig(data))

	got, err := DecodeMatchRecord(data)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodeRejectsForeignData(t *testing.T) {
	cfg := GlobalConfig{Admin: Address{1}, FeePercentage: 5}.Encode()

	_, err := DecodeMatchRecord(cfg)
	require.ErrorIs(t, err, ErrAccountTypeMismatch)

	_, err = DecodeGlobalConfig(cfg[:len(cfg)-1])
	require.ErrorIs(t, err, ErrAccountTypeMismatch)

	bad := MatchRecord{Status: MatchStatusCancelled}.Encode()
	bad[DiscriminatorLength+8+32+32+8] = 9
	_, err = DecodeMatchRecord(bad)
	require.ErrorIs(t, err, ErrAccountTypeMismatch)
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]MatchStatus]bool{
		{MatchStatusWaitingForOpponent, MatchStatusInProgress}: true,
		{MatchStatusWaitingForOpponent, MatchStatusCancelled}:  true,
		{MatchStatusInProgress, MatchStatusSettled}:            true,
	}
	statuses := []MatchStatus{MatchStatusWaitingForOpponent, MatchStatusInProgress, MatchStatusSettled, MatchStatusCancelled}
	for _, from := range statuses {
		for _, to := range statuses {
			assert.Equal(t, allowed[[2]MatchStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}
