package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAddressIsDeterministic(t *testing.T) {
	program := Address{0x42}

	assert.Equal(t, MatchAddress(program, 7), MatchAddress(program, 7))
	assert.NotEqual(t, MatchAddress(program, 7), MatchAddress(program, 8))
	assert.NotEqual(t, MatchAddress(program, 7), MatchAddress(Address{0x43}, 7))
	assert.NotEqual(t, ConfigAddress(program), MatchAddress(program, 0))
}

func TestParseAddress(t *testing.T) {
	a := Address{0xde, 0xad}
	got, err := ParseAddress(a.Hex())
	require.NoError(t, err)
	assert.Equal(t, a, got)

	got, err = ParseAddress(a.Hex()[2:])
	require.NoError(t, err)
	assert.Equal(t, a, got)

	_, err = ParseAddress("0x1234")
	require.Error(t, err)
	_, err = ParseAddress("0xzz")
	require.Error(t, err)
}

func TestAddressJSON(t *testing.T) {
	v := struct {
		Who Address `json:"who"`
	}{Who: Address{0x01}}
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"who":"0x01`)
}

func TestEscrowErrorCodes(t *testing.T) {
	for i, e := range EscrowErrors {
		assert.Equal(t, uint32(6000+i), e.Code, e.Name)
	}
	ee, ok := AsEscrowError(ErrUnauthorized)
	require.True(t, ok)
	assert.Equal(t, KindAuthorization, ee.Kind)
	assert.Equal(t, "Unauthorized (6008): Unauthorized access", ee.Error())
}
