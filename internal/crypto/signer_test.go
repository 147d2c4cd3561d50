package crypto

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func newTestSigner(t *testing.T, d Domain) *Signer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSigner(key, d)
	require.NoError(t, err)
	return s
}

func TestSignAndVerify(t *testing.T) {
	d := NewDomain(1, domain.Address{0x42})
	s := newTestSigner(t, d)
	ins := domain.Instruction{Op: domain.OpCreateMatch, Authority: s.Identity(), MatchID: 7, Amount: 10_000_000, Nonce: 1}

	stx, err := s.SignTransaction(ins)
	require.NoError(t, err)
	require.Len(t, stx.Signatures, 1)
	assert.True(t, strings.HasPrefix(stx.Signatures[0], "0x"))

	tx, err := NewVerifier(d).Verify(stx)
	require.NoError(t, err)
	assert.Equal(t, d.Digest(ins), tx.ID)
	assert.Equal(t, []domain.Address{s.Identity()}, tx.Signers)
	assert.True(t, tx.SignedBy(s.Identity()))
}

func TestVerifyTamperedInstructionRecoversOtherIdentity(t *testing.T) {
	d := NewDomain(1, domain.Address{0x42})
	s := newTestSigner(t, d)
	stx, err := s.SignTransaction(domain.Instruction{Op: domain.OpCreateMatch, Authority: s.Identity(), MatchID: 7, Amount: 10_000_000})
	require.NoError(t, err)

	stx.Instruction.Amount = 1
	tx, err := NewVerifier(d).Verify(stx)
	if err == nil {
		assert.False(t, tx.SignedBy(s.Identity()))
	}
}

func TestDigestBindsDomain(t *testing.T) {
	ins := domain.Instruction{Op: domain.OpJoinMatch, Authority: domain.Address{1}, MatchID: 3}
	base := NewDomain(1, domain.Address{0x42})

	assert.Equal(t, base.Digest(ins), base.Digest(ins))
	assert.NotEqual(t, base.Digest(ins), NewDomain(2, domain.Address{0x42}).Digest(ins))
	assert.NotEqual(t, base.Digest(ins), NewDomain(1, domain.Address{0x43}).Digest(ins))

	ins2 := ins
	ins2.Nonce = 1
	assert.NotEqual(t, base.Digest(ins), base.Digest(ins2))
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	d := NewDomain(1, domain.Address{0x42})
	v := NewVerifier(d)
	ins := domain.Instruction{Op: domain.OpJoinMatch, Authority: domain.Address{1}}

	tests := []struct {
		name string
		sigs []string
	}{
		{"not hex", []string{"0xzz"}},
		{"short", []string{"0x" + hex.EncodeToString(make([]byte, 64))}},
		{"zero values", []string{"0x" + hex.EncodeToString(make([]byte, 65))}},
		{"too many", []string{"", "", "", "", ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(domain.SignedTransaction{Instruction: ins, Signatures: tc.sigs})
			require.ErrorIs(t, err, domain.ErrInvalidSignature)
		})
	}
}

func TestCosignCollectsDistinctSigners(t *testing.T) {
	d := NewDomain(1, domain.Address{0x42})
	a := newTestSigner(t, d)
	b := newTestSigner(t, d)
	ins := domain.Instruction{Op: domain.OpSettleMatch, Authority: a.Identity(), MatchID: 1, Winner: b.Identity()}

	stx, err := a.SignTransaction(ins)
	require.NoError(t, err)
	stx, err = b.Cosign(stx)
	require.NoError(t, err)
	stx, err = a.Cosign(stx)
	require.NoError(t, err)

	tx, err := NewVerifier(d).Verify(stx)
	require.NoError(t, err)
	assert.Equal(t, []domain.Address{a.Identity(), b.Identity()}, tx.Signers)
}

func TestNewSignerRejectsBadKey(t *testing.T) {
	_, err := NewSigner("0x1234", NewDomain(1, domain.Address{}))
	require.Error(t, err)
}
