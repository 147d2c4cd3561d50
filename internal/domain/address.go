package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressLength is the size in bytes of every ledger address and identity.
const AddressLength = 32

// Address identifies a ledger record. Wallet identities and program-owned
// records share the same 32-byte space, so a winner's identity is also the
// address its payout is credited to.
type Address [AddressLength]byte

// ZeroAddress is the "none" sentinel used for unset identities.
var ZeroAddress Address

// pdaMarker is appended to every derivation so that derived addresses can
// never collide with a hash of a bare public key.
const pdaMarker = "ProgramDerivedAddress"

// Seeds used to locate the escrow program's records.
const (
	ConfigSeed = "platform_state"
	MatchSeed  = "match"
)

// IsZero reports whether a is the unset sentinel.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex returns the 0x-prefixed lowercase hex encoding of a.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return a.Hex()
}

// Short returns an abbreviated form for log lines and notifications.
func (a Address) Short() string {
	h := hex.EncodeToString(a[:])
	return "0x" + h[:6] + "…" + h[len(h)-4:]
}

// MarshalText implements encoding.TextMarshaler so addresses render as hex in
// JSON payloads.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes a 32-byte hex address with or without the 0x prefix.
func ParseAddress(s string) (Address, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Address{}, fmt.Errorf("domain: invalid address %q: %w", s, err)
	}
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("domain: invalid address %q: expected %d bytes, got %d", s, AddressLength, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// DeriveAddress computes the deterministic address for the given seeds under
// programID. It is a pure function: the same inputs always yield the same
// address, and any party can recompute it without an index.
func DeriveAddress(programID Address, seeds ...[]byte) Address {
	parts := make([][]byte, 0, len(seeds)+2)
	parts = append(parts, seeds...)
	parts = append(parts, programID[:], []byte(pdaMarker))
	var out Address
	copy(out[:], ethcrypto.Keccak256(parts...))
	return out
}

// ConfigAddress returns the singleton configuration record address.
func ConfigAddress(programID Address) Address {
	return DeriveAddress(programID, []byte(ConfigSeed))
}

// MatchAddress returns the custody record address for matchID.
func MatchAddress(programID Address, matchID uint64) Address {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], matchID)
	return DeriveAddress(programID, []byte(MatchSeed), id[:])
}

// Hash is a 32-byte digest, used as the transaction identifier.
type Hash [32]byte

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash decodes a 32-byte hex digest with or without the 0x prefix.
func ParseHash(s string) (Hash, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return Hash{}, fmt.Errorf("domain: invalid hash %q", s)
	}
	return Hash(a), nil
}
