package domain

import (
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DiscriminatorLength is the size of the type tag that prefixes record data.
const DiscriminatorLength = 8

// Persisted sizes, discriminator included.
const (
	GlobalConfigSize = DiscriminatorLength + AddressLength + 1 + 8 + 8
	MatchRecordSize  = DiscriminatorLength + 8 + AddressLength + AddressLength + 8 + 1 + AddressLength + 8
)

var (
	globalConfigDiscriminator = discriminator("GlobalConfig")
	matchRecordDiscriminator  = discriminator("MatchRecord")
)

func discriminator(typeName string) [DiscriminatorLength]byte {
	var d [DiscriminatorLength]byte
	copy(d[:], ethcrypto.Keccak256([]byte("account:"+typeName)))
	return d
}

// IsMatchRecord reports whether data carries the MatchRecord type tag.
func IsMatchRecord(data []byte) bool {
	return len(data) >= DiscriminatorLength && [DiscriminatorLength]byte(data[:DiscriminatorLength]) == matchRecordDiscriminator
}

// IsGlobalConfig reports whether data carries the GlobalConfig type tag.
func IsGlobalConfig(data []byte) bool {
	return len(data) >= DiscriminatorLength && [DiscriminatorLength]byte(data[:DiscriminatorLength]) == globalConfigDiscriminator
}

// Encode serializes c into its fixed on-ledger layout.
func (c GlobalConfig) Encode() []byte {
	buf := make([]byte, 0, GlobalConfigSize)
	buf = append(buf, globalConfigDiscriminator[:]...)
	buf = append(buf, c.Admin[:]...)
	buf = append(buf, c.FeePercentage)
	buf = binary.LittleEndian.AppendUint64(buf, c.TotalMatches)
	buf = binary.LittleEndian.AppendUint64(buf, c.TotalFeesAccrued)
	return buf
}

// DecodeGlobalConfig parses a configuration record.
func DecodeGlobalConfig(data []byte) (GlobalConfig, error) {
	if len(data) != GlobalConfigSize || !IsGlobalConfig(data) {
		return GlobalConfig{}, fmt.Errorf("domain: decode global config (%d bytes): %w", len(data), ErrAccountTypeMismatch)
	}
	r := reader{buf: data[DiscriminatorLength:]}
	var c GlobalConfig
	c.Admin = r.address()
	c.FeePercentage = r.byte()
	c.TotalMatches = r.uint64()
	c.TotalFeesAccrued = r.uint64()
	return c, nil
}

// Encode serializes m into its fixed on-ledger layout.
func (m MatchRecord) Encode() []byte {
	buf := make([]byte, 0, MatchRecordSize)
	buf = append(buf, matchRecordDiscriminator[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.MatchID)
	buf = append(buf, m.Depositor[:]...)
	buf = append(buf, m.Opponent[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, m.StakeAmount)
	buf = append(buf, byte(m.Status))
	buf = append(buf, m.Winner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.CreatedAt))
	return buf
}

// DecodeMatchRecord parses a custody record.
func DecodeMatchRecord(data []byte) (MatchRecord, error) {
	if len(data) != MatchRecordSize || !IsMatchRecord(data) {
		return MatchRecord{}, fmt.Errorf("domain: decode match record (%d bytes): %w", len(data), ErrAccountTypeMismatch)
	}
	r := reader{buf: data[DiscriminatorLength:]}
	var m MatchRecord
	m.MatchID = r.uint64()
	m.Depositor = r.address()
	m.Opponent = r.address()
	m.StakeAmount = r.uint64()
	m.Status = MatchStatus(r.byte())
	m.Winner = r.address()
	m.CreatedAt = int64(r.uint64())
	if !m.Status.Valid() {
		return MatchRecord{}, fmt.Errorf("domain: decode match record: status byte %d: %w", m.Status, ErrAccountTypeMismatch)
	}
	return m, nil
}

// reader walks a buffer whose length has already been checked.
type reader struct {
	buf []byte
	off int
}

func (r *reader) byte() byte {
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) uint64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) address() Address {
	var a Address
	copy(a[:], r.buf[r.off:r.off+AddressLength])
	r.off += AddressLength
	return a
}
