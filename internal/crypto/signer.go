package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// SignatureLength is the size of a recoverable secp256k1 signature (r || s || v).
const SignatureLength = 65

// MaxSignatures bounds how many signatures a transaction may carry.
const MaxSignatures = 4

var (
	// EIP712Domain(string name,string version,uint256 chainId,bytes32 programId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,bytes32 programId)"),
	)

	// Instruction(string op,bytes32 authority,uint64 matchId,uint64 amount,uint8 feePercentage,bytes32 winner,bytes32 to,uint64 nonce)
	instructionTypeHash = ethcrypto.Keccak256(
		[]byte("Instruction(string op,bytes32 authority,uint64 matchId,uint64 amount,uint8 feePercentage,bytes32 winner,bytes32 to,uint64 nonce)"),
	)
)

// Domain binds signatures to one deployment of the program.
type Domain struct {
	Name      string
	Version   string
	ChainID   int64
	ProgramID domain.Address
}

// NewDomain returns the standard signing domain for programID.
func NewDomain(chainID int64, programID domain.Address) Domain {
	return Domain{Name: "StakeEscrow", Version: "1", ChainID: chainID, ProgramID: programID}
}

// Separator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, programId)).
func (d Domain) Separator() []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		word(big.NewInt(d.ChainID)),
		d.ProgramID[:],
	)
}

// Digest returns the signing digest of ins, which is also its transaction id:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func (d Domain) Digest(ins domain.Instruction) domain.Hash {
	return domain.Hash(ethcrypto.Keccak256Hash(
		[]byte{0x19, 0x01},
		d.Separator(),
		instructionStructHash(ins),
	))
}

func instructionStructHash(ins domain.Instruction) []byte {
	return ethcrypto.Keccak256(
		instructionTypeHash,
		ethcrypto.Keccak256([]byte(ins.Op)),
		ins.Authority[:],
		word(new(big.Int).SetUint64(ins.MatchID)),
		word(new(big.Int).SetUint64(ins.Amount)),
		word(big.NewInt(int64(ins.FeePercentage))),
		ins.Winner[:],
		ins.To[:],
		word(new(big.Int).SetUint64(ins.Nonce)),
	)
}

// word returns the 32-byte big-endian ABI encoding of n.
func word(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

// Identity returns the ledger identity of a secp256k1 public key: the
// keccak256 hash of its uncompressed X || Y coordinates.
func Identity(pub *ecdsa.PublicKey) domain.Address {
	return domain.Address(ethcrypto.Keccak256Hash(ethcrypto.FromECDSAPub(pub)[1:]))
}

// GenerateKey creates a new secp256k1 key and returns it hex encoded
// without a 0x prefix.
func GenerateKey() (string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", fmt.Errorf("crypto/signer: generate key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), nil
}

// Signer signs instructions for one identity.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	identity   domain.Address
	domain     Domain
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key.
func NewSigner(privateKeyHex string, d Domain) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		identity:   Identity(&pk.PublicKey),
		domain:     d,
	}, nil
}

// Identity returns the ledger identity controlled by the signer.
func (s *Signer) Identity() domain.Address {
	return s.identity
}

// Domain returns the signing domain.
func (s *Signer) Domain() Domain {
	return s.domain
}

// Sign returns the hex-encoded 65-byte signature of ins.
func (s *Signer) Sign(ins domain.Instruction) (string, error) {
	digest := s.domain.Digest(ins)
	sig, err := ethcrypto.Sign(digest[:], s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; the wire form uses {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// SignTransaction signs ins and wraps it for submission.
func (s *Signer) SignTransaction(ins domain.Instruction) (domain.SignedTransaction, error) {
	sig, err := s.Sign(ins)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	return domain.SignedTransaction{Instruction: ins, Signatures: []string{sig}}, nil
}

// Cosign appends the signer's signature to stx.
func (s *Signer) Cosign(stx domain.SignedTransaction) (domain.SignedTransaction, error) {
	sig, err := s.Sign(stx.Instruction)
	if err != nil {
		return domain.SignedTransaction{}, err
	}
	stx.Signatures = append(append([]string(nil), stx.Signatures...), sig)
	return stx, nil
}

// Verifier recovers signer identities from signed transactions.
type Verifier struct {
	domain Domain
}

// NewVerifier creates a Verifier for d.
func NewVerifier(d Domain) *Verifier {
	return &Verifier{domain: d}
}

// Domain returns the signing domain.
func (v *Verifier) Domain() Domain {
	return v.domain
}

// Verify recovers every signer of stx. It does not check which identities
// an instruction requires; the program does that.
func (v *Verifier) Verify(stx domain.SignedTransaction) (domain.Transaction, error) {
	if len(stx.Signatures) > MaxSignatures {
		return domain.Transaction{}, fmt.Errorf("crypto/signer: %d signatures exceeds %d: %w", len(stx.Signatures), MaxSignatures, domain.ErrInvalidSignature)
	}
	digest := v.domain.Digest(stx.Instruction)
	tx := domain.Transaction{ID: digest, Instruction: stx.Instruction}
	for i, raw := range stx.Signatures {
		id, err := recoverIdentity(digest, raw)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("crypto/signer: signature %d: %w", i, err)
		}
		if !tx.SignedBy(id) {
			tx.Signers = append(tx.Signers, id)
		}
	}
	return tx, nil
}

func recoverIdentity(digest domain.Hash, raw string) (domain.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if len(sig) != SignatureLength {
		return domain.Address{}, fmt.Errorf("%w: expected %d bytes, got %d", domain.ErrInvalidSignature, SignatureLength, len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return domain.Address{}, fmt.Errorf("%w: malformed signature values", domain.ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return domain.Address{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return Identity(pub), nil
}
