package oracle

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrNilRevenue       = errors.New("oracle: attestation revenue cannot be nil")
	ErrRevenueRange     = errors.New("oracle: attestation revenue outside uint256 range")
	ErrInvalidSignature = errors.New("oracle: invalid attestation signature")
	ErrUnknownSigner    = errors.New("oracle: signer not in allowlist")
)

// Attestation is the canonical message an oracle signs when posting epoch
// revenue: the epoch identifier, the total revenue in smallest currency
// units, and the merkle root committing to the per-beneficiary breakdown.
type Attestation struct {
	EpochID      uint64
	TotalRevenue *big.Int
	MerkleRoot   [32]byte
}

// Digest returns the keccak-256 hash of the deterministic packed encoding
// uint256(epochId) || uint256(totalRevenue) || bytes32(merkleRoot).
func (a Attestation) Digest() ([]byte, error) {
	if a.TotalRevenue == nil {
		return nil, ErrNilRevenue
	}
	revenue, overflow := uint256.FromBig(a.TotalRevenue)
	if overflow || a.TotalRevenue.Sign() < 0 {
		return nil, ErrRevenueRange
	}
	epochWord := uint256.NewInt(a.EpochID).Bytes32()
	revenueWord := revenue.Bytes32()
	return ethcrypto.Keccak256(epochWord[:], revenueWord[:], a.MerkleRoot[:]), nil
}

// Sign produces a recoverable signature over the attestation digest. It exists
// for tooling and tests; production signatures arrive from the ledger.
func Sign(a Attestation, key *ecdsa.PrivateKey) ([]byte, error) {
	digest, err := a.Digest()
	if err != nil {
		return nil, err
	}
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("oracle: sign attestation: %w", err)
	}
	return sig, nil
}

// RecoverSigner returns the address that produced the signature over the
// attestation digest. Both 0/1 and 27/28 recovery identifiers are accepted.
func RecoverSigner(a Attestation, sig []byte) ([20]byte, error) {
	digest, err := a.Digest()
	if err != nil {
		return [20]byte{}, err
	}
	if len(sig) != 65 {
		return [20]byte{}, ErrInvalidSignature
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Verify checks that the signature over the attestation recovers to an
// allowlisted oracle. Verification is stateless and side-effect-free so it can
// be replayed independently for audit.
func Verify(a Attestation, sig []byte, allowed func([20]byte) bool) error {
	signer, err := RecoverSigner(a, sig)
	if err != nil {
		return err
	}
	if allowed == nil || !allowed(signer) {
		return ErrUnknownSigner
	}
	return nil
}
