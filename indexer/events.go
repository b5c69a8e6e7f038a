// Package indexer turns at-least-once-delivered ledger log batches into
// idempotent, replay-safe state-store mutations. Events are modelled as a
// closed set of typed variants per contract; unknown event names decode to a
// logged no-op rather than an error.
package indexer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"chgnet/storage"
)

// Contract names as the indexer keys them.
const (
	ContractRevenuePool     = "RevenuePool"
	ContractRevenueSplitter = "RevenueSplitter"
	ContractCHGStaking      = "CHGStaking"
	ContractNFTClaw         = "NFTClaw"
)

// Raw carries the ledger coordinates shared by every decoded event. The pair
// (TxHash, LogIndex) is the idempotency key component; (BlockNumber, LogIndex)
// is the per-contract ordering key.
type Raw struct {
	BlockNumber uint64
	BlockTime   uint64
	TxHash      string
	LogIndex    uint
}

func rawFromLog(log types.Log) Raw {
	return Raw{
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.Index,
	}
}

// Event is one decoded ledger log, ready for idempotent application.
type Event interface {
	Contract() string
	Name() string
	Meta() Raw
}

// Key derives the idempotency-ledger key for an event.
func Key(event Event) storage.EventKey {
	meta := event.Meta()
	return storage.EventKey{
		Contract: event.Contract(),
		Event:    event.Name(),
		TxHash:   meta.TxHash,
		LogIndex: meta.LogIndex,
	}
}

// RevenuePostedEvent reports revenue for an epoch. A zero MachineID carries
// the attested epoch total; a non-zero MachineID carries one machine's
// contribution to the breakdown.
type RevenuePostedEvent struct {
	Raw          Raw
	EpochID      uint64
	Oracle       [20]byte
	MachineID    uint64
	TotalRevenue *big.Int
	MerkleRoot   [32]byte
	Signature    []byte
}

func (e RevenuePostedEvent) Contract() string { return ContractRevenuePool }
func (e RevenuePostedEvent) Name() string     { return "RevenuePosted" }
func (e RevenuePostedEvent) Meta() Raw        { return e.Raw }

// OracleUpdatedEvent toggles a signer's allowlist membership.
type OracleUpdatedEvent struct {
	Raw     Raw
	Signer  [20]byte
	Allowed bool
}

func (e OracleUpdatedEvent) Contract() string { return ContractRevenuePool }
func (e OracleUpdatedEvent) Name() string     { return "OracleUpdated" }
func (e OracleUpdatedEvent) Meta() Raw        { return e.Raw }

// RevenueSplitEvent carries the pool amounts the ledger realised for an epoch.
type RevenueSplitEvent struct {
	Raw     Raw
	EpochID uint64
	ToOPC   *big.Int
	ToAlpha *big.Int
	ToBeta  *big.Int
	ToGamma *big.Int
	ToDelta *big.Int
}

func (e RevenueSplitEvent) Contract() string { return ContractRevenueSplitter }
func (e RevenueSplitEvent) Name() string     { return "RevenueSplit" }
func (e RevenueSplitEvent) Meta() Raw        { return e.Raw }

// MerkleRootSetEvent publishes the claim commitment for one reward group.
type MerkleRootSetEvent struct {
	Raw     Raw
	EpochID uint64
	Group   storage.MerkleGroup
	Root    [32]byte
}

func (e MerkleRootSetEvent) Contract() string { return ContractRevenueSplitter }
func (e MerkleRootSetEvent) Name() string     { return "MerkleRootSet" }
func (e MerkleRootSetEvent) Meta() Raw        { return e.Raw }

// StakedEvent opens a staking lock.
type StakedEvent struct {
	Raw          Raw
	Staker       [20]byte
	Amount       *big.Int
	LockDuration uint64
	WeightBps    uint64
}

func (e StakedEvent) Contract() string { return ContractCHGStaking }
func (e StakedEvent) Name() string     { return "Staked" }
func (e StakedEvent) Meta() Raw        { return e.Raw }

// UnstakedEvent releases staked amount back to the staker.
type UnstakedEvent struct {
	Raw    Raw
	Staker [20]byte
	Amount *big.Int
}

func (e UnstakedEvent) Contract() string { return ContractCHGStaking }
func (e UnstakedEvent) Name() string     { return "Unstaked" }
func (e UnstakedEvent) Meta() Raw        { return e.Raw }

// ClaimedEvent marks a staker's epoch reward claimed.
type ClaimedEvent struct {
	Raw     Raw
	Staker  [20]byte
	EpochID uint64
	Amount  *big.Int
}

func (e ClaimedEvent) Contract() string { return ContractCHGStaking }
func (e ClaimedEvent) Name() string     { return "Claimed" }
func (e ClaimedEvent) Meta() Raw        { return e.Raw }

// RewardAccruedEvent credits reward units to a staker for an epoch.
type RewardAccruedEvent struct {
	Raw     Raw
	Staker  [20]byte
	EpochID uint64
	Amount  *big.Int
}

func (e RewardAccruedEvent) Contract() string { return ContractCHGStaking }
func (e RewardAccruedEvent) Name() string     { return "RewardAccrued" }
func (e RewardAccruedEvent) Meta() Raw        { return e.Raw }

// TransferEvent moves an ownership token; the zero address is the mint/burn
// sentinel on either side.
type TransferEvent struct {
	Raw     Raw
	From    [20]byte
	To      [20]byte
	TokenID uint64
}

func (e TransferEvent) Contract() string { return ContractNFTClaw }
func (e TransferEvent) Name() string     { return "Transfer" }
func (e TransferEvent) Meta() Raw        { return e.Raw }

// Mint reports whether the transfer originates from the zero address.
func (e TransferEvent) Mint() bool { return e.From == [20]byte{} }

// Burn reports whether the transfer targets the zero address.
func (e TransferEvent) Burn() bool { return e.To == [20]byte{} }

// L1StakeEvent toggles a token's machine-pool staking state.
type L1StakeEvent struct {
	Raw       Raw
	Staked    bool
	Account   [20]byte
	TokenID   uint64
	MachineID uint64
}

func (e L1StakeEvent) Contract() string { return ContractNFTClaw }
func (e L1StakeEvent) Name() string {
	if e.Staked {
		return "StakedL1"
	}
	return "UnstakedL1"
}
func (e L1StakeEvent) Meta() Raw { return e.Raw }

// OwnerShareUpdatedEvent creates or reshapes a fractional ownership token.
type OwnerShareUpdatedEvent struct {
	Raw         Raw
	TokenID     uint64
	MachineID   uint64
	ShareBps    uint64
	TotalSupply uint64
	ExpiresAt   uint64
}

func (e OwnerShareUpdatedEvent) Contract() string { return ContractNFTClaw }
func (e OwnerShareUpdatedEvent) Name() string     { return "OwnerShareUpdated" }
func (e OwnerShareUpdatedEvent) Meta() Raw        { return e.Raw }
