package storage

import (
	"time"

	"github.com/google/uuid"
)

// MerkleGroup identifies a reward group committed to by a merkle root.
type MerkleGroup uint8

// Reward groups: A covers staking, B covers NFT-L1 holders, G covers NFT-L2
// holders.
const (
	GroupStaking MerkleGroup = 0
	GroupNFTL1   MerkleGroup = 1
	GroupNFTL2   MerkleGroup = 2
)

// Epoch is the persisted lifecycle record for one accounting period. Pool
// amounts are decimal strings in smallest currency units; they always sum to
// TotalRevenue exactly.
type Epoch struct {
	EpochID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	TotalRevenue string `gorm:"size:80;not null"`
	OraclePosted bool   `gorm:"not null"`
	Finalized    bool   `gorm:"not null;index"`
	OpcPool      string `gorm:"size:80;not null"`
	AlphaPool    string `gorm:"size:80;not null"`
	BetaPool     string `gorm:"size:80;not null"`
	GammaPool    string `gorm:"size:80;not null"`
	DeltaPool    string `gorm:"size:80;not null"`
	PostedAt     *time.Time
	FinalizedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RevenuePosting is the audit record emitted for every accepted oracle post.
type RevenuePosting struct {
	PostingID  uuid.UUID `gorm:"type:uuid;primaryKey"`
	EpochID    uint64    `gorm:"uniqueIndex;not null"`
	Signer     string    `gorm:"size:42;index;not null"`
	MerkleRoot string    `gorm:"size:66;not null"`
	Signature  []byte    `gorm:"not null"`
	PostedAt   time.Time `gorm:"not null"`
}

// MachineRevenue stores the per-machine revenue breakdown inside an epoch.
type MachineRevenue struct {
	ID        uint64 `gorm:"primaryKey"`
	EpochID   uint64 `gorm:"uniqueIndex:idx_machine_revenue,priority:1;not null"`
	MachineID uint64 `gorm:"uniqueIndex:idx_machine_revenue,priority:2;not null"`
	Amount    string `gorm:"size:80;not null"`
	CreatedAt time.Time
}

// MerkleRoot records the published claim commitment for one reward group of
// an epoch.
type MerkleRoot struct {
	ID        uint64      `gorm:"primaryKey"`
	EpochID   uint64      `gorm:"uniqueIndex:idx_merkle_root,priority:1;not null"`
	Group     MerkleGroup `gorm:"uniqueIndex:idx_merkle_root,priority:2;not null"`
	Root      string      `gorm:"size:66;not null"`
	Published bool        `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StakingPosition mirrors one CHG staking lock.
type StakingPosition struct {
	PositionID       uint64 `gorm:"primaryKey"`
	Staker           string `gorm:"size:42;index;not null"`
	Amount           string `gorm:"size:80;not null"`
	LockDurationDays uint64 `gorm:"not null"`
	LockWeightBps    uint64 `gorm:"not null"`
	StartTimestamp   uint64 `gorm:"not null"`
	UnlockTimestamp  uint64 `gorm:"not null"`
	Active           bool   `gorm:"not null;index"`
	InvestorProgram  bool   `gorm:"not null"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StakingReward tracks per-epoch reward accrual and claim status for a staker.
type StakingReward struct {
	ID        uint64 `gorm:"primaryKey"`
	EpochID   uint64 `gorm:"uniqueIndex:idx_staking_reward,priority:1;not null"`
	Staker    string `gorm:"size:42;uniqueIndex:idx_staking_reward,priority:2;not null"`
	Amount    string `gorm:"size:80;not null"`
	Claimed   bool   `gorm:"not null"`
	ClaimedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NFTOwnerToken mirrors a fractional machine ownership token.
type NFTOwnerToken struct {
	TokenID     uint64 `gorm:"primaryKey"`
	MachineID   uint64 `gorm:"index;not null"`
	ShareBps    uint64 `gorm:"not null"`
	TotalSupply uint64 `gorm:"not null"`
	ExpiresAt   uint64
	Burned      bool `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NFTHolding tracks the current holder and L1-staking state of a token.
type NFTHolding struct {
	TokenID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Account   string `gorm:"size:42;index;not null"`
	MachineID uint64 `gorm:"index"`
	StakedL1  bool   `gorm:"not null"`
	UpdatedAt time.Time
}

// OwnerShareSnapshot is the immutable per-epoch record of one account's
// fractional claim on a machine.
type OwnerShareSnapshot struct {
	ID             uint64 `gorm:"primaryKey"`
	EpochID        uint64 `gorm:"uniqueIndex:idx_owner_snapshot,priority:1;not null"`
	Account        string `gorm:"size:42;uniqueIndex:idx_owner_snapshot,priority:2;not null"`
	MachineID      uint64 `gorm:"uniqueIndex:idx_owner_snapshot,priority:3;not null"`
	ShareBps       uint64 `gorm:"not null"`
	EffectiveShare string `gorm:"size:80;not null"`
	CreatedAt      time.Time
}

// OracleSigner materialises the on-chain oracle allowlist so the in-process
// cache can be rebuilt on restart without replaying events.
type OracleSigner struct {
	Address   string `gorm:"primaryKey;size:42"`
	Allowed   bool   `gorm:"not null"`
	UpdatedAt time.Time
}

// ProcessedEvent is the idempotency ledger entry for one ledger log. Success
// records an applied mutation; a row with Success=false records a failed
// apply that remains eligible for retry.
type ProcessedEvent struct {
	ID          uint64 `gorm:"primaryKey"`
	Contract    string `gorm:"size:64;uniqueIndex:idx_processed_event,priority:1;not null"`
	Event       string `gorm:"size:64;uniqueIndex:idx_processed_event,priority:2;not null"`
	TxHash      string `gorm:"size:66;uniqueIndex:idx_processed_event,priority:3;not null"`
	LogIndex    uint   `gorm:"uniqueIndex:idx_processed_event,priority:4;not null"`
	Success     bool   `gorm:"not null"`
	Error       string `gorm:"type:text"`
	ProcessedAt time.Time
}

// ContractCursor remembers the last ledger block scanned per contract.
type ContractCursor struct {
	Contract  string `gorm:"primaryKey;size:64"`
	LastBlock uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

func allModels() []any {
	return []any{
		&Epoch{},
		&RevenuePosting{},
		&MachineRevenue{},
		&MerkleRoot{},
		&StakingPosition{},
		&StakingReward{},
		&NFTOwnerToken{},
		&NFTHolding{},
		&OwnerShareSnapshot{},
		&OracleSigner{},
		&ProcessedEvent{},
		&ContractCursor{},
	}
}
