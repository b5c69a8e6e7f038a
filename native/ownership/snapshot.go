package ownership

import "math/big"

// Snapshot is a point-in-time record of one account's fractional claim on a
// machine for a given epoch. Snapshots are immutable once created.
type Snapshot struct {
	EpochID        uint64
	Account        [20]byte
	MachineID      uint64
	ShareBps       uint64
	EffectiveShare *big.Int
}

// NewSnapshot freezes the holder's effective share of a token for an epoch.
func NewSnapshot(epochID uint64, account [20]byte, token Token, unitsHeld uint64, stakedInPool bool) Snapshot {
	return Snapshot{
		EpochID:        epochID,
		Account:        account,
		MachineID:      token.MachineID,
		ShareBps:       token.ShareBps,
		EffectiveShare: token.EffectiveWeight(unitsHeld, stakedInPool),
	}
}
