package staking

import (
	"errors"
	"math/big"
)

const (
	// SecondsPerDay converts lock durations into unlock timestamps.
	SecondsPerDay = 86400

	// InvestorProgramDays is the minimum lock duration that qualifies a
	// position for the investor program.
	InvestorProgramDays = 1095
)

// Lock weight tiers in basis points, keyed by lock duration.
const (
	WeightBaseBps     = 1000
	WeightQuarterBps  = 1500
	WeightHalfYearBps = 2000
	WeightYearBps     = 3000
)

var (
	ErrNonPositiveAmount = errors.New("staking: staked amount must be positive")
	ErrZeroLockDuration  = errors.New("staking: lock duration must be at least one day")
	ErrNilPool           = errors.New("staking: reward pool cannot be nil")
	ErrNegativePool      = errors.New("staking: reward pool cannot be negative")
)

// Position captures a single staking lock and its derived reward parameters.
type Position struct {
	PositionID       uint64
	Staker           [20]byte
	Amount           *big.Int
	LockDurationDays uint64
	LockWeightBps    uint64
	StartTimestamp   uint64
	Active           bool
	InvestorProgram  bool
}

// LockWeightBps maps a lock duration in days to its reward weight tier. The
// canonical boundaries are 90, 180, and 365 days.
func LockWeightBps(days uint64) uint64 {
	switch {
	case days < 90:
		return WeightBaseBps
	case days < 180:
		return WeightQuarterBps
	case days < 365:
		return WeightHalfYearBps
	default:
		return WeightYearBps
	}
}

// InvestorProgram reports whether a lock duration qualifies for the investor
// program tier.
func InvestorProgram(days uint64) bool {
	return days >= InvestorProgramDays
}

// NewPosition validates the raw stake parameters and derives the weight tier,
// investor flag, and unlock schedule.
func NewPosition(id uint64, staker [20]byte, amount *big.Int, lockDays uint64, start uint64) (Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return Position{}, ErrNonPositiveAmount
	}
	if lockDays == 0 {
		return Position{}, ErrZeroLockDuration
	}
	return Position{
		PositionID:       id,
		Staker:           staker,
		Amount:           new(big.Int).Set(amount),
		LockDurationDays: lockDays,
		LockWeightBps:    LockWeightBps(lockDays),
		StartTimestamp:   start,
		Active:           true,
		InvestorProgram:  InvestorProgram(lockDays),
	}, nil
}

// UnlockTimestamp returns the unix timestamp at which the lock expires.
func (p Position) UnlockTimestamp() uint64 {
	return p.StartTimestamp + p.LockDurationDays*SecondsPerDay
}

// Unlockable reports whether the position may be unstaked at the given time.
func (p Position) Unlockable(now uint64) bool {
	return now >= p.UnlockTimestamp()
}

// EffectiveWeight returns stakedAmount multiplied by the lock weight for an
// active position, and zero for an inactive one.
func (p Position) EffectiveWeight() *big.Int {
	if !p.Active || p.Amount == nil {
		return big.NewInt(0)
	}
	weight := new(big.Int).Set(p.Amount)
	return weight.Mul(weight, new(big.Int).SetUint64(p.LockWeightBps))
}

// TotalWeight sums the effective weights of all active positions.
func TotalWeight(positions []Position) *big.Int {
	total := big.NewInt(0)
	for _, p := range positions {
		total.Add(total, p.EffectiveWeight())
	}
	return total
}
