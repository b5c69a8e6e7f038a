package ownership

import (
	"errors"
	"math/big"
)

// ShareDenominator is the basis-point denominator for fractional machine shares.
const ShareDenominator = 10000

var (
	ErrShareOutOfRange   = errors.New("ownership: share must be between 1 and 10000 basis points")
	ErrNonPositiveSupply = errors.New("ownership: total supply must be positive")
	ErrNegativeSupply    = errors.New("ownership: supply adjustment would go negative")
	ErrAlreadyBurned     = errors.New("ownership: token already burned")
	ErrShareCapExceeded  = errors.New("ownership: machine shares exceed 10000 basis points")
)

// Token represents a fractional ownership claim on a revenue machine. A token
// carries a fixed basis-point share of its machine and a fungible unit supply
// distributed across holders.
type Token struct {
	TokenID     uint64
	MachineID   uint64
	ShareBps    uint64
	TotalSupply uint64
	// ExpiresAt is a unix timestamp; zero means the token never expires.
	ExpiresAt uint64
	Burned    bool
}

// NewToken validates the raw token parameters and returns the live token.
func NewToken(tokenID, machineID, shareBps, totalSupply, expiresAt uint64) (Token, error) {
	if shareBps < 1 || shareBps > ShareDenominator {
		return Token{}, ErrShareOutOfRange
	}
	if totalSupply == 0 {
		return Token{}, ErrNonPositiveSupply
	}
	return Token{
		TokenID:     tokenID,
		MachineID:   machineID,
		ShareBps:    shareBps,
		TotalSupply: totalSupply,
		ExpiresAt:   expiresAt,
	}, nil
}

// Burn marks the token burned. Burning is a one-way transition; a second burn
// is rejected.
func (t *Token) Burn() error {
	if t.Burned {
		return ErrAlreadyBurned
	}
	t.Burned = true
	return nil
}

// AdjustSupply applies a signed supply delta, rejecting any adjustment that
// would take the supply negative.
func (t *Token) AdjustSupply(delta int64) error {
	if delta < 0 && uint64(-delta) > t.TotalSupply {
		return ErrNegativeSupply
	}
	if delta < 0 {
		t.TotalSupply -= uint64(-delta)
	} else {
		t.TotalSupply += uint64(delta)
	}
	return nil
}

// Expired reports whether the token has an expiry in the past.
func (t Token) Expired(now uint64) bool {
	return t.ExpiresAt != 0 && now >= t.ExpiresAt
}

// EffectiveWeight returns the holder's share-proportional claim for the units
// held: shareBps multiplied by units when the token is live and staked in the
// pool, zero otherwise.
func (t Token) EffectiveWeight(unitsHeld uint64, stakedInPool bool) *big.Int {
	if t.Burned || !stakedInPool {
		return big.NewInt(0)
	}
	weight := new(big.Int).SetUint64(t.ShareBps)
	return weight.Mul(weight, new(big.Int).SetUint64(unitsHeld))
}

// MachineCheck reports the aggregate basis points claimed against a machine.
type MachineCheck struct {
	MachineID uint64
	TotalBps  uint64
	Valid     bool
}

// ValidateMachineOwnership sums the non-burned shares registered against a
// machine. Callers must reject any mutation that would push the total above
// the share denominator.
func ValidateMachineOwnership(machineID uint64, tokens []Token) MachineCheck {
	check := MachineCheck{MachineID: machineID}
	for _, t := range tokens {
		if t.MachineID != machineID || t.Burned {
			continue
		}
		check.TotalBps += t.ShareBps
	}
	check.Valid = check.TotalBps <= ShareDenominator
	return check
}

// ValidateAddition reports whether adding shareBps to a machine keeps the
// aggregate within the denominator cap.
func ValidateAddition(machineID, shareBps uint64, tokens []Token) error {
	check := ValidateMachineOwnership(machineID, tokens)
	if check.TotalBps+shareBps > ShareDenominator {
		return ErrShareCapExceeded
	}
	return nil
}

// TokensRequiringBurn returns the non-burned tokens whose machine is in the
// expired set. The sweep that actually burns them is driven externally.
func TokensRequiringBurn(tokens []Token, expiredMachines map[uint64]bool) []Token {
	out := make([]Token, 0)
	for _, t := range tokens {
		if t.Burned {
			continue
		}
		if expiredMachines[t.MachineID] {
			out = append(out, t)
		}
	}
	return out
}
