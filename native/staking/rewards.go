package staking

import "math/big"

// Payout captures the computed reward for a single position.
type Payout struct {
	PositionID uint64
	Staker     [20]byte
	Amount     *big.Int
}

// Outcome summarises a reward distribution pass over one alpha pool.
type Outcome struct {
	Pool        *big.Int
	TotalWeight *big.Int
	TotalPaid   *big.Int
	// Remainder holds the residual integer units left by floor division. When
	// RemainderTo is non-nil the remainder has been credited to that position
	// and is included in TotalPaid; otherwise the pool had no active
	// recipients and the remainder equals the whole pool.
	Remainder   *big.Int
	RemainderTo *uint64
	Payouts     []Payout
}

// Distribute allocates a reward pool across the active positions in proportion
// to effective weight. Each payout is the floor of its proportional share; the
// residual units are credited to the active position with the smallest
// StartTimestamp, breaking ties on the lowest PositionID.
func Distribute(pool *big.Int, positions []Position) (Outcome, error) {
	if pool == nil {
		return Outcome{}, ErrNilPool
	}
	if pool.Sign() < 0 {
		return Outcome{}, ErrNegativePool
	}
	outcome := Outcome{
		Pool:        new(big.Int).Set(pool),
		TotalWeight: TotalWeight(positions),
		TotalPaid:   big.NewInt(0),
		Remainder:   new(big.Int).Set(pool),
		Payouts:     []Payout{},
	}
	if outcome.TotalWeight.Sign() == 0 {
		return outcome, nil
	}

	var oldest *Position
	totalPaid := big.NewInt(0)
	payouts := make([]Payout, 0, len(positions))
	for i := range positions {
		p := &positions[i]
		if !p.Active {
			continue
		}
		amount := new(big.Int).Mul(pool, p.EffectiveWeight())
		amount.Div(amount, outcome.TotalWeight)
		payouts = append(payouts, Payout{PositionID: p.PositionID, Staker: p.Staker, Amount: amount})
		totalPaid.Add(totalPaid, amount)
		if oldest == nil || earlier(*p, *oldest) {
			oldest = p
		}
	}

	remainder := new(big.Int).Sub(pool, totalPaid)
	if oldest != nil && remainder.Sign() > 0 {
		for i := range payouts {
			if payouts[i].PositionID == oldest.PositionID {
				payouts[i].Amount.Add(payouts[i].Amount, remainder)
				break
			}
		}
		totalPaid.Add(totalPaid, remainder)
		id := oldest.PositionID
		outcome.RemainderTo = &id
	}

	outcome.TotalPaid = totalPaid
	outcome.Remainder = remainder
	outcome.Payouts = payouts
	return outcome, nil
}

func earlier(a, b Position) bool {
	if a.StartTimestamp != b.StartTimestamp {
		return a.StartTimestamp < b.StartTimestamp
	}
	return a.PositionID < b.PositionID
}
