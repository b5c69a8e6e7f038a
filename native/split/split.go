package split

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// Denominator defines the fixed basis-point denominator used for pool shares.
	Denominator = 10000

	// OpcShareBps is the platform operations share of epoch revenue.
	OpcShareBps = 7000
	// AlphaShareBps is the staker pool share of epoch revenue.
	AlphaShareBps = 2000
	// BetaShareBps is the NFT-L1 holder pool share of epoch revenue.
	BetaShareBps = 300
	// GammaShareBps is the NFT-L2 holder pool share of epoch revenue.
	GammaShareBps = 300
	// DeltaShareBps is the reserve pool share of epoch revenue.
	DeltaShareBps = 400
)

// ErrNegativeRevenue is returned when a split is requested for a negative amount.
var ErrNegativeRevenue = errors.New("split: revenue cannot be negative")

// Allocation captures the five pool amounts produced by splitting epoch revenue.
type Allocation struct {
	Opc   *big.Int
	Alpha *big.Int
	Beta  *big.Int
	Gamma *big.Int
	Delta *big.Int
}

// Split partitions total revenue into the five pool amounts. Each non-opc pool
// receives the floor of its basis-point share; every residual integer unit is
// routed to the opc pool so that the outputs always sum to the input exactly.
func Split(total *big.Int) (Allocation, error) {
	if total == nil {
		total = big.NewInt(0)
	}
	if total.Sign() < 0 {
		return Allocation{}, ErrNegativeRevenue
	}
	alloc := Allocation{
		Opc:   shareFloor(total, OpcShareBps),
		Alpha: shareFloor(total, AlphaShareBps),
		Beta:  shareFloor(total, BetaShareBps),
		Gamma: shareFloor(total, GammaShareBps),
		Delta: shareFloor(total, DeltaShareBps),
	}
	remainder := new(big.Int).Set(total)
	remainder.Sub(remainder, alloc.Opc)
	remainder.Sub(remainder, alloc.Alpha)
	remainder.Sub(remainder, alloc.Beta)
	remainder.Sub(remainder, alloc.Gamma)
	remainder.Sub(remainder, alloc.Delta)
	alloc.Opc.Add(alloc.Opc, remainder)
	return alloc, nil
}

func shareFloor(total *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(total, big.NewInt(bps))
	return out.Div(out, big.NewInt(Denominator))
}

// Total returns the sum of all pool amounts.
func (a Allocation) Total() *big.Int {
	sum := big.NewInt(0)
	for _, part := range []*big.Int{a.Opc, a.Alpha, a.Beta, a.Gamma, a.Delta} {
		if part != nil {
			sum.Add(sum, part)
		}
	}
	return sum
}

// Verify reports whether the allocation sums exactly to the supplied revenue.
func (a Allocation) Verify(total *big.Int) error {
	if total == nil {
		total = big.NewInt(0)
	}
	if got := a.Total(); got.Cmp(total) != 0 {
		return fmt.Errorf("split: allocation sums to %s, expected %s", got, total)
	}
	return nil
}

// Clone produces a deep copy of the allocation.
func (a Allocation) Clone() Allocation {
	return Allocation{
		Opc:   copyBigInt(a.Opc),
		Alpha: copyBigInt(a.Alpha),
		Beta:  copyBigInt(a.Beta),
		Gamma: copyBigInt(a.Gamma),
		Delta: copyBigInt(a.Delta),
	}
}

func copyBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
