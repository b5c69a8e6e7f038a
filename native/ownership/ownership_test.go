package ownership

import (
	"math/big"
	"testing"
)

func TestNewTokenValidation(t *testing.T) {
	if _, err := NewToken(1, 1, 0, 100, 0); err != ErrShareOutOfRange {
		t.Fatalf("zero share: got %v", err)
	}
	if _, err := NewToken(1, 1, 10001, 100, 0); err != ErrShareOutOfRange {
		t.Fatalf("oversized share: got %v", err)
	}
	if _, err := NewToken(1, 1, 5000, 0, 0); err != ErrNonPositiveSupply {
		t.Fatalf("zero supply: got %v", err)
	}
	token, err := NewToken(1, 9, 5000, 100, 0)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if token.Burned {
		t.Fatal("new token must not be burned")
	}
}

func TestBurnIsOneWay(t *testing.T) {
	token, err := NewToken(1, 1, 100, 10, 0)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if err := token.Burn(); err != nil {
		t.Fatalf("first burn: %v", err)
	}
	if err := token.Burn(); err != ErrAlreadyBurned {
		t.Fatalf("second burn: got %v, want ErrAlreadyBurned", err)
	}
}

func TestAdjustSupplyRejectsNegativeResult(t *testing.T) {
	token, err := NewToken(1, 1, 100, 10, 0)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if err := token.AdjustSupply(-11); err != ErrNegativeSupply {
		t.Fatalf("underflow: got %v", err)
	}
	if err := token.AdjustSupply(-10); err != nil {
		t.Fatalf("drain to zero: %v", err)
	}
	if token.TotalSupply != 0 {
		t.Fatalf("supply: got %d, want 0", token.TotalSupply)
	}
	if err := token.AdjustSupply(5); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if token.TotalSupply != 5 {
		t.Fatalf("supply: got %d, want 5", token.TotalSupply)
	}
}

func TestEffectiveWeight(t *testing.T) {
	token, err := NewToken(1, 1, 250, 10, 0)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if got := token.EffectiveWeight(4, true); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("staked weight: got %s, want 1000", got)
	}
	if got := token.EffectiveWeight(4, false); got.Sign() != 0 {
		t.Fatalf("unstaked weight: got %s, want 0", got)
	}
	if err := token.Burn(); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := token.EffectiveWeight(4, true); got.Sign() != 0 {
		t.Fatalf("burned weight: got %s, want 0", got)
	}
}

func TestValidateMachineOwnership(t *testing.T) {
	burned, err := NewToken(3, 7, 4000, 1, 0)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if err := burned.Burn(); err != nil {
		t.Fatalf("burn: %v", err)
	}
	tokens := []Token{
		mustToken(t, 1, 7, 6000),
		mustToken(t, 2, 7, 3000),
		mustToken(t, 4, 8, 9000),
		burned,
	}
	check := ValidateMachineOwnership(7, tokens)
	if check.TotalBps != 9000 {
		t.Fatalf("total bps: got %d, want 9000 (burned shares excluded)", check.TotalBps)
	}
	if !check.Valid {
		t.Fatal("machine 7 must be valid at 9000 bps")
	}
	if err := ValidateAddition(7, 1000, tokens); err != nil {
		t.Fatalf("addition to cap: %v", err)
	}
	if err := ValidateAddition(7, 1001, tokens); err != ErrShareCapExceeded {
		t.Fatalf("addition over cap: got %v", err)
	}
}

func TestTokensRequiringBurn(t *testing.T) {
	burned := mustToken(t, 3, 5, 100)
	if err := burned.Burn(); err != nil {
		t.Fatalf("burn: %v", err)
	}
	tokens := []Token{
		mustToken(t, 1, 5, 100),
		mustToken(t, 2, 6, 100),
		burned,
	}
	due := TokensRequiringBurn(tokens, map[uint64]bool{5: true})
	if len(due) != 1 || due[0].TokenID != 1 {
		t.Fatalf("due tokens: got %v", due)
	}
}

func TestExpired(t *testing.T) {
	perpetual := mustToken(t, 1, 1, 100)
	if perpetual.Expired(1_000_000) {
		t.Fatal("token without expiry must never expire")
	}
	expiring, err := NewToken(2, 1, 100, 10, 500)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if expiring.Expired(499) {
		t.Fatal("token must not expire before its deadline")
	}
	if !expiring.Expired(500) {
		t.Fatal("token must expire at its deadline")
	}
}

func TestNewSnapshot(t *testing.T) {
	token := mustToken(t, 1, 7, 250)
	var account [20]byte
	account[19] = 9
	snap := NewSnapshot(42, account, token, 4, true)
	if snap.EpochID != 42 || snap.MachineID != 7 || snap.ShareBps != 250 {
		t.Fatalf("snapshot fields: %+v", snap)
	}
	if snap.EffectiveShare.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("effective share: got %s, want 1000", snap.EffectiveShare)
	}
}

func mustToken(t *testing.T, tokenID, machineID, shareBps uint64) Token {
	t.Helper()
	token, err := NewToken(tokenID, machineID, shareBps, 10, 0)
	if err != nil {
		t.Fatalf("token %d: %v", tokenID, err)
	}
	return token
}
