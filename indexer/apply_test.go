package indexer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"

	"chgnet/native/epoch"
	"chgnet/native/oracle"
	"chgnet/storage"
)

type applierFixture struct {
	applier   *Applier
	store     *storage.Store
	engine    *epoch.Engine
	oracleKey *ecdsa.PrivateKey
	oracleAdr [20]byte
}

func newApplierFixture(t *testing.T) *applierFixture {
	t.Helper()

	store, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "chgnet.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	schedule := epoch.Schedule{
		Epoch0Start:   time.Unix(1_700_000_000, 0).UTC(),
		EpochDuration: 24 * time.Hour,
		GracePeriod:   6 * time.Hour,
	}
	engine, err := epoch.NewEngine(schedule, store, oracle.NewAllowlist(addr))
	require.NoError(t, err)

	applier, err := NewApplier(store, engine)
	require.NoError(t, err)

	return &applierFixture{
		applier:   applier,
		store:     store,
		engine:    engine,
		oracleKey: key,
		oracleAdr: addr,
	}
}

func (f *applierFixture) signedPosting(t *testing.T, epochID uint64, total *big.Int, raw Raw) RevenuePostedEvent {
	t.Helper()
	var root [32]byte
	root[0] = 0x01
	sig, err := oracle.Sign(oracle.Attestation{
		EpochID:      epochID,
		TotalRevenue: total,
		MerkleRoot:   root,
	}, f.oracleKey)
	require.NoError(t, err)
	return RevenuePostedEvent{
		Raw:          raw,
		EpochID:      epochID,
		Oracle:       f.oracleAdr,
		TotalRevenue: total,
		MerkleRoot:   root,
		Signature:    sig,
	}
}

func rawAt(block uint64, tx string, index uint) Raw {
	return Raw{
		BlockNumber: block,
		BlockTime:   1_700_000_000 + block*12,
		TxHash:      tx,
		LogIndex:    index,
	}
}

func TestApplyAggregateRevenuePosting(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	event := f.signedPosting(t, 1, big.NewInt(1_000_003), rawAt(10, "0xa1", 0))
	results := f.applier.ApplyBatch(ctx, []Event{event})
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.True(t, results[0].Applied)

	record, err := f.store.GetEpoch(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.True(t, record.OraclePosted)
	require.False(t, record.Finalized)
	require.Equal(t, "1000003", record.TotalRevenue.String())
	require.NoError(t, record.Pools.Verify(record.TotalRevenue))
}

func TestApplyAggregateRevenueReplayIsSkipped(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	event := f.signedPosting(t, 1, big.NewInt(500_000), rawAt(10, "0xa1", 0))
	first := f.applier.ApplyBatch(ctx, []Event{event})
	require.True(t, first[0].Applied)

	// Redelivery of the same log must be a marker-level no-op.
	second := f.applier.ApplyBatch(ctx, []Event{event})
	require.NoError(t, second[0].Err)
	require.True(t, second[0].Skipped)
}

func TestApplyAggregateRevenueSettlesMarkerAfterCrashReplay(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	// The posting lands via the engine but the process dies before the
	// processed marker is written; redelivery must settle the marker, not
	// record a failure.
	event := f.signedPosting(t, 1, big.NewInt(750_000), rawAt(10, "0xa9", 0))
	_, err := f.engine.PostRevenue(ctx, epoch.Posting{
		EpochID:      event.EpochID,
		Submitter:    event.Oracle,
		TotalRevenue: event.TotalRevenue,
		MerkleRoot:   event.MerkleRoot,
		Signature:    event.Signature,
	})
	require.NoError(t, err)

	results := f.applier.ApplyBatch(ctx, []Event{event})
	require.NoError(t, results[0].Err)
	require.True(t, results[0].Skipped)

	processed, err := f.store.Processed(ctx, Key(event))
	require.NoError(t, err)
	require.True(t, processed)
	failures, err := f.store.EventFailures(ctx, ContractRevenuePool)
	require.NoError(t, err)
	require.Empty(t, failures)
}

func TestApplyMachineRevenueBreakdown(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	events := []Event{
		RevenuePostedEvent{
			Raw:          rawAt(10, "0xb1", 0),
			EpochID:      2,
			MachineID:    7,
			TotalRevenue: big.NewInt(600_000),
		},
		RevenuePostedEvent{
			Raw:          rawAt(10, "0xb1", 1),
			EpochID:      2,
			MachineID:    9,
			TotalRevenue: big.NewInt(400_000),
		},
	}
	for _, result := range f.applier.ApplyBatch(ctx, events) {
		require.NoError(t, result.Err)
		require.True(t, result.Applied)
	}

	rows, err := f.store.MachineRevenues(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, uint64(7), rows[0].MachineID)
	require.Equal(t, "600000", rows[0].Amount)
	require.Equal(t, uint64(9), rows[1].MachineID)
	require.Equal(t, "400000", rows[1].Amount)
}

func TestApplyBatchIsolatesFailures(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	// Forged signature: signed by a key that is not on the allowlist.
	rogue, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	bad := f.signedPosting(t, 1, big.NewInt(100), rawAt(10, "0xc1", 0))
	sig, err := oracle.Sign(oracle.Attestation{
		EpochID:      1,
		TotalRevenue: big.NewInt(100),
		MerkleRoot:   bad.MerkleRoot,
	}, rogue)
	require.NoError(t, err)
	bad.Signature = sig

	good := OracleUpdatedEvent{
		Raw:     rawAt(10, "0xc1", 1),
		Signer:  [20]byte{0xaa},
		Allowed: true,
	}

	results := f.applier.ApplyBatch(ctx, []Event{bad, good})
	require.Len(t, results, 2)
	require.ErrorIs(t, results[0].Err, oracle.ErrUnknownSigner)
	require.NoError(t, results[1].Err)
	require.True(t, results[1].Applied)

	// The failure is recorded but stays retryable.
	failures, err := f.store.EventFailures(ctx, ContractRevenuePool)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	processed, err := f.store.Processed(ctx, Key(bad))
	require.NoError(t, err)
	require.False(t, processed)
}

func TestApplyOracleUpdatedRefreshesAllowlist(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	signer := [20]byte{0xbb}

	grant := OracleUpdatedEvent{Raw: rawAt(11, "0xd1", 0), Signer: signer, Allowed: true}
	results := f.applier.ApplyBatch(ctx, []Event{grant})
	require.NoError(t, results[0].Err)
	require.True(t, f.engine.Allowlist().Contains(signer))

	persisted, err := f.store.AllowedOracles(ctx)
	require.NoError(t, err)
	require.Contains(t, persisted, signer)

	revoke := OracleUpdatedEvent{Raw: rawAt(12, "0xd2", 0), Signer: signer, Allowed: false}
	results = f.applier.ApplyBatch(ctx, []Event{revoke})
	require.NoError(t, results[0].Err)
	require.False(t, f.engine.Allowlist().Contains(signer))
}

func TestApplyStakedCreatesPosition(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	staker := [20]byte{0xcc}

	event := StakedEvent{
		Raw:          rawAt(20, "0xe1", 0),
		Staker:       staker,
		Amount:       big.NewInt(2_500),
		LockDuration: 365,
		WeightBps:    3000,
	}
	results := f.applier.ApplyBatch(ctx, []Event{event})
	require.NoError(t, results[0].Err)

	positions, err := f.store.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, staker, positions[0].Staker)
	require.Equal(t, uint64(3000), positions[0].LockWeightBps)
	require.Equal(t, event.Raw.BlockTime, positions[0].StartTimestamp)
	require.False(t, positions[0].InvestorProgram)
}

func TestApplyUnstakedDeactivatesOldestFirst(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	staker := [20]byte{0xdd}

	stakes := []Event{
		StakedEvent{Raw: rawAt(20, "0xf1", 0), Staker: staker, Amount: big.NewInt(100), LockDuration: 90},
		StakedEvent{Raw: rawAt(21, "0xf2", 0), Staker: staker, Amount: big.NewInt(200), LockDuration: 90},
	}
	for _, result := range f.applier.ApplyBatch(ctx, stakes) {
		require.NoError(t, result.Err)
	}

	unstake := UnstakedEvent{Raw: rawAt(22, "0xf3", 0), Staker: staker, Amount: big.NewInt(100)}
	results := f.applier.ApplyBatch(ctx, []Event{unstake})
	require.NoError(t, results[0].Err)

	positions, err := f.store.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, "200", positions[0].Amount.String())
}

func TestApplyRewardAccrualAndClaim(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	staker := [20]byte{0xee}

	accrue := RewardAccruedEvent{Raw: rawAt(30, "0x01", 0), Staker: staker, EpochID: 3, Amount: big.NewInt(450)}
	topUp := RewardAccruedEvent{Raw: rawAt(31, "0x02", 0), Staker: staker, EpochID: 3, Amount: big.NewInt(50)}
	claim := ClaimedEvent{Raw: rawAt(32, "0x03", 0), Staker: staker, EpochID: 3, Amount: big.NewInt(500)}

	for _, result := range f.applier.ApplyBatch(ctx, []Event{accrue, topUp, claim}) {
		require.NoError(t, result.Err)
	}

	reward, err := f.store.Reward(ctx, 3, staker)
	require.NoError(t, err)
	require.NotNil(t, reward)
	require.Equal(t, "500", reward.Amount)
	require.True(t, reward.Claimed)

	// A claim replayed under a fresh log key hits the one-way guard.
	again := ClaimedEvent{Raw: rawAt(33, "0x04", 0), Staker: staker, EpochID: 3, Amount: big.NewInt(500)}
	results := f.applier.ApplyBatch(ctx, []Event{again})
	require.ErrorIs(t, results[0].Err, storage.ErrRewardAlreadyClaimed)
}

func TestApplyOwnershipLifecycle(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	holder := [20]byte{0x11}

	events := []Event{
		OwnerShareUpdatedEvent{
			Raw:         rawAt(40, "0x11", 0),
			TokenID:     12,
			MachineID:   5,
			ShareBps:    1500,
			TotalSupply: 100,
		},
		TransferEvent{Raw: rawAt(40, "0x11", 1), To: holder, TokenID: 12},
		L1StakeEvent{Raw: rawAt(41, "0x12", 0), Staked: true, Account: holder, TokenID: 12, MachineID: 5},
	}
	for _, result := range f.applier.ApplyBatch(ctx, events) {
		require.NoError(t, result.Err)
	}

	token, err := f.store.Token(ctx, 12)
	require.NoError(t, err)
	require.NotNil(t, token)
	require.Equal(t, uint64(1500), token.ShareBps)
	require.False(t, token.Burned)

	holding, err := f.store.Holding(ctx, 12)
	require.NoError(t, err)
	require.NotNil(t, holding)
	require.True(t, holding.StakedL1)

	burn := TransferEvent{Raw: rawAt(42, "0x13", 0), From: holder, TokenID: 12}
	results := f.applier.ApplyBatch(ctx, []Event{burn})
	require.NoError(t, results[0].Err)

	token, err = f.store.Token(ctx, 12)
	require.NoError(t, err)
	require.True(t, token.Burned)
	holding, err = f.store.Holding(ctx, 12)
	require.NoError(t, err)
	require.Nil(t, holding)
}

func TestApplyOwnerShareCapRejected(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	events := []Event{
		OwnerShareUpdatedEvent{Raw: rawAt(50, "0x21", 0), TokenID: 1, MachineID: 5, ShareBps: 9000, TotalSupply: 1},
		OwnerShareUpdatedEvent{Raw: rawAt(50, "0x21", 1), TokenID: 2, MachineID: 5, ShareBps: 1001, TotalSupply: 1},
	}
	results := f.applier.ApplyBatch(ctx, events)
	require.NoError(t, results[0].Err)
	require.Error(t, results[1].Err)

	token, err := f.store.Token(ctx, 2)
	require.NoError(t, err)
	require.Nil(t, token)
}
