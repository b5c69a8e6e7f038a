package indexer

import (
	"context"
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

type finalizerFixture struct {
	*applierFixture
	finalizer *Finalizer
	now       time.Time
}

func newFinalizerFixture(t *testing.T) *finalizerFixture {
	t.Helper()

	store, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "chgnet.db")))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	f := &finalizerFixture{
		applierFixture: &applierFixture{
			store:     store,
			oracleKey: key,
			oracleAdr: addr,
		},
		now: time.Unix(1_700_000_000, 0).UTC(),
	}
	clock := func() time.Time { return f.now }

	schedule := epoch.Schedule{
		Epoch0Start:   time.Unix(1_700_000_000, 0).UTC(),
		EpochDuration: 24 * time.Hour,
		GracePeriod:   6 * time.Hour,
	}
	f.engine, err = epoch.NewEngine(schedule, store, oracle.NewAllowlist(addr), epoch.WithClock(clock))
	require.NoError(t, err)
	f.applier, err = NewApplier(store, f.engine)
	require.NoError(t, err)
	f.finalizer, err = NewFinalizer(f.engine, store, time.Second, WithFinalizerClock(clock))
	require.NoError(t, err)
	return f
}

func (f *finalizerFixture) advanceTo(epochEnd uint64, pastGrace time.Duration) {
	f.now = time.Unix(1_700_000_000, 0).UTC().
		Add(time.Duration(epochEnd) * 24 * time.Hour).
		Add(6 * time.Hour).
		Add(pastGrace)
}

func TestFinalizerClosesPostedEpochWithPostedFigures(t *testing.T) {
	f := newFinalizerFixture(t)
	ctx := context.Background()

	event := f.signedPosting(t, 1, big.NewInt(1_000_000), rawAt(10, "0xa1", 0))
	results := f.applier.ApplyBatch(ctx, []Event{event})
	require.NoError(t, results[0].Err)

	f.advanceTo(1, time.Minute)
	require.NoError(t, f.finalizer.Tick(ctx))

	record, err := f.store.GetEpoch(ctx, 1)
	require.NoError(t, err)
	require.True(t, record.Finalized)
	require.True(t, record.OraclePosted)
	require.Equal(t, "1000000", record.TotalRevenue.String())
	require.Equal(t, "700000", record.Pools.Opc.String())
}

func TestFinalizerZeroRevenueFallback(t *testing.T) {
	f := newFinalizerFixture(t)
	ctx := context.Background()

	f.advanceTo(2, time.Minute)
	require.NoError(t, f.finalizer.Tick(ctx))

	for _, id := range []uint64{1, 2} {
		record, err := f.store.GetEpoch(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, record, "epoch %d", id)
		require.True(t, record.Finalized)
		require.False(t, record.OraclePosted)
		require.Equal(t, "0", record.TotalRevenue.String())
	}
}

func TestFinalizerWaitsOutGraceWindow(t *testing.T) {
	f := newFinalizerFixture(t)
	ctx := context.Background()

	// One minute before epoch 1's grace deadline.
	f.advanceTo(1, -time.Minute)
	require.NoError(t, f.finalizer.Tick(ctx))

	record, err := f.store.GetEpoch(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestFinalizerResumesFromCursor(t *testing.T) {
	f := newFinalizerFixture(t)
	ctx := context.Background()

	f.advanceTo(1, time.Minute)
	require.NoError(t, f.finalizer.Tick(ctx))
	cursor, err := f.store.Cursor(ctx, finalizerCursor)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cursor)

	// A repeated tick at the same instant has nothing left to do.
	require.NoError(t, f.finalizer.Tick(ctx))

	f.advanceTo(3, time.Minute)
	require.NoError(t, f.finalizer.Tick(ctx))
	cursor, err = f.store.Cursor(ctx, finalizerCursor)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cursor)
}

func TestFinalizerBeforeEpochZeroIsNoOp(t *testing.T) {
	f := newFinalizerFixture(t)
	f.now = time.Unix(1_600_000_000, 0).UTC()
	require.NoError(t, f.finalizer.Tick(context.Background()))
}
