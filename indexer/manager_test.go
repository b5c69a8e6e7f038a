package indexer

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	head    uint64
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func (f *fakeLedger) FilterLogs(_ context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, query)
	from := query.FromBlock.Uint64()
	to := query.ToBlock.Uint64()
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeLedger) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeLedger) BlockTimestamp(_ context.Context, block uint64) (uint64, error) {
	return 1_700_000_000 + block*12, nil
}

func stakingAddress() common.Address {
	return common.HexToAddress("0x9999999999999999999999999999999999999999")
}

func stakedLog(block uint64, index uint, staker common.Address, amount int64, lockDays uint64) types.Log {
	data := packWords(bigWord(big.NewInt(amount)), u64Word(lockDays), u64Word(0))
	return types.Log{
		Address:     stakingAddress(),
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
		Topics:      []common.Hash{sigStaked, addrTopic(staker)},
		Data:        data,
	}
}

func TestPollOnceAppliesAndAdvancesCursor(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()
	staker := common.HexToAddress("0x5555555555555555555555555555555555555555")

	client := &fakeLedger{
		head: 120,
		logs: []types.Log{
			stakedLog(101, 0, staker, 2_500, 365),
			stakedLog(110, 2, staker, 1_000, 90),
			// An unrelated topic from the same contract decodes to a no-op.
			{
				Address:     stakingAddress(),
				BlockNumber: 111,
				TxHash:      common.HexToHash("0x9f"),
				Topics:      []common.Hash{common.HexToHash("0x01")},
			},
		},
	}
	binding := ContractBinding{Name: ContractCHGStaking, Address: stakingAddress()}
	manager, err := NewManager(client, f.applier, f.store, []ContractBinding{binding}, time.Second)
	require.NoError(t, err)

	require.NoError(t, manager.PollOnce(ctx, binding))

	positions, err := f.store.ActivePositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	require.Equal(t, uint64(1_700_000_000+101*12), positions[0].StartTimestamp)

	cursor, err := f.store.Cursor(ctx, ContractCHGStaking)
	require.NoError(t, err)
	require.Equal(t, uint64(120), cursor)

	// A second cycle with no new head is a no-op.
	require.NoError(t, manager.PollOnce(ctx, binding))
	require.Len(t, client.queries, 1)
}

func TestPollOnceCapsBlockRange(t *testing.T) {
	f := newApplierFixture(t)
	ctx := context.Background()

	client := &fakeLedger{head: 100_000}
	binding := ContractBinding{Name: ContractCHGStaking, Address: stakingAddress()}
	manager, err := NewManager(client, f.applier, f.store, []ContractBinding{binding}, time.Second,
		WithMaxBlockRange(500))
	require.NoError(t, err)

	require.NoError(t, manager.PollOnce(ctx, binding))

	require.Len(t, client.queries, 1)
	require.Equal(t, uint64(1), client.queries[0].FromBlock.Uint64())
	require.Equal(t, uint64(500), client.queries[0].ToBlock.Uint64())

	cursor, err := f.store.Cursor(ctx, ContractCHGStaking)
	require.NoError(t, err)
	require.Equal(t, uint64(500), cursor)

	// The next cycle picks up where the cap stopped.
	require.NoError(t, manager.PollOnce(ctx, binding))
	require.Equal(t, uint64(501), client.queries[1].FromBlock.Uint64())
	require.Equal(t, uint64(1000), client.queries[1].ToBlock.Uint64())
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	f := newApplierFixture(t)

	client := &fakeLedger{head: 10}
	binding := ContractBinding{Name: ContractCHGStaking, Address: stakingAddress()}
	manager, err := NewManager(client, f.applier, f.store, []ContractBinding{binding}, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- manager.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop after cancellation")
	}
}
