package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"chgnet/ledger"
	"chgnet/observability"
	"chgnet/storage"
)

// DefaultMaxBlockRange caps how many blocks one poll cycle scans per contract.
const DefaultMaxBlockRange = 5000

// ContractBinding ties an indexer contract name to its ledger address.
type ContractBinding struct {
	Name    string
	Address common.Address
}

// Manager runs one poll loop per bound contract. Contracts are causally
// independent and polled concurrently; within a contract, events apply in
// ledger order (block number, then log index). A cycle may be cancelled
// between batches, never mid-event.
type Manager struct {
	client    ledger.Client
	applier   *Applier
	store     *storage.Store
	contracts []ContractBinding
	interval  time.Duration
	maxRange  uint64
	logger    *slog.Logger
	metrics   *observability.IndexerMetrics
	once      sync.Once
}

// ManagerOption customises the manager.
type ManagerOption func(*Manager)

// WithManagerLogger installs a custom logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMaxBlockRange overrides the per-cycle block scan cap.
func WithMaxBlockRange(blocks uint64) ManagerOption {
	return func(m *Manager) {
		if blocks > 0 {
			m.maxRange = blocks
		}
	}
}

// NewManager constructs the poll manager.
func NewManager(client ledger.Client, applier *Applier, store *storage.Store, contracts []ContractBinding, interval time.Duration, opts ...ManagerOption) (*Manager, error) {
	if client == nil {
		return nil, errors.New("indexer: ledger client required")
	}
	if applier == nil {
		return nil, errors.New("indexer: applier required")
	}
	if store == nil {
		return nil, errors.New("indexer: store required")
	}
	if len(contracts) == 0 {
		return nil, errors.New("indexer: at least one contract binding required")
	}
	if interval <= 0 {
		return nil, errors.New("indexer: poll interval must be positive")
	}
	manager := &Manager{
		client:    client,
		applier:   applier,
		store:     store,
		contracts: append([]ContractBinding{}, contracts...),
		interval:  interval,
		maxRange:  DefaultMaxBlockRange,
		logger:    slog.Default(),
		metrics:   observability.Indexer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	return manager, nil
}

// Run blocks until the context is cancelled, polling every bound contract on
// its own goroutine.
func (m *Manager) Run(ctx context.Context) error {
	m.once.Do(func() {
		m.logger.Info("indexer started", "contracts", len(m.contracts), "interval", m.interval.String())
	})
	var wg sync.WaitGroup
	for _, binding := range m.contracts {
		wg.Add(1)
		go func(binding ContractBinding) {
			defer wg.Done()
			m.pollLoop(ctx, binding)
		}(binding)
	}
	wg.Wait()
	return ctx.Err()
}

func (m *Manager) pollLoop(ctx context.Context, binding ContractBinding) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if err := m.PollOnce(ctx, binding); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error("poll cycle failed", "contract", binding.Name, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce runs a single scan-decode-apply cycle for one contract.
func (m *Manager) PollOnce(ctx context.Context, binding ContractBinding) error {
	head, err := m.client.BlockNumber(ctx)
	if err != nil {
		return err
	}
	cursor, err := m.store.Cursor(ctx, binding.Name)
	if err != nil {
		return err
	}
	if cursor >= head {
		return nil
	}
	from := cursor + 1
	to := head
	if to-from+1 > m.maxRange {
		to = from + m.maxRange - 1
	}

	logs, err := m.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{binding.Address},
	})
	if err != nil {
		return err
	}

	events, err := m.decodeBatch(ctx, binding.Name, logs)
	if err != nil {
		return err
	}

	started := time.Now()
	results := m.applier.ApplyBatch(ctx, events)
	m.metrics.BatchLatency.WithLabelValues(binding.Name).Observe(time.Since(started).Seconds())

	failed := 0
	for _, result := range results {
		if result.Err != nil {
			failed++
		}
	}
	if err := m.store.SetCursor(ctx, binding.Name, to); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	m.metrics.LastBlock.WithLabelValues(binding.Name).Set(float64(to))
	if len(events) > 0 || failed > 0 {
		m.logger.Info("poll cycle complete",
			"contract", binding.Name,
			"from", from,
			"to", to,
			"events", len(events),
			"failed", failed,
		)
	}
	return nil
}

// decodeBatch turns raw logs into ordered typed events, resolving each block
// timestamp once. Undecodable or unknown logs are logged and dropped; they
// never abort the batch.
func (m *Manager) decodeBatch(ctx context.Context, contract string, logs []types.Log) ([]Event, error) {
	blockTimes := make(map[uint64]uint64)
	events := make([]Event, 0, len(logs))
	for _, log := range logs {
		blockTime, ok := blockTimes[log.BlockNumber]
		if !ok {
			resolved, err := m.client.BlockTimestamp(ctx, log.BlockNumber)
			if err != nil {
				return nil, fmt.Errorf("resolve block %d time: %w", log.BlockNumber, err)
			}
			blockTime = resolved
			blockTimes[log.BlockNumber] = blockTime
		}
		event, err := DecodeLog(contract, log, blockTime)
		if err != nil {
			m.logger.Warn("undecodable log",
				"contract", contract,
				"tx", log.TxHash.Hex(),
				"logIndex", log.Index,
				"err", err,
			)
			continue
		}
		if event == nil {
			m.logger.Debug("unknown event topic", "contract", contract, "tx", log.TxHash.Hex())
			continue
		}
		events = append(events, event)
	}
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i].Meta(), events[j].Meta()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
	return events, nil
}
