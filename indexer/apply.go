package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"chgnet/native/epoch"
	"chgnet/native/oracle"
	"chgnet/native/ownership"
	"chgnet/native/staking"
	"chgnet/observability"
	"chgnet/storage"
)

// ErrUnhandledEvent is recorded when a decoded event has no handler; it
// indicates a programming error, not a ledger problem.
var ErrUnhandledEvent = errors.New("indexer: unhandled event type")

// Result reports the outcome of applying one event. A batch never aborts on a
// failed event; the error stays attached to its result and the event remains
// unprocessed for retry.
type Result struct {
	Key     storage.EventKey
	Applied bool
	Skipped bool
	Err     error
}

// Applier translates decoded events into idempotent state-store mutations and
// drives the epoch state machine.
type Applier struct {
	store     *storage.Store
	engine    *epoch.Engine
	allowlist *oracle.Allowlist
	logger    *slog.Logger
	metrics   *observability.IndexerMetrics
}

// ApplierOption customises the applier.
type ApplierOption func(*Applier)

// WithApplierLogger installs a custom logger.
func WithApplierLogger(logger *slog.Logger) ApplierOption {
	return func(a *Applier) { a.logger = logger }
}

// NewApplier constructs the event applier. The allowlist is shared with the
// epoch engine so OracleUpdated events refresh both.
func NewApplier(store *storage.Store, engine *epoch.Engine, opts ...ApplierOption) (*Applier, error) {
	if store == nil {
		return nil, errors.New("indexer: store required")
	}
	if engine == nil {
		return nil, errors.New("indexer: epoch engine required")
	}
	applier := &Applier{
		store:     store,
		engine:    engine,
		allowlist: engine.Allowlist(),
		logger:    slog.Default(),
		metrics:   observability.Indexer(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(applier)
		}
	}
	return applier, nil
}

// ApplyBatch applies a poll cycle's events one at a time, in the order given.
// Callers must pass events of one contract in ledger order. Every event gets
// its own result; a failure never aborts the remainder of the batch.
func (a *Applier) ApplyBatch(ctx context.Context, events []Event) []Result {
	results := make([]Result, 0, len(events))
	for _, event := range events {
		result := a.applyOne(ctx, event)
		key := result.Key
		switch {
		case result.Err != nil:
			a.metrics.EventsFailed.WithLabelValues(key.Contract, key.Event).Inc()
			a.logger.Error("event apply failed",
				"contract", key.Contract,
				"event", key.Event,
				"tx", key.TxHash,
				"logIndex", key.LogIndex,
				"err", result.Err,
			)
		case result.Skipped:
			a.metrics.EventsSkipped.WithLabelValues(key.Contract, key.Event).Inc()
		default:
			a.metrics.EventsApplied.WithLabelValues(key.Contract, key.Event).Inc()
		}
		results = append(results, result)
	}
	return results
}

func (a *Applier) applyOne(ctx context.Context, event Event) Result {
	key := Key(event)

	switch e := event.(type) {
	case RevenuePostedEvent:
		return a.applyRevenuePosted(ctx, key, e)
	case OracleUpdatedEvent:
		return a.applyOracleUpdated(ctx, key, e)
	case RevenueSplitEvent:
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.ApplyRealizedSplit(tx, e.EpochID, e.ToOPC, e.ToAlpha, e.ToBeta, e.ToGamma, e.ToDelta)
		})
	case MerkleRootSetEvent:
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.PublishMerkleRoot(tx, e.EpochID, e.Group, fmt.Sprintf("0x%x", e.Root))
		})
	case StakedEvent:
		return a.applyStaked(ctx, key, e)
	case UnstakedEvent:
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.DeactivateStake(tx, e.Staker, e.Amount)
		})
	case ClaimedEvent:
		claimedAt := time.Unix(int64(e.Raw.BlockTime), 0).UTC()
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.MarkRewardClaimed(tx, e.EpochID, e.Staker, claimedAt)
		})
	case RewardAccruedEvent:
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.AccrueReward(tx, e.EpochID, e.Staker, e.Amount)
		})
	case TransferEvent:
		return a.applyTransfer(ctx, key, e)
	case L1StakeEvent:
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.SetL1Staked(tx, e.TokenID, e.Account, e.MachineID, e.Staked)
		})
	case OwnerShareUpdatedEvent:
		return a.applyOwnerShareUpdated(ctx, key, e)
	default:
		return Result{Key: key, Err: fmt.Errorf("%w: %T", ErrUnhandledEvent, event)}
	}
}

// mutate runs one transactional mutation under the idempotency ledger.
func (a *Applier) mutate(ctx context.Context, key storage.EventKey, apply func(tx *gorm.DB) error) Result {
	applied, err := a.store.ApplyEvent(ctx, key, apply)
	if err != nil {
		return Result{Key: key, Err: err}
	}
	return Result{Key: key, Applied: applied, Skipped: !applied}
}

// applyRevenuePosted routes a machine-level figure into the revenue breakdown
// and an epoch-level figure into the state machine. The state machine writes
// in its own transaction before the processed marker is set; a crash between
// the two re-runs the posting, which the duplicate-post guard absorbs.
func (a *Applier) applyRevenuePosted(ctx context.Context, key storage.EventKey, e RevenuePostedEvent) Result {
	if e.MachineID != 0 {
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.UpsertMachineRevenue(tx, e.EpochID, e.MachineID, e.TotalRevenue)
		})
	}
	processed, err := a.store.Processed(ctx, key)
	if err != nil {
		return Result{Key: key, Err: err}
	}
	if processed {
		return Result{Key: key, Skipped: true}
	}
	_, err = a.engine.PostRevenue(ctx, epoch.Posting{
		EpochID:      e.EpochID,
		Submitter:    e.Oracle,
		TotalRevenue: e.TotalRevenue,
		MerkleRoot:   e.MerkleRoot,
		Signature:    e.Signature,
	})
	if errors.Is(err, epoch.ErrAlreadyPosted) || errors.Is(err, epoch.ErrAlreadyFinalized) {
		// Crash-replay: the posting landed before the marker was written.
		// Settle the marker instead of recording a failure for an event whose
		// mutation is already visible.
		if _, markErr := a.store.ApplyEvent(ctx, key, func(*gorm.DB) error { return nil }); markErr != nil {
			return Result{Key: key, Err: markErr}
		}
		return Result{Key: key, Skipped: true}
	}
	if err != nil {
		a.store.RecordFailure(ctx, key, err)
		return Result{Key: key, Err: err}
	}
	a.metrics.RevenuePosted.Inc()
	return a.markProcessed(ctx, key)
}

func (a *Applier) applyOracleUpdated(ctx context.Context, key storage.EventKey, e OracleUpdatedEvent) Result {
	result := a.mutate(ctx, key, func(tx *gorm.DB) error {
		return storage.SetOracleSigner(tx, e.Signer, e.Allowed)
	})
	if result.Err == nil {
		// Refresh the in-process cache even on replay so a restarted node
		// converges with the persisted allowlist.
		a.allowlist.Set(e.Signer, e.Allowed)
	}
	return result
}

func (a *Applier) applyStaked(ctx context.Context, key storage.EventKey, e StakedEvent) Result {
	position, err := staking.NewPosition(0, e.Staker, e.Amount, e.LockDuration, e.Raw.BlockTime)
	if err != nil {
		a.store.RecordFailure(ctx, key, err)
		return Result{Key: key, Err: err}
	}
	if e.WeightBps != 0 && e.WeightBps != position.LockWeightBps {
		a.logger.Warn("staked event weight disagrees with lock table",
			"eventWeight", e.WeightBps,
			"computedWeight", position.LockWeightBps,
			"lockDays", e.LockDuration,
		)
	}
	return a.mutate(ctx, key, func(tx *gorm.DB) error {
		return storage.CreateStakingPosition(tx, position)
	})
}

func (a *Applier) applyTransfer(ctx context.Context, key storage.EventKey, e TransferEvent) Result {
	switch {
	case e.Burn():
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.BurnOwnerToken(tx, e.TokenID)
		})
	default:
		// Mint and transfer both land on presence tracking for the receiver.
		return a.mutate(ctx, key, func(tx *gorm.DB) error {
			return storage.SetHolding(tx, e.TokenID, e.To)
		})
	}
}

func (a *Applier) applyOwnerShareUpdated(ctx context.Context, key storage.EventKey, e OwnerShareUpdatedEvent) Result {
	token, err := ownership.NewToken(e.TokenID, e.MachineID, e.ShareBps, e.TotalSupply, e.ExpiresAt)
	if err != nil {
		a.store.RecordFailure(ctx, key, err)
		return Result{Key: key, Err: err}
	}
	return a.mutate(ctx, key, func(tx *gorm.DB) error {
		return storage.UpsertOwnerToken(tx, token)
	})
}

func (a *Applier) markProcessed(ctx context.Context, key storage.EventKey) Result {
	applied, err := a.store.ApplyEvent(ctx, key, func(*gorm.DB) error { return nil })
	if err != nil {
		return Result{Key: key, Err: err}
	}
	return Result{Key: key, Applied: applied, Skipped: !applied}
}
