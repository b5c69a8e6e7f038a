package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chgnet/native/epoch"
	"chgnet/observability"
	"chgnet/storage"
)

// finalizerCursor keys the finalizer's progress in the cursor table alongside
// the per-contract scan cursors.
const finalizerCursor = "EpochFinalizer"

// Finalizer closes epochs whose grace deadline has passed: posted epochs with
// their posted figures, unposted ones with the zero-revenue fallback. It walks
// epoch ids in order and persists its progress, so a restart resumes where it
// left off.
type Finalizer struct {
	engine   *epoch.Engine
	store    *storage.Store
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.IndexerMetrics
	now      func() time.Time
}

// FinalizerOption customises the finalizer.
type FinalizerOption func(*Finalizer)

// WithFinalizerLogger installs a custom logger.
func WithFinalizerLogger(logger *slog.Logger) FinalizerOption {
	return func(f *Finalizer) { f.logger = logger }
}

// WithFinalizerClock overrides the finalizer's time source.
func WithFinalizerClock(now func() time.Time) FinalizerOption {
	return func(f *Finalizer) { f.now = now }
}

// NewFinalizer constructs the epoch finalizer loop.
func NewFinalizer(engine *epoch.Engine, store *storage.Store, interval time.Duration, opts ...FinalizerOption) (*Finalizer, error) {
	if engine == nil {
		return nil, errors.New("indexer: epoch engine required")
	}
	if store == nil {
		return nil, errors.New("indexer: store required")
	}
	if interval <= 0 {
		return nil, errors.New("indexer: finalize interval must be positive")
	}
	finalizer := &Finalizer{
		engine:   engine,
		store:    store,
		interval: interval,
		logger:   slog.Default(),
		metrics:  observability.Indexer(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(finalizer)
		}
	}
	return finalizer, nil
}

// Run blocks until the context is cancelled, ticking at the configured
// interval.
func (f *Finalizer) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		if err := f.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("finalize cycle failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick finalizes every epoch past its grace deadline, oldest first. It stops
// at the first epoch still inside its window.
func (f *Finalizer) Tick(ctx context.Context) error {
	now := f.now()
	schedule := f.engine.Schedule()
	current, err := schedule.CurrentEpochID(now)
	if err != nil {
		if errors.Is(err, epoch.ErrBeforeEpochStart) {
			return nil
		}
		return err
	}
	last, err := f.store.Cursor(ctx, finalizerCursor)
	if err != nil {
		return err
	}
	for id := last + 1; id < current; id++ {
		deadline, err := schedule.GraceDeadline(id)
		if err != nil {
			return err
		}
		if now.Before(deadline) {
			return nil
		}
		record, err := f.engine.Finalize(ctx, id)
		switch {
		case errors.Is(err, epoch.ErrAlreadyFinalized):
		case err != nil:
			return fmt.Errorf("finalize epoch %d: %w", id, err)
		default:
			f.metrics.EpochsFinalized.Inc()
			f.logger.Info("epoch closed",
				"epoch", id,
				"total", record.TotalRevenue.String(),
				"oraclePosted", record.OraclePosted,
			)
		}
		if err := f.store.SetCursor(ctx, finalizerCursor, id); err != nil {
			return err
		}
	}
	return nil
}
