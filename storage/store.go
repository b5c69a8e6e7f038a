package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"gorm.io/gorm"

	"chgnet/native/epoch"
	"chgnet/native/split"
)

var (
	// ErrDialectorRequired is returned when Open is called without a database.
	ErrDialectorRequired = errors.New("storage: database dialector required")

	// ErrEpochImmutable is returned on any write against a finalized epoch.
	ErrEpochImmutable = errors.New("storage: epoch already finalized")

	// ErrSnapshotExists is returned when an owner share snapshot for the same
	// (epoch, account, machine) key is written twice.
	ErrSnapshotExists = errors.New("storage: owner share snapshot already recorded")

	// ErrMalformedAmount is returned when a persisted amount cannot be parsed
	// back into an integer.
	ErrMalformedAmount = errors.New("storage: malformed amount")
)

// Store is the single shared mutable resource of the reconciliation core: a
// relational state store materialising epochs, reward state, and the
// idempotency ledger.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Option customises the store.
type Option func(*Store)

// WithLogger installs a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Open connects to the configured database and migrates the schema.
func Open(dialector gorm.Dialector, opts ...Option) (*Store, error) {
	if dialector == nil {
		return nil, ErrDialectorRequired
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("storage: migrate schema: %w", err)
	}
	store := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// DB exposes the raw handle for read-only consumers.
func (s *Store) DB() *gorm.DB { return s.db }

// GetEpoch loads the lifecycle record for an epoch, or nil when the epoch has
// not been created yet.
func (s *Store) GetEpoch(ctx context.Context, epochID uint64) (*epoch.Record, error) {
	var row Epoch
	err := s.db.WithContext(ctx).First(&row, "epoch_id = ?", epochID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load epoch %d: %w", epochID, err)
	}
	return recordFromRow(row)
}

// SavePosting persists an accepted oracle posting: the epoch row, the
// per-machine breakdown, and the posting audit record, atomically.
func (s *Store) SavePosting(ctx context.Context, posting epoch.PostingRecord) error {
	record := posting.Record
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Epoch
		err := tx.First(&existing, "epoch_id = ?", record.EpochID).Error
		switch {
		case err == nil:
			if existing.Finalized {
				return ErrEpochImmutable
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		row := rowFromRecord(record)
		postedAt := posting.PostedAt
		row.PostedAt = &postedAt
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		for _, machine := range posting.MachineRevenues {
			entry := MachineRevenue{
				EpochID:   record.EpochID,
				MachineID: machine.MachineID,
				Amount:    machine.Amount.String(),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return err
			}
		}
		audit := RevenuePosting{
			PostingID:  posting.PostingID,
			EpochID:    record.EpochID,
			Signer:     hexAddress(posting.Signer),
			MerkleRoot: hexRoot(posting.MerkleRoot),
			Signature:  posting.Signature,
			PostedAt:   posting.PostedAt,
		}
		return tx.Create(&audit).Error
	})
}

// SaveFinalization marks an epoch finalized with the given figures. The write
// is rejected if the epoch is already finalized.
func (s *Store) SaveFinalization(ctx context.Context, record epoch.Record, finalizedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Epoch
		err := tx.First(&existing, "epoch_id = ?", record.EpochID).Error
		switch {
		case err == nil:
			if existing.Finalized {
				return ErrEpochImmutable
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		row := rowFromRecord(record)
		if err == nil {
			row.PostedAt = existing.PostedAt
			row.CreatedAt = existing.CreatedAt
		}
		row.FinalizedAt = &finalizedAt
		return tx.Save(&row).Error
	})
}

func rowFromRecord(record epoch.Record) Epoch {
	return Epoch{
		EpochID:      record.EpochID,
		TotalRevenue: record.TotalRevenue.String(),
		OraclePosted: record.OraclePosted,
		Finalized:    record.Finalized,
		OpcPool:      record.Pools.Opc.String(),
		AlphaPool:    record.Pools.Alpha.String(),
		BetaPool:     record.Pools.Beta.String(),
		GammaPool:    record.Pools.Gamma.String(),
		DeltaPool:    record.Pools.Delta.String(),
	}
}

func recordFromRow(row Epoch) (*epoch.Record, error) {
	total, err := parseAmount(row.TotalRevenue)
	if err != nil {
		return nil, err
	}
	pools := split.Allocation{}
	for _, field := range []struct {
		raw string
		dst **big.Int
	}{
		{row.OpcPool, &pools.Opc},
		{row.AlphaPool, &pools.Alpha},
		{row.BetaPool, &pools.Beta},
		{row.GammaPool, &pools.Gamma},
		{row.DeltaPool, &pools.Delta},
	} {
		amount, err := parseAmount(field.raw)
		if err != nil {
			return nil, err
		}
		*field.dst = amount
	}
	return &epoch.Record{
		EpochID:      row.EpochID,
		TotalRevenue: total,
		OraclePosted: row.OraclePosted,
		Finalized:    row.Finalized,
		Pools:        pools,
	}, nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	return amount, nil
}

func hexAddress(addr [20]byte) string {
	return fmt.Sprintf("0x%x", addr)
}

func hexRoot(root [32]byte) string {
	return fmt.Sprintf("0x%x", root)
}
