package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventKey uniquely identifies one ledger log delivery.
type EventKey struct {
	Contract string
	Event    string
	TxHash   string
	LogIndex uint
}

var eventConflictColumns = []clause.Column{
	{Name: "contract"},
	{Name: "event"},
	{Name: "tx_hash"},
	{Name: "log_index"},
}

// Processed reports whether the event was already applied successfully.
func (s *Store) Processed(ctx context.Context, key EventKey) (bool, error) {
	var row ProcessedEvent
	err := s.db.WithContext(ctx).
		Where("contract = ? AND event = ? AND tx_hash = ? AND log_index = ? AND success = ?",
			key.Contract, key.Event, key.TxHash, key.LogIndex, true).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ApplyEvent runs the mutation for a single ledger event with idempotency
// guarantees: if the event was already applied it is skipped; otherwise the
// mutation and the processed marker commit in one transaction, so the marker
// is never visible without its mutation. A failed mutation rolls back and is
// recorded against the event without marking it processed.
//
// The boolean result reports whether the mutation was applied in this call.
func (s *Store) ApplyEvent(ctx context.Context, key EventKey, apply func(tx *gorm.DB) error) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ProcessedEvent
		err := tx.Where("contract = ? AND event = ? AND tx_hash = ? AND log_index = ?",
			key.Contract, key.Event, key.TxHash, key.LogIndex).
			First(&existing).Error
		switch {
		case err == nil:
			if existing.Success {
				return nil
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		if err := apply(tx); err != nil {
			return err
		}
		marker := ProcessedEvent{
			Contract:    key.Contract,
			Event:       key.Event,
			TxHash:      key.TxHash,
			LogIndex:    key.LogIndex,
			Success:     true,
			Error:       "",
			ProcessedAt: time.Now().UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   eventConflictColumns,
			DoUpdates: clause.AssignmentColumns([]string{"success", "error", "processed_at"}),
		}).Create(&marker).Error; err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		s.RecordFailure(ctx, key, err)
		return false, err
	}
	return applied, nil
}

// RecordFailure notes a failed apply against the event so operators can retry
// or inspect it. The event stays unprocessed.
func (s *Store) RecordFailure(ctx context.Context, key EventKey, applyErr error) {
	marker := ProcessedEvent{
		Contract:    key.Contract,
		Event:       key.Event,
		TxHash:      key.TxHash,
		LogIndex:    key.LogIndex,
		Success:     false,
		Error:       applyErr.Error(),
		ProcessedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   eventConflictColumns,
		DoUpdates: clause.AssignmentColumns([]string{"success", "error", "processed_at"}),
	}).Create(&marker).Error
	if err != nil {
		s.logger.Error("record event failure", "contract", key.Contract, "event", key.Event, "tx", key.TxHash, "err", err)
	}
}

// EventFailures lists the events currently marked failed for a contract.
func (s *Store) EventFailures(ctx context.Context, contract string) ([]ProcessedEvent, error) {
	var rows []ProcessedEvent
	err := s.db.WithContext(ctx).
		Where("contract = ? AND success = ?", contract, false).
		Order("processed_at ASC").
		Find(&rows).Error
	return rows, err
}

// Cursor returns the last scanned ledger block for a contract, zero when the
// contract has never been scanned.
func (s *Store) Cursor(ctx context.Context, contract string) (uint64, error) {
	var row ContractCursor
	err := s.db.WithContext(ctx).First(&row, "contract = ?", contract).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.LastBlock, nil
}

// SetCursor advances the last scanned ledger block for a contract.
func (s *Store) SetCursor(ctx context.Context, contract string, block uint64) error {
	row := ContractCursor{Contract: contract, LastBlock: block, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_block", "updated_at"}),
	}).Create(&row).Error
}
