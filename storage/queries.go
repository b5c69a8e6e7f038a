package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"chgnet/native/staking"
)

// MachineRevenues returns the per-machine breakdown recorded for an epoch.
func (s *Store) MachineRevenues(ctx context.Context, epochID uint64) ([]MachineRevenue, error) {
	var rows []MachineRevenue
	err := s.db.WithContext(ctx).
		Where("epoch_id = ?", epochID).
		Order("machine_id ASC").
		Find(&rows).Error
	return rows, err
}

// MerkleRootFor returns the root record for one reward group of an epoch, or
// nil when none has been published.
func (s *Store) MerkleRootFor(ctx context.Context, epochID uint64, group MerkleGroup) (*MerkleRoot, error) {
	var row MerkleRoot
	err := s.db.WithContext(ctx).
		Where(map[string]any{"epoch_id": epochID, "group": group}).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ActivePositions loads the live staking positions, oldest first, in the
// shape the reward model consumes.
func (s *Store) ActivePositions(ctx context.Context) ([]staking.Position, error) {
	var rows []StakingPosition
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("start_timestamp ASC, position_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]staking.Position, 0, len(rows))
	for _, row := range rows {
		position, err := positionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, position)
	}
	return out, nil
}

// Reward returns the accrual/claim record for (epoch, staker), or nil.
func (s *Store) Reward(ctx context.Context, epochID uint64, staker [20]byte) (*StakingReward, error) {
	var row StakingReward
	err := s.db.WithContext(ctx).
		First(&row, "epoch_id = ? AND staker = ?", epochID, hexAddress(staker)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Token returns an ownership token row, or nil when unknown.
func (s *Store) Token(ctx context.Context, tokenID uint64) (*NFTOwnerToken, error) {
	var row NFTOwnerToken
	err := s.db.WithContext(ctx).First(&row, "token_id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Holding returns the current holder record for a token, or nil.
func (s *Store) Holding(ctx context.Context, tokenID uint64) (*NFTHolding, error) {
	var row NFTHolding
	err := s.db.WithContext(ctx).First(&row, "token_id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// OwnerSnapshots lists the immutable ownership snapshots for an epoch.
func (s *Store) OwnerSnapshots(ctx context.Context, epochID uint64) ([]OwnerShareSnapshot, error) {
	var rows []OwnerShareSnapshot
	err := s.db.WithContext(ctx).
		Where("epoch_id = ?", epochID).
		Order("machine_id ASC, account ASC").
		Find(&rows).Error
	return rows, err
}

// AllowedOracles returns the persisted allowlist of oracle signers.
func (s *Store) AllowedOracles(ctx context.Context) ([][20]byte, error) {
	var rows []OracleSigner
	err := s.db.WithContext(ctx).Where("allowed = ?", true).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([][20]byte, 0, len(rows))
	for _, row := range rows {
		addr, err := parseHexAddress(row.Address)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func positionFromRow(row StakingPosition) (staking.Position, error) {
	amount, err := parseAmount(row.Amount)
	if err != nil {
		return staking.Position{}, err
	}
	staker, err := parseHexAddress(row.Staker)
	if err != nil {
		return staking.Position{}, err
	}
	return staking.Position{
		PositionID:       row.PositionID,
		Staker:           staker,
		Amount:           amount,
		LockDurationDays: row.LockDurationDays,
		LockWeightBps:    row.LockWeightBps,
		StartTimestamp:   row.StartTimestamp,
		Active:           row.Active,
		InvestorProgram:  row.InvestorProgram,
	}, nil
}

func parseHexAddress(raw string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != 20 {
		return out, fmt.Errorf("storage: malformed address %q", raw)
	}
	copy(out[:], decoded)
	return out, nil
}
