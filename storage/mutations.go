package storage

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"gorm.io/gorm"

	"chgnet/native/ownership"
	"chgnet/native/staking"
)

var (
	// ErrStakeUnderflow is returned when an unstake amount exceeds the
	// staker's active positions.
	ErrStakeUnderflow = errors.New("storage: unstake amount exceeds active positions")

	// ErrRewardNotFound is returned when a claim arrives for an epoch with no
	// accrued reward record.
	ErrRewardNotFound = errors.New("storage: reward record not found")

	// ErrRewardAlreadyClaimed guards the one-way claim transition.
	ErrRewardAlreadyClaimed = errors.New("storage: reward already claimed")

	// ErrTokenNotFound is returned when a token mutation references an
	// unknown token id.
	ErrTokenNotFound = errors.New("storage: owner token not found")

	// ErrSplitMismatch is returned when realized pool amounts do not sum to
	// the revenue already recorded for the epoch.
	ErrSplitMismatch = errors.New("storage: realized split does not sum to epoch revenue")
)

// ApplyRealizedSplit records the pool amounts the ledger confirmed for an
// epoch. The epoch row is created if the split realization arrives before the
// off-chain posting has materialised it.
func ApplyRealizedSplit(tx *gorm.DB, epochID uint64, opc, alpha, beta, gamma, delta *big.Int) error {
	total := big.NewInt(0)
	for _, pool := range []*big.Int{opc, alpha, beta, gamma, delta} {
		if pool == nil || pool.Sign() < 0 {
			return fmt.Errorf("%w: realized pool amount", ErrMalformedAmount)
		}
		total.Add(total, pool)
	}
	var row Epoch
	err := tx.First(&row, "epoch_id = ?", epochID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = Epoch{EpochID: epochID, TotalRevenue: total.String()}
	case err != nil:
		return err
	case row.Finalized:
		return ErrEpochImmutable
	default:
		recorded, err := parseAmount(row.TotalRevenue)
		if err != nil {
			return err
		}
		if recorded.Cmp(total) != 0 {
			return fmt.Errorf("%w: realized %s, recorded %s for epoch %d",
				ErrSplitMismatch, total.String(), recorded.String(), epochID)
		}
	}
	row.OpcPool = opc.String()
	row.AlphaPool = alpha.String()
	row.BetaPool = beta.String()
	row.GammaPool = gamma.String()
	row.DeltaPool = delta.String()
	return tx.Save(&row).Error
}

// UpsertMachineRevenue records one machine's contribution to an epoch,
// replacing any earlier figure for the same (epoch, machine) key.
func UpsertMachineRevenue(tx *gorm.DB, epochID, machineID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: machine revenue", ErrMalformedAmount)
	}
	var epochRow Epoch
	err := tx.First(&epochRow, "epoch_id = ?", epochID).Error
	if err == nil && epochRow.Finalized {
		return ErrEpochImmutable
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	var row MachineRevenue
	err = tx.First(&row, "epoch_id = ? AND machine_id = ?", epochID, machineID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = MachineRevenue{EpochID: epochID, MachineID: machineID}
	case err != nil:
		return err
	}
	row.Amount = amount.String()
	return tx.Save(&row).Error
}

// SetOracleSigner mirrors an OracleUpdated event into the persisted allowlist.
func SetOracleSigner(tx *gorm.DB, signer [20]byte, allowed bool) error {
	row := OracleSigner{Address: hexAddress(signer), Allowed: allowed, UpdatedAt: time.Now().UTC()}
	return tx.Save(&row).Error
}

// PublishMerkleRoot stores the claim commitment for one reward group of an
// epoch and marks it published.
func PublishMerkleRoot(tx *gorm.DB, epochID uint64, group MerkleGroup, root string) error {
	var row MerkleRoot
	err := tx.Where(map[string]any{"epoch_id": epochID, "group": group}).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = MerkleRoot{EpochID: epochID, Group: group}
	case err != nil:
		return err
	}
	row.Root = root
	row.Published = true
	return tx.Save(&row).Error
}

// CreateStakingPosition inserts a new active lock derived from a Staked event.
func CreateStakingPosition(tx *gorm.DB, position staking.Position) error {
	row := StakingPosition{
		Staker:           hexAddress(position.Staker),
		Amount:           position.Amount.String(),
		LockDurationDays: position.LockDurationDays,
		LockWeightBps:    position.LockWeightBps,
		StartTimestamp:   position.StartTimestamp,
		UnlockTimestamp:  position.UnlockTimestamp(),
		Active:           position.Active,
		InvestorProgram:  position.InvestorProgram,
	}
	return tx.Create(&row).Error
}

// DeactivateStake flips positions inactive for an Unstaked event, consuming
// the staker's active positions oldest-first until the unstaked amount is
// covered.
func DeactivateStake(tx *gorm.DB, staker [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return staking.ErrNonPositiveAmount
	}
	var rows []StakingPosition
	err := tx.Where("staker = ? AND active = ?", hexAddress(staker), true).
		Order("start_timestamp ASC, position_id ASC").
		Find(&rows).Error
	if err != nil {
		return err
	}
	remaining := new(big.Int).Set(amount)
	for i := range rows {
		if remaining.Sign() <= 0 {
			break
		}
		posAmount, err := parseAmount(rows[i].Amount)
		if err != nil {
			return err
		}
		rows[i].Active = false
		if err := tx.Model(&StakingPosition{}).
			Where("position_id = ?", rows[i].PositionID).
			Update("active", false).Error; err != nil {
			return err
		}
		remaining.Sub(remaining, posAmount)
	}
	if remaining.Sign() > 0 {
		return ErrStakeUnderflow
	}
	return nil
}

// AccrueReward records reward units accrued to a staker for an epoch,
// accumulating across multiple accrual events.
func AccrueReward(tx *gorm.DB, epochID uint64, staker [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: reward amount", ErrMalformedAmount)
	}
	var row StakingReward
	err := tx.First(&row, "epoch_id = ? AND staker = ?", epochID, hexAddress(staker)).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row = StakingReward{
			EpochID: epochID,
			Staker:  hexAddress(staker),
			Amount:  amount.String(),
		}
		return tx.Create(&row).Error
	case err != nil:
		return err
	case row.Claimed:
		return ErrRewardAlreadyClaimed
	}
	current, err := parseAmount(row.Amount)
	if err != nil {
		return err
	}
	row.Amount = current.Add(current, amount).String()
	return tx.Save(&row).Error
}

// MarkRewardClaimed flips the claim record for (epoch, staker) to claimed.
func MarkRewardClaimed(tx *gorm.DB, epochID uint64, staker [20]byte, claimedAt time.Time) error {
	var row StakingReward
	err := tx.First(&row, "epoch_id = ? AND staker = ?", epochID, hexAddress(staker)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRewardNotFound
	}
	if err != nil {
		return err
	}
	if row.Claimed {
		return ErrRewardAlreadyClaimed
	}
	row.Claimed = true
	row.ClaimedAt = &claimedAt
	return tx.Save(&row).Error
}

// UpsertOwnerToken creates or updates a fractional ownership token, enforcing
// the per-machine basis-point cap across non-burned tokens.
func UpsertOwnerToken(tx *gorm.DB, token ownership.Token) error {
	var machineRows []NFTOwnerToken
	if err := tx.Where("machine_id = ?", token.MachineID).Find(&machineRows).Error; err != nil {
		return err
	}
	peers := make([]ownership.Token, 0, len(machineRows))
	exists := false
	for _, row := range machineRows {
		if row.TokenID == token.TokenID {
			exists = true
			continue
		}
		peers = append(peers, tokenFromRow(row))
	}
	if err := ownership.ValidateAddition(token.MachineID, token.ShareBps, peers); err != nil {
		return err
	}
	row := NFTOwnerToken{
		TokenID:     token.TokenID,
		MachineID:   token.MachineID,
		ShareBps:    token.ShareBps,
		TotalSupply: token.TotalSupply,
		ExpiresAt:   token.ExpiresAt,
		Burned:      token.Burned,
	}
	if exists {
		return tx.Save(&row).Error
	}
	return tx.Create(&row).Error
}

// BurnOwnerToken marks a token burned and clears its holding. Burning twice
// is rejected.
func BurnOwnerToken(tx *gorm.DB, tokenID uint64) error {
	var row NFTOwnerToken
	err := tx.First(&row, "token_id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrTokenNotFound
	}
	if err != nil {
		return err
	}
	if row.Burned {
		return ownership.ErrAlreadyBurned
	}
	row.Burned = true
	if err := tx.Save(&row).Error; err != nil {
		return err
	}
	return tx.Delete(&NFTHolding{}, "token_id = ?", tokenID).Error
}

// SetHolding records the current holder of a token after a mint or transfer.
func SetHolding(tx *gorm.DB, tokenID uint64, account [20]byte) error {
	machineID := uint64(0)
	var token NFTOwnerToken
	if err := tx.First(&token, "token_id = ?", tokenID).Error; err == nil {
		machineID = token.MachineID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	row := NFTHolding{
		TokenID:   tokenID,
		Account:   hexAddress(account),
		MachineID: machineID,
		UpdatedAt: time.Now().UTC(),
	}
	var existing NFTHolding
	err := tx.First(&existing, "token_id = ?", tokenID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return tx.Create(&row).Error
	case err != nil:
		return err
	}
	row.StakedL1 = existing.StakedL1
	return tx.Save(&row).Error
}

// SetL1Staked toggles the L1-staking flag for a token's holding.
func SetL1Staked(tx *gorm.DB, tokenID uint64, account [20]byte, machineID uint64, staked bool) error {
	var existing NFTHolding
	err := tx.First(&existing, "token_id = ?", tokenID).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		existing = NFTHolding{TokenID: tokenID}
	case err != nil:
		return err
	}
	existing.Account = hexAddress(account)
	existing.MachineID = machineID
	existing.StakedL1 = staked
	existing.UpdatedAt = time.Now().UTC()
	return tx.Save(&existing).Error
}

// WriteOwnerSnapshot persists an immutable per-epoch ownership snapshot.
// A second write for the same (epoch, account, machine) key is rejected.
func WriteOwnerSnapshot(tx *gorm.DB, snapshot ownership.Snapshot) error {
	var existing OwnerShareSnapshot
	err := tx.First(&existing,
		"epoch_id = ? AND account = ? AND machine_id = ?",
		snapshot.EpochID, hexAddress(snapshot.Account), snapshot.MachineID).Error
	switch {
	case err == nil:
		return ErrSnapshotExists
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	row := OwnerShareSnapshot{
		EpochID:        snapshot.EpochID,
		Account:        hexAddress(snapshot.Account),
		MachineID:      snapshot.MachineID,
		ShareBps:       snapshot.ShareBps,
		EffectiveShare: snapshot.EffectiveShare.String(),
	}
	return tx.Create(&row).Error
}

func tokenFromRow(row NFTOwnerToken) ownership.Token {
	return ownership.Token{
		TokenID:     row.TokenID,
		MachineID:   row.MachineID,
		ShareBps:    row.ShareBps,
		TotalSupply: row.TotalSupply,
		ExpiresAt:   row.ExpiresAt,
		Burned:      row.Burned,
	}
}
