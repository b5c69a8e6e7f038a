package epoch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"chgnet/native/oracle"
	"chgnet/native/split"
)

var (
	ErrNotAllowlisted   = errors.New("epoch: submitter not in oracle allowlist")
	ErrNotOwner         = errors.New("epoch: caller is not the owner")
	ErrAlreadyPosted    = errors.New("epoch: revenue already posted")
	ErrAlreadyFinalized = errors.New("epoch: epoch already finalized")
	ErrGraceActive      = errors.New("epoch: grace period not expired")
	ErrRevenueMismatch  = errors.New("epoch: machine revenues do not sum to total")
)

// MachineRevenue is the per-machine component of a revenue posting.
type MachineRevenue struct {
	MachineID uint64
	Amount    *big.Int
}

// Posting carries an oracle revenue submission into the state machine.
type Posting struct {
	EpochID         uint64
	Submitter       [20]byte
	TotalRevenue    *big.Int
	MachineRevenues []MachineRevenue
	MerkleRoot      [32]byte
	Signature       []byte
}

// Record is the persisted lifecycle state of one epoch. Once Finalized is set
// the record is immutable.
type Record struct {
	EpochID      uint64
	TotalRevenue *big.Int
	OraclePosted bool
	Finalized    bool
	Pools        split.Allocation
}

// PostingRecord bundles everything the store persists for a successful post.
type PostingRecord struct {
	PostingID       uuid.UUID
	Record          Record
	MachineRevenues []MachineRevenue
	MerkleRoot      [32]byte
	Signer          [20]byte
	Signature       []byte
	PostedAt        time.Time
}

// Store is the persistence surface the engine drives. Implementations must
// make each call atomic; the engine already serialises calls per epoch.
type Store interface {
	GetEpoch(ctx context.Context, epochID uint64) (*Record, error)
	SavePosting(ctx context.Context, posting PostingRecord) error
	SaveFinalization(ctx context.Context, record Record, finalizedAt time.Time) error
}

// Engine owns the epoch lifecycle: oracle posting inside the grace window,
// deterministic zero-revenue fallback after it, and one-way finalization.
type Engine struct {
	schedule  Schedule
	store     Store
	allowlist *oracle.Allowlist
	isOwner   func([20]byte) bool
	now       func() time.Time
	logger    *slog.Logger
	locks     *keyedMutex
}

// Option customises the engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithOwnerCheck installs the predicate gating allowlist mutation.
func WithOwnerCheck(isOwner func([20]byte) bool) Option {
	return func(e *Engine) { e.isOwner = isOwner }
}

// WithLogger installs a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine constructs the epoch state machine.
func NewEngine(schedule Schedule, store Store, allowlist *oracle.Allowlist, opts ...Option) (*Engine, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("epoch: store required")
	}
	if allowlist == nil {
		allowlist = oracle.NewAllowlist()
	}
	engine := &Engine{
		schedule:  schedule,
		store:     store,
		allowlist: allowlist,
		isOwner:   func([20]byte) bool { return false },
		now:       time.Now,
		logger:    slog.Default(),
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

// Schedule exposes the engine's epoch schedule.
func (e *Engine) Schedule() Schedule { return e.schedule }

// Allowlist exposes the oracle allowlist consulted on postings.
func (e *Engine) Allowlist() *oracle.Allowlist { return e.allowlist }

// PostRevenue validates and persists an oracle revenue submission for an
// epoch. It fails without state change when the submitter is not allowlisted,
// the attestation signature does not verify, revenue was already posted, or
// the epoch is already finalized.
func (e *Engine) PostRevenue(ctx context.Context, posting Posting) (*Record, error) {
	if posting.EpochID == 0 {
		return nil, ErrEpochOutOfRange
	}
	if posting.TotalRevenue == nil || posting.TotalRevenue.Sign() < 0 {
		return nil, split.ErrNegativeRevenue
	}
	if err := validateMachineSum(posting); err != nil {
		return nil, err
	}
	if !e.allowlist.Contains(posting.Submitter) {
		return nil, ErrNotAllowlisted
	}
	attestation := oracle.Attestation{
		EpochID:      posting.EpochID,
		TotalRevenue: posting.TotalRevenue,
		MerkleRoot:   posting.MerkleRoot,
	}
	if err := oracle.Verify(attestation, posting.Signature, e.allowlist.Contains); err != nil {
		return nil, err
	}

	unlock := e.locks.lock(posting.EpochID)
	defer unlock()

	existing, err := e.store.GetEpoch(ctx, posting.EpochID)
	if err != nil {
		return nil, fmt.Errorf("epoch: load epoch %d: %w", posting.EpochID, err)
	}
	if existing != nil {
		if existing.Finalized {
			return nil, ErrAlreadyFinalized
		}
		if existing.OraclePosted {
			return nil, ErrAlreadyPosted
		}
	}

	pools, err := split.Split(posting.TotalRevenue)
	if err != nil {
		return nil, err
	}
	record := Record{
		EpochID:      posting.EpochID,
		TotalRevenue: new(big.Int).Set(posting.TotalRevenue),
		OraclePosted: true,
		Pools:        pools,
	}
	saved := PostingRecord{
		PostingID:       uuid.New(),
		Record:          record,
		MachineRevenues: posting.MachineRevenues,
		MerkleRoot:      posting.MerkleRoot,
		Signer:          posting.Submitter,
		Signature:       posting.Signature,
		PostedAt:        e.now().UTC(),
	}
	if err := e.store.SavePosting(ctx, saved); err != nil {
		return nil, fmt.Errorf("epoch: save posting for epoch %d: %w", posting.EpochID, err)
	}
	e.logger.Info("revenue posted",
		"epoch", posting.EpochID,
		"total", posting.TotalRevenue.String(),
		"machines", len(posting.MachineRevenues),
		"posting", saved.PostingID.String(),
	)
	out := record
	return &out, nil
}

// Finalize closes an epoch. If revenue was posted the posted figures become
// final; if the grace deadline passed with no posting the epoch finalizes
// with zero revenue; before the deadline with no posting it fails.
// Finalization is idempotent-guarded.
func (e *Engine) Finalize(ctx context.Context, epochID uint64) (*Record, error) {
	if epochID == 0 {
		return nil, ErrEpochOutOfRange
	}
	unlock := e.locks.lock(epochID)
	defer unlock()

	existing, err := e.store.GetEpoch(ctx, epochID)
	if err != nil {
		return nil, fmt.Errorf("epoch: load epoch %d: %w", epochID, err)
	}
	if existing != nil && existing.Finalized {
		return nil, ErrAlreadyFinalized
	}

	now := e.now()
	var record Record
	switch {
	case existing != nil && existing.OraclePosted:
		record = *existing
		record.Finalized = true
	default:
		deadline, err := e.schedule.GraceDeadline(epochID)
		if err != nil {
			return nil, err
		}
		if now.Before(deadline) {
			return nil, ErrGraceActive
		}
		zero, err := split.Split(big.NewInt(0))
		if err != nil {
			return nil, err
		}
		record = Record{
			EpochID:      epochID,
			TotalRevenue: big.NewInt(0),
			OraclePosted: false,
			Finalized:    true,
			Pools:        zero,
		}
	}
	if err := e.store.SaveFinalization(ctx, record, now.UTC()); err != nil {
		return nil, fmt.Errorf("epoch: finalize epoch %d: %w", epochID, err)
	}
	e.logger.Info("epoch finalized",
		"epoch", epochID,
		"total", record.TotalRevenue.String(),
		"oraclePosted", record.OraclePosted,
	)
	out := record
	return &out, nil
}

// AddOracle registers a signer in the allowlist. Only the owner may mutate
// the allowlist; ownership itself is resolved by the injected predicate.
func (e *Engine) AddOracle(caller, signer [20]byte) error {
	if !e.isOwner(caller) {
		return ErrNotOwner
	}
	e.allowlist.Add(signer)
	return nil
}

// RemoveOracle deregisters a signer from the allowlist.
func (e *Engine) RemoveOracle(caller, signer [20]byte) error {
	if !e.isOwner(caller) {
		return ErrNotOwner
	}
	e.allowlist.Remove(signer)
	return nil
}

func validateMachineSum(posting Posting) error {
	if len(posting.MachineRevenues) == 0 {
		return nil
	}
	sum := big.NewInt(0)
	for _, machine := range posting.MachineRevenues {
		if machine.Amount == nil || machine.Amount.Sign() < 0 {
			return split.ErrNegativeRevenue
		}
		sum.Add(sum, machine.Amount)
	}
	if sum.Cmp(posting.TotalRevenue) != 0 {
		return ErrRevenueMismatch
	}
	return nil
}
