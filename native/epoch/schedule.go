package epoch

import (
	"errors"
	"time"
)

var (
	ErrZeroEpochStart   = errors.New("epoch: epoch zero start must be set")
	ErrZeroDuration     = errors.New("epoch: epoch duration must be positive")
	ErrNegativeGrace    = errors.New("epoch: grace period cannot be negative")
	ErrEpochOutOfRange  = errors.New("epoch: epoch id must be at least one")
	ErrBeforeEpochStart = errors.New("epoch: timestamp precedes epoch zero start")
)

// Schedule derives epoch boundaries from the configured genesis instant,
// epoch duration, and oracle grace period.
type Schedule struct {
	Epoch0Start   time.Time
	EpochDuration time.Duration
	GracePeriod   time.Duration
}

// Validate ensures the schedule is usable.
func (s Schedule) Validate() error {
	if s.Epoch0Start.IsZero() {
		return ErrZeroEpochStart
	}
	if s.EpochDuration <= 0 {
		return ErrZeroDuration
	}
	if s.GracePeriod < 0 {
		return ErrNegativeGrace
	}
	return nil
}

// CurrentEpochID returns the epoch covering the given instant. Epoch ids are
// monotonic and start at one.
func (s Schedule) CurrentEpochID(now time.Time) (uint64, error) {
	if now.Before(s.Epoch0Start) {
		return 0, ErrBeforeEpochStart
	}
	elapsed := now.Sub(s.Epoch0Start)
	return uint64(elapsed/s.EpochDuration) + 1, nil
}

// StartOf returns the instant at which the epoch opens.
func (s Schedule) StartOf(epochID uint64) (time.Time, error) {
	if epochID == 0 {
		return time.Time{}, ErrEpochOutOfRange
	}
	return s.Epoch0Start.Add(time.Duration(epochID-1) * s.EpochDuration), nil
}

// EndOf returns the instant at which the epoch's accounting window closes.
func (s Schedule) EndOf(epochID uint64) (time.Time, error) {
	if epochID == 0 {
		return time.Time{}, ErrEpochOutOfRange
	}
	return s.Epoch0Start.Add(time.Duration(epochID) * s.EpochDuration), nil
}

// GraceDeadline returns the instant after which an unposted epoch may be
// force-finalized with zero revenue.
func (s Schedule) GraceDeadline(epochID uint64) (time.Time, error) {
	end, err := s.EndOf(epochID)
	if err != nil {
		return time.Time{}, err
	}
	return end.Add(s.GracePeriod), nil
}
