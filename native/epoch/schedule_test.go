package epoch

import (
	"testing"
	"time"
)

func testSchedule() Schedule {
	return Schedule{
		Epoch0Start:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		EpochDuration: 24 * time.Hour,
		GracePeriod:   6 * time.Hour,
	}
}

func TestScheduleValidate(t *testing.T) {
	if err := testSchedule().Validate(); err != nil {
		t.Fatalf("valid schedule: %v", err)
	}
	bad := testSchedule()
	bad.Epoch0Start = time.Time{}
	if err := bad.Validate(); err != ErrZeroEpochStart {
		t.Fatalf("zero start: got %v", err)
	}
	bad = testSchedule()
	bad.EpochDuration = 0
	if err := bad.Validate(); err != ErrZeroDuration {
		t.Fatalf("zero duration: got %v", err)
	}
	bad = testSchedule()
	bad.GracePeriod = -time.Hour
	if err := bad.Validate(); err != ErrNegativeGrace {
		t.Fatalf("negative grace: got %v", err)
	}
}

func TestCurrentEpochID(t *testing.T) {
	s := testSchedule()
	cases := []struct {
		at   time.Time
		want uint64
	}{
		{s.Epoch0Start, 1},
		{s.Epoch0Start.Add(23 * time.Hour), 1},
		{s.Epoch0Start.Add(24 * time.Hour), 2},
		{s.Epoch0Start.Add(10*24*time.Hour + time.Minute), 11},
	}
	for _, tc := range cases {
		got, err := s.CurrentEpochID(tc.at)
		if err != nil {
			t.Fatalf("current epoch at %s: %v", tc.at, err)
		}
		if got != tc.want {
			t.Fatalf("current epoch at %s: got %d, want %d", tc.at, got, tc.want)
		}
	}
	if _, err := s.CurrentEpochID(s.Epoch0Start.Add(-time.Second)); err != ErrBeforeEpochStart {
		t.Fatalf("pre-genesis: got %v", err)
	}
}

func TestGraceDeadline(t *testing.T) {
	s := testSchedule()
	deadline, err := s.GraceDeadline(1)
	if err != nil {
		t.Fatalf("grace deadline: %v", err)
	}
	want := s.Epoch0Start.Add(24*time.Hour + 6*time.Hour)
	if !deadline.Equal(want) {
		t.Fatalf("grace deadline: got %s, want %s", deadline, want)
	}
	if _, err := s.GraceDeadline(0); err != ErrEpochOutOfRange {
		t.Fatalf("epoch zero: got %v", err)
	}
}

func TestEpochWindow(t *testing.T) {
	s := testSchedule()
	start, err := s.StartOf(3)
	if err != nil {
		t.Fatalf("start of: %v", err)
	}
	end, err := s.EndOf(3)
	if err != nil {
		t.Fatalf("end of: %v", err)
	}
	if !start.Equal(s.Epoch0Start.Add(48 * time.Hour)) {
		t.Fatalf("start of 3: got %s", start)
	}
	if !end.Equal(s.Epoch0Start.Add(72 * time.Hour)) {
		t.Fatalf("end of 3: got %s", end)
	}
}
