package deadman

import (
	"math"
	"time"
)

const (
	// HoursPerStage is the width of one escalation bucket (30 days).
	HoursPerStage = 720
	// MaxStage is the final disclosure stage.
	MaxStage = 6
)

// Status is the derived view of the switch at a point in time.
type Status struct {
	State          State
	ElapsedHours   float64
	RemainingHours float64
}

// ElapsedHours returns the hours between lastCheckIn and now. A check-in in
// the future (clock skew, clock reset) counts as zero elapsed time.
func ElapsedHours(now, lastCheckIn time.Time) float64 {
	elapsed := now.Sub(lastCheckIn).Hours()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Evaluate derives the switch state from the check-in time and thresholds.
func Evaluate(now, lastCheckIn time.Time, checkInHours, warningHours int) Status {
	elapsed := ElapsedHours(now, lastCheckIn)
	remaining := math.Max(0, float64(checkInHours)-elapsed)

	state := StateArmed
	switch {
	case remaining <= 0:
		state = StateTriggered
	case remaining <= float64(warningHours):
		state = StateWarning
	}

	return Status{State: state, ElapsedHours: elapsed, RemainingHours: remaining}
}

// StageFor returns the escalation stage for the inactivity since lastCheckIn:
// the number of whole 720-hour buckets elapsed, bounded to [0, MaxStage].
func StageFor(now, lastCheckIn time.Time) int {
	months := math.Floor(ElapsedHours(now, lastCheckIn) / HoursPerStage)
	if months < 0 {
		return 0
	}
	if months > MaxStage {
		return MaxStage
	}
	return int(months)
}
