// Package fsrs implements the FSRS spaced-repetition scheduler consumed by
// the review flow.
//
// The scheduler is pure: given a card's memory state, a rating, and the days
// elapsed since the last review, it deterministically computes the next
// memory state and review interval. It holds no card data and performs no
// I/O; the only failure mode is invalid-input rejection.
package fsrs

import (
	"fmt"
	"math"
)

// Retrievability decay curve constants. The curve is calibrated so that
// retrievability is exactly the desired retention when elapsed days equal
// stability at the default 0.9 target.
const (
	decay  = -0.5
	factor = 19.0 / 81.0
)

// Rating is the user's answer grade for a review.
type Rating int

const (
	Again Rating = 1
	Hard  Rating = 2
	Good  Rating = 3
	Easy  Rating = 4
)

// Valid reports whether r is a known rating.
func (r Rating) Valid() bool {
	return r >= Again && r <= Easy
}

// String returns the rating's display name.
func (r Rating) String() string {
	switch r {
	case Again:
		return "again"
	case Hard:
		return "hard"
	case Good:
		return "good"
	case Easy:
		return "easy"
	}
	return fmt.Sprintf("rating(%d)", int(r))
}

// MemoryState is a card's FSRS memory state.
//
// Stability is the expected time in days for recall probability to fall to
// the retention target. Difficulty is the card's inherent difficulty on a
// 1-10 scale.
type MemoryState struct {
	Stability  float64
	Difficulty float64
}

// SchedulingInfo is the outcome of one rating choice: the updated memory
// state and the interval in whole days until the next review.
type SchedulingInfo struct {
	Memory   MemoryState
	Interval int
}

// NextStates holds the scheduling outcome for every rating option.
type NextStates struct {
	Again SchedulingInfo
	Hard  SchedulingInfo
	Good  SchedulingInfo
	Easy  SchedulingInfo
}

// Scheduler computes next states from a weight vector.
type Scheduler struct {
	params Params
}

// New creates a Scheduler. Invalid params fall back to defaults field by
// field rather than failing: a bad weight file should never make review
// impossible.
func New(p Params) *Scheduler {
	p.applyDefaults()
	return &Scheduler{params: p}
}

// Params returns the effective parameters after defaulting.
func (s *Scheduler) Params() Params {
	return s.params
}

// NextStates computes the scheduling outcome for all four ratings.
//
// memory is nil for a card's first review. desiredRetention must be in
// (0, 1); elapsedDays is the number of days since the last review (0 for a
// new card or a same-day review).
func (s *Scheduler) NextStates(memory *MemoryState, desiredRetention, elapsedDays float64) (NextStates, error) {
	if desiredRetention <= 0 || desiredRetention >= 1 {
		return NextStates{}, fmt.Errorf("desired retention must be in (0, 1), got %v", desiredRetention)
	}
	if elapsedDays < 0 {
		return NextStates{}, fmt.Errorf("elapsed days cannot be negative, got %v", elapsedDays)
	}

	var states NextStates
	states.Again = s.next(memory, Again, desiredRetention, elapsedDays)
	states.Hard = s.next(memory, Hard, desiredRetention, elapsedDays)
	states.Good = s.next(memory, Good, desiredRetention, elapsedDays)
	states.Easy = s.next(memory, Easy, desiredRetention, elapsedDays)
	return states, nil
}

// ComputeNextState computes the outcome of a single rated review. This is
// the entry point the review flow uses.
func (s *Scheduler) ComputeNextState(memory *MemoryState, rating Rating, elapsedDays, desiredRetention float64) (SchedulingInfo, error) {
	if !rating.Valid() {
		return SchedulingInfo{}, fmt.Errorf("invalid rating %d", int(rating))
	}
	states, err := s.NextStates(memory, desiredRetention, elapsedDays)
	if err != nil {
		return SchedulingInfo{}, err
	}
	switch rating {
	case Again:
		return states.Again, nil
	case Hard:
		return states.Hard, nil
	case Easy:
		return states.Easy, nil
	default:
		return states.Good, nil
	}
}

// Retrievability returns the current recall probability for a card with the
// given stability after elapsedDays without review. Returns 0 for
// non-positive stability.
func Retrievability(stability, elapsedDays float64) float64 {
	if stability <= 0 {
		return 0
	}
	return math.Pow(1+factor*elapsedDays/stability, decay)
}

// next computes the post-review state for one rating.
func (s *Scheduler) next(memory *MemoryState, rating Rating, retention, elapsedDays float64) SchedulingInfo {
	var m MemoryState
	switch {
	case memory == nil:
		m = MemoryState{
			Stability:  s.initialStability(rating),
			Difficulty: s.initialDifficulty(rating),
		}
	case elapsedDays == 0:
		// Same-day review: short-term stability update, difficulty unchanged
		// except for the usual rating shift.
		m = MemoryState{
			Stability:  s.shortTermStability(memory.Stability, rating),
			Difficulty: s.nextDifficulty(memory.Difficulty, rating),
		}
	default:
		r := Retrievability(memory.Stability, elapsedDays)
		m = MemoryState{
			Difficulty: s.nextDifficulty(memory.Difficulty, rating),
		}
		if rating == Again {
			m.Stability = s.forgetStability(memory.Difficulty, memory.Stability, r)
		} else {
			m.Stability = s.recallStability(memory.Difficulty, memory.Stability, r, rating)
		}
	}

	return SchedulingInfo{
		Memory:   m,
		Interval: s.interval(m.Stability, retention, rating),
	}
}

// interval converts stability to a whole-day interval for the retention
// target. Again rounds with a floor of 0 (same-day relearn); other ratings
// never schedule below one day. All intervals cap at MaximumInterval.
func (s *Scheduler) interval(stability, retention float64, rating Rating) int {
	raw := stability / factor * (math.Pow(retention, 1/decay) - 1)
	days := int(math.Round(raw))
	if rating == Again {
		if days < 0 {
			days = 0
		}
	} else if days < 1 {
		days = 1
	}
	if days > s.params.MaximumInterval {
		days = s.params.MaximumInterval
	}
	return days
}

func (s *Scheduler) initialStability(rating Rating) float64 {
	w := s.params.W
	st := w[int(rating)-1]
	if st < 0.1 {
		st = 0.1
	}
	return st
}

func (s *Scheduler) initialDifficulty(rating Rating) float64 {
	w := s.params.W
	return clampDifficulty(w[4] - math.Exp(w[5]*float64(int(rating)-1)) + 1)
}

func (s *Scheduler) nextDifficulty(d float64, rating Rating) float64 {
	w := s.params.W
	delta := -w[6] * float64(int(rating)-3)
	damped := d + delta*(10-d)/9
	// Mean reversion toward the initial Easy difficulty keeps repeated
	// ratings from pinning difficulty at the scale edges.
	target := s.initialDifficulty(Easy)
	return clampDifficulty(w[7]*target + (1-w[7])*damped)
}

func (s *Scheduler) recallStability(d, st, r float64, rating Rating) float64 {
	w := s.params.W
	hardPenalty := 1.0
	if rating == Hard {
		hardPenalty = w[15]
	}
	easyBonus := 1.0
	if rating == Easy {
		easyBonus = w[16]
	}
	growth := math.Exp(w[8]) * (11 - d) * math.Pow(st, -w[9]) *
		(math.Exp((1-r)*w[10]) - 1) * hardPenalty * easyBonus
	return st * (1 + growth)
}

func (s *Scheduler) forgetStability(d, st, r float64) float64 {
	w := s.params.W
	next := w[11] * math.Pow(d, -w[12]) *
		(math.Pow(st+1, w[13]) - 1) * math.Exp((1-r)*w[14])
	// A lapse never leaves the card more stable than it was.
	return math.Min(next, st)
}

func (s *Scheduler) shortTermStability(st float64, rating Rating) float64 {
	w := s.params.W
	return st * math.Exp(w[17]*(float64(int(rating)-3)+w[18]))
}

func clampDifficulty(d float64) float64 {
	return math.Min(math.Max(d, 1), 10)
}
