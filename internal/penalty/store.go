// Package penalty tracks per-caller offense scores with exponential
// time decay. Offenses raise the score instantly; time alone lowers it.
// Callers whose decayed score sits above the threshold are "in the
// penalty box" and get maximum compression until the score drains.
package penalty

import (
	"math"
	"sync"
	"time"
)

// Offense weights. These are contractual, not tunable: changing them
// changes what the threshold means.
const (
	WeightSignature    = 3.0 // signature scanner block
	WeightEntropyWeird = 2.0 // WEIRD entropy block
	WeightJudgeInvalid = 1.5 // judge rejected a suspicious prompt
	WeightHighAttack   = 1.0 // HIGH attack probability on an allowed request
)

const (
	// Records whose decayed score falls below evictEpsilon are garbage:
	// they can never cross any sane threshold again.
	evictEpsilon = 0.01

	// A sweep over all records runs every sweepInterval mutations.
	sweepInterval = 1024
)

type record struct {
	score      float64
	lastUpdate time.Time
	tokenCost  int64
}

// Store is the only shared mutable state in the gateway. A single
// RWMutex guards it; no lock is held across any I/O.
type Store struct {
	mu        sync.RWMutex
	records   map[string]*record
	threshold float64
	tau       time.Duration
	ops       int
}

// NewStore creates a store. threshold is the penalty-box boundary; tau
// is the exponential decay constant: a score falls to 1/e of its value
// every tau. A non-positive tau falls back to 10 minutes.
func NewStore(threshold float64, tau time.Duration) *Store {
	if tau <= 0 {
		tau = 10 * time.Minute
	}
	return &Store{
		records:   make(map[string]*record),
		threshold: threshold,
		tau:       tau,
	}
}

// Penalty returns the decayed score for fp at the given instant, or 0
// if the caller has no record.
func (s *Store) Penalty(fp string, now time.Time) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fp]
	if !ok {
		return 0
	}
	return s.decayed(rec, now)
}

// IsPenalised reports whether fp is in the penalty box.
func (s *Store) IsPenalised(fp string, now time.Time) bool {
	return s.Penalty(fp, now) >= s.threshold
}

// RecordOffense folds the decay accrued so far into the score, adds
// weight, and restarts the decay clock. Creates the record if absent.
func (s *Store) RecordOffense(fp string, weight float64, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fp]
	if !ok {
		rec = &record{}
		s.records[fp] = rec
	}
	rec.score = s.decayed(rec, now) + weight
	rec.lastUpdate = now
	s.maybeSweep(now)
}

// RecordTokenCost accumulates upstream token usage for fp. It never
// touches the score or the decay clock; the figure exists for
// observability and audit only.
func (s *Store) RecordTokenCost(fp string, tokens int, now time.Time) {
	if tokens <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[fp]
	if !ok {
		rec = &record{lastUpdate: now}
		s.records[fp] = rec
	}
	rec.tokenCost += int64(tokens)
	s.maybeSweep(now)
}

// TokenCost returns the accumulated upstream token usage for fp.
func (s *Store) TokenCost(fp string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[fp]; ok {
		return rec.tokenCost
	}
	return 0
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) decayed(rec *record, now time.Time) float64 {
	dt := now.Sub(rec.lastUpdate)
	if dt <= 0 {
		return rec.score
	}
	return rec.score * math.Exp(-dt.Seconds()/s.tau.Seconds())
}

// maybeSweep drops dead records every sweepInterval mutations so the
// map stays bounded by recent traffic rather than process lifetime.
// Callers hold the write lock.
func (s *Store) maybeSweep(now time.Time) {
	s.ops++
	if s.ops%sweepInterval != 0 {
		return
	}
	for fp, rec := range s.records {
		if s.decayed(rec, now) < evictEpsilon {
			delete(s.records, fp)
		}
	}
}
