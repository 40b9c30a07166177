// Package aggregate keeps the running counters of one batch submission.
package aggregate

import (
	"sync"

	"github.com/JakeFAU/urlhealth/internal/probe"
)

// State is the request-scoped tally shared by every probe of one batch. A
// single mutex guards all fields so counters and histogram are never observed
// in a torn combination.
type State struct {
	mu        sync.Mutex
	total     int
	processed int
	success   int
	failure   int
	histogram map[int]int
}

// New returns an empty State.
func New() *State {
	return &State{histogram: make(map[int]int)}
}

// SetTotal fixes the number of records in the batch. Call it once, before any
// outcome is recorded.
func (s *State) SetTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = n
}

// RecordOutcome folds one completed probe into the tally and returns the
// snapshot taken inside the same critical section, so the caller always sees
// its own update.
func (s *State) RecordOutcome(o probe.Outcome) probe.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	if o.Success() {
		s.success++
	} else {
		s.failure++
	}
	s.histogram[o.StatusCode]++
	return s.snapshotLocked()
}

// Snapshot returns a consistent copy of every counter.
func (s *State) Snapshot() probe.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() probe.Snapshot {
	codes := make(map[int]int, len(s.histogram))
	for code, n := range s.histogram {
		codes[code] = n
	}
	return probe.Snapshot{
		SuccessCount:     s.success,
		FailureCount:     s.failure,
		TotalRecords:     s.total,
		RecordsProcessed: s.processed,
		StatusCodes:      codes,
	}
}
