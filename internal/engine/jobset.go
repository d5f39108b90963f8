package engine

import (
	"sort"
	"time"

	"microbeat/internal/clock"
	"microbeat/internal/monitor"
)

// JobSet is the collection of jobs sharing one batch boundary.
//
// Counters and timestamps are mutated only on the event-loop goroutine.
// Concurrent readers go through the scheduler's snapshot accessors.
type JobSet struct {
	time clock.Time
	jobs []*Job

	dist *monitor.Table // distribution snapshot captured at submission

	submittedAt clock.Time

	numStarted   int
	numCompleted int

	firstStartedAt  clock.Time
	lastCompletedAt clock.Time
}

// NewJobSet builds a set for the given boundary. Jobs are ordered by
// OutputOpID so a concurrency-1 pool executes them deterministically.
func NewJobSet(t clock.Time, jobs []*Job) *JobSet {
	ordered := append([]*Job(nil), jobs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].outputOpID < ordered[j].outputOpID
	})
	return &JobSet{time: t, jobs: ordered}
}

func (s *JobSet) Time() clock.Time { return s.time }

// Jobs returns the set's jobs in submission order.
func (s *JobSet) Jobs() []*Job { return s.jobs }

func (s *JobSet) Len() int { return len(s.jobs) }

func (s *JobSet) SubmittedAt() clock.Time { return s.submittedAt }

// Distribution returns the load-distribution snapshot captured when the set
// was submitted. May be nil when no monitor is wired.
func (s *JobSet) Distribution() *monitor.Table { return s.dist }

// HasStarted reports whether any job in the set has started.
func (s *JobSet) HasStarted() bool { return s.numStarted > 0 }

// HasCompleted reports whether every job in the set finished successfully.
// Failed jobs never count, so a set with a failed job stays incomplete.
func (s *JobSet) HasCompleted() bool { return s.numCompleted == len(s.jobs) }

// ProcessingDelay is the span from first job start to last job completion.
func (s *JobSet) ProcessingDelay() time.Duration {
	return s.lastCompletedAt.Since(s.firstStartedAt)
}

// TotalDelay is the span from the nominal batch boundary (not submission)
// to last job completion.
func (s *JobSet) TotalDelay() time.Duration {
	return s.lastCompletedAt.Since(s.time)
}

// handleStart marks a job started. Event-loop only.
func (s *JobSet) handleStart(at clock.Time) {
	if s.numStarted == 0 {
		s.firstStartedAt = at
	}
	s.numStarted++
}

// handleCompletion marks a successful job completed. Event-loop only.
func (s *JobSet) handleCompletion(at clock.Time) {
	s.numCompleted++
	s.lastCompletedAt = at
}
