package engine

import (
	"context"
	"fmt"

	"microbeat/internal/clock"
)

// Action is the executable body of a Job. The scheduler treats it as opaque;
// it is built by the generator's planner.
type Action func(ctx context.Context) error

// Job is one schedulable unit of work belonging to a batch boundary.
//
// The result is written exactly once by the worker that ran the job and read
// afterwards only by the event loop; the completion event provides the
// happens-before edge, so no lock is needed.
type Job struct {
	time       clock.Time
	outputOpID int
	action     Action

	// Result, set once after the action returns or panics.
	done bool
	err  error

	// Timestamps stamped by the scheduler, not by the job itself.
	submittedAt clock.Time
	startedAt   clock.Time
	endedAt     clock.Time
}

// NewJob creates a job for the given batch boundary. outputOpID orders jobs
// within their set when the pool runs with concurrency 1.
func NewJob(t clock.Time, outputOpID int, action Action) *Job {
	return &Job{time: t, outputOpID: outputOpID, action: action}
}

func (j *Job) Time() clock.Time { return j.time }
func (j *Job) OutputOpID() int  { return j.outputOpID }

// ID is a human-readable identifier, unique within the live registry.
func (j *Job) ID() string {
	return fmt.Sprintf("job %d.%d", j.time.Milliseconds(), j.outputOpID)
}

// Result returns the job's outcome. ok is false until the job has run.
func (j *Job) Result() (err error, ok bool) { return j.err, j.done }

func (j *Job) SubmittedAt() clock.Time { return j.submittedAt }
func (j *Job) StartedAt() clock.Time   { return j.startedAt }
func (j *Job) EndedAt() clock.Time     { return j.endedAt }

// run executes the action and records the outcome. A job is never re-run;
// calling run on a finished job is a programming error.
func (j *Job) run(ctx context.Context) {
	if j.done {
		panic("engine: " + j.ID() + " run twice")
	}
	defer func() {
		if r := recover(); r != nil {
			j.err = fmt.Errorf("panic: %v", r)
		}
		j.done = true
	}()
	j.err = j.action(ctx)
}
