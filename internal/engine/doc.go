// Package engine implements the micro-batch job scheduler.
//
// Each batch boundary produces a JobSet whose jobs run concurrently on a
// bounded worker pool. All lifecycle transitions (set registration, job
// start, job completion, errors) are serialized through a single event-loop
// goroutine, which is the only writer of per-set state. That single consumer
// is what makes completion detection exact-once without per-set locks.
package engine
