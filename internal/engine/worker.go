package engine

import "microbeat/pkg/logx"

// worker pulls jobs off the intake queue and runs them. The wrapper always
// emits a started event before the action and a completed event after it,
// whether the action succeeded, failed or panicked; the outcome travels in
// the job's result, never as a panic out of the worker.
func (s *Scheduler) worker(idx int) {
	defer s.workersWG.Done()
	log := s.log.With(logx.Int("worker", idx))

	for {
		job, ok := s.jobs.pop()
		if !ok {
			log.Debug("worker exiting")
			return
		}
		s.events.push(jobStarted{job: job})
		job.run(s.workCtx)
		s.events.push(jobCompleted{job: job})
	}
}
