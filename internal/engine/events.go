package engine

// Scheduler events form the single serialization point for all shared-state
// mutation: one goroutine consumes them in strict FIFO order.

type event interface{ isEvent() }

type jobSetSubmitted struct{ set *JobSet }

type jobStarted struct{ job *Job }

type jobCompleted struct{ job *Job }

type errorReported struct {
	msg string
	err error
}

func (jobSetSubmitted) isEvent() {}
func (jobStarted) isEvent()      {}
func (jobCompleted) isEvent()    {}
func (errorReported) isEvent()   {}
