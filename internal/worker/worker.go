package worker

// JobType selects what a worker does with a job.
type JobType int

const (
	Init JobType = iota
	Stream
	Stop
)

func (t JobType) String() string {
	switch t {
	case Init:
		return "init"
	case Stream:
		return "stream"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is one unit of work handed from the dispatcher to a pooled worker.
type Job struct {
	Type        JobType
	SessionTask *sessionTask
	StreamTask  *streamTask
}

// Worker runs jobs from its own channel and returns itself to the pool after each one.
type Worker struct {
	pool       *jobChannelPool
	handle     func(Job)
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, handle func(Job)) *Worker {
	return &Worker{
		pool:       pool,
		handle:     handle,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == Stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.handle(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}
