package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type jobResult struct {
	task   metadata.JobTask
	result interface{}
	err    error
}

// JobSystem runs OnStart on a pool of workers. OnComplete and OnFailure run
// later on whichever goroutine calls Update, normally the render thread.
type JobSystem struct {
	numWorkers int
	jobQueue   chan metadata.JobTask
	wg         sync.WaitGroup

	mu       sync.Mutex
	results  []jobResult
	inFlight int
	closed   bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = fmt.Errorf("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan metadata.JobTask, channelSize),
	}

	js.start()

	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				result, err := job.OnStart(job.InputParams)
				if err != nil {
					core.LogError("job failed: %s", err)
				}
				js.mu.Lock()
				js.results = append(js.results, jobResult{task: job, result: result, err: err})
				js.mu.Unlock()
			}
		}()
	}
}

/**
 * @brief Shuts the job system down. Queued jobs still run; their callbacks
 * are dispatched before returning.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return ErrJobSystemClosed
	}
	js.closed = true
	js.mu.Unlock()

	close(js.jobQueue)
	js.wg.Wait()
	js.Update()
	return nil
}

/**
 * @brief Dispatches the callbacks of finished jobs. Should happen once an
 * update cycle. Returns the number of jobs dispatched.
 */
func (js *JobSystem) Update() int {
	js.mu.Lock()
	done := js.results
	js.results = nil
	js.inFlight -= len(done)
	js.mu.Unlock()

	for _, r := range done {
		if r.err != nil {
			if r.task.OnFailure != nil {
				r.task.OnFailure(r.err)
			}
			continue
		}
		if r.task.OnComplete != nil {
			r.task.OnComplete(r.result)
		}
	}
	return len(done)
}

// Pending is the number of submitted jobs whose callbacks have not run yet.
func (js *JobSystem) Pending() int {
	js.mu.Lock()
	defer js.mu.Unlock()
	return js.inFlight
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 */
func (js *JobSystem) Submit(jt metadata.JobTask) error {
	if jt.OnStart == nil {
		return fmt.Errorf("job has no OnStart")
	}
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return ErrJobSystemClosed
	}
	js.inFlight++
	js.mu.Unlock()

	js.jobQueue <- jt
	return nil
}
