package tasks

import (
	"context"
	"sync"

	"github.com/nimbusfs/syncd/pkg/log"
)

// Runner is a bounded pool of background goroutines that execute
// submitted closures. It never applies backpressure to the submitter:
// a full queue drops the task and logs a warning rather than blocking
// the request/event path that submitted it.
type Runner struct {
	queue  chan func(context.Context)
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner starts a Runner with workers goroutines and the given
// queue depth.
func NewRunner(workers, queueDepth int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueDepth <= 0 {
		queueDepth = 256
	}
	r := &Runner{
		queue:  make(chan func(context.Context), queueDepth),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.loop()
	}
	return r
}

func (r *Runner) loop() {
	defer r.wg.Done()
	for {
		select {
		case fn := <-r.queue:
			r.run(fn)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runner) run(fn func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithComponent("tasks").Error().Interface("panic", rec).Msg("background task panicked")
		}
	}()
	fn(context.Background())
}

// Submit enqueues fn for best-effort execution. If the queue is full,
// the task is dropped and a warning is logged — callers must never
// depend on Submit actually running the task.
func (r *Runner) Submit(fn func(context.Context)) {
	select {
	case r.queue <- fn:
	default:
		log.WithComponent("tasks").Warn().Msg("background task queue full, dropping task")
	}
}

// Stop waits for in-flight tasks to finish and shuts the pool down.
// Queued-but-not-started tasks are abandoned.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}
