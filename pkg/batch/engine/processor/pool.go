package processor

import (
	"sync"
)

// WorkerPool is an explicitly sized pool of goroutines executing submitted
// tasks. It is constructed per partition run and shut down deterministically;
// nothing about it is ambient or shared between partitions.
type WorkerPool struct {
	tasks chan func()
	wg    sync.WaitGroup
}

// NewWorkerPool starts size workers draining a queue of queueDepth entries.
// A size below one is raised to one.
func NewWorkerPool(size, queueDepth int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}
	p := &WorkerPool{tasks: make(chan func(), queueDepth)}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *WorkerPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit enqueues one task. It blocks while the queue is full, which bounds
// the dispatcher to the pool's pace.
func (p *WorkerPool) Submit(task func()) {
	p.tasks <- task
}

// Shutdown stops intake and waits until every queued task has finished.
// Submitting after Shutdown panics.
func (p *WorkerPool) Shutdown() {
	close(p.tasks)
	p.wg.Wait()
}
