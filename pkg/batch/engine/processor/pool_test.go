package processor_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tigerroll/swell/pkg/batch/engine/processor"
)

func TestWorkerPool_RunsEveryTask(t *testing.T) {
	pool := processor.NewWorkerPool(4, 8)
	var ran atomic.Int64

	for i := 0; i < 100; i++ {
		pool.Submit(func() { ran.Add(1) })
	}
	pool.Shutdown()

	assert.EqualValues(t, 100, ran.Load())
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	pool := processor.NewWorkerPool(size, 0)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		})
	}
	wg.Wait()
	pool.Shutdown()

	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Positive(t, peak.Load())
}

func TestWorkerPool_MinimumSizeIsOne(t *testing.T) {
	pool := processor.NewWorkerPool(0, 0)
	done := make(chan struct{})
	pool.Submit(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	pool.Shutdown()
}
