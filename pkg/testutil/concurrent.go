package testutil

import (
	"sync"
	"sync/atomic"
	"time"

	dErrors "throttleguard/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Transient int32
	Errors    int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Transient + r.Errors
}

// RunConcurrent executes fn in parallel goroutines released together and
// classifies each outcome as success, transient-state error, or other error.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, transient, errs atomic.Int32
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeTransientState):
				transient.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}

	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Transient: transient.Load(),
		Errors:    errs.Load(),
	}
}

// CountStatuses fires n concurrent calls and tallies the HTTP status each returned.
func CountStatuses(n int, call func(idx int) int) map[int]int {
	var mu sync.Mutex
	counts := make(map[int]int)
	RunConcurrent(n, func(idx int) error {
		status := call(idx)
		mu.Lock()
		counts[status]++
		mu.Unlock()
		return nil
	})
	return counts
}

// Epoch is a fixed instant for deterministic clock setups.
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
