// Package worker runs jobs concurrently under an optional in-flight limit and
// retries failed attempts with jittered exponential backoff.
package worker

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/scrape-dispatch/internal/metrics"
)

// Pool starts one goroutine per submitted task.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewPool returns a pool admitting at most limit tasks at once. A limit of 0
// or less admits every task immediately.
func NewPool(limit int) *Pool {
	p := &Pool{}
	if limit > 0 {
		p.sem = semaphore.NewWeighted(int64(limit))
	}
	return p
}

// Submit blocks until a slot is free or ctx ends, then runs fn in a new
// goroutine. fn receives ctx unchanged.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("worker slot wait: %w", err)
		}
	}
	p.wg.Add(1)
	metrics.IncActiveJobs()
	go func() {
		defer func() {
			metrics.DecActiveJobs()
			if p.sem != nil {
				p.sem.Release(1)
			}
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return nil
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
