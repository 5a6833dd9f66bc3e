// Package worker runs the asynchronous phase of event handling: availability
// probes and notification enqueues that must not hold up the webhook
// acknowledgment. Tasks have no cancellation; once started they run to
// completion or log failure, since the provider integrations behind them
// offer no cancellation primitive.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/fairwaydesk/teeflow/internal/observability"
)

type Task func(ctx context.Context) error

// Pool is a bounded set of workers draining a buffered task queue. Submit
// applies backpressure when the queue is full rather than dropping work.
type Pool struct {
	tasks   chan Task
	group   *errgroup.Group
	workers int
	logger  observability.Logger
}

func NewPool(workers, queueDepth int, logger observability.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 64
	}
	return &Pool{
		tasks:   make(chan Task, queueDepth),
		group:   &errgroup.Group{},
		workers: workers,
		logger:  logger,
	}
}

// Run starts the workers and blocks until ctx is cancelled and the queue is
// drained. Tasks themselves run under context.Background so that shutting
// down the pool does not abandon work already accepted.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					// Drain what was already accepted.
					for {
						select {
						case task := <-p.tasks:
							p.run(task)
						default:
							return nil
						}
					}
				case task := <-p.tasks:
					p.run(task)
				}
			}
		})
	}
	p.group.Wait()
}

func (p *Pool) run(task Task) {
	if err := task(context.Background()); err != nil {
		p.logger.Error("background task failed: ", err)
	}
}

// Submit enqueues a task, blocking when the queue is saturated.
func (p *Pool) Submit(task Task) {
	p.tasks <- task
}
