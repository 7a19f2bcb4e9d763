package executor

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/khachaneojas/service-scheduler/internal/dispatcher"
)

// Subscriber delivers job ids published on a route. Subscribe blocks until
// ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, route dispatcher.Route, consumer string, handle func(ctx context.Context, jobID int64) error) error
}

// Runner executes one job id.
type Runner interface {
	Execute(ctx context.Context, jobID int64) error
}

type Consumer struct {
	subscriber Subscriber
	runner     Runner
	routes     []dispatcher.Route
	workers    int
	identity   string
}

// NewConsumer listens on every route with workers concurrent subscribers per
// route.
func NewConsumer(subscriber Subscriber, runner Runner, routes []dispatcher.Route, workers int, identity string) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		subscriber: subscriber,
		runner:     runner,
		routes:     routes,
		workers:    workers,
		identity:   identity,
	}
}

// Run consumes until ctx is cancelled and then waits for in-flight jobs. A
// job that has started is not interrupted by cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, route := range c.routes {
		route := route
		for i := 0; i < c.workers; i++ {
			name := fmt.Sprintf("%s-%s-%d", c.identity, route.Channel, i)
			g.Go(func() error {
				err := c.subscriber.Subscribe(gctx, route, name, c.handle)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	}

	log.Printf("executor: consuming channels=%d workers_per_channel=%d", len(c.routes), c.workers)
	err := g.Wait()
	log.Println("executor: consumers stopped")
	return err
}

func (c *Consumer) handle(ctx context.Context, jobID int64) error {
	return c.runner.Execute(context.WithoutCancel(ctx), jobID)
}
