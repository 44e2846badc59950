// Package runloop binds and supervises the portal's servers.
package runloop

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-portal/internal/portal/common/log"
)

// Task is a server with a separate bind step, so that every socket is
// bound before any of them starts serving.
type Task interface {
	Name() string
	Listen() error
	// Serve blocks until ctx is done, Stop is called, or the task fails.
	Serve(ctx context.Context) error
	Stop() error
}

// Run binds every task, then serves them all concurrently. A bind failure
// stops the tasks already bound and returns immediately. Once ctx is done
// or any task fails, every task is stopped; all errors are returned joined.
func Run(ctx context.Context, logger log.Logger, tasks ...Task) error {
	bound := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if err := t.Listen(); err != nil {
			err = fmt.Errorf("%s: listen: %w", t.Name(), err)
			return multierr.Append(err, stopAll(logger, bound))
		}
		bound = append(bound, t)
	}
	if len(bound) == 0 {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	var (
		mu   sync.Mutex
		errs error
	)
	record := func(err error) error {
		mu.Lock()
		errs = multierr.Append(errs, err)
		mu.Unlock()
		return err
	}

	var serving sync.WaitGroup
	for _, t := range bound {
		serving.Add(1)
		g.Go(func() error {
			defer serving.Done()
			logger.Info(map[string]any{"task": t.Name()}, "Task serving")
			if err := t.Serve(gctx); err != nil {
				return record(fmt.Errorf("%s: %w", t.Name(), err))
			}
			logger.Info(map[string]any{"task": t.Name()}, "Task finished")
			return nil
		})
	}
	go func() {
		serving.Wait()
		cancel()
	}()
	g.Go(func() error {
		<-gctx.Done()
		return record(stopAll(logger, bound))
	})

	_ = g.Wait()
	return errs
}

// stopAll stops tasks in reverse bind order.
func stopAll(logger log.Logger, tasks []Task) error {
	var err error
	for i := len(tasks) - 1; i >= 0; i-- {
		if stopErr := tasks[i].Stop(); stopErr != nil {
			logger.Warn(map[string]any{"task": tasks[i].Name(), "error": stopErr}, "Task stop failed")
			err = multierr.Append(err, fmt.Errorf("%s: stop: %w", tasks[i].Name(), stopErr))
		}
	}
	return err
}
