// Package scheduler runs one background task per refresh cadence. Each
// provider gets its own loop so a stalled provider never delays another.
package scheduler

import (
	"context"
	"time"

	"riskgate/internal/logger"
)

type IntervalRunner struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool
}

// Run executes task every Interval until ctx is done. The task itself is
// responsible for its own timeout; Run never kills it mid-flight.
func (r IntervalRunner) Run(ctx context.Context, task func(context.Context)) {
	if task == nil || r.Interval <= 0 {
		logger.Warnf("scheduler %s: nothing to run (interval=%s)", r.Name, r.Interval)
		return
	}
	logger.Infof("scheduler %s: started interval=%s run_immediately=%v", r.Name, r.Interval, r.RunImmediately)

	if r.RunImmediately {
		task(ctx)
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler %s: ctx done, exit", r.Name)
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// Every is shorthand for launching a runner inline from an errgroup.
func Every(ctx context.Context, name string, interval time.Duration, immediately bool, task func(context.Context)) {
	IntervalRunner{Name: name, Interval: interval, RunImmediately: immediately}.Run(ctx, task)
}
