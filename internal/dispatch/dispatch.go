// Package dispatch fans one command out to a fleet of hosts through a
// bounded worker pool and aggregates the per-host outcomes into a fleet
// summary.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/DIPx2/WASSERFALL/internal/classify"
	"github.com/DIPx2/WASSERFALL/internal/logging"
	"github.com/DIPx2/WASSERFALL/internal/pipeline"
)

// DefaultWorkers bounds the pool when no worker count is configured.
const DefaultWorkers = 10

// Bucket is the fleet-level rollup category of one host outcome.
type Bucket int

const (
	// Success means every unit on the host completed with its success code.
	Success Bucket = iota

	// Partial means some but not all units on the host succeeded.
	Partial

	// Fail means the host produced no successful unit at all, including
	// hosts whose session never opened.
	Fail
)

// Summary is the fleet tally. Success+Partial+Fail always equals the number
// of dispatched hosts.
type Summary struct {
	Success int
	Partial int
	Fail    int
}

// Total returns the number of hosts the summary accounts for.
func (s Summary) Total() int { return s.Success + s.Partial + s.Fail }

// AllSucceeded reports whether every host landed in the success bucket.
func (s Summary) AllSucceeded() bool { return s.Total() > 0 && s.Success == s.Total() }

// Classify places one host outcome into its rollup bucket. A host is
// partial only when it executed units and strictly between zero and all of
// them succeeded; everything else that is not a full success is a failure.
func Classify(out pipeline.HostOutcome) Bucket {
	if out.Succeeded() {
		return Success
	}
	ok := out.OKUnits()
	if ok > 0 && ok < len(out.Units) {
		return Partial
	}
	return Fail
}

// Runner executes the per-host pipeline. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, host string, ec pipeline.ExecContext) pipeline.HostOutcome
}

// Reporter consumes finished host outcomes in completion order. Calls are
// serialized by the collector; implementations need no locking against the
// dispatcher.
type Reporter interface {
	HostDone(out pipeline.HostOutcome, bucket Bucket)
}

// Dispatcher runs one command across a host fleet.
type Dispatcher struct {
	Runner   Runner
	Reporter Reporter
	Workers  int
	Logger   *logging.Logger
}

type job struct {
	host string
}

type result struct {
	outcome pipeline.HostOutcome
	bucket  Bucket
}

// Dispatch executes the command context against every host and blocks until
// all outcomes are collected. Hosts are consumed by up to Workers goroutines;
// outcomes are aggregated and reported from a single collector so the
// summary needs no locking.
func (d *Dispatcher) Dispatch(ctx context.Context, hosts []string, ec pipeline.ExecContext) Summary {
	if len(hosts) == 0 {
		return Summary{}
	}

	workers := d.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	if workers > len(hosts) {
		workers = len(hosts)
	}

	d.Logger.LogDispatchStart(len(hosts), workers, ec.CommandName)

	jobs := make(chan job, len(hosts))
	results := make(chan result, len(hosts))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- d.runHost(ctx, j.host, ec)
			}
		}()
	}

	for _, host := range hosts {
		jobs <- job{host: host}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var summary Summary
	for res := range results {
		switch res.bucket {
		case Success:
			summary.Success++
		case Partial:
			summary.Partial++
		default:
			summary.Fail++
		}
		if d.Reporter != nil {
			d.Reporter.HostDone(res.outcome, res.bucket)
		}
	}

	d.Logger.LogDispatchComplete(summary.Success, summary.Partial, summary.Fail)
	return summary
}

// runHost executes one host and converts a panicking pipeline into a failed
// outcome so a single bad host can never take down the run.
func (d *Dispatcher) runHost(ctx context.Context, host string, ec pipeline.ExecContext) (res result) {
	defer func() {
		if r := recover(); r != nil {
			out := pipeline.HostOutcome{
				Host:      host,
				Transport: classify.TransportFailed,
				Err:       fmt.Sprintf("panic: %v", r),
			}
			d.Logger.Error("host execution panicked", "host", host, "panic", fmt.Sprint(r))
			res = result{outcome: out, bucket: Fail}
		}
	}()

	out := d.Runner.Run(ctx, host, ec)
	return result{outcome: out, bucket: Classify(out)}
}
