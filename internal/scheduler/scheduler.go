// Package scheduler runs the compile jobs of one project and build context on a
// bounded worker pool.
//
// Run returns only after every dispatched job has finished, so a caller may
// link as soon as it returns. After the first failure no further job is
// started; jobs already running are left to finish.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Norgate-AV/xbuild/internal/ctxlog"
)

// Status is the outcome of one unit.
type Status int

const (
	Reused Status = iota
	Compiled
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Reused:
		return "reused"
	case Compiled:
		return "compiled"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Hit is a source whose object is already up to date.
type Hit struct {
	Source string
	Object string
}

// Job compiles one source. Run is called on a worker goroutine and must not
// touch state shared with other jobs.
type Job struct {
	Source string
	Object string
	Run    func(ctx context.Context) error
}

// Unit is the per-source result.
type Unit struct {
	Source   string
	Object   string
	Status   Status
	Duration time.Duration
	Err      error
}

// Outcome collects the results of one Run. Units are in input order: hits
// first, then jobs, independent of completion order.
type Outcome struct {
	Units    []Unit
	Compiled int
	Reused   int
	Failed   int
	Skipped  int
}

// Objects returns the object paths of every reused or compiled unit in input order.
func (o *Outcome) Objects() []string {
	objects := make([]string, 0, len(o.Units))
	for _, u := range o.Units {
		if u.Status == Reused || u.Status == Compiled {
			objects = append(objects, u.Object)
		}
	}

	return objects
}

// OK reports whether every unit is available for linking.
func (o *Outcome) OK() bool {
	return o.Failed == 0 && o.Skipped == 0
}

// Pool is a bounded compile worker pool.
type Pool struct {
	workers int
}

// DefaultWorkers is one less than the number of CPUs, and at least one.
func DefaultWorkers() int {
	return max(runtime.NumCPU()-1, 1)
}

// New creates a pool with n workers. n <= 0 selects DefaultWorkers; 1 runs jobs serially.
func New(n int) *Pool {
	if n <= 0 {
		n = DefaultWorkers()
	}

	return &Pool{workers: n}
}

// Workers returns the pool size
func (p *Pool) Workers() int {
	return p.workers
}

// Run records hits immediately and executes jobs on the pool. The returned
// error joins every job failure; the Outcome is always non-nil.
func (p *Pool) Run(ctx context.Context, hits []Hit, jobs []Job) (*Outcome, error) {
	log := ctxlog.FromContext(ctx)

	out := &Outcome{Units: make([]Unit, len(hits)+len(jobs))}
	for i, h := range hits {
		out.Units[i] = Unit{Source: h.Source, Object: h.Object, Status: Reused}
	}

	var (
		g      errgroup.Group
		failed atomic.Bool
	)

	g.SetLimit(p.workers)

	for i, job := range jobs {
		slot := &out.Units[len(hits)+i]
		slot.Source, slot.Object = job.Source, job.Object

		// Go blocks until a worker is free.
		g.Go(func() error {
			if failed.Load() {
				slot.Status = Skipped
				return nil
			}

			start := time.Now()
			err := job.Run(ctx)
			slot.Duration = time.Since(start)

			if err != nil {
				failed.Store(true)
				slot.Status = Failed
				slot.Err = err
				log.Debug("compile failed", "source", job.Source, "error", err)
				return nil
			}

			slot.Status = Compiled
			log.Debug("compiled", "source", job.Source, "duration", slot.Duration)

			return nil
		})
	}

	// Jobs report through their slots, so Wait has nothing to return.
	_ = g.Wait()

	var errs []error
	for _, u := range out.Units {
		switch u.Status {
		case Reused:
			out.Reused++
		case Compiled:
			out.Compiled++
		case Failed:
			out.Failed++
			errs = append(errs, u.Err)
		case Skipped:
			out.Skipped++
		}
	}

	return out, errors.Join(errs...)
}
