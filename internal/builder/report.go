package builder

import (
	"errors"
	"slices"
	"time"

	"github.com/Norgate-AV/xbuild/internal/target"
)

// Status is the outcome of one project in one context.
type Status string

const (
	Built        Status = "built"         // Something was compiled, linked or packaged.
	UpToDate     Status = "up-to-date"    // Nothing needed doing.
	AlreadyBuilt Status = "already-built" // Completed earlier in this session.
	Skipped      Status = "skipped"       // Not attempted because a dependency failed.
	Failed       Status = "failed"
)

// ProjectReport is the result for one project in one context.
type ProjectReport struct {
	Project  string
	Context  target.Context
	Status   Status
	Artifact string
	Compiled int
	Reused   int
	Duration time.Duration
	Reason   string
	Err      error
}

// Report summarises a Build call. Projects appear in the order they were processed.
type Report struct {
	Projects []ProjectReport
}

func (r *Report) add(reports ...ProjectReport) {
	r.Projects = append(r.Projects, reports...)
}

// Compiled is the total number of sources compiled.
func (r *Report) Compiled() int {
	n := 0
	for _, p := range r.Projects {
		n += p.Compiled
	}

	return n
}

// Reused is the total number of objects taken from the cache.
func (r *Report) Reused() int {
	n := 0
	for _, p := range r.Projects {
		n += p.Reused
	}

	return n
}

// Count returns how many entries have status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, p := range r.Projects {
		if p.Status == s {
			n++
		}
	}

	return n
}

// Find returns the last entry for project in ctx.
func (r *Report) Find(project string, ctx target.Context) (ProjectReport, bool) {
	for i := len(r.Projects) - 1; i >= 0; i-- {
		if p := r.Projects[i]; p.Project == project && p.Context == ctx {
			return p, true
		}
	}

	return ProjectReport{}, false
}

// Err joins the errors of every failed entry. A package failure caused by a
// native failure already in the report is not repeated.
func (r *Report) Err() error {
	var errs []error
	for _, p := range r.Projects {
		if p.Err == nil || slices.ContainsFunc(errs, func(e error) bool {
			return errors.Is(e, p.Err) || errors.Is(p.Err, e)
		}) {
			continue
		}

		errs = append(errs, p.Err)
	}

	return errors.Join(errs...)
}
