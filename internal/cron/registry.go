package cron

import (
	"context"
	"time"
)

// Job is one unit of background work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// slot is a registered job plus its minimum spacing between runs. Zero
// spacing runs the job on every tick.
type slot struct {
	job   Job
	every time.Duration
}

// Registry is the ordered set of jobs a worker runs. Names are unique.
type Registry struct {
	slots []slot
}

// NewRegistry registers jobs that run on every tick.
func NewRegistry(jobs ...Job) *Registry {
	r := &Registry{}
	for _, job := range jobs {
		r.Register(job, 0)
	}
	return r
}

// Register adds job with the given spacing. Nil jobs and names already
// registered are ignored and reported as false.
func (r *Registry) Register(job Job, every time.Duration) bool {
	if job == nil || r.has(job.Name()) {
		return false
	}
	r.slots = append(r.slots, slot{job: job, every: max(every, 0)})
	return true
}

func (r *Registry) has(name string) bool {
	for _, s := range r.slots {
		if s.job.Name() == name {
			return true
		}
	}
	return false
}

// Jobs returns a copy of the registered jobs in registration order.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.job)
	}
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s.job.Name())
	}
	return out
}
