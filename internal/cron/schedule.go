package cron

import (
	"context"
	"sync"
	"time"
)

// Job is one unit of periodic work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduled jobs declare their own cadence. Other jobs run on every tick.
type Scheduled interface {
	Every() time.Duration
}

type slot struct {
	job     Job
	every   time.Duration
	started time.Time
}

// Schedule remembers when each job last started in this process.
type Schedule struct {
	mu    sync.Mutex
	slots []*slot
}

func NewSchedule(jobs ...Job) *Schedule {
	s := &Schedule{}
	for _, job := range jobs {
		s.Add(job)
	}
	return s
}

// Add ignores nil jobs.
func (s *Schedule) Add(job Job) {
	if job == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = append(s.slots, &slot{job: job, every: cadence(job)})
}

// cadence is zero for jobs that do not implement Scheduled.
func cadence(job Job) time.Duration {
	if sch, ok := job.(Scheduled); ok {
		return sch.Every()
	}
	return 0
}

// Claim returns the jobs due at now, in registration order, and stamps them
// as started.
func (s *Schedule) Claim(now time.Time) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, sl := range s.slots {
		if !sl.started.IsZero() && now.Sub(sl.started) < sl.every {
			continue
		}
		sl.started = now
		due = append(due, sl.job)
	}
	return due
}

// Release makes the named job due again on the next Claim.
func (s *Schedule) Release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.job.Name() == name {
			sl.started = time.Time{}
		}
	}
}

func (s *Schedule) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
