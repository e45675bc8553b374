// Package scheduler runs the server's periodic housekeeping on a cron clock.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// Job is one piece of housekeeping run on a schedule.
type Job struct {
	ID       string
	Name     string
	Schedule string

	// Retries is the number of extra attempts after a failed run, spaced by
	// Backoff.
	Retries int
	Backoff time.Duration

	Run func(ctx context.Context) error
}

// JobStatus is a snapshot of a job's history.
type JobStatus struct {
	ID        string
	Name      string
	Schedule  string
	Runs      int
	Failures  int
	LastRun   time.Time
	LastError string
	NextRun   time.Time
}

type scheduledJob struct {
	job      Job
	schedule cron.Schedule
	status   JobStatus
}

// CronEngine runs jobs in one location. Overlapping runs of a job are
// skipped and panics are recovered by the cron chain.
type CronEngine struct {
	cron     *cron.Cron
	location *time.Location
	logger   logr.Logger

	mu   sync.Mutex
	jobs map[string]*scheduledJob

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCronEngine builds an engine in location, UTC when nil.
func NewCronEngine(location *time.Location, logger logr.Logger) *CronEngine {
	if location == nil {
		location = time.UTC
	}
	logger = logger.WithName("cron")

	ctx, cancel := context.WithCancel(context.Background())
	return &CronEngine{
		cron: cron.New(cron.WithLocation(location), cron.WithChain(
			cron.SkipIfStillRunning(logger),
			cron.Recover(logger),
		)),
		location: location,
		logger:   logger,
		jobs:     make(map[string]*scheduledJob),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// AddJob validates the schedule and registers the job. Jobs added after
// Start are picked up immediately.
func (e *CronEngine) AddJob(job Job) error {
	if job.ID == "" || job.Run == nil {
		return fmt.Errorf("job needs an id and a run function")
	}
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Schedule, job.ID, err)
	}
	if job.Retries > 0 && job.Backoff <= 0 {
		job.Backoff = 30 * time.Second
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already exists", job.ID)
	}

	sj := &scheduledJob{
		job:      job,
		schedule: schedule,
		status:   JobStatus{ID: job.ID, Name: job.Name, Schedule: job.Schedule},
	}
	e.jobs[job.ID] = sj
	e.cron.Schedule(schedule, cron.FuncJob(func() {
		_ = e.execute(sj)
	}))

	e.logger.Info("Scheduled job", "job", job.ID, "schedule", job.Schedule,
		"next", schedule.Next(time.Now().In(e.location)))
	return nil
}

func (e *CronEngine) Start() {
	e.logger.Info("Starting cron engine", "jobs", len(e.Status()))
	e.cron.Start()
}

// Stop cancels the context handed to running jobs and waits for them.
func (e *CronEngine) Stop() {
	e.cancel()
	<-e.cron.Stop().Done()
	e.logger.Info("Cron engine stopped")
}

// RunNow executes a job immediately, outside its schedule, with the same
// retry policy.
func (e *CronEngine) RunNow(id string) error {
	e.mu.Lock()
	sj, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not found", id)
	}
	return e.execute(sj)
}

// Status lists every job ordered by id.
func (e *CronEngine) Status() []JobStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().In(e.location)
	out := make([]JobStatus, 0, len(e.jobs))
	for _, sj := range e.jobs {
		st := sj.status
		st.NextRun = sj.schedule.Next(now)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *CronEngine) execute(sj *scheduledJob) error {
	started := time.Now()

	var err error
	for attempt := 0; attempt <= sj.job.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-e.ctx.Done():
				return e.record(sj, started, e.ctx.Err())
			case <-time.After(sj.job.Backoff):
			}
		}
		if err = sj.job.Run(e.ctx); err == nil {
			break
		}
		e.logger.Error(err, "Job run failed", "job", sj.job.ID, "attempt", attempt+1)
	}
	return e.record(sj, started, err)
}

func (e *CronEngine) record(sj *scheduledJob, started time.Time, err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	sj.status.Runs++
	sj.status.LastRun = started
	sj.status.LastError = ""
	if err != nil {
		sj.status.Failures++
		sj.status.LastError = err.Error()
		return err
	}
	e.logger.V(1).Info("Job finished", "job", sj.job.ID, "took", time.Since(started))
	return nil
}

// ParseCronExpression validates a standard cron expression or descriptor.
func ParseCronExpression(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}
