package jobs

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job interface that all scheduled jobs must implement
type Job interface {
	Run(ctx context.Context) error
}

type registeredJob struct {
	job      Job
	schedule string
	cron     cron.Schedule
}

// JobScheduler runs registered jobs on cron schedules
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]*registeredJob
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a five-field cron expression
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{
		scheduler: scheduler,
		jobs:      make(map[string]*registeredJob),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Register adds a job to run on the given cron schedule
func (s *JobScheduler) Register(name, schedule string, job Job) error {
	parsed, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[name] = &registeredJob{job: job, schedule: schedule, cron: parsed}
	log.Printf("✅ [SCHEDULER] Registered job: %s (%s)", name, schedule)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	for name, rj := range s.jobs {
		name, rj := name, rj
		_, err := s.scheduler.NewJob(
			gocron.CronJob(rj.schedule, false),
			gocron.NewTask(func() {
				s.runJob(name, rj.job)
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule job %s: %w", name, err)
		}
		log.Printf("⏰ [SCHEDULER] Job '%s' next run at %s", name, rj.cron.Next(time.Now()).Format(time.RFC3339))
	}

	s.scheduler.Start()
	s.running = true
	log.Printf("🚀 [SCHEDULER] Started job scheduler with %d jobs", len(s.jobs))
	return nil
}

// runJob executes a job once and logs the outcome
func (s *JobScheduler) runJob(name string, job Job) {
	s.wg.Add(1)
	defer s.wg.Done()

	log.Printf("▶️  [SCHEDULER] Running job: %s", name)
	startTime := time.Now()

	if err := job.Run(s.ctx); err != nil {
		log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", name, err)
		return
	}

	log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", name, time.Since(startTime))
}

// Stop gracefully stops all jobs
func (s *JobScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")

	// Cancel context so running jobs return, then wait for them
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️  [SCHEDULER] Shutdown error: %v", err)
	}
	s.wg.Wait()

	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}

// RunNow immediately runs a specific job
func (s *JobScheduler) RunNow(name string) error {
	s.mu.Lock()
	rj, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job %q not registered", name)
	}

	log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
	return rj.job.Run(s.ctx)
}

// GetStatus returns the status of all jobs
func (s *JobScheduler) GetStatus() map[string]JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	status := make(map[string]JobStatus)
	for name, rj := range s.jobs {
		status[name] = JobStatus{
			Name:        name,
			Schedule:    rj.schedule,
			NextRunTime: rj.cron.Next(now),
			Registered:  true,
		}
	}

	return status
}

// JobStatus represents the status of a job
type JobStatus struct {
	Name        string    `json:"name"`
	Schedule    string    `json:"schedule"`
	NextRunTime time.Time `json:"next_run_time"`
	Registered  bool      `json:"registered"`
}
