package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Job is a periodic background job.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// JobScheduler wraps gocron and runs registered jobs on their intervals.
type JobScheduler struct {
	scheduler gocron.Scheduler
	jobs      []Job
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{scheduler: s, ctx: ctx, cancel: cancel}, nil
}

// Register adds a job to the scheduler
func (s *JobScheduler) Register(job Job) error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(job.Interval()),
		gocron.NewTask(func() {
			start := time.Now()
			if err := job.Run(s.ctx); err != nil {
				log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", job.Name(), err)
				return
			}
			log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", job.Name(), time.Since(start))
		}),
	)
	if err != nil {
		return err
	}

	s.jobs = append(s.jobs, job)
	log.Printf("✅ [SCHEDULER] Registered job: %s (every %v)", job.Name(), job.Interval())
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	log.Printf("🚀 [SCHEDULER] Starting job scheduler with %d jobs", len(s.jobs))
	s.scheduler.Start()
}

// Stop gracefully stops all jobs
func (s *JobScheduler) Stop() {
	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️  [SCHEDULER] Shutdown error: %v", err)
	}
	log.Println("✅ [SCHEDULER] Job scheduler stopped")
}

// RunNow immediately runs a specific job (useful for testing)
func (s *JobScheduler) RunNow(name string) error {
	for _, job := range s.jobs {
		if job.Name() == name {
			log.Printf("🚀 [SCHEDULER] Running job '%s' immediately", name)
			return job.Run(s.ctx)
		}
	}
	log.Printf("⚠️  [SCHEDULER] Job '%s' not found", name)
	return nil
}
