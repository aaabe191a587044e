package scheduler

import (
	"log"
	"time"

	"seller_agent_backend/models"
	"seller_agent_backend/services/audit"
	"seller_agent_backend/services/pricing"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

// Retention windows for terminal records
const (
	JobRetentionDays    = 30
	BulkOpRetentionDays = 90
)

// Scheduler manages the periodic background jobs around the queue: the
// pricing cycle and data retention. The job queue itself runs its own loop.
type Scheduler struct {
	cron   *gocron.Scheduler
	db     *gorm.DB
	engine *pricing.Engine
	sink   *audit.Sink
}

// NewScheduler creates a new scheduler instance
func NewScheduler(db *gorm.DB, engine *pricing.Engine, sink *audit.Sink) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		db:     db,
		engine: engine,
		sink:   sink,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Evaluate due pricing rules every minute; the engine's own interval
	// gating decides which rules actually run
	s.cron.Every(1).Minute().Do(func() {
		s.runPricingCycle()
	})

	// Clean up old terminal records daily at 03:00
	s.cron.Every(1).Day().At("03:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runPricingCycle evaluates every due pricing rule
func (s *Scheduler) runPricingCycle() {
	results := s.engine.RunAll()
	if len(results) == 0 {
		return
	}

	applied := 0
	for _, res := range results {
		if res.Applied {
			applied++
		}
	}
	log.Printf("Pricing cycle evaluated %d rule(s), applied %d change(s)", len(results), applied)
}

// cleanupOldData removes old terminal records to save storage
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old data...")

	jobCutoff := time.Now().AddDate(0, 0, -JobRetentionDays)
	err := s.db.Where("status IN ? AND completed_at < ?",
		[]string{models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
		jobCutoff).Delete(&models.Job{}).Error
	if err != nil {
		log.Printf("Error cleaning up old jobs: %v", err)
	}

	opCutoff := time.Now().AddDate(0, 0, -BulkOpRetentionDays)
	err = s.db.Where("completed_at < ?", opCutoff).Delete(&models.BulkOperation{}).Error
	if err != nil {
		log.Printf("Error cleaning up old bulk operations: %v", err)
	}

	if s.sink != nil {
		s.sink.Cleanup(audit.DefaultAuditRetentionDays)
	}

	log.Println("Cleanup completed")
}
