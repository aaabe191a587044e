package jobqueue

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"seller_agent_backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Queue configuration
const (
	DefaultPollInterval = 5 * time.Second
	DefaultListLimit    = 50
)

// WorkFunc performs a job's action. It is expected to call back into
// UpdateProgress and MarkFinished; a panic is caught and converted into a
// failed job.
type WorkFunc func(job *models.Job)

// Observer is notified after every job state change (progress, transitions)
type Observer func(job *models.Job)

// Queue serializes long-running bulk jobs: one job in flight, FIFO by
// creation time, durable in the jobs table with an in-memory mirror of
// pending and running jobs. The store is authoritative; the mirror is
// rebuilt from it on Start.
type Queue struct {
	db   *gorm.DB
	work WorkFunc

	mu       sync.RWMutex
	jobs     map[string]*models.Job // pending + running only
	inFlight string                 // id of the running job, "" when idle

	wake     chan struct{}
	stopChan chan struct{}
	running  bool

	pollInterval time.Duration
	observer     Observer
}

// NewQueue creates a job queue with the given work callback
func NewQueue(db *gorm.DB, work WorkFunc) *Queue {
	return &Queue{
		db:           db,
		work:         work,
		jobs:         make(map[string]*models.Job),
		wake:         make(chan struct{}, 1),
		pollInterval: DefaultPollInterval,
	}
}

// SetObserver registers a callback fired after each job state change
func (q *Queue) SetObserver(fn Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = fn
}

// SetPollInterval overrides the safety-net poll interval
func (q *Queue) SetPollInterval(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if d > 0 {
		q.pollInterval = d
	}
}

// Enqueue creates a pending job and returns its id without blocking.
// The durable write happens before the mirror is updated; a store failure is
// logged and the job still enters the in-memory queue.
func (q *Queue) Enqueue(jobType string, payload map[string]interface{}, totalItems int, userID string) (string, error) {
	if jobType == "" {
		return "", errors.New("job type is required")
	}
	if totalItems < 0 {
		return "", fmt.Errorf("total items must not be negative, got %d", totalItems)
	}

	job := &models.Job{
		ID:         uuid.NewString(),
		UserID:     userID,
		Type:       jobType,
		Status:     models.JobStatusPending,
		Payload:    models.EncodePayload(payload),
		TotalItems: totalItems,
		CreatedAt:  time.Now(),
	}

	if err := q.db.Create(job).Error; err != nil {
		log.Printf("Error persisting job %s: %v", job.ID, err)
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	q.mu.Unlock()

	q.signal()
	return job.ID, nil
}

// GetJob returns the job with the given id: live jobs from the mirror,
// finished ones from the store. Returns nil when not found.
func (q *Queue) GetJob(id string) *models.Job {
	q.mu.RLock()
	if j, ok := q.jobs[id]; ok {
		cp := *j
		q.mu.RUnlock()
		return &cp
	}
	q.mu.RUnlock()

	var job models.Job
	err := q.db.Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		log.Printf("Error loading job %s: %v", id, err)
		return nil
	}
	return &job
}

// GetJobs returns a user's jobs newest-first, optionally filtered by status.
// limit <= 0 uses the default bound.
func (q *Queue) GetJobs(userID string, status string, limit int) []models.Job {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query := q.db.Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var jobs []models.Job
	if err := query.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		log.Printf("Error listing jobs for user %s: %v", userID, err)
		return nil
	}
	return jobs
}

// CancelJob cancels a pending or running job. Returns false when the job is
// unknown or already terminal. Cancellation of a running job is cooperative:
// the in-flight callback keeps the slot until it returns.
func (q *Queue) CancelJob(id string) bool {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.IsTerminal() {
		q.mu.Unlock()
		return false
	}

	now := time.Now()
	job.Status = models.JobStatusCancelled
	job.CompletedAt = &now
	q.persist(job)
	delete(q.jobs, id)
	cp := *job
	q.mu.Unlock()

	q.notify(&cp)
	q.signal()
	return true
}

// IsCancelled reports whether a job has been cancelled. Workers poll this
// between items to stop cooperatively.
func (q *Queue) IsCancelled(id string) bool {
	q.mu.RLock()
	if j, ok := q.jobs[id]; ok {
		status := j.Status
		q.mu.RUnlock()
		return status == models.JobStatusCancelled
	}
	q.mu.RUnlock()

	job := q.GetJob(id)
	return job != nil && job.Status == models.JobStatusCancelled
}

// UpdateProgress updates the item counters and recomputes progress.
// No-op on unknown or terminal jobs; an update that would break
// completed+failed <= total is rejected.
func (q *Queue) UpdateProgress(id string, completed, failed int, itemErrors []models.ItemError) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.IsTerminal() {
		q.mu.Unlock()
		return
	}
	if completed < 0 || failed < 0 || completed+failed > job.TotalItems {
		q.mu.Unlock()
		log.Printf("Rejecting invalid progress update for job %s: completed=%d failed=%d total=%d",
			id, completed, failed, job.TotalItems)
		return
	}

	job.CompletedItems = completed
	job.FailedItems = failed
	job.SetItemErrors(itemErrors)
	job.RecomputeProgress()
	q.persist(job)
	cp := *job
	q.mu.Unlock()

	q.notify(&cp)
}

// SetTotalItems fixes a job's item count once the worker has resolved the
// target set. Jobs enqueued from a filter start with a total of zero; the
// real total is known only after resolution. A total smaller than the
// counters already reported is rejected.
func (q *Queue) SetTotalItems(id string, total int) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.IsTerminal() {
		q.mu.Unlock()
		return
	}
	if total < 0 || total < job.CompletedItems+job.FailedItems {
		q.mu.Unlock()
		log.Printf("Rejecting invalid total %d for job %s: completed=%d failed=%d",
			total, id, job.CompletedItems, job.FailedItems)
		return
	}

	job.TotalItems = total
	job.RecomputeProgress()
	q.persist(job)
	cp := *job
	q.mu.Unlock()

	q.notify(&cp)
}

// MarkRunning transitions a pending job to running
func (q *Queue) MarkRunning(id string) {
	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.Status != models.JobStatusPending {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	q.persist(job)
	cp := *job
	q.mu.Unlock()

	q.notify(&cp)
}

// MarkFinished moves a job into a terminal state and evicts it from the
// mirror; later reads are served from the store. A second call on an
// already-terminal job changes nothing.
func (q *Queue) MarkFinished(id string, status string, result string) {
	if status != models.JobStatusCompleted && status != models.JobStatusFailed {
		log.Printf("Ignoring finish with non-terminal status %q for job %s", status, id)
		return
	}

	q.mu.Lock()
	job, ok := q.jobs[id]
	if !ok || job.IsTerminal() {
		q.mu.Unlock()
		return
	}
	now := time.Now()
	job.Status = status
	job.Result = result
	job.CompletedAt = &now
	q.persist(job)
	delete(q.jobs, id)
	cp := *job
	q.mu.Unlock()

	q.notify(&cp)
}

// NextPending returns the pending job with the smallest creation time,
// or nil when nothing is pending
func (q *Queue) NextPending() *models.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	job := q.nextPendingLocked()
	if job == nil {
		return nil
	}
	cp := *job
	return &cp
}

func (q *Queue) nextPendingLocked() *models.Job {
	var next *models.Job
	for _, j := range q.jobs {
		if j.Status != models.JobStatusPending {
			continue
		}
		if next == nil || j.CreatedAt.Before(next.CreatedAt) ||
			(j.CreatedAt.Equal(next.CreatedAt) && j.ID < next.ID) {
			next = j
		}
	}
	return next
}

// Start reloads live jobs from the store and begins the processing loop.
// Jobs found running belong to a crashed process and are reset to pending
// with their start time cleared.
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("job queue is already running")
	}

	var live []models.Job
	err := q.db.Where("status IN ?", []string{models.JobStatusPending, models.JobStatusRunning}).
		Order("created_at ASC").Find(&live).Error
	if err != nil {
		q.mu.Unlock()
		return fmt.Errorf("failed to reload jobs: %w", err)
	}

	q.jobs = make(map[string]*models.Job, len(live))
	recovered := 0
	for i := range live {
		job := &live[i]
		if job.Status == models.JobStatusRunning {
			job.Status = models.JobStatusPending
			job.StartedAt = nil
			q.persist(job)
			recovered++
		}
		q.jobs[job.ID] = job
	}
	if recovered > 0 {
		log.Printf("Recovered %d interrupted job(s) back to pending", recovered)
	}

	q.running = true
	q.inFlight = ""
	q.stopChan = make(chan struct{})
	stop := q.stopChan
	interval := q.pollInterval
	q.mu.Unlock()

	go q.loop(stop, interval)
	q.signal()

	log.Printf("Job queue started with %d live job(s)", len(live))
	return nil
}

// Stop halts the processing loop. An in-flight callback is not interrupted.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopChan)
	q.mu.Unlock()
	log.Println("Job queue stopped")
}

// loop dequeues on enqueue/finish signals, with a fixed-interval poll as a
// safety net against missed wake-ups
func (q *Queue) loop(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-q.wake:
			q.dispatch()
		case <-ticker.C:
			q.dispatch()
		}
	}
}

// dispatch claims the single in-flight slot and runs the oldest pending job
func (q *Queue) dispatch() {
	q.mu.Lock()
	if !q.running || q.inFlight != "" {
		q.mu.Unlock()
		return
	}
	job := q.nextPendingLocked()
	if job == nil {
		q.mu.Unlock()
		return
	}

	now := time.Now()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	q.inFlight = job.ID
	q.persist(job)
	cp := *job
	q.mu.Unlock()

	q.notify(&cp)
	go q.run(&cp)
}

// run executes the work callback for one job, converting a panic into a
// failed job, then releases the in-flight slot
func (q *Queue) run(job *models.Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s panicked: %v", job.ID, r)
			q.MarkFinished(job.ID, models.JobStatusFailed, fmt.Sprintf("uncaught error: %v", r))
		}

		q.mu.Lock()
		if q.inFlight == job.ID {
			q.inFlight = ""
		}
		q.mu.Unlock()
		q.signal()
	}()

	if q.work == nil {
		q.MarkFinished(job.ID, models.JobStatusFailed, "no work callback registered")
		return
	}
	q.work(job)

	// A callback that returns without finishing the job would wedge it in
	// running; treat that as completion.
	if current := q.GetJob(job.ID); current != nil && current.Status == models.JobStatusRunning {
		q.MarkFinished(job.ID, models.JobStatusCompleted, "")
	}
}

// PendingCount returns the number of jobs waiting in the mirror
func (q *Queue) PendingCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := 0
	for _, j := range q.jobs {
		if j.Status == models.JobStatusPending {
			n++
		}
	}
	return n
}

// LiveJobs returns the mirrored pending and running jobs, oldest first
func (q *Queue) LiveJobs() []models.Job {
	q.mu.RLock()
	out := make([]models.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, *j)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out
}

// persist writes a job's mutable fields to the store. Persistence failures
// are logged and the in-memory state keeps going; the queue trades
// durability for availability here.
func (q *Queue) persist(job *models.Job) {
	updates := map[string]interface{}{
		"status":          job.Status,
		"result":          job.Result,
		"progress":        job.Progress,
		"total_items":     job.TotalItems,
		"completed_items": job.CompletedItems,
		"failed_items":    job.FailedItems,
		"errors":          job.Errors,
		"started_at":      job.StartedAt,
		"completed_at":    job.CompletedAt,
	}
	if err := q.db.Model(&models.Job{}).Where("id = ?", job.ID).Updates(updates).Error; err != nil {
		log.Printf("Error persisting job %s: %v", job.ID, err)
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) notify(job *models.Job) {
	q.mu.RLock()
	fn := q.observer
	q.mu.RUnlock()
	if fn != nil {
		fn(job)
	}
}
