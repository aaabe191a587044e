package jobqueue

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"seller_agent_backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigrateJobModels(db))
	return db
}

func waitForStatus(t *testing.T, q *Queue, id, status string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if job := q.GetJob(id); job != nil && job.Status == status {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", id, status)
	return nil
}

func TestEnqueueCreatesPendingJob(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)

	id, err := q.Enqueue(models.JobTypeBulkPause, map[string]interface{}{"platform": "ebay"}, 5, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := q.GetJob(id)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 5, job.TotalItems)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, "ebay", job.DecodedPayload()["platform"])

	// also durable
	var stored models.Job
	require.NoError(t, q.db.Where("id = ?", id).First(&stored).Error)
	assert.Equal(t, models.JobStatusPending, stored.Status)
}

func TestEnqueueValidation(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)

	_, err := q.Enqueue("", nil, 0, "user-1")
	assert.Error(t, err)

	_, err = q.Enqueue(models.JobTypeBulkPause, nil, -1, "user-1")
	assert.Error(t, err)
}

func TestProgressFormula(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 10, "user-1")

	q.UpdateProgress(id, 3, 2, []models.ItemError{{ItemID: "l1", Message: "not found"}})

	job := q.GetJob(id)
	assert.Equal(t, 50, job.Progress)
	assert.Equal(t, 3, job.CompletedItems)
	assert.Equal(t, 2, job.FailedItems)
	assert.LessOrEqual(t, job.CompletedItems+job.FailedItems, job.TotalItems)
	require.Len(t, job.ItemErrors(), 1)
	assert.Equal(t, "l1", job.ItemErrors()[0].ItemID)

	// rounding
	q.UpdateProgress(id, 3, 4, nil)
	assert.Equal(t, 70, q.GetJob(id).Progress)
}

func TestProgressRejectsCounterOverflow(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 10, "user-1")

	q.UpdateProgress(id, 5, 0, nil)
	q.UpdateProgress(id, 8, 5, nil) // would exceed total

	job := q.GetJob(id)
	assert.Equal(t, 5, job.CompletedItems)
	assert.Equal(t, 0, job.FailedItems)
	assert.Equal(t, 50, job.Progress)
}

func TestZeroTotalItemsProgress(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeRepricingCycle, nil, 0, "user-1")

	q.UpdateProgress(id, 0, 0, nil)
	assert.Equal(t, 0, q.GetJob(id).Progress)

	// counters can never run ahead of a zero total
	q.UpdateProgress(id, 2, 0, nil)
	job := q.GetJob(id)
	assert.Equal(t, 0, job.CompletedItems)
	assert.LessOrEqual(t, job.CompletedItems+job.FailedItems, job.TotalItems)
}

func TestSetTotalItemsAfterResolution(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeBulkPause, map[string]interface{}{"platform": "ebay"}, 0, "user-1")

	q.SetTotalItems(id, 4)

	job := q.GetJob(id)
	assert.Equal(t, 4, job.TotalItems)

	q.UpdateProgress(id, 2, 0, nil)
	job = q.GetJob(id)
	assert.Equal(t, 2, job.CompletedItems)
	assert.Equal(t, 50, job.Progress)

	// durable as well
	var stored models.Job
	require.NoError(t, q.db.Where("id = ?", id).First(&stored).Error)
	assert.Equal(t, 4, stored.TotalItems)
}

func TestSetTotalItemsRejectsInvalidValues(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 10, "user-1")
	q.UpdateProgress(id, 3, 2, nil)

	q.SetTotalItems(id, -1)
	assert.Equal(t, 10, q.GetJob(id).TotalItems)

	// cannot shrink below the counters already reported
	q.SetTotalItems(id, 4)
	assert.Equal(t, 10, q.GetJob(id).TotalItems)

	q.MarkRunning(id)
	q.MarkFinished(id, models.JobStatusCompleted, "")
	q.SetTotalItems(id, 20)
	assert.Equal(t, 10, q.GetJob(id).TotalItems)
}

func TestNextPendingIsFIFO(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)

	a, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	time.Sleep(5 * time.Millisecond)
	b, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")

	next := q.NextPending()
	require.NotNil(t, next)
	assert.Equal(t, a, next.ID)

	// A finishes; B is next
	q.MarkRunning(a)
	q.MarkFinished(a, models.JobStatusCompleted, "")
	next = q.NextPending()
	require.NotNil(t, next)
	assert.Equal(t, b, next.ID)
}

func TestTerminalStateIsAbsorbing(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")

	q.MarkRunning(id)
	q.MarkFinished(id, models.JobStatusCompleted, "done")

	job := q.GetJob(id)
	require.Equal(t, models.JobStatusCompleted, job.Status)

	// a second finish changes nothing
	q.MarkFinished(id, models.JobStatusFailed, "late failure")
	job = q.GetJob(id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "done", job.Result)

	// progress writes are no-ops on terminal jobs
	q.UpdateProgress(id, 1, 0, nil)
	assert.Equal(t, 0, q.GetJob(id).CompletedItems)

	// cancel returns the documented sentinel
	assert.False(t, q.CancelJob(id))
}

func TestCancelPendingJob(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)
	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")

	assert.True(t, q.CancelJob(id))

	// evicted from mirror, served from store
	job := q.GetJob(id)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	require.NotNil(t, job.CompletedAt)

	assert.False(t, q.CancelJob(id))
	assert.False(t, q.CancelJob("no-such-job"))
	assert.True(t, q.IsCancelled(id))
}

func TestRestartRecovery(t *testing.T) {
	db := newTestDB(t)
	q1 := NewQueue(db, nil)

	id, _ := q1.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	q1.MarkRunning(id)
	require.Equal(t, models.JobStatusRunning, q1.GetJob(id).Status)

	// a fresh instance over the same store observes the interrupted job
	// back in pending with its start time cleared
	q2 := NewQueue(db, nil)
	require.NoError(t, q2.Start())
	defer q2.Stop()

	job := q2.GetJob(id)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Nil(t, job.StartedAt)
}

func TestQueueProcessesJobsInOrder(t *testing.T) {
	db := newTestDB(t)

	var mu sync.Mutex
	var seen []string
	var q *Queue
	q = NewQueue(db, func(job *models.Job) {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		q.MarkFinished(job.ID, models.JobStatusCompleted, "")
	})
	q.SetPollInterval(50 * time.Millisecond)

	a, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	time.Sleep(5 * time.Millisecond)
	b, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")

	require.NoError(t, q.Start())
	defer q.Stop()

	waitForStatus(t, q, a, models.JobStatusCompleted)
	waitForStatus(t, q, b, models.JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{a, b}, seen)
}

func TestWorkCallbackPanicFailsJob(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, func(job *models.Job) {
		panic("boom")
	})
	q.SetPollInterval(50 * time.Millisecond)
	require.NoError(t, q.Start())
	defer q.Stop()

	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	job := waitForStatus(t, q, id, models.JobStatusFailed)
	assert.Contains(t, job.Result, "boom")

	// the queue survives and keeps processing
	id2, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	waitForStatus(t, q, id2, models.JobStatusFailed)
}

func TestCallbackReturningWithoutFinishCompletes(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, func(job *models.Job) {})
	q.SetPollInterval(50 * time.Millisecond)
	require.NoError(t, q.Start())
	defer q.Stop()

	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	waitForStatus(t, q, id, models.JobStatusCompleted)
}

func TestGetJobsNewestFirst(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)

	a, _ := q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-1")
	time.Sleep(5 * time.Millisecond)
	b, _ := q.Enqueue(models.JobTypeBulkResume, nil, 1, "user-1")
	q.Enqueue(models.JobTypeBulkPause, nil, 1, "user-2")

	jobs := q.GetJobs("user-1", "", 0)
	require.Len(t, jobs, 2)
	assert.Equal(t, b, jobs[0].ID)
	assert.Equal(t, a, jobs[1].ID)

	q.MarkRunning(a)
	running := q.GetJobs("user-1", models.JobStatusRunning, 0)
	require.Len(t, running, 1)
	assert.Equal(t, a, running[0].ID)
}

func TestObserverFiresOnTransitions(t *testing.T) {
	q := NewQueue(newTestDB(t), nil)

	var mu sync.Mutex
	var statuses []string
	q.SetObserver(func(job *models.Job) {
		mu.Lock()
		statuses = append(statuses, job.Status)
		mu.Unlock()
	})

	id, _ := q.Enqueue(models.JobTypeBulkPause, nil, 2, "user-1")
	q.MarkRunning(id)
	q.UpdateProgress(id, 1, 0, nil)
	q.MarkFinished(id, models.JobStatusCompleted, "")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		models.JobStatusRunning, models.JobStatusRunning, models.JobStatusCompleted,
	}, statuses)
}
