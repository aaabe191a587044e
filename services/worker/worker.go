package worker

import (
	"encoding/json"
	"fmt"
	"log"

	"seller_agent_backend/models"
	"seller_agent_backend/services/bulkops"
	"seller_agent_backend/services/jobqueue"
	"seller_agent_backend/services/pricing"
)

// Worker is the work callback registered with the job queue. It dispatches
// on job type into the pricing engine and the bulk executor, streaming
// per-item outcomes back into the job.
type Worker struct {
	queue    *jobqueue.Queue
	engine   *pricing.Engine
	executor *bulkops.Executor
}

// NewWorker creates a worker over the pricing engine and bulk executor.
// BindQueue must be called before the first job runs.
func NewWorker(engine *pricing.Engine, executor *bulkops.Executor) *Worker {
	return &Worker{engine: engine, executor: executor}
}

// BindQueue attaches the queue the worker reports progress to
func (w *Worker) BindQueue(q *jobqueue.Queue) {
	w.queue = q
}

// Handle performs one job. It is invoked by the queue with the in-flight
// slot held and finishes the job before returning.
func (w *Worker) Handle(job *models.Job) {
	log.Printf("Running job %s (%s)", job.ID, job.Type)

	switch job.Type {
	case models.JobTypeRepricingCycle:
		w.runRepricing(job)
	case models.JobTypeBulkPause:
		w.runBulk(job, func(ids []string, filter *bulkops.Filter, opts *bulkops.Options) (*models.BulkOperation, error) {
			return w.executor.PauseListings(job.UserID, ids, filter, opts)
		})
	case models.JobTypeBulkResume:
		w.runBulk(job, func(ids []string, filter *bulkops.Filter, opts *bulkops.Options) (*models.BulkOperation, error) {
			return w.executor.ResumeListings(job.UserID, ids, filter, opts)
		})
	case models.JobTypeBulkDelete:
		w.runBulk(job, func(ids []string, filter *bulkops.Filter, opts *bulkops.Options) (*models.BulkOperation, error) {
			return w.executor.DeleteListings(job.UserID, ids, filter, opts)
		})
	case models.JobTypeBulkPriceUpdate:
		update := decodePriceUpdate(job.DecodedPayload())
		w.runBulk(job, func(ids []string, filter *bulkops.Filter, opts *bulkops.Options) (*models.BulkOperation, error) {
			return w.executor.UpdatePrices(job.UserID, ids, filter, update, opts)
		})
	default:
		w.queue.MarkFinished(job.ID, models.JobStatusFailed, fmt.Sprintf("unknown job type %q", job.Type))
	}
}

// runRepricing evaluates pricing rules: one rule when the payload names it,
// otherwise every due rule
func (w *Worker) runRepricing(job *models.Job) {
	payload := job.DecodedPayload()

	var results []pricing.Result
	if ruleID, ok := payload["rule_id"].(string); ok && ruleID != "" {
		results = []pricing.Result{w.engine.RunRule(ruleID)}
	} else {
		results = w.engine.RunAll()
	}

	applied := 0
	for _, res := range results {
		if res.Applied {
			applied++
		}
	}

	summary, _ := json.Marshal(map[string]int{
		"evaluated": len(results),
		"applied":   applied,
	})
	w.queue.MarkFinished(job.ID, models.JobStatusCompleted, string(summary))
}

// runBulk executes one bulk operation, wiring its item loop into job
// progress and cooperative cancellation
func (w *Worker) runBulk(job *models.Job, exec func([]string, *bulkops.Filter, *bulkops.Options) (*models.BulkOperation, error)) {
	payload := job.DecodedPayload()
	ids := payloadStrings(payload, "listing_ids")
	filter := &bulkops.Filter{
		Platform: payloadString(payload, "platform"),
		Category: payloadString(payload, "category"),
	}

	opts := &bulkops.Options{
		// Filter-targeted jobs are enqueued with a zero total; the real
		// count is known only once the executor resolves the target set.
		OnResolved: func(total int) {
			w.queue.SetTotalItems(job.ID, total)
		},
		OnProgress: func(completed, failed int, errs []models.ItemError) {
			w.queue.UpdateProgress(job.ID, completed, failed, errs)
		},
		Cancelled: func() bool {
			return w.queue.IsCancelled(job.ID)
		},
	}

	op, err := exec(ids, filter, opts)
	if err != nil {
		w.queue.MarkFinished(job.ID, models.JobStatusFailed, err.Error())
		return
	}

	result, _ := json.Marshal(map[string]interface{}{
		"bulk_operation_id": op.ID,
		"total":             op.Total,
		"completed":         op.Completed,
		"failed":            op.Failed,
	})
	status := models.JobStatusCompleted
	if op.Status == models.BulkOpStatusFailed {
		status = models.JobStatusFailed
	}
	w.queue.MarkFinished(job.ID, status, string(result))
}

func decodePriceUpdate(payload map[string]interface{}) bulkops.PriceUpdate {
	var update bulkops.PriceUpdate
	if v, ok := payload["new_price"].(float64); ok {
		update.NewPrice = &v
	}
	if v, ok := payload["change_pct"].(float64); ok {
		update.ChangePct = &v
	}
	return update
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadStrings(payload map[string]interface{}, key string) []string {
	raw, ok := payload[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
