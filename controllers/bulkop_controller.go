package controllers

import (
	"net/http"
	"strconv"

	"seller_agent_backend/middleware"
	"seller_agent_backend/models"
	"seller_agent_backend/services/bulkops"
	"seller_agent_backend/services/jobqueue"

	"github.com/gin-gonic/gin"
)

// BulkOpController enqueues bulk mutations as jobs and serves the resulting
// operation records
type BulkOpController struct {
	queue    *jobqueue.Queue
	executor *bulkops.Executor
}

// NewBulkOpController creates a new bulk operation controller
func NewBulkOpController(queue *jobqueue.Queue, executor *bulkops.Executor) *BulkOpController {
	return &BulkOpController{queue: queue, executor: executor}
}

// BulkRequest is the shared body for bulk mutations
type BulkRequest struct {
	ListingIDs []string `json:"listing_ids"`
	Platform   string   `json:"platform"`
	Category   string   `json:"category"`
	NewPrice   *float64 `json:"new_price"`
	ChangePct  *float64 `json:"change_pct"`
}

// BulkPause enqueues a bulk pause job
// POST /api/v1/bulk/pause
func (ctrl *BulkOpController) BulkPause(c *gin.Context) {
	ctrl.enqueueBulk(c, models.JobTypeBulkPause)
}

// BulkResume enqueues a bulk resume job
// POST /api/v1/bulk/resume
func (ctrl *BulkOpController) BulkResume(c *gin.Context) {
	ctrl.enqueueBulk(c, models.JobTypeBulkResume)
}

// BulkDelete enqueues a bulk delete job
// POST /api/v1/bulk/delete
func (ctrl *BulkOpController) BulkDelete(c *gin.Context) {
	ctrl.enqueueBulk(c, models.JobTypeBulkDelete)
}

// BulkPriceUpdate enqueues a bulk price update job
// POST /api/v1/bulk/price-update
func (ctrl *BulkOpController) BulkPriceUpdate(c *gin.Context) {
	ctrl.enqueueBulk(c, models.JobTypeBulkPriceUpdate)
}

func (ctrl *BulkOpController) enqueueBulk(c *gin.Context, jobType string) {
	var req BulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.ListingIDs) == 0 && req.Platform == "" && req.Category == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing_ids or a platform/category filter is required"})
		return
	}
	if jobType == models.JobTypeBulkPriceUpdate && req.NewPrice == nil && req.ChangePct == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "new_price or change_pct is required"})
		return
	}

	payload := map[string]interface{}{
		"platform": req.Platform,
		"category": req.Category,
	}
	if len(req.ListingIDs) > 0 {
		ids := make([]interface{}, len(req.ListingIDs))
		for i, id := range req.ListingIDs {
			ids[i] = id
		}
		payload["listing_ids"] = ids
	}
	if req.NewPrice != nil {
		payload["new_price"] = *req.NewPrice
	}
	if req.ChangePct != nil {
		payload["change_pct"] = *req.ChangePct
	}

	jobID, err := ctrl.queue.Enqueue(jobType, payload, len(req.ListingIDs), middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
}

// GetOperations lists the caller's bulk operations, newest first
// GET /api/v1/bulk-operations?limit=
func (ctrl *BulkOpController) GetOperations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	ops := ctrl.executor.GetOperations(middleware.UserID(c), limit)
	c.JSON(http.StatusOK, gin.H{
		"operations": ops,
		"count":      len(ops),
	})
}

// GetOperation returns one bulk operation with its per-item errors
// GET /api/v1/bulk-operations/:id
func (ctrl *BulkOpController) GetOperation(c *gin.Context) {
	op := ctrl.executor.GetOperation(c.Param("id"))
	if op == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bulk operation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"operation": op,
		"errors":    op.ItemErrors(),
	})
}
