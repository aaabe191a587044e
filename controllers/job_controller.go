package controllers

import (
	"net/http"
	"strconv"

	"seller_agent_backend/middleware"
	"seller_agent_backend/models"
	"seller_agent_backend/services/jobqueue"

	"github.com/gin-gonic/gin"
)

// JobController handles job queue endpoints
type JobController struct {
	queue *jobqueue.Queue
}

// NewJobController creates a new job controller
func NewJobController(queue *jobqueue.Queue) *JobController {
	return &JobController{queue: queue}
}

// EnqueueRequest is the body for creating a job
type EnqueueRequest struct {
	Type       string                 `json:"type" binding:"required"`
	Payload    map[string]interface{} `json:"payload"`
	TotalItems int                    `json:"total_items"`
}

// EnqueueJob creates a pending job
// POST /api/v1/jobs
func (ctrl *JobController) EnqueueJob(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := ctrl.queue.Enqueue(req.Type, req.Payload, req.TotalItems, middleware.UserID(c))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": models.JobStatusPending,
	})
}

// GetJobs lists the caller's jobs, newest first
// GET /api/v1/jobs?status=&limit=
func (ctrl *JobController) GetJobs(c *gin.Context) {
	status := c.Query("status")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	jobs := ctrl.queue.GetJobs(middleware.UserID(c), status, limit)
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// GetJob returns one job with its per-item errors
// GET /api/v1/jobs/:id
func (ctrl *JobController) GetJob(c *gin.Context) {
	job := ctrl.queue.GetJob(c.Param("id"))
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":    job,
		"errors": job.ItemErrors(),
	})
}

// CancelJob cancels a pending or running job
// POST /api/v1/jobs/:id/cancel
func (ctrl *JobController) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if !ctrl.queue.CancelJob(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "Job not found or already finished"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": id,
		"status": models.JobStatusCancelled,
	})
}
