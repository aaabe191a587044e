package models

import (
	"encoding/json"
	"math"
	"time"

	"gorm.io/gorm"
)

// Job types processed by the work callback
const (
	JobTypeRepricingCycle  = "repricing_cycle"
	JobTypeBulkPriceUpdate = "bulk_price_update"
	JobTypeBulkPause       = "bulk_pause"
	JobTypeBulkResume      = "bulk_resume"
	JobTypeBulkDelete      = "bulk_delete"
)

// Valid statuses for a job
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Job represents a unit of deferred batch work tracked through a status lifecycle
type Job struct {
	ID             string     `gorm:"primaryKey" json:"id"`
	UserID         string     `gorm:"index" json:"user_id"`
	Type           string     `json:"type"`
	Status         string     `gorm:"index" json:"status"`
	Payload        string     `gorm:"type:text" json:"payload"` // opaque JSON, parsed best-effort
	Result         string     `gorm:"type:text" json:"result"`
	Progress       int        `json:"progress"` // 0-100
	TotalItems     int        `json:"total_items"`
	CompletedItems int        `json:"completed_items"`
	FailedItems    int        `json:"failed_items"`
	Errors         string     `gorm:"type:text" json:"-"` // JSON array of ItemError
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ItemError records the failure of a single item within a batch
type ItemError struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// IsTerminal reports whether the job can no longer change state
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// DecodedPayload parses the payload column. A malformed payload degrades to
// an empty map rather than an error.
func (j *Job) DecodedPayload() map[string]interface{} {
	out := map[string]interface{}{}
	if j.Payload == "" {
		return out
	}
	if err := json.Unmarshal([]byte(j.Payload), &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

// ItemErrors parses the errors column, degrading to empty on bad data
func (j *Job) ItemErrors() []ItemError {
	if j.Errors == "" {
		return nil
	}
	var out []ItemError
	if err := json.Unmarshal([]byte(j.Errors), &out); err != nil {
		return nil
	}
	return out
}

// SetItemErrors serializes per-item errors into the errors column
func (j *Job) SetItemErrors(errs []ItemError) {
	if len(errs) == 0 {
		j.Errors = ""
		return
	}
	data, err := json.Marshal(errs)
	if err != nil {
		j.Errors = ""
		return
	}
	j.Errors = string(data)
}

// RecomputeProgress derives progress from the item counters
func (j *Job) RecomputeProgress() {
	if j.TotalItems <= 0 {
		j.Progress = 0
		return
	}
	j.Progress = int(math.Round(float64(j.CompletedItems+j.FailedItems) / float64(j.TotalItems) * 100))
}

// EncodePayload marshals an arbitrary payload into the payload column format
func EncodePayload(payload map[string]interface{}) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}

// MigrateJobModels runs database migrations for job models
func MigrateJobModels(db *gorm.DB) error {
	return db.AutoMigrate(&Job{})
}
