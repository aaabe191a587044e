package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Bulk operation types
const (
	BulkOpPause       = "pause"
	BulkOpResume      = "resume"
	BulkOpDelete      = "delete"
	BulkOpPriceUpdate = "price_update"
)

// Bulk operation statuses
const (
	BulkOpStatusRunning   = "running"
	BulkOpStatusCompleted = "completed"
	BulkOpStatusFailed    = "failed"
)

// BulkOperation tracks a batch mutation across many listings
type BulkOperation struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	UserID      string     `gorm:"index" json:"user_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Total       int        `json:"total"`
	Completed   int        `json:"completed"`
	Failed      int        `json:"failed"`
	Errors      string     `gorm:"type:text" json:"-"` // JSON array of ItemError
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ItemErrors parses the errors column, degrading to empty on bad data
func (op *BulkOperation) ItemErrors() []ItemError {
	if op.Errors == "" {
		return nil
	}
	var out []ItemError
	if err := json.Unmarshal([]byte(op.Errors), &out); err != nil {
		return nil
	}
	return out
}

// SetItemErrors serializes per-item errors into the errors column
func (op *BulkOperation) SetItemErrors(errs []ItemError) {
	if len(errs) == 0 {
		op.Errors = ""
		return
	}
	data, err := json.Marshal(errs)
	if err != nil {
		op.Errors = ""
		return
	}
	op.Errors = string(data)
}

// Finalize derives the terminal status from the item counters.
// The operation failed only when nothing completed and something failed.
func (op *BulkOperation) Finalize(now time.Time) {
	if op.Completed == 0 && op.Failed > 0 {
		op.Status = BulkOpStatusFailed
	} else {
		op.Status = BulkOpStatusCompleted
	}
	op.CompletedAt = &now
}

// MigrateBulkOperationModels runs database migrations for bulk operation models
func MigrateBulkOperationModels(db *gorm.DB) error {
	return db.AutoMigrate(&BulkOperation{})
}
