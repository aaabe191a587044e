package bulkops

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"seller_agent_backend/models"
	"seller_agent_backend/services/listingdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Filter selects listings by platform and/or category when no explicit ids
// are given
type Filter struct {
	Platform string `json:"platform,omitempty"`
	Category string `json:"category,omitempty"`
}

func (f *Filter) empty() bool {
	return f == nil || (f.Platform == "" && f.Category == "")
}

// PriceUpdate describes the bulk price mutation: either a fixed new price or
// a percentage applied to each listing's current price
type PriceUpdate struct {
	NewPrice  *float64 `json:"new_price,omitempty"`
	ChangePct *float64 `json:"change_pct,omitempty"`
}

// Options hook a caller into the item loop
type Options struct {
	// OnResolved fires once with the size of the resolved target set,
	// before the first item is touched
	OnResolved func(total int)
	// OnProgress fires after every item with the running counters
	OnProgress func(completed, failed int, errs []models.ItemError)
	// Cancelled is polled between items; when it returns true the loop stops
	Cancelled func() bool
}

// Executor applies batch mutations across listings, one BulkOperation record
// per call with per-item outcome tracking. One item's failure never aborts
// the batch.
type Executor struct {
	db       *gorm.DB
	listings *listingdata.Store
}

// NewExecutor creates a bulk operation executor
func NewExecutor(db *gorm.DB, listings *listingdata.Store) *Executor {
	return &Executor{db: db, listings: listings}
}

// ResolveListingIds resolves the target set: explicit ids win; otherwise the
// filter is queried. No ids and no filter resolves to nothing; an absent
// filter is never "all listings".
func (e *Executor) ResolveListingIds(ids []string, filter *Filter) []string {
	if len(ids) > 0 {
		return ids
	}
	if filter.empty() {
		return nil
	}

	listings, err := e.listings.GetListings(filter.Platform, filter.Category, 0)
	if err != nil {
		log.Printf("Error resolving listings by filter: %v", err)
		return nil
	}
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		out = append(out, l.ID)
	}
	return out
}

// PauseListings pauses the resolved listings. Pausing an already-paused
// listing is an idempotent success; a deleted listing is a per-item failure.
func (e *Executor) PauseListings(userID string, ids []string, filter *Filter, opts *Options) (*models.BulkOperation, error) {
	return e.run(userID, models.BulkOpPause, ids, filter, opts, func(l *models.Listing) error {
		switch l.Status {
		case models.ListingStatusPaused:
			return nil // already paused, nothing to write
		case models.ListingStatusDeleted:
			return errors.New("cannot pause a deleted listing")
		}
		return e.listings.UpdateStatus(l.ID, models.ListingStatusPaused)
	})
}

// ResumeListings reactivates paused listings. Resuming an active listing is
// an idempotent success; a deleted listing cannot be resumed.
func (e *Executor) ResumeListings(userID string, ids []string, filter *Filter, opts *Options) (*models.BulkOperation, error) {
	return e.run(userID, models.BulkOpResume, ids, filter, opts, func(l *models.Listing) error {
		switch l.Status {
		case models.ListingStatusActive:
			return nil
		case models.ListingStatusDeleted:
			return errors.New("cannot resume a deleted listing")
		}
		return e.listings.UpdateStatus(l.ID, models.ListingStatusActive)
	})
}

// DeleteListings soft-deletes the resolved listings. Deleting an
// already-deleted listing is an idempotent success.
func (e *Executor) DeleteListings(userID string, ids []string, filter *Filter, opts *Options) (*models.BulkOperation, error) {
	return e.run(userID, models.BulkOpDelete, ids, filter, opts, func(l *models.Listing) error {
		if l.Status == models.ListingStatusDeleted {
			return nil
		}
		return e.listings.UpdateStatus(l.ID, models.ListingStatusDeleted)
	})
}

// UpdatePrices applies a fixed or percentage price change. Percentage
// updates re-read each listing's current price; an item whose computed price
// is not finite and positive is recorded as a failure and never written.
func (e *Executor) UpdatePrices(userID string, ids []string, filter *Filter, update PriceUpdate, opts *Options) (*models.BulkOperation, error) {
	if update.NewPrice == nil && update.ChangePct == nil {
		return nil, errors.New("price update needs a new price or a change percent")
	}
	if update.NewPrice != nil && (!isFinite(*update.NewPrice) || *update.NewPrice <= 0) {
		return nil, fmt.Errorf("new price %.2f must be positive", *update.NewPrice)
	}

	return e.run(userID, models.BulkOpPriceUpdate, ids, filter, opts, func(l *models.Listing) error {
		target := 0.0
		if update.NewPrice != nil {
			target = *update.NewPrice
		} else {
			pct := decimal.NewFromFloat(*update.ChangePct)
			current := decimal.NewFromFloat(l.Price)
			computed := current.Mul(decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100))))
			target, _ = computed.Round(2).Float64()
		}
		if !isFinite(target) || target <= 0 {
			return fmt.Errorf("computed price %.2f is not positive", target)
		}
		return e.listings.UpdatePrice(l.ID, target)
	})
}

// GetOperation returns one bulk operation record, or nil when unknown
func (e *Executor) GetOperation(id string) *models.BulkOperation {
	var op models.BulkOperation
	err := e.db.Where("id = ?", id).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		log.Printf("Error loading bulk operation %s: %v", id, err)
		return nil
	}
	return &op
}

// GetOperations returns a user's bulk operations newest-first
func (e *Executor) GetOperations(userID string, limit int) []models.BulkOperation {
	if limit <= 0 {
		limit = 50
	}
	var ops []models.BulkOperation
	err := e.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&ops).Error
	if err != nil {
		log.Printf("Error listing bulk operations for user %s: %v", userID, err)
		return nil
	}
	return ops
}

// run is the shared item loop: resolve targets, create the operation record,
// mutate item by item, finalize from the counters
func (e *Executor) run(userID, opType string, ids []string, filter *Filter, opts *Options, mutate func(*models.Listing) error) (*models.BulkOperation, error) {
	resolved := e.ResolveListingIds(ids, filter)

	op := &models.BulkOperation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      opType,
		Status:    models.BulkOpStatusRunning,
		Total:     len(resolved),
		CreatedAt: time.Now(),
	}
	if err := e.db.Create(op).Error; err != nil {
		return nil, fmt.Errorf("failed to create bulk operation: %w", err)
	}

	if opts != nil && opts.OnResolved != nil {
		opts.OnResolved(op.Total)
	}

	var itemErrors []models.ItemError
	for _, id := range resolved {
		if opts != nil && opts.Cancelled != nil && opts.Cancelled() {
			log.Printf("Bulk operation %s stopped after cancellation (%d/%d items)",
				op.ID, op.Completed+op.Failed, op.Total)
			break
		}

		listing, err := e.listings.GetListing(id)
		if err == nil && listing == nil {
			err = errors.New("listing not found")
		}
		if err == nil {
			err = mutate(listing)
		}

		if err != nil {
			op.Failed++
			itemErrors = append(itemErrors, models.ItemError{ItemID: id, Message: err.Error()})
		} else {
			op.Completed++
		}

		if opts != nil && opts.OnProgress != nil {
			opts.OnProgress(op.Completed, op.Failed, itemErrors)
		}
	}

	op.SetItemErrors(itemErrors)
	op.Finalize(time.Now())
	e.persist(op)
	return op, nil
}

func (e *Executor) persist(op *models.BulkOperation) {
	updates := map[string]interface{}{
		"status":       op.Status,
		"completed":    op.Completed,
		"failed":       op.Failed,
		"errors":       op.Errors,
		"completed_at": op.CompletedAt,
	}
	if err := e.db.Model(&models.BulkOperation{}).Where("id = ?", op.ID).Updates(updates).Error; err != nil {
		log.Printf("Error persisting bulk operation %s: %v", op.ID, err)
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
