package listingdata

import (
	"errors"
	"fmt"
	"log"
	"time"

	"seller_agent_backend/models"

	"gorm.io/gorm"
)

// Store serves the listing, competitor-quote and sales-velocity feeds the
// pricing core consumes, backed by the durable store.
type Store struct {
	db *gorm.DB
}

// NewStore creates a new listing feed store
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetListing returns the listing with the given id, or nil if absent
func (s *Store) GetListing(id string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.Where("id = ?", id).First(&listing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load listing %s: %w", id, err)
	}
	return &listing, nil
}

// GetListings returns listings filtered by platform and/or category.
// Empty filter values match everything.
func (s *Store) GetListings(platform, category string, limit int) ([]models.Listing, error) {
	query := s.db.Model(&models.Listing{})
	if platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var listings []models.Listing
	if err := query.Order("created_at DESC").Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to load listings: %w", err)
	}
	return listings, nil
}

// UpdatePrice writes a new price for a listing
func (s *Store) UpdatePrice(id string, price float64) error {
	res := s.db.Model(&models.Listing{}).Where("id = ?", id).
		Updates(map[string]interface{}{"price": price, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update price for listing %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("listing %s not found", id)
	}
	return nil
}

// UpdateStatus writes a new status for a listing
func (s *Store) UpdateStatus(id string, status string) error {
	res := s.db.Model(&models.Listing{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update status for listing %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("listing %s not found", id)
	}
	return nil
}

// CompetitorPrices returns the observed competitor quotes for a listing
func (s *Store) CompetitorPrices(listingID string) ([]models.CompetitorQuote, error) {
	var quotes []models.CompetitorQuote
	err := s.db.Where("listing_id = ?", listingID).
		Order("observed_at DESC").Find(&quotes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load competitor quotes for %s: %w", listingID, err)
	}
	return quotes, nil
}

// SalesVelocity returns the sell-through summary for a listing, or nil if
// no velocity data has been recorded yet
func (s *Store) SalesVelocity(listingID string) (*models.SalesVelocity, error) {
	var v models.SalesVelocity
	err := s.db.Where("listing_id = ?", listingID).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sales velocity for %s: %w", listingID, err)
	}
	return &v, nil
}

// RecordCompetitorQuote appends a competitor observation to the feed
func (s *Store) RecordCompetitorQuote(q *models.CompetitorQuote) error {
	if q.ObservedAt.IsZero() {
		q.ObservedAt = time.Now()
	}
	if err := s.db.Create(q).Error; err != nil {
		log.Printf("Error recording competitor quote for %s: %v", q.ListingID, err)
		return err
	}
	return nil
}
