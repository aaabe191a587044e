package models

import (
	"time"

	"gorm.io/gorm"
)

// Listing statuses
const (
	ListingStatusActive  = "active"
	ListingStatusPaused  = "paused"
	ListingStatusDeleted = "deleted"
)

// Listing is a sellable unit whose price and status the pricing core
// recommends changes for. The surrounding platform adapters own the upstream
// copy; this table is the feed the core reads and writes.
type Listing struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	SourcePrice float64   `json:"source_price"`
	Platform    string    `gorm:"index" json:"platform"`
	Category    string    `gorm:"index" json:"category"`
	Status      string    `gorm:"index" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CompetitorQuote is one observed competitor offer for a listing
type CompetitorQuote struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ListingID  string    `gorm:"index" json:"listing_id"`
	Price      float64   `json:"price"`
	Shipping   float64   `json:"shipping"`
	Platform   string    `json:"platform"`
	ObservedAt time.Time `json:"observed_at"`
}

// Total is the landed price the buyer compares on
func (q CompetitorQuote) Total() float64 {
	return q.Price + q.Shipping
}

// SalesVelocity summarizes recent sell-through for a listing
type SalesVelocity struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	ListingID       string `gorm:"uniqueIndex" json:"listing_id"`
	DaysOnMarket    int    `json:"days_on_market"`
	TotalSales      int    `json:"total_sales"`
	SalesLast7Days  int    `json:"sales_last_7_days"`
	SalesLast14Days int    `json:"sales_last_14_days"`
}

// DailySellRate is average sales per day on market
func (v SalesVelocity) DailySellRate() float64 {
	days := v.DaysOnMarket
	if days < 1 {
		days = 1
	}
	return float64(v.TotalSales) / float64(days)
}

// MigrateListingModels runs database migrations for listing feed models
func MigrateListingModels(db *gorm.DB) error {
	return db.AutoMigrate(&Listing{}, &CompetitorQuote{}, &SalesVelocity{})
}
