package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Pricing strategy identifiers
const (
	StrategyMatchLowest  = "match_lowest"
	StrategyBeatLowest   = "beat_lowest"
	StrategyCompetitive  = "competitive"
	StrategyTargetMargin = "target_margin"
	StrategyMarginTarget = "margin_target"
	StrategyVelocity     = "velocity"
	StrategyTimeDecay    = "time_decay"
	StrategyCostPlus     = "cost_plus"
)

// PricingRule binds a pricing strategy to one listing
type PricingRule struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	ListingID     string     `gorm:"index" json:"listing_id"`
	Strategy      string     `json:"strategy"`
	Params        string     `gorm:"type:text" json:"-"` // JSON-encoded RuleParams
	MinPrice      float64    `json:"min_price"`
	MaxPrice      float64    `json:"max_price"`
	Enabled       bool       `json:"enabled"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	RunIntervalMs int64      `json:"run_interval_ms"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RuleParams holds the per-strategy tuning knobs. Fields are pointers so a
// rule only carries the knobs its strategy reads; validation happens at rule
// creation, not at evaluation.
type RuleParams struct {
	// beat_lowest / competitive
	BeatByAmount  *float64 `json:"beat_by_amount,omitempty"`
	BeatByPercent *float64 `json:"beat_by_percent,omitempty"`
	// competitive: lowest competitor total observed on the previous run
	LastCompetitorTotal *float64 `json:"last_competitor_total,omitempty"`

	// target_margin / margin_target / cost_plus
	COGS            *float64 `json:"cogs,omitempty"`
	TargetMarginPct *float64 `json:"target_margin_pct,omitempty"`
	FeePct          *float64 `json:"fee_pct,omitempty"`
	FixedMarkup     *float64 `json:"fixed_markup,omitempty"`
	MarkupPct       *float64 `json:"markup_pct,omitempty"`

	// velocity
	StalePct      *float64 `json:"stale_pct,omitempty"`
	SlowPct       *float64 `json:"slow_pct,omitempty"`
	FastPct       *float64 `json:"fast_pct,omitempty"`
	FastThreshold *float64 `json:"fast_threshold,omitempty"`

	// time_decay
	InitialPrice   *float64 `json:"initial_price,omitempty"`
	FloorPrice     *float64 `json:"floor_price,omitempty"`
	DecayPctPerDay *float64 `json:"decay_pct_per_day,omitempty"`
	DecayMode      string   `json:"decay_mode,omitempty"` // linear (default) or exponential
}

// DecodedParams parses the params column, degrading to zero params on bad data
func (r *PricingRule) DecodedParams() RuleParams {
	var p RuleParams
	if r.Params == "" {
		return p
	}
	if err := json.Unmarshal([]byte(r.Params), &p); err != nil {
		return RuleParams{}
	}
	return p
}

// SetParams serializes params into the params column
func (r *PricingRule) SetParams(p RuleParams) {
	data, err := json.Marshal(p)
	if err != nil {
		r.Params = ""
		return
	}
	r.Params = string(data)
}

// KnownStrategy reports whether s names a supported strategy
func KnownStrategy(s string) bool {
	switch s {
	case StrategyMatchLowest, StrategyBeatLowest, StrategyCompetitive,
		StrategyTargetMargin, StrategyMarginTarget, StrategyVelocity,
		StrategyTimeDecay, StrategyCostPlus:
		return true
	}
	return false
}

// MigratePricingModels runs database migrations for pricing models
func MigratePricingModels(db *gorm.DB) error {
	return db.AutoMigrate(&PricingRule{})
}
