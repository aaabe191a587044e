package pricing

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"seller_agent_backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MinRunInterval is the floor on how often a rule may be evaluated
const MinRunInterval = 60 * time.Second

// anomalyChangePct flags single-cycle moves larger than this share of the
// prior price. Anomalies are logged, not blocked.
const anomalyChangePct = 5.0

// ListingProvider looks up listing records
type ListingProvider interface {
	GetListing(id string) (*models.Listing, error)
}

// CompetitorFeed serves observed competitor quotes per listing
type CompetitorFeed interface {
	CompetitorPrices(listingID string) ([]models.CompetitorQuote, error)
}

// VelocityFeed serves sell-through summaries per listing
type VelocityFeed interface {
	SalesVelocity(listingID string) (*models.SalesVelocity, error)
}

// Result is the outcome of evaluating one rule against one listing.
// Results are ephemeral; consumers that want history subscribe via the
// price-change callback.
type Result struct {
	ListingID       string   `json:"listing_id"`
	RuleID          string   `json:"rule_id"`
	OldPrice        float64  `json:"old_price"`
	NewPrice        float64  `json:"new_price"`
	Reason          string   `json:"reason"`
	CompetitorPrice *float64 `json:"competitor_price,omitempty"`
	Applied         bool     `json:"applied"`
}

// PriceChangeFunc receives every applied price change
type PriceChangeFunc func(res Result)

// Engine evaluates per-listing pricing rules on a due-time schedule. Rules
// live in the pricing_rules table with an in-memory mirror kept in
// registration order; the store is authoritative and the mirror is rebuilt
// from it via LoadRules.
type Engine struct {
	db          *gorm.DB
	listings    ListingProvider
	competitors CompetitorFeed
	velocity    VelocityFeed

	mu            sync.RWMutex
	rules         map[string]*models.PricingRule
	order         []string
	onPriceChange PriceChangeFunc
}

// NewEngine creates a rule engine over the given data feeds
func NewEngine(db *gorm.DB, listings ListingProvider, competitors CompetitorFeed, velocity VelocityFeed) *Engine {
	return &Engine{
		db:          db,
		listings:    listings,
		competitors: competitors,
		velocity:    velocity,
		rules:       make(map[string]*models.PricingRule),
	}
}

// SetPriceChangeCallback registers the consumer of applied changes
func (e *Engine) SetPriceChangeCallback(fn PriceChangeFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onPriceChange = fn
}

// LoadRules rebuilds the rule mirror from the store, oldest rule first
func (e *Engine) LoadRules() error {
	var rules []models.PricingRule
	if err := e.db.Order("created_at ASC").Find(&rules).Error; err != nil {
		return fmt.Errorf("failed to load pricing rules: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]*models.PricingRule, len(rules))
	e.order = make([]string, 0, len(rules))
	for i := range rules {
		rule := &rules[i]
		e.applyIntervalFloor(rule)
		e.rules[rule.ID] = rule
		e.order = append(e.order, rule.ID)
	}
	log.Printf("Loaded %d pricing rule(s)", len(rules))
	return nil
}

// AddRule validates and registers a rule, persisting it to the store.
// Strategy parameters are validated here, not at each evaluation.
func (e *Engine) AddRule(rule *models.PricingRule) error {
	if rule == nil {
		return errors.New("rule is required")
	}
	if rule.ListingID == "" {
		return errors.New("listing id is required")
	}
	if !models.KnownStrategy(rule.Strategy) {
		return fmt.Errorf("unknown pricing strategy %q", rule.Strategy)
	}
	if rule.MaxPrice > 0 && rule.MinPrice > rule.MaxPrice {
		return fmt.Errorf("min price %.2f exceeds max price %.2f", rule.MinPrice, rule.MaxPrice)
	}
	if err := validateParams(rule.Strategy, rule.DecodedParams()); err != nil {
		return err
	}

	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	e.applyIntervalFloor(rule)

	if err := e.db.Create(rule).Error; err != nil {
		return fmt.Errorf("failed to persist pricing rule: %w", err)
	}

	e.mu.Lock()
	cp := *rule
	e.rules[rule.ID] = &cp
	e.order = append(e.order, rule.ID)
	e.mu.Unlock()
	return nil
}

// RemoveRule deletes a rule from the store and the mirror.
// Returns false when the rule is unknown.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	_, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	delete(e.rules, id)
	for i, rid := range e.order {
		if rid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if err := e.db.Where("id = ?", id).Delete(&models.PricingRule{}).Error; err != nil {
		log.Printf("Error deleting pricing rule %s: %v", id, err)
	}
	return true
}

// GetRules returns rules in registration order, optionally for one listing
func (e *Engine) GetRules(listingID string) []models.PricingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.PricingRule, 0, len(e.order))
	for _, id := range e.order {
		rule := e.rules[id]
		if listingID != "" && rule.ListingID != listingID {
			continue
		}
		out = append(out, *rule)
	}
	return out
}

// GetRule returns a copy of one rule, or nil when unknown
func (e *Engine) GetRule(id string) *models.PricingRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil
	}
	cp := *rule
	return &cp
}

// SetEnabled toggles a rule. Returns false when the rule is unknown.
func (e *Engine) SetEnabled(id string, enabled bool) bool {
	e.mu.Lock()
	rule, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	rule.Enabled = enabled
	e.persist(rule)
	e.mu.Unlock()
	return true
}

// RunAll evaluates every enabled rule that is due, in registration order.
// LastRun is stamped whether or not the evaluation produced a change.
func (e *Engine) RunAll() []Result {
	now := time.Now()

	e.mu.RLock()
	due := make([]string, 0, len(e.order))
	for _, id := range e.order {
		rule := e.rules[id]
		if !rule.Enabled {
			continue
		}
		if rule.LastRun != nil && now.Sub(*rule.LastRun) < time.Duration(rule.RunIntervalMs)*time.Millisecond {
			continue
		}
		due = append(due, id)
	}
	e.mu.RUnlock()

	results := make([]Result, 0, len(due))
	for _, id := range due {
		results = append(results, e.RunRule(id))
	}
	return results
}

// RunRule evaluates one rule on demand, ignoring due-time gating.
// It never fails: unknown rules and missing listings come back as no-op
// results with a diagnostic reason.
func (e *Engine) RunRule(id string) Result {
	e.mu.Lock()
	rule, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return Result{RuleID: id, Reason: "rule not found"}
	}
	now := time.Now()
	rule.LastRun = &now
	cp := *rule
	e.persist(rule)
	e.mu.Unlock()

	res := e.evaluate(&cp)

	if res.Applied {
		if res.OldPrice > 0 {
			changePct := math.Abs(res.NewPrice-res.OldPrice) / res.OldPrice * 100
			if changePct > anomalyChangePct {
				log.Printf("Anomalous price move for listing %s: %.2f -> %.2f (%.1f%%) via rule %s",
					res.ListingID, res.OldPrice, res.NewPrice, changePct, res.RuleID)
			}
		}
		e.mu.RLock()
		fn := e.onPriceChange
		e.mu.RUnlock()
		if fn != nil {
			fn(res)
		}
	}
	return res
}

// evaluate runs the strategy for a rule and clamps the outcome
func (e *Engine) evaluate(rule *models.PricingRule) Result {
	res := Result{ListingID: rule.ListingID, RuleID: rule.ID}

	listing, err := e.listings.GetListing(rule.ListingID)
	if err != nil {
		res.Reason = fmt.Sprintf("listing lookup failed: %v", err)
		return res
	}
	if listing == nil {
		res.Reason = "listing not found"
		return res
	}
	res.OldPrice = listing.Price
	res.NewPrice = listing.Price

	in := strategyInputs{
		listing: listing,
		params:  rule.DecodedParams(),
		now:     time.Now(),
	}
	switch rule.Strategy {
	case models.StrategyMatchLowest, models.StrategyBeatLowest, models.StrategyCompetitive:
		quotes, err := e.competitors.CompetitorPrices(rule.ListingID)
		if err != nil {
			res.Reason = fmt.Sprintf("competitor feed failed: %v", err)
			return res
		}
		in.quotes = quotes
	case models.StrategyVelocity:
		v, err := e.velocity.SalesVelocity(rule.ListingID)
		if err != nil {
			res.Reason = fmt.Sprintf("velocity feed failed: %v", err)
			return res
		}
		in.velocity = v
	}

	rec := evaluateStrategy(rule.Strategy, in)
	res.Reason = rec.reason
	res.CompetitorPrice = rec.competitor

	// competitive tracks the lowest observed total between runs
	if rule.Strategy == models.StrategyCompetitive && rec.competitor != nil {
		e.rememberCompetitorTotal(rule.ID, *rec.competitor)
	}

	if rec.noChange {
		return res
	}

	res.NewPrice = clampAndRound(rec.price, rule.MinPrice, rule.MaxPrice)
	res.Applied = math.Abs(res.NewPrice-res.OldPrice) > PriceEpsilon
	return res
}

// rememberCompetitorTotal stores the last seen lowest competitor total in
// the rule's parameters so competitive can skip unchanged markets
func (e *Engine) rememberCompetitorTotal(ruleID string, total float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[ruleID]
	if !ok {
		return
	}
	params := rule.DecodedParams()
	if params.LastCompetitorTotal != nil && math.Abs(*params.LastCompetitorTotal-total) <= PriceEpsilon {
		return
	}
	params.LastCompetitorTotal = &total
	rule.SetParams(params)
	e.persist(rule)
}

// applyIntervalFloor enforces the minimum evaluation interval
func (e *Engine) applyIntervalFloor(rule *models.PricingRule) {
	if rule.RunIntervalMs < MinRunInterval.Milliseconds() {
		rule.RunIntervalMs = MinRunInterval.Milliseconds()
	}
}

// persist writes a rule's mutable fields; failures are logged and the
// in-memory rule keeps going
func (e *Engine) persist(rule *models.PricingRule) {
	updates := map[string]interface{}{
		"params":          rule.Params,
		"enabled":         rule.Enabled,
		"last_run":        rule.LastRun,
		"run_interval_ms": rule.RunIntervalMs,
	}
	if err := e.db.Model(&models.PricingRule{}).Where("id = ?", rule.ID).Updates(updates).Error; err != nil {
		log.Printf("Error persisting pricing rule %s: %v", rule.ID, err)
	}
}

// validateParams checks the knobs a strategy needs at rule-creation time
func validateParams(strategy string, p models.RuleParams) error {
	switch strategy {
	case models.StrategyBeatLowest, models.StrategyCompetitive:
		if p.BeatByAmount != nil && *p.BeatByAmount < 0 {
			return errors.New("beat amount must not be negative")
		}
		if p.BeatByPercent != nil && (*p.BeatByPercent < 0 || *p.BeatByPercent >= 100) {
			return errors.New("beat percent must be in [0, 100)")
		}
	case models.StrategyTargetMargin, models.StrategyMarginTarget:
		if p.COGS == nil || *p.COGS < 0 {
			return errors.New("cogs is required for margin pricing")
		}
		if p.TargetMarginPct == nil {
			return errors.New("target margin percent is required")
		}
		if p.FeePct != nil && *p.FeePct < 0 {
			return errors.New("fee percent must not be negative")
		}
	case models.StrategyVelocity:
		for name, v := range map[string]*float64{
			"stale percent": p.StalePct, "slow percent": p.SlowPct, "fast percent": p.FastPct,
		} {
			if v != nil && (*v < 0 || *v > 100) {
				return fmt.Errorf("%s must be in [0, 100]", name)
			}
		}
	case models.StrategyTimeDecay:
		if p.FloorPrice == nil || *p.FloorPrice < 0 {
			return errors.New("floor price is required for time decay")
		}
		if p.DecayPctPerDay != nil && (*p.DecayPctPerDay <= 0 || *p.DecayPctPerDay > 100) {
			return errors.New("decay percent per day must be in (0, 100]")
		}
		if p.DecayMode != "" && p.DecayMode != "linear" && p.DecayMode != "exponential" {
			return fmt.Errorf("unknown decay mode %q", p.DecayMode)
		}
	case models.StrategyCostPlus:
		if p.COGS == nil || *p.COGS < 0 {
			return errors.New("cogs is required for cost-plus pricing")
		}
		if p.FixedMarkup == nil && p.MarkupPct == nil {
			return errors.New("cost-plus needs a fixed markup or a markup percent")
		}
	}
	return nil
}
