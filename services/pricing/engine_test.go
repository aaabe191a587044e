package pricing

import (
	"fmt"
	"testing"
	"time"

	"seller_agent_backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeFeeds serves canned listings, quotes and velocity data
type fakeFeeds struct {
	listings map[string]*models.Listing
	quotes   map[string][]models.CompetitorQuote
	velocity map[string]*models.SalesVelocity
}

func newFakeFeeds() *fakeFeeds {
	return &fakeFeeds{
		listings: make(map[string]*models.Listing),
		quotes:   make(map[string][]models.CompetitorQuote),
		velocity: make(map[string]*models.SalesVelocity),
	}
}

func (f *fakeFeeds) GetListing(id string) (*models.Listing, error) {
	l, ok := f.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeFeeds) CompetitorPrices(listingID string) ([]models.CompetitorQuote, error) {
	return f.quotes[listingID], nil
}

func (f *fakeFeeds) SalesVelocity(listingID string) (*models.SalesVelocity, error) {
	return f.velocity[listingID], nil
}

func newEngineDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.MigratePricingModels(db))
	return db
}

func newTestEngine(t *testing.T) (*Engine, *fakeFeeds) {
	t.Helper()
	feeds := newFakeFeeds()
	return NewEngine(newEngineDB(t), feeds, feeds, feeds), feeds
}

func makeRule(listingID, strategy string, params models.RuleParams) *models.PricingRule {
	rule := &models.PricingRule{
		ListingID: listingID,
		Strategy:  strategy,
		Enabled:   true,
	}
	rule.SetParams(params)
	return rule
}

func TestAddRuleValidation(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}

	assert.Error(t, engine.AddRule(nil))
	assert.Error(t, engine.AddRule(makeRule("", models.StrategyMatchLowest, models.RuleParams{})))
	assert.Error(t, engine.AddRule(makeRule("l1", "guesswork", models.RuleParams{})))

	bad := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	bad.MinPrice = 20
	bad.MaxPrice = 10
	assert.Error(t, engine.AddRule(bad))

	// margin pricing without cost knobs is rejected at creation
	assert.Error(t, engine.AddRule(makeRule("l1", models.StrategyTargetMargin, models.RuleParams{})))
	assert.Error(t, engine.AddRule(makeRule("l1", models.StrategyTimeDecay, models.RuleParams{})))
	assert.Error(t, engine.AddRule(makeRule("l1", models.StrategyCostPlus, models.RuleParams{COGS: fp(10)})))

	ok := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	require.NoError(t, engine.AddRule(ok))
	assert.NotEmpty(t, ok.ID)
}

func TestRunIntervalFloor(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}

	rule := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	rule.RunIntervalMs = 500 // below the floor
	require.NoError(t, engine.AddRule(rule))

	stored := engine.GetRule(rule.ID)
	require.NotNil(t, stored)
	assert.Equal(t, MinRunInterval.Milliseconds(), stored.RunIntervalMs)
}

func TestRunRuleUnknownIsNoOp(t *testing.T) {
	engine, _ := newTestEngine(t)

	res := engine.RunRule("no-such-rule")
	assert.False(t, res.Applied)
	assert.Equal(t, "rule not found", res.Reason)
}

func TestRunRuleMissingListing(t *testing.T) {
	engine, _ := newTestEngine(t)

	rule := makeRule("gone", models.StrategyMatchLowest, models.RuleParams{})
	require.NoError(t, engine.AddRule(rule))

	res := engine.RunRule(rule.ID)
	assert.False(t, res.Applied)
	assert.Equal(t, "listing not found", res.Reason)
}

func TestRunRuleAppliesAndNotifies(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 45}, {Price: 60}}

	var got []Result
	engine.SetPriceChangeCallback(func(res Result) { got = append(got, res) })

	rule := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	require.NoError(t, engine.AddRule(rule))

	res := engine.RunRule(rule.ID)
	assert.True(t, res.Applied)
	assert.InDelta(t, 50, res.OldPrice, 0.001)
	assert.InDelta(t, 45, res.NewPrice, 0.001)
	require.NotNil(t, res.CompetitorPrice)
	assert.InDelta(t, 45, *res.CompetitorPrice, 0.001)
	require.Len(t, got, 1)
	assert.Equal(t, rule.ID, got[0].RuleID)

	// lastRun stamped and persisted
	stored := engine.GetRule(rule.ID)
	require.NotNil(t, stored.LastRun)
	var row models.PricingRule
	require.NoError(t, engine.db.Where("id = ?", rule.ID).First(&row).Error)
	assert.NotNil(t, row.LastRun)
}

func TestRunRuleClampsToBounds(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 3}}

	rule := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	rule.MinPrice = 5
	rule.MaxPrice = 100
	require.NoError(t, engine.AddRule(rule))

	res := engine.RunRule(rule.ID)
	assert.True(t, res.Applied)
	assert.InDelta(t, 5, res.NewPrice, 0.001)
}

func TestEpsilonSuppressesTinyMoves(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 45}
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 44.998}}

	rule := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	require.NoError(t, engine.AddRule(rule))

	res := engine.RunRule(rule.ID)
	assert.False(t, res.Applied)
}

func TestRunAllDueGating(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 45}}

	rule := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	require.NoError(t, engine.AddRule(rule))

	results := engine.RunAll()
	require.Len(t, results, 1)

	// immediately after, the rule is not due again
	results = engine.RunAll()
	assert.Empty(t, results)

	// a rule past its interval is due once more
	past := time.Now().Add(-2 * MinRunInterval)
	engine.mu.Lock()
	engine.rules[rule.ID].LastRun = &past
	engine.mu.Unlock()
	results = engine.RunAll()
	require.Len(t, results, 1)
}

func TestRunAllSkipsDisabled(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 45}}

	rule := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	require.NoError(t, engine.AddRule(rule))
	require.True(t, engine.SetEnabled(rule.ID, false))

	assert.Empty(t, engine.RunAll())

	require.True(t, engine.SetEnabled(rule.ID, true))
	assert.Len(t, engine.RunAll(), 1)
}

func TestRunAllRegistrationOrder(t *testing.T) {
	engine, feeds := newTestEngine(t)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("l%d", i)
		feeds.listings[id] = &models.Listing{ID: id, Price: 50}
		feeds.quotes[id] = []models.CompetitorQuote{{Price: 45}}
	}

	first := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	second := makeRule("l2", models.StrategyMatchLowest, models.RuleParams{})
	third := makeRule("l3", models.StrategyMatchLowest, models.RuleParams{})
	for _, r := range []*models.PricingRule{first, second, third} {
		require.NoError(t, engine.AddRule(r))
	}

	results := engine.RunAll()
	require.Len(t, results, 3)
	assert.Equal(t, "l1", results[0].ListingID)
	assert.Equal(t, "l2", results[1].ListingID)
	assert.Equal(t, "l3", results[2].ListingID)
}

func TestCompetitiveTracksMarketBetweenRuns(t *testing.T) {
	engine, feeds := newTestEngine(t)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 45}}

	rule := makeRule("l1", models.StrategyCompetitive, models.RuleParams{BeatByAmount: fp(1)})
	require.NoError(t, engine.AddRule(rule))

	res := engine.RunRule(rule.ID)
	assert.True(t, res.Applied)
	assert.InDelta(t, 44, res.NewPrice, 0.001)

	// same market on the next run: skipped
	res = engine.RunRule(rule.ID)
	assert.False(t, res.Applied)
	assert.Contains(t, res.Reason, "unchanged")

	// market moved: re-evaluated
	feeds.quotes["l1"] = []models.CompetitorQuote{{Price: 42}}
	res = engine.RunRule(rule.ID)
	assert.True(t, res.Applied)
	assert.InDelta(t, 41, res.NewPrice, 0.001)
}

func TestRuleCRUDAndReload(t *testing.T) {
	feeds := newFakeFeeds()
	db := newEngineDB(t)
	engine := NewEngine(db, feeds, feeds, feeds)
	feeds.listings["l1"] = &models.Listing{ID: "l1", Price: 50}
	feeds.listings["l2"] = &models.Listing{ID: "l2", Price: 80}

	r1 := makeRule("l1", models.StrategyMatchLowest, models.RuleParams{})
	r2 := makeRule("l2", models.StrategyCostPlus, models.RuleParams{COGS: fp(30), MarkupPct: fp(20)})
	require.NoError(t, engine.AddRule(r1))
	require.NoError(t, engine.AddRule(r2))

	assert.Len(t, engine.GetRules(""), 2)
	assert.Len(t, engine.GetRules("l2"), 1)
	assert.Nil(t, engine.GetRule("missing"))

	// a fresh engine rebuilds the mirror from the store
	reloaded := NewEngine(db, feeds, feeds, feeds)
	require.NoError(t, reloaded.LoadRules())
	assert.Len(t, reloaded.GetRules(""), 2)

	assert.True(t, engine.RemoveRule(r1.ID))
	assert.False(t, engine.RemoveRule(r1.ID))
	assert.Len(t, engine.GetRules(""), 1)

	var count int64
	db.Model(&models.PricingRule{}).Count(&count)
	assert.EqualValues(t, 1, count)
}
