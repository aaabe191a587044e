package pricing

import (
	"fmt"
	"math"
	"time"

	"seller_agent_backend/models"

	"github.com/shopspring/decimal"
)

// Strategy defaults
const (
	DefaultBeatByAmount  = 0.01
	DefaultStalePct      = 10.0
	DefaultSlowPct       = 5.0
	DefaultFastPct       = 3.0
	DefaultFastThreshold = 0.5 // sales per day on market
	DefaultDecayPct      = 1.0
)

// PriceEpsilon is the minimum absolute move that counts as a price change
const PriceEpsilon = 0.005

// strategyInputs bundles everything a strategy may read. Strategies are pure:
// listing + rule parameters + external signals in, a recommendation out.
type strategyInputs struct {
	listing  *models.Listing
	params   models.RuleParams
	quotes   []models.CompetitorQuote
	velocity *models.SalesVelocity
	now      time.Time
}

// recommendation is a strategy's raw proposal before clamping and rounding
type recommendation struct {
	price      float64
	reason     string
	competitor *float64
	noChange   bool
}

func hold(reason string) recommendation {
	return recommendation{noChange: true, reason: reason}
}

// lowestCompetitorTotal returns the smallest price+shipping among quotes
func lowestCompetitorTotal(quotes []models.CompetitorQuote) (float64, bool) {
	if len(quotes) == 0 {
		return 0, false
	}
	lowest := quotes[0].Total()
	for _, q := range quotes[1:] {
		if t := q.Total(); t < lowest {
			lowest = t
		}
	}
	return lowest, true
}

// matchLowest adopts the lowest competitor total, but only downward
func matchLowest(in strategyInputs) recommendation {
	lowest, ok := lowestCompetitorTotal(in.quotes)
	if !ok {
		return hold("no competitor quotes observed")
	}
	if lowest >= in.listing.Price {
		r := hold(fmt.Sprintf("already at or below lowest competitor total %.2f", lowest))
		r.competitor = &lowest
		return r
	}
	return recommendation{
		price:      lowest,
		reason:     fmt.Sprintf("matched lowest competitor total %.2f", lowest),
		competitor: &lowest,
	}
}

// beatLowest undercuts the lowest competitor total by a fixed amount
// (default $0.01) or a percentage
func beatLowest(in strategyInputs) recommendation {
	lowest, ok := lowestCompetitorTotal(in.quotes)
	if !ok {
		return hold("no competitor quotes observed")
	}

	var price float64
	var reason string
	if in.params.BeatByPercent != nil {
		pct := *in.params.BeatByPercent
		price = lowest * (1 - pct/100)
		reason = fmt.Sprintf("undercut lowest competitor total %.2f by %.2f%%", lowest, pct)
	} else {
		amount := DefaultBeatByAmount
		if in.params.BeatByAmount != nil {
			amount = *in.params.BeatByAmount
		}
		price = lowest - amount
		reason = fmt.Sprintf("undercut lowest competitor total %.2f by %.2f", lowest, amount)
	}
	return recommendation{price: price, reason: reason, competitor: &lowest}
}

// competitive is beatLowest that skips re-evaluation while the observed
// lowest competitor total is unchanged since the previous run
func competitive(in strategyInputs) recommendation {
	lowest, ok := lowestCompetitorTotal(in.quotes)
	if !ok {
		return hold("no competitor quotes observed")
	}
	if last := in.params.LastCompetitorTotal; last != nil && math.Abs(lowest-*last) <= PriceEpsilon {
		r := hold(fmt.Sprintf("lowest competitor total unchanged at %.2f", lowest))
		r.competitor = &lowest
		return r
	}
	return beatLowest(in)
}

// targetMargin prices off cost to hit a margin after platform fees:
// price = cogs*(1+margin/100) / (1-fee/100)
func targetMargin(in strategyInputs) recommendation {
	cogs := 0.0
	if in.params.COGS != nil {
		cogs = *in.params.COGS
	}
	margin := 0.0
	if in.params.TargetMarginPct != nil {
		margin = *in.params.TargetMarginPct
	}
	fee := 0.0
	if in.params.FeePct != nil {
		fee = *in.params.FeePct
	}
	if fee >= 100 {
		return hold(fmt.Sprintf("fee percentage %.2f leaves no attainable price", fee))
	}
	price := cogs * (1 + margin/100) / (1 - fee/100)
	return recommendation{
		price:  price,
		reason: fmt.Sprintf("target margin %.2f%% over cost %.2f with %.2f%% fees", margin, cogs, fee),
	}
}

// velocityAdjust reacts to sell-through: stale listings get cut hardest,
// slow ones get a smaller cut, fast sellers get a bump. One adjustment per
// cycle, stale checked first.
func velocityAdjust(in strategyInputs) recommendation {
	v := in.velocity
	if v == nil {
		return hold("no sales velocity data")
	}

	stalePct := DefaultStalePct
	if in.params.StalePct != nil {
		stalePct = *in.params.StalePct
	}
	slowPct := DefaultSlowPct
	if in.params.SlowPct != nil {
		slowPct = *in.params.SlowPct
	}
	fastPct := DefaultFastPct
	if in.params.FastPct != nil {
		fastPct = *in.params.FastPct
	}
	threshold := DefaultFastThreshold
	if in.params.FastThreshold != nil {
		threshold = *in.params.FastThreshold
	}

	switch {
	case v.SalesLast14Days == 0 && v.DaysOnMarket >= 14:
		return recommendation{
			price:  in.listing.Price * (1 - stalePct/100),
			reason: fmt.Sprintf("no sales in 14 days, reducing %.2f%%", stalePct),
		}
	case v.SalesLast7Days == 0 && v.DaysOnMarket >= 7:
		return recommendation{
			price:  in.listing.Price * (1 - slowPct/100),
			reason: fmt.Sprintf("no sales in 7 days, reducing %.2f%%", slowPct),
		}
	case v.DailySellRate() >= threshold:
		return recommendation{
			price:  in.listing.Price * (1 + fastPct/100),
			reason: fmt.Sprintf("selling %.2f/day, raising %.2f%%", v.DailySellRate(), fastPct),
		}
	}
	return hold("sales velocity within normal band")
}

// timeDecay walks the price from an initial value down toward a floor as the
// listing ages. Linear mode removes a fixed share of the initial-to-floor gap
// per day; exponential mode multiplies by a daily decay factor.
func timeDecay(in strategyInputs) recommendation {
	initial := in.listing.SourcePrice
	if in.params.InitialPrice != nil {
		initial = *in.params.InitialPrice
	}
	if initial <= 0 {
		initial = in.listing.Price
	}
	floor := 0.0
	if in.params.FloorPrice != nil {
		floor = *in.params.FloorPrice
	}
	rate := DefaultDecayPct
	if in.params.DecayPctPerDay != nil {
		rate = *in.params.DecayPctPerDay
	}

	days := int(in.now.Sub(in.listing.CreatedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}

	var price float64
	if in.params.DecayMode == "exponential" {
		price = initial * math.Pow(1-rate/100, float64(days))
	} else {
		price = initial - (initial-floor)*(rate/100)*float64(days)
	}
	if price < floor {
		price = floor
	}
	return recommendation{
		price:  price,
		reason: fmt.Sprintf("time decay after %d day(s) from %.2f toward floor %.2f", days, initial, floor),
	}
}

// costPlus prices cost plus a fixed markup, or a percentage markup when no
// fixed amount is given
func costPlus(in strategyInputs) recommendation {
	if in.params.COGS == nil {
		return hold("no cost recorded for cost-plus pricing")
	}
	cogs := *in.params.COGS
	if in.params.FixedMarkup != nil {
		return recommendation{
			price:  cogs + *in.params.FixedMarkup,
			reason: fmt.Sprintf("cost %.2f plus markup %.2f", cogs, *in.params.FixedMarkup),
		}
	}
	pct := 0.0
	if in.params.MarkupPct != nil {
		pct = *in.params.MarkupPct
	}
	return recommendation{
		price:  cogs * (1 + pct/100),
		reason: fmt.Sprintf("cost %.2f plus %.2f%% markup", cogs, pct),
	}
}

// evaluateStrategy dispatches to the strategy implementation
func evaluateStrategy(strategy string, in strategyInputs) recommendation {
	switch strategy {
	case models.StrategyMatchLowest:
		return matchLowest(in)
	case models.StrategyBeatLowest:
		return beatLowest(in)
	case models.StrategyCompetitive:
		return competitive(in)
	case models.StrategyTargetMargin, models.StrategyMarginTarget:
		return targetMargin(in)
	case models.StrategyVelocity:
		return velocityAdjust(in)
	case models.StrategyTimeDecay:
		return timeDecay(in)
	case models.StrategyCostPlus:
		return costPlus(in)
	}
	return hold(fmt.Sprintf("unknown strategy %q", strategy))
}

// clampAndRound bounds a price into [min, max] and rounds to cents.
// A non-positive bound is treated as unbounded on that side.
func clampAndRound(price, min, max float64) float64 {
	if min > 0 && price < min {
		price = min
	}
	if max > 0 && price > max {
		price = max
	}
	out, _ := decimal.NewFromFloat(price).Round(2).Float64()
	return out
}
