// Package strategy computes a recommended price for one product from
// its current competitive snapshot.
package strategy

import (
	"fmt"
	"math"

	"github.com/repricelab/repricer/internal/buybox"
	"github.com/repricelab/repricer/internal/marketplace"
	"github.com/repricelab/repricer/internal/model"
)

// Strategy is the closed set of repricing strategies. Adding one is a
// compile-time-checked change in Calculate's switch.
type Strategy int

const (
	// WinBuyBox undercuts the current Buy Box holder by one cent.
	WinBuyBox Strategy = iota
	// MaximizeProfit protects the configured margin while staying
	// competitive.
	MaximizeProfit
	// BoostSales undercuts the lowest landed price by ten cents to
	// drive velocity.
	BoostSales
)

// ParseStrategy maps a stored strategy selector to the enum. Unknown
// values fall back to WinBuyBox, matching the persisted default.
func ParseStrategy(s string) Strategy {
	switch s {
	case "maximize_profit":
		return MaximizeProfit
	case "boost_sales":
		return BoostSales
	default:
		return WinBuyBox
	}
}

func (s Strategy) String() string {
	switch s {
	case MaximizeProfit:
		return "maximize_profit"
	case BoostSales:
		return "boost_sales"
	default:
		return "win_buybox"
	}
}

const (
	// deadband is the minimum price delta that justifies an update;
	// smaller moves are noise and would thrash the marketplace API.
	deadband = 0.05

	// Fallback bounds when the product has no configured min/max.
	// Both derive from the competitor snapshot, never from the
	// product's own price: a discounted price must not become a
	// permanent floor.
	fallbackCostRatio    = 0.6
	fallbackCeilingRatio = 2.0

	defaultTargetMargin = 15.0
)

// Decision is the outcome of one strategy evaluation.
type Decision struct {
	NewPrice              float64
	ShouldReprice         bool
	Reason                string
	EstimatedBuyBoxChance int
	CompetitorCount       int
	LowestCompetitorPrice float64
}

// Calculate evaluates the product's selected strategy against a
// competitive snapshot. The returned price always lies within the
// effective safety bounds.
func Calculate(product *model.Product, offers []marketplace.Offer) Decision {
	if len(offers) == 0 {
		return Decision{
			NewPrice:              product.Price,
			ShouldReprice:         false,
			Reason:                "No competitors found",
			EstimatedBuyBoxChance: 100,
		}
	}

	lowestTotal := offers[0].Total()
	for _, o := range offers[1:] {
		if o.Total() < lowestTotal {
			lowestTotal = o.Total()
		}
	}
	buyBoxOffer := buybox.Resolve(offers)

	minSafe := lowestTotal * fallbackCostRatio
	if product.MinPrice != nil {
		minSafe = *product.MinPrice
	}
	maxSafe := lowestTotal * fallbackCeilingRatio
	if product.MaxPrice != nil {
		maxSafe = *product.MaxPrice
	}

	var target float64
	var reason string
	switch ParseStrategy(product.RepricingStrategy) {
	case WinBuyBox:
		target = buyBoxOffer.Total() - 0.01
		reason = fmt.Sprintf("Win Buy Box: target $%.2f ($0.01 below Buy Box holder)", target)
	case MaximizeProfit:
		margin := defaultTargetMargin
		if product.TargetMarginPercent != nil {
			margin = *product.TargetMarginPercent
		}
		costBased := minSafe * (1 + margin/100)
		if costBased < lowestTotal {
			target = math.Min(costBased*1.05, lowestTotal-0.05)
			reason = fmt.Sprintf("Maximize Profit: $%.2f (protected %.0f%% margin)", target, margin)
		} else {
			target = lowestTotal - 0.05
			reason = fmt.Sprintf("Maximize Profit: $%.2f (competitive with margin protection)", target)
		}
	case BoostSales:
		target = lowestTotal - 0.10
		reason = fmt.Sprintf("Boost Sales: $%.2f ($0.10 below lowest to drive volume)", target)
	}

	// Clamp to safety bounds before the deadband check, so a clamp
	// that lands inside the deadband window suppresses the update.
	target = math.Max(minSafe, math.Min(target, maxSafe))
	target = round2(target)

	competitiveness := 100.0
	if target > lowestTotal {
		competitiveness = math.Max(0, 100-(target-lowestTotal)/lowestTotal*100)
	}
	// Price carries 25% of the Buy Box weighting; the 70-point
	// baseline stands in for fulfillment and seller rating.
	chance := math.Min(100, competitiveness*0.25+70)

	return Decision{
		NewPrice:              target,
		ShouldReprice:         math.Abs(product.Price-target) >= deadband,
		Reason:                reason,
		EstimatedBuyBoxChance: int(chance),
		CompetitorCount:       len(offers),
		LowestCompetitorPrice: lowestTotal,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
