package shopping

// TrendDirection classifies a price change.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendFlat TrendDirection = "flat"
)

// PriceTrend compares the two most recent observations of a product and brand.
type PriceTrend struct {
	PreviousPrice float64 `json:"previous_price"`
	LatestPrice   float64 `json:"latest_price"`
	PercentChange float64 `json:"percent_change"`
}

// Direction reports whether the latest price went up, down or stayed the same.
func (t PriceTrend) Direction() TrendDirection {
	switch {
	case t.PercentChange > 0:
		return TrendUp
	case t.PercentChange < 0:
		return TrendDown
	default:
		return TrendFlat
	}
}

// ComparePrices computes the trend from observations ordered newest first.
// It reports false with fewer than two observations or a zero previous price.
func ComparePrices(observations []PriceObservation) (PriceTrend, bool) {
	if len(observations) < 2 {
		return PriceTrend{}, false
	}
	latest := observations[0].Price
	previous := observations[1].Price
	if previous == 0 {
		return PriceTrend{}, false
	}
	return PriceTrend{
		PreviousPrice: previous,
		LatestPrice:   latest,
		PercentChange: (latest - previous) / previous * 100,
	}, true
}

// TotalPrice sums price * quantity over priced items. Checked state is ignored.
func TotalPrice(items []Item) float64 {
	total := 0.0
	for _, item := range items {
		if item.Price == nil {
			continue
		}
		total += *item.Price * item.Quantity
	}
	return total
}

// CheckedCount returns how many items are marked as fulfilled.
func CheckedCount(items []Item) int {
	count := 0
	for _, item := range items {
		if item.Checked {
			count++
		}
	}
	return count
}
