package rate

import "github.com/shopspring/decimal"

// Band is one pricing tier: Width is how much of the paid amount the band
// absorbs (zero means unbounded), PricePerUnit the cost of one energy unit
// inside it.
type Band struct {
	Width        decimal.Decimal
	PricePerUnit decimal.Decimal
}

type Calculator struct {
	bands []Band
}

func NewCalculator(bands []Band) *Calculator {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	return &Calculator{bands: bands}
}

// DefaultBands is the domestic prepaid tariff: cheaper units for small
// purchases, stepping up as the amount grows.
func DefaultBands() []Band {
	return []Band{
		{Width: decimal.NewFromInt(500), PricePerUnit: decimal.RequireFromString("2.50")},
		{Width: decimal.NewFromInt(2000), PricePerUnit: decimal.RequireFromString("2.75")},
		{Width: decimal.Zero, PricePerUnit: decimal.NewFromInt(3)},
	}
}

// UnitsFor converts a monetary amount into energy units across the tiers.
// Pure function of the amount; rounds to two decimal places.
func (c *Calculator) UnitsFor(amount decimal.Decimal) decimal.Decimal {
	remaining := amount
	units := decimal.Zero

	for _, band := range c.bands {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}

		slice := remaining
		if !band.Width.IsZero() && slice.GreaterThan(band.Width) {
			slice = band.Width
		}

		units = units.Add(slice.Div(band.PricePerUnit))
		remaining = remaining.Sub(slice)
	}

	return units.Round(2)
}
