package service

import (
	"github.com/shopspring/decimal"

	"github.com/iliyamo/recital-box-office/internal/config"
)

// Cart is the quantity part of a checkout.
type Cart struct {
	Tickets int
	DVDs    int
	Digital int
}

func (c Cart) units() int { return c.Tickets + c.DVDs + c.Digital }

// Pricing computes order totals from the configured price table.
type Pricing struct {
	table config.PricingConfig
}

func NewPricing(table config.PricingConfig) Pricing { return Pricing{table: table} }

func (p Pricing) Currency() string { return p.table.Currency }

// Expected returns the total the customer must pay for c. Every order with
// at least one unit carries the surcharge; an order with both a DVD and a
// digital download gets the bundle discount.
func (p Pricing) Expected(c Cart) decimal.Decimal {
	total := p.table.Ticket.Mul(decimal.NewFromInt(int64(c.Tickets))).
		Add(p.table.DVD.Mul(decimal.NewFromInt(int64(c.DVDs)))).
		Add(p.table.Digital.Mul(decimal.NewFromInt(int64(c.Digital))))
	if c.units() > 0 {
		total = total.Add(p.table.Surcharge)
	}
	if c.DVDs > 0 && c.Digital > 0 {
		total = total.Sub(p.table.BundleDiscount)
	}
	return total.Round(2)
}
