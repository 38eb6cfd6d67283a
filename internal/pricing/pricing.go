// Package pricing computes cart totals and refunds from pluggable policies.
// All amounts are integer minor units; percentages are decimals.
package pricing

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"bizzai/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type TotalsPolicy interface {
	Totals(lines []domain.CartLine) domain.Totals
}

type RefundPolicy interface {
	// Refund splits the gross value of returned lines into a fee kept by
	// the store and the amount paid back.
	Refund(grossCents int64) (feeCents int64, refundCents int64)
}

// NoAdjustments totals lines at their captured prices.
type NoAdjustments struct{}

func (NoAdjustments) Totals(lines []domain.CartLine) domain.Totals {
	t := baseTotals(lines)
	t.TotalCents = t.SubtotalCents
	return t
}

// Standard applies a cart-wide percentage discount once the subtotal
// reaches MinSubtotalCents, then tax on the discounted amount.
type Standard struct {
	DiscountPercent  decimal.Decimal
	MinSubtotalCents int64
	TaxPercent       decimal.Decimal
}

func (p Standard) Totals(lines []domain.CartLine) domain.Totals {
	t := baseTotals(lines)
	if t.SubtotalCents >= p.MinSubtotalCents && p.DiscountPercent.IsPositive() {
		t.DiscountCents = percentOf(t.SubtotalCents, p.DiscountPercent)
		if t.DiscountCents > t.SubtotalCents {
			t.DiscountCents = t.SubtotalCents
		}
	}
	taxBase := t.SubtotalCents - t.DiscountCents
	if p.TaxPercent.IsPositive() {
		t.TaxCents = percentOf(taxBase, p.TaxPercent)
	}
	t.TotalCents = taxBase + t.TaxCents
	return t
}

type FullRefund struct{}

func (FullRefund) Refund(grossCents int64) (int64, int64) {
	return 0, grossCents
}

// RestockingFee withholds Percent of the gross amount.
type RestockingFee struct {
	Percent decimal.Decimal
}

func (p RestockingFee) Refund(grossCents int64) (int64, int64) {
	if grossCents <= 0 || !p.Percent.IsPositive() {
		return 0, grossCents
	}
	fee := percentOf(grossCents, p.Percent)
	if fee > grossCents {
		fee = grossCents
	}
	return fee, grossCents - fee
}

// Prorate maps a share of an invoice subtotal onto what the customer paid
// for it, so discount and tax follow the returned lines. Callers pass
// cumulative shares; prorating the full subtotal yields totalCents exactly.
func Prorate(shareCents, subtotalCents, totalCents int64) int64 {
	if subtotalCents <= 0 || shareCents <= 0 {
		return 0
	}
	if shareCents >= subtotalCents {
		return totalCents
	}
	return decimal.NewFromInt(shareCents).
		Mul(decimal.NewFromInt(totalCents)).
		Div(decimal.NewFromInt(subtotalCents)).
		Round(0).
		IntPart()
}

func baseTotals(lines []domain.CartLine) domain.Totals {
	return domain.Totals{
		SubtotalCents: lo.SumBy(lines, func(l domain.CartLine) int64 { return l.LineTotalCents() }),
		ItemCount:     lo.SumBy(lines, func(l domain.CartLine) int { return l.Qty }),
		LineCount:     len(lines),
	}
}

// percentOf rounds half away from zero.
func percentOf(cents int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(percent).Div(hundred).Round(0).IntPart()
}
