// Package cart holds the in-progress sale for one checkout session.
//
// A Cart is not safe for concurrent use; the session that owns it must
// serialize access. Stock checks here are advisory: the finalizer
// re-validates every line against locked stock before committing.
package cart

import (
	"context"
	"slices"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/pricing"
)

// StockSource answers current item state for a SKU.
type StockSource interface {
	GetItem(ctx context.Context, sku string) (*domain.Item, error)
}

type Cart struct {
	lines []domain.CartLine
}

func New() *Cart {
	return &Cart{}
}

// AddLine adds qty of sku, merging into an existing line. The effective
// quantity (existing plus requested) must fit current stock or the cart
// is left unchanged. A new line captures the item's current selling
// price; a merged line keeps the price it already has.
func (c *Cart) AddLine(ctx context.Context, src StockSource, sku string, qty int) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, poserr.Invalid("quantity must be at least 1")
	}
	item, err := lookup(ctx, src, sku)
	if err != nil {
		return domain.CartLine{}, err
	}

	idx := c.index(sku)
	effective := qty
	if idx >= 0 {
		effective += c.lines[idx].Qty
	}
	if effective > item.StockQty {
		return domain.CartLine{}, poserr.InsufficientStock(sku, effective, item.StockQty)
	}

	if idx >= 0 {
		c.lines[idx].Qty = effective
		return c.lines[idx], nil
	}
	line := domain.CartLine{
		SKU:            item.SKU,
		Name:           item.Name,
		Qty:            qty,
		UnitPriceCents: item.SellingPriceCents,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

// UpdateLineQty sets an absolute quantity. Zero removes the line.
func (c *Cart) UpdateLineQty(ctx context.Context, src StockSource, sku string, qty int) error {
	if qty < 0 {
		return poserr.Invalid("quantity must not be negative")
	}
	idx := c.index(sku)
	if idx < 0 {
		return poserr.NotFound("cart line", sku)
	}
	if qty == 0 {
		c.lines = slices.Delete(c.lines, idx, idx+1)
		return nil
	}
	item, err := lookup(ctx, src, sku)
	if err != nil {
		return err
	}
	if qty > item.StockQty {
		return poserr.InsufficientStock(sku, qty, item.StockQty)
	}
	c.lines[idx].Qty = qty
	return nil
}

// OverrideUnitPrice replaces the captured price of a line.
func (c *Cart) OverrideUnitPrice(sku string, unitPriceCents int64) error {
	if unitPriceCents < 0 {
		return poserr.Invalid("unit price must not be negative")
	}
	idx := c.index(sku)
	if idx < 0 {
		return poserr.NotFound("cart line", sku)
	}
	c.lines[idx].UnitPriceCents = unitPriceCents
	c.lines[idx].PriceOverridden = true
	return nil
}

// RemoveLine reports whether a line was removed.
func (c *Cart) RemoveLine(sku string) bool {
	idx := c.index(sku)
	if idx < 0 {
		return false
	}
	c.lines = slices.Delete(c.lines, idx, idx+1)
	return true
}

func (c *Cart) Clear() {
	c.lines = nil
}

// Lines returns a copy in insertion order.
func (c *Cart) Lines() []domain.CartLine {
	return slices.Clone(c.lines)
}

func (c *Cart) Qty(sku string) int {
	if idx := c.index(sku); idx >= 0 {
		return c.lines[idx].Qty
	}
	return 0
}

func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// Totals is recomputed from the current lines on every call.
func (c *Cart) Totals(policy pricing.TotalsPolicy) domain.Totals {
	if policy == nil {
		policy = pricing.NoAdjustments{}
	}
	return policy.Totals(c.lines)
}

func (c *Cart) index(sku string) int {
	return slices.IndexFunc(c.lines, func(l domain.CartLine) bool { return l.SKU == sku })
}

func lookup(ctx context.Context, src StockSource, sku string) (*domain.Item, error) {
	item, err := src.GetItem(ctx, sku)
	if err != nil {
		if poserr.IsNotFound(err) {
			return nil, poserr.NotFound("item", sku)
		}
		return nil, err
	}
	return item, nil
}
