package service

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/store"
	"bizzai/backend/internal/xid"
)

// FinalizeSale turns the cart into an invoice. Stock is re-validated
// under lock, decremented, the invoice is saved and the settlement
// account is credited in one unit of work. On any failure nothing is
// persisted and the cart keeps its lines.
func (s *Service) FinalizeSale(ctx context.Context, req domain.FinalizeRequest) (domain.FinalizeResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	method, err := normalizePaymentMethod(req.PaymentMethod, domain.PaymentCash)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	if req.CashReceivedCents < 0 {
		return domain.FinalizeResponse{}, poserr.Invalid("cash received must not be negative")
	}
	idemKey := strings.TrimSpace(req.IdempotencyKey)

	sess, err := s.sessions.get(req.CartID, s.now())
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if idemKey != "" {
		existing, err := s.repo.FindInvoiceByIdempotencyKey(ctx, idemKey)
		switch {
		case err == nil:
			return s.replay(sess, existing)
		case !poserr.IsNotFound(err):
			return domain.FinalizeResponse{}, storageErr(err)
		}
	}

	if sess.cart.IsEmpty() {
		return domain.FinalizeResponse{}, poserr.Invalid("cart is empty")
	}

	lines := sess.cart.Lines()
	totals := sess.cart.Totals(s.totals)

	var change int64
	if method.IsCash() && req.CashReceivedCents > 0 {
		if req.CashReceivedCents < totals.TotalCents {
			return domain.FinalizeResponse{}, poserr.Invalid("cash received %d is less than total %d", req.CashReceivedCents, totals.TotalCents)
		}
		change = req.CashReceivedCents - totals.TotalCents
	}

	invoice := domain.Invoice{
		ID:             xid.New("inv"),
		IdempotencyKey: idemKey,
		TerminalID:     sess.terminalID,
		Lines: lo.Map(lines, func(l domain.CartLine, _ int) domain.InvoiceLine {
			return domain.InvoiceLine{SKU: l.SKU, Name: l.Name, Qty: l.Qty, UnitPriceCents: l.UnitPriceCents}
		}),
		SubtotalCents: totals.SubtotalCents,
		DiscountCents: totals.DiscountCents,
		TaxCents:      totals.TaxCents,
		TotalCents:    totals.TotalCents,
		PaymentMethod: method,
		AccountID:     s.AccountFor(method),
		CreatedBy:     actorName(ctx),
		CreatedAt:     s.now(),
	}
	skus := sortedSKUs(lines)

	var duplicate *domain.Invoice
	err = s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		duplicate = nil
		if idemKey != "" {
			existing, err := tx.FindInvoiceByIdempotencyKey(ctx, idemKey)
			if err == nil {
				duplicate = existing
				return nil
			}
			if !poserr.IsNotFound(err) {
				return err
			}
		}

		locked, err := tx.LockItems(ctx, skus)
		if err != nil {
			return err
		}
		for _, line := range lines {
			item, ok := locked[line.SKU]
			if !ok {
				return poserr.StockChanged(line.SKU, line.Qty, 0)
			}
			if line.Qty > item.StockQty {
				return poserr.StockChanged(line.SKU, line.Qty, item.StockQty)
			}
		}

		for _, line := range lines {
			if err := tx.DecrementStock(ctx, line.SKU, line.Qty); err != nil {
				return asStockChanged(err)
			}
		}
		if err := tx.SaveInvoice(ctx, invoice); err != nil {
			return err
		}
		return tx.Credit(ctx, invoice.AccountID, invoice.TotalCents, domain.LedgerRef{
			SourceType: domain.SourceInvoice,
			SourceID:   invoice.ID,
			Memo:       "sale " + string(method),
		})
	})
	if err != nil {
		err = storageErr(err)
		s.log(ctx).Warn("finalize sale failed",
			zap.String("cart_id", sess.id),
			zap.String("code", poserr.Code(err)),
			zap.Error(err))
		return domain.FinalizeResponse{}, err
	}

	if duplicate != nil {
		return s.replay(sess, duplicate)
	}
	sess.cart.Clear()
	s.resolver.Forget(ctx, skus...)

	s.log(ctx).Info("invoice finalized",
		zap.String("invoice_id", invoice.ID),
		zap.String("cart_id", sess.id),
		zap.String("payment_method", string(method)),
		zap.Int64("total_cents", invoice.TotalCents),
		zap.Int("lines", len(invoice.Lines)))
	return domain.FinalizeResponse{Invoice: invoice, ChangeCents: change}, nil
}

// replay answers a finalize whose idempotency key already produced an
// invoice. The invoice must come from the same terminal, and the cart must
// either be empty (the sale already cleared it) or hold exactly the
// invoiced quantities. Otherwise the key was reused for a different sale
// and the cart is left alone.
func (s *Service) replay(sess *session, invoice *domain.Invoice) (domain.FinalizeResponse, error) {
	if invoice.TerminalID != sess.terminalID || !matchesInvoice(sess.cart.Lines(), invoice) {
		return domain.FinalizeResponse{}, poserr.Invalid("idempotency key %q belongs to a different sale", invoice.IdempotencyKey)
	}
	sess.cart.Clear()
	return domain.FinalizeResponse{Invoice: *invoice, Duplicate: true}, nil
}

func matchesInvoice(lines []domain.CartLine, invoice *domain.Invoice) bool {
	if len(lines) == 0 {
		return true
	}
	invoiced := invoice.QtyBySKU()
	if len(invoiced) != len(lines) {
		return false
	}
	for _, line := range lines {
		if invoiced[line.SKU] != line.Qty {
			return false
		}
	}
	return true
}

// asStockChanged reports a guarded decrement that lost a race the same
// way as a failed re-validation.
func asStockChanged(err error) error {
	var stockErr *poserr.StockError
	if errors.Is(err, poserr.ErrInsufficientStock) && errors.As(err, &stockErr) {
		return poserr.StockChanged(stockErr.SKU, stockErr.Requested, stockErr.Available)
	}
	return err
}

func sortedSKUs(lines []domain.CartLine) []string {
	skus := lo.Uniq(lo.Map(lines, func(l domain.CartLine, _ int) string { return l.SKU }))
	slices.Sort(skus)
	return skus
}
