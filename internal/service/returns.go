package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/pricing"
	"bizzai/backend/internal/store"
	"bizzai/backend/internal/xid"
)

// ProcessReturn restocks returned units and refunds what was paid for them
// on the original invoice. Requested lines for the same SKU are summed
// before the cumulative check, which runs against returns already
// recorded for the invoice. Either every line is applied or none is.
func (s *Service) ProcessReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	invoiceID := strings.TrimSpace(req.InvoiceID)
	if invoiceID == "" {
		return domain.ReturnResponse{}, poserr.Invalid("invoice_id is required")
	}
	if len(req.Lines) == 0 {
		return domain.ReturnResponse{}, poserr.Invalid("a return needs at least one line")
	}

	requested := make(map[string]int, len(req.Lines))
	var order []string
	for _, line := range req.Lines {
		sku := strings.TrimSpace(line.SKU)
		if sku == "" {
			return domain.ReturnResponse{}, poserr.Invalid("return line sku is required")
		}
		if line.Qty < 1 {
			return domain.ReturnResponse{}, poserr.Invalid("return quantity for %s must be at least 1", sku)
		}
		if _, seen := requested[sku]; !seen {
			order = append(order, sku)
		}
		requested[sku] += line.Qty
	}

	var refundMethod domain.PaymentMethod
	if strings.TrimSpace(string(req.RefundMethod)) != "" {
		method, err := normalizePaymentMethod(req.RefundMethod, "")
		if err != nil {
			return domain.ReturnResponse{}, err
		}
		refundMethod = method
	}

	var result domain.Return
	err := s.repo.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		invoice, err := tx.FindInvoice(ctx, invoiceID)
		if err != nil {
			if poserr.IsNotFound(err) {
				return poserr.NotFound("invoice", invoiceID)
			}
			return err
		}
		invoiced := invoice.QtyBySKU()
		returned, err := tx.ReturnedQty(ctx, invoice.ID)
		if err != nil {
			return err
		}

		lines := make([]domain.ReturnLine, 0, len(order))
		for _, sku := range order {
			qty := requested[sku]
			invoicedQty, ok := invoiced[sku]
			if !ok {
				return poserr.Invalid("sku %s is not on invoice %s", sku, invoice.ID)
			}
			if returned[sku]+qty > invoicedQty {
				return poserr.OverReturn(sku, invoicedQty, returned[sku], qty)
			}
			invLine, _ := invoice.Line(sku)
			lines = append(lines, domain.ReturnLine{SKU: sku, Qty: qty, UnitPriceCents: invLine.UnitPriceCents})
		}

		for _, line := range lines {
			if err := tx.IncrementStock(ctx, line.SKU, line.Qty); err != nil {
				return err
			}
		}

		method := refundMethod
		if method == "" {
			method = invoice.PaymentMethod
		}
		gross := paidShare(invoice, returned, lines)
		fee, refund := s.refunds.Refund(gross)

		ret := domain.Return{
			ID:           xid.New("ret"),
			InvoiceID:    invoice.ID,
			Lines:        lines,
			GrossCents:   gross,
			FeeCents:     fee,
			RefundCents:  refund,
			RefundMethod: method,
			AccountID:    s.AccountFor(method),
			Reason:       strings.TrimSpace(req.Reason),
			ProcessedBy:  actorName(ctx),
			CreatedAt:    s.now(),
		}
		if refund > 0 {
			if err := tx.Debit(ctx, ret.AccountID, refund, domain.LedgerRef{
				SourceType: domain.SourceReturn,
				SourceID:   ret.ID,
				Memo:       fmt.Sprintf("refund for %s", invoice.ID),
			}); err != nil {
				return err
			}
		}
		if err := tx.SaveReturn(ctx, ret); err != nil {
			return err
		}
		result = ret
		return nil
	})
	if err != nil {
		err = storageErr(err)
		s.log(ctx).Warn("return rejected",
			zap.String("invoice_id", invoiceID),
			zap.String("code", poserr.Code(err)),
			zap.Error(err))
		return domain.ReturnResponse{}, err
	}

	s.resolver.Forget(ctx, order...)
	s.log(ctx).Info("return processed",
		zap.String("return_id", result.ID),
		zap.String("invoice_id", result.InvoiceID),
		zap.Int64("refund_cents", result.RefundCents),
		zap.Int64("fee_cents", result.FeeCents))
	return domain.ReturnResponse{Return: result}, nil
}

// paidShare is the part of the invoice total, discount and tax included,
// attributable to lines given the quantities already returned. Shares are
// cumulative, so the refunds of a fully returned invoice sum to its total.
func paidShare(invoice *domain.Invoice, returned map[string]int, lines []domain.ReturnLine) int64 {
	var before int64
	for sku, qty := range returned {
		if line, ok := invoice.Line(sku); ok {
			before += int64(qty) * line.UnitPriceCents
		}
	}
	share := lo.SumBy(lines, func(l domain.ReturnLine) int64 { return int64(l.Qty) * l.UnitPriceCents })
	return pricing.Prorate(before+share, invoice.SubtotalCents, invoice.TotalCents) -
		pricing.Prorate(before, invoice.SubtotalCents, invoice.TotalCents)
}

func (s *Service) ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	invoiceID = strings.TrimSpace(invoiceID)
	returns, err := s.repo.ListReturns(ctx, invoiceID)
	if err != nil {
		if poserr.IsNotFound(err) {
			return nil, poserr.NotFound("invoice", invoiceID)
		}
		return nil, storageErr(err)
	}
	return returns, nil
}
