package service

import (
	"context"
	"strings"

	"bizzai/backend/internal/barcode"
	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
)

const defaultStatementLimit = 50

func (s *Service) ResolveBarcode(ctx context.Context, code string) (*domain.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	item, err := s.resolver.Resolve(ctx, code)
	return item, storageErr(err)
}

func (s *Service) SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if strings.TrimSpace(term) == "" {
		return nil, poserr.Invalid("search term is required")
	}
	items, err := s.resolver.Search(ctx, term, limit)
	return items, storageErr(err)
}

func (s *Service) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	id = strings.TrimSpace(id)
	invoice, err := s.repo.FindInvoice(ctx, id)
	if err != nil {
		if poserr.IsNotFound(err) {
			return nil, poserr.NotFound("invoice", id)
		}
		return nil, storageErr(err)
	}
	return invoice, nil
}

// GetAccountStatement returns the balance and the newest ledger entries.
func (s *Service) GetAccountStatement(ctx context.Context, accountID string, limit int) (domain.AccountStatement, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit < 1 || limit > 500 {
		limit = defaultStatementLimit
	}
	accountID = strings.TrimSpace(accountID)
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		if poserr.IsNotFound(err) {
			return domain.AccountStatement{}, poserr.NotFound("account", accountID)
		}
		return domain.AccountStatement{}, storageErr(err)
	}
	entries, err := s.repo.ListLedgerEntries(ctx, accountID, limit)
	if err != nil {
		return domain.AccountStatement{}, storageErr(err)
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	return domain.AccountStatement{Account: *account, Entries: entries}, nil
}

// PrepareLabels validates a label print run. Rendering happens on the
// printer side.
func (s *Service) PrepareLabels(ctx context.Context, req domain.LabelRequest) (domain.LabelJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	format, err := barcode.ParseFormat(req.Format)
	if err != nil {
		return domain.LabelJob{}, err
	}
	cfg := barcode.LabelConfig{Format: format, Copies: req.Copies}
	if err := cfg.Validate(); err != nil {
		return domain.LabelJob{}, err
	}

	sku := strings.TrimSpace(req.SKU)
	item, err := s.repo.GetItem(ctx, sku)
	if err != nil {
		if poserr.IsNotFound(err) {
			return domain.LabelJob{}, poserr.NotFound("item", sku)
		}
		return domain.LabelJob{}, storageErr(err)
	}
	if err := barcode.ValidateCode(format, item.SKU); err != nil {
		return domain.LabelJob{}, err
	}

	job := domain.LabelJob{
		SKU:          item.SKU,
		Code:         item.SKU,
		Format:       string(format),
		Copies:       cfg.Copies,
		IncludeName:  req.IncludeName,
		IncludePrice: req.IncludePrice,
	}
	if req.IncludeName {
		job.Name = item.Name
	}
	if req.IncludePrice {
		job.PriceCents = item.SellingPriceCents
	}
	return job, nil
}
