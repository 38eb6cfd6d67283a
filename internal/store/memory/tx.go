package memory

import (
	"context"
	"time"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/store"
	"bizzai/backend/internal/xid"
)

// InTx runs fn under the store's write lock. Writes are staged on the
// unit of work and applied only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &unitOfWork{
		s:        s,
		now:      time.Now().UTC(),
		items:    make(map[string]domain.Item),
		accounts: make(map[string]domain.CashBankAccount),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}
	tx.commit()
	return nil
}

type unitOfWork struct {
	s        *Store
	now      time.Time
	items    map[string]domain.Item
	accounts map[string]domain.CashBankAccount
	ledger   []domain.LedgerEntry
	invoices []domain.Invoice
	returns  []domain.Return
}

func (u *unitOfWork) item(sku string) (domain.Item, bool) {
	if item, ok := u.items[sku]; ok {
		return item, true
	}
	item, ok := u.s.items[sku]
	return item, ok
}

func (u *unitOfWork) account(id string) (domain.CashBankAccount, bool) {
	if account, ok := u.accounts[id]; ok {
		return account, true
	}
	account, ok := u.s.accounts[id]
	return account, ok
}

func (u *unitOfWork) LockItems(ctx context.Context, skus []string) (map[string]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	out := make(map[string]domain.Item, len(skus))
	for _, sku := range skus {
		if item, ok := u.item(sku); ok {
			out[sku] = item
		}
	}
	return out, nil
}

func (u *unitOfWork) DecrementStock(ctx context.Context, sku string, qty int) error {
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	item, ok := u.item(sku)
	if !ok {
		return store.ErrNotFound
	}
	if item.StockQty < qty {
		return poserr.InsufficientStock(sku, qty, item.StockQty)
	}
	item.StockQty -= qty
	item.Version++
	item.UpdatedAt = u.now
	u.items[sku] = item
	return nil
}

func (u *unitOfWork) IncrementStock(ctx context.Context, sku string, qty int) error {
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	item, ok := u.item(sku)
	if !ok {
		return store.ErrNotFound
	}
	item.StockQty += qty
	item.Version++
	item.UpdatedAt = u.now
	u.items[sku] = item
	return nil
}

func (u *unitOfWork) Credit(ctx context.Context, accountID string, amountCents int64, ref domain.LedgerRef) error {
	return u.post(ctx, accountID, domain.EntryCredit, amountCents, ref)
}

func (u *unitOfWork) Debit(ctx context.Context, accountID string, amountCents int64, ref domain.LedgerRef) error {
	return u.post(ctx, accountID, domain.EntryDebit, amountCents, ref)
}

func (u *unitOfWork) post(ctx context.Context, accountID string, direction domain.EntryDirection, amountCents int64, ref domain.LedgerRef) error {
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}
	if amountCents < 0 {
		return store.ErrInvalidTransaction
	}
	account, ok := u.account(accountID)
	if !ok {
		return store.ErrNotFound
	}
	if direction == domain.EntryCredit {
		account.BalanceCents += amountCents
	} else {
		account.BalanceCents -= amountCents
	}
	account.UpdatedAt = u.now
	u.accounts[accountID] = account
	u.ledger = append(u.ledger, domain.LedgerEntry{
		ID:          xid.New("le"),
		AccountID:   accountID,
		Direction:   direction,
		AmountCents: amountCents,
		SourceType:  ref.SourceType,
		SourceID:    ref.SourceID,
		Memo:        ref.Memo,
		CreatedAt:   u.now,
	})
	return nil
}

func (u *unitOfWork) SaveInvoice(ctx context.Context, invoice domain.Invoice) error {
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}
	if invoice.ID == "" || len(invoice.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if _, exists := u.s.invoicesByID[invoice.ID]; exists {
		return store.ErrInvalidTransaction
	}
	if invoice.IdempotencyKey != "" {
		if _, exists := u.s.invoicesByIdem[invoice.IdempotencyKey]; exists {
			return store.ErrInvalidTransaction
		}
	}
	u.invoices = append(u.invoices, *cloneInvoice(invoice))
	return nil
}

func (u *unitOfWork) FindInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	for _, inv := range u.invoices {
		if inv.ID == id {
			return cloneInvoice(inv), nil
		}
	}
	inv, ok := u.s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (u *unitOfWork) FindInvoiceByIdempotencyKey(ctx context.Context, key string) (*domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	for _, inv := range u.invoices {
		if inv.IdempotencyKey == key {
			return cloneInvoice(inv), nil
		}
	}
	id, ok := u.s.invoicesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(u.s.invoicesByID[id]), nil
}

func (u *unitOfWork) ReturnedQty(ctx context.Context, invoiceID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	out := make(map[string]int)
	for _, ret := range u.s.returnsByInvoice[invoiceID] {
		for _, line := range ret.Lines {
			out[line.SKU] += line.Qty
		}
	}
	for _, ret := range u.returns {
		if ret.InvoiceID != invoiceID {
			continue
		}
		for _, line := range ret.Lines {
			out[line.SKU] += line.Qty
		}
	}
	return out, nil
}

func (u *unitOfWork) SaveReturn(ctx context.Context, ret domain.Return) error {
	if err := ctx.Err(); err != nil {
		return poserr.Unavailable(err)
	}
	if ret.ID == "" || ret.InvoiceID == "" || len(ret.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	u.returns = append(u.returns, cloneReturn(ret))
	return nil
}

func (u *unitOfWork) commit() {
	for sku, item := range u.items {
		u.s.items[sku] = item
	}
	for id, account := range u.accounts {
		u.s.accounts[id] = account
	}
	u.s.ledger = append(u.s.ledger, u.ledger...)
	for _, inv := range u.invoices {
		u.s.invoicesByID[inv.ID] = inv
		if inv.IdempotencyKey != "" {
			u.s.invoicesByIdem[inv.IdempotencyKey] = inv.ID
		}
	}
	for _, ret := range u.returns {
		u.s.returnsByInvoice[ret.InvoiceID] = append(u.s.returnsByInvoice[ret.InvoiceID], ret)
	}
}
