package memory

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/store"
)

func newFixture(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.PutItem(domain.Item{SKU: "12345678", Name: "Wireless Mouse", StockQty: 10, SellingPriceCents: 100})
	s.PutItem(domain.Item{SKU: "87654321", Name: "Mechanical Keyboard", StockQty: 2, SellingPriceCents: 450})
	s.PutAccount(domain.CashBankAccount{ID: DefaultCashAccountID, Kind: domain.AccountCash})
	return s
}

func TestInTxCommitsAllWrites(t *testing.T) {
	s := newFixture(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.DecrementStock(ctx, "12345678", 2))
		require.NoError(t, tx.SaveInvoice(ctx, domain.Invoice{
			ID:             "inv_1",
			IdempotencyKey: "idem-1",
			Lines:          []domain.InvoiceLine{{SKU: "12345678", Qty: 2, UnitPriceCents: 100}},
			TotalCents:     200,
		}))
		return tx.Credit(ctx, DefaultCashAccountID, 200, domain.LedgerRef{SourceType: domain.SourceInvoice, SourceID: "inv_1"})
	})
	require.NoError(t, err)

	item, err := s.GetItem(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, 8, item.StockQty)
	assert.Equal(t, int64(1), item.Version)

	inv, err := s.FindInvoiceByIdempotencyKey(ctx, "idem-1")
	require.NoError(t, err)
	assert.Equal(t, "inv_1", inv.ID)

	account, err := s.GetAccount(ctx, DefaultCashAccountID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), account.BalanceCents)

	entries, err := s.ListLedgerEntries(ctx, DefaultCashAccountID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EntryCredit, entries[0].Direction)
	assert.Equal(t, "inv_1", entries[0].SourceID)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newFixture(t)
	ctx := context.Background()
	boom := errors.New("ledger offline")

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.DecrementStock(ctx, "12345678", 5))
		require.NoError(t, tx.SaveInvoice(ctx, domain.Invoice{ID: "inv_2", Lines: []domain.InvoiceLine{{SKU: "12345678", Qty: 5}}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	item, err := s.GetItem(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, 10, item.StockQty)

	_, err = s.FindInvoice(ctx, "inv_2")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDecrementStockNeverGoesNegative(t *testing.T) {
	s := newFixture(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.DecrementStock(ctx, "87654321", 3)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrInsufficientStock))

	var stockErr *poserr.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 2, stockErr.Available)

	item, _ := s.GetItem(ctx, "87654321")
	assert.Equal(t, 2, item.StockQty)
}

func TestReturnedQtySeesStagedReturns(t *testing.T) {
	s := newFixture(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.SaveInvoice(ctx, domain.Invoice{ID: "inv_3", Lines: []domain.InvoiceLine{{SKU: "12345678", Qty: 4}}}))
		require.NoError(t, tx.SaveReturn(ctx, domain.Return{ID: "ret_1", InvoiceID: "inv_3", Lines: []domain.ReturnLine{{SKU: "12345678", Qty: 1}}}))
		qty, err := tx.ReturnedQty(ctx, "inv_3")
		require.NoError(t, err)
		assert.Equal(t, 1, qty["12345678"])
		return nil
	})
	require.NoError(t, err)

	returns, err := s.ListReturns(ctx, "inv_3")
	require.NoError(t, err)
	assert.Len(t, returns, 1)
}

func TestInTxRejectsCancelledContext(t *testing.T) {
	s := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.InTx(ctx, func(context.Context, store.Tx) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.True(t, poserr.IsRetryable(err))
}

func TestSearchItemsIsCaseInsensitive(t *testing.T) {
	s := newFixture(t)

	items, err := s.SearchItems(context.Background(), "MOUSE", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "12345678", items[0].SKU)

	all, err := s.SearchItems(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewSeededHasAccountsAndUsers(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	_, err := s.GetAccount(ctx, DefaultCashAccountID)
	require.NoError(t, err)
	_, err = s.GetAccount(ctx, DefaultBankAccountID)
	require.NoError(t, err)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	item, err := s.GetItem(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, "Wireless Mouse", item.Name)
}
