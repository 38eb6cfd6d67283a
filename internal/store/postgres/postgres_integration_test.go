package postgres

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/service"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("BIZZAI_PG_INTEGRATION") != "1" {
		t.Skip("set BIZZAI_PG_INTEGRATION=1 to run postgres integration tests")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("bizzai_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, Migrate(s.DB(), nil))
	return s
}

func TestIntegrationConcurrentFinalizeOnLastUnit(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
	require.NoError(t, s.UpsertItem(ctx, domain.Item{SKU: "4006381333931", Name: "Marker", SellingPriceCents: 25, StockQty: 1}))

	svc := service.New(s, nil, service.Options{})

	carts := make([]string, 2)
	for i := range carts {
		view := svc.OpenCart(ctx, domain.OpenCartRequest{})
		_, err := svc.AddToCart(ctx, view.ID, domain.AddLineRequest{SKU: "4006381333931", Qty: 1})
		require.NoError(t, err)
		carts[i] = view.ID
	}

	errs := make([]error, len(carts))
	var wg sync.WaitGroup
	for i, id := range carts {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.FinalizeSale(ctx, domain.FinalizeRequest{CartID: id, PaymentMethod: domain.PaymentCash})
		}(i, id)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, poserr.ErrStockChanged) || poserr.IsRetryable(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	item, err := s.GetItem(ctx, "4006381333931")
	require.NoError(t, err)
	assert.Zero(t, item.StockQty)

	account, err := s.GetAccount(ctx, "cash-drawer")
	require.NoError(t, err)
	assert.Equal(t, int64(25), account.BalanceCents)
}

func TestIntegrationSaleAndReturnRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	svc := service.New(s, nil, service.Options{})

	view := svc.OpenCart(ctx, domain.OpenCartRequest{TerminalID: "t1"})
	_, err := svc.ScanToCart(ctx, view.ID, "12345678")
	require.NoError(t, err)
	_, err = svc.ScanToCart(ctx, view.ID, "12345678")
	require.NoError(t, err)

	sale, err := svc.FinalizeSale(ctx, domain.FinalizeRequest{CartID: view.ID, PaymentMethod: domain.PaymentCard, IdempotencyKey: "it-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(240000), sale.Invoice.TotalCents)

	loaded, err := svc.GetInvoice(ctx, sale.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 1)
	assert.Equal(t, 2, loaded.Lines[0].Qty)

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Lines:     []domain.ReturnLineRequest{{SKU: "12345678", Qty: 3}},
	})
	require.ErrorIs(t, err, poserr.ErrOverReturn)

	_, err = svc.ProcessReturn(ctx, domain.ReturnRequest{
		InvoiceID: sale.Invoice.ID,
		Lines:     []domain.ReturnLineRequest{{SKU: "12345678", Qty: 2}},
	})
	require.NoError(t, err)

	item, err := s.GetItem(ctx, "12345678")
	require.NoError(t, err)
	assert.Equal(t, 50, item.StockQty)

	statement, err := svc.GetAccountStatement(ctx, "bank-main", 10)
	require.NoError(t, err)
	assert.Zero(t, statement.Account.BalanceCents)
	assert.Len(t, statement.Entries, 2)

	returns, err := svc.ListReturns(ctx, sale.Invoice.ID)
	require.NoError(t, err)
	require.Len(t, returns, 1)
	assert.Equal(t, int64(240000), returns[0].RefundCents)
}
