package store

import (
	"context"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
)

var (
	ErrNotFound           = poserr.ErrNotFound
	ErrInsufficientStock  = poserr.ErrInsufficientStock
	ErrInvalidTransaction = poserr.ErrInvalid
)

// ItemReader is the read side of the item catalog.
type ItemReader interface {
	GetItem(ctx context.Context, sku string) (*domain.Item, error)
	SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error)
}

// Tx is one unit of work. Everything staged through it commits or
// rolls back together when the InTx callback returns.
type Tx interface {
	// LockItems returns the current state of every known SKU and holds it
	// until the unit of work ends. Unknown SKUs are absent from the map.
	LockItems(ctx context.Context, skus []string) (map[string]domain.Item, error)
	// DecrementStock fails with ErrInsufficientStock instead of going negative.
	DecrementStock(ctx context.Context, sku string, qty int) error
	IncrementStock(ctx context.Context, sku string, qty int) error

	Credit(ctx context.Context, accountID string, amountCents int64, ref domain.LedgerRef) error
	Debit(ctx context.Context, accountID string, amountCents int64, ref domain.LedgerRef) error

	SaveInvoice(ctx context.Context, invoice domain.Invoice) error
	// FindInvoice loads and locks the invoice for the rest of the unit of work.
	FindInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	FindInvoiceByIdempotencyKey(ctx context.Context, key string) (*domain.Invoice, error)
	ReturnedQty(ctx context.Context, invoiceID string) (map[string]int, error)
	SaveReturn(ctx context.Context, ret domain.Return) error
}

type Repository interface {
	ItemReader

	FindInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	FindInvoiceByIdempotencyKey(ctx context.Context, key string) (*domain.Invoice, error)
	ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error)
	GetAccount(ctx context.Context, id string) (*domain.CashBankAccount, error)
	ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error)

	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
