package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/store"
	"bizzai/backend/internal/xid"
)

const maxTxRetries = 3

// InTx runs fn inside a serializable transaction. Serialization failures
// and deadlocks rerun fn from the start, so fn must not keep state across
// attempts other than what it rebuilds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 250 * time.Millisecond
	policy.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if isSerializationFailure(err) {
			s.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, maxTxRetries), ctx))
	return classify(err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: sqlTx, now: time.Now().UTC()}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type pgTx struct {
	tx  *sql.Tx
	now time.Time
}

// LockItems takes row locks in SKU order.
func (t *pgTx) LockItems(ctx context.Context, skus []string) (map[string]domain.Item, error) {
	result := make(map[string]domain.Item, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE sku = ANY($1)
		ORDER BY sku
		FOR UPDATE
	`, skus)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, classify(err)
		}
		result[item.SKU] = item
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

// DecrementStock only applies when enough stock remains; the CHECK
// constraint on stock_qty backs the guard.
func (t *pgTx) DecrementStock(ctx context.Context, sku string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET stock_qty = stock_qty - $1, version = version + 1, updated_at = $3
		WHERE sku = $2 AND stock_qty >= $1
	`, qty, sku, t.now)
	if err != nil {
		if isCheckViolation(err) {
			return poserr.InsufficientStock(sku, qty, 0)
		}
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 1 {
		return nil
	}

	var available int
	err = t.tx.QueryRowContext(ctx, `SELECT stock_qty FROM items WHERE sku = $1`, sku).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return classify(err)
	}
	return poserr.InsufficientStock(sku, qty, available)
}

func (t *pgTx) IncrementStock(ctx context.Context, sku string, qty int) error {
	if qty < 1 {
		return store.ErrInvalidTransaction
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE items
		SET stock_qty = stock_qty + $1, version = version + 1, updated_at = $3
		WHERE sku = $2
	`, qty, sku, t.now)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *pgTx) Credit(ctx context.Context, accountID string, amountCents int64, ref domain.LedgerRef) error {
	return t.post(ctx, accountID, domain.EntryCredit, amountCents, ref)
}

func (t *pgTx) Debit(ctx context.Context, accountID string, amountCents int64, ref domain.LedgerRef) error {
	return t.post(ctx, accountID, domain.EntryDebit, amountCents, ref)
}

func (t *pgTx) post(ctx context.Context, accountID string, direction domain.EntryDirection, amountCents int64, ref domain.LedgerRef) error {
	if amountCents < 0 {
		return store.ErrInvalidTransaction
	}
	delta := amountCents
	if direction == domain.EntryDebit {
		delta = -amountCents
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE cash_bank_accounts
		SET balance_cents = balance_cents + $1, updated_at = $3
		WHERE id = $2
	`, delta, accountID, t.now)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, account_id, direction, amount_cents, source_type, source_id, memo, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, xid.New("le"), accountID, string(direction), amountCents, string(ref.SourceType), ref.SourceID, ref.Memo, t.now)
	return classify(err)
}

func (t *pgTx) SaveInvoice(ctx context.Context, invoice domain.Invoice) error {
	if invoice.ID == "" || len(invoice.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = t.now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, idempotency_key, terminal_id, subtotal_cents, discount_cents, tax_cents,
			total_cents, payment_method, account_id, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, invoice.ID, nullIfEmpty(invoice.IdempotencyKey), invoice.TerminalID, invoice.SubtotalCents,
		invoice.DiscountCents, invoice.TaxCents, invoice.TotalCents, string(invoice.PaymentMethod),
		invoice.AccountID, invoice.CreatedBy, invoice.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return classify(err)
	}

	for i, line := range invoice.Lines {
		if line.Qty < 1 || line.UnitPriceCents < 0 {
			return store.ErrInvalidTransaction
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, line_no, sku, name, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, invoice.ID, i+1, line.SKU, line.Name, line.Qty, line.UnitPriceCents)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (t *pgTx) FindInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return loadInvoice(ctx, t.tx, "id", id, true)
}

func (t *pgTx) FindInvoiceByIdempotencyKey(ctx context.Context, key string) (*domain.Invoice, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return loadInvoice(ctx, t.tx, "idempotency_key", key, false)
}

func (t *pgTx) ReturnedQty(ctx context.Context, invoiceID string) (map[string]int, error) {
	result := make(map[string]int)
	rows, err := t.tx.QueryContext(ctx, `
		SELECT rl.sku, COALESCE(SUM(rl.qty), 0)::int
		FROM returns r
		JOIN return_lines rl ON rl.return_id = r.id
		WHERE r.invoice_id = $1
		GROUP BY rl.sku
	`, invoiceID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var sku string
		var qty int
		if err := rows.Scan(&sku, &qty); err != nil {
			return nil, classify(err)
		}
		result[sku] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (t *pgTx) SaveReturn(ctx context.Context, ret domain.Return) error {
	if ret.ID == "" || ret.InvoiceID == "" || len(ret.Lines) == 0 {
		return store.ErrInvalidTransaction
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = t.now
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO returns (
			id, invoice_id, gross_cents, fee_cents, refund_cents, refund_method,
			account_id, reason, processed_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, ret.ID, ret.InvoiceID, ret.GrossCents, ret.FeeCents, ret.RefundCents, string(ret.RefundMethod),
		ret.AccountID, ret.Reason, ret.ProcessedBy, ret.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return classify(err)
	}

	for i, line := range ret.Lines {
		if line.Qty < 1 {
			return store.ErrInvalidTransaction
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO return_lines (return_id, line_no, sku, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5)
		`, ret.ID, i+1, line.SKU, line.Qty, line.UnitPriceCents)
		if err != nil {
			return classify(err)
		}
	}
	return nil
}
