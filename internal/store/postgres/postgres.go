package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/store"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, classify(err)
	}

	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already opened pool.
func NewWithDB(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger.Named("postgres")}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `sku, name, category, cost_price_cents, selling_price_cents, stock_qty, version, updated_at`

func scanItem(row interface{ Scan(dest ...any) error }) (domain.Item, error) {
	var item domain.Item
	err := row.Scan(&item.SKU, &item.Name, &item.Category, &item.CostPriceCents,
		&item.SellingPriceCents, &item.StockQty, &item.Version, &item.UpdatedAt)
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, err
}

func (s *Store) GetItem(ctx context.Context, sku string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE sku = $1
	`, sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return &item, nil
}

func (s *Store) SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	if limit < 1 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(term))) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE lower(name) LIKE $1 OR lower(sku) LIKE $1
		ORDER BY lower(name), sku
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, classify(err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return items, nil
}

// UpsertItem inserts or replaces a catalog row. Used by seeding and tests.
func (s *Store) UpsertItem(ctx context.Context, item domain.Item) error {
	if strings.TrimSpace(item.SKU) == "" || item.StockQty < 0 || item.SellingPriceCents < 0 {
		return store.ErrInvalidTransaction
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (sku, name, category, cost_price_cents, selling_price_cents, stock_qty, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,now())
		ON CONFLICT (sku) DO UPDATE
		SET name = EXCLUDED.name,
			category = EXCLUDED.category,
			cost_price_cents = EXCLUDED.cost_price_cents,
			selling_price_cents = EXCLUDED.selling_price_cents,
			stock_qty = EXCLUDED.stock_qty,
			version = items.version + 1,
			updated_at = now()
	`, item.SKU, item.Name, item.Category, item.CostPriceCents, item.SellingPriceCents, item.StockQty)
	return classify(err)
}

func (s *Store) FindInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return loadInvoice(ctx, s.db, "id", id, false)
}

func (s *Store) FindInvoiceByIdempotencyKey(ctx context.Context, key string) (*domain.Invoice, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return loadInvoice(ctx, s.db, "idempotency_key", key, false)
}

func (s *Store) ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE id = $1)`, invoiceID).Scan(&exists); err != nil {
		return nil, classify(err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, gross_cents, fee_cents, refund_cents, refund_method, account_id, reason, processed_by, created_at
		FROM returns
		WHERE invoice_id = $1
		ORDER BY created_at ASC, id ASC
	`, invoiceID)
	if err != nil {
		return nil, classify(err)
	}
	returns := make([]domain.Return, 0, 4)
	for rows.Next() {
		var ret domain.Return
		var method string
		if err := rows.Scan(&ret.ID, &ret.InvoiceID, &ret.GrossCents, &ret.FeeCents, &ret.RefundCents,
			&method, &ret.AccountID, &ret.Reason, &ret.ProcessedBy, &ret.CreatedAt); err != nil {
			_ = rows.Close()
			return nil, classify(err)
		}
		ret.RefundMethod = domain.PaymentMethod(method)
		ret.CreatedAt = ret.CreatedAt.UTC()
		returns = append(returns, ret)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, classify(err)
	}
	_ = rows.Close()

	for i := range returns {
		lines, err := loadReturnLines(ctx, s.db, returns[i].ID)
		if err != nil {
			return nil, err
		}
		returns[i].Lines = lines
	}
	return returns, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.CashBankAccount, error) {
	account, err := loadAccount(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListLedgerEntries returns the newest entries first.
func (s *Store) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 50
	}
	if _, err := loadAccount(ctx, s.db, accountID, false); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, direction, amount_cents, source_type, source_id, memo, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.LedgerEntry
		var direction, sourceType string
		if err := rows.Scan(&entry.ID, &entry.AccountID, &direction, &entry.AmountCents,
			&sourceType, &entry.SourceID, &entry.Memo, &entry.CreatedAt); err != nil {
			return nil, classify(err)
		}
		entry.Direction = domain.EntryDirection(direction)
		entry.SourceType = domain.SourceType(sourceType)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return classify(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, classify(err)
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func loadInvoice(ctx context.Context, q querier, column string, value string, forUpdate bool) (*domain.Invoice, error) {
	query := `
		SELECT id, COALESCE(idempotency_key, ''), terminal_id, subtotal_cents, discount_cents, tax_cents,
			total_cents, payment_method, account_id, created_by, created_at
		FROM invoices
		WHERE ` + column + ` = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var inv domain.Invoice
	var method string
	err := q.QueryRowContext(ctx, query, value).Scan(&inv.ID, &inv.IdempotencyKey, &inv.TerminalID,
		&inv.SubtotalCents, &inv.DiscountCents, &inv.TaxCents, &inv.TotalCents,
		&method, &inv.AccountID, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	inv.PaymentMethod = domain.PaymentMethod(method)
	inv.CreatedAt = inv.CreatedAt.UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT sku, name, qty, unit_price_cents
		FROM invoice_lines
		WHERE invoice_id = $1
		ORDER BY line_no ASC
	`, inv.ID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.InvoiceLine
		if err := rows.Scan(&line.SKU, &line.Name, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, classify(err)
		}
		inv.Lines = append(inv.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return &inv, nil
}

func loadReturnLines(ctx context.Context, q querier, returnID string) ([]domain.ReturnLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT sku, qty, unit_price_cents
		FROM return_lines
		WHERE return_id = $1
		ORDER BY line_no ASC
	`, returnID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	lines := make([]domain.ReturnLine, 0, 4)
	for rows.Next() {
		var line domain.ReturnLine
		if err := rows.Scan(&line.SKU, &line.Qty, &line.UnitPriceCents); err != nil {
			return nil, classify(err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return lines, nil
}

func loadAccount(ctx context.Context, q querier, id string, forUpdate bool) (domain.CashBankAccount, error) {
	query := `
		SELECT id, name, kind, balance_cents, updated_at
		FROM cash_bank_accounts
		WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var account domain.CashBankAccount
	var kind string
	err := q.QueryRowContext(ctx, query, id).Scan(&account.ID, &account.Name, &kind, &account.BalanceCents, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CashBankAccount{}, store.ErrNotFound
		}
		return domain.CashBankAccount{}, classify(err)
	}
	account.Kind = domain.AccountKind(kind)
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
