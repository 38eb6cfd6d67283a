package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/store"
)

const (
	DefaultCashAccountID = "cash-drawer"
	DefaultBankAccountID = "bank-main"
)

// Store keeps every record in process memory. A unit of work holds the
// write lock for its whole duration, so finalize and return calls are
// serialized against each other and against stock reads.
type Store struct {
	mu               sync.RWMutex
	items            map[string]domain.Item
	invoicesByID     map[string]domain.Invoice
	invoicesByIdem   map[string]string
	returnsByInvoice map[string][]domain.Return
	accounts         map[string]domain.CashBankAccount
	ledger           []domain.LedgerEntry
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:            make(map[string]domain.Item),
		invoicesByID:     make(map[string]domain.Invoice),
		invoicesByIdem:   make(map[string]string),
		returnsByInvoice: make(map[string][]domain.Return),
		accounts:         make(map[string]domain.CashBankAccount),
		ledger:           make([]domain.LedgerEntry, 0, 128),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with the demo catalog, the default cash and
// bank accounts, and the dev admin/cashier users.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	for _, item := range []domain.Item{
		{SKU: "12345678", Name: "Wireless Mouse", Category: "Electronics", CostPriceCents: 50000, SellingPriceCents: 120000, StockQty: 50},
		{SKU: "87654321", Name: "Mechanical Keyboard", Category: "Electronics", CostPriceCents: 200000, SellingPriceCents: 450000, StockQty: 20},
		{SKU: "11223344", Name: "USB-C Cable", Category: "Accessories", CostPriceCents: 10000, SellingPriceCents: 35000, StockQty: 100},
		{SKU: "123456789", Name: "Laptop", Category: "Electronics", CostPriceCents: 5000000, SellingPriceCents: 6500000, StockQty: 10},
	} {
		s.PutItem(item)
	}
	s.PutAccount(domain.CashBankAccount{ID: DefaultCashAccountID, Name: "Cash Drawer", Kind: domain.AccountCash})
	s.PutAccount(domain.CashBankAccount{ID: DefaultBankAccountID, Name: "Main Bank Account", Kind: domain.AccountBank})
	s.usersByUsername = seedUsers(logger)
	return s
}

// seedUsers builds the dev/demo accounts. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD with dev fallbacks.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// PutItem inserts or replaces a catalog item.
func (s *Store) PutItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	s.items[item.SKU] = item
}

func (s *Store) PutAccount(account domain.CashBankAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = time.Now().UTC()
	}
	s.accounts[account.ID] = account
}

func (s *Store) GetItem(ctx context.Context, sku string) (*domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[sku]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) SearchItems(ctx context.Context, term string, limit int) ([]domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	needle := strings.ToLower(strings.TrimSpace(term))

	s.mu.RLock()
	matches := make([]domain.Item, 0, 16)
	for _, item := range s.items {
		if needle == "" ||
			strings.Contains(strings.ToLower(item.Name), needle) ||
			strings.Contains(strings.ToLower(item.SKU), needle) {
			matches = append(matches, item)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b domain.Item) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.SKU, b.SKU)
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) FindInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *Store) FindInvoiceByIdempotencyKey(ctx context.Context, key string) (*domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.invoicesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneInvoice(s.invoicesByID[id]), nil
}

func (s *Store) ListReturns(ctx context.Context, invoiceID string) ([]domain.Return, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.invoicesByID[invoiceID]; !ok {
		return nil, store.ErrNotFound
	}
	src := s.returnsByInvoice[invoiceID]
	out := make([]domain.Return, 0, len(src))
	for _, ret := range src {
		out = append(out, cloneReturn(ret))
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*domain.CashBankAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

// ListLedgerEntries returns the newest entries first.
func (s *Store) ListLedgerEntries(ctx context.Context, accountID string, limit int) ([]domain.LedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, poserr.Unavailable(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, store.ErrNotFound
	}
	out := make([]domain.LedgerEntry, 0, 16)
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].AccountID != accountID {
			continue
		}
		out = append(out, s.ledger[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneInvoice(src domain.Invoice) *domain.Invoice {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return &dup
}

func cloneReturn(src domain.Return) domain.Return {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}
