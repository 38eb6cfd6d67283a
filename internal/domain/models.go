package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentQRIS     PaymentMethod = "qris"
	PaymentTransfer PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentTransfer:
		return true
	default:
		return false
	}
}

func (m PaymentMethod) IsCash() bool {
	return m == PaymentCash
}

type AccountKind string

const (
	AccountCash AccountKind = "cash"
	AccountBank AccountKind = "bank"
)

type EntryDirection string

const (
	EntryCredit EntryDirection = "credit"
	EntryDebit  EntryDirection = "debit"
)

type SourceType string

const (
	SourceInvoice SourceType = "invoice"
	SourceReturn  SourceType = "return"
)

// Item is a sellable catalog entry keyed by its barcode value.
type Item struct {
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Category          string    `json:"category"`
	CostPriceCents    int64     `json:"cost_price_cents"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	StockQty          int       `json:"stock_qty"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type CartLine struct {
	SKU             string `json:"sku"`
	Name            string `json:"name"`
	Qty             int    `json:"qty"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	PriceOverridden bool   `json:"price_overridden,omitempty"`
}

func (l CartLine) LineTotalCents() int64 {
	return int64(l.Qty) * l.UnitPriceCents
}

type Totals struct {
	SubtotalCents int64 `json:"subtotal_cents"`
	DiscountCents int64 `json:"discount_cents"`
	TaxCents      int64 `json:"tax_cents"`
	TotalCents    int64 `json:"total_cents"`
	ItemCount     int   `json:"item_count"`
	LineCount     int   `json:"line_count"`
}

type CartView struct {
	ID         string     `json:"id"`
	TerminalID string     `json:"terminal_id"`
	Lines      []CartLine `json:"lines"`
	Totals     Totals     `json:"totals"`
	OpenedAt   time.Time  `json:"opened_at"`
}

type InvoiceLine struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// Invoice is immutable once saved; corrections go through returns.
type Invoice struct {
	ID             string        `json:"id"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	TerminalID     string        `json:"terminal_id"`
	Lines          []InvoiceLine `json:"lines"`
	SubtotalCents  int64         `json:"subtotal_cents"`
	DiscountCents  int64         `json:"discount_cents"`
	TaxCents       int64         `json:"tax_cents"`
	TotalCents     int64         `json:"total_cents"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	AccountID      string        `json:"account_id"`
	CreatedBy      string        `json:"created_by"`
	CreatedAt      time.Time     `json:"created_at"`
}

// QtyBySKU sums invoiced quantity per SKU.
func (inv Invoice) QtyBySKU() map[string]int {
	out := make(map[string]int, len(inv.Lines))
	for _, line := range inv.Lines {
		out[line.SKU] += line.Qty
	}
	return out
}

// Line returns the first invoice line for sku.
func (inv Invoice) Line(sku string) (InvoiceLine, bool) {
	for _, line := range inv.Lines {
		if line.SKU == sku {
			return line, true
		}
	}
	return InvoiceLine{}, false
}

type ReturnLine struct {
	SKU            string `json:"sku"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Return struct {
	ID           string        `json:"id"`
	InvoiceID    string        `json:"invoice_id"`
	Lines        []ReturnLine  `json:"lines"`
	GrossCents   int64         `json:"gross_cents"`
	FeeCents     int64         `json:"fee_cents"`
	RefundCents  int64         `json:"refund_cents"`
	RefundMethod PaymentMethod `json:"refund_method"`
	AccountID    string        `json:"account_id"`
	Reason       string        `json:"reason,omitempty"`
	ProcessedBy  string        `json:"processed_by"`
	CreatedAt    time.Time     `json:"created_at"`
}

type CashBankAccount struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Kind         AccountKind `json:"kind"`
	BalanceCents int64       `json:"balance_cents"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type LedgerEntry struct {
	ID          string         `json:"id"`
	AccountID   string         `json:"account_id"`
	Direction   EntryDirection `json:"direction"`
	AmountCents int64          `json:"amount_cents"`
	SourceType  SourceType     `json:"source_type"`
	SourceID    string         `json:"source_id"`
	Memo        string         `json:"memo,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// LedgerRef identifies the document behind a balance change.
type LedgerRef struct {
	SourceType SourceType
	SourceID   string
	Memo       string
}

type AccountStatement struct {
	Account CashBankAccount `json:"account"`
	Entries []LedgerEntry   `json:"entries"`
}

type OpenCartRequest struct {
	TerminalID string `json:"terminal_id" validate:"omitempty,max=64"`
}

type AddLineRequest struct {
	SKU string `json:"sku" validate:"required,max=64"`
	Qty int    `json:"qty" validate:"omitempty,min=1"`
}

type ScanRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

type UpdateLineRequest struct {
	Qty *int `json:"qty" validate:"required,min=0"`
}

type PriceOverrideRequest struct {
	UnitPriceCents *int64 `json:"unit_price_cents" validate:"required,min=0"`
}

type FinalizeRequest struct {
	CartID            string        `json:"-"`
	PaymentMethod     PaymentMethod `json:"payment_method" validate:"required,oneof=cash card qris transfer"`
	IdempotencyKey    string        `json:"idempotency_key" validate:"omitempty,max=128"`
	CashReceivedCents int64         `json:"cash_received_cents" validate:"min=0"`
}

type FinalizeResponse struct {
	Invoice     Invoice `json:"invoice"`
	ChangeCents int64   `json:"change_cents"`
	Duplicate   bool    `json:"duplicate"`
}

type ReturnLineRequest struct {
	SKU string `json:"sku" validate:"required,max=64"`
	Qty int    `json:"qty" validate:"required,min=1"`
}

type ReturnRequest struct {
	InvoiceID    string              `json:"invoice_id" validate:"required"`
	Lines        []ReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
	RefundMethod PaymentMethod       `json:"refund_method" validate:"omitempty,oneof=cash card qris transfer"`
	Reason       string              `json:"reason" validate:"max=256"`
	ManagerPIN   string              `json:"manager_pin" validate:"required"`
}

type ReturnResponse struct {
	Return Return `json:"return"`
}

type LabelRequest struct {
	SKU          string `json:"sku" validate:"required,max=64"`
	Format       string `json:"format" validate:"required,oneof=CODE128 CODE39 EAN13 UPC"`
	Copies       int    `json:"copies" validate:"required,min=1,max=500"`
	IncludeName  bool   `json:"include_name"`
	IncludePrice bool   `json:"include_price"`
}

type LabelJob struct {
	SKU          string `json:"sku"`
	Code         string `json:"code"`
	Format       string `json:"format"`
	Copies       int    `json:"copies"`
	Name         string `json:"name,omitempty"`
	PriceCents   int64  `json:"price_cents,omitempty"`
	IncludeName  bool   `json:"include_name"`
	IncludePrice bool   `json:"include_price"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
