package service

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"bizzai/backend/internal/barcode"
	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/logger"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/pricing"
	"bizzai/backend/internal/store"
)

const defaultOperationTimeout = 5 * time.Second

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Totals           pricing.TotalsPolicy
	Refunds          pricing.RefundPolicy
	CashAccountID    string
	BankAccountID    string
	OperationTimeout time.Duration
	// CartIdleTTL expires carts left untouched; zero means eight hours.
	CartIdleTTL      time.Duration
	Logger           *zap.Logger
}

type Service struct {
	repo          store.Repository
	resolver      *barcode.Resolver
	totals        pricing.TotalsPolicy
	refunds       pricing.RefundPolicy
	cashAccountID string
	bankAccountID string
	opTimeout     time.Duration
	logger        *zap.Logger
	sessions      *sessionRegistry
	now           func() time.Time
}

func New(repo store.Repository, resolver *barcode.Resolver, opts Options) *Service {
	if opts.Totals == nil {
		opts.Totals = pricing.NoAdjustments{}
	}
	if opts.Refunds == nil {
		opts.Refunds = pricing.FullRefund{}
	}
	if opts.CashAccountID == "" {
		opts.CashAccountID = "cash-drawer"
	}
	if opts.BankAccountID == "" {
		opts.BankAccountID = "bank-main"
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = defaultOperationTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = barcode.NewResolver(repo, nil, 0, opts.Logger)
	}

	return &Service{
		repo:          repo,
		resolver:      resolver,
		totals:        opts.Totals,
		refunds:       opts.Refunds,
		cashAccountID: opts.CashAccountID,
		bankAccountID: opts.BankAccountID,
		opTimeout:     opts.OperationTimeout,
		logger:        opts.Logger.Named("service"),
		sessions:      newSessionRegistry(opts.CartIdleTTL),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// AccountFor maps a payment method to the cash/bank account it settles into.
func (s *Service) AccountFor(method domain.PaymentMethod) string {
	if method.IsCash() {
		return s.cashAccountID
	}
	return s.bankAccountID
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	l := logger.FromContext(ctx, s.logger)
	if actor, ok := ActorFromContext(ctx); ok {
		l = l.With(zap.String("actor", actor.Username))
	}
	return l
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

func normalizePaymentMethod(raw domain.PaymentMethod, fallback domain.PaymentMethod) (domain.PaymentMethod, error) {
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(raw))))
	if method == "" {
		method = fallback
	}
	if !method.Valid() {
		return "", poserr.Invalid("unsupported payment method %q", raw)
	}
	return method, nil
}

// storageErr reports deadline and cancellation as a retryable outage.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return poserr.Unavailable(err)
	}
	return err
}
