package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"bizzai/backend/internal/cart"
	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/xid"
)

const (
	defaultCartIdleTTL   = 8 * time.Hour
	sessionSweepInterval = time.Minute
)

// session owns one cart. Its mutex serializes every operation on the
// cart, including finalization.
type session struct {
	mu         sync.Mutex
	id         string
	terminalID string
	openedAt   time.Time
	lastSeen   atomic.Int64
	cart       *cart.Cart
}

func (s *session) touch(at time.Time) {
	s.lastSeen.Store(at.UnixNano())
}

func (s *session) idleSince(at time.Time) time.Duration {
	return at.Sub(time.Unix(0, s.lastSeen.Load()))
}

// sessionRegistry expires carts nobody touched for idleTTL. Expired carts
// are swept when a new one opens.
type sessionRegistry struct {
	mu        sync.RWMutex
	byID      map[string]*session
	idleTTL   time.Duration
	lastSweep time.Time
}

func newSessionRegistry(idleTTL time.Duration) *sessionRegistry {
	if idleTTL <= 0 {
		idleTTL = defaultCartIdleTTL
	}
	return &sessionRegistry{byID: make(map[string]*session), idleTTL: idleTTL}
}

// open registers a new session and reports how many idle ones were swept.
func (r *sessionRegistry) open(terminalID string, at time.Time) (*session, int) {
	sess := &session{
		id:         xid.New("cart"),
		terminalID: terminalID,
		openedAt:   at,
		cart:       cart.New(),
	}
	sess.touch(at)

	r.mu.Lock()
	defer r.mu.Unlock()
	swept := r.sweepLocked(at)
	r.byID[sess.id] = sess
	return sess, swept
}

func (r *sessionRegistry) sweepLocked(at time.Time) int {
	if at.Sub(r.lastSweep) < sessionSweepInterval {
		return 0
	}
	r.lastSweep = at
	swept := 0
	for id, sess := range r.byID {
		if sess.idleSince(at) > r.idleTTL {
			delete(r.byID, id)
			swept++
		}
	}
	return swept
}

// get returns a live session and marks it used. A session past its idle
// TTL is reported as missing even before the sweep collects it.
func (r *sessionRegistry) get(id string, at time.Time) (*session, error) {
	r.mu.RLock()
	sess, ok := r.byID[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if !ok || sess.idleSince(at) > r.idleTTL {
		return nil, poserr.NotFound("cart", id)
	}
	sess.touch(at)
	return sess, nil
}

func (r *sessionRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	return true
}

func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (s *Service) view(sess *session) domain.CartView {
	return domain.CartView{
		ID:         sess.id,
		TerminalID: sess.terminalID,
		Lines:      sess.cart.Lines(),
		Totals:     sess.cart.Totals(s.totals),
		OpenedAt:   sess.openedAt,
	}
}

// withSession runs fn while holding the session lock and returns the
// resulting cart view.
func (s *Service) withSession(cartID string, fn func(sess *session) error) (domain.CartView, error) {
	sess, err := s.sessions.get(cartID, s.now())
	if err != nil {
		return domain.CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := fn(sess); err != nil {
		return domain.CartView{}, err
	}
	return s.view(sess), nil
}

func (s *Service) OpenCart(ctx context.Context, req domain.OpenCartRequest) domain.CartView {
	terminalID := strings.TrimSpace(req.TerminalID)
	if terminalID == "" {
		terminalID = "default"
	}
	sess, swept := s.sessions.open(terminalID, s.now())
	if swept > 0 {
		s.log(ctx).Info("idle carts expired", zap.Int("count", swept))
	}
	s.log(ctx).Debug("cart opened", zap.String("cart_id", sess.id), zap.String("terminal_id", terminalID))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.view(sess)
}

func (s *Service) GetCart(_ context.Context, cartID string) (domain.CartView, error) {
	return s.withSession(cartID, func(*session) error { return nil })
}

// AbandonCart discards the session. Stock was never reserved, so nothing
// else changes.
func (s *Service) AbandonCart(ctx context.Context, cartID string) error {
	cartID = strings.TrimSpace(cartID)
	if !s.sessions.remove(cartID) {
		return poserr.NotFound("cart", cartID)
	}
	s.log(ctx).Debug("cart abandoned", zap.String("cart_id", cartID))
	return nil
}

func (s *Service) AddToCart(ctx context.Context, cartID string, req domain.AddLineRequest) (domain.CartView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sku := strings.TrimSpace(req.SKU)
	if sku == "" {
		return domain.CartView{}, poserr.Invalid("sku is required")
	}
	qty := req.Qty
	if qty == 0 {
		qty = 1
	}
	return s.withSession(cartID, func(sess *session) error {
		_, err := sess.cart.AddLine(ctx, s.repo, sku, qty)
		return storageErr(err)
	})
}

// ScanToCart resolves a scanned code and adds one unit. An unknown code
// leaves the cart untouched.
func (s *Service) ScanToCart(ctx context.Context, cartID string, code string) (domain.CartView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.withSession(cartID, func(sess *session) error {
		item, err := s.resolver.Resolve(ctx, code)
		if err != nil {
			return storageErr(err)
		}
		_, err = sess.cart.AddLine(ctx, s.repo, item.SKU, 1)
		return storageErr(err)
	})
}

func (s *Service) UpdateCartLine(ctx context.Context, cartID string, sku string, qty int) (domain.CartView, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sku = strings.TrimSpace(sku)
	return s.withSession(cartID, func(sess *session) error {
		return storageErr(sess.cart.UpdateLineQty(ctx, s.repo, sku, qty))
	})
}

// RemoveCartLine is unconditional; removing a SKU the cart does not hold
// returns the unchanged cart.
func (s *Service) RemoveCartLine(_ context.Context, cartID string, sku string) (domain.CartView, error) {
	sku = strings.TrimSpace(sku)
	return s.withSession(cartID, func(sess *session) error {
		sess.cart.RemoveLine(sku)
		return nil
	})
}

// OverrideLinePrice changes a captured unit price. Admin only.
func (s *Service) OverrideLinePrice(ctx context.Context, cartID string, sku string, unitPriceCents int64) (domain.CartView, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CartView{}, poserr.PermissionDenied("price override requires admin role")
	}
	sku = strings.TrimSpace(sku)
	view, err := s.withSession(cartID, func(sess *session) error {
		return sess.cart.OverrideUnitPrice(sku, unitPriceCents)
	})
	if err == nil {
		s.log(ctx).Info("cart price overridden",
			zap.String("cart_id", view.ID),
			zap.String("sku", sku),
			zap.Int64("unit_price_cents", unitPriceCents))
	}
	return view, err
}
