package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"bizzai/backend/internal/domain"
	"bizzai/backend/internal/logger"
	"bizzai/backend/internal/poserr"
	"bizzai/backend/internal/service"
	"bizzai/backend/internal/xid"
)

const maxJSONBody = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	validate      *validator.Validate
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, log *zap.Logger) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        log.Named("http"),
		validate:      newValidator(),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/items/barcode/{code}", a.requireAuth(a.handleResolveBarcode, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/items/search", a.requireAuth(a.handleSearchItems, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/carts", a.requireAuth(a.handleCarts, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/carts/{id}", a.requireAuth(a.handleCart, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/carts/{id}/lines", a.requireAuth(a.handleCartLines, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/carts/{id}/scan", a.requireAuth(a.handleCartScan, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/carts/{id}/lines/{sku}", a.requireAuth(a.handleCartLine, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/carts/{id}/lines/{sku}/price", a.requireAuth(a.handleCartLinePrice, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/carts/{id}/finalize", a.requireAuth(a.handleFinalize, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/invoices/{id}", a.requireAuth(a.handleInvoice, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/invoices/{id}/returns", a.requireAuth(a.handleInvoiceReturns, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/returns", a.requireAuth(a.handleReturns, domain.RoleCashier, domain.RoleAdmin))

	mux.HandleFunc("/api/v1/accounts/{id}", a.requireAuth(a.handleAccount, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/labels", a.requireAuth(a.handleLabels, domain.RoleCashier, domain.RoleAdmin))
	mux.HandleFunc("/api/v1/users/cashiers", a.requireAuth(a.handleCashiers, domain.RoleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeServiceError(w, r, poserr.Unauthenticated("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeServiceError(w, r, poserr.PermissionDenied("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, X-Request-ID")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = xid.New("req")
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx, reqLogger := logger.WithRequestID(r.Context(), a.logger, requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		reqLogger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

// decodeAndValidate writes a 400 and returns false when the body is not a
// valid request.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validateRequest(dest); err != nil {
		a.writeServiceError(w, r, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

// writeServiceError maps a domain error to its status and body. 5xx bodies
// never carry the underlying cause.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := poserr.HTTPStatus(err)
	code := poserr.Code(err)
	reqLogger := logger.FromContext(r.Context(), a.logger)

	body := map[string]any{"code": code}
	switch {
	case status == http.StatusServiceUnavailable:
		reqLogger.Warn("persistence unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		body["error"] = "service temporarily unavailable, retry the request"
	case status >= 500:
		reqLogger.Error("internal error", zap.Error(err))
		body["error"] = "internal server error"
	default:
		body["error"] = poserr.Hint(err)
		if details := poserr.Details(err); len(details) > 0 {
			body["details"] = details
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
