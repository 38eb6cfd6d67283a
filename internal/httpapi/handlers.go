package httpapi

import (
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"

	"bizzai/backend/internal/domain"
)

func (a *API) handleResolveBarcode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	item, err := a.service.ResolveBarcode(r.Context(), r.PathValue("code"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (a *API) handleSearchItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 20, 100)
	items, err := a.service.SearchItems(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCarts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.OpenCartRequest
	if r.ContentLength != 0 {
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
	}

	cart := a.service.OpenCart(r.Context(), req)
	writeJSON(w, http.StatusCreated, map[string]any{"cart": cart})
}

func (a *API) handleCart(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		cart, err := a.service.GetCart(r.Context(), cartID)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
	case http.MethodDelete:
		if err := a.service.AbandonCart(r.Context(), cartID); err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartLines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.AddLineRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	cart, err := a.service.AddToCart(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ScanRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	cart, err := a.service.ScanToCart(r.Context(), r.PathValue("id"), req.Code)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

func (a *API) handleCartLine(w http.ResponseWriter, r *http.Request) {
	cartID := r.PathValue("id")
	sku := r.PathValue("sku")

	switch r.Method {
	case http.MethodPatch:
		var req domain.UpdateLineRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}
		cart, err := a.service.UpdateCartLine(r.Context(), cartID, sku, *req.Qty)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
	case http.MethodDelete:
		cart, err := a.service.RemoveCartLine(r.Context(), cartID, sku)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCartLinePrice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PriceOverrideRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	cart, err := a.service.OverrideLinePrice(r.Context(), r.PathValue("id"), r.PathValue("sku"), *req.UnitPriceCents)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cart": cart})
}

// handleFinalize accepts the idempotency key from the body or from the
// Idempotency-Key header; the body wins when both are set.
func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.FinalizeRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	req.CartID = r.PathValue("id")
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.FinalizeSale(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	invoice, err := a.service.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleInvoiceReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	returns, err := a.service.ListReturns(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleReturns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.ReturnRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}
	if !a.pinLimiter.Allow("pin:return:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	resp, err := a.service.ProcessReturn(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 50, 500)
	statement, err := a.service.GetAccountStatement(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (a *API) handleLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.LabelRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	job, err := a.service.PrepareLabels(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"label": job})
}

func (a *API) handleCashiers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
	case http.MethodPost:
		var req domain.CashierCreateRequest
		if !a.decodeAndValidate(w, r, &req) {
			return
		}

		cashier, err := a.auth.CreateCashier(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
	default:
		writeMethodNotAllowed(w)
	}
}
