package web

import (
	"net/http"
	"time"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"

	"github.com/go-chi/chi/v5"
)

type reserveRequest struct {
	Item       string     `json:"item"`
	SourceType string     `json:"source_type"`
	SourceID   string     `json:"source_id"`
	Quantity   int64      `json:"quantity"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

// apiReserve handles POST /api/reservations.
func (h *Handler) apiReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.GetItem(r.Context(), req.Item)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	res, err := h.svc.Reserve(r.Context(), core.ReserveRequest{
		ItemID:     item.ID,
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Qty:        req.Quantity,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// apiRelease handles POST /api/reservations/{id}/release.
func (h *Handler) apiRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	res, err := h.svc.Release(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type sourceRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
}

// apiReleaseBySource handles POST /api/reservations/release.
func (h *Handler) apiReleaseBySource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	released, err := h.svc.ReleaseBySource(r.Context(), req.SourceType, req.SourceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, released)
}

// apiExpire handles POST /api/reservations/expire.
func (h *Handler) apiExpire(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.ExpireReservations(r.Context(), time.Now())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}

// apiAvailability handles GET /api/items/{ref}/availability.
func (h *Handler) apiAvailability(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetAvailability(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// apiListReservations handles GET /api/items/{ref}/reservations.
func (h *Handler) apiListReservations(w http.ResponseWriter, r *http.Request) {
	rs, err := h.svc.ListReservations(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

type orderRequest struct {
	SourceType string               `json:"source_type"`
	SourceID   string               `json:"source_id"`
	Lines      []app.OrderLineInput `json:"lines"`
	ExpiresAt  *time.Time           `json:"expires_at"`
}

func (o orderRequest) toApp() app.OrderRequest {
	return app.OrderRequest{SourceType: o.SourceType, SourceID: o.SourceID, Lines: o.Lines, ExpiresAt: o.ExpiresAt}
}

// apiConfirmOrder handles POST /api/orders/confirm.
func (h *Handler) apiConfirmOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.ConfirmOrder(r.Context(), req.toApp())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// apiCancelOrder handles POST /api/orders/cancel.
func (h *Handler) apiCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.svc.CancelOrder(r.Context(), req.SourceType, req.SourceID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// apiFulfillOrder handles POST /api/orders/fulfill. An Idempotency-Key header
// makes a retried request consume nothing new.
func (h *Handler) apiFulfillOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order := req.toApp()
	order.IdempotencyKey = r.Header.Get("Idempotency-Key")
	res, err := h.svc.FulfillOrder(r.Context(), order)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// apiTrialBalance handles GET /api/gl/trial-balance.
func (h *Handler) apiTrialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.svc.GetTrialBalance(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tb)
}
