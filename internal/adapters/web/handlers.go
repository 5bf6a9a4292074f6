package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"inventory-ledger/internal/app"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler holds the ApplicationService the routes call into.
type Handler struct {
	svc app.ApplicationService
	log *zap.Logger
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))
	r.Use(RequestBodyLimit(1 << 20)) // 1 MB

	r.Get("/api/health", h.health)

	r.Route("/api", func(r chi.Router) {
		// ── Catalog ───────────────────────────────────────────────────────────
		r.Get("/units", h.apiListUnits)
		r.Post("/units", h.apiCreateUnit)
		r.Get("/items", h.apiListItems)
		r.Post("/items", h.apiCreateItem)
		r.Get("/items/{ref}", h.apiGetItem)
		r.Get("/items/{ref}/stock", h.apiGetStock)
		r.Post("/items/{ref}/recalculate", h.apiRecalculate)
		r.Get("/items/{ref}/layers", h.apiListLayers)
		r.Get("/items/{ref}/availability", h.apiAvailability)
		r.Get("/items/{ref}/reservations", h.apiListReservations)
		r.Get("/items/{ref}/transfers", h.apiListTransfers)

		// ── Locations ─────────────────────────────────────────────────────────
		r.Get("/warehouses", h.apiListWarehouses)
		r.Post("/warehouses", h.apiCreateWarehouse)
		r.Get("/warehouses/{id}/locations", h.apiListLocations)
		r.Post("/warehouses/{id}/locations", h.apiCreateLocation)
		r.Post("/quarantine", h.apiEnsureQuarantine)

		// ── Layers ────────────────────────────────────────────────────────────
		r.Post("/layers", h.apiCreateLayer)
		r.Get("/layers/{id}", h.apiGetLayer)
		r.Post("/layers/{id}/transfer", h.apiTransfer)
		r.Post("/layers/{id}/inspection", h.apiGenerateInspection)
		r.Post("/consumptions", h.apiConsume)

		// ── Quality ───────────────────────────────────────────────────────────
		r.Post("/qc/tests", h.apiCreateTest)
		r.Get("/inspections", h.apiListInspections)
		r.Get("/inspections/{id}", h.apiGetInspection)
		r.Post("/inspections/{id}/start", h.apiStartInspection)
		r.Post("/inspections/{id}/submit", h.apiSubmitInspection)

		// ── Reservations ──────────────────────────────────────────────────────
		r.Post("/reservations", h.apiReserve)
		r.Post("/reservations/{id}/release", h.apiRelease)
		r.Post("/reservations/release", h.apiReleaseBySource)
		r.Post("/reservations/expire", h.apiExpire)

		// ── Orders ────────────────────────────────────────────────────────────
		r.Post("/orders/confirm", h.apiConfirmOrder)
		r.Post("/orders/cancel", h.apiCancelOrder)
		r.Post("/orders/fulfill", h.apiFulfillOrder)

		r.Get("/gl/trial-balance", h.apiTrialBalance)
	})

	return r
}

// health reports liveness only; it does not touch the database.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// idParam parses a numeric URL parameter, writing a 400 on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name+": "+chi.URLParam(r, name), "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
