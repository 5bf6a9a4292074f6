package web

import (
	"net/http"

	"inventory-ledger/internal/core"
)

// apiCreateTest handles POST /api/qc/tests. The body is a core.TestDefinition
// without its id.
func (h *Handler) apiCreateTest(w http.ResponseWriter, r *http.Request) {
	var def core.TestDefinition
	if !decodeJSON(w, r, &def) {
		return
	}
	created, err := h.svc.CreateTestDefinition(r.Context(), def)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// apiGenerateInspection handles POST /api/layers/{id}/inspection.
func (h *Handler) apiGenerateInspection(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	order, err := h.svc.GenerateInspection(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// apiListInspections handles GET /api/inspections?status=PENDING.
func (h *Handler) apiListInspections(w http.ResponseWriter, r *http.Request) {
	status := core.InspectionStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, "unknown inspection status: "+string(status), "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	orders, err := h.svc.ListInspections(r.Context(), status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// apiGetInspection handles GET /api/inspections/{id}.
func (h *Handler) apiGetInspection(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	order, err := h.svc.GetInspection(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type startInspectionRequest struct {
	Inspector string `json:"inspector"`
}

// apiStartInspection handles POST /api/inspections/{id}/start.
func (h *Handler) apiStartInspection(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req startInspectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	order, err := h.svc.StartInspection(r.Context(), id, req.Inspector)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type submitInspectionRequest struct {
	Inspector string             `json:"inspector"`
	Results   []core.ResultInput `json:"results"`
}

// apiSubmitInspection handles POST /api/inspections/{id}/submit.
func (h *Handler) apiSubmitInspection(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req submitInspectionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	outcome, err := h.svc.SubmitInspection(r.Context(), id, req.Results, req.Inspector)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
