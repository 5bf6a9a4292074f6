package web

import (
	"net/http"
	"time"

	"inventory-ledger/internal/core"

	"github.com/go-chi/chi/v5"
)

type createLayerRequest struct {
	Item        string          `json:"item"`
	BatchNumber string          `json:"batch_number"`
	Quantity    int64           `json:"quantity"`
	UnitCost    int64           `json:"unit_cost"`
	WarehouseID *int            `json:"warehouse_id"`
	LocationID  *int            `json:"location_id"`
	QCRequired  bool            `json:"qc_required"`
	SourceType  core.SourceType `json:"source_type"`
	SourceID    string          `json:"source_id"`
	ReceiveDate *time.Time      `json:"receive_date"`
	Operator    string          `json:"operator"`
}

// apiCreateLayer handles POST /api/layers.
func (h *Handler) apiCreateLayer(w http.ResponseWriter, r *http.Request) {
	var req createLayerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.GetItem(r.Context(), req.Item)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	in := core.CreateLayerRequest{
		ItemID:      item.ID,
		BatchNumber: req.BatchNumber,
		Qty:         req.Quantity,
		UnitCost:    req.UnitCost,
		WarehouseID: req.WarehouseID,
		LocationID:  req.LocationID,
		QCRequired:  req.QCRequired,
		SourceType:  req.SourceType,
		SourceID:    req.SourceID,
		Operator:    req.Operator,
	}
	if req.ReceiveDate != nil {
		in.ReceiveDate = *req.ReceiveDate
	}
	res, err := h.svc.CreateLayer(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// apiGetLayer handles GET /api/layers/{id}.
func (h *Handler) apiGetLayer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	layer, err := h.svc.GetLayer(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layer)
}

// apiListLayers handles GET /api/items/{ref}/layers.
func (h *Handler) apiListLayers(w http.ResponseWriter, r *http.Request) {
	layers, err := h.svc.ListLayers(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, layers)
}

type consumeRequest struct {
	Item            string     `json:"item"`
	Quantity        int64      `json:"quantity"`
	ConsumptionDate *time.Time `json:"consumption_date"`
	ReferenceType   string     `json:"reference_type"`
	ReferenceID     string     `json:"reference_id"`
}

// apiConsume handles POST /api/consumptions.
func (h *Handler) apiConsume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.GetItem(r.Context(), req.Item)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	in := core.ConsumeRequest{
		ItemID:        item.ID,
		Qty:           req.Quantity,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
	}
	if req.ConsumptionDate != nil {
		in.ConsumptionDate = *req.ConsumptionDate
	}
	res, err := h.svc.Consume(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type transferRequest struct {
	ToWarehouseID int                 `json:"to_warehouse_id"`
	ToLocationID  int                 `json:"to_location_id"`
	Quantity      int64               `json:"quantity"`
	Reason        core.TransferReason `json:"transfer_reason"`
	Operator      string              `json:"operator"`
}

// apiTransfer handles POST /api/layers/{id}/transfer.
func (h *Handler) apiTransfer(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := h.svc.Transfer(r.Context(), core.TransferRequest{
		LayerID:       id,
		ToWarehouseID: req.ToWarehouseID,
		ToLocationID:  req.ToLocationID,
		Qty:           req.Quantity,
		Reason:        req.Reason,
		Operator:      req.Operator,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// apiListTransfers handles GET /api/items/{ref}/transfers.
func (h *Handler) apiListTransfers(w http.ResponseWriter, r *http.Request) {
	ts, err := h.svc.ListTransfers(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}
