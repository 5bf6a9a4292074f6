package web

import (
	"net/http"

	"inventory-ledger/internal/core"

	"github.com/go-chi/chi/v5"
)

type createUnitRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// apiListUnits handles GET /api/units.
func (h *Handler) apiListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.svc.ListUnits(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, units)
}

// apiCreateUnit handles POST /api/units.
func (h *Handler) apiCreateUnit(w http.ResponseWriter, r *http.Request) {
	var req createUnitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	unit, err := h.svc.CreateUnit(r.Context(), req.Code, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unit)
}

type createItemRequest struct {
	Code            string               `json:"code"`
	Name            string               `json:"name"`
	BaseUnit        string               `json:"base_unit"`
	ItemClass       string               `json:"item_class"`
	ValuationMethod core.ValuationMethod `json:"valuation_method"`
	StandardCost    int64                `json:"standard_cost"`
}

// apiListItems handles GET /api/items.
func (h *Handler) apiListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListItems(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// apiCreateItem handles POST /api/items.
func (h *Handler) apiCreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := h.svc.CreateItem(r.Context(), core.CreateItemRequest{
		Code:            req.Code,
		Name:            req.Name,
		BaseUnit:        req.BaseUnit,
		ItemClass:       req.ItemClass,
		ValuationMethod: req.ValuationMethod,
		StandardCost:    req.StandardCost,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

// apiGetItem handles GET /api/items/{ref}. ref is an id or an item code.
func (h *Handler) apiGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.GetItem(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// apiGetStock handles GET /api/items/{ref}/stock.
func (h *Handler) apiGetStock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.svc.GetStock(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stock)
}

// apiRecalculate handles POST /api/items/{ref}/recalculate.
func (h *Handler) apiRecalculate(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.RecalculateItemTotals(r.Context(), chi.URLParam(r, "ref"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

type createWarehouseRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// apiListWarehouses handles GET /api/warehouses.
func (h *Handler) apiListWarehouses(w http.ResponseWriter, r *http.Request) {
	whs, err := h.svc.ListWarehouses(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, whs)
}

// apiCreateWarehouse handles POST /api/warehouses.
func (h *Handler) apiCreateWarehouse(w http.ResponseWriter, r *http.Request) {
	var req createWarehouseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wh, err := h.svc.CreateWarehouse(r.Context(), req.Code, req.Name)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wh)
}

type createLocationRequest struct {
	LocationCode      string            `json:"location_code"`
	LocationType      core.LocationType `json:"location_type"`
	CapacityQty       *int64            `json:"capacity_qty"`
	ReservedForItemID *int              `json:"reserved_for_item_id"`
}

// apiListLocations handles GET /api/warehouses/{id}/locations.
func (h *Handler) apiListLocations(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	locs, err := h.svc.ListLocations(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, locs)
}

// apiCreateLocation handles POST /api/warehouses/{id}/locations.
func (h *Handler) apiCreateLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req createLocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	loc, err := h.svc.CreateLocation(r.Context(), core.CreateLocationRequest{
		WarehouseID:       id,
		LocationCode:      req.LocationCode,
		LocationType:      req.LocationType,
		CapacityQty:       req.CapacityQty,
		ReservedForItemID: req.ReservedForItemID,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loc)
}

// apiEnsureQuarantine handles POST /api/quarantine.
func (h *Handler) apiEnsureQuarantine(w http.ResponseWriter, r *http.Request) {
	loc, err := h.svc.EnsureQuarantineLocation(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}
