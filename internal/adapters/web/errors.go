package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"inventory-ledger/internal/core"

	"go.uber.org/zap"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps ledger errors to HTTP statuses. Anything it does not
// recognise is logged and reported as 500 without its message.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeError(w, r, "internal server error", code, status)
		return
	}
	writeError(w, r, err.Error(), code, status)
}

func classify(err error) (int, string) {
	var (
		insufficient *core.InsufficientStockError
		over         *core.OverReservationError
		completed    *core.AlreadyCompletedError
		concurrent   *core.ConcurrentModificationError
		duplicate    *core.DuplicateError
		capacity     *core.CapacityExceededError
		notFound     *core.NotFoundError
		validation   *core.ValidationError
		transfer     *core.InvalidTransferError
		inspection   *core.InvalidInspectionError
	)
	switch {
	case errors.As(err, &insufficient):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.As(err, &over):
		return http.StatusConflict, "OVER_RESERVATION"
	case errors.As(err, &completed):
		return http.StatusConflict, "ALREADY_COMPLETED"
	case errors.As(err, &concurrent):
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	case errors.As(err, &duplicate):
		return http.StatusConflict, "DUPLICATE"
	case errors.As(err, &capacity):
		return http.StatusConflict, "CAPACITY_EXCEEDED"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &validation):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.As(err, &transfer):
		return http.StatusBadRequest, "INVALID_TRANSFER"
	case errors.As(err, &inspection):
		return http.StatusBadRequest, "INVALID_INSPECTION"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
