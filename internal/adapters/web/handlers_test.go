package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

// stubService implements only what the tests call; anything else panics
// through the nil embedded interface and surfaces as a 500 via Recoverer.
type stubService struct {
	app.ApplicationService
	items       map[string]core.Item
	consumeErr  error
	lastConsume core.ConsumeRequest
	lastOrder   app.OrderRequest
}

func (s *stubService) GetItem(_ context.Context, ref string) (*core.Item, error) {
	it, ok := s.items[ref]
	if !ok {
		return nil, &core.NotFoundError{Entity: "item", Key: ref}
	}
	return &it, nil
}

func (s *stubService) Consume(_ context.Context, req core.ConsumeRequest) (*core.ConsumeResult, error) {
	s.lastConsume = req
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	return &core.ConsumeResult{ItemID: req.ItemID, TotalQty: req.Qty, TotalCost: req.Qty * 10}, nil
}

func (s *stubService) ConfirmOrder(_ context.Context, req app.OrderRequest) (*app.OrderResult, error) {
	s.lastOrder = req
	return &app.OrderResult{SourceType: req.SourceType, SourceID: req.SourceID}, nil
}

func (s *stubService) FulfillOrder(_ context.Context, req app.OrderRequest) (*app.OrderResult, error) {
	s.lastOrder = req
	return &app.OrderResult{SourceType: req.SourceType, SourceID: req.SourceID}, nil
}

func newStub() *stubService {
	return &stubService{items: map[string]core.Item{"WIDGET": {ID: 7, Code: "WIDGET"}}}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHandler(newStub(), "", nil)
	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
}

func TestConsume_ResolvesItemAndReturnsCreated(t *testing.T) {
	svc := newStub()
	h := NewHandler(svc, "", nil)

	rec := do(t, h, http.MethodPost, "/api/consumptions",
		`{"item":"WIDGET","quantity":5,"reference_type":"WORK_ORDER","reference_id":"WO-1"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if svc.lastConsume.ItemID != 7 || svc.lastConsume.Qty != 5 || svc.lastConsume.ReferenceID != "WO-1" {
		t.Errorf("consume request = %+v", svc.lastConsume)
	}
	var res core.ConsumeResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.TotalCost != 50 {
		t.Errorf("total_cost = %d, want 50", res.TotalCost)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&core.InsufficientStockError{ItemID: 7, Requested: 5, Available: 1}, http.StatusConflict, "INSUFFICIENT_STOCK"},
		{&core.ConcurrentModificationError{ItemID: 7, Attempts: 5}, http.StatusConflict, "CONCURRENT_MODIFICATION"},
		{&core.ValidationError{Field: "qty", Message: "must be positive"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{fmt.Errorf("wrapped: %w", &core.NotFoundError{Entity: "layer", Key: "9"}), http.StatusNotFound, "NOT_FOUND"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			svc := newStub()
			svc.consumeErr = tc.err
			h := NewHandler(svc, "", nil)

			rec := do(t, h, http.MethodPost, "/api/consumptions", `{"item":"WIDGET","quantity":5}`)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			var body errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Code != tc.code {
				t.Errorf("code = %s, want %s", body.Code, tc.code)
			}
			if body.RequestID == "" {
				t.Error("missing request_id")
			}
			if tc.status == http.StatusInternalServerError && strings.Contains(body.Error, "connection") {
				t.Errorf("internal error leaked: %q", body.Error)
			}
		})
	}
}

func TestUnknownItemIs404(t *testing.T) {
	h := NewHandler(newStub(), "", nil)
	rec := do(t, h, http.MethodPost, "/api/consumptions", `{"item":"NOPE","quantity":1}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBadBodies(t *testing.T) {
	h := NewHandler(newStub(), "", nil)
	for _, body := range []string{`{`, `{"item":"WIDGET","qty":1}`} {
		rec := do(t, h, http.MethodPost, "/api/consumptions", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rec.Code)
		}
	}
	rec := do(t, h, http.MethodGet, "/api/layers/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id: status = %d, want 400", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/inspections?status=DONE", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter: status = %d, want 400", rec.Code)
	}
}

func TestConfirmOrder_DecodesLines(t *testing.T) {
	svc := newStub()
	h := NewHandler(svc, "", nil)
	rec := do(t, h, http.MethodPost, "/api/orders/confirm",
		`{"source_type":"SALES_ORDER","source_id":"SO-1","lines":[{"item_code":"WIDGET","quantity":3}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if len(svc.lastOrder.Lines) != 1 || svc.lastOrder.Lines[0].Quantity != 3 {
		t.Errorf("order = %+v", svc.lastOrder)
	}
}

func TestFulfillOrder_PassesIdempotencyKey(t *testing.T) {
	svc := newStub()
	h := NewHandler(svc, "", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/orders/fulfill",
		strings.NewReader(`{"source_type":"SALES_ORDER","source_id":"SO-1","lines":[{"item_code":"WIDGET","quantity":3}]}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "retry-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	if svc.lastOrder.IdempotencyKey != "retry-1" {
		t.Errorf("idempotency key = %q", svc.lastOrder.IdempotencyKey)
	}
}

func TestRecovererOnUnimplemented(t *testing.T) {
	h := NewHandler(newStub(), "", nil)
	rec := do(t, h, http.MethodGet, "/api/units", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := NewHandler(newStub(), "https://ops.example.com", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://ops.example.com" {
		t.Error("allowed origin not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not get CORS headers")
	}
}
