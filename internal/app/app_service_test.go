package app

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"inventory-ledger/internal/core"
)

type fakeCatalog struct {
	core.CatalogService
	items map[string]core.Item
}

func (f *fakeCatalog) GetItem(_ context.Context, id int) (*core.Item, error) {
	for _, it := range f.items {
		if it.ID == id {
			return &it, nil
		}
	}
	return nil, &core.NotFoundError{Entity: "item", Key: strconv.Itoa(id)}
}

func (f *fakeCatalog) GetItemByCode(_ context.Context, code string) (*core.Item, error) {
	it, ok := f.items[code]
	if !ok {
		return nil, &core.NotFoundError{Entity: "item", Key: code}
	}
	return &it, nil
}

type fakeReservations struct {
	core.ReservationService
	available map[int]int64
	active    []core.Reservation
	released  []core.Reservation
	lookups   int
}

func (f *fakeReservations) Reserve(_ context.Context, req core.ReserveRequest) (*core.Reservation, error) {
	if req.Qty > f.available[req.ItemID] {
		return nil, &core.OverReservationError{ItemID: req.ItemID, Requested: req.Qty, Available: f.available[req.ItemID]}
	}
	f.available[req.ItemID] -= req.Qty
	r := core.Reservation{
		ID: len(f.active) + 1, ItemID: req.ItemID, SourceType: req.SourceType,
		SourceID: req.SourceID, QtyReserved: req.Qty, Status: core.ReservationActive,
	}
	f.active = append(f.active, r)
	return &r, nil
}

// ReserveOrder is all-or-nothing and skips items the source already holds.
func (f *fakeReservations) ReserveOrder(_ context.Context, req core.ReserveOrderRequest) ([]core.Reservation, error) {
	want := map[int]int64{}
	var order []int
	for _, l := range req.Lines {
		if _, ok := want[l.ItemID]; !ok {
			order = append(order, l.ItemID)
		}
		want[l.ItemID] += l.Qty
	}
	held := map[int]core.Reservation{}
	for _, r := range f.active {
		if r.SourceType == req.SourceType && r.SourceID == req.SourceID {
			held[r.ItemID] = r
		}
	}
	for _, id := range order {
		if _, ok := held[id]; !ok && want[id] > f.available[id] {
			return nil, &core.OverReservationError{ItemID: id, Requested: want[id], Available: f.available[id]}
		}
	}
	var out []core.Reservation
	for _, id := range order {
		if r, ok := held[id]; ok {
			out = append(out, r)
			continue
		}
		r, _ := f.Reserve(context.Background(), core.ReserveRequest{
			ItemID: id, SourceType: req.SourceType, SourceID: req.SourceID, Qty: want[id],
		})
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeReservations) ReleaseBySource(_ context.Context, sourceType, sourceID string) ([]core.Reservation, error) {
	return f.release(sourceType, sourceID, 0), nil
}

// release frees the source's reservations, limited to itemID when non-zero.
func (f *fakeReservations) release(sourceType, sourceID string, itemID int) []core.Reservation {
	var out, keep []core.Reservation
	for _, r := range f.active {
		if r.SourceType == sourceType && r.SourceID == sourceID && (itemID == 0 || r.ItemID == itemID) {
			f.available[r.ItemID] += r.QtyReserved
			r.Status = core.ReservationReleased
			out = append(out, r)
			continue
		}
		keep = append(keep, r)
	}
	f.active = keep
	f.released = append(f.released, out...)
	return out
}

func (f *fakeReservations) ExpireReservations(context.Context, time.Time) (int64, error) {
	n := int64(len(f.active))
	for _, r := range f.active {
		f.available[r.ItemID] += r.QtyReserved
	}
	f.active = nil
	return n, nil
}

// fakeLayers draws from fakeReservations' on-hand figures.
type fakeLayers struct {
	core.LayerService
	res      *fakeReservations
	fail     map[int]bool
	byKey    map[string]core.ConsumeResult
	consumed map[int]int64
}

func (f *fakeLayers) Consume(_ context.Context, req core.ConsumeRequest) (*core.ConsumeResult, error) {
	if prior, ok := f.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		prior.Replayed = true
		prior.Released = nil
		return &prior, nil
	}
	if f.fail[req.ItemID] {
		return nil, &core.InsufficientStockError{ItemID: req.ItemID, Requested: req.Qty}
	}
	f.consumed[req.ItemID] += req.Qty
	out := core.ConsumeResult{ItemID: req.ItemID, TotalQty: req.Qty}
	if src := req.ReleaseSource; src != nil {
		out.Released = f.res.release(src.SourceType, src.SourceID, req.ItemID)
	}
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = out
	}
	return &out, nil
}

func (f *fakeReservations) GetAvailability(_ context.Context, itemID int) (*core.Availability, error) {
	f.lookups++
	return &core.Availability{ItemID: itemID, OnHand: f.available[itemID], Available: f.available[itemID]}, nil
}

type memCache struct {
	entries     map[int]core.Availability
	invalidated []int
	purged      int
}

func (m *memCache) Get(_ context.Context, id int) (*core.Availability, bool) {
	a, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return &a, true
}
func (m *memCache) Set(_ context.Context, a core.Availability) { m.entries[a.ItemID] = a }
func (m *memCache) Invalidate(_ context.Context, ids ...int) {
	for _, id := range ids {
		delete(m.entries, id)
	}
	m.invalidated = append(m.invalidated, ids...)
}
func (m *memCache) Purge(context.Context) { m.purged++; m.entries = map[int]core.Availability{} }

func newFakeApp() (*appService, *fakeReservations, *memCache) {
	a, res, _, cache := newFakeAppWithLayers()
	return a, res, cache
}

func newFakeAppWithLayers() (*appService, *fakeReservations, *fakeLayers, *memCache) {
	res := &fakeReservations{available: map[int]int64{1: 10, 2: 3}}
	layers := &fakeLayers{res: res, fail: map[int]bool{}, byKey: map[string]core.ConsumeResult{}, consumed: map[int]int64{}}
	cache := &memCache{entries: map[int]core.Availability{}}
	svc := Services{
		Catalog: &fakeCatalog{items: map[string]core.Item{
			"WIDGET": {ID: 1, Code: "WIDGET"},
			"RESIN":  {ID: 2, Code: "RESIN"},
		}},
		Layers:       layers,
		Reservations: res,
	}
	return NewAppService(nil, svc, cache, nil).(*appService), res, layers, cache
}

func TestConfirmOrder_ReservesEveryLine(t *testing.T) {
	a, res, _ := newFakeApp()
	out, err := a.ConfirmOrder(context.Background(), OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-1",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 4}, {ItemCode: "RESIN", Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("ConfirmOrder: %v", err)
	}
	if len(out.Reservations) != 2 {
		t.Fatalf("reservations = %d, want 2", len(out.Reservations))
	}
	if res.available[1] != 6 || res.available[2] != 0 {
		t.Errorf("available after confirm = %v", res.available)
	}
}

func TestConfirmOrder_FailureReservesNothing(t *testing.T) {
	a, res, _ := newFakeApp()
	_, err := a.ConfirmOrder(context.Background(), OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-2",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 4}, {ItemCode: "RESIN", Quantity: 5}},
	})
	var over *core.OverReservationError
	if !errors.As(err, &over) {
		t.Fatalf("err = %v, want OverReservationError", err)
	}
	if len(res.active) != 0 || len(res.released) != 0 {
		t.Errorf("active = %+v released = %+v, want neither", res.active, res.released)
	}
	if res.available[1] != 10 {
		t.Errorf("WIDGET available = %d, want 10", res.available[1])
	}
}

func TestConfirmOrder_RepeatReservesOnce(t *testing.T) {
	a, res, cache := newFakeApp()
	ctx := context.Background()
	req := OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-7",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 4}},
	}
	first, err := a.ConfirmOrder(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.ConfirmOrder(ctx, req)
	if err != nil {
		t.Fatalf("repeated ConfirmOrder: %v", err)
	}
	if len(res.active) != 1 || res.available[1] != 6 {
		t.Errorf("active = %d available = %d, want 1 and 6", len(res.active), res.available[1])
	}
	if second.Reservations[0].ID != first.Reservations[0].ID {
		t.Errorf("reservation = %d, want existing %d", second.Reservations[0].ID, first.Reservations[0].ID)
	}
	if len(cache.invalidated) == 0 {
		t.Error("expected cache invalidation after confirm")
	}
}

func TestConfirmOrder_FailedRepeatKeepsEarlierConfirm(t *testing.T) {
	a, res, _ := newFakeApp()
	ctx := context.Background()
	if _, err := a.ConfirmOrder(ctx, OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-8",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 4}},
	}); err != nil {
		t.Fatal(err)
	}

	_, err := a.ConfirmOrder(ctx, OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-8",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 4}, {ItemCode: "RESIN", Quantity: 5}},
	})
	if err == nil {
		t.Fatal("expected over-reservation on RESIN")
	}
	if len(res.active) != 1 || res.active[0].ItemID != 1 || len(res.released) != 0 {
		t.Errorf("active = %+v released = %+v, want the WIDGET reservation kept", res.active, res.released)
	}
}

func TestConfirmOrder_UnknownItemReservesNothing(t *testing.T) {
	a, res, _ := newFakeApp()
	_, err := a.ConfirmOrder(context.Background(), OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-3",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 1}, {ItemCode: "NOPE", Quantity: 1}},
	})
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("err = %v, want NotFoundError", err)
	}
	if len(res.active) != 0 {
		t.Errorf("active = %+v, want none", res.active)
	}
}

func TestConfirmOrder_Validation(t *testing.T) {
	a, _, _ := newFakeApp()
	cases := map[string]OrderRequest{
		"no source": {Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 1}}},
		"no lines":  {SourceType: "SALES_ORDER", SourceID: "SO-4"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.ConfirmOrder(context.Background(), req)
			var ve *core.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCancelOrder_ReturnsReleased(t *testing.T) {
	a, _, _ := newFakeApp()
	ctx := context.Background()
	if _, err := a.ConfirmOrder(ctx, OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-5",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 2}},
	}); err != nil {
		t.Fatal(err)
	}
	out, err := a.CancelOrder(ctx, "SALES_ORDER", "SO-5")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Released) != 1 || out.Released[0].Status != core.ReservationReleased {
		t.Errorf("released = %+v", out.Released)
	}
}

func TestFulfillOrder_FailedLineKeepsReservation(t *testing.T) {
	a, res, layers, _ := newFakeAppWithLayers()
	ctx := context.Background()
	order := OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-9",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 4}, {ItemCode: "RESIN", Quantity: 2}},
	}
	if _, err := a.ConfirmOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	layers.fail[2] = true

	out, err := a.FulfillOrder(ctx, order)
	var short *core.InsufficientStockError
	if !errors.As(err, &short) {
		t.Fatalf("err = %v, want InsufficientStockError", err)
	}
	if len(out.Consumptions) != 1 || len(out.Released) != 1 || out.Released[0].ItemID != 1 {
		t.Errorf("result = %+v, want WIDGET consumed and released", out)
	}
	if len(res.active) != 1 || res.active[0].ItemID != 2 {
		t.Errorf("active = %+v, want the RESIN reservation kept", res.active)
	}
}

func TestFulfillOrder_RepeatWithKeyConsumesOnce(t *testing.T) {
	a, res, layers, _ := newFakeAppWithLayers()
	ctx := context.Background()
	order := OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-10",
		Lines:      []OrderLineInput{{ItemCode: "WIDGET", Quantity: 3}},
	}
	if _, err := a.ConfirmOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	order.IdempotencyKey = "evt-10"

	for i := 0; i < 2; i++ {
		if _, err := a.FulfillOrder(ctx, order); err != nil {
			t.Fatalf("FulfillOrder #%d: %v", i+1, err)
		}
	}
	if layers.consumed[1] != 3 {
		t.Errorf("consumed = %d, want 3", layers.consumed[1])
	}
	if _, ok := layers.byKey["evt-10#0"]; !ok {
		t.Errorf("keys = %v, want evt-10#0", layers.byKey)
	}
	if len(res.active) != 0 {
		t.Errorf("active = %+v, want none", res.active)
	}
}

func TestExpireReservations_PurgesCache(t *testing.T) {
	a, _, cache := newFakeApp()
	ctx := context.Background()
	if _, err := a.ConfirmOrder(ctx, OrderRequest{
		SourceType: "SALES_ORDER", SourceID: "SO-11",
		Lines: []OrderLineInput{{ItemCode: "WIDGET", Quantity: 1}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := a.GetAvailability(ctx, "WIDGET"); err != nil {
		t.Fatal(err)
	}

	n, err := a.ExpireReservations(ctx, time.Now())
	if err != nil || n != 1 {
		t.Fatalf("expired = %d err = %v", n, err)
	}
	if cache.purged != 1 || len(cache.entries) != 0 {
		t.Errorf("purged = %d entries = %d, want 1 and 0", cache.purged, len(cache.entries))
	}
}

func TestGetAvailability_UsesCache(t *testing.T) {
	a, res, cache := newFakeApp()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.GetAvailability(ctx, "WIDGET"); err != nil {
			t.Fatal(err)
		}
	}
	if res.lookups != 1 {
		t.Errorf("lookups = %d, want 1", res.lookups)
	}

	// A reservation invalidates the entry so the next read goes to the store.
	if _, err := a.Reserve(ctx, core.ReserveRequest{ItemID: 1, SourceType: "SALES_ORDER", SourceID: "SO-6", Qty: 1}); err != nil {
		t.Fatal(err)
	}
	got, err := a.GetAvailability(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if res.lookups != 2 || got.Available != 9 {
		t.Errorf("lookups = %d available = %d, want 2 and 9", res.lookups, got.Available)
	}
	if _, ok := cache.entries[1]; !ok {
		t.Error("expected availability to be cached again")
	}
}

func TestItemIDs_Dedupes(t *testing.T) {
	got := itemIDs([]core.Reservation{{ItemID: 2}, {ItemID: 1}, {ItemID: 2}})
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Errorf("itemIDs = %v", got)
	}
}

