package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventory-ledger/internal/core"
)

func TestReservation_Bound(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	receive(t, ctx, svc, widgetID, "B1", 50, 100, day(1))

	first, err := svc.reservations.Reserve(ctx, core.ReserveRequest{ItemID: widgetID, SourceType: "SO", SourceID: "SO-1", Qty: 40})
	if err != nil {
		t.Fatalf("First Reserve failed: %v", err)
	}

	_, err = svc.reservations.Reserve(ctx, core.ReserveRequest{ItemID: widgetID, SourceType: "SO", SourceID: "SO-2", Qty: 15})
	var overErr *core.OverReservationError
	if !errors.As(err, &overErr) {
		t.Fatalf("Expected OverReservationError, got %v", err)
	}
	if overErr.Available != 10 {
		t.Errorf("Expected 10 available, got %d", overErr.Available)
	}

	released, err := svc.reservations.Release(ctx, first.ID)
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if released.Status != core.ReservationReleased || released.ReleasedAt == nil {
		t.Errorf("Expected RELEASED with a timestamp, got %+v", released)
	}

	if _, err := svc.reservations.Reserve(ctx, core.ReserveRequest{ItemID: widgetID, SourceType: "SO", SourceID: "SO-2", Qty: 15}); err != nil {
		t.Fatalf("Reserve after release failed: %v", err)
	}

	// Releasing again is a no-op.
	again, err := svc.reservations.Release(ctx, first.ID)
	if err != nil {
		t.Fatalf("Second Release failed: %v", err)
	}
	if again.Status != core.ReservationReleased || !again.ReleasedAt.Equal(*released.ReleasedAt) {
		t.Errorf("Expected second release to leave the row unchanged, got %+v", again)
	}

	// Reservations never touch layers.
	item, _ := svc.catalog.GetItem(ctx, widgetID)
	if item.QuantityOnHand != 50 {
		t.Errorf("Expected on hand 50, got %d", item.QuantityOnHand)
	}
}

func TestReservation_ReleaseUnknown(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	_, err := svc.reservations.Release(ctx, 12345)
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
}

func TestReservation_ExpirySweep(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	receive(t, ctx, svc, widgetID, "B1", 20, 100, day(1))

	expires := time.Now().Add(time.Hour)
	r, err := svc.reservations.Reserve(ctx, core.ReserveRequest{
		ItemID: widgetID, SourceType: "WO", SourceID: "WO-9", Qty: 20, ExpiresAt: &expires,
	})
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	n, err := svc.reservations.ExpireReservations(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireReservations failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected nothing to expire yet, got %d", n)
	}

	n, err = svc.reservations.ExpireReservations(ctx, expires.Add(time.Minute))
	if err != nil {
		t.Fatalf("ExpireReservations failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Expected one expired reservation, got %d", n)
	}

	list, _ := svc.reservations.ListReservations(ctx, widgetID)
	if len(list) != 1 || list[0].ID != r.ID || list[0].Status != core.ReservationExpired {
		t.Errorf("Expected reservation %d EXPIRED, got %+v", r.ID, list)
	}

	avail, _ := svc.reservations.GetAvailability(ctx, widgetID)
	if avail.Available != 20 || avail.Reserved != 0 {
		t.Errorf("Expected the expired reservation to free 20, got %+v", avail)
	}

	// Expired reservations are terminal; release leaves them as they are.
	after, err := svc.reservations.Release(ctx, r.ID)
	if err != nil || after.Status != core.ReservationExpired {
		t.Errorf("Expected EXPIRED to survive release, got %+v, %v", after, err)
	}
}

func TestReservation_ReleaseBySource(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	receive(t, ctx, svc, widgetID, "B1", 30, 100, day(1))
	receive(t, ctx, svc, boltID, "BOLT-1", 30, 80, day(1))

	for _, req := range []core.ReserveRequest{
		{ItemID: widgetID, SourceType: "SO", SourceID: "SO-5", Qty: 10},
		{ItemID: boltID, SourceType: "SO", SourceID: "SO-5", Qty: 10},
		{ItemID: widgetID, SourceType: "SO", SourceID: "SO-6", Qty: 10},
	} {
		if _, err := svc.reservations.Reserve(ctx, req); err != nil {
			t.Fatalf("Reserve failed: %v", err)
		}
	}

	released, err := svc.reservations.ReleaseBySource(ctx, "SO", "SO-5")
	if err != nil {
		t.Fatalf("ReleaseBySource failed: %v", err)
	}
	if len(released) != 2 {
		t.Errorf("Expected 2 released, got %d", len(released))
	}
	for _, r := range released {
		if r.Status != core.ReservationReleased || r.SourceID != "SO-5" {
			t.Errorf("Unexpected released row: %+v", r)
		}
	}

	avail, _ := svc.reservations.GetAvailability(ctx, widgetID)
	if avail.Reserved != 10 || avail.Available != 20 {
		t.Errorf("Expected 10 reserved and 20 available, got %+v", avail)
	}
}

func TestReservation_ReserveOrderAllOrNothing(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	receive(t, ctx, svc, widgetID, "W1", 10, 100, day(1))
	receive(t, ctx, svc, boltID, "BOLT-1", 3, 90, day(1))

	_, err := svc.reservations.ReserveOrder(ctx, core.ReserveOrderRequest{
		SourceType: "SO", SourceID: "SO-9",
		Lines: []core.ReserveLine{{ItemID: widgetID, Qty: 4}, {ItemID: boltID, Qty: 5}},
	})
	var overErr *core.OverReservationError
	if !errors.As(err, &overErr) || overErr.ItemID != boltID {
		t.Fatalf("Expected OverReservationError for bolt, got %v", err)
	}
	if list, _ := svc.reservations.ListReservations(ctx, widgetID); len(list) != 0 {
		t.Errorf("Expected the widget line rolled back, got %+v", list)
	}

	// Duplicate lines for one item are summed into one reservation.
	got, err := svc.reservations.ReserveOrder(ctx, core.ReserveOrderRequest{
		SourceType: "SO", SourceID: "SO-9",
		Lines: []core.ReserveLine{{ItemID: widgetID, Qty: 4}, {ItemID: boltID, Qty: 3}, {ItemID: widgetID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("ReserveOrder failed: %v", err)
	}
	if len(got) != 2 || got[0].ItemID != widgetID || got[0].QtyReserved != 6 || got[1].QtyReserved != 3 {
		t.Fatalf("Unexpected reservations: %+v", got)
	}
}

func TestReservation_ReserveOrderRepeatIsConfirmed(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	receive(t, ctx, svc, widgetID, "W1", 10, 100, day(1))

	req := core.ReserveOrderRequest{SourceType: "SO", SourceID: "SO-3", Lines: []core.ReserveLine{{ItemID: widgetID, Qty: 7}}}
	first, err := svc.reservations.ReserveOrder(ctx, req)
	if err != nil {
		t.Fatalf("First ReserveOrder failed: %v", err)
	}
	// 7 of 10 already held; a second 7 would fail if it were reserved again.
	second, err := svc.reservations.ReserveOrder(ctx, req)
	if err != nil {
		t.Fatalf("Repeated ReserveOrder failed: %v", err)
	}
	if len(second) != 1 || second[0].ID != first[0].ID {
		t.Errorf("Expected the existing reservation back, got %+v", second)
	}

	avail, _ := svc.reservations.GetAvailability(ctx, widgetID)
	if avail.Reserved != 7 || avail.Available != 3 {
		t.Errorf("Expected 7 reserved and 3 available, got %+v", avail)
	}
}
