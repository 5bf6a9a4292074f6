package core_test

import (
	"context"
	"errors"
	"testing"

	"inventory-ledger/internal/core"
)

func TestTransfer_MovesWholeLayer(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	layer := receive(t, ctx, svc, widgetID, "B1", 10, 100, day(1))

	transfer, err := svc.transfers.Transfer(ctx, core.TransferRequest{
		LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA1, Qty: 4,
		Reason: core.ReasonPicking, Operator: "picker",
	})
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if transfer.Quantity != 10 || transfer.RequestedQty != 4 {
		t.Errorf("Expected audit quantity 10 for requested 4, got %d / %d", transfer.Quantity, transfer.RequestedQty)
	}
	if transfer.FromLocationID != nil || transfer.ToLocationID != binA1 || transfer.Operator != "picker" {
		t.Errorf("Unexpected transfer row: %+v", transfer)
	}

	moved, _ := svc.layers.GetLayer(ctx, layer.ID)
	if moved.LocationID == nil || *moved.LocationID != binA1 || moved.WarehouseID == nil || *moved.WarehouseID != mainWarehouseID {
		t.Errorf("Expected layer at %d/%d, got %v/%v", mainWarehouseID, binA1, moved.WarehouseID, moved.LocationID)
	}

	second, err := svc.transfers.Transfer(ctx, core.TransferRequest{
		LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA2, Qty: 10, Reason: core.ReasonRelocation,
	})
	if err != nil {
		t.Fatalf("Second transfer failed: %v", err)
	}
	if second.FromLocationID == nil || *second.FromLocationID != binA1 {
		t.Errorf("Expected second move to start at %d, got %v", binA1, second.FromLocationID)
	}

	log, _ := svc.transfers.ListTransfers(ctx, widgetID)
	if len(log) != 2 {
		t.Errorf("Expected one audit row per move, got %d", len(log))
	}
}

func TestTransfer_Rejections(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()
	svc := newServices(pool, nil)

	layer := receive(t, ctx, svc, widgetID, "B1", 25, 100, day(1))
	spent := receive(t, ctx, svc, boltID, "BOLT-1", 5, 80, day(1))
	if _, err := svc.layers.Consume(ctx, core.ConsumeRequest{ItemID: boltID, Qty: 5}); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	tests := []struct {
		name   string
		req    core.TransferRequest
		target any
	}{
		{"more than remaining",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA1, Qty: 26, Reason: core.ReasonRelocation},
			new(*core.InvalidTransferError)},
		{"zero quantity",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA1, Qty: 0, Reason: core.ReasonRelocation},
			new(*core.InvalidTransferError)},
		{"depleted layer",
			core.TransferRequest{LayerID: spent.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA1, Qty: 1, Reason: core.ReasonRelocation},
			new(*core.InvalidTransferError)},
		{"over capacity",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA2, Qty: 25, Reason: core.ReasonRelocation},
			new(*core.CapacityExceededError)},
		{"qc failed reason past capacity",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA2, Qty: 25, Reason: core.ReasonQCFailed},
			new(*core.InvalidTransferError)},
		{"production create reason",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binA1, Qty: 25, Reason: core.ReasonProductionCreate},
			new(*core.InvalidTransferError)},
		{"wrong warehouse",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: 99, ToLocationID: binA1, Qty: 25, Reason: core.ReasonRelocation},
			new(*core.InvalidTransferError)},
		{"pinned to another item",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: binPinned, Qty: 25, Reason: core.ReasonRelocation},
			new(*core.InvalidTransferError)},
		{"unknown location",
			core.TransferRequest{LayerID: layer.ID, ToWarehouseID: mainWarehouseID, ToLocationID: 999, Qty: 25, Reason: core.ReasonRelocation},
			new(*core.NotFoundError)},
		{"unknown layer",
			core.TransferRequest{LayerID: 999, ToWarehouseID: mainWarehouseID, ToLocationID: binA1, Qty: 1, Reason: core.ReasonRelocation},
			new(*core.NotFoundError)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.transfers.Transfer(ctx, tt.req)
			if !errors.As(err, tt.target) {
				t.Errorf("Expected %T, got %v", tt.target, err)
			}
		})
	}

	log, _ := svc.transfers.ListTransfers(ctx, widgetID)
	if len(log) != 0 {
		t.Errorf("Expected no audit rows from failed transfers, got %d", len(log))
	}
	unmoved, _ := svc.layers.GetLayer(ctx, layer.ID)
	if unmoved.LocationID != nil {
		t.Errorf("Expected layer to stay unplaced, got %v", unmoved.LocationID)
	}
}
