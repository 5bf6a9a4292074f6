package app

import (
	"context"
	"time"

	"inventory-ledger/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web, order
// events) call. Implementations contain no display logic of any kind.
type ApplicationService interface {
	// ── Catalog ──

	CreateUnit(ctx context.Context, code, name string) (*core.UnitOfMeasure, error)
	ListUnits(ctx context.Context) ([]core.UnitOfMeasure, error)
	CreateItem(ctx context.Context, req core.CreateItemRequest) (*core.Item, error)
	// GetItem accepts a numeric id or an item code.
	GetItem(ctx context.Context, ref string) (*core.Item, error)
	ListItems(ctx context.Context) ([]core.Item, error)
	RecalculateItemTotals(ctx context.Context, ref string) (*core.ItemTotals, error)
	// GetStock returns an item with its availability and layers.
	GetStock(ctx context.Context, ref string) (*StockResult, error)

	// ── Locations ──

	CreateWarehouse(ctx context.Context, code, name string) (*core.Warehouse, error)
	ListWarehouses(ctx context.Context) ([]core.Warehouse, error)
	CreateLocation(ctx context.Context, req core.CreateLocationRequest) (*core.Location, error)
	ListLocations(ctx context.Context, warehouseID int) ([]core.Location, error)
	EnsureQuarantineLocation(ctx context.Context) (*core.Location, error)

	// ── Layers ──

	CreateLayer(ctx context.Context, req core.CreateLayerRequest) (*core.CreateLayerResult, error)
	Consume(ctx context.Context, req core.ConsumeRequest) (*core.ConsumeResult, error)
	GetLayer(ctx context.Context, id int) (*core.Layer, error)
	ListLayers(ctx context.Context, ref string) ([]core.Layer, error)

	// ── Quality ──

	CreateTestDefinition(ctx context.Context, def core.TestDefinition) (*core.TestDefinition, error)
	GenerateInspection(ctx context.Context, layerID int) (*core.InspectionOrder, error)
	StartInspection(ctx context.Context, orderID int, inspector string) (*core.InspectionOrder, error)
	SubmitInspection(ctx context.Context, orderID int, results []core.ResultInput, inspector string) (*core.InspectionOutcome, error)
	GetInspection(ctx context.Context, orderID int) (*core.InspectionOrder, error)
	ListInspections(ctx context.Context, status core.InspectionStatus) ([]core.InspectionOrder, error)

	// ── Reservations ──

	Reserve(ctx context.Context, req core.ReserveRequest) (*core.Reservation, error)
	Release(ctx context.Context, id int) (*core.Reservation, error)
	ReleaseBySource(ctx context.Context, sourceType, sourceID string) ([]core.Reservation, error)
	ExpireReservations(ctx context.Context, now time.Time) (int64, error)
	GetAvailability(ctx context.Context, ref string) (*core.Availability, error)
	ListReservations(ctx context.Context, ref string) ([]core.Reservation, error)

	// ── Transfers ──

	Transfer(ctx context.Context, req core.TransferRequest) (*core.LocationTransfer, error)
	ListTransfers(ctx context.Context, ref string) ([]core.LocationTransfer, error)

	// ── Order workflows ──

	// ConfirmOrder reserves every line of an order. If any line cannot be
	// reserved, the lines already reserved for the order are released again.
	ConfirmOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	// CancelOrder releases every active reservation of the order.
	CancelOrder(ctx context.Context, sourceType, sourceID string) (*OrderResult, error)
	// FulfillOrder releases the order's reservations and consumes each line.
	FulfillOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// GetTrialBalance returns the balances of the cost-posting accounts.
	GetTrialBalance(ctx context.Context) (*TrialBalanceResult, error)
}
