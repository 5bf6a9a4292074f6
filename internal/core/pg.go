package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx, so read helpers work both
// standalone and inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const itemColumns = `id, code, name, base_unit, item_class, valuation_method, standard_cost,
	quantity_on_hand, average_cost, created_at, updated_at`

func scanItem(row pgx.Row) (*Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.BaseUnit, &it.ItemClass, &it.ValuationMethod,
		&it.StandardCost, &it.QuantityOnHand, &it.AverageCost, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

const layerColumns = `id, item_id, batch_number, initial_qty, remaining_qty, unit_cost,
	warehouse_id, location_id, qc_status, is_depleted, receive_date, source_type, source_id,
	version, created_at`

func scanLayer(row pgx.Row) (*Layer, error) {
	var l Layer
	err := row.Scan(&l.ID, &l.ItemID, &l.BatchNumber, &l.InitialQty, &l.RemainingQty, &l.UnitCost,
		&l.WarehouseID, &l.LocationID, &l.QCStatus, &l.IsDepleted, &l.ReceiveDate, &l.SourceType,
		&l.SourceID, &l.Version, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const locationColumns = `id, warehouse_id, location_code, location_type, capacity_qty,
	reserved_for_item_id, is_active, created_at`

func scanLocation(row pgx.Row) (*Location, error) {
	var l Location
	err := row.Scan(&l.ID, &l.WarehouseID, &l.LocationCode, &l.LocationType, &l.CapacityQty,
		&l.ReservedForItemID, &l.IsActive, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

const transferColumns = `id, item_id, layer_id, batch_number, from_warehouse_id, from_location_id,
	to_warehouse_id, to_location_id, quantity, requested_qty, transfer_reason, operator, status,
	transfer_date`

func scanTransfer(row pgx.Row) (*LocationTransfer, error) {
	var t LocationTransfer
	err := row.Scan(&t.ID, &t.ItemID, &t.LayerID, &t.BatchNumber, &t.FromWarehouseID, &t.FromLocationID,
		&t.ToWarehouseID, &t.ToLocationID, &t.Quantity, &t.RequestedQty, &t.Reason, &t.Operator,
		&t.Status, &t.TransferDate)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const reservationColumns = `id, item_id, source_type, source_id, qty_reserved, status, expires_at,
	created_at, released_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	err := row.Scan(&r.ID, &r.ItemID, &r.SourceType, &r.SourceID, &r.QtyReserved, &r.Status,
		&r.ExpiresAt, &r.CreatedAt, &r.ReleasedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

const inspectionColumns = `id, inspection_number, item_id, layer_id, batch_number, quantity,
	source_type, source_id, status, inspector, created_at, completed_at`

func scanInspection(row pgx.Row) (*InspectionOrder, error) {
	var o InspectionOrder
	err := row.Scan(&o.ID, &o.InspectionNumber, &o.ItemID, &o.LayerID, &o.BatchNumber, &o.Quantity,
		&o.SourceType, &o.SourceID, &o.Status, &o.Inspector, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
