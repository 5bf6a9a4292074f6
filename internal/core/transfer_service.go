package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// TransferService relocates layers and keeps the append-only transfer log.
// Layers are not split: a transfer always moves the whole layer and the log
// row records the quantity that actually moved.
type TransferService interface {
	Transfer(ctx context.Context, req TransferRequest) (*LocationTransfer, error)
	ListTransfers(ctx context.Context, itemID int) ([]LocationTransfer, error)
}

type transferService struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewTransferService(pool *pgxpool.Pool, log *zap.Logger) TransferService {
	if log == nil {
		log = zap.NewNop()
	}
	return &transferService{pool: pool, log: log}
}

func (s *transferService) Transfer(ctx context.Context, req TransferRequest) (*LocationTransfer, error) {
	if !req.Reason.Valid() {
		return nil, invalid("transfer_reason", "unknown transfer reason %q", req.Reason)
	}
	// QC_FAILED moves are made by inspection completion and PRODUCTION_CREATE
	// by receipt; both skip the capacity check.
	if req.Reason == ReasonQCFailed || req.Reason == ReasonProductionCreate {
		return nil, &InvalidTransferError{LayerID: req.LayerID,
			Reason: fmt.Sprintf("reason %s is reserved for internal moves", req.Reason)}
	}
	if req.Qty <= 0 {
		return nil, &InvalidTransferError{LayerID: req.LayerID, Reason: fmt.Sprintf("quantity must be positive, got %d", req.Qty)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	layer, err := getLayer(ctx, tx, req.LayerID, true)
	if err != nil {
		return nil, err
	}
	if layer.IsDepleted || layer.RemainingQty == 0 {
		return nil, &InvalidTransferError{LayerID: layer.ID, Reason: "layer is depleted"}
	}
	if req.Qty > layer.RemainingQty {
		return nil, &InvalidTransferError{LayerID: layer.ID,
			Reason: fmt.Sprintf("quantity %d exceeds remaining %d", req.Qty, layer.RemainingQty)}
	}

	dest, err := getLocation(ctx, tx, req.ToLocationID, true)
	if err != nil {
		return nil, err
	}
	if err := validateDestinationTx(ctx, tx, layer, req.ToWarehouseID, dest, req.Reason); err != nil {
		return nil, err
	}

	transfer, err := moveLayerTx(ctx, tx, layer, dest, req.Qty, req.Reason, req.Operator)
	if err != nil {
		return nil, err
	}
	if _, err := recalculateItemTotalsTx(ctx, tx, layer.ItemID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("layer transferred",
		zap.Int("layer_id", layer.ID),
		zap.Int("to_location_id", dest.ID),
		zap.Int64("quantity", transfer.Quantity),
		zap.String("reason", string(req.Reason)))
	return transfer, nil
}

func (s *transferService) ListTransfers(ctx context.Context, itemID int) ([]LocationTransfer, error) {
	return listTransfers(ctx, s.pool, itemID)
}

// ── TX-scoped helpers ────────────────────────────────────────────────────────

func listTransfers(ctx context.Context, q Querier, itemID int) ([]LocationTransfer, error) {
	rows, err := q.Query(ctx, `
		SELECT `+transferColumns+`
		FROM inventory_location_transfers
		WHERE item_id = $1
		ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var transfers []LocationTransfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// moveLayerTx points the layer at dest and appends the matching audit row, in
// that order. The caller must hold the layer row lock and has already
// validated dest. layer is updated in place.
func moveLayerTx(ctx context.Context, tx pgx.Tx, layer *Layer, dest *Location, requested int64,
	reason TransferReason, operator string) (*LocationTransfer, error) {

	tag, err := tx.Exec(ctx, `
		UPDATE inventory_layers
		SET warehouse_id = $2, location_id = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $4
	`, layer.ID, dest.WarehouseID, dest.ID, layer.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to move layer %d: %w", layer.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("failed to move layer %d: %w", layer.ID, errVersionConflict)
	}

	transfer, err := insertTransferTx(ctx, tx, LocationTransfer{
		ItemID:          layer.ItemID,
		LayerID:         layer.ID,
		BatchNumber:     layer.BatchNumber,
		FromWarehouseID: layer.WarehouseID,
		FromLocationID:  layer.LocationID,
		ToWarehouseID:   dest.WarehouseID,
		ToLocationID:    dest.ID,
		Quantity:        layer.RemainingQty,
		RequestedQty:    requested,
		Reason:          reason,
		Operator:        operator,
	})
	if err != nil {
		return nil, err
	}

	warehouseID, locationID := dest.WarehouseID, dest.ID
	layer.WarehouseID = &warehouseID
	layer.LocationID = &locationID
	layer.Version++
	return transfer, nil
}

func insertTransferTx(ctx context.Context, tx pgx.Tx, t LocationTransfer) (*LocationTransfer, error) {
	out, err := scanTransfer(tx.QueryRow(ctx, `
		INSERT INTO inventory_location_transfers
		    (item_id, layer_id, batch_number, from_warehouse_id, from_location_id,
		     to_warehouse_id, to_location_id, quantity, requested_qty, transfer_reason, operator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+transferColumns,
		t.ItemID, t.LayerID, t.BatchNumber, t.FromWarehouseID, t.FromLocationID,
		t.ToWarehouseID, t.ToLocationID, t.Quantity, t.RequestedQty, t.Reason, t.Operator))
	if err != nil {
		return nil, fmt.Errorf("failed to insert transfer: %w", err)
	}
	return out, nil
}

func getLayer(ctx context.Context, q Querier, id int, forUpdate bool) (*Layer, error) {
	sql := "SELECT " + layerColumns + " FROM inventory_layers WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	layer, err := scanLayer(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("layer", id)
		}
		return nil, fmt.Errorf("failed to fetch layer %d: %w", id, err)
	}
	return layer, nil
}
