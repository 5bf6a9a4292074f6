package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultWarehouseCode   = "DEFAULT"
	quarantineLocationCode = "QUARANTINE"
)

// LocationService manages warehouses and the bins inside them.
type LocationService interface {
	CreateWarehouse(ctx context.Context, code, name string) (*Warehouse, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
	CreateLocation(ctx context.Context, req CreateLocationRequest) (*Location, error)
	GetLocation(ctx context.Context, id int) (*Location, error)
	ListLocations(ctx context.Context, warehouseID int) ([]Location, error)
	// EnsureQuarantineLocation returns the first active quarantine bin, creating
	// the DEFAULT warehouse and its QUARANTINE bin when none exists.
	EnsureQuarantineLocation(ctx context.Context) (*Location, error)
}

type CreateLocationRequest struct {
	WarehouseID       int
	LocationCode      string
	LocationType      LocationType
	CapacityQty       *int64
	ReservedForItemID *int
}

type locationService struct {
	pool *pgxpool.Pool
}

func NewLocationService(pool *pgxpool.Pool) LocationService {
	return &locationService{pool: pool}
}

func (s *locationService) CreateWarehouse(ctx context.Context, code, name string) (*Warehouse, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, invalid("code", "warehouse code is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, invalid("name", "warehouse name is required")
	}

	var w Warehouse
	err := s.pool.QueryRow(ctx, `
		INSERT INTO warehouses (code, name) VALUES ($1, $2)
		RETURNING id, code, name, is_active, created_at
	`, code, name).Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "warehouse", Key: code}
		}
		return nil, fmt.Errorf("failed to insert warehouse: %w", err)
	}
	return &w, nil
}

func (s *locationService) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, code, name, is_active, created_at
		FROM warehouses
		ORDER BY code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var warehouses []Warehouse
	for rows.Next() {
		var w Warehouse
		if err := rows.Scan(&w.ID, &w.Code, &w.Name, &w.IsActive, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		warehouses = append(warehouses, w)
	}
	return warehouses, rows.Err()
}

func (s *locationService) CreateLocation(ctx context.Context, req CreateLocationRequest) (*Location, error) {
	code, err := NormalizeLocationCode(req.LocationCode)
	if err != nil {
		return nil, err
	}
	if !req.LocationType.Valid() {
		return nil, invalid("location_type", "unknown location type %q", req.LocationType)
	}
	if req.CapacityQty != nil && *req.CapacityQty < 0 {
		return nil, invalid("capacity_qty", "must not be negative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM warehouses WHERE id = $1)", req.WarehouseID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check warehouse: %w", err)
	}
	if !exists {
		return nil, notFound("warehouse", req.WarehouseID)
	}
	if req.ReservedForItemID != nil {
		if _, err := getItem(ctx, tx, *req.ReservedForItemID, false); err != nil {
			return nil, err
		}
	}

	loc, err := scanLocation(tx.QueryRow(ctx, `
		INSERT INTO warehouse_locations (warehouse_id, location_code, location_type, capacity_qty, reserved_for_item_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+locationColumns,
		req.WarehouseID, code, req.LocationType, req.CapacityQty, req.ReservedForItemID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "location", Key: code}
		}
		return nil, fmt.Errorf("failed to insert location: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return loc, nil
}

func (s *locationService) GetLocation(ctx context.Context, id int) (*Location, error) {
	return getLocation(ctx, s.pool, id, false)
}

func (s *locationService) ListLocations(ctx context.Context, warehouseID int) ([]Location, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+locationColumns+`
		FROM warehouse_locations
		WHERE warehouse_id = $1
		ORDER BY location_code
	`, warehouseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}
	defer rows.Close()

	var locations []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locations = append(locations, *loc)
	}
	return locations, rows.Err()
}

func (s *locationService) EnsureQuarantineLocation(ctx context.Context) (*Location, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	loc, err := ensureQuarantineLocationTx(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return loc, nil
}

// ── TX-scoped helpers ────────────────────────────────────────────────────────

// getLocation with forUpdate serializes capacity checks against the same bin.
func getLocation(ctx context.Context, q Querier, id int, forUpdate bool) (*Location, error) {
	sql := "SELECT " + locationColumns + " FROM warehouse_locations WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	loc, err := scanLocation(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("location", id)
		}
		return nil, fmt.Errorf("failed to fetch location %d: %w", id, err)
	}
	return loc, nil
}

// ensureQuarantineLocationTx never does check-then-insert: both inserts lean on
// unique indexes (warehouses.code and the partial quarantine index), so
// concurrent callers converge on the same rows.
func ensureQuarantineLocationTx(ctx context.Context, tx pgx.Tx) (*Location, error) {
	loc, err := scanLocation(tx.QueryRow(ctx, `
		SELECT `+locationColumns+`
		FROM warehouse_locations
		WHERE location_type = 'quarantine' AND is_active = true
		ORDER BY id
		LIMIT 1
	`))
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up quarantine location: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO warehouses (code, name) VALUES ($1, 'Default Warehouse')
		ON CONFLICT (code) DO NOTHING
	`, defaultWarehouseCode); err != nil {
		return nil, fmt.Errorf("failed to ensure default warehouse: %w", err)
	}
	var warehouseID int
	if err := tx.QueryRow(ctx, "SELECT id FROM warehouses WHERE code = $1", defaultWarehouseCode).Scan(&warehouseID); err != nil {
		return nil, fmt.Errorf("failed to resolve default warehouse: %w", err)
	}

	// An inactive quarantine bin in DEFAULT is revived rather than duplicated.
	loc, err = scanLocation(tx.QueryRow(ctx, `
		INSERT INTO warehouse_locations (warehouse_id, location_code, location_type)
		VALUES ($1, $2, 'quarantine')
		ON CONFLICT (warehouse_id, location_type) WHERE location_type = 'quarantine'
		DO UPDATE SET is_active = true
		RETURNING `+locationColumns,
		warehouseID, quarantineLocationCode))
	if err != nil {
		return nil, fmt.Errorf("failed to ensure quarantine location: %w", err)
	}
	return loc, nil
}

// validateDestinationTx checks that loc can receive the given layer. Capacity
// is skipped for QC_FAILED moves so rejected stock can always be quarantined.
func validateDestinationTx(ctx context.Context, tx pgx.Tx, layer *Layer, warehouseID int, loc *Location, reason TransferReason) error {
	if !loc.IsActive {
		return &InvalidTransferError{LayerID: layer.ID, Reason: fmt.Sprintf("location %s is inactive", loc.LocationCode)}
	}
	if loc.WarehouseID != warehouseID {
		return &InvalidTransferError{LayerID: layer.ID,
			Reason: fmt.Sprintf("location %s does not belong to warehouse %d", loc.LocationCode, warehouseID)}
	}
	if loc.ReservedForItemID != nil && *loc.ReservedForItemID != layer.ItemID {
		return &InvalidTransferError{LayerID: layer.ID,
			Reason: fmt.Sprintf("location %s is reserved for item %d", loc.LocationCode, *loc.ReservedForItemID)}
	}
	if loc.CapacityQty == nil || reason == ReasonQCFailed {
		return nil
	}

	var occupied int64
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(remaining_qty), 0)::bigint
		FROM inventory_layers
		WHERE location_id = $1 AND remaining_qty > 0 AND id <> $2
	`, loc.ID, layer.ID).Scan(&occupied)
	if err != nil {
		return fmt.Errorf("failed to compute occupancy of location %d: %w", loc.ID, err)
	}
	if occupied+layer.RemainingQty > *loc.CapacityQty {
		return &CapacityExceededError{LocationID: loc.ID, Capacity: *loc.CapacityQty, Occupied: occupied, Incoming: layer.RemainingQty}
	}
	return nil
}
