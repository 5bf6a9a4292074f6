package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CatalogService manages units of measure and items. Item stock totals are
// read-only here; they are derived from layers by the ledger services.
type CatalogService interface {
	CreateUnit(ctx context.Context, code, name string) (*UnitOfMeasure, error)
	ListUnits(ctx context.Context) ([]UnitOfMeasure, error)
	CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error)
	GetItem(ctx context.Context, id int) (*Item, error)
	GetItemByCode(ctx context.Context, code string) (*Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	// RecalculateItemTotals re-derives quantity_on_hand and average_cost from
	// the item's layers and reports whether the stored values had drifted.
	RecalculateItemTotals(ctx context.Context, id int) (*ItemTotals, error)
}

type CreateItemRequest struct {
	Code            string
	Name            string
	BaseUnit        string
	ItemClass       string
	ValuationMethod ValuationMethod
	StandardCost    int64
}

type catalogService struct {
	pool *pgxpool.Pool
}

func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

func (s *catalogService) CreateUnit(ctx context.Context, code, name string) (*UnitOfMeasure, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, invalid("code", "unit code is required")
	}
	if strings.TrimSpace(name) == "" {
		name = code
	}

	var u UnitOfMeasure
	err := s.pool.QueryRow(ctx, `
		INSERT INTO units_of_measure (code, name) VALUES ($1, $2)
		RETURNING code, name, created_at
	`, code, name).Scan(&u.Code, &u.Name, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "unit", Key: code}
		}
		return nil, fmt.Errorf("failed to insert unit: %w", err)
	}
	return &u, nil
}

func (s *catalogService) ListUnits(ctx context.Context) ([]UnitOfMeasure, error) {
	rows, err := s.pool.Query(ctx, "SELECT code, name, created_at FROM units_of_measure ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []UnitOfMeasure
	for rows.Next() {
		var u UnitOfMeasure
		if err := rows.Scan(&u.Code, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *catalogService) CreateItem(ctx context.Context, req CreateItemRequest) (*Item, error) {
	req.Code = strings.TrimSpace(req.Code)
	req.BaseUnit = strings.ToUpper(strings.TrimSpace(req.BaseUnit))
	if req.Code == "" {
		return nil, invalid("code", "item code is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, invalid("name", "item name is required")
	}
	if req.ValuationMethod == "" {
		req.ValuationMethod = ValuationFIFO
	}
	if !req.ValuationMethod.Valid() {
		return nil, invalid("valuation_method", "unknown valuation method %q", req.ValuationMethod)
	}
	if req.StandardCost < 0 {
		return nil, invalid("standard_cost", "must not be negative, got %d", req.StandardCost)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM units_of_measure WHERE code = $1)", req.BaseUnit).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check unit: %w", err)
	}
	if !exists {
		return nil, notFound("unit", req.BaseUnit)
	}

	item, err := scanItem(tx.QueryRow(ctx, `
		INSERT INTO items (code, name, base_unit, item_class, valuation_method, standard_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+itemColumns,
		req.Code, req.Name, req.BaseUnit, req.ItemClass, req.ValuationMethod, req.StandardCost))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "item", Key: req.Code}
		}
		return nil, fmt.Errorf("failed to insert item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return item, nil
}

func (s *catalogService) GetItem(ctx context.Context, id int) (*Item, error) {
	return getItem(ctx, s.pool, id, false)
}

func (s *catalogService) GetItemByCode(ctx context.Context, code string) (*Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, "SELECT "+itemColumns+" FROM items WHERE code = $1", code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item", code)
		}
		return nil, fmt.Errorf("failed to fetch item: %w", err)
	}
	return item, nil
}

func (s *catalogService) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := s.pool.Query(ctx, "SELECT "+itemColumns+" FROM items ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

func (s *catalogService) RecalculateItemTotals(ctx context.Context, id int) (*ItemTotals, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	before, err := getItem(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	after, err := recalculateItemTotalsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &ItemTotals{
		ItemID:            id,
		StoredQuantity:    before.QuantityOnHand,
		StoredAverageCost: before.AverageCost,
		QuantityOnHand:    after.QuantityOnHand,
		AverageCost:       after.AverageCost,
		Drifted:           before.QuantityOnHand != after.QuantityOnHand || before.AverageCost != after.AverageCost,
	}, nil
}

// ── TX-scoped helpers ────────────────────────────────────────────────────────

func getItem(ctx context.Context, q Querier, id int, forUpdate bool) (*Item, error) {
	sql := "SELECT " + itemColumns + " FROM items WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	item, err := scanItem(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item", id)
		}
		return nil, fmt.Errorf("failed to fetch item %d: %w", id, err)
	}
	return item, nil
}

// recalculateItemTotalsTx rewrites the item's quantity_on_hand and average_cost
// from a live aggregate over its non-depleted layers. Every layer mutation calls
// it before commit, so committed totals always match the layers.
func recalculateItemTotalsTx(ctx context.Context, tx pgx.Tx, itemID int) (*Item, error) {
	var qty int64
	var valueText string
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(remaining_qty), 0)::bigint,
		       COALESCE(SUM(remaining_qty::numeric * unit_cost), 0)::text
		FROM inventory_layers
		WHERE item_id = $1 AND remaining_qty > 0
	`, itemID).Scan(&qty, &valueText)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate layers for item %d: %w", itemID, err)
	}
	value, err := decimal.NewFromString(valueText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layer value %q: %w", valueText, err)
	}

	var previous int64
	if err := tx.QueryRow(ctx, "SELECT average_cost FROM items WHERE id = $1", itemID).Scan(&previous); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("item", itemID)
		}
		return nil, fmt.Errorf("failed to read item %d: %w", itemID, err)
	}

	item, err := scanItem(tx.QueryRow(ctx, `
		UPDATE items
		SET quantity_on_hand = $2, average_cost = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+itemColumns,
		itemID, qty, weightedAverageCost(qty, value, previous)))
	if err != nil {
		return nil, fmt.Errorf("failed to update item totals: %w", err)
	}
	return item, nil
}
