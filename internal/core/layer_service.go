package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultMaxConsumeRetries bounds how many times Consume re-runs its layer
// selection after losing a version race.
const DefaultMaxConsumeRetries = 5

// CostPoster receives the cost basis of a consumption inside the consuming
// transaction. Returning an error rolls the consumption back.
type CostPoster interface {
	PostConsumption(ctx context.Context, tx pgx.Tx, item Item, result ConsumeResult) error
}

// LayerService creates and consumes inventory layers. Every call is one
// transaction and leaves the item's totals recomputed from its layers.
type LayerService interface {
	// CreateLayer records a received or produced batch. The quality gate
	// decides its qc status; a PENDING layer comes back with its inspection order.
	CreateLayer(ctx context.Context, req CreateLayerRequest) (*CreateLayerResult, error)
	// Consume draws qty from APPROVED and NOT_REQUIRED layers, oldest
	// receive_date first, and values it under the item's valuation method.
	Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error)
	GetLayer(ctx context.Context, id int) (*Layer, error)
	ListLayers(ctx context.Context, itemID int) ([]Layer, error)
}

type layerService struct {
	pool       *pgxpool.Pool
	catalog    TestCatalog
	poster     CostPoster
	log        *zap.Logger
	maxRetries int
}

// NewLayerService wires the layer store. poster may be nil when consumptions
// are not booked anywhere; maxRetries <= 0 selects DefaultMaxConsumeRetries.
func NewLayerService(pool *pgxpool.Pool, catalog TestCatalog, poster CostPoster, log *zap.Logger, maxRetries int) LayerService {
	if log == nil {
		log = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxConsumeRetries
	}
	return &layerService{pool: pool, catalog: catalog, poster: poster, log: log, maxRetries: maxRetries}
}

// ── Creation ─────────────────────────────────────────────────────────────────

func (s *layerService) CreateLayer(ctx context.Context, req CreateLayerRequest) (*CreateLayerResult, error) {
	req.BatchNumber = strings.TrimSpace(req.BatchNumber)
	if req.BatchNumber == "" {
		return nil, invalid("batch_number", "batch number is required")
	}
	if req.Qty <= 0 {
		return nil, invalid("qty", "must be positive, got %d", req.Qty)
	}
	if req.UnitCost < 0 {
		return nil, invalid("unit_cost", "must not be negative, got %d", req.UnitCost)
	}
	if req.SourceType == "" {
		req.SourceType = SourceReceipt
	}
	if !req.SourceType.Valid() {
		return nil, invalid("source_type", "unknown source type %q", req.SourceType)
	}
	if req.WarehouseID != nil && req.LocationID == nil {
		return nil, invalid("location_id", "a location is required when a warehouse is given")
	}
	if req.ReceiveDate.IsZero() {
		req.ReceiveDate = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := getItem(ctx, tx, req.ItemID, false)
	if err != nil {
		return nil, err
	}

	var dest *Location
	if req.LocationID != nil {
		dest, err = getLocation(ctx, tx, *req.LocationID, true)
		if err != nil {
			return nil, err
		}
		warehouseID := dest.WarehouseID
		if req.WarehouseID != nil {
			warehouseID = *req.WarehouseID
		}
		incoming := &Layer{ItemID: item.ID, RemainingQty: req.Qty}
		if err := validateDestinationTx(ctx, tx, incoming, warehouseID, dest, ReasonPutaway); err != nil {
			return nil, err
		}
	}

	status := QCNotRequired
	var tests []TestDefinition
	if req.QCRequired {
		tests, err = s.catalog.FindApplicableTests(ctx, tx, item.ItemClass, req.SourceType)
		if err != nil {
			return nil, err
		}
		if len(tests) > 0 {
			status = QCPending
		}
	}

	// The layer starts unplaced; placement goes through moveLayerTx so it is
	// logged like any other move.
	layer, err := scanLayer(tx.QueryRow(ctx, `
		INSERT INTO inventory_layers
		    (item_id, batch_number, initial_qty, remaining_qty, unit_cost, qc_status,
		     receive_date, source_type, source_id)
		VALUES ($1, $2, $3, $3, $4, $5, $6, $7, $8)
		RETURNING `+layerColumns,
		item.ID, req.BatchNumber, req.Qty, req.UnitCost, status, req.ReceiveDate,
		req.SourceType, nullableString(req.SourceID)))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "batch", Key: fmt.Sprintf("%s/%s", item.Code, req.BatchNumber)}
		}
		return nil, fmt.Errorf("failed to insert layer: %w", err)
	}

	result := &CreateLayerResult{}
	if dest != nil {
		reason := ReasonPutaway
		if req.SourceType == SourceProduction {
			reason = ReasonProductionCreate
		}
		if result.Transfer, err = moveLayerTx(ctx, tx, layer, dest, req.Qty, reason, req.Operator); err != nil {
			return nil, err
		}
	}
	if status == QCPending {
		if result.Inspection, err = openInspectionTx(ctx, tx, layer, tests); err != nil {
			return nil, err
		}
	}
	if _, err := recalculateItemTotalsTx(ctx, tx, item.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	result.Layer = *layer

	s.log.Info("layer created",
		zap.Int("layer_id", layer.ID),
		zap.String("item", item.Code),
		zap.String("batch_number", layer.BatchNumber),
		zap.Int64("qty", layer.InitialQty),
		zap.String("qc_status", string(layer.QCStatus)))
	return result, nil
}

// ── Consumption ──────────────────────────────────────────────────────────────

func (s *layerService) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	if req.Qty <= 0 {
		return nil, invalid("qty", "must be positive, got %d", req.Qty)
	}
	if req.ConsumptionDate.IsZero() {
		req.ConsumptionDate = time.Now().UTC()
	}
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if src := req.ReleaseSource; src != nil && (src.SourceType == "" || src.SourceID == "") {
		return nil, invalid("release_source", "source type and source id are required")
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		result, err := s.consumeOnce(ctx, req)
		if !errors.Is(err, errVersionConflict) {
			return result, err
		}
		s.log.Warn("layer version conflict, retrying consume",
			zap.Int("item_id", req.ItemID),
			zap.Int64("qty", req.Qty),
			zap.Int("attempt", attempt))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, &ConcurrentModificationError{ItemID: req.ItemID, Attempts: s.maxRetries}
}

// consumeOnce is a single selection-and-draw pass. A lost compare-and-swap on
// any layer returns errVersionConflict with the transaction rolled back.
func (s *layerService) consumeOnce(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	item, err := getItem(ctx, tx, req.ItemID, false)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		prior, err := priorConsumption(ctx, tx, req)
		if err != nil {
			return nil, err
		}
		if prior != nil {
			s.log.Info("consume replayed",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("consumption_ref", prior.ConsumptionRef))
			return prior, nil
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT `+layerColumns+`
		FROM inventory_layers
		WHERE item_id = $1
		  AND remaining_qty > 0
		  AND qc_status IN ('APPROVED', 'NOT_REQUIRED')
		ORDER BY receive_date ASC, id ASC
	`, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible layers: %w", err)
	}
	var layers []Layer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan layer: %w", err)
		}
		layers = append(layers, *l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read eligible layers: %w", err)
	}

	draws, eligible, ok := planDraws(layers, req.Qty)
	if !ok {
		return nil, &InsufficientStockError{ItemID: item.ID, Requested: req.Qty, Available: eligible}
	}

	versions := make(map[int]int, len(layers))
	for _, l := range layers {
		versions[l.ID] = l.Version
	}

	ref := uuid.NewString()
	for _, d := range draws {
		tag, err := tx.Exec(ctx, `
			UPDATE inventory_layers
			SET remaining_qty = remaining_qty - $2, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $3
		`, d.LayerID, d.Qty, versions[d.LayerID])
		if err != nil {
			return nil, fmt.Errorf("failed to draw from layer %d: %w", d.LayerID, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, errVersionConflict
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO layer_consumptions
			    (consumption_ref, item_id, layer_id, quantity, unit_cost, valuation_method,
			     consumption_date, reference_type, reference_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, ref, item.ID, d.LayerID, d.Qty, d.UnitCost, item.ValuationMethod, req.ConsumptionDate,
			nullableString(req.ReferenceType), nullableString(req.ReferenceID)); err != nil {
			return nil, fmt.Errorf("failed to record consumption: %w", err)
		}
	}

	// Weighted-average cost is taken before this draw changes the average.
	result := &ConsumeResult{
		ConsumptionRef:  ref,
		ItemID:          item.ID,
		ValuationMethod: item.ValuationMethod,
		Draws:           draws,
		TotalQty:        req.Qty,
		TotalCost:       consumptionCost(item.ValuationMethod, draws, item.AverageCost, item.StandardCost),
		ConsumptionDate: req.ConsumptionDate,
		ReferenceType:   req.ReferenceType,
		ReferenceID:     req.ReferenceID,
	}

	if _, err := recalculateItemTotalsTx(ctx, tx, item.ID); err != nil {
		return nil, err
	}
	if src := req.ReleaseSource; src != nil {
		if result.Released, err = releaseBySourceTx(ctx, tx, src.SourceType, src.SourceID, &item.ID); err != nil {
			return nil, err
		}
	}
	if s.poster != nil {
		if err := s.poster.PostConsumption(ctx, tx, *item, *result); err != nil {
			return nil, fmt.Errorf("failed to post consumption cost: %w", err)
		}
	}
	if req.IdempotencyKey != "" {
		tag, err := tx.Exec(ctx, `
			INSERT INTO consumption_requests (idempotency_key, consumption_ref, item_id, total_qty, total_cost)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, req.IdempotencyKey, ref, item.ID, result.TotalQty, result.TotalCost)
		if err != nil {
			return nil, fmt.Errorf("failed to record consumption request: %w", err)
		}
		// A concurrent call with the same key committed first; the retry
		// answers from its record.
		if tag.RowsAffected() == 0 {
			return nil, errVersionConflict
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("stock consumed",
		zap.String("item", item.Code),
		zap.Int64("qty", result.TotalQty),
		zap.Int64("cost", result.TotalCost),
		zap.Int("layers", len(draws)))
	return result, nil
}

// priorConsumption returns the recorded result for req.IdempotencyKey, or nil
// when the key is new. Reusing a key for a different item or quantity is a
// DuplicateError.
func priorConsumption(ctx context.Context, tx pgx.Tx, req ConsumeRequest) (*ConsumeResult, error) {
	result := &ConsumeResult{Replayed: true}
	var itemID int
	err := tx.QueryRow(ctx, `
		SELECT consumption_ref::text, item_id, total_qty, total_cost
		FROM consumption_requests
		WHERE idempotency_key = $1
	`, req.IdempotencyKey).Scan(&result.ConsumptionRef, &itemID, &result.TotalQty, &result.TotalCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up consumption request: %w", err)
	}
	if itemID != req.ItemID || result.TotalQty != req.Qty {
		return nil, &DuplicateError{Entity: "consumption request", Key: req.IdempotencyKey}
	}
	result.ItemID = itemID

	rows, err := tx.Query(ctx, `
		SELECT lc.layer_id, l.batch_number, lc.quantity, lc.unit_cost, lc.valuation_method,
		       lc.consumption_date, COALESCE(lc.reference_type, ''), COALESCE(lc.reference_id, '')
		FROM layer_consumptions lc
		JOIN inventory_layers l ON l.id = lc.layer_id
		WHERE lc.consumption_ref = $1
		ORDER BY lc.id
	`, result.ConsumptionRef)
	if err != nil {
		return nil, fmt.Errorf("failed to query recorded draws: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d LayerDraw
		if err := rows.Scan(&d.LayerID, &d.BatchNumber, &d.Qty, &d.UnitCost, &result.ValuationMethod,
			&result.ConsumptionDate, &result.ReferenceType, &result.ReferenceID); err != nil {
			return nil, fmt.Errorf("failed to scan recorded draw: %w", err)
		}
		result.Draws = append(result.Draws, d)
	}
	return result, rows.Err()
}

// ── Read views ───────────────────────────────────────────────────────────────

func (s *layerService) GetLayer(ctx context.Context, id int) (*Layer, error) {
	return getLayer(ctx, s.pool, id, false)
}

// ListLayers returns every layer of the item, depleted ones included, in draw order.
func (s *layerService) ListLayers(ctx context.Context, itemID int) ([]Layer, error) {
	if _, err := getItem(ctx, s.pool, itemID, false); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+layerColumns+`
		FROM inventory_layers
		WHERE item_id = $1
		ORDER BY receive_date ASC, id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query layers: %w", err)
	}
	defer rows.Close()

	var layers []Layer
	for rows.Next() {
		l, err := scanLayer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan layer: %w", err)
		}
		layers = append(layers, *l)
	}
	return layers, rows.Err()
}
