package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TestCatalog looks up the active QC tests that apply to a new layer. A NULL
// item class or source type on a definition matches everything.
type TestCatalog interface {
	FindApplicableTests(ctx context.Context, q Querier, itemClass string, sourceType SourceType) ([]TestDefinition, error)
}

type pgTestCatalog struct{}

// NewTestCatalog returns a TestCatalog backed by qc_test_definitions.
func NewTestCatalog() TestCatalog {
	return pgTestCatalog{}
}

func (pgTestCatalog) FindApplicableTests(ctx context.Context, q Querier, itemClass string, sourceType SourceType) ([]TestDefinition, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, item_class, source_type, test_type, min_value::text, max_value::text
		FROM qc_test_definitions
		WHERE is_active = true
		  AND (item_class IS NULL OR item_class = $1)
		  AND (source_type IS NULL OR source_type = $2)
		ORDER BY id
	`, itemClass, sourceType)
	if err != nil {
		return nil, fmt.Errorf("failed to query test definitions: %w", err)
	}
	return collectTestDefinitions(rows)
}

func collectTestDefinitions(rows pgx.Rows) ([]TestDefinition, error) {
	defer rows.Close()

	var defs []TestDefinition
	for rows.Next() {
		var d TestDefinition
		var minText, maxText *string
		if err := rows.Scan(&d.ID, &d.Name, &d.ItemClass, &d.SourceType, &d.TestType, &minText, &maxText); err != nil {
			return nil, fmt.Errorf("failed to scan test definition: %w", err)
		}
		var err error
		if d.MinValue, err = parseBound(minText); err != nil {
			return nil, fmt.Errorf("test %d min_value: %w", d.ID, err)
		}
		if d.MaxValue, err = parseBound(maxText); err != nil {
			return nil, fmt.Errorf("test %d max_value: %w", d.ID, err)
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func parseBound(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// QualityService runs the inspection state machine. Submitting results is
// the only way a PENDING layer becomes APPROVED or REJECTED.
type QualityService interface {
	CreateTestDefinition(ctx context.Context, def TestDefinition) (*TestDefinition, error)
	// GenerateInspection opens an inspection for a PENDING layer, or returns
	// the one already open.
	GenerateInspection(ctx context.Context, layerID int) (*InspectionOrder, error)
	StartInspection(ctx context.Context, orderID int, inspector string) (*InspectionOrder, error)
	// SubmitInspection records results and applies the outcome to the batch.
	// A second submission fails with AlreadyCompletedError.
	SubmitInspection(ctx context.Context, orderID int, results []ResultInput, inspector string) (*InspectionOutcome, error)
	GetInspection(ctx context.Context, orderID int) (*InspectionOrder, error)
	ListInspections(ctx context.Context, status InspectionStatus) ([]InspectionOrder, error)
}

type qualityService struct {
	pool    *pgxpool.Pool
	catalog TestCatalog
	log     *zap.Logger
}

func NewQualityService(pool *pgxpool.Pool, catalog TestCatalog, log *zap.Logger) QualityService {
	if log == nil {
		log = zap.NewNop()
	}
	return &qualityService{pool: pool, catalog: catalog, log: log}
}

func (s *qualityService) CreateTestDefinition(ctx context.Context, def TestDefinition) (*TestDefinition, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, invalid("name", "test name is required")
	}
	switch def.TestType {
	case TestPassFail:
		def.MinValue, def.MaxValue = nil, nil
	case TestNumeric:
		if def.MinValue != nil && def.MaxValue != nil && def.MinValue.GreaterThan(*def.MaxValue) {
			return nil, invalid("min_value", "min %s exceeds max %s", def.MinValue, def.MaxValue)
		}
	default:
		return nil, invalid("test_type", "unknown test type %q", def.TestType)
	}
	if def.SourceType != nil && !def.SourceType.Valid() {
		return nil, invalid("source_type", "unknown source type %q", *def.SourceType)
	}

	rows, err := s.pool.Query(ctx, `
		INSERT INTO qc_test_definitions (name, item_class, source_type, test_type, min_value, max_value)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)
		RETURNING id, name, item_class, source_type, test_type, min_value::text, max_value::text
	`, def.Name, def.ItemClass, def.SourceType, def.TestType, boundText(def.MinValue), boundText(def.MaxValue))
	if err != nil {
		return nil, fmt.Errorf("failed to insert test definition: %w", err)
	}
	defs, err := collectTestDefinitions(rows)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "qc test", Key: def.Name}
		}
		return nil, err
	}
	if len(defs) != 1 {
		return nil, fmt.Errorf("failed to insert test definition: no row returned")
	}
	return &defs[0], nil
}

func boundText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func (s *qualityService) GenerateInspection(ctx context.Context, layerID int) (*InspectionOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	layer, err := getLayer(ctx, tx, layerID, true)
	if err != nil {
		return nil, err
	}
	if layer.QCStatus != QCPending {
		return nil, invalid("layer_id", "layer %d is %s, not awaiting inspection", layer.ID, layer.QCStatus)
	}

	order, err := scanInspection(tx.QueryRow(ctx, `
		SELECT `+inspectionColumns+`
		FROM qc_inspection_orders
		WHERE layer_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')
	`, layer.ID))
	switch {
	case err == nil:
		if order.Tests, err = inspectionTests(ctx, tx, order.ID); err != nil {
			return nil, err
		}
		return order, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("failed to look up open inspection: %w", err)
	}

	item, err := getItem(ctx, tx, layer.ItemID, false)
	if err != nil {
		return nil, err
	}
	tests, err := s.catalog.FindApplicableTests(ctx, tx, item.ItemClass, layer.SourceType)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return nil, invalid("layer_id", "no active tests apply to layer %d", layer.ID)
	}

	order, err = openInspectionTx(ctx, tx, layer, tests)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

func (s *qualityService) StartInspection(ctx context.Context, orderID int, inspector string) (*InspectionOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	order, err := getInspection(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}
	if !order.Status.Open() {
		return nil, &AlreadyCompletedError{InspectionID: order.ID, Status: order.Status}
	}

	order, err = scanInspection(tx.QueryRow(ctx, `
		UPDATE qc_inspection_orders
		SET status = 'IN_PROGRESS', inspector = COALESCE($2, inspector)
		WHERE id = $1
		RETURNING `+inspectionColumns,
		orderID, nullableString(inspector)))
	if err != nil {
		return nil, fmt.Errorf("failed to start inspection: %w", err)
	}
	if order.Tests, err = inspectionTests(ctx, tx, order.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return order, nil
}

func (s *qualityService) SubmitInspection(ctx context.Context, orderID int, inputs []ResultInput, inspector string) (*InspectionOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock makes a concurrent second submission wait, then see the
	// completed status below.
	order, err := getInspection(ctx, tx, orderID, true)
	if err != nil {
		return nil, err
	}
	if !order.Status.Open() {
		return nil, &AlreadyCompletedError{InspectionID: order.ID, Status: order.Status}
	}

	tests, err := inspectionTests(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]TestDefinition, len(tests))
	for _, t := range tests {
		byID[t.ID] = t
	}
	results, passed, err := evaluateResults(order.ID, byID, inputs)
	if err != nil {
		return nil, err
	}

	for i := range results {
		r := &results[i]
		err := tx.QueryRow(ctx, `
			INSERT INTO qc_inspection_results (inspection_id, test_id, result_value, passed)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, r.InspectionID, r.TestID, r.ResultValue, r.Passed).Scan(&r.ID, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to insert inspection result: %w", err)
		}
	}

	status := InspectionFailed
	if passed {
		status = InspectionPassed
	}
	completed, err := scanInspection(tx.QueryRow(ctx, `
		UPDATE qc_inspection_orders
		SET status = $2, inspector = COALESCE($3, inspector), completed_at = NOW()
		WHERE id = $1
		RETURNING `+inspectionColumns,
		order.ID, status, nullableString(inspector)))
	if err != nil {
		return nil, fmt.Errorf("failed to complete inspection: %w", err)
	}
	completed.Tests = tests

	outcome := &InspectionOutcome{Order: *completed, Passed: passed, Results: results}
	if err := s.applyOutcomeTx(ctx, tx, completed, passed, inspector, outcome); err != nil {
		return nil, err
	}
	if _, err := recalculateItemTotalsTx(ctx, tx, order.ItemID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.log.Info("inspection completed",
		zap.String("inspection_number", completed.InspectionNumber),
		zap.String("batch_number", completed.BatchNumber),
		zap.Bool("passed", passed),
		zap.Int("quarantine_moves", len(outcome.Transfers)))
	return outcome, nil
}

// applyOutcomeTx flips every PENDING layer of the inspected batch. Rejected
// layers are moved into quarantine, one QC_FAILED transfer row each.
func (s *qualityService) applyOutcomeTx(ctx context.Context, tx pgx.Tx, order *InspectionOrder, passed bool,
	operator string, outcome *InspectionOutcome) error {

	layers, err := pendingBatchLayers(ctx, tx, order.ItemID, order.BatchNumber)
	if err != nil {
		return err
	}

	if passed {
		for i := range layers {
			if err := setQCStatusTx(ctx, tx, &layers[i], QCApproved); err != nil {
				return err
			}
		}
		return nil
	}

	quarantine, err := ensureQuarantineLocationTx(ctx, tx)
	if err != nil {
		return err
	}
	for i := range layers {
		layer := &layers[i]
		if err := setQCStatusTx(ctx, tx, layer, QCRejected); err != nil {
			return err
		}
		if layer.RemainingQty == 0 {
			continue
		}
		transfer, err := moveLayerTx(ctx, tx, layer, quarantine, layer.RemainingQty, ReasonQCFailed, operator)
		if err != nil {
			return err
		}
		outcome.Transfers = append(outcome.Transfers, *transfer)
	}
	return nil
}

func (s *qualityService) GetInspection(ctx context.Context, orderID int) (*InspectionOrder, error) {
	order, err := getInspection(ctx, s.pool, orderID, false)
	if err != nil {
		return nil, err
	}
	if order.Tests, err = inspectionTests(ctx, s.pool, order.ID); err != nil {
		return nil, err
	}
	return order, nil
}

// ListInspections returns orders in the given status, or all orders when status is empty.
func (s *qualityService) ListInspections(ctx context.Context, status InspectionStatus) ([]InspectionOrder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+inspectionColumns+`
		FROM qc_inspection_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to query inspections: %w", err)
	}
	defer rows.Close()

	var orders []InspectionOrder
	for rows.Next() {
		o, err := scanInspection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inspection: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// ── TX-scoped helpers ────────────────────────────────────────────────────────

// openInspectionTx creates an inspection order for layer listing tests.
func openInspectionTx(ctx context.Context, tx pgx.Tx, layer *Layer, tests []TestDefinition) (*InspectionOrder, error) {
	var seq int64
	if err := tx.QueryRow(ctx, "SELECT nextval('qc_inspection_number_seq')").Scan(&seq); err != nil {
		return nil, fmt.Errorf("failed to allocate inspection number: %w", err)
	}

	order, err := scanInspection(tx.QueryRow(ctx, `
		INSERT INTO qc_inspection_orders
		    (inspection_number, item_id, layer_id, batch_number, quantity, source_type, source_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+inspectionColumns,
		fmt.Sprintf("QC-%06d", seq), layer.ItemID, layer.ID, layer.BatchNumber, layer.InitialQty,
		layer.SourceType, layer.SourceID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &DuplicateError{Entity: "open inspection for layer", Key: fmt.Sprint(layer.ID)}
		}
		return nil, fmt.Errorf("failed to insert inspection order: %w", err)
	}

	for _, t := range tests {
		if _, err := tx.Exec(ctx,
			"INSERT INTO qc_inspection_order_tests (inspection_id, test_id) VALUES ($1, $2)",
			order.ID, t.ID); err != nil {
			return nil, fmt.Errorf("failed to attach test %d to inspection: %w", t.ID, err)
		}
	}
	order.Tests = tests
	return order, nil
}

func getInspection(ctx context.Context, q Querier, id int, forUpdate bool) (*InspectionOrder, error) {
	sql := "SELECT " + inspectionColumns + " FROM qc_inspection_orders WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	order, err := scanInspection(q.QueryRow(ctx, sql, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("inspection", id)
		}
		return nil, fmt.Errorf("failed to fetch inspection %d: %w", id, err)
	}
	return order, nil
}

func inspectionTests(ctx context.Context, q Querier, inspectionID int) ([]TestDefinition, error) {
	rows, err := q.Query(ctx, `
		SELECT d.id, d.name, d.item_class, d.source_type, d.test_type, d.min_value::text, d.max_value::text
		FROM qc_inspection_order_tests ot
		JOIN qc_test_definitions d ON d.id = ot.test_id
		WHERE ot.inspection_id = $1
		ORDER BY d.id
	`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inspection tests: %w", err)
	}
	return collectTestDefinitions(rows)
}

func pendingBatchLayers(ctx context.Context, tx pgx.Tx, itemID int, batchNumber string) ([]Layer, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+layerColumns+`
		FROM inventory_layers
		WHERE item_id = $1 AND batch_number = $2 AND qc_status = 'PENDING'
		ORDER BY id
		FOR UPDATE
	`, itemID, batchNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch layers: %w", err)
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

func setQCStatusTx(ctx context.Context, tx pgx.Tx, layer *Layer, status QCStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE inventory_layers
		SET qc_status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $3
	`, layer.ID, status, layer.Version)
	if err != nil {
		return fmt.Errorf("failed to set layer %d qc status: %w", layer.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to set layer %d qc status: %w", layer.ID, errVersionConflict)
	}
	layer.QCStatus = status
	layer.Version++
	return nil
}
