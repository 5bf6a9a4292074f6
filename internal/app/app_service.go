package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"inventory-ledger/internal/core"
	"inventory-ledger/internal/gl"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// AvailabilityCache is the optional read-through cache for GetAvailability.
// Implementations treat their own failures as misses. Writes invalidate the
// items they touch, but a read that missed can still store a value computed
// before a concurrent write; entries must expire, and their TTL bounds how
// long such a value is served.
type AvailabilityCache interface {
	Get(ctx context.Context, itemID int) (*core.Availability, bool)
	Set(ctx context.Context, a core.Availability)
	Invalidate(ctx context.Context, itemIDs ...int)
	Purge(ctx context.Context)
}

type noCache struct{}

func (noCache) Get(context.Context, int) (*core.Availability, bool) { return nil, false }
func (noCache) Set(context.Context, core.Availability)              {}
func (noCache) Invalidate(context.Context, ...int)                  {}
func (noCache) Purge(context.Context)                               {}

// Services groups the ledger's domain services.
type Services struct {
	Catalog      core.CatalogService
	Locations    core.LocationService
	Layers       core.LayerService
	Quality      core.QualityService
	Reservations core.ReservationService
	Transfers    core.TransferService
}

// NewServices builds the domain services over pool. Consumptions are booked
// to the general ledger through gl.Poster.
func NewServices(pool *pgxpool.Pool, maxConsumeRetries int, log *zap.Logger) Services {
	if log == nil {
		log = zap.NewNop()
	}
	tests := core.NewTestCatalog()
	poster := gl.NewPoster(gl.NewRuleEngine(), log.Named("gl"))
	return Services{
		Catalog:      core.NewCatalogService(pool),
		Locations:    core.NewLocationService(pool),
		Layers:       core.NewLayerService(pool, tests, poster, log.Named("layers"), maxConsumeRetries),
		Quality:      core.NewQualityService(pool, tests, log.Named("quality")),
		Reservations: core.NewReservationService(pool, log.Named("reservations")),
		Transfers:    core.NewTransferService(pool, log.Named("transfers")),
	}
}

type appService struct {
	pool  *pgxpool.Pool
	svc   Services
	cache AvailabilityCache
	log   *zap.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
// cache may be nil.
func NewAppService(pool *pgxpool.Pool, svc Services, cache AvailabilityCache, log *zap.Logger) ApplicationService {
	if cache == nil {
		cache = noCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &appService{pool: pool, svc: svc, cache: cache, log: log}
}

// resolveItem accepts a numeric id or an item code.
func (s *appService) resolveItem(ctx context.Context, ref string) (*core.Item, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.Atoi(ref); err == nil {
		return s.svc.Catalog.GetItem(ctx, id)
	}
	return s.svc.Catalog.GetItemByCode(ctx, ref)
}

// ── Catalog ──────────────────────────────────────────────────────────────────

func (s *appService) CreateUnit(ctx context.Context, code, name string) (*core.UnitOfMeasure, error) {
	return s.svc.Catalog.CreateUnit(ctx, code, name)
}

func (s *appService) ListUnits(ctx context.Context) ([]core.UnitOfMeasure, error) {
	return s.svc.Catalog.ListUnits(ctx)
}

func (s *appService) CreateItem(ctx context.Context, req core.CreateItemRequest) (*core.Item, error) {
	return s.svc.Catalog.CreateItem(ctx, req)
}

func (s *appService) GetItem(ctx context.Context, ref string) (*core.Item, error) {
	return s.resolveItem(ctx, ref)
}

func (s *appService) ListItems(ctx context.Context) ([]core.Item, error) {
	return s.svc.Catalog.ListItems(ctx)
}

func (s *appService) RecalculateItemTotals(ctx context.Context, ref string) (*core.ItemTotals, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	totals, err := s.svc.Catalog.RecalculateItemTotals(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if totals.Drifted {
		s.log.Warn("item totals drifted from layers",
			zap.String("item", item.Code),
			zap.Int64("stored_qty", totals.StoredQuantity),
			zap.Int64("layer_qty", totals.QuantityOnHand))
		s.cache.Invalidate(ctx, item.ID)
	}
	return totals, nil
}

func (s *appService) GetStock(ctx context.Context, ref string) (*StockResult, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	avail, err := s.availability(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	layers, err := s.svc.Layers.ListLayers(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return &StockResult{Item: *item, Availability: *avail, Layers: layers}, nil
}

// ── Locations ────────────────────────────────────────────────────────────────

func (s *appService) CreateWarehouse(ctx context.Context, code, name string) (*core.Warehouse, error) {
	return s.svc.Locations.CreateWarehouse(ctx, code, name)
}

func (s *appService) ListWarehouses(ctx context.Context) ([]core.Warehouse, error) {
	return s.svc.Locations.ListWarehouses(ctx)
}

func (s *appService) CreateLocation(ctx context.Context, req core.CreateLocationRequest) (*core.Location, error) {
	return s.svc.Locations.CreateLocation(ctx, req)
}

func (s *appService) ListLocations(ctx context.Context, warehouseID int) ([]core.Location, error) {
	return s.svc.Locations.ListLocations(ctx, warehouseID)
}

func (s *appService) EnsureQuarantineLocation(ctx context.Context) (*core.Location, error) {
	return s.svc.Locations.EnsureQuarantineLocation(ctx)
}

// ── Layers ───────────────────────────────────────────────────────────────────

func (s *appService) CreateLayer(ctx context.Context, req core.CreateLayerRequest) (*core.CreateLayerResult, error) {
	res, err := s.svc.Layers.CreateLayer(ctx, req)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, res.Layer.ItemID)
	return res, nil
}

func (s *appService) Consume(ctx context.Context, req core.ConsumeRequest) (*core.ConsumeResult, error) {
	res, err := s.svc.Layers.Consume(ctx, req)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, res.ItemID)
	return res, nil
}

func (s *appService) GetLayer(ctx context.Context, id int) (*core.Layer, error) {
	return s.svc.Layers.GetLayer(ctx, id)
}

func (s *appService) ListLayers(ctx context.Context, ref string) ([]core.Layer, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.svc.Layers.ListLayers(ctx, item.ID)
}

// ── Quality ──────────────────────────────────────────────────────────────────

func (s *appService) CreateTestDefinition(ctx context.Context, def core.TestDefinition) (*core.TestDefinition, error) {
	return s.svc.Quality.CreateTestDefinition(ctx, def)
}

func (s *appService) GenerateInspection(ctx context.Context, layerID int) (*core.InspectionOrder, error) {
	return s.svc.Quality.GenerateInspection(ctx, layerID)
}

func (s *appService) StartInspection(ctx context.Context, orderID int, inspector string) (*core.InspectionOrder, error) {
	return s.svc.Quality.StartInspection(ctx, orderID, inspector)
}

func (s *appService) SubmitInspection(ctx context.Context, orderID int, results []core.ResultInput, inspector string) (*core.InspectionOutcome, error) {
	outcome, err := s.svc.Quality.SubmitInspection(ctx, orderID, results, inspector)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, outcome.Order.ItemID)
	return outcome, nil
}

func (s *appService) GetInspection(ctx context.Context, orderID int) (*core.InspectionOrder, error) {
	return s.svc.Quality.GetInspection(ctx, orderID)
}

func (s *appService) ListInspections(ctx context.Context, status core.InspectionStatus) ([]core.InspectionOrder, error) {
	return s.svc.Quality.ListInspections(ctx, status)
}

// ── Reservations ─────────────────────────────────────────────────────────────

func (s *appService) Reserve(ctx context.Context, req core.ReserveRequest) (*core.Reservation, error) {
	r, err := s.svc.Reservations.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, r.ItemID)
	return r, nil
}

func (s *appService) Release(ctx context.Context, id int) (*core.Reservation, error) {
	r, err := s.svc.Reservations.Release(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, r.ItemID)
	return r, nil
}

func (s *appService) ReleaseBySource(ctx context.Context, sourceType, sourceID string) ([]core.Reservation, error) {
	released, err := s.svc.Reservations.ReleaseBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, itemIDs(released)...)
	return released, nil
}

func (s *appService) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.svc.Reservations.ExpireReservations(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.cache.Purge(ctx)
	}
	return n, nil
}

func (s *appService) GetAvailability(ctx context.Context, ref string) (*core.Availability, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.availability(ctx, item.ID)
}

func (s *appService) availability(ctx context.Context, itemID int) (*core.Availability, error) {
	if a, ok := s.cache.Get(ctx, itemID); ok {
		return a, nil
	}
	a, err := s.svc.Reservations.GetAvailability(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, *a)
	return a, nil
}

func (s *appService) ListReservations(ctx context.Context, ref string) ([]core.Reservation, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.svc.Reservations.ListReservations(ctx, item.ID)
}

// ── Transfers ────────────────────────────────────────────────────────────────

func (s *appService) Transfer(ctx context.Context, req core.TransferRequest) (*core.LocationTransfer, error) {
	return s.svc.Transfers.Transfer(ctx, req)
}

func (s *appService) ListTransfers(ctx context.Context, ref string) ([]core.LocationTransfer, error) {
	item, err := s.resolveItem(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.svc.Transfers.ListTransfers(ctx, item.ID)
}

// ── Order workflows ──────────────────────────────────────────────────────────

// ConfirmOrder reserves every line in one transaction. Confirming an order
// that already holds its reservations returns them without reserving again.
func (s *appService) ConfirmOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	lines := make([]core.ReserveLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		item, err := s.resolveItem(ctx, line.ItemCode)
		if err != nil {
			return nil, fmt.Errorf("order %s line %s: %w", req.SourceID, line.ItemCode, err)
		}
		lines = append(lines, core.ReserveLine{ItemID: item.ID, Qty: line.Quantity})
	}

	reserved, err := s.svc.Reservations.ReserveOrder(ctx, core.ReserveOrderRequest{
		SourceType: req.SourceType,
		SourceID:   req.SourceID,
		Lines:      lines,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", req.SourceID, err)
	}
	s.cache.Invalidate(ctx, itemIDs(reserved)...)
	return &OrderResult{SourceType: req.SourceType, SourceID: req.SourceID, Reservations: reserved}, nil
}

func (s *appService) CancelOrder(ctx context.Context, sourceType, sourceID string) (*OrderResult, error) {
	released, err := s.ReleaseBySource(ctx, sourceType, sourceID)
	if err != nil {
		return nil, err
	}
	return &OrderResult{SourceType: sourceType, SourceID: sourceID, Released: released}, nil
}

// FulfillOrder consumes line by line. Each consumption releases the order's
// reservation of that item in its own transaction, so a failed line keeps its
// reservation and the earlier lines stay consumed. Reservations of items not
// on any line are released once every line has succeeded. With an
// IdempotencyKey each line is keyed, so fulfilling again consumes nothing new.
func (s *appService) FulfillOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	result := &OrderResult{SourceType: req.SourceType, SourceID: req.SourceID}
	source := &core.ReservationSource{SourceType: req.SourceType, SourceID: req.SourceID}
	for i, line := range req.Lines {
		item, err := s.resolveItem(ctx, line.ItemCode)
		if err != nil {
			return result, fmt.Errorf("order %s line %s: %w", req.SourceID, line.ItemCode, err)
		}
		consume := core.ConsumeRequest{
			ItemID:        item.ID,
			Qty:           line.Quantity,
			ReferenceType: req.SourceType,
			ReferenceID:   req.SourceID,
			ReleaseSource: source,
		}
		if req.IdempotencyKey != "" {
			consume.IdempotencyKey = req.IdempotencyKey + "#" + strconv.Itoa(i)
		}
		res, err := s.Consume(ctx, consume)
		if err != nil {
			return result, fmt.Errorf("order %s line %s: %w", req.SourceID, line.ItemCode, err)
		}
		result.Consumptions = append(result.Consumptions, *res)
		result.Released = append(result.Released, res.Released...)
	}

	rest, err := s.ReleaseBySource(ctx, req.SourceType, req.SourceID)
	if err != nil {
		return result, err
	}
	result.Released = append(result.Released, rest...)
	return result, nil
}

func validateOrder(req OrderRequest) error {
	if req.SourceType == "" || req.SourceID == "" {
		return &core.ValidationError{Field: "source", Message: "order source type and id are required"}
	}
	if len(req.Lines) == 0 {
		return &core.ValidationError{Field: "lines", Message: "order has no lines"}
	}
	return nil
}

func itemIDs(rs []core.Reservation) []int {
	seen := make(map[int]bool, len(rs))
	var ids []int
	for _, r := range rs {
		if !seen[r.ItemID] {
			seen[r.ItemID] = true
			ids = append(ids, r.ItemID)
		}
	}
	return ids
}

// ── Reports ──────────────────────────────────────────────────────────────────

func (s *appService) GetTrialBalance(ctx context.Context) (*TrialBalanceResult, error) {
	balances, err := gl.Balances(ctx, s.pool)
	if err != nil {
		return nil, err
	}
	return &TrialBalanceResult{Accounts: balances}, nil
}
