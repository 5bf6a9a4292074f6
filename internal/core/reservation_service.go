package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ReservationService keeps the demand-side ledger. Reservations never touch
// layer rows; they only limit how much of an item's stock can be promised.
type ReservationService interface {
	// Reserve fails with OverReservationError when qty exceeds
	// on-hand minus active reservations minus rejected stock.
	Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error)
	// ReserveOrder reserves every line of one order in a single transaction:
	// either all lines are reserved or none are. An item the source already
	// holds an ACTIVE reservation for is treated as confirmed and its
	// existing reservation is returned, so repeating the call reserves
	// nothing new.
	ReserveOrder(ctx context.Context, req ReserveOrderRequest) ([]Reservation, error)
	// Release is idempotent: releasing a reservation that is no longer
	// ACTIVE returns it unchanged.
	Release(ctx context.Context, id int) (*Reservation, error)
	// ReleaseBySource releases every ACTIVE reservation held by one order and
	// returns the rows it released.
	ReleaseBySource(ctx context.Context, sourceType, sourceID string) ([]Reservation, error)
	ExpireReservations(ctx context.Context, now time.Time) (int64, error)
	GetAvailability(ctx context.Context, itemID int) (*Availability, error)
	ListReservations(ctx context.Context, itemID int) ([]Reservation, error)
}

type reservationService struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewReservationService(pool *pgxpool.Pool, log *zap.Logger) ReservationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &reservationService{pool: pool, log: log}
}

func (s *reservationService) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	req.SourceType = strings.TrimSpace(req.SourceType)
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.Qty <= 0 {
		return nil, invalid("qty", "must be positive, got %d", req.Qty)
	}
	if req.SourceType == "" || req.SourceID == "" {
		return nil, invalid("source", "source type and source id are required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Locking the item row serializes reservers of the same item and waits
	// out in-flight layer mutations that rewrite its totals.
	item, err := getItem(ctx, tx, req.ItemID, true)
	if err != nil {
		return nil, err
	}
	avail, err := availabilityTx(ctx, tx, item)
	if err != nil {
		return nil, err
	}
	if req.Qty > avail.Available {
		return nil, &OverReservationError{ItemID: item.ID, Requested: req.Qty, Available: avail.Available}
	}

	r, err := scanReservation(tx.QueryRow(ctx, `
		INSERT INTO stock_reservations (item_id, source_type, source_id, qty_reserved, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+reservationColumns,
		item.ID, req.SourceType, req.SourceID, req.Qty, req.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return r, nil
}

func (s *reservationService) ReserveOrder(ctx context.Context, req ReserveOrderRequest) ([]Reservation, error) {
	req.SourceType = strings.TrimSpace(req.SourceType)
	req.SourceID = strings.TrimSpace(req.SourceID)
	if req.SourceType == "" || req.SourceID == "" {
		return nil, invalid("source", "source type and source id are required")
	}
	if len(req.Lines) == 0 {
		return nil, invalid("lines", "at least one line is required")
	}
	qtyByItem := make(map[int]int64, len(req.Lines))
	for i, l := range req.Lines {
		if l.Qty <= 0 {
			return nil, invalid(fmt.Sprintf("lines[%d].qty", i), "must be positive, got %d", l.Qty)
		}
		qtyByItem[l.ItemID] += l.Qty
	}
	// Items are locked in id order so two orders sharing items cannot deadlock.
	itemIDs := make([]int, 0, len(qtyByItem))
	for id := range qtyByItem {
		itemIDs = append(itemIDs, id)
	}
	sort.Ints(itemIDs)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	reserved := make([]Reservation, 0, len(itemIDs))
	for _, id := range itemIDs {
		item, err := getItem(ctx, tx, id, true)
		if err != nil {
			return nil, err
		}

		held, err := scanReservation(tx.QueryRow(ctx, `
			SELECT `+reservationColumns+`
			FROM stock_reservations
			WHERE source_type = $1 AND source_id = $2 AND item_id = $3 AND status = 'ACTIVE'
			ORDER BY id
			LIMIT 1
		`, req.SourceType, req.SourceID, item.ID))
		if err == nil {
			reserved = append(reserved, *held)
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to look up reservation for item %d: %w", item.ID, err)
		}

		qty := qtyByItem[id]
		avail, err := availabilityTx(ctx, tx, item)
		if err != nil {
			return nil, err
		}
		if qty > avail.Available {
			return nil, &OverReservationError{ItemID: item.ID, Requested: qty, Available: avail.Available}
		}
		r, err := scanReservation(tx.QueryRow(ctx, `
			INSERT INTO stock_reservations (item_id, source_type, source_id, qty_reserved, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+reservationColumns,
			item.ID, req.SourceType, req.SourceID, qty, req.ExpiresAt))
		if err != nil {
			return nil, fmt.Errorf("failed to insert reservation: %w", err)
		}
		reserved = append(reserved, *r)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("order reserved",
		zap.String("source_type", req.SourceType),
		zap.String("source_id", req.SourceID),
		zap.Int("lines", len(reserved)))
	return reserved, nil
}

func (s *reservationService) Release(ctx context.Context, id int) (*Reservation, error) {
	r, err := scanReservation(s.pool.QueryRow(ctx, `
		UPDATE stock_reservations
		SET status = 'RELEASED', released_at = NOW()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+reservationColumns, id))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to release reservation %d: %w", id, err)
	}

	r, err = scanReservation(s.pool.QueryRow(ctx,
		"SELECT "+reservationColumns+" FROM stock_reservations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("reservation", id)
		}
		return nil, fmt.Errorf("failed to fetch reservation %d: %w", id, err)
	}
	return r, nil
}

func (s *reservationService) ReleaseBySource(ctx context.Context, sourceType, sourceID string) ([]Reservation, error) {
	return releaseBySourceTx(ctx, s.pool, sourceType, sourceID, nil)
}

// releaseBySourceTx releases the source's ACTIVE reservations, limited to one
// item when itemID is set.
func releaseBySourceTx(ctx context.Context, q Querier, sourceType, sourceID string, itemID *int) ([]Reservation, error) {
	rows, err := q.Query(ctx, `
		UPDATE stock_reservations
		SET status = 'RELEASED', released_at = NOW()
		WHERE source_type = $1 AND source_id = $2 AND status = 'ACTIVE'
		  AND ($3::int IS NULL OR item_id = $3)
		RETURNING `+reservationColumns,
		sourceType, sourceID, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to release reservations for %s %s: %w", sourceType, sourceID, err)
	}
	defer rows.Close()

	var released []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		released = append(released, *r)
	}
	return released, rows.Err()
}

// ExpireReservations moves ACTIVE reservations whose expiry is at or before
// now to EXPIRED. It has no effect on layers.
func (s *reservationService) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_reservations
		SET status = 'EXPIRED'
		WHERE status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire reservations: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.log.Info("reservations expired", zap.Int64("count", n))
	}
	return tag.RowsAffected(), nil
}

func (s *reservationService) GetAvailability(ctx context.Context, itemID int) (*Availability, error) {
	item, err := getItem(ctx, s.pool, itemID, false)
	if err != nil {
		return nil, err
	}
	return availabilityTx(ctx, s.pool, item)
}

func (s *reservationService) ListReservations(ctx context.Context, itemID int) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM stock_reservations
		WHERE item_id = $1
		ORDER BY id
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, *r)
	}
	return reservations, rows.Err()
}

// availabilityTx ignores ACTIVE reservations that are already past expiry but
// not yet swept.
func availabilityTx(ctx context.Context, q Querier, item *Item) (*Availability, error) {
	a := &Availability{ItemID: item.ID, OnHand: item.QuantityOnHand}
	err := q.QueryRow(ctx, `
		SELECT
		    (SELECT COALESCE(SUM(qty_reserved), 0)::bigint
		     FROM stock_reservations
		     WHERE item_id = $1 AND status = 'ACTIVE'
		       AND (expires_at IS NULL OR expires_at > NOW())),
		    (SELECT COALESCE(SUM(remaining_qty), 0)::bigint
		     FROM inventory_layers
		     WHERE item_id = $1 AND qc_status = 'REJECTED' AND remaining_qty > 0),
		    (SELECT COALESCE(SUM(remaining_qty), 0)::bigint
		     FROM inventory_layers
		     WHERE item_id = $1 AND qc_status = 'PENDING' AND remaining_qty > 0)
	`, item.ID).Scan(&a.Reserved, &a.Rejected, &a.Pending)
	if err != nil {
		return nil, fmt.Errorf("failed to compute availability for item %d: %w", item.ID, err)
	}
	a.Available = availableQty(a.OnHand, a.Reserved, a.Rejected)
	return a, nil
}
