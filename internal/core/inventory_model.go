package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type ValuationMethod string

const (
	ValuationFIFO        ValuationMethod = "FIFO"
	ValuationWeightedAvg ValuationMethod = "WEIGHTED_AVG"
	ValuationStandard    ValuationMethod = "STANDARD"
)

func (v ValuationMethod) Valid() bool {
	switch v {
	case ValuationFIFO, ValuationWeightedAvg, ValuationStandard:
		return true
	}
	return false
}

type QCStatus string

const (
	QCPending     QCStatus = "PENDING"
	QCApproved    QCStatus = "APPROVED"
	QCRejected    QCStatus = "REJECTED"
	QCNotRequired QCStatus = "NOT_REQUIRED"
)

// Consumable reports whether layers in this state may be drawn by Consume.
func (s QCStatus) Consumable() bool {
	return s == QCApproved || s == QCNotRequired
}

type SourceType string

const (
	SourceReceipt    SourceType = "RECEIPT"
	SourceProduction SourceType = "PRODUCTION"
	SourceAdjustment SourceType = "ADJUSTMENT"
)

func (s SourceType) Valid() bool {
	switch s {
	case SourceReceipt, SourceProduction, SourceAdjustment:
		return true
	}
	return false
}

type LocationType string

const (
	LocationReceiving  LocationType = "receiving"
	LocationPicking    LocationType = "picking"
	LocationStorage    LocationType = "storage"
	LocationQuarantine LocationType = "quarantine"
	LocationProduction LocationType = "production"
)

func (t LocationType) Valid() bool {
	switch t {
	case LocationReceiving, LocationPicking, LocationStorage, LocationQuarantine, LocationProduction:
		return true
	}
	return false
}

type TransferReason string

const (
	ReasonPutaway           TransferReason = "PUTAWAY"
	ReasonPicking           TransferReason = "PICKING"
	ReasonRelocation        TransferReason = "RELOCATION"
	ReasonCycleCount        TransferReason = "CYCLE_COUNT"
	ReasonProductionConsume TransferReason = "PRODUCTION_CONSUME"
	ReasonProductionCreate  TransferReason = "PRODUCTION_CREATE"
	ReasonQCFailed          TransferReason = "QC_FAILED"
)

func (r TransferReason) Valid() bool {
	switch r {
	case ReasonPutaway, ReasonPicking, ReasonRelocation, ReasonCycleCount,
		ReasonProductionConsume, ReasonProductionCreate, ReasonQCFailed:
		return true
	}
	return false
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

type TestType string

const (
	TestPassFail TestType = "PASS_FAIL"
	TestNumeric  TestType = "NUMERIC"
)

type InspectionStatus string

const (
	InspectionPending    InspectionStatus = "PENDING"
	InspectionInProgress InspectionStatus = "IN_PROGRESS"
	InspectionPassed     InspectionStatus = "PASSED"
	InspectionFailed     InspectionStatus = "FAILED"
)

// Open reports whether results may still be submitted.
func (s InspectionStatus) Open() bool {
	return s == InspectionPending || s == InspectionInProgress
}

func (s InspectionStatus) Valid() bool {
	return s.Open() || s == InspectionPassed || s == InspectionFailed
}

// ── Catalog ──────────────────────────────────────────────────────────────────

type UnitOfMeasure struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is a stock-tracked good. QuantityOnHand and AverageCost are derived from
// the item's layers and written only by the ledger services.
type Item struct {
	ID              int             `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	BaseUnit        string          `json:"base_unit"`
	ItemClass       string          `json:"item_class"`
	ValuationMethod ValuationMethod `json:"valuation_method"`
	StandardCost    int64           `json:"standard_cost"`
	QuantityOnHand  int64           `json:"quantity_on_hand"`
	AverageCost     int64           `json:"average_cost"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ItemTotals compares the stored denormalized totals against a fresh aggregate.
type ItemTotals struct {
	ItemID            int   `json:"item_id"`
	StoredQuantity    int64 `json:"stored_quantity"`
	StoredAverageCost int64 `json:"stored_average_cost"`
	QuantityOnHand    int64 `json:"quantity_on_hand"`
	AverageCost       int64 `json:"average_cost"`
	Drifted           bool  `json:"drifted"`
}

// ── Locations ────────────────────────────────────────────────────────────────

type Warehouse struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

type Location struct {
	ID                int          `json:"id"`
	WarehouseID       int          `json:"warehouse_id"`
	LocationCode      string       `json:"location_code"`
	LocationType      LocationType `json:"location_type"`
	CapacityQty       *int64       `json:"capacity_qty,omitempty"`
	ReservedForItemID *int         `json:"reserved_for_item_id,omitempty"`
	IsActive          bool         `json:"is_active"`
	CreatedAt         time.Time    `json:"created_at"`
}

// ParentCode returns the code of the enclosing location, or "" at the top level.
func (l Location) ParentCode() string {
	return ParentCode(l.LocationCode)
}

// ── Layers ───────────────────────────────────────────────────────────────────

// Layer is one received or produced batch of an item. UnitCost never changes
// after creation and a depleted layer is never drawn from again.
type Layer struct {
	ID           int        `json:"id"`
	ItemID       int        `json:"item_id"`
	BatchNumber  string     `json:"batch_number"`
	InitialQty   int64      `json:"initial_qty"`
	RemainingQty int64      `json:"remaining_qty"`
	UnitCost     int64      `json:"unit_cost"`
	WarehouseID  *int       `json:"warehouse_id,omitempty"`
	LocationID   *int       `json:"location_id,omitempty"`
	QCStatus     QCStatus   `json:"qc_status"`
	IsDepleted   bool       `json:"is_depleted"`
	ReceiveDate  time.Time  `json:"receive_date"`
	SourceType   SourceType `json:"source_type"`
	SourceID     *string    `json:"source_id,omitempty"`
	Version      int        `json:"version"`
	CreatedAt    time.Time  `json:"created_at"`
}

type CreateLayerRequest struct {
	ItemID      int
	BatchNumber string
	Qty         int64
	UnitCost    int64
	WarehouseID *int
	LocationID  *int
	QCRequired  bool
	SourceType  SourceType
	SourceID    string
	ReceiveDate time.Time // zero means now
	Operator    string
}

type CreateLayerResult struct {
	Layer      Layer             `json:"layer"`
	Inspection *InspectionOrder  `json:"inspection,omitempty"`
	Transfer   *LocationTransfer `json:"transfer,omitempty"`
}

// LayerDraw is one allocation made by Consume, in draw order.
type LayerDraw struct {
	LayerID     int    `json:"layer_id"`
	BatchNumber string `json:"batch_number"`
	Qty         int64  `json:"qty"`
	UnitCost    int64  `json:"unit_cost"`
}

type ConsumeRequest struct {
	ItemID          int
	Qty             int64
	ConsumptionDate time.Time // zero means now
	ReferenceType   string
	ReferenceID     string
	// IdempotencyKey makes the call safe to repeat: a second Consume with the
	// same key returns the first result and draws nothing.
	IdempotencyKey  string
	// ReleaseSource, when set, releases the source's ACTIVE reservations of
	// this item in the same transaction as the draw.
	ReleaseSource   *ReservationSource
}

type ConsumeResult struct {
	ConsumptionRef  string          `json:"consumption_ref"`
	ItemID          int             `json:"item_id"`
	ValuationMethod ValuationMethod `json:"valuation_method"`
	Draws           []LayerDraw     `json:"draws"`
	TotalQty        int64           `json:"total_qty"`
	TotalCost       int64           `json:"total_cost"`
	ConsumptionDate time.Time       `json:"consumption_date"`
	ReferenceType   string          `json:"reference_type,omitempty"`
	ReferenceID     string          `json:"reference_id,omitempty"`
	Released        []Reservation   `json:"released,omitempty"`
	Replayed        bool            `json:"replayed,omitempty"`
}

// ── Quality ──────────────────────────────────────────────────────────────────

type TestDefinition struct {
	ID         int              `json:"id"`
	Name       string           `json:"name"`
	ItemClass  *string          `json:"item_class,omitempty"`
	SourceType *SourceType      `json:"source_type,omitempty"`
	TestType   TestType         `json:"test_type"`
	MinValue   *decimal.Decimal `json:"min_value,omitempty"`
	MaxValue   *decimal.Decimal `json:"max_value,omitempty"`
}

type InspectionOrder struct {
	ID               int              `json:"id"`
	InspectionNumber string           `json:"inspection_number"`
	ItemID           int              `json:"item_id"`
	LayerID          int              `json:"layer_id"`
	BatchNumber      string           `json:"batch_number"`
	Quantity         int64            `json:"quantity"`
	SourceType       SourceType       `json:"source_type"`
	SourceID         *string          `json:"source_id,omitempty"`
	Status           InspectionStatus `json:"status"`
	Inspector        *string          `json:"inspector,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	Tests            []TestDefinition `json:"tests,omitempty"`
}

// ResultInput is one submitted measurement.
type ResultInput struct {
	TestID int    `json:"test_id"`
	Value  string `json:"value"`
}

type InspectionResult struct {
	ID           int       `json:"id"`
	InspectionID int       `json:"inspection_id"`
	TestID       int       `json:"test_id"`
	ResultValue  string    `json:"result_value"`
	Passed       bool      `json:"passed"`
	CreatedAt    time.Time `json:"created_at"`
}

type InspectionOutcome struct {
	Order     InspectionOrder    `json:"order"`
	Passed    bool               `json:"passed"`
	Results   []InspectionResult `json:"results"`
	Transfers []LocationTransfer `json:"transfers,omitempty"`
}

// ── Reservations ─────────────────────────────────────────────────────────────

type Reservation struct {
	ID          int               `json:"id"`
	ItemID      int               `json:"item_id"`
	SourceType  string            `json:"source_type"`
	SourceID    string            `json:"source_id"`
	QtyReserved int64             `json:"qty_reserved"`
	Status      ReservationStatus `json:"status"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ReleasedAt  *time.Time        `json:"released_at,omitempty"`
}

type ReserveRequest struct {
	ItemID     int
	SourceType string
	SourceID   string
	Qty        int64
	ExpiresAt  *time.Time
}

// ReservationSource names the order that holds reservations.
type ReservationSource struct {
	SourceType string
	SourceID   string
}

// ReserveOrderRequest reserves several items for one order at once.
type ReserveOrderRequest struct {
	SourceType string
	SourceID   string
	Lines      []ReserveLine
	ExpiresAt  *time.Time
}

type ReserveLine struct {
	ItemID int
	Qty    int64
}

// Availability is the demand-side view of an item:
// Available = OnHand - Reserved - Rejected, floored at zero.
type Availability struct {
	ItemID    int   `json:"item_id"`
	OnHand    int64 `json:"on_hand"`
	Reserved  int64 `json:"reserved"`
	Rejected  int64 `json:"rejected"`
	Pending   int64 `json:"pending"`
	Available int64 `json:"available"`
}

// ── Transfers ────────────────────────────────────────────────────────────────

type LocationTransfer struct {
	ID              int            `json:"id"`
	ItemID          int            `json:"item_id"`
	LayerID         int            `json:"layer_id"`
	BatchNumber     string         `json:"batch_number"`
	FromWarehouseID *int           `json:"from_warehouse_id,omitempty"`
	FromLocationID  *int           `json:"from_location_id,omitempty"`
	ToWarehouseID   int            `json:"to_warehouse_id"`
	ToLocationID    int            `json:"to_location_id"`
	Quantity        int64          `json:"quantity"`
	RequestedQty    int64          `json:"requested_qty"`
	Reason          TransferReason `json:"transfer_reason"`
	Operator        string         `json:"operator"`
	Status          string         `json:"status"`
	TransferDate    time.Time      `json:"transfer_date"`
}

type TransferRequest struct {
	LayerID       int
	ToWarehouseID int
	ToLocationID  int
	Qty           int64
	Reason        TransferReason
	Operator      string
}
