package core

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func day(n int) time.Time {
	return time.Date(2024, time.January, n, 0, 0, 0, 0, time.UTC)
}

func TestPlanDraws_FIFOOrder(t *testing.T) {
	// Deliberately out of order: the later layer has the lower id.
	layers := []Layer{
		{ID: 1, BatchNumber: "B2", RemainingQty: 10, UnitCost: 120, QCStatus: QCNotRequired, ReceiveDate: day(2)},
		{ID: 2, BatchNumber: "B1", RemainingQty: 10, UnitCost: 100, QCStatus: QCApproved, ReceiveDate: day(1)},
	}

	draws, eligible, ok := planDraws(layers, 15)
	if !ok {
		t.Fatalf("expected plan to succeed, eligible=%d", eligible)
	}
	if len(draws) != 2 {
		t.Fatalf("expected 2 draws, got %d", len(draws))
	}
	if draws[0].BatchNumber != "B1" || draws[0].Qty != 10 || draws[0].UnitCost != 100 {
		t.Errorf("first draw: expected 10@100 from B1, got %+v", draws[0])
	}
	if draws[1].BatchNumber != "B2" || draws[1].Qty != 5 || draws[1].UnitCost != 120 {
		t.Errorf("second draw: expected 5@120 from B2, got %+v", draws[1])
	}
	if cost := consumptionCost(ValuationFIFO, draws, 0, 0); cost != 1600 {
		t.Errorf("expected FIFO cost 1600, got %d", cost)
	}
}

func TestPlanDraws_TieBrokenByID(t *testing.T) {
	layers := []Layer{
		{ID: 9, BatchNumber: "LATE", RemainingQty: 5, QCStatus: QCApproved, ReceiveDate: day(1)},
		{ID: 3, BatchNumber: "EARLY", RemainingQty: 5, QCStatus: QCApproved, ReceiveDate: day(1)},
	}
	draws, _, ok := planDraws(layers, 5)
	if !ok || len(draws) != 1 || draws[0].LayerID != 3 {
		t.Fatalf("expected a single draw from layer 3, got %+v (ok=%v)", draws, ok)
	}
}

func TestPlanDraws_SkipsIneligible(t *testing.T) {
	layers := []Layer{
		{ID: 1, RemainingQty: 100, QCStatus: QCPending, ReceiveDate: day(1)},
		{ID: 2, RemainingQty: 100, QCStatus: QCRejected, ReceiveDate: day(1)},
		{ID: 3, RemainingQty: 0, QCStatus: QCApproved, IsDepleted: true, ReceiveDate: day(1)},
		{ID: 4, RemainingQty: 7, QCStatus: QCApproved, ReceiveDate: day(3)},
	}

	draws, eligible, ok := planDraws(layers, 7)
	if !ok || eligible != 7 {
		t.Fatalf("expected eligible 7 and success, got eligible=%d ok=%v", eligible, ok)
	}
	if len(draws) != 1 || draws[0].LayerID != 4 {
		t.Errorf("expected only layer 4 drawn, got %+v", draws)
	}

	draws, eligible, ok = planDraws(layers, 8)
	if ok || draws != nil || eligible != 7 {
		t.Errorf("expected shortfall with eligible 7 and no draws, got eligible=%d ok=%v draws=%v", eligible, ok, draws)
	}
}

func TestPlanDraws_NonPositiveQty(t *testing.T) {
	layers := []Layer{{ID: 1, RemainingQty: 5, QCStatus: QCApproved}}
	if _, _, ok := planDraws(layers, 0); ok {
		t.Errorf("expected zero quantity to be rejected")
	}
}

func TestConsumptionCost(t *testing.T) {
	draws := []LayerDraw{{Qty: 10, UnitCost: 100}, {Qty: 5, UnitCost: 120}}

	tests := []struct {
		name   string
		method ValuationMethod
		want   int64
	}{
		{"FIFO uses layer costs", ValuationFIFO, 1600},
		{"weighted average ignores layer costs", ValuationWeightedAvg, 15 * 107},
		{"standard uses item standard cost", ValuationStandard, 15 * 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consumptionCost(tt.method, draws, 107, 90); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestWeightedAverageCost(t *testing.T) {
	tests := []struct {
		name     string
		qty      int64
		value    string
		previous int64
		want     int64
	}{
		{"exact", 20, "2200", 0, 110},
		{"rounds half up", 3, "200", 0, 67},
		{"rounds down", 3, "100", 0, 33},
		{"keeps previous when empty", 0, "0", 115, 115},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weightedAverageCost(tt.qty, decimal.RequireFromString(tt.value), tt.previous)
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAvailableQty(t *testing.T) {
	if got := availableQty(50, 40, 0); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	if got := availableQty(50, 40, 20); got != 0 {
		t.Errorf("expected availability floored at 0, got %d", got)
	}
}
