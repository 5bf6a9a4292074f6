package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// sortForDraw orders layers oldest-received first, ties broken by id. Consume
// depends on this order for FIFO costing, so it is applied even though the
// query already sorts the same way.
func sortForDraw(layers []Layer) {
	sort.SliceStable(layers, func(i, j int) bool {
		if !layers[i].ReceiveDate.Equal(layers[j].ReceiveDate) {
			return layers[i].ReceiveDate.Before(layers[j].ReceiveDate)
		}
		return layers[i].ID < layers[j].ID
	})
}

// planDraws allocates qty across layers in draw order. Layers that are not
// consumable or have nothing left are skipped. It returns the eligible total
// and ok=false when that total cannot cover qty, in which case no draws are returned.
func planDraws(layers []Layer, qty int64) (draws []LayerDraw, eligible int64, ok bool) {
	ordered := make([]Layer, len(layers))
	copy(ordered, layers)
	sortForDraw(ordered)

	for _, l := range ordered {
		if l.QCStatus.Consumable() && l.RemainingQty > 0 {
			eligible += l.RemainingQty
		}
	}
	if qty <= 0 || eligible < qty {
		return nil, eligible, false
	}

	need := qty
	for _, l := range ordered {
		if need == 0 {
			break
		}
		if !l.QCStatus.Consumable() || l.RemainingQty <= 0 {
			continue
		}
		take := min(need, l.RemainingQty)
		draws = append(draws, LayerDraw{LayerID: l.ID, BatchNumber: l.BatchNumber, Qty: take, UnitCost: l.UnitCost})
		need -= take
	}
	return draws, eligible, true
}

// consumptionCost values a set of draws under the item's valuation method.
// FIFO uses each layer's own cost; the other methods ignore per-layer cost.
func consumptionCost(method ValuationMethod, draws []LayerDraw, averageCost, standardCost int64) int64 {
	var qty, fifo int64
	for _, d := range draws {
		qty += d.Qty
		fifo += d.Qty * d.UnitCost
	}
	switch method {
	case ValuationWeightedAvg:
		return qty * averageCost
	case ValuationStandard:
		return qty * standardCost
	default:
		return fifo
	}
}

// weightedAverageCost returns value/qty rounded half away from zero to the
// minor unit. With nothing on hand the previous average is kept.
func weightedAverageCost(qty int64, value decimal.Decimal, previous int64) int64 {
	if qty <= 0 {
		return previous
	}
	return value.Div(decimal.NewFromInt(qty)).Round(0).IntPart()
}

func availableQty(onHand, reserved, rejected int64) int64 {
	return max(onHand-reserved-rejected, 0)
}
