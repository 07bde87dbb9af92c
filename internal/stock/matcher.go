package stock

import (
	"sort"
	"strings"
)

// BatchMatch is the outcome of resolving a movement to a physical batch.
// CorrectedLocation is set when the any-location fallback fired and the
// operation's declared location was replaced by the batch's actual location;
// callers log or surface the correction instead of silently trusting it.
type BatchMatch struct {
	Batch             Batch
	CorrectedLocation bool
}

// matchBatch resolves which batch a movement applies to. Candidates share
// the same item and batch number; the cascade stops at the first hit:
//
//  1. exact location with sufficient quantity
//  2. case-insensitive location with sufficient quantity
//  3. any location with sufficient quantity (location corrected)
//
// No partial application: a batch qualifies only when it can cover the whole
// requested quantity on its own.
func matchBatch(candidates []Batch, itemName, batchNo, location string, need int64) (BatchMatch, error) {
	if len(candidates) == 0 {
		return BatchMatch{}, &InsufficientStockError{ItemName: itemName, BatchNo: batchNo, Requested: need}
	}

	for _, b := range candidates {
		if b.Location == location && b.Quantity >= need {
			return BatchMatch{Batch: b}, nil
		}
	}
	for _, b := range candidates {
		if strings.EqualFold(b.Location, location) && b.Quantity >= need {
			return BatchMatch{Batch: b}, nil
		}
	}
	for _, b := range candidates {
		if b.Quantity >= need {
			return BatchMatch{Batch: b, CorrectedLocation: !strings.EqualFold(b.Location, location)}, nil
		}
	}

	best := candidates[0].Quantity
	for _, b := range candidates[1:] {
		if b.Quantity > best {
			best = b.Quantity
		}
	}
	return BatchMatch{}, &InsufficientStockError{ItemName: itemName, BatchNo: batchNo, Requested: need, Available: best}
}

// consumptionPlan orders an item's batches for draw-down when no batch number
// was named: declared location first, then other locations; earliest expiry
// wins within a location, undated batches last.
func consumptionPlan(batches []Batch, location string) []Batch {
	plan := make([]Batch, len(batches))
	copy(plan, batches)
	sort.SliceStable(plan, func(i, j int) bool {
		li := strings.EqualFold(plan[i].Location, location)
		lj := strings.EqualFold(plan[j].Location, location)
		if li != lj {
			return li
		}
		ei, ej := plan[i].ExpiryDate, plan[j].ExpiryDate
		switch {
		case ei == nil && ej == nil:
			return plan[i].ID < plan[j].ID
		case ei == nil:
			return false
		case ej == nil:
			return true
		default:
			if !ei.Equal(*ej) {
				return ei.Before(*ej)
			}
			return plan[i].ID < plan[j].ID
		}
	})
	return plan
}
