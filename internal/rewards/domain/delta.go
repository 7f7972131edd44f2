package rewards

import (
	devices "watt-rewards/internal/devices/domain"
)

// CategoryDelta is the not-yet-rewarded activity for one category.
type CategoryDelta struct {
	Category  devices.Category
	Lifetime  float64
	Baseline  float64
	Delta     float64
	Regressed bool
}

// ComputeDelta maps (lifetime, baseline) to non-negative pending
// activity per category. Pure function, safe to call repeatedly.
//
// Per category:
//   - absent from lifetime: category omitted (partial provider response)
//   - absent from baseline: first sight of the category defines the new
//     zero; pending is 0, the next claim commit seeds the baseline
//   - lifetime < baseline: provider counter reset or device swap; the
//     delta is clamped to 0 and the category is marked Regressed so the
//     device can be flagged for manual review
//
// Both maps are read through the fixed alias order, first present key
// wins; aliases are never summed.
func ComputeDelta(lifetime, baseline devices.Reading, categories []devices.Category) []CategoryDelta {
	if len(lifetime) == 0 || len(categories) == 0 {
		return nil
	}

	var deltas []CategoryDelta
	for _, category := range categories {
		current, ok := devices.ResolveCategoryValue(lifetime, category)
		if !ok {
			continue
		}
		mark, ok := devices.ResolveCategoryValue(baseline, category)
		if !ok {
			deltas = append(deltas, CategoryDelta{
				Category: category,
				Lifetime: current,
				Baseline: current,
				Delta:    0,
			})
			continue
		}

		delta := current - mark
		regressed := false
		if delta < 0 {
			delta = 0
			regressed = true
		}
		deltas = append(deltas, CategoryDelta{
			Category:  category,
			Lifetime:  current,
			Baseline:  mark,
			Delta:     delta,
			Regressed: regressed,
		})
	}
	return deltas
}

// NextBaseline is the baseline to persist after a claim commit: the
// cycle's reading, except that a regressed category keeps its previous
// mark. Moving the mark down to a stale or reset counter would re-open
// activity that an earlier commit already credited; the flagged device
// stays behind the old mark until the flag is resolved manually.
func NextBaseline(reading devices.Reading, deltas []CategoryDelta) devices.Reading {
	next := reading.Clone()
	for _, delta := range deltas {
		if delta.Regressed {
			devices.PinCategoryValue(next, delta.Category, delta.Baseline)
		}
	}
	return next
}

// HasRegression reports whether any category regressed.
func HasRegression(deltas []CategoryDelta) bool {
	for _, delta := range deltas {
		if delta.Regressed {
			return true
		}
	}
	return false
}
