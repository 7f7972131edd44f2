package devices

// Category is a canonical activity category tracked per device.
type Category string

const (
	CategorySolarWh       Category = "solar_wh"
	CategoryOdometerMiles Category = "odometer_miles"
	CategoryDischargeWh   Category = "battery_discharge_wh"
	CategoryChargeWh      Category = "charge_wh"
)

// AllCategories lists every canonical category.
func AllCategories() []Category {
	return []Category{
		CategorySolarWh,
		CategoryOdometerMiles,
		CategoryDischargeWh,
		CategoryChargeWh,
	}
}

// categoryAliases maps each canonical category to its lookup order.
// The canonical key always comes first; the remaining keys are legacy
// field names from earlier schema versions that may still be present in
// persisted baselines. Resolution takes the first present key and never
// sums across aliases.
var categoryAliases = map[Category][]string{
	CategorySolarWh:       {"solar_wh", "solar_energy_wh", "lifetime_energy_wh", "solar_lifetime_wh"},
	CategoryOdometerMiles: {"odometer_miles", "odometer", "lifetime_miles"},
	CategoryDischargeWh:   {"battery_discharge_wh", "discharge_wh", "battery_export_wh"},
	CategoryChargeWh:      {"charge_wh", "charging_wh", "charge_energy_wh"},
}

// NormalizeCategory maps a raw provider or legacy key to its canonical
// category.
func NormalizeCategory(key string) (Category, bool) {
	for category, aliases := range categoryAliases {
		for _, alias := range aliases {
			if alias == key {
				return category, true
			}
		}
	}
	return "", false
}

// ResolveCategoryValue returns the value for a category from a raw
// reading map, consulting the fixed alias order.
func ResolveCategoryValue(values map[string]float64, category Category) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	aliases, ok := categoryAliases[category]
	if !ok {
		return 0, false
	}
	for _, alias := range aliases {
		if value, present := values[alias]; present {
			return value, true
		}
	}
	return 0, false
}

// PinCategoryValue sets the canonical key for a category and drops any
// legacy alias keys, so later resolution sees exactly this value.
func PinCategoryValue(values map[string]float64, category Category, value float64) {
	aliases, ok := categoryAliases[category]
	if !ok || values == nil {
		return
	}
	for _, alias := range aliases {
		delete(values, alias)
	}
	values[string(category)] = value
}

// ValidCategory reports whether a category is canonical.
func ValidCategory(category Category) bool {
	_, ok := categoryAliases[category]
	return ok
}
