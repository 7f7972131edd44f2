package rates

import (
	"errors"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	devices "watt-rewards/internal/devices/domain"
)

// Table converts activity basis into whole reward tokens. Each category
// carries a units-per-token divisor; conversion truncates, so fractional
// units earn nothing until a whole token's worth of activity accrues.
// Rate values are policy constants consumed, not computed, by the engine.
type Table struct {
	unitsPerToken map[devices.Category]float64
}

// NewTable constructs a table from per-category divisors.
func NewTable(unitsPerToken map[devices.Category]float64) (*Table, error) {
	if len(unitsPerToken) == 0 {
		return nil, errors.New("rates: empty table")
	}
	table := make(map[devices.Category]float64, len(unitsPerToken))
	for category, units := range unitsPerToken {
		if !devices.ValidCategory(category) {
			return nil, errors.New("rates: unknown category " + string(category))
		}
		if units <= 0 {
			return nil, errors.New("rates: non-positive units for " + string(category))
		}
		table[category] = units
	}
	return &Table{unitsPerToken: table}, nil
}

// Default returns the built-in rate table: one token per kWh of energy
// and one token per ten miles driven.
func Default() *Table {
	table, _ := NewTable(map[devices.Category]float64{
		devices.CategorySolarWh:       1000,
		devices.CategoryDischargeWh:   1000,
		devices.CategoryChargeWh:      1000,
		devices.CategoryOdometerMiles: 10,
	})
	return table
}

// TokensFor converts an activity basis into whole tokens, flooring the
// fractional remainder.
func (t *Table) TokensFor(category devices.Category, basis float64) int64 {
	if t == nil || basis <= 0 {
		return 0
	}
	units, ok := t.unitsPerToken[category]
	if !ok || units <= 0 {
		return 0
	}
	return int64(math.Floor(basis / units))
}

type tableFile struct {
	UnitsPerToken map[string]float64 `yaml:"units_per_token"`
}

// LoadFile loads a rate table from yaml, falling back to defaults for
// categories the file omits.
func LoadFile(path string) (*Table, error) {
	if path == "" {
		return nil, errors.New("rates: empty path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed tableFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	merged := make(map[devices.Category]float64)
	for category, units := range Default().unitsPerToken {
		merged[category] = units
	}
	for key, units := range parsed.UnitsPerToken {
		category, ok := devices.NormalizeCategory(key)
		if !ok {
			return nil, errors.New("rates: unknown category " + key)
		}
		if units <= 0 {
			return nil, errors.New("rates: non-positive units for " + key)
		}
		merged[category] = units
	}
	return NewTable(merged)
}
