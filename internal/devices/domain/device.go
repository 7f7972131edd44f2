package devices

import "time"

// DeviceType classifies the physical hardware behind a device record.
type DeviceType string

const (
	TypeSolarSystem   DeviceType = "solar_system"
	TypeVehicle       DeviceType = "vehicle"
	TypePowerwall     DeviceType = "powerwall"
	TypeCharger       DeviceType = "charger"
	TypeWallConnector DeviceType = "wall_connector"
)

// NormalizeDeviceType validates a device type string.
func NormalizeDeviceType(value string) (DeviceType, bool) {
	switch DeviceType(value) {
	case TypeSolarSystem, TypeVehicle, TypePowerwall, TypeCharger, TypeWallConnector:
		return DeviceType(value), true
	default:
		return "", false
	}
}

// Categories returns the canonical categories a device type reports.
func (t DeviceType) Categories() []Category {
	switch t {
	case TypeSolarSystem:
		return []Category{CategorySolarWh}
	case TypeVehicle:
		return []Category{CategoryOdometerMiles, CategoryChargeWh}
	case TypePowerwall:
		return []Category{CategoryDischargeWh}
	case TypeCharger, TypeWallConnector:
		return []Category{CategoryChargeWh}
	default:
		return nil
	}
}

// Reading is a raw category-keyed reading as reported by a provider.
// Keys are canonical after adapter normalization, but persisted maps may
// still carry legacy aliases; use ResolveCategoryValue to read them.
type Reading map[string]float64

// Clone returns a detached copy of the reading.
func (r Reading) Clone() Reading {
	if r == nil {
		return nil
	}
	clone := make(Reading, len(r))
	for key, value := range r {
		clone[key] = value
	}
	return clone
}

// Device is the durable per-device ledger record. Identity is
// (user_id, provider, device_id). LifetimeTotals holds the latest raw
// readings; Baseline is the watermark the device was last zeroed at for
// reward purposes. Baseline mutates only inside a claim commit.
type Device struct {
	UserID           string
	Provider         string
	DeviceID         string
	Type             DeviceType
	LifetimeTotals   Reading
	Baseline         Reading
	LastClaimedAt    time.Time
	FlaggedForReview bool
	FlagReason       string
	Version          int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key returns the provider-scoped device key.
func (d Device) Key() string {
	return d.Provider + "|" + d.DeviceID
}

// Clone returns a detached copy with cloned reading maps.
func (d Device) Clone() Device {
	clone := d
	clone.LifetimeTotals = d.LifetimeTotals.Clone()
	clone.Baseline = d.Baseline.Clone()
	return clone
}
