package devices

import "errors"

var (
	// ErrEmptyUserID indicates a missing user id.
	ErrEmptyUserID = errors.New("devices: empty user id")
	// ErrEmptyDeviceID indicates a missing device id.
	ErrEmptyDeviceID = errors.New("devices: empty device id")
	// ErrEmptyProvider indicates a missing provider name.
	ErrEmptyProvider = errors.New("devices: empty provider")
	// ErrInvalidDeviceType indicates an unknown device type.
	ErrInvalidDeviceType = errors.New("devices: invalid device type")
	// ErrDeviceNotFound indicates the device record does not exist.
	ErrDeviceNotFound = errors.New("devices: device not found")
	// ErrDeviceAlreadyLinked indicates the device is linked to another account.
	ErrDeviceAlreadyLinked = errors.New("devices: device already linked")
)
