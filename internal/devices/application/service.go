package application

import (
	"context"
	"errors"
	"time"

	devices "watt-rewards/internal/devices/domain"
)

// Ledger persists device rows.
type Ledger interface {
	Create(ctx context.Context, device devices.Device) error
	Get(ctx context.Context, userID, provider, deviceID string) (*devices.Device, error)
	ListByUser(ctx context.Context, userID string) ([]devices.Device, error)
	ListFlagged(ctx context.Context, limit int) ([]devices.Device, error)
	ResolveFlag(ctx context.Context, userID, provider, deviceID string, baseline devices.Reading, resolvedAt time.Time) error
	Delete(ctx context.Context, userID, provider, deviceID string) error
}

// ReadingFetcher performs a fresh provider read for one device.
type ReadingFetcher interface {
	Fetch(ctx context.Context, userID, provider, deviceID string) (devices.Reading, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Service manages the device ledger: linking, unlinking and review.
type Service struct {
	ledger  Ledger
	fetcher ReadingFetcher
	clock   Clock
}

// NewService constructs a device service.
func NewService(ledger Ledger, fetcher ReadingFetcher, clock Clock) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("device service: nil ledger")
	}
	if fetcher == nil {
		return nil, errors.New("device service: nil fetcher")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{ledger: ledger, fetcher: fetcher, clock: clock}, nil
}

// Link registers a device and seeds its baseline to the first observed
// lifetime reading, so activity before linking earns nothing.
func (s *Service) Link(ctx context.Context, userID, provider, deviceID string, deviceType devices.DeviceType) (*devices.Device, error) {
	if userID == "" {
		return nil, devices.ErrEmptyUserID
	}
	if provider == "" {
		return nil, devices.ErrEmptyProvider
	}
	if deviceID == "" {
		return nil, devices.ErrEmptyDeviceID
	}
	if _, ok := devices.NormalizeDeviceType(string(deviceType)); !ok {
		return nil, devices.ErrInvalidDeviceType
	}

	reading, err := s.fetcher.Fetch(ctx, userID, provider, deviceID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	device := devices.Device{
		UserID:         userID,
		Provider:       provider,
		DeviceID:       deviceID,
		Type:           deviceType,
		LifetimeTotals: reading.Clone(),
		Baseline:       reading.Clone(),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.ledger.Create(ctx, device); err != nil {
		return nil, err
	}
	return &device, nil
}

// List returns all devices a user has linked.
func (s *Service) List(ctx context.Context, userID string) ([]devices.Device, error) {
	if userID == "" {
		return nil, devices.ErrEmptyUserID
	}
	return s.ledger.ListByUser(ctx, userID)
}

// Get returns one of the user's devices.
func (s *Service) Get(ctx context.Context, userID, provider, deviceID string) (*devices.Device, error) {
	if userID == "" {
		return nil, devices.ErrEmptyUserID
	}
	return s.ledger.Get(ctx, userID, provider, deviceID)
}

// Unlink removes a device from the ledger. Reward entries already
// committed for it are kept.
func (s *Service) Unlink(ctx context.Context, userID, provider, deviceID string) error {
	if userID == "" {
		return devices.ErrEmptyUserID
	}
	return s.ledger.Delete(ctx, userID, provider, deviceID)
}

// ListFlagged returns devices awaiting manual review.
func (s *Service) ListFlagged(ctx context.Context, limit int) ([]devices.Device, error) {
	return s.ledger.ListFlagged(ctx, limit)
}

// ResolveFlag clears a review flag after manual inspection and re-seeds
// the baseline to a fresh reading. This is the only path that may move a
// baseline downward: claim commits keep a regressed category's mark, so
// after a genuine counter reset or device swap the device earns nothing
// until its flag is resolved here.
func (s *Service) ResolveFlag(ctx context.Context, userID, provider, deviceID string) error {
	if userID == "" {
		return devices.ErrEmptyUserID
	}
	reading, err := s.fetcher.Fetch(ctx, userID, provider, deviceID)
	if err != nil {
		return err
	}
	return s.ledger.ResolveFlag(ctx, userID, provider, deviceID, reading, s.clock.Now().UTC())
}
