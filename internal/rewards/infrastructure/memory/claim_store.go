package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/rewards/application"
	rewards "watt-rewards/internal/rewards/domain"
)

// ClaimStore is an in-memory ClaimStore with the same commit semantics
// as the postgres store: per-user mutual exclusion without waiting, and
// all-or-nothing application of the transaction's mutations.
type ClaimStore struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	devices map[string]map[string]*devices.Device // userID -> device key
	entries []rewards.Entry
	byPrint map[string]struct{}
}

// NewClaimStore constructs an empty store.
func NewClaimStore() *ClaimStore {
	return &ClaimStore{
		locks:   make(map[string]*sync.Mutex),
		devices: make(map[string]map[string]*devices.Device),
		byPrint: make(map[string]struct{}),
	}
}

// PutDevice seeds or replaces a device row.
func (s *ClaimStore) PutDevice(device devices.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.devices[device.UserID]
	if !ok {
		byKey = make(map[string]*devices.Device)
		s.devices[device.UserID] = byKey
	}
	clone := device.Clone()
	byKey[device.Key()] = &clone
}

// Device returns a copy of the stored device row, if present.
func (s *ClaimStore) Device(userID, provider, deviceID string) (devices.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.devices[userID]
	if !ok {
		return devices.Device{}, false
	}
	device, ok := byKey[provider+"|"+deviceID]
	if !ok {
		return devices.Device{}, false
	}
	return device.Clone(), true
}

// Entries returns a copy of the ledger.
func (s *ClaimStore) Entries() []rewards.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]rewards.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// WithUserClaim serializes claims per user. A held per-user lock means
// another cycle is committing and rewards.ErrConcurrentClaim is
// returned immediately. Mutations are buffered and applied only when fn
// succeeds.
func (s *ClaimStore) WithUserClaim(ctx context.Context, userID string, fn func(ctx context.Context, tx application.ClaimTx) error) error {
	if userID == "" {
		return rewards.ErrEmptyUserID
	}
	lock := s.userLock(userID)
	if !lock.TryLock() {
		return rewards.ErrConcurrentClaim
	}
	defer lock.Unlock()

	tx := &claimTx{store: s, userID: userID, seen: make(map[string]struct{})}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.apply()
}

func (s *ClaimStore) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

type baselineAdvance struct {
	key       string
	reading   devices.Reading
	claimedAt time.Time
}

type deviceFlag struct {
	key    string
	reason string
}

type claimTx struct {
	store    *ClaimStore
	userID   string
	entries  []rewards.Entry
	seen     map[string]struct{}
	advances []baselineAdvance
	flags    []deviceFlag
}

func (t *claimTx) DevicesForUpdate(ctx context.Context, userID string) ([]devices.Device, error) {
	if userID != t.userID {
		return nil, errors.New("memory claim tx: user mismatch")
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var result []devices.Device
	for _, device := range t.store.devices[userID] {
		result = append(result, device.Clone())
	}
	return result, nil
}

func (t *claimTx) InsertEntry(ctx context.Context, entry rewards.Entry) (bool, error) {
	if entry.BasisFingerprint == "" {
		return false, rewards.ErrNilEntry
	}
	if _, ok := t.seen[entry.BasisFingerprint]; ok {
		return false, nil
	}
	t.store.mu.Lock()
	_, committed := t.store.byPrint[entry.BasisFingerprint]
	t.store.mu.Unlock()
	if committed {
		return false, nil
	}
	t.seen[entry.BasisFingerprint] = struct{}{}
	t.entries = append(t.entries, entry)
	return true, nil
}

func (t *claimTx) AdvanceBaseline(ctx context.Context, userID, provider, deviceID string, reading devices.Reading, claimedAt time.Time) error {
	if userID != t.userID {
		return errors.New("memory claim tx: user mismatch")
	}
	t.advances = append(t.advances, baselineAdvance{
		key:       provider + "|" + deviceID,
		reading:   reading.Clone(),
		claimedAt: claimedAt,
	})
	return nil
}

func (t *claimTx) FlagDevice(ctx context.Context, userID, provider, deviceID, reason string) error {
	if userID != t.userID {
		return errors.New("memory claim tx: user mismatch")
	}
	t.flags = append(t.flags, deviceFlag{key: provider + "|" + deviceID, reason: reason})
	return nil
}

// apply commits the buffered mutations under the store lock.
func (t *claimTx) apply() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	byKey := t.store.devices[t.userID]
	for _, adv := range t.advances {
		device, ok := byKey[adv.key]
		if !ok {
			return devices.ErrDeviceNotFound
		}
		device.Baseline = adv.reading.Clone()
		device.LifetimeTotals = adv.reading.Clone()
		device.LastClaimedAt = adv.claimedAt
		device.UpdatedAt = adv.claimedAt
		device.Version++
	}
	for _, flag := range t.flags {
		device, ok := byKey[flag.key]
		if !ok {
			return devices.ErrDeviceNotFound
		}
		device.FlaggedForReview = true
		device.FlagReason = flag.reason
		device.Version++
	}
	for _, entry := range t.entries {
		t.store.entries = append(t.store.entries, entry)
		t.store.byPrint[entry.BasisFingerprint] = struct{}{}
	}
	return nil
}
