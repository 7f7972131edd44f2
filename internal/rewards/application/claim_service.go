package application

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/observability/metrics"
	"watt-rewards/internal/providers"
	rewards "watt-rewards/internal/rewards/domain"
)

// Phase is a claim cycle state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseReading    Phase = "reading"
	PhaseComputing  Phase = "computing"
	PhaseCommitting Phase = "committing"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// Flag reason recorded when a provider counter runs backwards.
const flagReasonRegression = "baseline_regression"

// BreakdownItem is one device/category grant inside a claim.
type BreakdownItem struct {
	Provider      string           `json:"provider"`
	DeviceID      string           `json:"device_id"`
	Category      devices.Category `json:"category"`
	ActivityBasis float64          `json:"activity_basis"`
	Tokens        int64            `json:"tokens"`
	Regressed     bool             `json:"regressed,omitempty"`
}

// SkippedDevice is a device excluded from a claim cycle with the reason.
type SkippedDevice struct {
	Provider string `json:"provider"`
	DeviceID string `json:"device_id"`
	Reason   string `json:"reason"`
}

// ClaimResult is the terminal report of one claim cycle.
type ClaimResult struct {
	ClaimID        string          `json:"claim_id"`
	Phase          Phase           `json:"phase"`
	TokensClaimed  int64           `json:"tokens_claimed"`
	Breakdown      []BreakdownItem `json:"breakdown"`
	SkippedDevices []SkippedDevice `json:"skipped_devices"`
	ClaimedAt      time.Time       `json:"claimed_at"`
}

// RateProvider converts an activity basis into whole tokens.
type RateProvider interface {
	TokensFor(category devices.Category, basis float64) int64
}

// DeviceLister reads a user's devices outside the commit lock.
type DeviceLister interface {
	ListByUser(ctx context.Context, userID string) ([]devices.Device, error)
}

// ReadingFetcher performs a fresh provider read for one device.
type ReadingFetcher interface {
	Fetch(ctx context.Context, userID, provider, deviceID string) (devices.Reading, error)
}

// ClaimTx exposes the mutations available inside one claim commit. All
// of them take effect atomically or not at all.
type ClaimTx interface {
	// DevicesForUpdate re-reads the user's devices under the commit
	// lock so deltas are computed against current persisted baselines.
	DevicesForUpdate(ctx context.Context, userID string) ([]devices.Device, error)
	// InsertEntry appends a claimed reward entry. A false return means
	// an entry with the same basis fingerprint already exists and the
	// insert was a no-op.
	InsertEntry(ctx context.Context, entry rewards.Entry) (bool, error)
	// AdvanceBaseline moves a device's baseline to the reading captured
	// in this cycle and stamps last_claimed_at.
	AdvanceBaseline(ctx context.Context, userID, provider, deviceID string, reading devices.Reading, claimedAt time.Time) error
	// FlagDevice marks a device for manual review.
	FlagDevice(ctx context.Context, userID, provider, deviceID, reason string) error
}

// ClaimStore serializes claim commits per user. WithUserClaim must
// reject a second concurrent cycle for the same user with
// rewards.ErrConcurrentClaim and must roll back every ClaimTx mutation
// when fn returns an error.
type ClaimStore interface {
	WithUserClaim(ctx context.Context, userID string, fn func(ctx context.Context, tx ClaimTx) error) error
}

// ClaimPublisher emits a claim-committed event for the mint sink.
type ClaimPublisher interface {
	PublishRewardsClaimed(ctx context.Context, event RewardsClaimed) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// ClaimService is the claim coordinator: it re-reads providers, computes
// final deltas against persisted baselines, and commits reward entries
// together with baseline advancement as one atomic unit.
type ClaimService struct {
	ledger    DeviceLister
	fetcher   ReadingFetcher
	store     ClaimStore
	rates     RateProvider
	publisher ClaimPublisher
	clock     Clock
}

// NewClaimService constructs the coordinator.
func NewClaimService(
	ledger DeviceLister,
	fetcher ReadingFetcher,
	store ClaimStore,
	rates RateProvider,
	publisher ClaimPublisher,
	clock Clock,
) (*ClaimService, error) {
	if ledger == nil {
		return nil, errors.New("claim service: nil device ledger")
	}
	if fetcher == nil {
		return nil, errors.New("claim service: nil fetcher")
	}
	if store == nil {
		return nil, errors.New("claim service: nil claim store")
	}
	if rates == nil {
		return nil, errors.New("claim service: nil rate provider")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &ClaimService{
		ledger:    ledger,
		fetcher:   fetcher,
		store:     store,
		rates:     rates,
		publisher: publisher,
		clock:     clock,
	}, nil
}

// Claim runs one claim cycle for a user.
//
// READING: every owned device gets a fresh provider read; a device
// failing transiently is excluded from this cycle (baseline untouched)
// and reported in SkippedDevices rather than failing the claim.
//
// COMPUTING/COMMITTING: inside one per-user serialized transaction the
// devices are re-read under lock, deltas are computed against the
// persisted baselines, claimed entries are inserted and every
// successfully-read device's baseline advances to the reading captured
// this cycle. A regressed category keeps its previous mark so a stale or
// reset counter cannot re-open already-credited activity; the device is
// flagged instead and the mark moves only on manual flag resolution.
// An error before or during commit leaves nothing persisted.
func (s *ClaimService) Claim(ctx context.Context, userID string) (*ClaimResult, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveClaim(result, time.Since(start))
	}()

	if userID == "" {
		result = metrics.ResultError
		return nil, rewards.ErrEmptyUserID
	}

	cycle := &ClaimResult{ClaimID: uuid.NewString(), Phase: PhaseReading}

	owned, err := s.ledger.ListByUser(ctx, userID)
	if err != nil {
		result = metrics.ResultError
		cycle.Phase = PhaseFailed
		return nil, err
	}

	readings := make(map[string]devices.Reading, len(owned))
	for _, device := range owned {
		reading, err := s.fetcher.Fetch(ctx, userID, device.Provider, device.DeviceID)
		if err != nil {
			reason := providers.SkipReason(err)
			cycle.SkippedDevices = append(cycle.SkippedDevices, SkippedDevice{
				Provider: device.Provider,
				DeviceID: device.DeviceID,
				Reason:   reason,
			})
			metrics.IncSkippedDevice(reason)
			continue
		}
		readings[device.Key()] = reading
	}

	cycle.Phase = PhaseComputing
	claimedAt := s.clock.Now().UTC()
	regressions := 0

	err = s.store.WithUserClaim(ctx, userID, func(ctx context.Context, tx ClaimTx) error {
		cycle.Phase = PhaseCommitting

		current, err := tx.DevicesForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		for _, device := range current {
			reading, ok := readings[device.Key()]
			if !ok {
				continue
			}
			deltas := rewards.ComputeDelta(reading, device.Baseline, device.Type.Categories())
			for _, delta := range deltas {
				if delta.Regressed {
					if err := tx.FlagDevice(ctx, userID, device.Provider, device.DeviceID, flagReasonRegression); err != nil {
						return err
					}
					regressions++
					cycle.Breakdown = append(cycle.Breakdown, BreakdownItem{
						Provider:  device.Provider,
						DeviceID:  device.DeviceID,
						Category:  delta.Category,
						Regressed: true,
					})
					continue
				}
				if delta.Delta <= 0 {
					continue
				}
				tokens := s.rates.TokensFor(delta.Category, delta.Delta)
				entry := rewards.Entry{
					ID:               uuid.NewString(),
					ClaimID:          cycle.ClaimID,
					UserID:           userID,
					Provider:         device.Provider,
					DeviceID:         device.DeviceID,
					Category:         delta.Category,
					TokensAmount:     tokens,
					ActivityBasis:    delta.Delta,
					BasisFingerprint: rewards.BasisFingerprint(device.Provider, device.DeviceID, delta.Category, delta.Delta, delta.Baseline),
					Claimed:          true,
					ClaimedAt:        claimedAt,
					CreatedAt:        claimedAt,
				}
				inserted, err := tx.InsertEntry(ctx, entry)
				if err != nil {
					return err
				}
				if !inserted {
					// Fingerprint collision: a retried commit already
					// granted this exact delta.
					continue
				}
				cycle.TokensClaimed += tokens
				cycle.Breakdown = append(cycle.Breakdown, BreakdownItem{
					Provider:      device.Provider,
					DeviceID:      device.DeviceID,
					Category:      delta.Category,
					ActivityBasis: delta.Delta,
					Tokens:        tokens,
				})
			}
			if err := tx.AdvanceBaseline(ctx, userID, device.Provider, device.DeviceID, rewards.NextBaseline(reading, deltas), claimedAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		result = metrics.ResultError
		cycle.Phase = PhaseFailed
		if errors.Is(err, rewards.ErrConcurrentClaim) {
			metrics.IncClaimConflict()
		}
		return nil, err
	}

	cycle.Phase = PhaseDone
	cycle.ClaimedAt = claimedAt
	metrics.AddTokensClaimed(cycle.TokensClaimed)
	for i := 0; i < regressions; i++ {
		metrics.IncBaselineRegression()
	}

	if s.publisher != nil && cycle.TokensClaimed > 0 {
		if err := s.publisher.PublishRewardsClaimed(ctx, RewardsClaimed{
			ClaimID:       cycle.ClaimID,
			UserID:        userID,
			TokensClaimed: cycle.TokensClaimed,
			OccurredAt:    claimedAt,
		}); err != nil {
			// The claim is durable; mint submission is reconciled from
			// persisted entries, so a publish failure is not a claim
			// failure.
			metrics.IncMintSubmit(metrics.ResultError)
		}
	}
	return cycle, nil
}
