package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/providers"
	"watt-rewards/internal/rewards/application"
	rewards "watt-rewards/internal/rewards/domain"
	"watt-rewards/internal/rewards/infrastructure/memory"
	"watt-rewards/internal/rewards/infrastructure/rates"
)

type stubLedger struct {
	items []devices.Device
}

func (l *stubLedger) ListByUser(ctx context.Context, userID string) ([]devices.Device, error) {
	var out []devices.Device
	for _, device := range l.items {
		if device.UserID == userID {
			out = append(out, device.Clone())
		}
	}
	return out, nil
}

type stubFetcher struct {
	readings map[string]devices.Reading
	errs     map[string]error
	calls    int
}

func (f *stubFetcher) Fetch(ctx context.Context, userID, provider, deviceID string) (devices.Reading, error) {
	f.calls++
	key := provider + "|" + deviceID
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	reading, ok := f.readings[key]
	if !ok {
		return nil, providers.ErrUnknownProvider
	}
	return reading.Clone(), nil
}

type capturePublisher struct {
	events []application.RewardsClaimed
	err    error
}

func (p *capturePublisher) PublishRewardsClaimed(ctx context.Context, event application.RewardsClaimed) error {
	p.events = append(p.events, event)
	return p.err
}

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// seedDevice registers the device both in the claim store (the committed
// rows) and in the ledger view the coordinator lists before fetching.
func seedDevice(store *memory.ClaimStore, ledger *stubLedger, device devices.Device) {
	store.PutDevice(device)
	ledger.items = append(ledger.items, device)
}

func newClaimService(t *testing.T, ledger *stubLedger, store *memory.ClaimStore, fetcher *stubFetcher, publisher application.ClaimPublisher) *application.ClaimService {
	t.Helper()
	svc, err := application.NewClaimService(
		ledger,
		fetcher,
		store,
		rates.Default(),
		publisher,
		fixedClock{at: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)},
	)
	if err != nil {
		t.Fatalf("new claim service: %v", err)
	}
	return svc
}

func TestClaim_GrantsTokensAndAdvancesBaseline(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:   "user-1",
		Provider: "tesla",
		DeviceID: "veh-1",
		Type:     devices.TypeVehicle,
		LifetimeTotals: devices.Reading{
			"odometer_miles": 12000,
			"charge_wh":      500,
		},
		Baseline: devices.Reading{
			"odometer_miles": 12000,
			"charge_wh":      500,
		},
	})
	fresh := devices.Reading{"odometer_miles": 12042.5, "charge_wh": 3500}
	fetcher := &stubFetcher{readings: map[string]devices.Reading{"tesla|veh-1": fresh}}
	publisher := &capturePublisher{}
	svc := newClaimService(t, ledger, store, fetcher, publisher)

	result, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.Phase != application.PhaseDone {
		t.Fatalf("expected done, got %s", result.Phase)
	}
	// 42.5 miles at 10 per token plus 3000 Wh at 1000 per token.
	if result.TokensClaimed != 7 {
		t.Fatalf("expected 7 tokens, got %d", result.TokensClaimed)
	}
	if len(result.Breakdown) != 2 {
		t.Fatalf("expected 2 breakdown items, got %d", len(result.Breakdown))
	}

	entries := store.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if !entry.Claimed {
			t.Fatal("claim entries must be marked claimed")
		}
		if entry.ClaimID != result.ClaimID {
			t.Fatalf("entry claim id %s != %s", entry.ClaimID, result.ClaimID)
		}
	}

	device, ok := store.Device("user-1", "tesla", "veh-1")
	if !ok {
		t.Fatal("device row missing")
	}
	if device.Baseline["odometer_miles"] != 12042.5 || device.Baseline["charge_wh"] != 3500 {
		t.Fatalf("baseline must advance to the read values, got %v", device.Baseline)
	}
	if device.LastClaimedAt.IsZero() {
		t.Fatal("last_claimed_at must be stamped")
	}

	if len(publisher.events) != 1 || publisher.events[0].TokensClaimed != 7 {
		t.Fatalf("expected one claim event for 7 tokens, got %+v", publisher.events)
	}
}

func TestClaim_ImmediateSecondClaimGrantsNothing(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 3200},
		Baseline:       devices.Reading{"solar_wh": 3200},
	})
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 5000},
	}}
	publisher := &capturePublisher{}
	svc := newClaimService(t, ledger, store, fetcher, publisher)

	first, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.TokensClaimed != 1 {
		t.Fatalf("expected 1 token, got %d", first.TokensClaimed)
	}

	second, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.TokensClaimed != 0 {
		t.Fatalf("second claim against the same reading must grant 0, got %d", second.TokensClaimed)
	}
	if second.Phase != application.PhaseDone {
		t.Fatalf("a zero-token claim still completes, got %s", second.Phase)
	}
	if got := len(store.Entries()); got != 1 {
		t.Fatalf("expected 1 entry after both claims, got %d", got)
	}
	if len(publisher.events) != 1 {
		t.Fatalf("zero-token claims must not publish, got %d events", len(publisher.events))
	}
}

func TestClaim_FailingDeviceIsSkippedNotFatal(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 1000},
		Baseline:       devices.Reading{"solar_wh": 1000},
	})
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "tesla",
		DeviceID:       "pw-1",
		Type:           devices.TypePowerwall,
		LifetimeTotals: devices.Reading{"battery_discharge_wh": 500},
		Baseline:       devices.Reading{"battery_discharge_wh": 500},
	})
	fetcher := &stubFetcher{
		readings: map[string]devices.Reading{"enphase|sys-1": {"solar_wh": 4000}},
		errs:     map[string]error{"tesla|pw-1": providers.ErrProviderUnavailable},
	}
	svc := newClaimService(t, ledger, store, fetcher, &capturePublisher{})

	result, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.TokensClaimed != 3 {
		t.Fatalf("healthy device must still grant, got %d", result.TokensClaimed)
	}
	if len(result.SkippedDevices) != 1 {
		t.Fatalf("expected 1 skipped device, got %d", len(result.SkippedDevices))
	}
	if result.SkippedDevices[0].Reason != providers.ReasonUnavailable {
		t.Fatalf("expected reason %s, got %s", providers.ReasonUnavailable, result.SkippedDevices[0].Reason)
	}

	skipped, _ := store.Device("user-1", "tesla", "pw-1")
	if skipped.Baseline["battery_discharge_wh"] != 500 {
		t.Fatalf("skipped device baseline must not move, got %v", skipped.Baseline)
	}
	if !skipped.LastClaimedAt.IsZero() {
		t.Fatal("skipped device must not be stamped")
	}
}

func TestClaim_ConcurrentClaimRejected(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 1000},
		Baseline:       devices.Reading{"solar_wh": 1000},
	})
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 4000},
	}}
	svc := newClaimService(t, ledger, store, fetcher, &capturePublisher{})

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithUserClaim(context.Background(), "user-1", func(ctx context.Context, tx application.ClaimTx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	_, err := svc.Claim(context.Background(), "user-1")
	if !errors.Is(err, rewards.ErrConcurrentClaim) {
		t.Fatalf("expected ErrConcurrentClaim, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("held claim: %v", err)
	}
}

func TestClaim_RegressionFlagsDeviceAndGrantsZero(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 5000},
		Baseline:       devices.Reading{"solar_wh": 5000},
	})
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 100},
	}}
	svc := newClaimService(t, ledger, store, fetcher, &capturePublisher{})

	result, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if result.TokensClaimed != 0 {
		t.Fatalf("a regressed counter must grant 0, got %d", result.TokensClaimed)
	}
	if len(result.Breakdown) != 1 || !result.Breakdown[0].Regressed {
		t.Fatalf("expected one regressed breakdown item, got %+v", result.Breakdown)
	}

	device, _ := store.Device("user-1", "enphase", "sys-1")
	if !device.FlaggedForReview {
		t.Fatal("regressed device must be flagged for review")
	}
	if device.Baseline["solar_wh"] != 5000 {
		t.Fatalf("regressed category must keep its mark, got %v", device.Baseline)
	}
}

func TestClaim_StaleReadingCannotReopenCreditedActivity(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 1000},
		Baseline:       devices.Reading{"solar_wh": 1000},
	})
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 1450},
	}}
	svc := newClaimService(t, ledger, store, fetcher, &capturePublisher{})

	first, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Breakdown[0].ActivityBasis != 450 {
		t.Fatalf("expected basis 450, got %v", first.Breakdown[0].ActivityBasis)
	}

	// A lagging provider serves a value below the just-committed mark.
	fetcher.readings["enphase|sys-1"] = devices.Reading{"solar_wh": 1400}
	stale, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("stale claim: %v", err)
	}
	if stale.TokensClaimed != 0 {
		t.Fatalf("stale reading must grant 0, got %d", stale.TokensClaimed)
	}
	device, _ := store.Device("user-1", "enphase", "sys-1")
	if device.Baseline["solar_wh"] != 1450 {
		t.Fatalf("mark must not move down past credited activity, got %v", device.Baseline)
	}
	if !device.FlaggedForReview {
		t.Fatal("regressed device must be flagged")
	}

	fetcher.readings["enphase|sys-1"] = devices.Reading{"solar_wh": 1460}
	third, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	totalBasis := first.Breakdown[0].ActivityBasis
	for _, item := range third.Breakdown {
		totalBasis += item.ActivityBasis
	}
	// 1000..1460 actual activity: the 1400..1450 span must not be
	// credited twice.
	if totalBasis != 460 {
		t.Fatalf("credited basis %v exceeds actual activity 460", totalBasis)
	}
}

func TestClaim_RetriedCommitDoesNotDoubleGrant(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seed := devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 1000},
		Baseline:       devices.Reading{"solar_wh": 1000},
	}
	seedDevice(store, ledger, seed)
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 4000},
	}}
	svc := newClaimService(t, ledger, store, fetcher, &capturePublisher{})

	first, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.TokensClaimed != 3 {
		t.Fatalf("expected 3 tokens, got %d", first.TokensClaimed)
	}

	// Replay the exact pre-commit state. The retried commit produces the
	// same basis fingerprint, so the insert is a no-op.
	store.PutDevice(seed)
	retry, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("retried claim: %v", err)
	}
	if retry.TokensClaimed != 0 {
		t.Fatalf("retried commit must grant nothing, got %d", retry.TokensClaimed)
	}
	if got := len(store.Entries()); got != 1 {
		t.Fatalf("expected 1 entry after retry, got %d", got)
	}
}

func TestClaim_PublishFailureDoesNotFailClaim(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	seedDevice(store, ledger, devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 1000},
		Baseline:       devices.Reading{"solar_wh": 1000},
	})
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 4000},
	}}
	publisher := &capturePublisher{err: errors.New("outbox down")}
	svc := newClaimService(t, ledger, store, fetcher, publisher)

	result, err := svc.Claim(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("claim must survive a publish failure: %v", err)
	}
	if result.TokensClaimed != 3 {
		t.Fatalf("expected 3 tokens, got %d", result.TokensClaimed)
	}
}

func TestClaim_EmptyUserID(t *testing.T) {
	store := memory.NewClaimStore()
	ledger := &stubLedger{}
	svc := newClaimService(t, ledger, store, &stubFetcher{}, &capturePublisher{})
	if _, err := svc.Claim(context.Background(), ""); !errors.Is(err, rewards.ErrEmptyUserID) {
		t.Fatalf("expected ErrEmptyUserID, got %v", err)
	}
}
