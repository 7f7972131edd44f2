package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"watt-rewards/internal/auth"
	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/rewards/application"
	rewards "watt-rewards/internal/rewards/domain"
	"watt-rewards/internal/rewards/infrastructure/memory"
	"watt-rewards/internal/rewards/infrastructure/rates"
	rewardhttp "watt-rewards/internal/rewards/interfaces/http"
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

func (l *stubLedger) MergeLifetimeTotals(ctx context.Context, userID, provider, deviceID string, reading devices.Reading) error {
	return nil
}

type stubFetcher struct {
	readings map[string]devices.Reading
}

func (f *stubFetcher) Fetch(ctx context.Context, userID, provider, deviceID string) (devices.Reading, error) {
	reading, ok := f.readings[provider+"|"+deviceID]
	if !ok {
		return nil, rewards.ErrClaimNotFound
	}
	return reading.Clone(), nil
}

type testHarness struct {
	handler *rewardhttp.Handler
	store   *memory.ClaimStore
	entries *memory.EntryRepository
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	store := memory.NewClaimStore()
	entries := memory.NewEntryRepository()
	device := devices.Device{
		UserID:         "user-1",
		Provider:       "enphase",
		DeviceID:       "sys-1",
		Type:           devices.TypeSolarSystem,
		LifetimeTotals: devices.Reading{"solar_wh": 1000},
		Baseline:       devices.Reading{"solar_wh": 1000},
	}
	store.PutDevice(device)
	ledger := &stubLedger{items: []devices.Device{device}}
	fetcher := &stubFetcher{readings: map[string]devices.Reading{
		"enphase|sys-1": {"solar_wh": 4000},
	}}

	claims, err := application.NewClaimService(ledger, fetcher, store, rates.Default(), nil, nil)
	if err != nil {
		t.Fatalf("claim service: %v", err)
	}
	pending, err := application.NewPendingService(ledger, fetcher, nil, rates.Default(), nil)
	if err != nil {
		t.Fatalf("pending service: %v", err)
	}
	handler, err := rewardhttp.NewHandler(claims, pending, entries, nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return &testHarness{handler: handler, store: store, entries: entries}
}

func authed(r *http.Request, userID string) *http.Request {
	return r.WithContext(auth.WithIdentity(r.Context(), userID, auth.RoleUser))
}

func TestHandler_PendingReturnsPosition(t *testing.T) {
	h := newHarness(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/rewards/pending", nil), "user-1")
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result application.PendingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.TotalTokens != 3 {
		t.Fatalf("expected 3 pending tokens, got %d", result.TotalTokens)
	}
}

func TestHandler_ClaimSucceeds(t *testing.T) {
	h := newHarness(t)
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/rewards/claim", nil), "user-1")
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var result application.ClaimResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.TokensClaimed != 3 {
		t.Fatalf("expected 3 tokens, got %d", result.TokensClaimed)
	}
}

func TestHandler_ConcurrentClaimConflicts(t *testing.T) {
	h := newHarness(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.store.WithUserClaim(context.Background(), "user-1", func(ctx context.Context, tx application.ClaimTx) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/rewards/claim", nil), "user-1")
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("held claim: %v", err)
	}
}

func TestHandler_HistoryRejectsBadLimit(t *testing.T) {
	h := newHarness(t)
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/rewards/history?limit=abc", nil), "user-1")
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestHandler_ReceiptOwnership(t *testing.T) {
	h := newHarness(t)
	h.entries.Append(rewards.Entry{
		ID:        "entry-1",
		ClaimID:   "claim-9",
		UserID:    "someone-else",
		Provider:  "enphase",
		DeviceID:  "sys-9",
		Category:  devices.CategorySolarWh,
		Claimed:   true,
		ClaimedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	})

	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/rewards/claims/claim-9/receipt.pdf", nil), "user-1")
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("another user's receipt must 404, got %d", resp.Code)
	}
}

func TestHandler_MissingIdentity(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rewards/pending", nil)
	resp := httptest.NewRecorder()
	h.handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}
