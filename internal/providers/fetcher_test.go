package providers

import (
	"context"
	"errors"
	"testing"

	devices "watt-rewards/internal/devices/domain"
)

type fakeAdapter struct {
	name       string
	fetches    int
	refreshes  int
	failFirst  bool
	refreshErr error
	reading    devices.Reading
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) FetchLifetimeReading(ctx context.Context, creds Credentials, deviceID string) (devices.Reading, error) {
	a.fetches++
	if a.failFirst && creds.AccessToken != "refreshed" {
		return nil, ErrAuthExpired
	}
	return a.reading.Clone(), nil
}

func (a *fakeAdapter) RefreshCredentials(ctx context.Context, creds Credentials) (Credentials, error) {
	a.refreshes++
	if a.refreshErr != nil {
		return Credentials{}, a.refreshErr
	}
	return Credentials{AccessToken: "refreshed", RefreshToken: creds.RefreshToken}, nil
}

type fakeCredStore struct {
	creds map[string]Credentials
	saves int
}

func (s *fakeCredStore) Get(ctx context.Context, userID, provider string) (Credentials, error) {
	creds, ok := s.creds[userID+"|"+provider]
	if !ok {
		return Credentials{}, ErrCredentialsNotFound
	}
	return creds, nil
}

func (s *fakeCredStore) Save(ctx context.Context, userID, provider string, creds Credentials) error {
	s.saves++
	s.creds[userID+"|"+provider] = creds
	return nil
}

func TestFetch_AuthExpiredRefreshesAndRetriesOnce(t *testing.T) {
	adapter := &fakeAdapter{
		name:      "tesla",
		failFirst: true,
		reading:   devices.Reading{"odometer_miles": 48000},
	}
	registry := NewRegistry()
	registry.Register(adapter)
	store := &fakeCredStore{creds: map[string]Credentials{
		"user-1|tesla": {AccessToken: "stale", RefreshToken: "refresh-1"},
	}}

	fetcher, err := NewFetcher(registry, store)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	reading, err := fetcher.Fetch(context.Background(), "user-1", "tesla", "veh-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if reading["odometer_miles"] != 48000 {
		t.Fatalf("unexpected reading %v", reading)
	}
	if adapter.fetches != 2 {
		t.Fatalf("expected exactly one retry, got %d fetches", adapter.fetches)
	}
	if adapter.refreshes != 1 {
		t.Fatalf("expected one refresh, got %d", adapter.refreshes)
	}
	if store.saves != 1 {
		t.Fatalf("refreshed credentials must be persisted, got %d saves", store.saves)
	}
	if got := store.creds["user-1|tesla"].AccessToken; got != "refreshed" {
		t.Fatalf("stored access token %q", got)
	}
}

func TestFetch_RefreshFailureSurfacesAuthExpired(t *testing.T) {
	adapter := &fakeAdapter{
		name:       "tesla",
		failFirst:  true,
		refreshErr: errors.New("refresh rejected"),
	}
	registry := NewRegistry()
	registry.Register(adapter)
	store := &fakeCredStore{creds: map[string]Credentials{
		"user-1|tesla": {AccessToken: "stale", RefreshToken: "refresh-1"},
	}}

	fetcher, _ := NewFetcher(registry, store)
	_, err := fetcher.Fetch(context.Background(), "user-1", "tesla", "veh-1")
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("expected ErrAuthExpired, got %v", err)
	}
	if adapter.fetches != 1 {
		t.Fatalf("a failed refresh must not retry the fetch, got %d fetches", adapter.fetches)
	}
	if store.saves != 0 {
		t.Fatal("failed refresh must not persist credentials")
	}
}

func TestFetch_UnknownProvider(t *testing.T) {
	fetcher, _ := NewFetcher(NewRegistry(), &fakeCredStore{creds: map[string]Credentials{}})
	_, err := fetcher.Fetch(context.Background(), "user-1", "nosuch", "dev-1")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestFetch_MissingCredentials(t *testing.T) {
	adapter := &fakeAdapter{name: "tesla", reading: devices.Reading{"odometer_miles": 1}}
	registry := NewRegistry()
	registry.Register(adapter)
	fetcher, _ := NewFetcher(registry, &fakeCredStore{creds: map[string]Credentials{}})

	_, err := fetcher.Fetch(context.Background(), "user-1", "tesla", "veh-1")
	if !errors.Is(err, ErrCredentialsNotFound) {
		t.Fatalf("expected ErrCredentialsNotFound, got %v", err)
	}
	if adapter.fetches != 0 {
		t.Fatal("missing credentials must not reach the adapter")
	}
}

func TestSkipReason_Taxonomy(t *testing.T) {
	cases := map[error]string{
		ErrAuthExpired:         ReasonAuthExpired,
		ErrProviderDataInvalid: ReasonDataInvalid,
		ErrUnknownProvider:     ReasonNoAdapter,
		ErrCredentialsNotFound: ReasonNoCreds,
		ErrProviderUnavailable: ReasonUnavailable,
		errors.New("anything"): ReasonUnavailable,
	}
	for err, want := range cases {
		if got := SkipReason(err); got != want {
			t.Fatalf("%v: expected %s, got %s", err, want, got)
		}
	}
}
