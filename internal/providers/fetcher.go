package providers

import (
	"context"
	"errors"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/observability/metrics"
)

const defaultFetchTimeout = 15 * time.Second

// Fetcher performs fresh provider reads: adapter resolution, bounded
// timeout, and the refresh-and-retry-once contract for expired auth.
// It does not persist readings; callers own persistence.
type Fetcher struct {
	registry *Registry
	creds    CredentialStore
	timeout  time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetchTimeout bounds each adapter call.
func WithFetchTimeout(timeout time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.timeout = timeout
		}
	}
}

// NewFetcher constructs a fetcher.
func NewFetcher(registry *Registry, creds CredentialStore, opts ...FetcherOption) (*Fetcher, error) {
	if registry == nil {
		return nil, errors.New("providers: nil registry")
	}
	if creds == nil {
		return nil, errors.New("providers: nil credential store")
	}
	fetcher := &Fetcher{registry: registry, creds: creds, timeout: defaultFetchTimeout}
	for _, opt := range opts {
		opt(fetcher)
	}
	return fetcher, nil
}

// Fetch returns a fresh lifetime reading for one device. On
// ErrAuthExpired it refreshes credentials through the adapter, persists
// the new pair, and retries exactly once.
func (f *Fetcher) Fetch(ctx context.Context, userID, provider, deviceID string) (devices.Reading, error) {
	if f == nil {
		return nil, errors.New("providers: nil fetcher")
	}
	adapter, ok := f.registry.Resolve(provider)
	if !ok {
		return nil, ErrUnknownProvider
	}
	creds, err := f.creds.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	reading, err := f.fetchOnce(ctx, adapter, creds, deviceID)
	if err == nil {
		metrics.IncProviderFetch(provider, metrics.ResultSuccess)
		return reading, nil
	}
	if !errors.Is(err, ErrAuthExpired) {
		metrics.IncProviderFetch(provider, SkipReason(err))
		return nil, err
	}

	refreshed, refreshErr := f.refresh(ctx, adapter, creds)
	if refreshErr != nil {
		metrics.IncProviderFetch(provider, ReasonAuthExpired)
		return nil, ErrAuthExpired
	}
	if saveErr := f.creds.Save(ctx, userID, provider, refreshed); saveErr != nil {
		metrics.IncProviderFetch(provider, ReasonAuthExpired)
		return nil, saveErr
	}

	reading, err = f.fetchOnce(ctx, adapter, refreshed, deviceID)
	if err != nil {
		metrics.IncProviderFetch(provider, SkipReason(err))
		return nil, err
	}
	metrics.IncProviderFetch(provider, metrics.ResultSuccess)
	return reading, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, adapter Adapter, creds Credentials, deviceID string) (devices.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return adapter.FetchLifetimeReading(ctx, creds, deviceID)
}

func (f *Fetcher) refresh(ctx context.Context, adapter Adapter, creds Credentials) (Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return adapter.RefreshCredentials(ctx, creds)
}
