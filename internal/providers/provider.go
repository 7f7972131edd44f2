package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	devices "watt-rewards/internal/devices/domain"
)

// Credentials is an opaque stored token pair for one (user, provider)
// connection. OAuth authorize/callback flows live outside the engine;
// adapters only consume and refresh these values.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry.
func (c Credentials) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Adapter is a per-provider client returning lifetime cumulative
// readings normalized to canonical categories. Absent categories are
// omitted from the map, never reported as zero.
type Adapter interface {
	// Name returns the provider key the adapter serves.
	Name() string
	// FetchLifetimeReading returns the current lifetime reading for a
	// device. Failures are classified per the package error taxonomy.
	FetchLifetimeReading(ctx context.Context, creds Credentials, deviceID string) (devices.Reading, error)
	// RefreshCredentials exchanges the refresh token for a new pair.
	RefreshCredentials(ctx context.Context, creds Credentials) (Credentials, error)
}

// CredentialStore persists per-user provider credentials.
type CredentialStore interface {
	Get(ctx context.Context, userID, provider string) (Credentials, error)
	Save(ctx context.Context, userID, provider string, creds Credentials) error
}

// Registry resolves adapters by provider name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name.
func (r *Registry) Register(adapter Adapter) {
	if r == nil || adapter == nil {
		return
	}
	name := strings.ToLower(adapter.Name())
	if name == "" {
		return
	}
	r.mu.Lock()
	r.adapters[name] = adapter
	r.mu.Unlock()
}

// Resolve returns the adapter for a provider.
func (r *Registry) Resolve(provider string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	adapter, ok := r.adapters[strings.ToLower(provider)]
	r.mu.RUnlock()
	return adapter, ok
}

// Providers lists registered provider names.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
