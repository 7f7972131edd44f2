package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrProviderUnavailable is a transient provider failure; callers
	// should retry with backoff and must not fail a whole claim over it.
	ErrProviderUnavailable = errors.New("providers: provider unavailable")
	// ErrAuthExpired means stored credentials were rejected; callers
	// refresh credentials and retry exactly once.
	ErrAuthExpired = errors.New("providers: auth expired")
	// ErrProviderDataInvalid means the provider answered with data this
	// call cannot use; permanent for the call, fall back to cached values.
	ErrProviderDataInvalid = errors.New("providers: provider data invalid")
	// ErrUnknownProvider indicates no adapter is registered for a provider.
	ErrUnknownProvider = errors.New("providers: unknown provider")
	// ErrCredentialsNotFound indicates no stored credentials for the user.
	ErrCredentialsNotFound = errors.New("providers: credentials not found")
)

// Skip reasons surfaced to claim callers for excluded devices.
const (
	ReasonUnavailable = "provider_unavailable"
	ReasonAuthExpired = "auth_expired"
	ReasonDataInvalid = "provider_data_invalid"
	ReasonNoAdapter   = "unknown_provider"
	ReasonNoCreds     = "credentials_missing"
)

// SkipReason classifies an adapter error into a stable reason string.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrAuthExpired):
		return ReasonAuthExpired
	case errors.Is(err, ErrProviderDataInvalid):
		return ReasonDataInvalid
	case errors.Is(err, ErrUnknownProvider):
		return ReasonNoAdapter
	case errors.Is(err, ErrCredentialsNotFound):
		return ReasonNoCreds
	default:
		return ReasonUnavailable
	}
}

// ClassifyTransportError maps low-level transport failures onto the
// taxonomy. Timeouts and connection errors are transient.
func ClassifyTransportError(name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w: %v", name, ErrProviderUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", name, ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrProviderUnavailable, err)
}

// ClassifyStatus maps an HTTP status code onto the taxonomy. A nil
// return means the status is not an error.
func ClassifyStatus(name string, status int) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%s: http %d: %w", name, status, ErrAuthExpired)
	case status == 429 || status >= 500:
		return fmt.Errorf("%s: http %d: %w", name, status, ErrProviderUnavailable)
	case status >= 400:
		return fmt.Errorf("%s: http %d: %w", name, status, ErrProviderDataInvalid)
	default:
		return nil
	}
}
