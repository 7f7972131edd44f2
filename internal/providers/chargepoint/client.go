package chargepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/providers"
)

// Name is the provider key devices link under.
const Name = "chargepoint"

// Client talks to the ChargePoint home-charger API. Chargers report a
// single lifetime energy-delivered counter.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient constructs a charger API client.
func NewClient(baseURL string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("chargepoint: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name implements providers.Adapter.
func (c *Client) Name() string { return Name }

type usageResponse struct {
	LifetimeEnergyKWh *float64 `json:"lifetime_energy_kwh"`
}

// FetchLifetimeReading returns the charger's lifetime delivered energy,
// normalized to watt-hours.
func (c *Client) FetchLifetimeReading(ctx context.Context, creds providers.Credentials, deviceID string) (devices.Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: chargepoint: empty charger id", providers.ErrProviderDataInvalid)
	}
	path := "/api/v5/chargers/" + url.PathEscape(deviceID) + "/usage"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, providers.ClassifyTransportError("chargepoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, providers.ClassifyStatus("chargepoint", resp.StatusCode)
	}
	var usage usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		return nil, fmt.Errorf("%w: chargepoint: %v", providers.ErrProviderDataInvalid, err)
	}
	if usage.LifetimeEnergyKWh == nil {
		return nil, fmt.Errorf("%w: chargepoint: no lifetime counter in payload", providers.ErrProviderDataInvalid)
	}
	if *usage.LifetimeEnergyKWh < 0 {
		return nil, fmt.Errorf("%w: chargepoint: negative lifetime energy", providers.ErrProviderDataInvalid)
	}
	return devices.Reading{string(devices.CategoryChargeWh): *usage.LifetimeEnergyKWh * 1000}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshCredentials exchanges the refresh token for a new token pair.
func (c *Client) RefreshCredentials(ctx context.Context, creds providers.Credentials) (providers.Credentials, error) {
	if creds.RefreshToken == "" {
		return providers.Credentials{}, fmt.Errorf("%w: chargepoint: no refresh token", providers.ErrAuthExpired)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return providers.Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return providers.Credentials{}, providers.ClassifyTransportError("chargepoint", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return providers.Credentials{}, providers.ClassifyStatus("chargepoint", resp.StatusCode)
	}
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return providers.Credentials{}, fmt.Errorf("%w: chargepoint: %v", providers.ErrProviderDataInvalid, err)
	}
	if token.AccessToken == "" {
		return providers.Credentials{}, fmt.Errorf("%w: chargepoint: empty access token", providers.ErrAuthExpired)
	}
	next := providers.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC(),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	return next, nil
}
