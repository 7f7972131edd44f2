package enphase

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
const Name = "enphase"

// Client talks to the Enphase Enlighten v4 API for solar systems and
// IQ batteries.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient constructs an Enlighten client. The API key is sent on
// every request alongside the user's OAuth token.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("enphase: empty base url")
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name implements providers.Adapter.
func (c *Client) Name() string { return Name }

type summaryResponse struct {
	EnergyLifetimeWh   *float64 `json:"energy_lifetime"`
	BatteryDischargeWh *float64 `json:"battery_discharge_lifetime"`
}

// FetchLifetimeReading returns the system's lifetime production and,
// when a battery is attached, its lifetime discharge.
func (c *Client) FetchLifetimeReading(ctx context.Context, creds providers.Credentials, deviceID string) (devices.Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: enphase: empty system id", providers.ErrProviderDataInvalid)
	}
	path := "/api/v4/systems/" + url.PathEscape(deviceID) + "/summary"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if c.apiKey != "" {
		req.Header.Set("key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, providers.ClassifyTransportError("enphase", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, providers.ClassifyStatus("enphase", resp.StatusCode)
	}
	var summary summaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("%w: enphase: %v", providers.ErrProviderDataInvalid, err)
	}

	// Enlighten field names are normalized to canonical categories here.
	reading := devices.Reading{}
	if v := summary.EnergyLifetimeWh; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("%w: enphase: negative lifetime energy", providers.ErrProviderDataInvalid)
		}
		reading[string(devices.CategorySolarWh)] = *v
	}
	if v := summary.BatteryDischargeWh; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("%w: enphase: negative battery discharge", providers.ErrProviderDataInvalid)
		}
		reading[string(devices.CategoryDischargeWh)] = *v
	}
	if len(reading) == 0 {
		return nil, fmt.Errorf("%w: enphase: no lifetime counters in payload", providers.ErrProviderDataInvalid)
	}
	return reading, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshCredentials exchanges the refresh token for a new token pair.
func (c *Client) RefreshCredentials(ctx context.Context, creds providers.Credentials) (providers.Credentials, error) {
	if creds.RefreshToken == "" {
		return providers.Credentials{}, fmt.Errorf("%w: enphase: no refresh token", providers.ErrAuthExpired)
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", creds.RefreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return providers.Credentials{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.apiKey != "" {
		req.Header.Set("key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return providers.Credentials{}, providers.ClassifyTransportError("enphase", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return providers.Credentials{}, providers.ClassifyStatus("enphase", resp.StatusCode)
	}
	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return providers.Credentials{}, fmt.Errorf("%w: enphase: %v", providers.ErrProviderDataInvalid, err)
	}
	if token.AccessToken == "" {
		return providers.Credentials{}, fmt.Errorf("%w: enphase: empty access token", providers.ErrAuthExpired)
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
