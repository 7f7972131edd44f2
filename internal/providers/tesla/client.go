package tesla

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	devices "watt-rewards/internal/devices/domain"
	"watt-rewards/internal/providers"
)

// Name is the provider key devices link under.
const Name = "tesla"

// Client talks to the Tesla Fleet API for vehicles, powerwalls and wall
// connectors. All counters it returns are lifetime cumulative.
type Client struct {
	baseURL  string
	authURL  string
	clientID string
	client   *http.Client
}

// NewClient constructs a Fleet API client.
func NewClient(baseURL, authURL, clientID string) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("tesla: empty base url")
	}
	if authURL == "" {
		authURL = strings.TrimRight(baseURL, "/")
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		authURL:  strings.TrimRight(authURL, "/"),
		clientID: clientID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name implements providers.Adapter.
func (c *Client) Name() string { return Name }

type lifetimeResponse struct {
	Response struct {
		Odometer        *float64 `json:"odometer"`
		ChargeEnergyWh  *float64 `json:"lifetime_charge_energy_wh"`
		BatteryExportWh *float64 `json:"lifetime_battery_export_wh"`
	} `json:"response"`
}

// FetchLifetimeReading returns the device's lifetime counters. Fields
// absent from the payload are omitted from the reading rather than
// reported as zero.
func (c *Client) FetchLifetimeReading(ctx context.Context, creds providers.Credentials, deviceID string) (devices.Reading, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("%w: tesla: empty device id", providers.ErrProviderDataInvalid)
	}
	var resp lifetimeResponse
	path := "/api/1/products/" + deviceID + "/lifetime_stats"
	if err := c.doJSON(ctx, http.MethodGet, path, creds.AccessToken, nil, &resp); err != nil {
		return nil, err
	}
	// Fleet API field names are normalized to canonical categories here
	// so nothing downstream depends on Tesla's naming.
	reading := devices.Reading{}
	if v := resp.Response.Odometer; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("%w: tesla: negative odometer", providers.ErrProviderDataInvalid)
		}
		reading[string(devices.CategoryOdometerMiles)] = *v
	}
	if v := resp.Response.ChargeEnergyWh; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("%w: tesla: negative charge energy", providers.ErrProviderDataInvalid)
		}
		reading[string(devices.CategoryChargeWh)] = *v
	}
	if v := resp.Response.BatteryExportWh; v != nil {
		if *v < 0 {
			return nil, fmt.Errorf("%w: tesla: negative battery export", providers.ErrProviderDataInvalid)
		}
		reading[string(devices.CategoryDischargeWh)] = *v
	}
	if len(reading) == 0 {
		return nil, fmt.Errorf("%w: tesla: no lifetime counters in payload", providers.ErrProviderDataInvalid)
	}
	return reading, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// RefreshCredentials exchanges the refresh token for a new access token.
func (c *Client) RefreshCredentials(ctx context.Context, creds providers.Credentials) (providers.Credentials, error) {
	if creds.RefreshToken == "" {
		return providers.Credentials{}, fmt.Errorf("%w: tesla: no refresh token", providers.ErrAuthExpired)
	}
	body := map[string]any{
		"grant_type":    "refresh_token",
		"client_id":     c.clientID,
		"refresh_token": creds.RefreshToken,
	}
	var resp tokenResponse
	if err := c.doAuthJSON(ctx, c.authURL+"/oauth2/v3/token", body, &resp); err != nil {
		return providers.Credentials{}, err
	}
	if resp.AccessToken == "" {
		return providers.Credentials{}, fmt.Errorf("%w: tesla: empty access token", providers.ErrAuthExpired)
	}
	next := providers.Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second).UTC(),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = creds.RefreshToken
	}
	return next, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return providers.ClassifyTransportError("tesla", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return providers.ClassifyStatus("tesla", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: tesla: %v", providers.ErrProviderDataInvalid, err)
	}
	return nil
}

func (c *Client) doAuthJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return providers.ClassifyTransportError("tesla", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return providers.ClassifyStatus("tesla", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: tesla: %v", providers.ErrProviderDataInvalid, err)
	}
	return nil
}
