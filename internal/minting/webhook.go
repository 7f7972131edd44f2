package minting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookSink posts mint requests to an HTTP token backend.
type WebhookSink struct {
	url    string
	apiKey string
	client *http.Client
}

// WebhookOption configures the webhook sink.
type WebhookOption func(*WebhookSink)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(sink *WebhookSink) {
		if client != nil {
			sink.client = client
		}
	}
}

// NewWebhookSink constructs a webhook sink.
func NewWebhookSink(url, apiKey string, opts ...WebhookOption) (*WebhookSink, error) {
	if url == "" {
		return nil, errors.New("mint sink: empty url")
	}
	sink := &WebhookSink{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(sink)
	}
	return sink, nil
}

// SubmitMint posts the mint request. The backend deduplicates on
// claim_id, so resubmitting after a failure is safe.
func (s *WebhookSink) SubmitMint(ctx context.Context, req MintRequest) error {
	if s == nil || s.url == "" {
		return errors.New("mint sink: empty url")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mint sink: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
