package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender delivers action(webhook) node payloads over HTTP.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender builds a sender sharing one client (and its connection
// pool) across every webhook action in the process.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: 30 * time.Second}}
}

// Send POSTs or PUTs body to url, signing it with secretKey when present
// (spec §6's action(webhook) `secretKey` field) via an X-Overwatch-Signature
// header of the hex HMAC-SHA256 digest, the common webhook authenticity
// scheme. A non-2xx response is treated as a delivery failure so the
// caller's retry policy applies.
func (s *WebhookSender) Send(ctx context.Context, targetURL, method string, headers map[string]string, secretKey string, body []byte) error {
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if secretKey != "" {
		mac := hmac.New(sha256.New, []byte(secretKey))
		mac.Write(body)
		req.Header.Set("X-Overwatch-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook %s returned status %d", targetURL, resp.StatusCode)
	}
	return nil
}
