package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the
// webhook has a secret.
const SignatureHeader = "X-Linechain-Signature"

// defaultRetryDelays are the waits before the second and third attempts.
var defaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second}

// WebhookNotifier POSTs each event as JSON.
type WebhookNotifier struct {
	url         string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
}

// NewWebhookNotifier creates a WebhookNotifier for url. An empty secret
// sends unsigned requests.
func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:         url,
		secret:      secret,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryDelays: defaultRetryDelays,
	}
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier. Failed deliveries are retried with backoff
// until the attempts are exhausted or ctx is done.
func (w *WebhookNotifier) Notify(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= len(w.retryDelays); attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(w.retryDelays[attempt-1]):
			case <-ctx.Done():
				return fmt.Errorf("webhook: %w (last error: %v)", ctx.Err(), lastErr)
			}
		}
		if lastErr = w.deliver(ctx, body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook: %d attempts failed: %w", len(w.retryDelays)+1, lastErr)
}

// deliver performs a single HTTP POST.
func (w *WebhookNotifier) deliver(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, w.secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
