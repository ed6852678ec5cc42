// ABOUTME: Outbound webhook delivery: HMAC signing scoped to a job's id/attempt, safeurl client.
// ABOUTME: Send is a pure function; the http.Client is injected (constructed once at worker startup).
package jobhandlers

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
	"strconv"
	"strings"
	"time"

	"github.com/scarson/poolmaster/internal/jobrunner"
)

// WebhookConfig holds the delivery-time parameters for one webhook job.
type WebhookConfig struct {
	URL                    string
	SigningSecret          string
	SigningSecretSecondary string            // non-empty during rotation grace period
	CustomHeaders          map[string]string // applied after denylist filtering
}

// WebhookPayload is the job_queue.payload shape the "webhook" kind
// expects.
type WebhookPayload struct {
	WebhookConfig
	Body json.RawMessage `json:"body"`
}

// deniedHeaders are custom header keys that callers must not override.
var deniedHeaders = map[string]bool{
	"host":                             true,
	"content-type":                     true,
	"content-length":                   true,
	"transfer-encoding":                true,
	"connection":                       true,
	"x-poolmaster-timestamp":           true,
	"x-poolmaster-signature":           true,
	"x-poolmaster-signature-secondary": true,
	"x-poolmaster-delivery-id":         true,
	"x-poolmaster-delivery-attempt":    true,
}

// signingBase builds the string the HMAC is computed over. Binding the
// job's id and delivery attempt into the signed material — not just
// the timestamp and body — means a receiver can tell two deliveries of
// the same retried job apart from a genuine replay of the same
// attempt, which a timestamp+body signature alone can't distinguish
// once the retry carries an identical payload.
func signingBase(ts string, job jobrunner.JobContext, payload []byte) string {
	var b strings.Builder
	b.WriteString(ts)
	b.WriteByte('.')
	b.WriteString(job.JobID.String())
	b.WriteByte('.')
	b.WriteString(strconv.FormatInt(int64(job.Attempt), 10))
	b.WriteByte('.')
	b.Write(payload)
	return b.String()
}

func sign(secret, base string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Send posts payload to cfg.URL, signing the request over the job's
// id, delivery attempt, and body, and discards the response body.
// client is constructed once at worker startup (safeurl-wrapped,
// redirect-disabled, 10s timeout).
func Send(ctx context.Context, client *http.Client, cfg WebhookConfig, job jobrunner.JobContext, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	for k, v := range cfg.CustomHeaders {
		if !deniedHeaders[strings.ToLower(k)] {
			req.Header.Set(k, v)
		}
	}

	ts := strconv.FormatInt(time.Now().Unix(), 10)
	base := signingBase(ts, job, payload)
	req.Header.Set("X-Poolmaster-Timestamp", ts)
	req.Header.Set("X-Poolmaster-Delivery-Id", job.JobID.String())
	req.Header.Set("X-Poolmaster-Delivery-Attempt", strconv.FormatInt(int64(job.Attempt), 10))
	req.Header.Set("X-Poolmaster-Signature", sign(cfg.SigningSecret, base))
	if cfg.SigningSecretSecondary != "" {
		req.Header.Set("X-Poolmaster-Signature-Secondary", sign(cfg.SigningSecretSecondary, base))
	}

	resp, err := client.Do(req) //nolint:gosec // G107: SSRF is enforced architecturally by the safeurl-wrapped client injected at startup
	if err != nil {
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck,gosec // G104: discard errors are irrelevant for io.Discard writes

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook POST: unexpected status %d (delivery %s, attempt %d)", resp.StatusCode, job.JobID, job.Attempt)
	}
	return nil
}

// NewWebhookHandler returns a jobrunner.Handler that unmarshals its
// payload as a WebhookPayload and delivers it via Send.
func NewWebhookHandler(client *http.Client) jobrunner.Handler {
	return func(ctx context.Context, job jobrunner.JobContext) error {
		var p WebhookPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("webhook handler: decode payload: %w", err)
		}
		return Send(ctx, client, p.WebhookConfig, job, p.Body)
	}
}
