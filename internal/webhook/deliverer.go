// Package webhook is the wildcard handler described by spec.md 4.9:
// HMAC-signed outbound delivery to every active webhook subscribed to
// an event type, with an immutable per-attempt delivery audit row. The
// parallel-fan-out-with-isolated-failures shape is grounded on the
// teacher's queue dispatcher all-settled pattern (internal/queue),
// generalized from "handlers for one event" to "webhooks for one event".
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tampadevs/communityevents/internal/eventbus"
	"github.com/tampadevs/communityevents/internal/metrics"
	"github.com/tampadevs/communityevents/internal/store"
	"github.com/tampadevs/communityevents/internal/tokencrypt"
)

// maxResponseBody bounds the response body recorded on a delivery row
// (spec.md 4.9: "truncated (<= 4 KiB) response body").
const maxResponseBody = 4 * 1024

const userAgent = "communityevents-webhooks/1.0"

// Deliverer is the webhook fan-out wildcard handler.
type Deliverer struct {
	store  *store.Store
	client *http.Client
	box    *tokencrypt.Box
}

// New constructs a Deliverer with the given outbound POST timeout
// (spec.md 5 recommends 15s). box decrypts webhook secrets that were
// sealed at registration time before they're used to sign a delivery.
func New(st *store.Store, timeout time.Duration, box *tokencrypt.Box) *Deliverer {
	return &Deliverer{store: st, client: &http.Client{Timeout: timeout}, box: box}
}

// Handle delivers env to every active webhook subscribed to its type or
// the wildcard "*", in parallel, with isolated failures (spec.md 4.9).
func (d *Deliverer) Handle(ctx context.Context, env eventbus.Envelope) error {
	webhooks, err := d.store.ListActiveWebhooksForEventType(ctx, env.Type)
	if err != nil {
		return fmt.Errorf("webhook: listing subscribers for %q: %w", env.Type, err)
	}
	if len(webhooks) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, wh := range webhooks {
		wg.Add(1)
		go func(wh store.Webhook) {
			defer wg.Done()
			d.deliverOne(ctx, wh, env)
		}(wh)
	}
	wg.Wait()
	return nil
}

// deliverOne sends one signed POST and records the attempt, successful
// or not (spec.md 4.9, 8). Failures here never propagate to the caller
// or affect sibling webhooks. One delivery id is minted per webhook and
// carried through the body's "id" field, the X-Delivery-ID header, and
// the persisted delivery row, so a subscriber can correlate all three
// (spec.md 4.9, 6).
func (d *Deliverer) deliverOne(ctx context.Context, wh store.Webhook, env eventbus.Envelope) {
	deliveryID := uuid.NewString()

	body, err := json.Marshal(struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		Timestamp time.Time      `json:"timestamp"`
		Data      map[string]any `json:"data"`
	}{ID: deliveryID, Type: env.Type, Timestamp: env.Timestamp, Data: env.Payload})
	if err != nil {
		d.record(ctx, deliveryID, wh.ID, env.Type, 0, "", fmt.Errorf("marshaling payload: %w", err))
		return
	}

	secret, err := d.box.Open(wh.Secret)
	if err != nil {
		d.record(ctx, deliveryID, wh.ID, env.Type, 0, "", fmt.Errorf("decrypting webhook secret: %w", err))
		return
	}
	signature := sign(secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		d.record(ctx, deliveryID, wh.ID, env.Type, 0, "", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+signature)
	req.Header.Set("X-Event-Type", env.Type)
	req.Header.Set("X-Delivery-ID", deliveryID)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		d.record(ctx, deliveryID, wh.ID, env.Type, 0, "", err)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	d.record(ctx, deliveryID, wh.ID, env.Type, resp.StatusCode, string(respBody), nil)
}

func (d *Deliverer) record(ctx context.Context, deliveryID, webhookID, eventType string, statusCode int, body string, deliveryErr error) {
	del := store.WebhookDelivery{
		ID:           deliveryID,
		WebhookID:    webhookID,
		EventType:    eventType,
		StatusCode:   statusCode,
		ResponseBody: truncate(body, maxResponseBody),
		Attempt:      1,
	}
	if deliveryErr != nil {
		msg := deliveryErr.Error()
		del.Error = &msg
		metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()
	} else if statusCode >= 200 && statusCode < 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		metrics.WebhookDeliveriesTotal.WithLabelValues("http_error").Inc()
	}
	if err := d.store.RecordWebhookDelivery(ctx, del); err != nil {
		slog.Error("webhook: recording delivery failed", "error", err, "webhook_id", webhookID)
	}
}

// sign computes hex(HMAC_SHA256(secret, body)), matching the wire
// format spec.md 6 specifies for X-Webhook-Signature verification.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
