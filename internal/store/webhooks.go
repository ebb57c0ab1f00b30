package store

import (
	"context"
	"fmt"
)

// ListActiveWebhooksForEventType returns every active webhook whose
// subscribed type-set includes this event type or the wildcard "*"
// (spec.md 4.9).
func (s *Store) ListActiveWebhooksForEventType(ctx context.Context, eventType string) ([]Webhook, error) {
	const q = `
SELECT id, url, secret, event_types, active
FROM webhooks
WHERE active = true AND (event_types @> ARRAY[$1]::text[] OR event_types @> ARRAY['*']::text[])`

	rows, err := s.pool.Query(ctx, q, eventType)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks for event type %q: %w", eventType, err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		var w Webhook
		if err := rows.Scan(&w.ID, &w.URL, &w.Secret, &w.EventTypes, &w.Active); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// CreateWebhook registers a new webhook subscription (spec.md 4.9).
func (s *Store) CreateWebhook(ctx context.Context, url, secret string, eventTypes []string) (uuid, error) {
	const q = `
INSERT INTO webhooks (url, secret, event_types, active)
VALUES ($1, $2, $3, true)
RETURNING id`
	var id uuid
	err := s.pool.QueryRow(ctx, q, url, secret, eventTypes).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("creating webhook: %w", err)
	}
	return id, nil
}

// DeactivateWebhook marks a webhook inactive rather than deleting its
// delivery audit trail (spec.md 4.9).
func (s *Store) DeactivateWebhook(ctx context.Context, id uuid) error {
	_, err := s.pool.Exec(ctx, `UPDATE webhooks SET active = false WHERE id = $1`, id)
	return err
}

// ListWebhooks returns every registered webhook, active or not.
func (s *Store) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	const q = `SELECT id, url, secret, event_types, active FROM webhooks ORDER BY id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	defer rows.Close()

	var out []Webhook
	for rows.Next() {
		var w Webhook
		if err := rows.Scan(&w.ID, &w.URL, &w.Secret, &w.EventTypes, &w.Active); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// RecordWebhookDelivery writes an immutable delivery audit row — one
// per attempt, successful or not (spec.md 4.9, 8).
func (s *Store) RecordWebhookDelivery(ctx context.Context, d WebhookDelivery) error {
	const q = `
INSERT INTO webhook_deliveries (id, webhook_id, event_type, status_code, response_body, attempt, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, d.ID, d.WebhookID, d.EventType, d.StatusCode, d.ResponseBody, d.Attempt, d.Error)
	return err
}
