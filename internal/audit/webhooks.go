package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const webhookColumns = `id, event_type, delivery_id, payload, headers, processed_at, created_at, updated_at`

// RecordWebhook stores a received delivery and returns its row id. An
// empty payload is stored as an empty object.
func (s *Store) RecordWebhook(ctx context.Context, eventType, deliveryID string, payload []byte, headers http.Header) (int64, error) {
	return s.recordWebhookAt(ctx, eventType, deliveryID, payload, headers, time.Now())
}

func (s *Store) recordWebhookAt(ctx context.Context, eventType, deliveryID string, payload []byte, headers http.Header, at time.Time) (int64, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return 0, fmt.Errorf("payload is not valid JSON")
	}

	if headers == nil {
		headers = http.Header{}
	}
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return 0, fmt.Errorf("failed to encode headers: %w", err)
	}

	var delivery *string
	if deliveryID != "" {
		delivery = &deliveryID
	}

	now := formatTime(at)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO github_webhooks
		(event_type, delivery_id, payload, headers, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, ?, ?)
	`, eventType, delivery, string(payload), string(headerJSON), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert webhook: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// MarkProcessed sets processed_at on a stored delivery.
func (s *Store) MarkProcessed(ctx context.Context, id int64) error {
	now := formatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE github_webhooks SET processed_at = ?, updated_at = ? WHERE id = ?
	`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook %d processed: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark webhook %d processed: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetWebhook returns a stored delivery or ErrNotFound.
func (s *Store) GetWebhook(ctx context.Context, id int64) (*WebhookRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM github_webhooks WHERE id = ?`, id)
	record, err := scanWebhookRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("webhook %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook: %w", err)
	}
	return record, nil
}

// WebhookFilter narrows ListWebhooks. Processed nil lists every delivery,
// otherwise only processed (true) or unprocessed (false) ones. A
// non-positive Limit returns everything.
type WebhookFilter struct {
	EventType string
	Processed *bool
	Limit     int
}

// ListWebhooks returns stored deliveries newest first.
func (s *Store) ListWebhooks(ctx context.Context, filter WebhookFilter) ([]WebhookRecord, error) {
	query := `SELECT ` + webhookColumns + ` FROM github_webhooks`
	var (
		where []string
		args  []any
	)
	if filter.EventType != "" {
		where = append(where, `event_type = ?`)
		args = append(args, filter.EventType)
	}
	if filter.Processed != nil {
		if *filter.Processed {
			where = append(where, `processed_at IS NOT NULL`)
		} else {
			where = append(where, `processed_at IS NULL`)
		}
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	records := []WebhookRecord{}
	for rows.Next() {
		record, err := scanWebhookRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return records, nil
}

// PruneWebhooks deletes deliveries created before cutoff and returns how
// many were removed.
func (s *Store) PruneWebhooks(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM github_webhooks WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune webhooks: %w", err)
	}
	return result.RowsAffected()
}

func scanWebhookRecord(s scanner) (*WebhookRecord, error) {
	var (
		record               WebhookRecord
		payload, headers     string
		createdAt, updatedAt string
		processedAt          sql.NullString
		deliveryID           sql.NullString
	)
	err := s.Scan(&record.ID, &record.EventType, &deliveryID, &payload, &headers, &processedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if deliveryID.Valid {
		record.DeliveryID = &deliveryID.String
	}
	record.Payload = json.RawMessage(payload)
	record.Headers = json.RawMessage(headers)

	if record.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	if record.ProcessedAt, err = parseNullTime(processedAt); err != nil {
		return nil, fmt.Errorf("failed to parse processed_at: %w", err)
	}
	return &record, nil
}

// DecodeHeaders returns the stored headers of a delivery.
func (r *WebhookRecord) DecodeHeaders() (http.Header, error) {
	headers := http.Header{}
	if len(r.Headers) == 0 {
		return headers, nil
	}
	if err := json.Unmarshal(r.Headers, &headers); err != nil {
		return nil, fmt.Errorf("failed to decode headers: %w", err)
	}
	return headers, nil
}
