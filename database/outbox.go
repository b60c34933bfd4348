/*
Copyright 2024 Commune Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/communehq/commune/internal/apierror"
	"github.com/communehq/commune/model"
)

const outboxDedupConstraint = "outbox_events_dedup_key"

// CreateOutboxRecord persists a pending outbox record. Returns (false, nil)
// when the dedup key already exists: the intent to publish was recorded by
// an earlier attempt and the caller proceeds without a duplicate.
func (d Datasource) CreateOutboxRecord(ctx context.Context, record *model.OutboxRecord) (bool, error) {
	var userID interface{} = record.UserID
	if record.UserID == 0 {
		userID = nil
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, event_type, exchange, routing_key, payload, dedup_key, domain_id, user_id, status, created_at, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0)
	`, record.EventID, record.EventType, record.Exchange, record.RoutingKey, string(record.Payload), record.DedupKey, record.DomainID, userID, record.Status, record.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			if pqErr.Constraint == outboxDedupConstraint {
				return false, nil
			}
			return false, apierror.NewAPIError(apierror.ErrInternalServer, fmt.Sprintf("Unexpected unique violation on constraint %q", pqErr.Constraint), err)
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create outbox record", err)
	}

	return true, nil
}

// GetOutboxRecordByDedupKey retrieves the record that holds dedupKey.
func (d Datasource) GetOutboxRecordByDedupKey(ctx context.Context, dedupKey string) (*model.OutboxRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT event_id, event_type, exchange, routing_key, payload, dedup_key, domain_id, user_id, status, created_at, published_at, last_error, next_retry_at, retry_count
		FROM outbox_events
		WHERE dedup_key = $1
	`, dedupKey)

	record, err := scanOutboxRecord(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Outbox record with dedup key %q not found", dedupKey), nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve outbox record", err)
	}
	return record, nil
}

// MarkOutboxPublished moves a record to its terminal PUBLISHED state,
// stamping published_at and clearing failure bookkeeping. Calling it again
// for an already published record is a no-op.
func (d Datasource) MarkOutboxPublished(ctx context.Context, eventID string, now time.Time) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, published_at = $3, last_error = NULL, next_retry_at = NULL
		WHERE event_id = $1 AND status <> $2
	`, eventID, model.OutboxStatusPublished, now)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark outbox record published", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		var exists bool
		err = d.Conn.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM outbox_events WHERE event_id = $1)`, eventID).Scan(&exists)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check outbox record existence", err)
		}
		if !exists {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Outbox record %q not found", eventID), nil)
		}
		// Already published, terminal state holds.
	}

	return nil
}

// MarkOutboxFailed records a delivery failure: bounded error text, bumped
// retry count and a next_retry_at computed from the backoff schedule.
// A published record is terminal and left untouched.
func (d Datasource) MarkOutboxFailed(ctx context.Context, eventID string, errMsg string, now time.Time) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}

	var status string
	var retryCount int
	row := tx.QueryRowContext(ctx, `
		SELECT status, retry_count FROM outbox_events WHERE event_id = $1 FOR UPDATE
	`, eventID)
	if err := row.Scan(&status, &retryCount); err != nil {
		_ = tx.Rollback()
		if err == sql.ErrNoRows {
			return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Outbox record %q not found", eventID), nil)
		}
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to load outbox record", err)
	}

	if status == model.OutboxStatusPublished {
		_ = tx.Rollback()
		return nil
	}

	retryCount++
	nextRetryAt := now.Add(model.Backoff(retryCount))

	_, err = tx.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $2, last_error = $3, retry_count = $4, next_retry_at = $5
		WHERE event_id = $1
	`, eventID, model.OutboxStatusFailed, model.TruncateError(errMsg), retryCount, nextRetryAt)
	if err != nil {
		_ = tx.Rollback()
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark outbox record failed", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return nil
}

// GetDueOutboxRecords returns records eligible for delivery: PENDING rows
// and FAILED rows whose next_retry_at has elapsed, oldest first.
func (d Datasource) GetDueOutboxRecords(ctx context.Context, now time.Time, limit int) ([]*model.OutboxRecord, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT event_id, event_type, exchange, routing_key, payload, dedup_key, domain_id, user_id, status, created_at, published_at, last_error, next_retry_at, retry_count
		FROM outbox_events
		WHERE status = $1 OR (status = $2 AND next_retry_at <= $3)
		ORDER BY created_at ASC
		LIMIT $4
	`, model.OutboxStatusPending, model.OutboxStatusFailed, now, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due outbox records", err)
	}
	defer rows.Close()

	records := []*model.OutboxRecord{}
	for rows.Next() {
		record, err := scanOutboxRecord(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan outbox record", err)
		}
		records = append(records, record)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over outbox records", err)
	}

	return records, nil
}

func scanOutboxRecord(scan func(dest ...interface{}) error) (*model.OutboxRecord, error) {
	record := model.OutboxRecord{}
	var payload string
	var userID sql.NullInt64
	var publishedAt, nextRetryAt sql.NullTime
	var lastError sql.NullString

	err := scan(
		&record.EventID,
		&record.EventType,
		&record.Exchange,
		&record.RoutingKey,
		&payload,
		&record.DedupKey,
		&record.DomainID,
		&userID,
		&record.Status,
		&record.CreatedAt,
		&publishedAt,
		&lastError,
		&nextRetryAt,
		&record.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	record.Payload = []byte(payload)
	if userID.Valid {
		record.UserID = userID.Int64
	}
	if publishedAt.Valid {
		record.PublishedAt = &publishedAt.Time
	}
	if nextRetryAt.Valid {
		record.NextRetryAt = &nextRetryAt.Time
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}

	return &record, nil
}
