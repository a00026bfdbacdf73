// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SendQueueRow is one pending or failed outbound message.
type SendQueueRow struct {
	ID             int64
	Recipient      string
	MailboxId      []byte
	Kind           string
	Body           []byte
	IdempotencyKey string
	Attempts       int
	NextAttemptAt  int64
	Status         string
	SendError      string
}

// Enqueue adds a new outbound message. idempotencyKey lets a retried
// enqueue (e.g. after a UI double-submit) collapse onto the existing
// row instead of duplicating it.
func (s *Store) Enqueue(ctx context.Context, recipient string, mailboxID []byte, kind string, body []byte, idempotencyKey string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO send_queue (recipient, mailbox_id, kind, body, idempotency_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, recipient, mailboxID, kind, body, idempotencyKey)
	if err != nil {
		return fmt.Errorf("client/store: enqueue: %w", err)
	}
	s.Notifier.Bump()
	return nil
}

// DueSendQueueRows returns pending rows whose next_attempt_at has
// elapsed, ordered oldest-first.
func (s *Store) DueSendQueueRows(ctx context.Context, nowUnix int64) ([]SendQueueRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient, mailbox_id, kind, body, idempotency_key, attempts, next_attempt_at, status, send_error
		FROM send_queue WHERE status = 'pending' AND next_attempt_at <= ? ORDER BY id
	`, nowUnix)
	if err != nil {
		return nil, fmt.Errorf("client/store: due send queue rows: %w", err)
	}
	defer rows.Close()

	var out []SendQueueRow
	for rows.Next() {
		var r SendQueueRow
		var sendErr sql.NullString
		if err := rows.Scan(&r.ID, &r.Recipient, &r.MailboxId, &r.Kind, &r.Body, &r.IdempotencyKey, &r.Attempts, &r.NextAttemptAt, &r.Status, &sendErr); err != nil {
			return nil, err
		}
		r.SendError = sendErr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkSent deletes a row on successful delivery.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM send_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("client/store: mark sent: %w", err)
	}
	s.Notifier.Bump()
	return nil
}

// MarkFailed records a terminal failure (AccessDenied/BadRequest):
// the row is kept, visible to the UI, but never retried.
func (s *Store) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE send_queue SET status = 'failed', send_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("client/store: mark failed: %w", err)
	}
	s.Notifier.Bump()
	return nil
}

// ScheduleRetry bumps attempts and sets the next retry time, for a
// RetryLater or transport error.
func (s *Store) ScheduleRetry(ctx context.Context, id int64, nextAttemptAtUnix int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE send_queue SET attempts = attempts + 1, next_attempt_at = ? WHERE id = ?
	`, nextAttemptAtUnix, id)
	if err != nil {
		return fmt.Errorf("client/store: schedule retry: %w", err)
	}
	s.Notifier.Bump()
	return nil
}
