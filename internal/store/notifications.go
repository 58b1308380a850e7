package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"auction-settlement/internal/models"
)

const notificationColumns = `id, recipient, template_key, params, status, dedupe_key, not_before,
	provider_message_id, failure_reason, created_at, updated_at`

// InsertNotification stores a queued job. A job whose dedupe key already
// exists is skipped and false is returned.
func (s *Store) InsertNotification(ctx context.Context, job *models.NotificationJob) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_jobs (id, recipient, template_key, params, status, dedupe_key, not_before)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		job.ID, job.Recipient, job.TemplateKey, job.Params, job.Status, job.DedupeKey, job.NotBefore)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	return affectedOne(res)
}

// GetNotification retrieves a job by ID
func (s *Store) GetNotification(ctx context.Context, id string) (*models.NotificationJob, error) {
	return s.getNotification(ctx, "id", id)
}

// GetNotificationByDedupeKey retrieves the job holding a dedupe key
func (s *Store) GetNotificationByDedupeKey(ctx context.Context, key string) (*models.NotificationJob, error) {
	return s.getNotification(ctx, "dedupe_key", key)
}

func (s *Store) getNotification(ctx context.Context, column, value string) (*models.NotificationJob, error) {
	var job models.NotificationJob
	err := s.db.GetContext(ctx, &job,
		"SELECT "+notificationColumns+" FROM notification_jobs WHERE "+column+" = $1", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimDueNotifications moves up to limit due queued jobs to sending and
// returns them oldest first. SKIP LOCKED lets concurrent dispatchers claim
// disjoint sets.
func (s *Store) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := s.db.SelectContext(ctx, &jobs, `
		UPDATE notification_jobs
		SET status = $1, updated_at = $3
		WHERE id IN (
			SELECT id FROM notification_jobs
			WHERE status = $2 AND not_before <= $3
			ORDER BY created_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationColumns,
		models.NotificationSending, models.NotificationQueued, now, limit)
	if err != nil {
		return nil, err
	}
	// RETURNING has no order
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// FailStaleNotifications fails jobs left in sending since before cutoff,
// which happens when a dispatcher stops between claim and result.
func (s *Store) FailStaleNotifications(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE status = $3 AND updated_at < $4`,
		models.NotificationFailed, reason, models.NotificationSending, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkNotificationSent records the provider message id of a claimed job
func (s *Store) MarkNotificationSent(ctx context.Context, id, providerMessageID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = $1, provider_message_id = $2, failure_reason = NULL, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.NotificationSent, providerMessageID, id, models.NotificationSending)
	return err
}

// MarkNotificationFailed records why a claimed job could not be delivered
func (s *Store) MarkNotificationFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.NotificationFailed, reason, id, models.NotificationSending)
	return err
}

// RequeueNotification moves a failed job back to the queue
func (s *Store) RequeueNotification(ctx context.Context, id string, notBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = $1, not_before = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.NotificationQueued, notBefore, id, models.NotificationFailed)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
