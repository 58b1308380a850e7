package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/store"
	"auction-settlement/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnqueueRequest describes a notification to deliver later
type EnqueueRequest struct {
	Recipient   string            `validate:"required,max=64"`
	TemplateKey string            `validate:"required,max=64"`
	Params      map[string]string `validate:"omitempty,dive,keys,required,endkeys,required"`
	// DedupeKey identifies the logical event; a second enqueue with the same key is a no-op
	DedupeKey string `validate:"omitempty,max=191"`
	NotBefore *time.Time
}

// NotificationQueue is the producer side of the notification outbox
type NotificationQueue struct {
	store    NotificationStore
	validate *validator.Validate
	now      func() time.Time
	logger   *zap.Logger
}

// NewNotificationQueue creates a new notification queue
func NewNotificationQueue(store NotificationStore) *NotificationQueue {
	return &NotificationQueue{
		store:    store,
		validate: validator.New(),
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Enqueue stores a queued job. When the dedupe key is already taken the
// existing job is returned with created=false and nothing is written.
func (q *NotificationQueue) Enqueue(ctx context.Context, req EnqueueRequest) (*models.NotificationJob, bool, error) {
	ctx, span := util.StartSpan(ctx, "NotificationQueue.Enqueue")
	defer span.End()

	if err := q.validate.Struct(req); err != nil {
		return nil, false, fmt.Errorf("invalid notification: %w", err)
	}

	now := q.now()
	job := &models.NotificationJob{
		ID:          uuid.New().String(),
		Recipient:   req.Recipient,
		TemplateKey: req.TemplateKey,
		Params:      models.TemplateParams(req.Params),
		Status:      models.NotificationQueued,
		NotBefore:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.NotBefore != nil {
		job.NotBefore = *req.NotBefore
	}
	if req.DedupeKey != "" {
		key := req.DedupeKey
		job.DedupeKey = &key
	}

	created, err := q.store.InsertNotification(ctx, job)
	if err != nil {
		return nil, false, persistenceError("enqueue notification", err)
	}

	if !created {
		util.NotificationsDeduplicatedTotal.WithLabelValues(req.TemplateKey).Inc()
		q.logger.Debug("Notification already enqueued",
			zap.String("dedupe_key", req.DedupeKey),
			zap.String("template", req.TemplateKey))

		existing, err := q.store.GetNotificationByDedupeKey(ctx, req.DedupeKey)
		if err != nil {
			return nil, false, persistenceError("load deduplicated notification", err)
		}
		return existing, false, nil
	}

	util.NotificationsEnqueuedTotal.WithLabelValues(req.TemplateKey).Inc()
	return job, true, nil
}

// Requeue puts a failed job back in the queue for the next dispatch cycle
func (q *NotificationQueue) Requeue(ctx context.Context, jobID string) (*models.NotificationJob, error) {
	ctx, span := util.StartSpan(ctx, "NotificationQueue.Requeue")
	defer span.End()

	job, err := q.store.GetNotification(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotificationNotFound, jobID)
		}
		return nil, persistenceError("load notification", err)
	}

	ok, err := q.store.RequeueNotification(ctx, jobID, q.now())
	if err != nil {
		return nil, persistenceError("requeue notification", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRequeueable, jobID, job.Status)
	}

	q.logger.Info("Notification requeued",
		zap.String("job_id", jobID),
		zap.String("template", job.TemplateKey))

	job.Status = models.NotificationQueued
	return job, nil
}
