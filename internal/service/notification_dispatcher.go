package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/util"

	"go.uber.org/zap"
)

const (
	defaultDispatchBatchSize = 50
	defaultProviderTimeout   = 10 * time.Second

	// outcomeUnknownPrefix marks failures where the provider may still have
	// delivered the message; requeueing such a job can send it twice
	outcomeUnknownPrefix = "timeout: outcome unknown: "
)

// DispatchStats summarizes one dispatch cycle
type DispatchStats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// NotificationDispatcher drains queued notification jobs through the messaging provider.
// Jobs are claimed (moved to sending) before the provider call, so concurrent
// cycles never send the same job. Failed jobs are not retried here; they stay
// failed until re-queued.
type NotificationDispatcher struct {
	store       NotificationStore
	provider    MessagingProvider
	templates   TemplateRegistry
	batchSize   int
	callTimeout time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// NewNotificationDispatcher creates a new dispatcher
func NewNotificationDispatcher(
	store NotificationStore,
	provider MessagingProvider,
	templates TemplateRegistry,
	batchSize int,
	callTimeout time.Duration,
) *NotificationDispatcher {
	if batchSize <= 0 {
		batchSize = defaultDispatchBatchSize
	}
	if callTimeout <= 0 {
		callTimeout = defaultProviderTimeout
	}
	return &NotificationDispatcher{
		store:       store,
		provider:    provider,
		templates:   templates,
		batchSize:   batchSize,
		callTimeout: callTimeout,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// DispatchBatch sends up to one batch of due jobs. Per-job failures are
// recorded on the job; only a failure to read the queue is returned.
func (d *NotificationDispatcher) DispatchBatch(ctx context.Context) (*DispatchStats, error) {
	ctx, span := util.StartSpan(ctx, "NotificationDispatcher.DispatchBatch")
	defer span.End()

	now := d.now()
	d.failStale(ctx, now)

	jobs, err := d.store.ClaimDueNotifications(ctx, now, d.batchSize)
	if err != nil {
		return nil, persistenceError("claim due notifications", err)
	}

	stats := &DispatchStats{}
	for i := range jobs {
		if ctx.Err() != nil {
			break
		}
		stats.Processed++
		if d.dispatch(ctx, &jobs[i]) {
			stats.Sent++
		} else {
			stats.Failed++
		}
	}

	if stats.Processed > 0 {
		d.logger.Info("Notification batch dispatched",
			zap.Int("processed", stats.Processed),
			zap.Int("sent", stats.Sent),
			zap.Int("failed", stats.Failed))
	}
	return stats, nil
}

// dispatch delivers a single job and reports whether it was sent
func (d *NotificationDispatcher) dispatch(ctx context.Context, job *models.NotificationJob) bool {
	payload, err := d.templates.Render(job)
	if err != nil {
		d.fail(ctx, job, err.Error())
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	start := time.Now()
	messageID, err := d.provider.Send(callCtx, payload)
	util.NotificationProviderLatency.Observe(time.Since(start).Seconds())
	timedOut := callCtx.Err() != nil
	cancel()

	if err != nil {
		reason := fmt.Errorf("%w: %v", ErrProviderFailure, err).Error()
		if timedOut || errors.Is(err, context.DeadlineExceeded) {
			reason = outcomeUnknownPrefix + reason
		}
		d.fail(ctx, job, reason)
		return false
	}

	if err := d.store.MarkNotificationSent(ctx, job.ID, messageID); err != nil {
		// the message went out; the row stays in sending and is later failed as unknown
		d.logger.Error("Failed to mark notification sent",
			zap.String("job_id", job.ID),
			zap.String("provider_message_id", messageID),
			zap.Error(err))
	}
	util.NotificationsDispatchedTotal.WithLabelValues(models.NotificationSent).Inc()
	return true
}

func (d *NotificationDispatcher) fail(ctx context.Context, job *models.NotificationJob, reason string) {
	d.logger.Warn("Notification failed",
		zap.String("job_id", job.ID),
		zap.String("template", job.TemplateKey),
		zap.String("reason", reason))

	if err := d.store.MarkNotificationFailed(ctx, job.ID, reason); err != nil {
		d.logger.Error("Failed to mark notification failed",
			zap.String("job_id", job.ID),
			zap.Error(err))
	}
	util.NotificationsDispatchedTotal.WithLabelValues(models.NotificationFailed).Inc()
}

// failStale fails jobs a previous cycle claimed but never finished. Any
// claimed batch completes well within staleAfter.
func (d *NotificationDispatcher) failStale(ctx context.Context, now time.Time) {
	staleAfter := time.Duration(d.batchSize)*d.callTimeout + time.Minute
	n, err := d.store.FailStaleNotifications(ctx, now.Add(-staleAfter),
		outcomeUnknownPrefix+"dispatcher stopped before recording the result")
	if err != nil {
		d.logger.Error("Failed to release stale notifications", zap.Error(err))
		return
	}
	if n > 0 {
		d.logger.Warn("Failed stale notifications", zap.Int64("count", n))
		util.NotificationsDispatchedTotal.WithLabelValues(models.NotificationFailed).Add(float64(n))
	}
}
