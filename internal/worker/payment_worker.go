package worker

import (
	"context"
	"time"

	"auction-settlement/internal/broker"
	"auction-settlement/internal/models"
	"auction-settlement/internal/service"
	"auction-settlement/internal/util"

	"go.uber.org/zap"
)

const processedEventTTL = 7 * 24 * time.Hour

// PaymentWorker settles payments confirmed through the payment-events topic
type PaymentWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	committer    PaymentCommitter
	deduper      EventDeduper
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer MessageSource, committer PaymentCommitter, deduper EventDeduper) *PaymentWorker {
	w := &PaymentWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		committer:    committer,
		deduper:      deduper,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnPaymentConfirmed(w.HandlePaymentConfirmed)
	return w
}

// Start consumes until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}

// HandlePaymentConfirmed commits the payment. Returning an error makes the
// consumer retry the same message in place; rejections are final.
func (w *PaymentWorker) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentConfirmedEvent) error {
	if event.EventID != "" {
		first, err := w.deduper.MarkEventProcessed(ctx, event.EventID, processedEventTTL)
		if err != nil {
			// fall through; CommitPayment is idempotent
			w.logger.Warn("Event dedupe unavailable", zap.String("event_id", event.EventID), zap.Error(err))
		} else if !first {
			w.logger.Debug("Skipping duplicate payment event", zap.String("event_id", event.EventID))
			return nil
		}
	}

	result, err := w.committer.CommitPayment(ctx, service.CommitRequest{
		AuctionID:         event.AuctionID,
		BidID:             event.BidID,
		BidderID:          event.BidderID,
		Amount:            event.Amount,
		ExternalReference: event.ExternalReference,
	})
	if err != nil {
		if event.EventID != "" {
			if ferr := w.deduper.ForgetEvent(ctx, event.EventID); ferr != nil {
				w.logger.Warn("Failed to forget event", zap.String("event_id", event.EventID), zap.Error(ferr))
			}
		}
		return err
	}

	if !result.Succeeded() {
		w.logger.Warn("Payment event rejected",
			zap.String("event_id", event.EventID),
			zap.Int64("auction_id", event.AuctionID),
			zap.String("reason", string(result.Reason)))
	}
	return nil
}
