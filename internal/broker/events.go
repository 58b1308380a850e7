package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"auction-settlement/internal/models"
	"auction-settlement/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher is the subset of Producer the settlement publisher needs
type EventPublisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// SettlementEventPublisher publishes settlement transitions keyed by auction
type SettlementEventPublisher struct {
	producer EventPublisher
}

// NewSettlementEventPublisher creates a new settlement event publisher
func NewSettlementEventPublisher(producer EventPublisher) *SettlementEventPublisher {
	return &SettlementEventPublisher{producer: producer}
}

// PublishPaymentWindowOpened publishes PaymentWindowOpened event
func (p *SettlementEventPublisher) PublishPaymentWindowOpened(ctx context.Context, event *models.PaymentWindowOpenedEvent) error {
	return p.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishAuctionPaid publishes AuctionPaid event
func (p *SettlementEventPublisher) PublishAuctionPaid(ctx context.Context, event *models.AuctionPaidEvent) error {
	return p.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

// PublishAuctionClosedUnsold publishes AuctionClosedUnsold event
func (p *SettlementEventPublisher) PublishAuctionClosedUnsold(ctx context.Context, event *models.AuctionClosedUnsoldEvent) error {
	return p.producer.PublishEvent(ctx, auctionKey(event.AuctionID), event)
}

func auctionKey(auctionID int64) string {
	return fmt.Sprintf("auction-%d", auctionID)
}

// EventHandler routes incoming payment events
type EventHandler struct {
	onPaymentConfirmed func(context.Context, *models.PaymentConfirmedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentConfirmed registers a handler for PaymentConfirmed events
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedEvent) error) {
	eh.onPaymentConfirmed = handler
}

// HandleMessage routes messages to appropriate handlers. Malformed messages
// are logged and dropped; redelivering them cannot help.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.logger.Error("Dropping malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed != nil {
			var event models.PaymentConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.logger.Error("Dropping malformed PaymentConfirmed event",
					zap.String("event_id", baseEvent.EventID),
					zap.Error(err))
				return nil
			}
			return eh.onPaymentConfirmed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
