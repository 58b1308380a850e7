package worker

import (
	"context"
	"time"

	"auction-settlement/internal/broker"
	"auction-settlement/internal/service"
)

// Leaser grants short exclusive leases across replicas
type Leaser interface {
	AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	ReleaseLease(ctx context.Context, name, token string) error
}

// EventDeduper remembers inbound event ids
type EventDeduper interface {
	MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ForgetEvent(ctx context.Context, eventID string) error
}

// MessageSource is a Kafka consumer
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentCommitter settles confirmed payments
type PaymentCommitter interface {
	CommitPayment(ctx context.Context, req service.CommitRequest) (*service.CommitResult, error)
}

// BatchDispatcher drains the notification queue
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context) (*service.DispatchStats, error)
}

// AuctionSweeper resolves ended auctions
type AuctionSweeper interface {
	SweepEndedAuctions(ctx context.Context, limit int) (int, error)
}
