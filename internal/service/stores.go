package service

import (
	"context"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/store"
)

// AuctionStore is the persisted settlement state of auctions
type AuctionStore interface {
	GetAuction(ctx context.Context, id int64) (*models.Auction, error)
	ListAuctionsAwaitingSettlement(ctx context.Context, now time.Time, limit int) ([]int64, error)
	TransitionSettlement(ctx context.Context, t store.WindowTransition) (bool, error)
	SettleAuction(ctx context.Context, c store.SettlementCommit, record *models.PaymentRecord) (bool, error)
}

// BidStore reads the bid ledger
type BidStore interface {
	ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error)
}

// ContactStore resolves user contact numbers
type ContactStore interface {
	GetUserPhone(ctx context.Context, userID int64) (string, error)
}

// NotificationStore is the notification outbox
type NotificationStore interface {
	InsertNotification(ctx context.Context, job *models.NotificationJob) (bool, error)
	GetNotification(ctx context.Context, id string) (*models.NotificationJob, error)
	GetNotificationByDedupeKey(ctx context.Context, key string) (*models.NotificationJob, error)
	// ClaimDueNotifications moves due queued jobs to sending and returns them;
	// a job is claimed by one caller only
	ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]models.NotificationJob, error)
	FailStaleNotifications(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	MarkNotificationSent(ctx context.Context, id, providerMessageID string) error
	MarkNotificationFailed(ctx context.Context, id, reason string) error
	RequeueNotification(ctx context.Context, id string, notBefore time.Time) (bool, error)
}

// EventPublisher announces settlement transitions to other services
type EventPublisher interface {
	PublishPaymentWindowOpened(ctx context.Context, event *models.PaymentWindowOpenedEvent) error
	PublishAuctionPaid(ctx context.Context, event *models.AuctionPaidEvent) error
	PublishAuctionClosedUnsold(ctx context.Context, event *models.AuctionClosedUnsoldEvent) error
}

// MessagingProvider delivers a rendered template message
type MessagingProvider interface {
	Send(ctx context.Context, payload models.SMSPayload) (string, error)
}
