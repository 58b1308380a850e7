package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentWindowOpened = "PAYMENT_WINDOW_OPENED"
	EventTypeAuctionPaid         = "AUCTION_PAID"
	EventTypeAuctionClosedUnsold = "AUCTION_CLOSED_UNSOLD"
	EventTypePaymentConfirmed    = "PAYMENT_CONFIRMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentWindowOpenedEvent published when a ranked bidder becomes entitled to pay
type PaymentWindowOpenedEvent struct {
	BaseEvent
	AuctionID    int64           `json:"auction_id"`
	Rank         int             `json:"rank"`
	BidID        int64           `json:"bid_id"`
	BidderID     int64           `json:"bidder_id"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentDueAt time.Time       `json:"payment_due_at"`
}

// AuctionPaidEvent published once settlement is committed
type AuctionPaidEvent struct {
	BaseEvent
	AuctionID         int64           `json:"auction_id"`
	BidID             int64           `json:"bid_id"`
	BidderID          int64           `json:"bidder_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
}

// AuctionClosedUnsoldEvent published when no eligible bidder remains
type AuctionClosedUnsoldEvent struct {
	BaseEvent
	AuctionID int64 `json:"auction_id"`
}

// PaymentConfirmedEvent is relayed by the payment gateway integration
type PaymentConfirmedEvent struct {
	BaseEvent
	AuctionID         int64           `json:"auction_id"`
	BidID             int64           `json:"bid_id"`
	BidderID          int64           `json:"bidder_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalReference string          `json:"external_reference"`
}
