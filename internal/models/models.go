package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Auction is the settlement view of a listing sold by auction
type Auction struct {
	ID               int64               `db:"id" json:"id"`
	SellerID         int64               `db:"seller_id" json:"seller_id"`
	ReservePrice     decimal.NullDecimal `db:"reserve_price" json:"reserve_price"`
	EndsAt           time.Time           `db:"ends_at" json:"ends_at"`
	SettlementStatus string              `db:"settlement_status" json:"settlement_status"`
	ActiveRank       int                 `db:"active_rank" json:"-"`
	PaymentDueAt     *time.Time          `db:"payment_due_at" json:"payment_due_at,omitempty"`
	WinnerID         *int64              `db:"winner_id" json:"winner_id,omitempty"`
	WinningBidID     *int64              `db:"winning_bid_id" json:"winning_bid_id,omitempty"`
	Paid             bool                `db:"paid" json:"paid"`
	UpdatedAt        time.Time           `db:"updated_at" json:"updated_at"`
}

// Bid is an immutable offer on an auction
type Bid struct {
	ID        int64           `db:"id" json:"id"`
	AuctionID int64           `db:"auction_id" json:"auction_id"`
	BidderID  int64           `db:"bidder_id" json:"bidder_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// PaymentCandidate is a bidder entitled to pay, derived from bids on every resolution
type PaymentCandidate struct {
	Rank     int             `json:"-"`
	BidderID int64           `json:"bidder_id"`
	BidID    int64           `json:"bid_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// PaymentRecord is a ledger row written when a settlement is committed
type PaymentRecord struct {
	ID                int64           `db:"id" json:"id"`
	AuctionID         int64           `db:"auction_id" json:"auction_id"`
	BidID             int64           `db:"bid_id" json:"bid_id"`
	BidderID          int64           `db:"bidder_id" json:"bidder_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	ExternalReference string          `db:"external_reference" json:"external_reference"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
}

// NotificationJob is an outbox row drained by the dispatcher
type NotificationJob struct {
	ID                string         `db:"id" json:"id"`
	Recipient         string         `db:"recipient" json:"recipient"`
	TemplateKey       string         `db:"template_key" json:"template_key"`
	Params            TemplateParams `db:"params" json:"params"`
	Status            string         `db:"status" json:"status"`
	DedupeKey         *string        `db:"dedupe_key" json:"dedupe_key,omitempty"`
	NotBefore         time.Time      `db:"not_before" json:"not_before"`
	ProviderMessageID *string        `db:"provider_message_id" json:"provider_message_id,omitempty"`
	FailureReason     *string        `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// TemplateParams is stored as a JSONB object
type TemplateParams map[string]string

// Value implements driver.Valuer
func (p TemplateParams) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *TemplateParams) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = TemplateParams{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported params type %T", src)
	}
	params := TemplateParams{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return err
	}
	*p = params
	return nil
}

// Settlement statuses
const (
	SettlementNotEnded        = "not_ended"
	SettlementAwaitingPayment = "awaiting_payment"
	SettlementPaid            = "paid"
	SettlementClosedUnsold    = "closed_unsold"
)

// Notification statuses
const (
	NotificationQueued  = "queued"
	NotificationSending = "sending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// SMSPayload is a template message ready for the messaging provider
type SMSPayload struct {
	Phone    string
	Template string
	Tokens   []string
}
