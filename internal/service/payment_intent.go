package service

import (
	"context"
	"time"

	"auction-settlement/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentIntent is what the payment gateway needs to charge the active candidate
type PaymentIntent struct {
	AuctionID    int64           `json:"auction_id"`
	BidID        int64           `json:"bid_id"`
	Amount       decimal.Decimal `json:"amount"`
	PaymentDueAt time.Time       `json:"payment_due_at"`
	Reference    string          `json:"reference"`
}

// InitResult carries either an intent or the reason none was issued
type InitResult struct {
	Intent *PaymentIntent
	Reason RejectReason
}

// InitPayment starts a payment for bidderID if they hold the open window.
// It issues a fresh reference each call; settlement is decided at commit.
func (m *SettlementMachine) InitPayment(ctx context.Context, auctionID, bidderID int64) (*InitResult, error) {
	ctx, span := util.StartAuctionSpan(ctx, "SettlementMachine.InitPayment", auctionID)
	defer span.End()

	outcome, _, err := m.resolve(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	switch {
	case outcome.Status == OutcomeAuctionNotEnded:
		return &InitResult{Reason: RejectAuctionNotEnded}, nil
	case outcome.Status == OutcomeAlreadyPaid:
		return &InitResult{Reason: RejectAlreadyPaid}, nil
	case outcome.Candidate == nil:
		return &InitResult{Reason: RejectNoActiveCandidate}, nil
	case outcome.Candidate.BidderID != bidderID:
		return &InitResult{Reason: RejectNotCurrentWinner}, nil
	}

	intent := &PaymentIntent{
		AuctionID:    auctionID,
		BidID:        outcome.Candidate.BidID,
		Amount:       outcome.Candidate.Amount,
		PaymentDueAt: *outcome.PaymentDueAt,
		Reference:    uuid.New().String(),
	}

	m.logger.Info("Payment initiated",
		zap.Int64("auction_id", auctionID),
		zap.Int64("bidder_id", bidderID),
		zap.String("reference", intent.Reference))

	return &InitResult{Intent: intent}, nil
}
