package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/util"

	"go.uber.org/zap"
)

const dueDateLayout = "2006-01-02T15:04"

// SettlementNotifier turns settlement transitions into queued notifications.
// Every job carries a dedupe key derived from the auction and rank, so a
// transition observed by several entry points is announced once.
// Errors are logged and never propagated to settlement.
type SettlementNotifier struct {
	queue    *NotificationQueue
	contacts ContactStore
	logger   *zap.Logger
}

// NewSettlementNotifier creates a new settlement notifier
func NewSettlementNotifier(queue *NotificationQueue, contacts ContactStore) *SettlementNotifier {
	return &SettlementNotifier{
		queue:    queue,
		contacts: contacts,
		logger:   util.GetLogger(),
	}
}

// WindowOpened tells the candidate they may pay, and the seller that bidding ended
func (n *SettlementNotifier) WindowOpened(ctx context.Context, auction *models.Auction, c models.PaymentCandidate, dueAt time.Time) {
	auctionRef := strconv.FormatInt(auction.ID, 10)
	n.send(ctx, c.BidderID, TemplateAuctionWon,
		fmt.Sprintf("auction-won:%d:%d", auction.ID, c.Rank),
		map[string]string{
			"auction": auctionRef,
			"amount":  c.Amount.String(),
			"due":     dueAt.UTC().Format(dueDateLayout),
		})

	if c.Rank == 1 {
		n.send(ctx, auction.SellerID, TemplateAuctionEnded,
			fmt.Sprintf("auction-ended:%d", auction.ID),
			map[string]string{"auction": auctionRef, "amount": c.Amount.String()})
	}
}

// CandidateSkipped tells a bidder their payment window expired
func (n *SettlementNotifier) CandidateSkipped(ctx context.Context, auction *models.Auction, c models.PaymentCandidate) {
	n.send(ctx, c.BidderID, TemplatePaymentWindowExpired,
		fmt.Sprintf("payment-window-expired:%d:%d", auction.ID, c.Rank),
		map[string]string{"auction": strconv.FormatInt(auction.ID, 10)})
}

// ClosedUnsold tells the seller no bidder is left to pay
func (n *SettlementNotifier) ClosedUnsold(ctx context.Context, auction *models.Auction) {
	n.send(ctx, auction.SellerID, TemplateAuctionUnsold,
		fmt.Sprintf("auction-unsold:%d", auction.ID),
		map[string]string{"auction": strconv.FormatInt(auction.ID, 10)})
}

// PaymentReceived confirms the payment to the buyer and the sale to the seller
func (n *SettlementNotifier) PaymentReceived(ctx context.Context, auction *models.Auction, c models.PaymentCandidate) {
	params := map[string]string{
		"auction": strconv.FormatInt(auction.ID, 10),
		"amount":  c.Amount.String(),
	}
	n.send(ctx, c.BidderID, TemplatePaymentReceived, fmt.Sprintf("payment-received:%d", auction.ID), params)
	n.send(ctx, auction.SellerID, TemplateAuctionSold, fmt.Sprintf("auction-sold:%d", auction.ID), params)
}

// AccountCreated welcomes a new user
func (n *SettlementNotifier) AccountCreated(ctx context.Context, userID int64, name string) {
	n.send(ctx, userID, TemplateAccountCreated,
		fmt.Sprintf("account-created:%d", userID),
		map[string]string{"name": name})
}

func (n *SettlementNotifier) send(ctx context.Context, userID int64, template, dedupeKey string, params map[string]string) {
	phone, err := n.contacts.GetUserPhone(ctx, userID)
	if err != nil || phone == "" {
		n.logger.Warn("No contact for notification",
			zap.Int64("user_id", userID),
			zap.String("template", template),
			zap.Error(err))
		return
	}

	_, _, err = n.queue.Enqueue(ctx, EnqueueRequest{
		Recipient:   phone,
		TemplateKey: template,
		Params:      params,
		DedupeKey:   dedupeKey,
	})
	if err != nil {
		n.logger.Error("Failed to enqueue notification",
			zap.String("dedupe_key", dedupeKey),
			zap.Error(err))
	}
}
