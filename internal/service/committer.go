package service

import (
	"context"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/store"
	"auction-settlement/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CommitStatus is the result of a commit attempt
type CommitStatus string

const (
	CommitCommitted      CommitStatus = "committed"
	CommitAlreadySettled CommitStatus = "already_settled"
	CommitRejected       CommitStatus = "rejected"
)

// RejectReason explains a non-retryable commit rejection
type RejectReason string

const (
	RejectMissingReference  RejectReason = "missing_reference"
	RejectAuctionNotEnded   RejectReason = "auction_not_ended"
	RejectNoActiveCandidate RejectReason = "no_active_candidate"
	RejectNotCurrentWinner  RejectReason = "not_current_winner"
	RejectAmountMismatch    RejectReason = "amount_mismatch"
	RejectPaidByOther       RejectReason = "already_paid_by_other"
	RejectAlreadyPaid       RejectReason = "already_paid"
)

// CommitRequest identifies the payment a caller wants to settle
type CommitRequest struct {
	AuctionID         int64
	BidID             int64
	BidderID          int64
	Amount            decimal.Decimal
	ExternalReference string
}

// CommitResult is returned for every commit that reached a decision.
// Committed and AlreadySettled are both success.
type CommitResult struct {
	Status CommitStatus `json:"status"`
	Reason RejectReason `json:"reason,omitempty"`
}

// Succeeded reports whether the payment is settled for this caller
func (r *CommitResult) Succeeded() bool {
	return r.Status == CommitCommitted || r.Status == CommitAlreadySettled
}

// SettlementCommitter durably records the winner of an auction. It is the
// one place that sets paid, and it can be called any number of times
// concurrently by verify, webhook and close handlers for the same payment.
type SettlementCommitter struct {
	auctions AuctionStore
	machine  *SettlementMachine
	notifier *SettlementNotifier
	events   EventPublisher
	logger   *zap.Logger
}

// NewSettlementCommitter creates a new settlement committer
func NewSettlementCommitter(
	auctions AuctionStore,
	machine *SettlementMachine,
	notifier *SettlementNotifier,
	events EventPublisher,
) *SettlementCommitter {
	return &SettlementCommitter{
		auctions: auctions,
		machine:  machine,
		notifier: notifier,
		events:   events,
		logger:   util.GetLogger(),
	}
}

// CommitPayment settles the auction for the given bid if it belongs to the
// candidate whose window is open now. Preconditions are evaluated against
// freshly resolved state, never against what the caller saw earlier.
// Storage failures are returned as errors wrapping ErrPersistence.
func (c *SettlementCommitter) CommitPayment(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	ctx, span := util.StartAuctionSpan(ctx, "SettlementCommitter.CommitPayment", req.AuctionID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.SettlementCommitLatency.Observe(time.Since(start).Seconds())
	}()

	if req.ExternalReference == "" {
		return c.reject(req, RejectMissingReference), nil
	}

	outcome, auction, err := c.machine.resolve(ctx, req.AuctionID)
	if err != nil {
		return nil, err
	}

	switch outcome.Status {
	case OutcomeAuctionNotEnded:
		return c.reject(req, RejectAuctionNotEnded), nil
	case OutcomeAlreadyPaid:
		return c.alreadyPaid(ctx, req, auction), nil
	}

	candidate := outcome.Candidate
	if candidate == nil {
		return c.reject(req, RejectNoActiveCandidate), nil
	}
	if candidate.BidID != req.BidID || candidate.BidderID != req.BidderID {
		return c.reject(req, RejectNotCurrentWinner), nil
	}
	if !candidate.Amount.Equal(req.Amount) {
		return c.reject(req, RejectAmountMismatch), nil
	}

	record := &models.PaymentRecord{
		AuctionID:         req.AuctionID,
		BidID:             req.BidID,
		BidderID:          req.BidderID,
		Amount:            candidate.Amount,
		ExternalReference: req.ExternalReference,
	}
	settled, err := c.auctions.SettleAuction(ctx, store.SettlementCommit{
		AuctionID:    req.AuctionID,
		Rank:         candidate.Rank,
		WinnerID:     candidate.BidderID,
		WinningBidID: candidate.BidID,
	}, record)
	if err != nil {
		return nil, persistenceError("settle auction", err)
	}

	if !settled {
		// another caller committed or the window moved between resolve and write
		util.SettlementConflictsTotal.WithLabelValues("commit").Inc()
		current, err := c.auctions.GetAuction(ctx, req.AuctionID)
		if err != nil {
			return nil, persistenceError("reload auction", err)
		}
		if current.Paid {
			return c.alreadyPaid(ctx, req, current), nil
		}
		return c.reject(req, RejectNoActiveCandidate), nil
	}

	util.SettlementCommitsTotal.WithLabelValues(string(CommitCommitted)).Inc()
	c.logger.Info("Auction settled",
		zap.Int64("auction_id", req.AuctionID),
		zap.Int64("bid_id", req.BidID),
		zap.Int64("bidder_id", req.BidderID),
		zap.String("amount", candidate.Amount.String()),
		zap.String("external_reference", req.ExternalReference))

	c.notifier.PaymentReceived(ctx, auction, *candidate)

	event := &models.AuctionPaidEvent{
		BaseEvent:         newBaseEvent(models.EventTypeAuctionPaid),
		AuctionID:         req.AuctionID,
		BidID:             req.BidID,
		BidderID:          req.BidderID,
		Amount:            candidate.Amount,
		ExternalReference: req.ExternalReference,
	}
	if err := c.events.PublishAuctionPaid(ctx, event); err != nil {
		c.logger.Error("Failed to publish AuctionPaid event", zap.Error(err))
	}

	return &CommitResult{Status: CommitCommitted}, nil
}

// alreadyPaid converges a late caller on the settled state. Only the pair
// that actually won counts as success. The payment notices are enqueued
// again under their dedupe keys, so a replay recovers a lost first enqueue.
func (c *SettlementCommitter) alreadyPaid(ctx context.Context, req CommitRequest, auction *models.Auction) *CommitResult {
	if auction.WinningBidID == nil || auction.WinnerID == nil ||
		*auction.WinningBidID != req.BidID || *auction.WinnerID != req.BidderID {
		return c.reject(req, RejectPaidByOther)
	}

	util.SettlementCommitsTotal.WithLabelValues(string(CommitAlreadySettled)).Inc()
	c.logger.Info("Auction already settled",
		zap.Int64("auction_id", req.AuctionID),
		zap.String("external_reference", req.ExternalReference))

	if winner := c.settledCandidate(ctx, auction); winner != nil {
		c.notifier.PaymentReceived(ctx, auction, *winner)
	}
	return &CommitResult{Status: CommitAlreadySettled}
}

// settledCandidate looks up the winning bid so re-sent notices carry the
// recorded amount rather than whatever a replay claims.
func (c *SettlementCommitter) settledCandidate(ctx context.Context, auction *models.Auction) *models.PaymentCandidate {
	candidates, err := c.machine.resolver.ResolveCandidates(ctx, auction)
	if err != nil {
		c.logger.Warn("Could not load winning bid for notification",
			zap.Int64("auction_id", auction.ID),
			zap.Error(err))
		return nil
	}
	for i := range candidates {
		if candidates[i].BidID == *auction.WinningBidID {
			return &candidates[i]
		}
	}
	return nil
}

func (c *SettlementCommitter) reject(req CommitRequest, reason RejectReason) *CommitResult {
	util.SettlementCommitsTotal.WithLabelValues(string(CommitRejected)).Inc()
	util.SettlementRejectionsTotal.WithLabelValues(string(reason)).Inc()
	c.logger.Warn("Settlement commit rejected",
		zap.Int64("auction_id", req.AuctionID),
		zap.Int64("bid_id", req.BidID),
		zap.Int64("bidder_id", req.BidderID),
		zap.String("reason", string(reason)))
	return &CommitResult{Status: CommitRejected, Reason: reason}
}
