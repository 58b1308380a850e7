package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/store"
	"auction-settlement/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxTransitionAttempts bounds re-resolution after losing a conditional write
const maxTransitionAttempts = 3

// ResolutionStatus is the coarse result of resolving a payment window
type ResolutionStatus string

const (
	OutcomeAuctionNotEnded ResolutionStatus = "auction_not_ended"
	OutcomeAlreadyPaid     ResolutionStatus = "already_paid"
	OutcomeOK              ResolutionStatus = "ok"
)

// ResolutionOutcome tells callers who may pay right now. With status ok and
// a nil Candidate the auction closed unsold.
type ResolutionOutcome struct {
	Status       ResolutionStatus
	Candidate    *models.PaymentCandidate
	PaymentDueAt *time.Time
}

// SettlementPolicy holds the payment window rules
type SettlementPolicy struct {
	PaymentWindow time.Duration
	// MaxRanks caps how many ranked bidders are offered a window; 0 means no cap
	MaxRanks             int
	NotifySkippedBidders bool
}

type transitionKind int

const (
	transitionNone transitionKind = iota
	transitionOpened
	transitionRotated
	transitionClosed
)

// plannedTransition is the write a resolution needs, if any, and what it announces
type plannedTransition struct {
	kind      transitionKind
	write     store.WindowTransition
	candidate *models.PaymentCandidate
	skipped   *models.PaymentCandidate
	outcome   *ResolutionOutcome
}

// SettlementMachine owns the settlement state of auctions. All entry points
// resolve through it; state only moves through conditional writes so
// concurrent callers converge on one transition.
type SettlementMachine struct {
	auctions AuctionStore
	resolver *CandidateResolver
	notifier *SettlementNotifier
	events   EventPublisher
	policy   SettlementPolicy
	now      func() time.Time
	logger   *zap.Logger
}

// NewSettlementMachine creates a new settlement state machine
func NewSettlementMachine(
	auctions AuctionStore,
	resolver *CandidateResolver,
	notifier *SettlementNotifier,
	events EventPublisher,
	policy SettlementPolicy,
) *SettlementMachine {
	return &SettlementMachine{
		auctions: auctions,
		resolver: resolver,
		notifier: notifier,
		events:   events,
		policy:   policy,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// ResolvePaymentWindow decides who may pay for an auction right now,
// opening, rotating or closing the payment window as time requires.
func (m *SettlementMachine) ResolvePaymentWindow(ctx context.Context, auctionID int64) (*ResolutionOutcome, error) {
	ctx, span := util.StartAuctionSpan(ctx, "SettlementMachine.ResolvePaymentWindow", auctionID)
	defer span.End()

	outcome, _, err := m.resolve(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	util.SettlementResolutionsTotal.WithLabelValues(outcomeLabel(outcome)).Inc()
	return outcome, nil
}

// resolve returns the outcome together with the auction row it was computed from
func (m *SettlementMachine) resolve(ctx context.Context, auctionID int64) (*ResolutionOutcome, *models.Auction, error) {
	for attempt := 1; attempt <= maxTransitionAttempts; attempt++ {
		auction, err := m.auctions.GetAuction(ctx, auctionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, auctionID)
			}
			return nil, nil, persistenceError("load auction", err)
		}

		now := m.now()
		if now.Before(auction.EndsAt) {
			return &ResolutionOutcome{Status: OutcomeAuctionNotEnded}, auction, nil
		}
		if auction.Paid {
			return &ResolutionOutcome{Status: OutcomeAlreadyPaid}, auction, nil
		}
		if auction.SettlementStatus == models.SettlementClosedUnsold {
			// re-enqueue is a no-op once the first enqueue landed
			m.notifier.ClosedUnsold(ctx, auction)
			return &ResolutionOutcome{Status: OutcomeOK}, auction, nil
		}

		candidates, err := m.resolver.ResolveCandidates(ctx, auction)
		if err != nil {
			return nil, nil, err
		}
		if m.policy.MaxRanks > 0 && len(candidates) > m.policy.MaxRanks {
			candidates = candidates[:m.policy.MaxRanks]
		}

		plan := m.plan(auction, candidates, now)
		if plan.kind == transitionNone {
			if c := plan.outcome.Candidate; c != nil {
				m.notifier.WindowOpened(ctx, auction, *c, *plan.outcome.PaymentDueAt)
			}
			return plan.outcome, auction, nil
		}

		applied, err := m.auctions.TransitionSettlement(ctx, plan.write)
		if err != nil {
			return nil, nil, persistenceError("update settlement window", err)
		}
		if !applied {
			util.SettlementConflictsTotal.WithLabelValues("transition").Inc()
			m.logger.Debug("Settlement transition lost to concurrent writer",
				zap.Int64("auction_id", auctionID),
				zap.Int("attempt", attempt))
			continue
		}

		auction.SettlementStatus = plan.write.ToStatus
		auction.ActiveRank = plan.write.ToRank
		auction.PaymentDueAt = plan.write.ToDueAt
		m.announce(ctx, auction, plan)
		return plan.outcome, auction, nil
	}

	return nil, nil, persistenceError("resolve payment window", errWriteContention)
}

// plan computes the outcome for the persisted state at time now. Only the
// first resolution after the auction ends, an expired window, or running
// out of candidates needs a write.
func (m *SettlementMachine) plan(auction *models.Auction, candidates []models.PaymentCandidate, now time.Time) plannedTransition {
	from := store.WindowTransition{
		AuctionID: auction.ID,
		FromRank:  auction.ActiveRank,
		FromDueAt: auction.PaymentDueAt,
	}

	closeUnsold := func(skipped *models.PaymentCandidate) plannedTransition {
		write := from
		write.ToStatus = models.SettlementClosedUnsold
		write.ToRank = auction.ActiveRank
		write.ToDueAt = nil
		return plannedTransition{
			kind:    transitionClosed,
			write:   write,
			skipped: skipped,
			outcome: &ResolutionOutcome{Status: OutcomeOK},
		}
	}

	openWindow := func(rank int, kind transitionKind, skipped *models.PaymentCandidate) plannedTransition {
		// timestamptz keeps microseconds; the returned due must match later reads
		due := now.UTC().Truncate(time.Microsecond).Add(m.policy.PaymentWindow)
		candidate := candidates[rank-1]
		write := from
		write.ToStatus = models.SettlementAwaitingPayment
		write.ToRank = rank
		write.ToDueAt = &due
		return plannedTransition{
			kind:      kind,
			write:     write,
			candidate: &candidate,
			skipped:   skipped,
			outcome:   &ResolutionOutcome{Status: OutcomeOK, Candidate: &candidate, PaymentDueAt: &due},
		}
	}

	if len(candidates) == 0 {
		return closeUnsold(nil)
	}

	rank := auction.ActiveRank
	if rank == 0 || auction.PaymentDueAt == nil {
		if rank == 0 {
			rank = 1
		}
		if rank > len(candidates) {
			return closeUnsold(nil)
		}
		return openWindow(rank, transitionOpened, nil)
	}

	if rank > len(candidates) {
		return closeUnsold(nil)
	}

	current := candidates[rank-1]
	if now.Before(*auction.PaymentDueAt) {
		due := auction.PaymentDueAt.UTC()
		return plannedTransition{
			kind:    transitionNone,
			outcome: &ResolutionOutcome{Status: OutcomeOK, Candidate: &current, PaymentDueAt: &due},
		}
	}

	if rank == len(candidates) {
		return closeUnsold(&current)
	}
	return openWindow(rank+1, transitionRotated, &current)
}

// announce runs the side effects of a transition this caller won. Callers
// that find the window unchanged re-enqueue the same dedupe keys in resolve,
// which recovers a notification whose first enqueue failed.
func (m *SettlementMachine) announce(ctx context.Context, auction *models.Auction, plan plannedTransition) {
	if plan.skipped != nil && m.policy.NotifySkippedBidders {
		m.notifier.CandidateSkipped(ctx, auction, *plan.skipped)
	}

	switch plan.kind {
	case transitionOpened, transitionRotated:
		util.PaymentWindowsOpenedTotal.Inc()
		if plan.kind == transitionRotated {
			util.PaymentWindowsRotatedTotal.Inc()
		}
		m.logger.Info("Payment window opened",
			zap.Int64("auction_id", auction.ID),
			zap.Int("rank", plan.candidate.Rank),
			zap.Int64("bidder_id", plan.candidate.BidderID),
			zap.Time("payment_due_at", *plan.write.ToDueAt))

		m.notifier.WindowOpened(ctx, auction, *plan.candidate, *plan.write.ToDueAt)

		event := &models.PaymentWindowOpenedEvent{
			BaseEvent:    newBaseEvent(models.EventTypePaymentWindowOpened),
			AuctionID:    auction.ID,
			Rank:         plan.candidate.Rank,
			BidID:        plan.candidate.BidID,
			BidderID:     plan.candidate.BidderID,
			Amount:       plan.candidate.Amount,
			PaymentDueAt: *plan.write.ToDueAt,
		}
		if err := m.events.PublishPaymentWindowOpened(ctx, event); err != nil {
			m.logger.Error("Failed to publish PaymentWindowOpened event", zap.Error(err))
		}

	case transitionClosed:
		util.AuctionsClosedUnsoldTotal.Inc()
		m.logger.Info("Auction closed unsold", zap.Int64("auction_id", auction.ID))

		m.notifier.ClosedUnsold(ctx, auction)

		event := &models.AuctionClosedUnsoldEvent{
			BaseEvent: newBaseEvent(models.EventTypeAuctionClosedUnsold),
			AuctionID: auction.ID,
		}
		if err := m.events.PublishAuctionClosedUnsold(ctx, event); err != nil {
			m.logger.Error("Failed to publish AuctionClosedUnsold event", zap.Error(err))
		}
	}
}

// SweepEndedAuctions resolves every ended, unsettled auction so windows
// rotate and close without waiting for user traffic
func (m *SettlementMachine) SweepEndedAuctions(ctx context.Context, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "SettlementMachine.SweepEndedAuctions")
	defer span.End()

	ids, err := m.auctions.ListAuctionsAwaitingSettlement(ctx, m.now(), limit)
	if err != nil {
		return 0, persistenceError("list unsettled auctions", err)
	}

	resolved := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := m.ResolvePaymentWindow(ctx, id); err != nil {
			m.logger.Error("Failed to resolve auction during sweep",
				zap.Int64("auction_id", id),
				zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved, nil
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func outcomeLabel(o *ResolutionOutcome) string {
	if o.Status == OutcomeOK && o.Candidate == nil {
		return "closed_unsold"
	}
	return string(o.Status)
}
