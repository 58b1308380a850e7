package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"auction-settlement/internal/models"
	"auction-settlement/internal/store"
	"auction-settlement/internal/util"

	"github.com/shopspring/decimal"
)

// CandidateResolver ranks the bidders of an ended auction who may pay for it
type CandidateResolver struct {
	auctions AuctionStore
	bids     BidStore
}

// NewCandidateResolver creates a new candidate resolver
func NewCandidateResolver(auctions AuctionStore, bids BidStore) *CandidateResolver {
	return &CandidateResolver{
		auctions: auctions,
		bids:     bids,
	}
}

// ResolveCandidatesByID loads the auction and ranks its candidates
func (r *CandidateResolver) ResolveCandidatesByID(ctx context.Context, auctionID int64) ([]models.PaymentCandidate, error) {
	auction, err := r.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, auctionID)
		}
		return nil, persistenceError("load auction", err)
	}
	return r.ResolveCandidates(ctx, auction)
}

// ResolveCandidates returns the payment-eligible candidates of an auction,
// rank 1 first. The caller checks that the auction has ended.
func (r *CandidateResolver) ResolveCandidates(ctx context.Context, auction *models.Auction) ([]models.PaymentCandidate, error) {
	ctx, span := util.StartAuctionSpan(ctx, "CandidateResolver.ResolveCandidates", auction.ID)
	defer span.End()

	bids, err := r.bids.ListBids(ctx, auction.ID)
	if err != nil {
		return nil, persistenceError("list bids", err)
	}

	return RankCandidates(bids, auction.ReservePrice), nil
}

// RankCandidates orders bids by amount descending, earliest bid first on equal
// amounts, numbers them from 1 and drops bids below the reserve. Because the
// order is descending, every dropped bid ranks after every kept one.
func RankCandidates(bids []models.Bid, reserve decimal.NullDecimal) []models.PaymentCandidate {
	sorted := make([]models.Bid, len(bids))
	copy(sorted, bids)

	sort.SliceStable(sorted, func(i, j int) bool {
		if c := sorted[i].Amount.Cmp(sorted[j].Amount); c != 0 {
			return c > 0
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	candidates := make([]models.PaymentCandidate, 0, len(sorted))
	for i, bid := range sorted {
		if !BidMeetsReserve(bid.Amount, reserve) {
			continue
		}
		candidates = append(candidates, models.PaymentCandidate{
			Rank:     i + 1,
			BidderID: bid.BidderID,
			BidID:    bid.ID,
			Amount:   bid.Amount,
		})
	}
	return candidates
}

// BidMeetsReserve reports whether amount is at or above the reserve.
// An absent reserve accepts every amount.
func BidMeetsReserve(amount decimal.Decimal, reserve decimal.NullDecimal) bool {
	if !reserve.Valid {
		return true
	}
	return amount.GreaterThanOrEqual(reserve.Decimal)
}
