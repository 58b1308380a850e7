package store

import (
	"context"

	"auction-settlement/internal/models"
)

// ListBids returns the bids of an auction, highest amount first and earliest
// bid first among equal amounts
func (s *Store) ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	var bids []models.Bid
	err := s.db.SelectContext(ctx, &bids, `
		SELECT id, auction_id, bidder_id, amount, created_at
		FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC, id ASC`, auctionID)
	return bids, err
}
