package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auction-settlement/internal/models"
)

const auctionColumns = `id, seller_id, reserve_price, ends_at, settlement_status, active_rank,
	payment_due_at, winner_id, winning_bid_id, paid, updated_at`

// WindowTransition moves an auction between settlement states. It only applies
// when the row still holds the rank and due date the caller observed.
type WindowTransition struct {
	AuctionID int64
	FromRank  int
	FromDueAt *time.Time
	ToStatus  string
	ToRank    int
	ToDueAt   *time.Time
}

// SettlementCommit marks an auction paid for the candidate at Rank.
type SettlementCommit struct {
	AuctionID    int64
	Rank         int
	WinnerID     int64
	WinningBidID int64
}

// GetAuction retrieves an auction by ID
func (s *Store) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	var auction models.Auction
	err := s.db.GetContext(ctx, &auction,
		"SELECT "+auctionColumns+" FROM auctions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("auction %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &auction, nil
}

// ListAuctionsAwaitingSettlement returns ended auctions that are neither paid
// nor closed and have no open payment window
func (s *Store) ListAuctionsAwaitingSettlement(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT id FROM auctions
		WHERE ends_at <= $1 AND paid = false AND settlement_status <> $2
		  AND (payment_due_at IS NULL OR payment_due_at <= $1)
		ORDER BY ends_at ASC
		LIMIT $3`,
		now, models.SettlementClosedUnsold, limit)
	return ids, err
}

// TransitionSettlement applies a conditional window update.
// Returns false when another writer changed the row first.
func (s *Store) TransitionSettlement(ctx context.Context, t WindowTransition) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE auctions
		SET settlement_status = $1, active_rank = $2, payment_due_at = $3, updated_at = NOW()
		WHERE id = $4
		  AND paid = false
		  AND settlement_status <> $5
		  AND active_rank = $6
		  AND payment_due_at IS NOT DISTINCT FROM $7`,
		t.ToStatus, t.ToRank, t.ToDueAt, t.AuctionID,
		models.SettlementClosedUnsold, t.FromRank, t.FromDueAt)
	if err != nil {
		return false, fmt.Errorf("failed to update settlement window: %w", err)
	}
	return affectedOne(res)
}

// SettleAuction marks the auction paid and appends the payment record in one
// transaction. The record is deduplicated on its external reference. Returns
// false, without writing anything, when the auction is already paid or the
// active rank moved on.
func (s *Store) SettleAuction(ctx context.Context, c SettlementCommit, record *models.PaymentRecord) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE auctions
		SET paid = true, winner_id = $1, winning_bid_id = $2, payment_due_at = NULL,
		    settlement_status = $3, updated_at = NOW()
		WHERE id = $4 AND paid = false AND settlement_status = $5 AND active_rank = $6`,
		c.WinnerID, c.WinningBidID, models.SettlementPaid,
		c.AuctionID, models.SettlementAwaitingPayment, c.Rank)
	if err != nil {
		return false, fmt.Errorf("failed to mark auction paid: %w", err)
	}

	updated, err := affectedOne(res)
	if err != nil || !updated {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_records (auction_id, bid_id, bidder_id, amount, external_reference)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_reference) DO NOTHING`,
		record.AuctionID, record.BidID, record.BidderID, record.Amount, record.ExternalReference)
	if err != nil {
		return false, fmt.Errorf("failed to insert payment record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return true, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
