package service

import (
	"context"
	"testing"
	"time"

	"auction-settlement/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitPayment_IssuesIntentToActiveCandidate(t *testing.T) {
	h := newHarness(SettlementPolicy{})
	bids := h.seedAuction(1, nil, []int64{10, 11}, []int64{500, 400})
	ctx := context.Background()

	first, err := h.machine.InitPayment(ctx, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, first.Intent)
	assert.Equal(t, bids[0].ID, first.Intent.BidID)
	assert.True(t, first.Intent.Amount.Equal(bids[0].Amount))
	assert.True(t, first.Intent.PaymentDueAt.Equal(testEpoch.Add(48*time.Hour)))
	assert.NotEmpty(t, first.Intent.Reference)

	second, err := h.machine.InitPayment(ctx, 1, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.Intent.Reference, second.Intent.Reference)
	assert.True(t, first.Intent.PaymentDueAt.Equal(second.Intent.PaymentDueAt))
}

func TestInitPayment_Rejections(t *testing.T) {
	h := newHarness(SettlementPolicy{})
	bids := h.seedAuction(1, nil, []int64{10, 11}, []int64{500, 400})
	h.store.putAuction(models.Auction{ID: 2, SellerID: 5, EndsAt: testEpoch.Add(time.Hour)})
	ctx := context.Background()

	result, err := h.machine.InitPayment(ctx, 1, 11)
	require.NoError(t, err)
	assert.Nil(t, result.Intent)
	assert.Equal(t, RejectNotCurrentWinner, result.Reason)

	result, err = h.machine.InitPayment(ctx, 2, 11)
	require.NoError(t, err)
	assert.Equal(t, RejectAuctionNotEnded, result.Reason)

	_, err = h.committer.CommitPayment(ctx, commitFor(bids[0], "gw-1"))
	require.NoError(t, err)
	result, err = h.machine.InitPayment(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, RejectAlreadyPaid, result.Reason)

	_, err = h.machine.InitPayment(ctx, 77, 10)
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestInitPayment_NoCandidateLeft(t *testing.T) {
	h := newHarness(SettlementPolicy{})
	h.seedAuction(1, nil, []int64{10}, []int64{500})
	ctx := context.Background()

	_, err := h.machine.ResolvePaymentWindow(ctx, 1)
	require.NoError(t, err)
	h.clock.Advance(48 * time.Hour)

	result, err := h.machine.InitPayment(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, RejectNoActiveCandidate, result.Reason)
}
