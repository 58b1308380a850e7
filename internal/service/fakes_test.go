package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/store"

	"github.com/shopspring/decimal"
)

// memoryStore implements the store interfaces with the same conditional
// write semantics as the SQL store
type memoryStore struct {
	mu       sync.Mutex
	auctions map[int64]models.Auction
	bids     map[int64][]models.Bid
	phones   map[int64]string
	payments []models.PaymentRecord
	jobs     []*models.NotificationJob

	transitions int
	settlements int

	getAuctionErr error
	listBidsErr   error
	transitionErr error
	settleErr     error
	listDueErr    error
	insertJobErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		auctions: map[int64]models.Auction{},
		bids:     map[int64][]models.Bid{},
		phones:   map[int64]string{},
	}
}

func (s *memoryStore) putAuction(a models.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.SettlementStatus == "" {
		a.SettlementStatus = models.SettlementNotEnded
	}
	s.auctions[a.ID] = a
}

func (s *memoryStore) addBid(b models.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[b.AuctionID] = append(s.bids[b.AuctionID], b)
}

func (s *memoryStore) auction(id int64) models.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auctions[id]
}

func (s *memoryStore) jobsByTemplate(template string) []models.NotificationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.NotificationJob
	for _, j := range s.jobs {
		if j.TemplateKey == template {
			out = append(out, *j)
		}
	}
	return out
}

func (s *memoryStore) GetAuction(ctx context.Context, id int64) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getAuctionErr != nil {
		return nil, s.getAuctionErr
	}
	a, ok := s.auctions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *memoryStore) ListAuctionsAwaitingSettlement(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, a := range s.auctions {
		if a.Paid || a.SettlementStatus == models.SettlementClosedUnsold || now.Before(a.EndsAt) {
			continue
		}
		if a.SettlementStatus == models.SettlementAwaitingPayment && a.PaymentDueAt != nil && now.Before(*a.PaymentDueAt) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *memoryStore) TransitionSettlement(ctx context.Context, t store.WindowTransition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return false, s.transitionErr
	}
	a, ok := s.auctions[t.AuctionID]
	if !ok || a.Paid || a.SettlementStatus == models.SettlementClosedUnsold ||
		a.ActiveRank != t.FromRank || !sameInstant(a.PaymentDueAt, t.FromDueAt) {
		return false, nil
	}
	a.SettlementStatus = t.ToStatus
	a.ActiveRank = t.ToRank
	if t.ToDueAt != nil {
		// timestamptz precision
		due := t.ToDueAt.Truncate(time.Microsecond)
		a.PaymentDueAt = &due
	} else {
		a.PaymentDueAt = nil
	}
	s.auctions[t.AuctionID] = a
	s.transitions++
	return true, nil
}

func (s *memoryStore) SettleAuction(ctx context.Context, c store.SettlementCommit, record *models.PaymentRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settleErr != nil {
		return false, s.settleErr
	}
	a, ok := s.auctions[c.AuctionID]
	if !ok || a.Paid || a.SettlementStatus != models.SettlementAwaitingPayment || a.ActiveRank != c.Rank {
		return false, nil
	}
	winner, bid := c.WinnerID, c.WinningBidID
	a.Paid = true
	a.SettlementStatus = models.SettlementPaid
	a.PaymentDueAt = nil
	a.WinnerID = &winner
	a.WinningBidID = &bid
	s.auctions[c.AuctionID] = a

	exists := false
	for _, p := range s.payments {
		if p.ExternalReference == record.ExternalReference {
			exists = true
		}
	}
	if !exists {
		s.payments = append(s.payments, *record)
	}
	s.settlements++
	return true, nil
}

func (s *memoryStore) ListBids(ctx context.Context, auctionID int64) ([]models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listBidsErr != nil {
		return nil, s.listBidsErr
	}
	return append([]models.Bid(nil), s.bids[auctionID]...), nil
}

func (s *memoryStore) GetUserPhone(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	phone, ok := s.phones[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return phone, nil
}

func (s *memoryStore) InsertNotification(ctx context.Context, job *models.NotificationJob) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertJobErr != nil {
		return false, s.insertJobErr
	}
	if job.DedupeKey != nil {
		for _, j := range s.jobs {
			if j.DedupeKey != nil && *j.DedupeKey == *job.DedupeKey {
				return false, nil
			}
		}
	}
	cp := *job
	s.jobs = append(s.jobs, &cp)
	return true, nil
}

func (s *memoryStore) findJob(match func(*models.NotificationJob) bool) (*models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if match(j) {
			cp := *j
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memoryStore) GetNotification(ctx context.Context, id string) (*models.NotificationJob, error) {
	return s.findJob(func(j *models.NotificationJob) bool { return j.ID == id })
}

func (s *memoryStore) GetNotificationByDedupeKey(ctx context.Context, key string) (*models.NotificationJob, error) {
	return s.findJob(func(j *models.NotificationJob) bool { return j.DedupeKey != nil && *j.DedupeKey == key })
}

func (s *memoryStore) ClaimDueNotifications(ctx context.Context, now time.Time, limit int) ([]models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listDueErr != nil {
		return nil, s.listDueErr
	}
	var due []*models.NotificationJob
	for _, j := range s.jobs {
		if j.Status == models.NotificationQueued && !j.NotBefore.After(now) {
			due = append(due, j)
		}
	}
	sort.SliceStable(due, func(i, k int) bool { return due[i].CreatedAt.Before(due[k].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	claimed := make([]models.NotificationJob, 0, len(due))
	for _, j := range due {
		j.Status = models.NotificationSending
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *memoryStore) FailStaleNotifications(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == models.NotificationSending && j.UpdatedAt.Before(cutoff) {
			r := reason
			j.Status = models.NotificationFailed
			j.FailureReason = &r
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) updateJob(id string, fn func(*models.NotificationJob) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.ID == id {
			return fn(j), nil
		}
	}
	return false, nil
}

func (s *memoryStore) MarkNotificationSent(ctx context.Context, id, providerMessageID string) error {
	_, err := s.updateJob(id, func(j *models.NotificationJob) bool {
		if j.Status != models.NotificationSending {
			return false
		}
		j.Status = models.NotificationSent
		j.ProviderMessageID = &providerMessageID
		j.FailureReason = nil
		return true
	})
	return err
}

func (s *memoryStore) MarkNotificationFailed(ctx context.Context, id, reason string) error {
	_, err := s.updateJob(id, func(j *models.NotificationJob) bool {
		if j.Status != models.NotificationSending {
			return false
		}
		j.Status = models.NotificationFailed
		j.FailureReason = &reason
		return true
	})
	return err
}

func (s *memoryStore) RequeueNotification(ctx context.Context, id string, notBefore time.Time) (bool, error) {
	return s.updateJob(id, func(j *models.NotificationJob) bool {
		if j.Status != models.NotificationFailed {
			return false
		}
		j.Status = models.NotificationQueued
		j.NotBefore = notBefore
		return true
	})
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	opened []*models.PaymentWindowOpenedEvent
	paid   []*models.AuctionPaidEvent
	closed []*models.AuctionClosedUnsoldEvent
	err    error
}

func (p *recordingPublisher) PublishPaymentWindowOpened(ctx context.Context, e *models.PaymentWindowOpenedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, e)
	return p.err
}

func (p *recordingPublisher) PublishAuctionPaid(ctx context.Context, e *models.AuctionPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return p.err
}

func (p *recordingPublisher) PublishAuctionClosedUnsold(ctx context.Context, e *models.AuctionClosedUnsoldEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, e)
	return p.err
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errStorageDown = errors.New("connection refused")

var testEpoch = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

// harness wires the settlement services over one memory store
type harness struct {
	store     *memoryStore
	events    *recordingPublisher
	clock     *clock
	queue     *NotificationQueue
	notifier  *SettlementNotifier
	machine   *SettlementMachine
	committer *SettlementCommitter
}

func newHarness(policy SettlementPolicy) *harness {
	if policy.PaymentWindow == 0 {
		policy.PaymentWindow = 48 * time.Hour
	}
	h := &harness{
		store:  newMemoryStore(),
		events: &recordingPublisher{},
		clock:  &clock{now: testEpoch},
	}
	h.queue = NewNotificationQueue(h.store)
	h.queue.now = h.clock.Now
	h.notifier = NewSettlementNotifier(h.queue, h.store)
	h.machine = NewSettlementMachine(h.store, NewCandidateResolver(h.store, h.store), h.notifier, h.events, policy)
	h.machine.now = h.clock.Now
	h.committer = NewSettlementCommitter(h.store, h.machine, h.notifier, h.events)
	return h
}

// seedAuction stores an ended auction and its bids. Amounts are given in
// bid order; each bid is placed one minute after the previous one.
func (h *harness) seedAuction(id int64, reserve *int64, bidders []int64, amounts []int64) []models.Bid {
	a := models.Auction{ID: id, SellerID: 900 + id, EndsAt: testEpoch.Add(-time.Minute)}
	if reserve != nil {
		a.ReservePrice = decimal.NewNullDecimal(decimal.NewFromInt(*reserve))
	}
	h.store.putAuction(a)
	h.store.phones[a.SellerID] = fmt.Sprintf("0912%07d", a.SellerID)

	bids := make([]models.Bid, len(bidders))
	for i := range bidders {
		bids[i] = models.Bid{
			ID:        id*100 + int64(i) + 1,
			AuctionID: id,
			BidderID:  bidders[i],
			Amount:    decimal.NewFromInt(amounts[i]),
			CreatedAt: testEpoch.Add(-time.Hour + time.Duration(i)*time.Minute),
		}
		h.store.addBid(bids[i])
		h.store.phones[bidders[i]] = fmt.Sprintf("0935%07d", bidders[i])
	}
	return bids
}

func int64Ptr(v int64) *int64 { return &v }
