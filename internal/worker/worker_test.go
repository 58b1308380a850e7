package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCommitter struct {
	mock.Mock
}

func (m *MockCommitter) CommitPayment(ctx context.Context, req service.CommitRequest) (*service.CommitResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CommitResult), args.Error(1)
}

type fakeDeduper struct {
	mu     sync.Mutex
	seen   map[string]bool
	err    error
	forgot []string
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: map[string]bool{}}
}

func (d *fakeDeduper) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return false, d.err
	}
	if d.seen[eventID] {
		return false, nil
	}
	d.seen[eventID] = true
	return true, nil
}

func (d *fakeDeduper) ForgetEvent(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	d.forgot = append(d.forgot, eventID)
	return nil
}

type fakeLeaser struct {
	mu       sync.Mutex
	held     map[string]string
	err      error
	released int
}

func newFakeLeaser() *fakeLeaser {
	return &fakeLeaser{held: map[string]string{}}
}

func (l *fakeLeaser) AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[name]; ok {
		return "", false, nil
	}
	l.held[name] = "token-" + name
	return l.held[name], true, nil
}

func (l *fakeLeaser) ReleaseLease(ctx context.Context, name, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] == token {
		delete(l.held, name)
		l.released++
	}
	return nil
}

func paymentEvent(id string) *models.PaymentConfirmedEvent {
	return &models.PaymentConfirmedEvent{
		BaseEvent:         models.BaseEvent{EventID: id, EventType: models.EventTypePaymentConfirmed},
		AuctionID:         5,
		BidID:             11,
		BidderID:          2,
		Amount:            decimal.NewFromInt(500),
		ExternalReference: "gw-" + id,
	}
}

func TestPaymentWorker_CommitsOncePerEvent(t *testing.T) {
	committer := new(MockCommitter)
	deduper := newFakeDeduper()
	w := NewPaymentWorker(nil, committer, deduper)
	ctx := context.Background()

	committer.On("CommitPayment", ctx, mock.MatchedBy(func(req service.CommitRequest) bool {
		return req.AuctionID == 5 && req.BidID == 11 && req.BidderID == 2 && req.ExternalReference == "gw-evt-1"
	})).Return(&service.CommitResult{Status: service.CommitCommitted}, nil).Once()

	require.NoError(t, w.HandlePaymentConfirmed(ctx, paymentEvent("evt-1")))
	require.NoError(t, w.HandlePaymentConfirmed(ctx, paymentEvent("evt-1")))

	committer.AssertNumberOfCalls(t, "CommitPayment", 1)
}

func TestPaymentWorker_PersistenceErrorAllowsRetry(t *testing.T) {
	committer := new(MockCommitter)
	deduper := newFakeDeduper()
	w := NewPaymentWorker(nil, committer, deduper)
	ctx := context.Background()

	committer.On("CommitPayment", ctx, mock.Anything).
		Return(nil, &service.PersistenceError{Op: "settle auction", Err: errors.New("conn reset")}).Once()
	committer.On("CommitPayment", ctx, mock.Anything).
		Return(&service.CommitResult{Status: service.CommitCommitted}, nil).Once()

	err := w.HandlePaymentConfirmed(ctx, paymentEvent("evt-2"))
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrPersistence)
	assert.Equal(t, []string{"evt-2"}, deduper.forgot)

	require.NoError(t, w.HandlePaymentConfirmed(ctx, paymentEvent("evt-2")))
	committer.AssertNumberOfCalls(t, "CommitPayment", 2)
}

func TestPaymentWorker_RejectionIsFinal(t *testing.T) {
	committer := new(MockCommitter)
	w := NewPaymentWorker(nil, committer, newFakeDeduper())
	ctx := context.Background()

	committer.On("CommitPayment", ctx, mock.Anything).
		Return(&service.CommitResult{Status: service.CommitRejected, Reason: service.RejectNotCurrentWinner}, nil)

	assert.NoError(t, w.HandlePaymentConfirmed(ctx, paymentEvent("evt-3")))
}

func TestPaymentWorker_DedupeOutageStillCommits(t *testing.T) {
	committer := new(MockCommitter)
	deduper := newFakeDeduper()
	deduper.err = errors.New("redis down")
	w := NewPaymentWorker(nil, committer, deduper)
	ctx := context.Background()

	committer.On("CommitPayment", ctx, mock.Anything).
		Return(&service.CommitResult{Status: service.CommitAlreadySettled}, nil).Twice()

	require.NoError(t, w.HandlePaymentConfirmed(ctx, paymentEvent("evt-4")))
	require.NoError(t, w.HandlePaymentConfirmed(ctx, paymentEvent("evt-4")))
	committer.AssertExpectations(t)
}

func TestLeasedTicker_SkipsWhileLeaseHeld(t *testing.T) {
	leaser := newFakeLeaser()
	runs := 0
	ticker := &leasedTicker{
		name:     "notification-dispatch",
		interval: time.Minute,
		leaser:   leaser,
		fn: func(ctx context.Context) error {
			runs++
			return nil
		},
		logger: testLogger(),
	}

	leaser.held["notification-dispatch"] = "other-replica"
	assert.False(t, ticker.tick(context.Background()))
	assert.Equal(t, 0, runs)

	delete(leaser.held, "notification-dispatch")
	assert.True(t, ticker.tick(context.Background()))
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, leaser.released)
	assert.Empty(t, leaser.held)
}

func TestLeasedTicker_ReleasesAfterFailedCycle(t *testing.T) {
	leaser := newFakeLeaser()
	ticker := &leasedTicker{
		name:     "settlement-sweep",
		interval: time.Minute,
		leaser:   leaser,
		fn: func(ctx context.Context) error {
			return errors.New("list unsettled auctions: timeout")
		},
		logger: testLogger(),
	}

	assert.True(t, ticker.tick(context.Background()))
	assert.Empty(t, leaser.held)
}

func TestLeasedTicker_LeaseErrorSkipsCycle(t *testing.T) {
	leaser := newFakeLeaser()
	leaser.err = errors.New("redis down")
	ticker := &leasedTicker{
		name:     "settlement-sweep",
		interval: time.Minute,
		leaser:   leaser,
		fn: func(ctx context.Context) error {
			t.Fatal("cycle must not run without a lease")
			return nil
		},
		logger: testLogger(),
	}

	assert.False(t, ticker.tick(context.Background()))
}

type fakeSweeper struct {
	limits []int
}

func (s *fakeSweeper) SweepEndedAuctions(ctx context.Context, limit int) (int, error) {
	s.limits = append(s.limits, limit)
	return 3, nil
}

type fakeDispatcher struct {
	calls int
}

func (d *fakeDispatcher) DispatchBatch(ctx context.Context) (*service.DispatchStats, error) {
	d.calls++
	return &service.DispatchStats{}, nil
}

func TestWorkers_RunFirstCycleAndStopOnCancel(t *testing.T) {
	sweeper := &fakeSweeper{}
	dispatcher := &fakeDispatcher{}
	leaser := newFakeLeaser()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)

	sweep := NewSettlementSweeper(sweeper, leaser, time.Hour, 25)
	dispatch := NewDispatchWorker(dispatcher, leaser, time.Hour)
	go func() { sweep.Start(ctx); done <- struct{}{} }()
	go func() { dispatch.Start(ctx); done <- struct{}{} }()

	require.Eventually(t, func() bool {
		leaser.mu.Lock()
		defer leaser.mu.Unlock()
		return leaser.released == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	<-done

	assert.Equal(t, []int{25}, sweeper.limits)
	assert.Equal(t, 1, dispatcher.calls)
}
