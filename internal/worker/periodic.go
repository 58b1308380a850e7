package worker

import (
	"context"
	"time"

	"auction-settlement/internal/util"

	"go.uber.org/zap"
)

// leasedTicker runs fn every interval on whichever replica holds the lease
type leasedTicker struct {
	name     string
	interval time.Duration
	leaser   Leaser
	fn       func(ctx context.Context) error
	logger   *zap.Logger
}

func (t *leasedTicker) run(ctx context.Context) {
	t.logger.Info("Starting periodic worker",
		zap.String("worker", t.name),
		zap.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.tick(ctx)
		select {
		case <-ctx.Done():
			t.logger.Info("Stopping periodic worker", zap.String("worker", t.name))
			return
		case <-ticker.C:
		}
	}
}

// tick runs one cycle if the lease is free. It reports whether fn ran.
func (t *leasedTicker) tick(ctx context.Context) bool {
	token, ok, err := t.leaser.AcquireLease(ctx, t.name, t.interval)
	if err != nil {
		t.logger.Error("Failed to acquire lease", zap.String("worker", t.name), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	defer func() {
		// ctx may already be cancelled at shutdown
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := t.leaser.ReleaseLease(releaseCtx, t.name, token); err != nil {
			t.logger.Warn("Failed to release lease", zap.String("worker", t.name), zap.Error(err))
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()
	if err := t.fn(cycleCtx); err != nil {
		t.logger.Error("Periodic cycle failed", zap.String("worker", t.name), zap.Error(err))
	}
	return true
}

// DispatchWorker drains the notification queue on a fixed interval
type DispatchWorker struct {
	ticker *leasedTicker
}

// NewDispatchWorker creates a new dispatch worker
func NewDispatchWorker(dispatcher BatchDispatcher, leaser Leaser, interval time.Duration) *DispatchWorker {
	return &DispatchWorker{ticker: &leasedTicker{
		name:     "notification-dispatch",
		interval: interval,
		leaser:   leaser,
		fn: func(ctx context.Context) error {
			_, err := dispatcher.DispatchBatch(ctx)
			return err
		},
		logger: util.GetLogger(),
	}}
}

// Start blocks until ctx is cancelled
func (w *DispatchWorker) Start(ctx context.Context) {
	w.ticker.run(ctx)
}

// SettlementSweeper resolves ended auctions so windows rotate and close on time
type SettlementSweeper struct {
	ticker *leasedTicker
}

// NewSettlementSweeper creates a new settlement sweeper
func NewSettlementSweeper(sweeper AuctionSweeper, leaser Leaser, interval time.Duration, batchSize int) *SettlementSweeper {
	logger := util.GetLogger()
	return &SettlementSweeper{ticker: &leasedTicker{
		name:     "settlement-sweep",
		interval: interval,
		leaser:   leaser,
		fn: func(ctx context.Context) error {
			resolved, err := sweeper.SweepEndedAuctions(ctx, batchSize)
			if resolved > 0 {
				logger.Info("Settlement sweep finished", zap.Int("resolved", resolved))
			}
			return err
		},
		logger: logger,
	}}
}

// Start blocks until ctx is cancelled
func (s *SettlementSweeper) Start(ctx context.Context) {
	s.ticker.run(ctx)
}
