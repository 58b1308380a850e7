package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SettlementResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_resolutions_total",
		Help: "Total number of payment window resolutions by outcome",
	}, []string{"outcome"})

	PaymentWindowsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_payment_windows_opened_total",
		Help: "Total number of payment windows opened, including rotations",
	})

	PaymentWindowsRotatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_payment_windows_rotated_total",
		Help: "Total number of expired windows handed to the next ranked bidder",
	})

	AuctionsClosedUnsoldTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_auctions_closed_unsold_total",
		Help: "Total number of auctions closed without an eligible payer",
	})

	SettlementConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_write_conflicts_total",
		Help: "Total number of conditional writes lost to a concurrent writer",
	}, []string{"operation"})

	SettlementCommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_commits_total",
		Help: "Total number of commit attempts by result",
	}, []string{"result"})

	SettlementRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_rejections_total",
		Help: "Total number of rejected commits by reason",
	}, []string{"reason"})

	SettlementCommitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_commit_latency_seconds",
		Help:    "Latency of settlement commits",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_enqueued_total",
		Help: "Total number of notification jobs enqueued",
	}, []string{"template"})

	NotificationsDeduplicatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_deduplicated_total",
		Help: "Total number of enqueue calls skipped by dedupe key",
	}, []string{"template"})

	NotificationsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_dispatched_total",
		Help: "Total number of dispatched notification jobs by status",
	}, []string{"status"})

	NotificationProviderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_provider_latency_seconds",
		Help:    "Latency of messaging provider calls",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
