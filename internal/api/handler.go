package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"auction-settlement/internal/models"
	"auction-settlement/internal/service"
	"auction-settlement/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// userIDHeader carries the authenticated caller, set by the gateway
const userIDHeader = "X-User-ID"

// SettlementService resolves payment windows
type SettlementService interface {
	ResolvePaymentWindow(ctx context.Context, auctionID int64) (*service.ResolutionOutcome, error)
	InitPayment(ctx context.Context, auctionID, bidderID int64) (*service.InitResult, error)
}

// PaymentCommitter settles payments
type PaymentCommitter interface {
	CommitPayment(ctx context.Context, req service.CommitRequest) (*service.CommitResult, error)
}

// Dispatcher runs a notification dispatch cycle
type Dispatcher interface {
	DispatchBatch(ctx context.Context) (*service.DispatchStats, error)
}

// Requeuer moves failed notification jobs back to the queue
type Requeuer interface {
	Requeue(ctx context.Context, jobID string) (*models.NotificationJob, error)
}

// AccountNotifier announces account events
type AccountNotifier interface {
	AccountCreated(ctx context.Context, userID int64, name string)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the collaborators the handlers call into
type Services struct {
	Settlement SettlementService
	Committer  PaymentCommitter
	Dispatcher Dispatcher
	Queue      Requeuer
	Accounts   AccountNotifier
	// Readiness is pinged by /ready, keyed by dependency name
	Readiness map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services) *Handler {
	return &Handler{
		svc:    svc,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/auctions/:id/payment-window", h.getPaymentWindow)
		v1.POST("/auctions/:id/payment/init", h.initPayment)
		v1.POST("/auctions/:id/payment/verify", h.verifyPayment)
		v1.POST("/auctions/:id/close", h.closeAuction)
		v1.POST("/webhooks/payment", h.paymentWebhook)

		v1.POST("/notifications/dispatch", h.dispatchNotifications)
		v1.POST("/notifications/:id/requeue", h.requeueNotification)
		v1.POST("/notifications/account-created", h.accountCreated)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	ready := true
	for name, p := range h.svc.Readiness {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			ready = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

type paymentWindowResponse struct {
	Status        string           `json:"status"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	PaymentDueAt  *time.Time       `json:"payment_due_at,omitempty"`
	CurrentWinner bool             `json:"current_winner"`
}

// getPaymentWindow lets clients poll who may pay
func (h *Handler) getPaymentWindow(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}

	outcome, err := h.svc.Settlement.ResolvePaymentWindow(c.Request.Context(), auctionID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := paymentWindowResponse{}
	switch {
	case outcome.Status == service.OutcomeAuctionNotEnded:
		resp.Status = "not_ended"
	case outcome.Status == service.OutcomeAlreadyPaid:
		resp.Status = "paid"
	case outcome.Candidate == nil:
		resp.Status = "closed_unsold"
	default:
		resp.Status = "awaiting_payment"
		resp.Amount = &outcome.Candidate.Amount
		resp.PaymentDueAt = outcome.PaymentDueAt
		if callerID, ok := callerIDHeader(c); ok {
			resp.CurrentWinner = callerID == outcome.Candidate.BidderID
		}
	}
	c.JSON(http.StatusOK, resp)
}

// initPayment returns a payment intent for the caller
func (h *Handler) initPayment(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	callerID, ok := callerIDHeader(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
		return
	}

	result, err := h.svc.Settlement.InitPayment(c.Request.Context(), auctionID, callerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result.Intent == nil {
		h.writeRejection(c, result.Reason)
		return
	}
	c.JSON(http.StatusCreated, result.Intent)
}

type verifyPaymentRequest struct {
	BidID     int64           `json:"bid_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" binding:"required"`
}

// verifyPayment is called by the client after the gateway redirect
func (h *Handler) verifyPayment(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	callerID, ok := callerIDHeader(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing caller identity"})
		return
	}

	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.commit(c, service.CommitRequest{
		AuctionID:         auctionID,
		BidID:             req.BidID,
		BidderID:          callerID,
		Amount:            req.Amount,
		ExternalReference: req.Reference,
	})
}

type closeAuctionRequest struct {
	BidID     int64           `json:"bid_id"`
	BidderID  int64           `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

// closeAuction is the manual close trigger. Without a payment reference it
// only advances the window; with one it settles the auction.
func (h *Handler) closeAuction(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}

	var req closeAuctionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	if req.Reference == "" {
		h.getPaymentWindow(c)
		return
	}

	h.commit(c, service.CommitRequest{
		AuctionID:         auctionID,
		BidID:             req.BidID,
		BidderID:          req.BidderID,
		Amount:            req.Amount,
		ExternalReference: req.Reference,
	})
}

type paymentWebhookRequest struct {
	AuctionID int64           `json:"auction_id" binding:"required"`
	BidID     int64           `json:"bid_id" binding:"required"`
	BidderID  int64           `json:"bidder_id" binding:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" binding:"required"`
	Status    string          `json:"status" binding:"required,oneof=paid failed"`
}

// paymentWebhook receives gateway callbacks; it may be retried many times
func (h *Handler) paymentWebhook(c *gin.Context) {
	var req paymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.Status != "paid" {
		h.logger.Info("Ignoring unsuccessful payment callback",
			zap.Int64("auction_id", req.AuctionID),
			zap.String("reference", req.Reference))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	h.commit(c, service.CommitRequest{
		AuctionID:         req.AuctionID,
		BidID:             req.BidID,
		BidderID:          req.BidderID,
		Amount:            req.Amount,
		ExternalReference: req.Reference,
	})
}

func (h *Handler) commit(c *gin.Context, req service.CommitRequest) {
	result, err := h.svc.Committer.CommitPayment(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !result.Succeeded() {
		h.writeRejection(c, result.Reason)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": result.Status})
}

// dispatchNotifications runs one dispatch cycle on demand
func (h *Handler) dispatchNotifications(c *gin.Context) {
	stats, err := h.svc.Dispatcher.DispatchBatch(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// requeueNotification moves a failed job back to the queue
func (h *Handler) requeueNotification(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.svc.Queue.Requeue(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotificationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		case errors.Is(err, service.ErrNotRequeueable):
			c.JSON(http.StatusConflict, gin.H{"error": "Only failed notifications can be requeued"})
		default:
			h.writeError(c, err)
		}
		return
	}
	c.JSON(http.StatusAccepted, job)
}

type accountCreatedRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Name   string `json:"name" binding:"required,max=64"`
}

// accountCreated queues the welcome message for a new user
func (h *Handler) accountCreated(c *gin.Context) {
	var req accountCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	h.svc.Accounts.AccountCreated(c.Request.Context(), req.UserID, req.Name)
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// writeRejection maps a rejection to the coarse message users see
func (h *Handler) writeRejection(c *gin.Context, reason service.RejectReason) {
	status := http.StatusConflict
	var message string
	switch reason {
	case service.RejectMissingReference:
		status = http.StatusBadRequest
		message = "payment reference is required"
	case service.RejectAuctionNotEnded:
		message = "auction has not ended"
	case service.RejectNoActiveCandidate:
		message = "payment window expired"
	case service.RejectNotCurrentWinner:
		message = "you are not the current winner"
	case service.RejectAmountMismatch:
		status = http.StatusUnprocessableEntity
		message = "payment amount does not match the winning bid"
	case service.RejectAlreadyPaid, service.RejectPaidByOther:
		message = "payment already received"
	default:
		message = "payment cannot be accepted"
	}
	c.JSON(status, gin.H{"error": message, "reason": reason})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAuctionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Auction not found"})
	case errors.Is(err, service.ErrPersistence):
		h.logger.Error("Storage unavailable", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Temporarily unavailable, please retry"})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func auctionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid auction ID"})
		return 0, false
	}
	return id, true
}

func callerIDHeader(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader(userIDHeader), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
