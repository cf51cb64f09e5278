package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"pickup-order-service/internal/models"
	"pickup-order-service/internal/payment"
	"pickup-order-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxWebhookBody = 64 << 10

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Options configures the HTTP surface
type Options struct {
	JWTSecret         string
	Limiter           RateLimiter
	BookingRateLimit  int
	BookingRateWindow time.Duration
	ReadinessChecks   map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	reconciler   *service.Reconciler
	opts         Options
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, reconciler *service.Reconciler, opts Options) *Handler {
	return &Handler{
		orderService: orderService,
		reconciler:   reconciler,
		opts:         opts,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payments", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	v1.Use(ActorMiddleware(h.opts.JWTSecret))
	{
		v1.POST("/orders",
			rateLimitMiddleware(h.opts.Limiter, "booking", h.opts.BookingRateLimit, h.opts.BookingRateWindow),
			h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/events", h.orderEvents)
		v1.GET("/orders/:id/modifications", h.orderModifications)
		v1.GET("/orders/:id/options", h.orderOptions)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/reschedule", h.rescheduleOrder)
		v1.POST("/orders/:id/transitions", h.transitionOrder)
		v1.POST("/orders/:id/quote", h.updateQuote)
		v1.POST("/orders/:id/quote/proposal", h.proposeQuote)
		v1.POST("/orders/:id/quote/approve", h.approveQuote)

		v1.GET("/slots", h.availableSlots)
		v1.GET("/policies/terms", h.cancelTerms)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency check fails
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.opts.ReadinessChecks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder books an order. A replayed idempotency key answers 200 with
// the original order.
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	actor := actorFrom(c)
	if req.CustomerID == "" && actor.Role == models.RoleCustomer {
		req.CustomerID = actor.ID
	}

	order, created, err := h.orderService.CreateOrder(c.Request.Context(), &req, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, order)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) orderEvents(c *gin.Context) {
	events, err := h.orderService.OrderEvents(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) orderModifications(c *gin.Context) {
	mods, err := h.orderService.OrderModifications(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modifications": mods})
}

// orderOptions tells the customer what they may do and what it costs
func (h *Handler) orderOptions(c *gin.Context) {
	ev, err := h.orderService.EvaluateOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req reasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := h.orderService.CancelOrder(c.Request.Context(), c.Param("id"), req.Reason, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) rescheduleOrder(c *gin.Context) {
	var req service.RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.orderService.RescheduleOrder(c.Request.Context(), c.Param("id"), &req, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type transitionRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
	Reason string             `json:"reason"`
}

func (h *Handler) transitionOrder(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.orderService.TransitionOrder(c.Request.Context(), c.Param("id"), req.Status, req.Reason, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateQuote(c *gin.Context) {
	var req service.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.orderService.UpdateQuote(c.Request.Context(), c.Param("id"), req, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type proposalRequest struct {
	QuoteCents int64 `json:"quote_cents" binding:"required"`
}

func (h *Handler) proposeQuote(c *gin.Context) {
	var req proposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.orderService.ProposeQuote(c.Request.Context(), c.Param("id"), req.QuoteCents, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type approveRequest struct {
	NotifyCustomer bool `json:"notify_customer"`
}

func (h *Handler) approveQuote(c *gin.Context) {
	var req approveRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	res, err := h.orderService.ApproveQuote(c.Request.Context(), c.Param("id"), req.NotifyCustomer, actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// availableSlots lists bookable slots: ?service_type=LAUNDRY&zip=94107&date=2026-06-10
func (h *Handler) availableSlots(c *gin.Context) {
	st := models.ServiceType(c.Query("service_type"))
	zip, date := c.Query("zip"), c.Query("date")
	if zip == "" || date == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service_type, zip and date are required"})
		return
	}
	slots, err := h.orderService.AvailableSlots(c.Request.Context(), st, zip, date)
	if err != nil {
		writeError(c, err)
		return
	}
	if slots == nil {
		slots = []models.SlotAvailability{}
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

func (h *Handler) cancelTerms(c *gin.Context) {
	text, policies, err := h.orderService.CancelTerms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terms": text, "policies": policies})
}

// paymentWebhook ingests one provider event. The raw body is verified
// before it is parsed.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.reconciler.Ingest(c.Request.Context(), payload, c.GetHeader(payment.SignatureHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
