package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pickup-service/internal/models"
	"pickup-service/internal/scan"
	"pickup-service/internal/service"
	"pickup-service/internal/session"
	"pickup-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	merchantHeader    = "X-Merchant-ID"
	idempotencyHeader = "Idempotency-Key"
	merchantKey       = "merchant_id"
)

// Stations drives per-station redemption sessions
type Stations interface {
	Get(ctx context.Context, stationID, merchantID string) (*session.Session, error)
	Scan(ctx context.Context, stationID, merchantID, raw string) (*session.Session, error)
	Toggle(ctx context.Context, stationID, merchantID, id string) (*session.Session, error)
	EnterPin(ctx context.Context, stationID, merchantID string) (*session.Session, error)
	Confirm(ctx context.Context, stationID, merchantID, pin, idempotencyKey string) (*session.Session, error)
	Recover(ctx context.Context, stationID, merchantID string) (*session.Session, error)
	Abort(ctx context.Context, stationID, merchantID string) (*session.Session, error)
}

// ReadinessCheck reports whether a dependency can serve traffic
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	pickup   service.PickupCore
	stations Stations
	checks   map[string]ReadinessCheck
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(pickup service.PickupCore, stations Stations, checks map[string]ReadinessCheck) *Handler {
	return &Handler{
		pickup:   pickup,
		stations: stations,
		checks:   checks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(h.requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", requireMerchant())
	{
		v1.POST("/scans", h.resolveScan)
		v1.GET("/reservations/:id/context", h.reservationContext)
		v1.GET("/beneficiaries/:id/baskets", h.suspendedBaskets)
		v1.POST("/redemptions", h.redeem)
		v1.POST("/beneficiaries/:id/claims", h.claimBaskets)

		stations := v1.Group("/stations/:station")
		{
			stations.GET("", h.getStation)
			stations.POST("/scan", h.stationScan)
			stations.POST("/toggle", h.stationToggle)
			stations.POST("/pin", h.stationEnterPin)
			stations.POST("/confirm", h.stationConfirm)
			stations.POST("/recover", h.stationRecover)
			stations.POST("/abort", h.stationAbort)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failing[name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not_ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type scanRequest struct {
	Raw string `json:"raw"`
}

// resolveScan classifies a scanned string without touching any session
func (h *Handler) resolveScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	intent, err := h.pickup.ResolveScan(c.Request.Context(), req.Raw)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent)
}

func (h *Handler) reservationContext(c *gin.Context) {
	ref := scan.ReservationRef{ReservationID: c.Param("id")}
	rc, err := h.pickup.LoadReservationContext(c.Request.Context(), ref, c.GetString(merchantKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (h *Handler) suspendedBaskets(c *gin.Context) {
	set, err := h.pickup.LoadSuspendedBaskets(c.Request.Context(), c.Param("id"), c.GetString(merchantKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, set)
}

// redeem handles a confirmed reservation selection
func (h *Handler) redeem(c *gin.Context) {
	var req service.RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.MerchantID = c.GetString(merchantKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader(idempotencyHeader)
	}

	result, err := h.pickup.Redeem(c.Request.Context(), req)
	h.writeResult(c, result, err)
}

// claimBaskets handles a beneficiary's confirmed basket selection
func (h *Handler) claimBaskets(c *gin.Context) {
	var req service.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.MerchantID = c.GetString(merchantKey)
	req.BeneficiaryID = c.Param("id")

	result, err := h.pickup.ClaimAndRedeemBaskets(c.Request.Context(), req)
	h.writeResult(c, result, err)
}

func (h *Handler) writeResult(c *gin.Context, result models.RedemptionResult, err error) {
	var batchErr *models.BatchError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.As(err, &batchErr):
		c.JSON(http.StatusMultiStatus, gin.H{
			"error":   models.ErrorCode(err),
			"details": err.Error(),
			"result":  result,
		})
	default:
		writeError(c, err)
	}
}

func (h *Handler) getStation(c *gin.Context) {
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.Get(ctx, station, merchant)
	})
}

func (h *Handler) stationScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.Scan(ctx, station, merchant, req.Raw)
	})
}

type toggleRequest struct {
	ID string `json:"id" binding:"required"`
}

func (h *Handler) stationToggle(c *gin.Context) {
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.Toggle(ctx, station, merchant, req.ID)
	})
}

func (h *Handler) stationEnterPin(c *gin.Context) {
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.EnterPin(ctx, station, merchant)
	})
}

type confirmRequest struct {
	Pin string `json:"pin"`
}

func (h *Handler) stationConfirm(c *gin.Context) {
	var req confirmRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	key := c.GetHeader(idempotencyHeader)
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.Confirm(ctx, station, merchant, req.Pin, key)
	})
}

func (h *Handler) stationRecover(c *gin.Context) {
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.Recover(ctx, station, merchant)
	})
}

func (h *Handler) stationAbort(c *gin.Context) {
	h.station(c, func(ctx context.Context, station, merchant string) (*session.Session, error) {
		return h.stations.Abort(ctx, station, merchant)
	})
}

func (h *Handler) station(c *gin.Context, fn func(ctx context.Context, station, merchant string) (*session.Session, error)) {
	sess, err := fn(c.Request.Context(), c.Param("station"), c.GetString(merchantKey))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// requireMerchant rejects requests that do not name the scanning merchant
func requireMerchant() gin.HandlerFunc {
	return func(c *gin.Context) {
		merchantID := c.GetHeader(merchantHeader)
		if merchantID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"details": merchantHeader + " header is required",
			})
			return
		}
		c.Set(merchantKey, merchantID)
		c.Next()
	}
}

// requestLogger logs each request through zap
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if merchantID := c.GetString(merchantKey); merchantID != "" {
			fields = append(fields, zap.String("merchant_id", merchantID))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
			h.logger.Error("Request failed", fields...)
			return
		}
		h.logger.Info("Request handled", fields...)
	}
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
